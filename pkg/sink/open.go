package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/names-scraper/pkg/config"
	"github.com/rs/zerolog"
)

// Open builds a MultiSink for every configured format. Formats that cannot be
// opened are logged and left out; Open fails only when none could be opened.
// mode applies to every format: Truncate starts each output over, Resume keeps
// what earlier runs wrote.
func Open(ctx context.Context, cfg config.Config, mode Mode, logger zerolog.Logger) (*MultiSink, error) {
	var (
		sinks []Sink
		errs  []error
	)
	for _, format := range cfg.Output.Formats {
		s, err := openFormat(ctx, cfg, format, mode)
		if err != nil {
			logger.Warn().Err(err).Str("format", format).Msg("Could not open sink")
			errs = append(errs, err)
			continue
		}
		logger.Debug().Str("format", format).Msg("Sink opened")
		sinks = append(sinks, s)
	}

	if len(sinks) == 0 {
		if len(errs) == 0 {
			return nil, ErrNoSinks
		}
		return nil, fmt.Errorf("%w: %w", ErrNoSinks, errors.Join(errs...))
	}
	return NewMultiSink(logger, sinks...), nil
}

func openFormat(ctx context.Context, cfg config.Config, format string, mode Mode) (Sink, error) {
	switch format {
	case config.FormatCSV:
		return NewCSVSink(cfg.OutputPath(cfg.Output.CSVFile), mode)
	case config.FormatJSON:
		return NewJSONSink(cfg.OutputPath(cfg.Output.JSONFile), mode)
	case config.FormatSQLite:
		return OpenSQLite(ctx, cfg.OutputPath(cfg.Output.SQLiteFile), mode)
	case config.FormatPostgres:
		return OpenPostgres(ctx, cfg.Output.PostgresDSN, mode)
	case config.FormatXLSX:
		return NewXLSXSink(cfg.OutputPath(cfg.Output.XLSXFile), mode)
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}
