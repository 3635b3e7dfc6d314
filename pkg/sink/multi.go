package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Sternrassler/names-scraper/pkg/model"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// FormatReport summarises what one format received during a run.
type FormatReport struct {
	Format  string `json:"format"`
	Path    string `json:"path,omitempty"`
	Records int    `json:"records"`
	Batches int    `json:"batches"`
	Failed  bool   `json:"failed"`
	Error   string `json:"error,omitempty"`
}

type member struct {
	mu      sync.Mutex
	sink    Sink
	records int
	batches int
	err     error
}

// MultiSink fans each batch out to several sinks. A sink whose write fails is
// disabled for the rest of the run so every page that is reported as written
// is present in every sink that is still healthy. All methods are safe for
// concurrent use.
type MultiSink struct {
	members []*member
	logger  zerolog.Logger
}

// NewMultiSink wraps sinks. It takes ownership of them.
func NewMultiSink(logger zerolog.Logger, sinks ...Sink) *MultiSink {
	m := &MultiSink{logger: logger}
	for _, s := range sinks {
		m.members = append(m.members, &member{sink: s})
	}
	return m
}

// Append writes records to every healthy sink concurrently. It returns nil
// when at least one sink accepted the batch and ErrAllSinksFailed when none
// did.
func (m *MultiSink) Append(ctx context.Context, records []model.Record) error {
	valid := make([]model.Record, 0, len(records))
	for _, r := range records {
		if err := r.Validate(); err != nil {
			m.logger.Warn().Err(err).Str("name", r.DisplayName).Msg("Dropping invalid record")
			continue
		}
		valid = append(valid, r)
	}

	var (
		g     errgroup.Group
		errMu sync.Mutex
		errs  []error
		ok    int
	)
	for _, mb := range m.members {
		mb := mb
		g.Go(func() error {
			mb.mu.Lock()
			defer mb.mu.Unlock()

			if mb.err != nil {
				return nil
			}
			format := mb.sink.Format()
			if err := mb.sink.Append(ctx, valid); err != nil {
				mb.err = err
				sinkErrors.WithLabelValues(format).Inc()
				m.logger.Warn().Err(err).Str("format", format).Msg("Sink failed, disabling format")

				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
				return err
			}
			mb.records += len(valid)
			mb.batches++
			recordsAppended.WithLabelValues(format).Add(float64(len(valid)))

			errMu.Lock()
			ok++
			errMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if ok == 0 {
		if len(errs) == 0 {
			return ErrAllSinksFailed
		}
		return fmt.Errorf("%w: %w", ErrAllSinksFailed, errors.Join(errs...))
	}
	return nil
}

// Healthy returns the number of sinks that have not failed.
func (m *MultiSink) Healthy() int {
	n := 0
	for _, mb := range m.members {
		mb.mu.Lock()
		if mb.err == nil {
			n++
		}
		mb.mu.Unlock()
	}
	return n
}

// Report returns per-format counters.
func (m *MultiSink) Report() []FormatReport {
	reports := make([]FormatReport, 0, len(m.members))
	for _, mb := range m.members {
		mb.mu.Lock()
		r := FormatReport{
			Format:  mb.sink.Format(),
			Records: mb.records,
			Batches: mb.batches,
			Failed:  mb.err != nil,
		}
		if fs, ok := mb.sink.(FileSink); ok {
			r.Path = fs.Path()
		}
		if mb.err != nil {
			r.Error = mb.err.Error()
		}
		mb.mu.Unlock()
		reports = append(reports, r)
	}
	return reports
}

// Artifacts returns the files of sinks that completed without failure.
func (m *MultiSink) Artifacts() map[string]string {
	out := make(map[string]string)
	for _, r := range m.Report() {
		if !r.Failed && r.Path != "" {
			out[r.Format] = r.Path
		}
	}
	return out
}

// Close closes every sink, including failed ones.
func (m *MultiSink) Close() error {
	var errs []error
	for _, mb := range m.members {
		mb.mu.Lock()
		if err := mb.sink.Close(); err != nil {
			sinkErrors.WithLabelValues(mb.sink.Format()).Inc()
			if mb.err == nil {
				mb.err = err
			}
			errs = append(errs, err)
		}
		mb.mu.Unlock()
	}
	return errors.Join(errs...)
}
