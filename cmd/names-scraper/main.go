// Command names-scraper builds the names dataset: it fetches every listing
// page, persists the records to the configured formats and can publish the
// result.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/Sternrassler/names-scraper/pkg/cache"
	"github.com/Sternrassler/names-scraper/pkg/config"
	"github.com/Sternrassler/names-scraper/pkg/fetcher"
	"github.com/Sternrassler/names-scraper/pkg/logging"
	"github.com/Sternrassler/names-scraper/pkg/metrics"
	"github.com/Sternrassler/names-scraper/pkg/model"
	"github.com/Sternrassler/names-scraper/pkg/parser"
	"github.com/Sternrassler/names-scraper/pkg/pipeline"
	"github.com/Sternrassler/names-scraper/pkg/progress"
	"github.com/Sternrassler/names-scraper/pkg/publish"
	"github.com/Sternrassler/names-scraper/pkg/ratelimit"
	"github.com/Sternrassler/names-scraper/pkg/sink"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Exit codes.
const (
	exitOK      = 0
	exitAborted = 1
	exitConfig  = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	configPath  string
	test        bool
	maxPages    int
	workers     int
	categories  string
	formats     string
	outputDir   string
	fresh       bool
	logLevel    string
	logPretty   bool
	metricsAddr string
	publish     string
}

func parseFlags(args []string, stderr io.Writer) (options, map[string]bool, error) {
	var opts options
	fs := flag.NewFlagSet("names-scraper", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.configPath, "config", os.Getenv("NAMES_CONFIG"), "path to the YAML configuration file")
	fs.BoolVar(&opts.test, "test", false, "bounded run over the first test_mode_pages pages of each category")
	fs.IntVar(&opts.maxPages, "max-pages", 0, "scrape at most this many pages per category (0 = all)")
	fs.IntVar(&opts.workers, "workers", 0, "number of concurrent workers")
	fs.StringVar(&opts.categories, "category", "", "comma separated categories (male, female)")
	fs.StringVar(&opts.formats, "formats", "", "comma separated output formats (csv, json, sqlite, postgres, xlsx); xlsx is only saved when the run ends")
	fs.StringVar(&opts.outputDir, "output", "", "output directory")
	fs.BoolVar(&opts.fresh, "fresh", false, "ignore and reset previously saved progress")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.BoolVar(&opts.logPretty, "log-pretty", false, "human readable log output")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.StringVar(&opts.publish, "publish", "", "publish target after a successful run (none, s3)")

	if err := fs.Parse(args); err != nil {
		return options{}, nil, err
	}
	if fs.NArg() > 0 {
		return options{}, nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return opts, set, nil
}

// applyFlags overrides cfg with the flags that were given on the command line.
func applyFlags(cfg config.Config, opts options, set map[string]bool) config.Config {
	if set["test"] {
		cfg.Scraper.TestMode = opts.test
	}
	if set["max-pages"] {
		cfg.Scraper.MaxPages = opts.maxPages
	}
	if set["workers"] {
		cfg.Scraper.Workers = opts.workers
	}
	if set["category"] {
		cfg.Scraper.Categories = config.SplitList(opts.categories)
	}
	if set["formats"] {
		cfg.Output.Formats = config.SplitList(opts.formats)
	}
	if set["output"] {
		cfg.Output.Dir = opts.outputDir
	}
	if set["fresh"] {
		cfg.Progress.Fresh = opts.fresh
	}
	if set["log-level"] {
		cfg.Logging.Level = opts.logLevel
	}
	if set["log-pretty"] {
		cfg.Logging.Pretty = opts.logPretty
	}
	if set["metrics-addr"] {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if set["publish"] {
		cfg.Publish.Target = opts.publish
	}
	return cfg.Normalize()
}

func loadConfig(args []string, stderr io.Writer) (config.Config, error) {
	opts, set, err := parseFlags(args, stderr)
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	cfg = applyFlags(cfg, opts, set)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := loadConfig(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "names-scraper: %v\n", err)
		return exitConfig
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
		Output: stderr,
	})

	categories, err := cfg.CategoryList()
	if err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		return exitConfig
	}

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Warn().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	deps, err := setup(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Setup failed")
		return exitAborted
	}
	defer deps.close()

	summary, runErr := deps.orchestrator.Run(ctx, categories)
	if summary != nil {
		path := cfg.OutputPath(cfg.Output.SummaryFile)
		if err := summary.WriteFile(path); err != nil {
			logger.Warn().Err(err).Msg("Could not write summary")
		}
		printSummary(stdout, summary)
	}

	if errors.Is(runErr, pipeline.ErrAborted) {
		logger.Error().Err(runErr).Msg("Run aborted")
		return exitAborted
	}
	if runErr != nil {
		logger.Warn().Err(runErr).Msg("Run finished with errors")
	}

	if cfg.Publish.Target != config.PublishNone {
		publishDataset(ctx, cfg, deps, summary, logger)
	}
	return exitOK
}

// app holds everything built for one run.
type app struct {
	redis        *redis.Client
	sinks        *sink.MultiSink
	orchestrator *pipeline.Orchestrator
}

func (a *app) close() {
	if a.redis != nil {
		a.redis.Close()
	}
}

func setup(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{}

	needRedis := cfg.Progress.Backend == config.ProgressBackendRedis || cfg.Cache.Enabled
	if needRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			if cfg.Progress.Backend == config.ProgressBackendRedis {
				return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
			}
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, page cache disabled")
		} else {
			logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
			a.redis = client
		}
	}

	tracker, resumed, err := openTracker(ctx, cfg, a.redis, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	fetchOpts := []fetcher.Option{
		fetcher.WithLogger(logging.NewLogger("fetcher")),
		fetcher.WithLimiter(ratelimit.New(ratelimit.Config{
			RequestsPerSecond: cfg.Network.RequestsPerSecond,
			Burst:             cfg.Network.Burst,
		}, logging.NewLogger("ratelimit"))),
	}
	if cfg.Cache.Enabled && a.redis != nil {
		fetchOpts = append(fetchOpts, fetcher.WithCache(cache.NewManager(a.redis, cfg.Redis.KeyPrefix, cfg.Cache.TTL)))
	}
	fetch, err := fetcher.New(fetcher.Config{
		Retry: fetcher.RetryConfig{
			MaxAttempts:       cfg.Network.MaxRetries,
			InitialBackoff:    cfg.Network.BackoffFactor,
			MaxBackoff:        cfg.Network.MaxBackoff,
			BackoffMultiplier: 2,
		},
		Timeout:           cfg.Network.Timeout,
		MaxConnections:    cfg.Network.MaxConnections,
		RetryableStatuses: cfg.Network.RetryableStatuses,
		UserAgent:         cfg.Network.UserAgent,
		Headers:           cfg.Network.Headers,
	}, fetchOpts...)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create fetcher: %w", err)
	}

	parse, err := parser.New(cfg.BaseURL, parser.DefaultSelectors())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create parser: %w", err)
	}

	mode := sink.Truncate
	if resumed {
		mode = sink.Resume
	}
	a.sinks, err = sink.Open(ctx, cfg, mode, logging.NewLogger("sink"))
	if err != nil {
		a.close()
		return nil, err
	}

	a.orchestrator, err = pipeline.New(pipeline.FromConfig(cfg), fetch, parse, tracker, a.sinks,
		pipeline.WithLogger(logging.NewLogger("pipeline")))
	if err != nil {
		a.sinks.Close()
		a.close()
		return nil, err
	}
	return a, nil
}

// openTracker loads saved progress, or clears it for a fresh run. resumed
// reports whether any page was already complete.
func openTracker(ctx context.Context, cfg config.Config, client *redis.Client, logger zerolog.Logger) (*progress.Tracker, bool, error) {
	var store progress.Store
	switch cfg.Progress.Backend {
	case config.ProgressBackendRedis:
		store = progress.NewRedisStore(client, cfg.Redis.KeyPrefix)
	default:
		store = progress.NewFileStore(cfg.OutputPath(cfg.Progress.File))
	}

	tracker := progress.NewTracker(store, logging.NewLogger("progress"))
	if cfg.Progress.Fresh {
		if err := tracker.Reset(ctx); err != nil {
			return nil, false, err
		}
		return tracker, false, nil
	}

	state, err := tracker.Load(ctx)
	if err != nil {
		if errors.Is(err, progress.ErrCorrupt) {
			logger.Error().Msg("Saved progress is unreadable; rerun with -fresh to start over")
		}
		return nil, false, err
	}
	for _, cs := range state.Categories {
		if len(cs.CompletedPages) > 0 {
			return tracker, true, nil
		}
	}
	return tracker, false, nil
}

func publishDataset(ctx context.Context, cfg config.Config, a *app, summary *pipeline.Summary, logger zerolog.Logger) {
	var pub publish.Publisher
	switch cfg.Publish.Target {
	case config.PublishS3:
		client, err := publish.NewS3Client(ctx, cfg.Publish.Region, cfg.Publish.Endpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Publishing skipped")
			return
		}
		pub = publish.NewS3Publisher(client, cfg.Publish.Bucket, cfg.Publish.Prefix, logging.NewLogger("publish"))
	default:
		pub = publish.NopPublisher{Logger: logging.NewLogger("publish")}
	}

	artifacts := collectArtifacts(a.sinks.Artifacts())
	stats := publish.Stats{
		TotalRecords: summary.TotalRecords,
		Categories:   map[model.Category]int{},
		SourceURL:    cfg.BaseURL,
		GeneratedAt:  summary.FinishedAt,
	}
	for _, c := range summary.Categories {
		stats.Categories[c.Category] = c.Records
	}

	res, err := pub.Publish(ctx, artifacts, publish.Metadata{
		Title:       cfg.Publish.Title,
		Description: cfg.Publish.Description,
		Visibility:  cfg.Publish.Visibility,
		Tags:        cfg.Publish.Tags,
	}, stats)
	if err != nil {
		logger.Warn().Err(err).Msg("Publishing failed; the dataset is still available locally")
		return
	}
	logger.Info().Str("target", res.Target).Str("location", res.Location).Msg("Dataset published")
}

func collectArtifacts(files map[string]string) []publish.Artifact {
	artifacts := make([]publish.Artifact, 0, len(files))
	for format, path := range files {
		artifacts = append(artifacts, publish.Artifact{Format: format, Path: path})
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Format < artifacts[j].Format })
	return artifacts
}

func printSummary(w io.Writer, s *pipeline.Summary) {
	status := "completed"
	if s.Aborted {
		status = "aborted"
	}
	fmt.Fprintf(w, "Run %s %s in %s\n", s.RunID, status, s.Elapsed.Round(time.Millisecond))
	for _, c := range s.Categories {
		fmt.Fprintf(w, "  %-7s %-8s %5d pages  %6d records  %d skipped  %d failed\n",
			c.Category, c.State, c.PagesCompleted, c.Records, c.PagesSkipped, c.PagesFailed)
	}
	fmt.Fprintf(w, "  total   %d records\n", s.TotalRecords)
	for _, f := range s.FailedPages {
		fmt.Fprintf(w, "  failed  %s page %d (%s)\n", f.Category, f.Page, f.Reason)
	}
	for _, r := range s.Sinks {
		if r.Failed {
			fmt.Fprintf(w, "  %-7s FAILED: %s\n", r.Format, r.Error)
			continue
		}
		fmt.Fprintf(w, "  %-7s %s\n", r.Format, r.Path)
	}
}
