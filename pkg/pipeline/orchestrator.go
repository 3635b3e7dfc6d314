package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/names-scraper/pkg/fetcher"
	"github.com/Sternrassler/names-scraper/pkg/logging"
	"github.com/Sternrassler/names-scraper/pkg/model"
	"github.com/Sternrassler/names-scraper/pkg/parser"
	"github.com/Sternrassler/names-scraper/pkg/sink"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrAborted is returned by Run when the run did not reach DONE for every
// category. The returned summary is still complete.
var ErrAborted = errors.New("run aborted")

// Failure reasons recorded for pages.
const (
	ReasonParse     = "parse"
	ReasonSink      = "sink"
	ReasonCancelled = string(fetcher.KindCancelled)
	reasonUnknown   = "error"
)

// PageFetcher retrieves one listing page.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// PageParser extracts the records of one listing page.
type PageParser interface {
	Parse(content []byte, cat model.Category) (parser.Result, error)
}

// Tracker records completed pages. It is satisfied by *progress.Tracker.
type Tracker interface {
	IsComplete(task model.PageTask) bool
	MarkComplete(task model.PageTask, records int) bool
	SetTotalPages(cat model.Category, total int)
	TotalPages(cat model.Category) int
	Flush(ctx context.Context) error
}

// Sink persists record batches. It is satisfied by *sink.MultiSink.
type Sink interface {
	Append(ctx context.Context, records []model.Record) error
	Close() error
}

type sinkReporter interface {
	Report() []sink.FormatReport
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithRunID sets the run id instead of a random one.
func WithRunID(id string) Option {
	return func(o *Orchestrator) { o.runID = id }
}

// WithClock replaces time.Now for summary timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs the worker pool for one scrape. An Orchestrator is built
// per run; Run must not be called concurrently.
type Orchestrator struct {
	cfg     Config
	fetcher PageFetcher
	parser  PageParser
	tracker Tracker
	sink    Sink
	logger  zerolog.Logger
	runID   string
	now     func() time.Time
}

// New creates an orchestrator. Tracker progress must already be loaded.
func New(cfg Config, f PageFetcher, p PageParser, t Tracker, s Sink, opts ...Option) (*Orchestrator, error) {
	switch {
	case f == nil:
		return nil, errors.New("pipeline: fetcher is required")
	case p == nil:
		return nil, errors.New("pipeline: parser is required")
	case t == nil:
		return nil, errors.New("pipeline: tracker is required")
	case s == nil:
		return nil, errors.New("pipeline: sink is required")
	}

	o := &Orchestrator{
		cfg:     cfg.normalize(),
		fetcher: f,
		parser:  p,
		tracker: t,
		sink:    s,
		logger:  log.With().Str("component", "pipeline").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	o.logger = logging.WithRun(o.logger, o.runID)
	return o, nil
}

// RunID returns the id of the run.
func (o *Orchestrator) RunID() string {
	return o.runID
}

type job struct {
	task model.PageTask
	url  string
}

type outcome struct {
	task     model.PageTask
	result   parser.Result
	err      error
	reason   string
	workerID int
	duration time.Duration
}

// Run scrapes categories until every category is DONE, the context is
// cancelled, or no sink can accept a batch. Progress is flushed and the sink
// closed before Run returns, whatever the outcome.
func (o *Orchestrator) Run(ctx context.Context, categories []model.Category) (*Summary, error) {
	started := o.now()
	r := newRun(o)

	if err := r.init(categories); err != nil {
		o.logger.Error().Err(err).Msg("Run aborted before dispatch")
		r.fatal = err
		for _, cr := range r.cats {
			cr.summary.State = StateAborted
		}
	} else {
		o.logger.Info().
			Str("mode", o.cfg.Mode()).
			Int("workers", o.cfg.Workers).
			Int("max_pages", o.cfg.MaxPages).
			Int("categories", len(r.order)).
			Msg("Starting run")
		r.execute(ctx)
	}

	finishErr := r.finish(ctx)
	summary := r.summary(started, o.now())
	summary.Log(o.logger)

	var runErr error
	switch {
	case r.fatal != nil:
		runErr = fmt.Errorf("%w: %w", ErrAborted, r.fatal)
	case r.stopping:
		runErr = fmt.Errorf("%w: %w", ErrAborted, r.cause)
	}
	if runErr != nil {
		summary.Aborted = true
		summary.AbortReason = runErr.Error()
	}
	return summary, errors.Join(runErr, finishErr)
}

func (o *Orchestrator) worker(ctx context.Context, id int, jobs <-chan job, results chan<- outcome, wg *sync.WaitGroup) {
	defer wg.Done()
	processed := 0

	for j := range jobs {
		out := o.process(ctx, j)
		out.workerID = id
		results <- out
		processed++
	}

	if processed > 0 {
		o.logger.Debug().
			Int("worker_id", id).
			Int("pages_processed", processed).
			Msg("Worker completed")
	}
}

func (o *Orchestrator) process(ctx context.Context, j job) outcome {
	start := time.Now()
	out := outcome{task: j.task}

	body, err := o.fetcher.Fetch(ctx, j.url)
	if err != nil {
		out.err, out.reason = err, failureReason(err)
		out.duration = time.Since(start)
		return out
	}

	res, err := o.parser.Parse(body, j.task.Category)
	out.duration = time.Since(start)
	if err != nil {
		out.err, out.reason = err, ReasonParse
		return out
	}
	out.result = res
	return out
}

func failureReason(err error) string {
	var fe *fetcher.FetchError
	switch {
	case errors.As(err, &fe):
		return string(fe.Kind)
	case errors.Is(err, parser.ErrMalformed):
		return ReasonParse
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCancelled
	default:
		return reasonUnknown
	}
}
