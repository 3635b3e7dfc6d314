package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/names-scraper/pkg/model"
	"github.com/Sternrassler/names-scraper/pkg/parser"
)

// categoryRun is the mutable state of one category. It is only touched by
// the consumer goroutine.
type categoryRun struct {
	summary CategorySummary
	url     string

	// limit is the bounded-mode page cap; 0 in unbounded mode.
	limit int

	enumerated int

	// stopAt is the lowest page that reported no further pages; 0 if none did.
	stopAt int

	queued   int
	inflight int
	failures map[int]FailedPage

	// abandoned is set when an in-flight page was cut short by cancellation.
	abandoned bool
}

func (cr *categoryRun) cat() model.Category {
	return cr.summary.Category
}

type run struct {
	o     *Orchestrator
	cats  map[model.Category]*categoryRun
	order []model.Category

	pending  []model.PageTask
	inflight int

	completed  int
	sinceFlush int

	awaitingRetry bool
	stopping      bool
	cause         error
	fatal         error
}

func newRun(o *Orchestrator) *run {
	return &run{o: o, cats: make(map[model.Category]*categoryRun)}
}

func (r *run) init(categories []model.Category) error {
	var errs []error
	for _, cat := range categories {
		if _, dup := r.cats[cat]; dup {
			continue
		}
		cr := &categoryRun{
			summary:  CategorySummary{Category: cat, State: StatePending},
			limit:    r.o.cfg.MaxPages,
			failures: make(map[int]FailedPage),
		}
		r.cats[cat] = cr
		r.order = append(r.order, cat)

		if !cat.Valid() {
			errs = append(errs, fmt.Errorf("%w: %q", model.ErrUnknownCategory, cat))
			continue
		}
		u, err := r.o.cfg.listing(cat)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cr.url = u
	}
	if len(r.order) == 0 {
		errs = append(errs, errors.New("no categories to scrape"))
	}
	return errors.Join(errs...)
}

func (r *run) execute(ctx context.Context) {
	jobs := make(chan job)
	results := make(chan outcome, r.o.cfg.Workers)

	var wg sync.WaitGroup
	for i := 0; i < r.o.cfg.Workers; i++ {
		wg.Add(1)
		go r.o.worker(ctx, i, jobs, results, &wg)
	}

	for _, cat := range r.order {
		r.seed(r.cats[cat])
	}

	for pass := 1; ; pass++ {
		r.loop(ctx, jobs, results)
		// A cancellation after the last applied result is only an abort when
		// a retry pass is still owed.
		if r.stopping || pass > r.o.cfg.RetryFailedPasses || r.failureCount() == 0 {
			break
		}

		r.awaitingRetry = true
		if ctx.Err() != nil {
			r.stop(context.Cause(ctx))
		} else {
			r.o.logger.Info().
				Int("pass", pass).
				Int("failed_pages", r.failureCount()).
				Dur("delay", r.o.cfg.RetryDelay).
				Msg("Retrying failed pages")

			timer := time.NewTimer(r.o.cfg.RetryDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				r.stop(context.Cause(ctx))
			}
		}
		r.awaitingRetry = false
		if r.stopping {
			break
		}
		r.requeueFailures()
	}

	close(jobs)
	wg.Wait()
	close(results)
}

// loop dispatches pending tasks and applies results until nothing is pending
// or in flight. Sending is only attempted while a task is pending, so the
// consumer never blocks on workers that are themselves waiting to deliver.
func (r *run) loop(ctx context.Context, jobs chan<- job, results <-chan outcome) {
	done := ctx.Done()
	for r.inflight > 0 || (!r.stopping && len(r.pending) > 0) {
		var (
			send chan<- job
			next job
		)
		if !r.stopping && len(r.pending) > 0 {
			send = jobs
			next = job{task: r.pending[0], url: r.cats[r.pending[0].Category].url}
		}

		select {
		case send <- next:
			r.pending = r.pending[1:]
			r.dispatched(next.task)
		case out := <-results:
			r.apply(ctx, out)
		case <-done:
			done = nil
			r.stop(context.Cause(ctx))
		}
	}
}

func (r *run) seed(cr *categoryRun) {
	cr.summary.State = StateEnumerating

	target := cr.limit
	if target == 0 {
		cr.summary.TotalPages = r.o.tracker.TotalPages(cr.cat())
		target = max(1, cr.summary.TotalPages)
	}
	r.enumerateTo(cr, target)

	r.o.logger.Debug().
		Str("category", string(cr.cat())).
		Int("enumerated", cr.enumerated).
		Int("queued", cr.queued).
		Int("skipped", cr.summary.PagesSkipped).
		Msg("Category enumerated")
}

// enumerateTo adds pages up to target, clamped to the bounded cap and to the
// last page. Already complete pages are skipped; in unbounded mode with an
// unknown page count a skipped final page extends enumeration like a page
// reporting more pages.
func (r *run) enumerateTo(cr *categoryRun, target int) {
	if r.stopping {
		return
	}
	for {
		if cr.limit > 0 && target > cr.limit {
			target = cr.limit
		}
		if cr.stopAt > 0 && target > cr.stopAt {
			target = cr.stopAt
		}

		extend := false
		for p := cr.enumerated + 1; p <= target; p++ {
			cr.enumerated = p
			task := model.PageTask{Category: cr.cat(), Page: p}
			if r.o.tracker.IsComplete(task) {
				cr.summary.PagesSkipped++
				pagesSkipped.WithLabelValues(string(cr.cat())).Inc()
				extend = p == target && cr.limit == 0 && cr.summary.TotalPages == 0
				continue
			}
			r.pending = append(r.pending, task)
			cr.queued++
		}

		if !extend {
			return
		}
		target++
	}
}

func (r *run) dispatched(task model.PageTask) {
	cr := r.cats[task.Category]
	cr.queued--
	cr.inflight++
	r.inflight++

	if !cr.summary.State.Terminal() {
		cr.summary.State = StateDispatched
		if cr.queued == 0 {
			cr.summary.State = StateDraining
		}
	}
	r.o.logger.Debug().Str("category", string(task.Category)).Int("page", task.Page).Msg("Page dispatched")
}

func (r *run) apply(ctx context.Context, out outcome) {
	cr := r.cats[out.task.Category]
	cr.inflight--
	r.inflight--

	if out.err != nil {
		r.fail(cr, out)
		return
	}

	records := out.result.Records
	if len(records) > 0 {
		if err := r.o.sink.Append(context.WithoutCancel(ctx), records); err != nil {
			r.o.logger.Error().
				Err(err).
				Str("category", string(out.task.Category)).
				Int("page", out.task.Page).
				Int("records", len(records)).
				Msg("Batch could not be persisted")
			r.recordFailure(cr, out.task, ReasonSink, err)
			if r.fatal == nil {
				r.fatal = err
			}
			r.stop(err)
			return
		}
	}

	if r.o.tracker.MarkComplete(out.task, len(records)) {
		cr.summary.PagesCompleted++
		cr.summary.Records += len(records)
		pagesCompleted.WithLabelValues(string(out.task.Category)).Inc()
	}
	delete(cr.failures, out.task.Page)

	r.o.logger.Debug().
		Str("category", string(out.task.Category)).
		Int("page", out.task.Page).
		Int("records", len(records)).
		Int("worker_id", out.workerID).
		Dur("duration", out.duration).
		Msg("Page persisted")

	r.completed++
	r.sinceFlush++
	if r.sinceFlush >= r.o.cfg.SaveInterval {
		r.flush(ctx)
	}
	if n := r.o.cfg.ProgressLogEvery; n > 0 && r.completed%n == 0 {
		r.logProgress()
	}

	r.extend(cr, out.task.Page, out.result)
}

func (r *run) extend(cr *categoryRun, page int, res parser.Result) {
	if res.TotalPages > 0 {
		r.o.tracker.SetTotalPages(cr.cat(), res.TotalPages)
		cr.summary.TotalPages = res.TotalPages
	}

	if !res.HasMore {
		if cr.stopAt == 0 || page < cr.stopAt {
			cr.stopAt = page
			if res.TotalPages == 0 {
				r.o.tracker.SetTotalPages(cr.cat(), page)
				cr.summary.TotalPages = page
			}
			r.prune(cr)
		}
		return
	}

	if cr.limit > 0 {
		return
	}
	target := page + 1
	if res.TotalPages > target {
		target = res.TotalPages
	}
	r.enumerateTo(cr, target)
}

// prune drops queued pages and failures past the last page of cr.
func (r *run) prune(cr *categoryRun) {
	kept := r.pending[:0]
	for _, t := range r.pending {
		if t.Category == cr.cat() && t.Page > cr.stopAt {
			cr.queued--
			continue
		}
		kept = append(kept, t)
	}
	r.pending = kept

	for p := range cr.failures {
		if p > cr.stopAt {
			delete(cr.failures, p)
		}
	}
}

func (r *run) fail(cr *categoryRun, out outcome) {
	logger := r.o.logger.With().
		Str("category", string(out.task.Category)).
		Int("page", out.task.Page).
		Str("reason", out.reason).
		Logger()

	if out.reason == ReasonCancelled {
		cr.abandoned = true
		logger.Debug().Msg("Page abandoned")
		return
	}
	if cr.stopAt > 0 && out.task.Page > cr.stopAt {
		logger.Debug().Err(out.err).Msg("Ignoring failure past the last page")
		return
	}

	logger.Warn().Err(out.err).Int("worker_id", out.workerID).Msg("Page failed")
	r.recordFailure(cr, out.task, out.reason, out.err)
}

func (r *run) recordFailure(cr *categoryRun, task model.PageTask, reason string, err error) {
	cr.failures[task.Page] = FailedPage{
		Category: task.Category,
		Page:     task.Page,
		Reason:   reason,
		Error:    err.Error(),
	}
	pagesFailed.WithLabelValues(string(task.Category), reason).Inc()
}

func (r *run) failureCount() int {
	n := 0
	for _, cr := range r.cats {
		n += len(cr.failures)
	}
	return n
}

func (r *run) requeueFailures() {
	for _, cat := range r.order {
		cr := r.cats[cat]
		for p := 1; p <= cr.enumerated; p++ {
			if _, failed := cr.failures[p]; !failed {
				continue
			}
			r.pending = append(r.pending, model.PageTask{Category: cat, Page: p})
			cr.queued++
		}
	}
}

// stop ends dispatching. Categories with work left become ABORTED.
func (r *run) stop(cause error) {
	if r.stopping {
		return
	}
	r.stopping = true
	r.cause = cause

	for _, cr := range r.cats {
		unfinished := cr.queued > 0 || cr.inflight > 0 || cr.abandoned ||
			(r.awaitingRetry && len(cr.failures) > 0)
		if unfinished {
			cr.summary.State = StateAborted
		}
		cr.queued = 0
	}
	r.pending = nil

	r.o.logger.Warn().
		AnErr("cause", cause).
		Int("in_flight", r.inflight).
		Msg("Stopping dispatch")
}

func (r *run) flush(ctx context.Context) {
	r.sinceFlush = 0
	if err := r.o.tracker.Flush(context.WithoutCancel(ctx)); err != nil {
		r.o.logger.Warn().Err(err).Msg("Progress flush failed")
	}
}

func (r *run) logProgress() {
	ev := r.o.logger.Info().
		Int("pages_completed", r.completed).
		Int("pending", len(r.pending)).
		Int("in_flight", r.inflight).
		Int("failed", r.failureCount())
	for _, cat := range r.order {
		cr := r.cats[cat]
		ev = ev.Int(string(cat)+"_records", cr.summary.Records)
	}
	ev.Msg("Scrape progress")
}

// finish flushes progress and closes the sink. It runs on every exit path.
func (r *run) finish(ctx context.Context) error {
	var errs []error
	if err := r.o.tracker.Flush(context.WithoutCancel(ctx)); err != nil {
		r.o.logger.Error().Err(err).Msg("Final progress flush failed")
		errs = append(errs, fmt.Errorf("final progress flush: %w", err))
	}
	if err := r.o.sink.Close(); err != nil {
		r.o.logger.Warn().Err(err).Msg("Closing sinks failed")
		errs = append(errs, fmt.Errorf("close sinks: %w", err))
	}

	for _, cr := range r.cats {
		if cr.summary.State != StateAborted {
			cr.summary.State = StateDone
		}
	}
	return errors.Join(errs...)
}

func (r *run) summary(started, finished time.Time) *Summary {
	s := &Summary{
		RunID:       r.o.runID,
		Mode:        r.o.cfg.Mode(),
		StartedAt:   started,
		FinishedAt:  finished,
		Elapsed:     finished.Sub(started),
		FailedPages: []FailedPage{},
	}
	s.ElapsedSeconds = s.Elapsed.Seconds()

	for _, cat := range r.order {
		cr := r.cats[cat]
		cs := cr.summary
		cs.PagesFailed = len(cr.failures)
		s.Categories = append(s.Categories, cs)
		s.TotalRecords += cs.Records
		for _, f := range cr.failures {
			s.FailedPages = append(s.FailedPages, f)
		}
	}
	s.sortFailures()

	if rep, ok := r.o.sink.(sinkReporter); ok {
		s.Sinks = rep.Report()
	}
	return s
}
