// Package pipeline drives the parallel fetch, parse and persist run over the
// name listings.
//
// An Orchestrator owns a bounded worker pool. Workers fetch and parse one
// listing page each and hand the result back over a channel; a single
// consumer applies results in completion order, appending records to the
// sink before marking the page complete in the progress tracker.
//
// Example usage:
//
//	orch, err := pipeline.New(cfg, fetch, parse, tracker, sinks,
//		pipeline.WithLogger(logger))
//	summary, err := orch.Run(ctx, []model.Category{model.Male, model.Female})
//
// Per run and category the orchestrator:
//   - Seeds page indices (1..MaxPages in bounded mode, 1..known total otherwise)
//   - Skips pages already complete from an earlier run
//   - Extends enumeration while pages report more pages remain
//   - Never enumerates past a page that reported it is the last one
//   - Retries failed pages after a delay, then reports what is still missing
//
// Page failures never abort a run. A run aborts only when it is cancelled or
// when a batch cannot be written to any sink.
package pipeline
