// Package sink persists batches of name records to the configured output
// formats.
//
// Every concrete sink writes one batch per Append call and is not safe for
// concurrent use on its own. MultiSink owns the concrete sinks for a run,
// serializes access to each of them and isolates their failures from each
// other.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/names-scraper/pkg/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrWriteFailed is matched by every SinkError.
	ErrWriteFailed = errors.New("sink write failed")

	// ErrAllSinksFailed is returned when a batch could not be written to any
	// format. No durable copy of that batch exists.
	ErrAllSinksFailed = errors.New("all sinks failed")

	// ErrNoSinks is returned by Open when no format could be opened.
	ErrNoSinks = errors.New("no sink could be opened")

	// ErrClosed is returned when appending to a closed sink.
	ErrClosed = errors.New("sink closed")
)

// Sink appends record batches to one output format.
type Sink interface {
	// Format names the output format, e.g. "csv".
	Format() string

	// Append writes records as one batch.
	Append(ctx context.Context, records []model.Record) error

	// Close flushes and releases the underlying resource.
	Close() error
}

// FileSink is implemented by sinks that write a local file.
type FileSink interface {
	Sink
	Path() string
}

// Mode selects how a file sink treats an existing output file.
type Mode int

const (
	// Truncate starts the file over.
	Truncate Mode = iota

	// Resume keeps the records already in the file and appends after them.
	// It is used when a run continues from saved progress, whose completed
	// pages are not written again.
	Resume
)

// SinkError is a failure of a single format.
type SinkError struct {
	Format string
	Op     string
	Err    error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s: %s: %v", e.Format, e.Op, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// Is matches ErrWriteFailed.
func (e *SinkError) Is(target error) bool {
	return target == ErrWriteFailed
}

func wrapErr(format, op string, err error) error {
	if err == nil {
		return nil
	}
	return &SinkError{Format: format, Op: op, Err: err}
}

var (
	recordsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "names_records_appended_total",
		Help: "Total number of records appended by format",
	}, []string{"format"})

	sinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "names_sink_errors_total",
		Help: "Total number of failed sink operations by format",
	}, []string{"format"})
)
