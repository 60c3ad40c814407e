package feed

import (
	"fmt"
	"time"
)

// Outcome is the terminal classification of a feed.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomePartialTimeout Outcome = "partial_timeout"
	OutcomeProcessDied    Outcome = "process_died"
	OutcomeIOError        Outcome = "io_error"
	OutcomeQueryError     Outcome = "query_error"
	OutcomeCanceled       Outcome = "canceled"
)

// Liveness answers whether the consuming process is still running.
type Liveness interface {
	IsAlive() (bool, error)
}

//go:generate mockgen -destination=mocks/mock_feed.go -package=mocks github.com/mattjoyce/pipefeed/internal/feed Channel,Liveness

// Channel is the write side of a bounded pipe plus a query into its buffer.
type Channel interface {
	Capacity() (int, error)
	Pending() (int, error)
	Write(p []byte) (int, error)
	WaitWritable(d time.Duration) error
}

// State is the progress of one feed.
type State struct {
	Total    int
	Written  int
	Start    time.Time
	Deadline time.Time // zero when no timeout
}

// Result is what a feed delivered and how it ended.
type Result struct {
	Outcome      Outcome
	BytesWritten int
	Total        int
	Elapsed      time.Duration
	Writes       int // write calls that accepted at least one byte
	Waits        int // backpressure waits
}

// Complete reports whether the whole payload was delivered.
func (r Result) Complete() bool {
	return r.Outcome == OutcomeSuccess && r.BytesWritten == r.Total
}

// QueryError reports that a liveness or capacity query failed.
type QueryError struct {
	Op  string // "liveness", "capacity" or "pending"
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s query failed: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// IOError reports a non-retryable write or wait failure.
type IOError struct {
	Op     string
	Offset int
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s at offset %d: %v", e.Op, e.Offset, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
