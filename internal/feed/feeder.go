package feed

import (
	"context"
	"errors"
	"log/slog"
	"syscall"
	"time"

	"github.com/mattjoyce/pipefeed/internal/log"
)

const (
	// DefaultMaxChunk bounds a single write so no call stalls for long.
	DefaultMaxChunk = 8 * 1024 * 1024

	// DefaultPollInterval is the backpressure recheck interval.
	DefaultPollInterval = 5 * time.Millisecond
)

// Options configures a Feeder.
type Options struct {
	MaxChunk     int
	PollInterval time.Duration
	Logger       *slog.Logger
	// OnProgress is called on the feeding goroutine after each accepted write.
	OnProgress func(State)
}

// Feeder drives one payload into one channel at a time. A Feeder holds no
// per-feed state and may be shared by concurrent feeds over distinct channels.
type Feeder struct {
	maxChunk     int
	pollInterval time.Duration
	logger       *slog.Logger
	onProgress   func(State)
	now          func() time.Time
}

// New creates a Feeder.
func New(opts Options) *Feeder {
	f := &Feeder{
		maxChunk:     opts.MaxChunk,
		pollInterval: opts.PollInterval,
		logger:       opts.Logger,
		onProgress:   opts.OnProgress,
		now:          time.Now,
	}
	if f.maxChunk <= 0 {
		f.maxChunk = DefaultMaxChunk
	}
	if f.pollInterval <= 0 {
		f.pollInterval = DefaultPollInterval
	}
	if f.logger == nil {
		f.logger = log.WithComponent("feed")
	}
	return f
}

// Feed writes payload into ch while live reports the consumer alive.
//
// timeout <= 0 waits on backpressure indefinitely. The returned error is nil
// for Success, PartialTimeout and ProcessDied; it is a *QueryError, *IOError or
// the context error otherwise. The Result is always populated.
func (f *Feeder) Feed(ctx context.Context, live Liveness, ch Channel, payload []byte, timeout time.Duration) (Result, error) {
	st := State{Total: len(payload), Start: f.now()}
	if timeout > 0 {
		st.Deadline = st.Start.Add(timeout)
	}
	res := Result{Total: st.Total}

	finish := func(outcome Outcome, err error) (Result, error) {
		res.Outcome = outcome
		res.BytesWritten = st.Written
		res.Elapsed = f.now().Sub(st.Start)
		f.logOutcome(res, err)
		return res, err
	}

	for st.Written < st.Total {
		alive, err := live.IsAlive()
		if err != nil {
			return finish(OutcomeQueryError, &QueryError{Op: "liveness", Err: err})
		}
		if !alive {
			return finish(OutcomeProcessDied, nil)
		}

		capacity, err := ch.Capacity()
		if err != nil {
			return finish(OutcomeQueryError, &QueryError{Op: "capacity", Err: err})
		}
		pending, err := ch.Pending()
		if err != nil {
			return finish(OutcomeQueryError, &QueryError{Op: "pending", Err: err})
		}
		remaining := max(capacity-pending, 0)

		chunk := min(st.Total-st.Written, f.maxChunk, remaining)
		if chunk == 0 {
			if outcome, err := f.backpressure(ctx, ch, &st, timeout, &res); outcome != "" {
				return finish(outcome, err)
			}
			continue
		}

		n, err := ch.Write(payload[st.Written : st.Written+chunk])
		if n > 0 {
			st.Written += n
			res.Writes++
			if f.onProgress != nil {
				f.onProgress(st)
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, syscall.EINTR):
			continue
		case errors.Is(err, syscall.EAGAIN):
			// The pipe filled up under us (page-granular accounting); same as no room.
			if outcome, err := f.backpressure(ctx, ch, &st, timeout, &res); outcome != "" {
				return finish(outcome, err)
			}
		case errors.Is(err, syscall.EPIPE):
			// The reader may have exited between the liveness check and the write.
			if alive, qerr := live.IsAlive(); qerr == nil && !alive {
				return finish(OutcomeProcessDied, nil)
			}
			return finish(OutcomeIOError, &IOError{Op: "write", Offset: st.Written, Err: err})
		default:
			return finish(OutcomeIOError, &IOError{Op: "write", Offset: st.Written, Err: err})
		}
	}

	return finish(OutcomeSuccess, nil)
}

// backpressure is the single suspension point. It returns a non-empty outcome
// when the feed must stop.
func (f *Feeder) backpressure(ctx context.Context, ch Channel, st *State, timeout time.Duration, res *Result) (Outcome, error) {
	now := f.now()
	elapsed := now.Sub(st.Start)
	if timeout > 0 && elapsed > timeout {
		return OutcomePartialTimeout, nil
	}
	if err := ctx.Err(); err != nil {
		return OutcomeCanceled, err
	}

	wait := f.pollInterval
	if timeout > 0 {
		// Wake just past the deadline so the next checkpoint can fire.
		if untilDeadline := st.Deadline.Sub(now) + time.Millisecond; untilDeadline < wait {
			wait = untilDeadline
		}
	}

	res.Waits++
	f.logger.Debug("pipe full, waiting", "written", st.Written, "total", st.Total, "elapsed", elapsed, "wait", wait)
	if err := ch.WaitWritable(wait); err != nil {
		return OutcomeIOError, &IOError{Op: "wait writable", Offset: st.Written, Err: err}
	}
	return "", nil
}

func (f *Feeder) logOutcome(res Result, err error) {
	attrs := []any{
		"outcome", res.Outcome,
		"written", res.BytesWritten,
		"total", res.Total,
		"elapsed", res.Elapsed,
		"writes", res.Writes,
		"waits", res.Waits,
	}
	switch res.Outcome {
	case OutcomeSuccess:
		f.logger.Debug("feed complete", attrs...)
	case OutcomePartialTimeout, OutcomeProcessDied, OutcomeCanceled:
		f.logger.Warn("feed stopped early", attrs...)
	default:
		f.logger.Error("feed failed", append(attrs, "error", err)...)
	}
}
