// Package poll waits for an asynchronous voice job to reach a terminal status.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rbright/nimbus/internal/backend"
	"github.com/sethvargo/go-retry"
)

// ErrPollTimeout reports that the job never reached a terminal status within
// the configured attempt or time budget.
var ErrPollTimeout = errors.New("timed out waiting for voice job")

var errStillPending = errors.New("job still in progress")

// JobFailedError is returned when the backend reports a failed job.
type JobFailedError struct {
	TraceID string
	Status  string
	Reason  string
}

func (e *JobFailedError) Error() string {
	return e.Reason
}

// Fetcher reads one job snapshot.
type Fetcher interface {
	FetchStatus(ctx context.Context, traceID string) (backend.Snapshot, error)
}

// Options bounds a Poller. Zero MaxAttempts or Timeout means unbounded.
type Options struct {
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
	Logger      *slog.Logger
}

// Poller fetches job status sequentially until a terminal status appears.
type Poller struct {
	fetcher     Fetcher
	interval    time.Duration
	maxAttempts int
	timeout     time.Duration
	logger      *slog.Logger
}

// New builds a poller over fetcher.
func New(fetcher Fetcher, opts Options) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = 1500 * time.Millisecond
	}
	return &Poller{
		fetcher:     fetcher,
		interval:    interval,
		maxAttempts: opts.MaxAttempts,
		timeout:     opts.Timeout,
		logger:      opts.Logger,
	}
}

// Poll resolves with the first done or partially done snapshot for traceID.
// Failed jobs yield *JobFailedError, fetch errors are returned unchanged, and
// an exhausted budget yields ErrPollTimeout.
func (p *Poller) Poll(ctx context.Context, traceID string) (backend.Snapshot, error) {
	if p.fetcher == nil {
		return backend.Snapshot{}, errors.New("poller has no fetcher")
	}

	pollCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	backoff := retry.NewConstant(p.interval)
	if p.maxAttempts > 0 {
		backoff = retry.WithMaxRetries(uint64(p.maxAttempts-1), backoff)
	}

	var (
		result   backend.Snapshot
		attempts int
	)
	err := retry.Do(pollCtx, backoff, func(ctx context.Context) error {
		attempts++
		snap, err := p.fetcher.FetchStatus(ctx, traceID)
		if err != nil {
			return err
		}

		switch {
		case snap.Done(), snap.PartiallyDone():
			result = snap
			return nil
		case snap.Failed():
			return &JobFailedError{TraceID: traceID, Status: snap.Status, Reason: failureReason(snap)}
		default:
			p.log("job pending", "trace_id", traceID, "status", snap.Status, "attempt", attempts)
			return retry.RetryableError(errStillPending)
		}
	})

	var failed *JobFailedError
	switch {
	case err == nil:
		p.log("job resolved", "trace_id", traceID, "status", result.Status, "attempts", attempts)
		return result, nil
	case errors.Is(err, errStillPending):
		return backend.Snapshot{}, fmt.Errorf("%w after %d attempts", ErrPollTimeout, attempts)
	case ctx.Err() != nil:
		return backend.Snapshot{}, ctx.Err()
	case errors.As(err, &failed):
		return backend.Snapshot{}, err
	case pollCtx.Err() != nil:
		return backend.Snapshot{}, fmt.Errorf("%w after %s", ErrPollTimeout, p.timeout)
	default:
		return backend.Snapshot{}, err
	}
}

func failureReason(snap backend.Snapshot) string {
	if reason := strings.TrimSpace(snap.Error); reason != "" {
		return reason
	}
	return fmt.Sprintf("voice processing failed with status %q", snap.Status)
}

func (p *Poller) log(msg string, args ...any) {
	if p.logger == nil {
		return
	}
	p.logger.Debug(msg, args...)
}
