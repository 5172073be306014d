// Package poller owns the waiting loop for every provider job. Job clients
// perform single status checks; the poller turns those into a terminal
// outcome with a bounded attempt budget, bounded retry of transient network
// failures, and context cancellation.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/songlab/api/internal/client"
)

// ErrTimeout is returned after MaxAttempts polls without a terminal state.
// The job is abandoned; provider-side work that completes later is not
// reconciled.
var ErrTimeout = errors.New("polling attempts exhausted")

// JobFailedError carries a provider-reported failure reason.
type JobFailedError struct {
	Reason string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job failed: %s", e.Reason)
}

// Options controls one polling loop.
type Options struct {
	// Interval between status checks.
	Interval time.Duration
	// MaxAttempts is the total poll-call budget; the loop returns
	// ErrTimeout after exactly this many non-terminal checks.
	MaxAttempts int
	// TransientRetries bounds consecutive network-level poll failures
	// before the loop gives up. Provider-reported failures are never
	// retried.
	TransientRetries int
}

// DefaultOptions matches the observed provider ceiling: 5s cadence, 120
// attempts, roughly a 10 minute limit.
func DefaultOptions() Options {
	return Options{
		Interval:         5 * time.Second,
		MaxAttempts:      120,
		TransientRetries: 3,
	}
}

func (o Options) normalized() Options {
	if o.Interval <= 0 {
		o.Interval = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 120
	}
	return o
}

// Poll drives a job to a terminal state. It polls immediately, then every
// Interval. On success it returns the job's output URLs exactly once; on
// provider failure it returns a JobFailedError; on attempt exhaustion,
// ErrTimeout; on context cancellation, ctx.Err().
func Poll(ctx context.Context, c client.JobClient, h client.Handle, opts Options) ([]string, error) {
	opts = opts.normalized()

	transientFailures := 0
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		status, err := c.Poll(ctx, h)
		if err != nil {
			if client.IsTransient(err) && transientFailures < opts.TransientRetries {
				transientFailures++
				log.Printf("[Poller] %s task=%s poll #%d transient error (%d/%d): %v",
					h.Kind, h.TaskID, attempt, transientFailures, opts.TransientRetries, err)
				if waitErr := wait(ctx, opts.Interval); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, err
		}
		transientFailures = 0

		switch status.State {
		case client.StateSucceeded:
			log.Printf("[Poller] %s task=%s succeeded after %d polls", h.Kind, h.TaskID, attempt)
			return status.Outputs, nil
		case client.StateFailed:
			return nil, &JobFailedError{Reason: status.Reason}
		case client.StateCanceled:
			return nil, &JobFailedError{Reason: "canceled: " + status.Reason}
		}

		if attempt == opts.MaxAttempts {
			break
		}
		if err := wait(ctx, opts.Interval); err != nil {
			return nil, err
		}
	}

	log.Printf("[Poller] %s task=%s timed out after %d polls", h.Kind, h.TaskID, opts.MaxAttempts)
	return nil, ErrTimeout
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
