package poller

import (
	"context"
	"errors"
	"sync"

	"github.com/songlab/api/internal/client"
)

// GroupJob is one member of a fan-out/fan-in polling group.
type GroupJob struct {
	Name   string
	Client client.JobClient
	Handle client.Handle
}

// PollGroup polls several independent jobs concurrently on a shared
// cadence. Each job's terminal result is latched independently; the call
// returns only once every job is terminal or the group has failed. Any
// single failure cancels the remaining polls and fails the whole group.
// On success, results are returned in job order.
func PollGroup(ctx context.Context, jobs []GroupJob, opts Options) ([][]string, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([][]string, len(jobs))
	errs := make([]error, len(jobs))

	var wg sync.WaitGroup
	for i := range jobs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outputs, err := Poll(groupCtx, jobs[i].Client, jobs[i].Handle, opts)
			if err != nil {
				errs[i] = err
				cancel()
				return
			}
			results[i] = outputs
		}(i)
	}
	wg.Wait()

	// Prefer a real failure over a cancellation caused by it, so the
	// caller sees the root cause regardless of goroutine ordering. A
	// cancellation may arrive wrapped by a client, so unwrap-aware
	// matching is required.
	var firstErr error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if firstErr == nil || errors.Is(firstErr, context.Canceled) {
			firstErr = err
		}
		if !errors.Is(err, context.Canceled) {
			firstErr = err
			break
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}

	return results, nil
}
