package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/songlab/api/internal/client"
	"github.com/songlab/api/internal/model"
)

// fakeClient scripts a sequence of poll results. Poll calls past the end of
// the script repeat the last entry.
type fakeClient struct {
	mu      sync.Mutex
	calls   int
	script  []pollResult
	started bool
}

type pollResult struct {
	status client.JobStatus
	err    error
}

func (f *fakeClient) Start(ctx context.Context, in client.StartInput) (client.Handle, error) {
	f.started = true
	return client.Handle{TaskID: "task-1", Kind: in.Kind}, nil
}

func (f *fakeClient) Poll(ctx context.Context, h client.Handle) (client.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	return f.script[idx].status, f.script[idx].err
}

func (f *fakeClient) IsConfigured() bool { return true }

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func processing() pollResult {
	return pollResult{status: client.JobStatus{State: client.StateProcessing}}
}

func succeeded(outputs ...string) pollResult {
	return pollResult{status: client.JobStatus{State: client.StateSucceeded, Outputs: outputs}}
}

func testOpts() Options {
	return Options{
		Interval:         time.Millisecond,
		MaxAttempts:      10,
		TransientRetries: 3,
	}
}

func testHandle() client.Handle {
	return client.Handle{TaskID: "task-1", Kind: model.JobKindSeparation}
}

func TestPollSucceedsAfterPendingChecks(t *testing.T) {
	fc := &fakeClient{script: []pollResult{
		processing(), processing(), processing(), succeeded("https://cdn.example.com/out.wav"),
	}}

	outputs, err := Poll(context.Background(), fc, testHandle(), testOpts())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outputs) != 1 || outputs[0] != "https://cdn.example.com/out.wav" {
		t.Errorf("unexpected outputs: %v", outputs)
	}
	if got := fc.callCount(); got != 4 {
		t.Errorf("expected exactly 4 poll calls, got %d", got)
	}
}

func TestPollImmediateSuccessPollsOnce(t *testing.T) {
	fc := &fakeClient{script: []pollResult{succeeded("https://cdn.example.com/out.wav")}}

	if _, err := Poll(context.Background(), fc, testHandle(), testOpts()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := fc.callCount(); got != 1 {
		t.Errorf("expected exactly 1 poll call, got %d", got)
	}
}

func TestPollTimesOutAfterExactlyMaxAttempts(t *testing.T) {
	fc := &fakeClient{script: []pollResult{processing()}}

	_, err := Poll(context.Background(), fc, testHandle(), testOpts())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if got := fc.callCount(); got != 10 {
		t.Errorf("expected exactly 10 poll calls, got %d", got)
	}
}

func TestPollProviderFailureIsTerminal(t *testing.T) {
	fc := &fakeClient{script: []pollResult{
		processing(),
		{status: client.JobStatus{State: client.StateFailed, Reason: "render exploded"}},
	}}

	_, err := Poll(context.Background(), fc, testHandle(), testOpts())
	var jfe *JobFailedError
	if !errors.As(err, &jfe) {
		t.Fatalf("expected JobFailedError, got %v", err)
	}
	if jfe.Reason != "render exploded" {
		t.Errorf("unexpected reason: %q", jfe.Reason)
	}
	if got := fc.callCount(); got != 2 {
		t.Errorf("expected 2 poll calls, got %d", got)
	}
}

func TestPollRetriesTransientErrors(t *testing.T) {
	transient := pollResult{err: &client.TransientError{Err: errors.New("connection reset")}}
	fc := &fakeClient{script: []pollResult{
		transient, transient, succeeded("https://cdn.example.com/out.wav"),
	}}

	outputs, err := Poll(context.Background(), fc, testHandle(), testOpts())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outputs) != 1 {
		t.Errorf("unexpected outputs: %v", outputs)
	}
}

func TestPollGivesUpAfterTransientBudget(t *testing.T) {
	transient := pollResult{err: &client.TransientError{Err: errors.New("connection reset")}}
	fc := &fakeClient{script: []pollResult{transient}}

	_, err := Poll(context.Background(), fc, testHandle(), testOpts())
	if err == nil || !client.IsTransient(err) {
		t.Fatalf("expected the transient error to surface, got %v", err)
	}
	// budget of 3 retries: 4 calls total before surfacing
	if got := fc.callCount(); got != 4 {
		t.Errorf("expected 4 poll calls, got %d", got)
	}
}

func TestPollTransientBudgetResetsOnSuccess(t *testing.T) {
	transient := pollResult{err: &client.TransientError{Err: errors.New("connection reset")}}
	fc := &fakeClient{script: []pollResult{
		transient, transient, transient,
		processing(),
		transient, transient, transient,
		succeeded("https://cdn.example.com/out.wav"),
	}}

	opts := testOpts()
	opts.MaxAttempts = 20
	if _, err := Poll(context.Background(), fc, testHandle(), opts); err != nil {
		t.Fatalf("expected success after budget reset, got %v", err)
	}
}

func TestPollProviderErrorNotRetried(t *testing.T) {
	fc := &fakeClient{script: []pollResult{
		{err: &client.ProviderError{StatusCode: 500, Body: "boom"}},
	}}

	_, err := Poll(context.Background(), fc, testHandle(), testOpts())
	var pe *client.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if got := fc.callCount(); got != 1 {
		t.Errorf("expected 1 poll call, got %d", got)
	}
}

func TestPollCancellationStopsLoop(t *testing.T) {
	fc := &fakeClient{script: []pollResult{processing()}}

	ctx, cancel := context.WithCancel(context.Background())
	opts := testOpts()
	opts.Interval = 50 * time.Millisecond
	opts.MaxAttempts = 1000

	done := make(chan error, 1)
	go func() {
		_, err := Poll(ctx, fc, testHandle(), opts)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("poll did not stop after cancellation")
	}
}
