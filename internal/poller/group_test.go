package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/songlab/api/internal/client"
	"github.com/songlab/api/internal/model"
)

func TestPollGroupWaitsForSlowestJob(t *testing.T) {
	fast := &fakeClient{script: []pollResult{succeeded("https://cdn.example.com/a.wav")}}
	slow := &fakeClient{script: []pollResult{
		processing(), processing(), processing(), processing(),
		succeeded("https://cdn.example.com/b.wav"),
	}}

	results, err := PollGroup(context.Background(), []GroupJob{
		{Name: "a", Client: fast, Handle: client.Handle{TaskID: "a", Kind: model.JobKindInstrumental}},
		{Name: "b", Client: slow, Handle: client.Handle{TaskID: "b", Kind: model.JobKindInstrumental}},
	}, testOpts())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if results[0][0] != "https://cdn.example.com/a.wav" {
		t.Errorf("result order broken: %v", results[0])
	}
	if results[1][0] != "https://cdn.example.com/b.wav" {
		t.Errorf("result order broken: %v", results[1])
	}
	if got := slow.callCount(); got != 5 {
		t.Errorf("slow job should have been polled to completion, got %d calls", got)
	}
}

func TestPollGroupFailureCancelsSiblings(t *testing.T) {
	failing := &fakeClient{script: []pollResult{
		{status: client.JobStatus{State: client.StateFailed, Reason: "bad input"}},
	}}
	neverDone := &fakeClient{script: []pollResult{processing()}}

	opts := testOpts()
	opts.MaxAttempts = 10000
	opts.Interval = time.Millisecond

	start := time.Now()
	_, err := PollGroup(context.Background(), []GroupJob{
		{Name: "ok", Client: neverDone, Handle: client.Handle{TaskID: "x", Kind: model.JobKindIntro}},
		{Name: "bad", Client: failing, Handle: client.Handle{TaskID: "y", Kind: model.JobKindOutro}},
	}, opts)

	var jfe *JobFailedError
	if !errors.As(err, &jfe) {
		t.Fatalf("expected JobFailedError, got %v", err)
	}
	if jfe.Reason != "bad input" {
		t.Errorf("expected the root cause reason, got %q", jfe.Reason)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("group did not cancel promptly, took %v", elapsed)
	}
}

func TestPollGroupPrefersRootCauseOverWrappedCancellation(t *testing.T) {
	// One sibling's client surfaces the group cancellation wrapped in a
	// transient error; the provider failure must still win.
	interrupted := &fakeClient{script: []pollResult{
		{err: &client.TransientError{Err: context.Canceled}},
	}}
	failing := &fakeClient{script: []pollResult{
		{status: client.JobStatus{State: client.StateFailed, Reason: "model refused input"}},
	}}

	opts := testOpts()
	opts.TransientRetries = 0

	_, err := PollGroup(context.Background(), []GroupJob{
		{Name: "interrupted", Client: interrupted, Handle: client.Handle{TaskID: "i", Kind: model.JobKindInstrumental}},
		{Name: "bad", Client: failing, Handle: client.Handle{TaskID: "b", Kind: model.JobKindInstrumental}},
	}, opts)

	var jfe *JobFailedError
	if !errors.As(err, &jfe) {
		t.Fatalf("expected the provider failure as root cause, got %v", err)
	}
	if jfe.Reason != "model refused input" {
		t.Errorf("expected the root cause reason, got %q", jfe.Reason)
	}
}

func TestPollGroupEmptyIsNoop(t *testing.T) {
	results, err := PollGroup(context.Background(), nil, testOpts())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results, got %v", results)
	}
}

func TestPollGroupSingleJob(t *testing.T) {
	fc := &fakeClient{script: []pollResult{processing(), succeeded("https://cdn.example.com/solo.wav")}}

	results, err := PollGroup(context.Background(), []GroupJob{
		{Name: "solo", Client: fc, Handle: client.Handle{TaskID: "s", Kind: model.JobKindInstrumental}},
	}, testOpts())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0][0] != "https://cdn.example.com/solo.wav" {
		t.Errorf("unexpected results: %v", results)
	}
}
