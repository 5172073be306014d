package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/songlab/api/internal/model"
)

// JobState is the normalized state reported by a provider for one job.
type JobState string

const (
	StatePending    JobState = "pending"
	StateProcessing JobState = "processing"
	StateSucceeded  JobState = "succeeded"
	StateFailed     JobState = "failed"
	StateCanceled   JobState = "canceled"
)

// Terminal reports whether the state is final for the job.
func (s JobState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCanceled
}

// Handle identifies one outstanding provider job.
type Handle struct {
	TaskID string
	Kind   model.JobKind
}

// JobStatus is the result of a single status check. Outputs are set only
// when State is succeeded; Reason only when failed or canceled. The URLs in
// Outputs are provider-hosted and possibly transient, so callers must
// promote them into owned storage before persisting.
type JobStatus struct {
	State    JobState
	Progress string
	Outputs  []string
	Reason   string
}

// StartInput carries the parameters for starting a provider job. Source
// URLs must already be durable and publicly reachable.
type StartInput struct {
	Kind          model.JobKind
	SourceURLs    []string
	Style         string
	NegativeStyle string
	Title         string
	Tags          string
	VocalGender   model.VocalGender
}

// JobClient is the contract every provider integration satisfies: start a
// job, check it once. Neither call blocks waiting for completion; the
// poller owns the waiting loop. IsConfigured reports whether credentials
// are present; workers substitute mock results when they are not, so a
// bare development environment can still walk the whole pipeline.
type JobClient interface {
	Start(ctx context.Context, in StartInput) (Handle, error)
	Poll(ctx context.Context, h Handle) (JobStatus, error)
	IsConfigured() bool
}

// ErrInvalidInput is returned by Start before any network call when the
// input is missing required fields.
var ErrInvalidInput = errors.New("invalid job input")

// TransientError wraps a network-level failure (request failed, response
// unreadable). Distinguished from provider-reported failures so the poller
// can retry them within bounds.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient request error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ProviderError wraps an error reported by the provider itself (non-2xx
// status or failure payload). Always terminal for the attempt.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Body)
}

// IsTransient reports whether err is a network-level failure worth retrying.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
