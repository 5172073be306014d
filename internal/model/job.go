package model

import "time"

// PipelineJob is the record kept for one background pipeline task. Jobs are
// short-lived audit records: once a job's result has been absorbed into the
// project state, the record only serves status queries and expires.
type PipelineJob struct {
	ID          string     `json:"id"`
	Kind        JobKind    `json:"kind"`
	ProjectID   string     `json:"projectId"`
	UserID      string     `json:"userId"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Payload     []byte     `json:"-"` // Stored as JSON
	Result      []byte     `json:"-"` // Stored as JSON
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// SeparationJobPayload drives the vocal-separation worker (search and
// upload flows).
type SeparationJobPayload struct {
	ProjectID string `json:"projectId"`
	UserID    string `json:"userId"`
	SourceURL string `json:"sourceUrl"`
}

// InstrumentalJobPayload drives per-section instrumental generation (ai and
// narration flows).
type InstrumentalJobPayload struct {
	ProjectID     string      `json:"projectId"`
	UserID        string      `json:"userId"`
	Style         string      `json:"style"`
	NegativeStyle string      `json:"negativeStyle,omitempty"`
	VocalGender   VocalGender `json:"vocalGender,omitempty"`
}

// IntroOutroJobPayload drives the concurrent intro + outro generation pair.
type IntroOutroJobPayload struct {
	ProjectID string `json:"projectId"`
	UserID    string `json:"userId"`
	Title     string `json:"title"`
	Tags      string `json:"tags"`
}

// FinalizeJobPayload drives the merge/master stage.
type FinalizeJobPayload struct {
	ProjectID string `json:"projectId"`
	UserID    string `json:"userId"`
}

// FinalizeJobResult is stored on a succeeded finalize job.
type FinalizeJobResult struct {
	FinalSongURL string  `json:"finalSongUrl"`
	Parts        int     `json:"parts"`
	Duration     float64 `json:"duration,omitempty"`
}
