package model

import "time"

// Project endpoints

type ProjectCreateRequest struct {
	SongName string   `json:"songName" validate:"required,min=1,max=200"`
	FlowType FlowType `json:"projectType" validate:"required,oneof=search upload ai narration"`
}

type ProjectUpdateRequest struct {
	SongName   *string        `json:"songName,omitempty" validate:"omitempty,min=1,max=200"`
	PlaybackID *string        `json:"playbackId,omitempty"`
	Status     *ProjectStatus `json:"status,omitempty" validate:"omitempty,oneof=open recording processing completed"`
	State      *FlowState     `json:"verses,omitempty"`
}

// AdvanceStageRequest moves a project forward through a synchronous stage
// transition.
type AdvanceStageRequest struct {
	Stage Stage `json:"stage" validate:"required"`
}

// RecordSectionRequest attaches (or replaces) a recording on one section.
type RecordSectionRequest struct {
	SectionIndex int    `json:"sectionIndex" validate:"min=0"`
	AudioURL     string `json:"audioUrl" validate:"required,url"`
	Layer        bool   `json:"layer,omitempty"`
}

// SetSectionsRequest establishes the song structure for a project.
type SetSectionsRequest struct {
	Sections []Section `json:"sections" validate:"required,min=1,dive"`
}

// Pipeline endpoints

type SeparateStartRequest struct {
	ProjectID string `json:"projectId" validate:"required,uuid"`
	SourceURL string `json:"sourceUrl" validate:"required,url"`
}

type InstrumentalsStartRequest struct {
	ProjectID     string      `json:"projectId" validate:"required,uuid"`
	Style         string      `json:"style" validate:"required,min=1,max=500"`
	NegativeStyle string      `json:"negativeStyle,omitempty" validate:"max=500"`
	VocalGender   VocalGender `json:"vocalGender,omitempty" validate:"omitempty,oneof=female male"`
}

type IntroOutroStartRequest struct {
	ProjectID string `json:"projectId" validate:"required,uuid"`
	Title     string `json:"title" validate:"required,min=1,max=200"`
	Tags      string `json:"tags" validate:"required,min=1,max=500"`
}

type FinalizeStartRequest struct {
	ProjectID string `json:"projectId" validate:"required,uuid"`
}

type JobStartResponse struct {
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
}

type JobStatusResponse struct {
	JobID       string     `json:"jobId"`
	Kind        JobKind    `json:"kind"`
	ProjectID   string     `json:"projectId"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

type JobCancelResponse struct {
	Success bool      `json:"success"`
	JobID   string    `json:"jobId"`
	Status  JobStatus `json:"status"`
}

// Upload endpoints

type UploadResponse struct {
	URL string `json:"url"`
	Key string `json:"key"`
}
