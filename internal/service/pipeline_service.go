package service

import (
	"context"
	"log"

	"github.com/songlab/api/internal/model"
	"github.com/songlab/api/internal/pipeline"
)

// PipelineService is the synchronous entry point into the background
// pipeline: each Start method gates the transition through the stage
// controller, then creates a job record and enqueues the worker task.
// The project is already sitting in the asynchronous stage when the
// response goes out, so a crash between enqueue and worker pickup leaves
// a resumable (re-enterable) stage rather than a corrupt one.
type PipelineService struct {
	controller *pipeline.Controller
	jobs       *JobService
}

func NewPipelineService(controller *pipeline.Controller, jobs *JobService) *PipelineService {
	return &PipelineService{
		controller: controller,
		jobs:       jobs,
	}
}

// StartSeparation enters the separating stage and enqueues a
// vocal-separation job (search and upload flows).
func (s *PipelineService) StartSeparation(ctx context.Context, userID string, req *model.SeparateStartRequest) (*model.PipelineJob, error) {
	p, err := s.controller.Open(ctx, pipeline.SessionContext{IsResuming: true, ResumeProjectID: req.ProjectID}, userID)
	if err != nil {
		return nil, err
	}

	if p.State.SourceSongURL != req.SourceURL {
		p.State.SourceSongURL = req.SourceURL
		if _, err := s.controller.UpdateState(ctx, userID, p.ID, p.State); err != nil {
			return nil, err
		}
	}

	if _, err := s.controller.EnterAsyncStage(ctx, userID, req.ProjectID, model.StageSeparating); err != nil {
		return nil, err
	}

	job, err := s.jobs.StartJob(ctx, model.JobKindSeparation, req.ProjectID, userID, model.SeparationJobPayload{
		ProjectID: req.ProjectID,
		UserID:    userID,
		SourceURL: req.SourceURL,
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Pipeline] Separation job %s started for project %s", job.ID, req.ProjectID)
	return job, nil
}

// StartInstrumentals enters the processing stage and enqueues per-section
// instrumental generation (ai and narration flows). The chosen style is
// persisted on the flow state first so a failed job can be retried without
// resubmitting it.
func (s *PipelineService) StartInstrumentals(ctx context.Context, userID string, req *model.InstrumentalsStartRequest) (*model.PipelineJob, error) {
	p, err := s.controller.Open(ctx, pipeline.SessionContext{IsResuming: true, ResumeProjectID: req.ProjectID}, userID)
	if err != nil {
		return nil, err
	}

	p.State.Style = req.Style
	p.State.NegativeStyle = req.NegativeStyle
	p.State.VocalGender = req.VocalGender
	if _, err := s.controller.UpdateState(ctx, userID, p.ID, p.State); err != nil {
		return nil, err
	}

	if _, err := s.controller.EnterAsyncStage(ctx, userID, req.ProjectID, model.StageProcessing); err != nil {
		return nil, err
	}

	job, err := s.jobs.StartJob(ctx, model.JobKindInstrumental, req.ProjectID, userID, model.InstrumentalJobPayload{
		ProjectID:     req.ProjectID,
		UserID:        userID,
		Style:         req.Style,
		NegativeStyle: req.NegativeStyle,
		VocalGender:   req.VocalGender,
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Pipeline] Instrumentals job %s started for project %s", job.ID, req.ProjectID)
	return job, nil
}

// StartIntroOutro enters the generating-intro-outro stage and enqueues the
// concurrent intro + outro generation pair (ai flow).
func (s *PipelineService) StartIntroOutro(ctx context.Context, userID string, req *model.IntroOutroStartRequest) (*model.PipelineJob, error) {
	if _, err := s.controller.EnterAsyncStage(ctx, userID, req.ProjectID, model.StageGeneratingIntroOutro); err != nil {
		return nil, err
	}

	job, err := s.jobs.StartJob(ctx, model.JobKindIntro, req.ProjectID, userID, model.IntroOutroJobPayload{
		ProjectID: req.ProjectID,
		UserID:    userID,
		Title:     req.Title,
		Tags:      req.Tags,
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Pipeline] Intro/outro job %s started for project %s", job.ID, req.ProjectID)
	return job, nil
}

// StartFinalize enters the merging stage and enqueues the merge/master job
// that produces the final song (all flows).
func (s *PipelineService) StartFinalize(ctx context.Context, userID string, req *model.FinalizeStartRequest) (*model.PipelineJob, error) {
	if _, err := s.controller.EnterAsyncStage(ctx, userID, req.ProjectID, model.StageMerging); err != nil {
		return nil, err
	}

	job, err := s.jobs.StartJob(ctx, model.JobKindFinalize, req.ProjectID, userID, model.FinalizeJobPayload{
		ProjectID: req.ProjectID,
		UserID:    userID,
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Pipeline] Finalize job %s started for project %s", job.ID, req.ProjectID)
	return job, nil
}

// JobStatus returns the status of a pipeline job owned by the user.
func (s *PipelineService) JobStatus(ctx context.Context, jobID, userID string) (*model.JobStatusResponse, error) {
	return s.jobs.GetStatus(ctx, jobID, userID)
}

// CancelJob cancels a queued or running pipeline job owned by the user.
func (s *PipelineService) CancelJob(ctx context.Context, jobID, userID string) (*model.JobCancelResponse, error) {
	return s.jobs.Cancel(ctx, jobID, userID)
}
