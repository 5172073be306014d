package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/songlab/api/internal/model"
)

// Asynq task types, one per pipeline job family
const (
	TaskTypeSeparation    = "pipeline:separate"
	TaskTypeInstrumentals = "pipeline:instrumentals"
	TaskTypeIntroOutro    = "pipeline:introoutro"
	TaskTypeFinalize      = "pipeline:finalize"
)

// jobTTL keeps finished job records around as an audit trail; a provider
// job that succeeds after our poll ceiling is lost, but its record remains
// inspectable for a day.
const jobTTL = 24 * time.Hour

// ErrJobNotFound is returned for unknown or expired job ids.
var ErrJobNotFound = errors.New("job not found")

// ErrJobCanceled is returned to workers whose job was canceled mid-flight.
var ErrJobCanceled = errors.New("job canceled")

// JobService owns pipeline job records in Redis and task submission to
// asynq. Workers report progress and terminal results back through it.
type JobService struct {
	redis       *redis.Client
	asynqClient *asynq.Client
}

func NewJobService(redisClient *redis.Client, asynqClient *asynq.Client) *JobService {
	return &JobService{
		redis:       redisClient,
		asynqClient: asynqClient,
	}
}

// kindTaskTypes maps job kinds to asynq task types.
var kindTaskTypes = map[model.JobKind]string{
	model.JobKindSeparation:   TaskTypeSeparation,
	model.JobKindInstrumental: TaskTypeInstrumentals,
	model.JobKindIntro:        TaskTypeIntroOutro,
	model.JobKindFinalize:     TaskTypeFinalize,
}

// StartJob creates a job record and enqueues the matching worker task.
func (s *JobService) StartJob(ctx context.Context, kind model.JobKind, projectID, userID string, payload interface{}) (*model.PipelineJob, error) {
	taskType, ok := kindTaskTypes[kind]
	if !ok {
		return nil, fmt.Errorf("no task type for job kind %s", kind)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	job := &model.PipelineJob{
		ID:        uuid.New().String(),
		Kind:      kind,
		ProjectID: projectID,
		UserID:    userID,
		Status:    model.JobStatusQueued,
		Payload:   payloadBytes,
		CreatedAt: time.Now(),
	}

	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	task, err := newPipelineTask(taskType, job.ID, payloadBytes)
	if err != nil {
		return nil, err
	}
	if _, err := s.asynqClient.EnqueueContext(ctx, task, asynq.Queue("pipeline"), asynq.MaxRetry(0)); err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return job, nil
}

// GetStatus returns a job's status, enforcing ownership.
func (s *JobService) GetStatus(ctx context.Context, jobID, userID string) (*model.JobStatusResponse, error) {
	job, err := s.getOwnedJob(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}

	return &model.JobStatusResponse{
		JobID:       job.ID,
		Kind:        job.Kind,
		ProjectID:   job.ProjectID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// Cancel marks a queued or running job canceled. The worker observes the
// flag and abandons its polling loop; results arriving afterwards are
// discarded, never applied to the project.
func (s *JobService) Cancel(ctx context.Context, jobID, userID string) (*model.JobCancelResponse, error) {
	job, err := s.getOwnedJob(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}

	if job.Status == model.JobStatusSucceeded || job.Status == model.JobStatusFailed {
		return nil, errors.New("job already completed")
	}

	job.Status = model.JobStatusCanceled
	now := time.Now()
	job.CompletedAt = &now

	if err := s.saveJob(ctx, job); err != nil {
		return nil, err
	}

	return &model.JobCancelResponse{
		Success: true,
		JobID:   jobID,
		Status:  model.JobStatusCanceled,
	}, nil
}

// UpdateProgress updates job progress (called by workers). Returns
// ErrJobCanceled once the job has been canceled so the worker can stop.
func (s *JobService) UpdateProgress(ctx context.Context, jobID string, progress int, step string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status == model.JobStatusCanceled {
		return ErrJobCanceled
	}

	job.Progress = progress
	job.CurrentStep = step

	if job.Status == model.JobStatusQueued {
		job.Status = model.JobStatusRunning
		now := time.Now()
		job.StartedAt = &now
	}

	return s.saveJob(ctx, job)
}

// Complete marks a job succeeded with its result (called by workers). A
// canceled job is left canceled and the result is dropped.
func (s *JobService) Complete(ctx context.Context, jobID string, result interface{}) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status == model.JobStatusCanceled {
		return ErrJobCanceled
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusSucceeded
	job.Progress = 100
	job.Result = resultBytes
	now := time.Now()
	job.CompletedAt = &now

	return s.saveJob(ctx, job)
}

// Fail marks a job failed (called by workers).
func (s *JobService) Fail(ctx context.Context, jobID, errMsg string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status == model.JobStatusCanceled {
		return ErrJobCanceled
	}

	job.Status = model.JobStatusFailed
	job.Error = &errMsg
	now := time.Now()
	job.CompletedAt = &now

	return s.saveJob(ctx, job)
}

// CancelContext derives a context that is canceled when the job record is
// marked canceled, checked every few seconds. Workers run their polling
// loops under it so a user-initiated cancel actually stops the timers
// instead of leaking a ten-minute poll.
func (s *JobService) CancelContext(ctx context.Context, jobID string) (context.Context, context.CancelFunc) {
	jobCtx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-jobCtx.Done():
				return
			case <-ticker.C:
				job, err := s.getJob(jobCtx, jobID)
				if err != nil {
					continue
				}
				if job.Status == model.JobStatusCanceled {
					cancel()
					return
				}
			}
		}
	}()

	return jobCtx, cancel
}

// Helper methods

func (s *JobService) saveJob(ctx context.Context, job *model.PipelineJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, fmt.Sprintf("job:%s", job.ID), data, jobTTL).Err()
}

func (s *JobService) getJob(ctx context.Context, jobID string) (*model.PipelineJob, error) {
	data, err := s.redis.Get(ctx, fmt.Sprintf("job:%s", jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.PipelineJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}

	return &job, nil
}

func (s *JobService) getOwnedJob(ctx context.Context, jobID, userID string) (*model.PipelineJob, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func newPipelineTask(taskType, jobID string, payload []byte) (*asynq.Task, error) {
	taskPayload := map[string]interface{}{
		"jobId":   jobID,
		"payload": payload,
	}
	data, err := json.Marshal(taskPayload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}
