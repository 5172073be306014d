package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/songlab/api/internal/audio"
	"github.com/songlab/api/internal/client"
	"github.com/songlab/api/internal/model"
	"github.com/songlab/api/internal/pipeline"
	"github.com/songlab/api/internal/poller"
	"github.com/songlab/api/internal/service"
	"github.com/songlab/api/internal/storage"
	"github.com/songlab/api/internal/websocket"
)

// Workers owns the asynq handlers for the pipeline's asynchronous stages.
// Each handler drives one provider job (or a group of them) through the
// poller, promotes the provider's transient output URLs into owned storage,
// and exits the stage through the controller so results and stage moves are
// persisted together.
type Workers struct {
	jobs          *service.JobService
	controller    *pipeline.Controller
	gateway       *storage.Gateway
	hub           *websocket.Hub
	separator     client.JobClient
	instrumentals client.JobClient
	mixer         client.JobClient
	merger        *audio.Merger
	pollOpts      poller.Options
}

func New(
	jobs *service.JobService,
	controller *pipeline.Controller,
	gateway *storage.Gateway,
	hub *websocket.Hub,
	separator client.JobClient,
	instrumentals client.JobClient,
	mixer client.JobClient,
	merger *audio.Merger,
	pollOpts poller.Options,
) *Workers {
	return &Workers{
		jobs:          jobs,
		controller:    controller,
		gateway:       gateway,
		hub:           hub,
		separator:     separator,
		instrumentals: instrumentals,
		mixer:         mixer,
		merger:        merger,
		pollOpts:      pollOpts,
	}
}

// Register wires the handlers onto an asynq mux.
func (w *Workers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(service.TaskTypeSeparation, w.HandleSeparation)
	mux.HandleFunc(service.TaskTypeInstrumentals, w.HandleInstrumentals)
	mux.HandleFunc(service.TaskTypeIntroOutro, w.HandleIntroOutro)
	mux.HandleFunc(service.TaskTypeFinalize, w.HandleFinalize)
}

// taskEnvelope matches the payload shape written at enqueue time.
type taskEnvelope struct {
	JobID   string `json:"jobId"`
	Payload []byte `json:"payload"`
}

// decodeTask extracts the job id and unmarshals the kind-specific payload.
// A malformed task is unrecoverable, so the error is returned to asynq.
func decodeTask(t *asynq.Task, payload interface{}) (string, error) {
	var env taskEnvelope
	if err := json.Unmarshal(t.Payload(), &env); err != nil {
		return "", fmt.Errorf("failed to decode task envelope: %w", err)
	}
	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return "", fmt.Errorf("failed to decode task payload: %w", err)
	}
	return env.JobID, nil
}

// progress records a progress step and pushes it to any live session.
// Returns service.ErrJobCanceled once the job has been canceled; any other
// error means the job record itself could not be written.
func (w *Workers) progress(ctx context.Context, jobID string, pct int, step string) error {
	if err := w.jobs.UpdateProgress(ctx, jobID, pct, step); err != nil {
		return err
	}
	w.hub.BroadcastProgress(jobID, pct, model.JobStatusRunning, step)
	return nil
}

// progressErr maps a progress-update failure to the handler's return
// value: a canceled job consumes the task, anything else is an
// infrastructure failure handed back to asynq.
func (w *Workers) progressErr(jobID string, err error) error {
	if errors.Is(err, service.ErrJobCanceled) {
		log.Printf("[Worker] Job %s canceled, dropping task", jobID)
		return nil
	}
	return err
}

// failJob marks the job failed and notifies listeners. A job that turns out
// to have been canceled is left canceled and the failure is dropped. The
// task itself is consumed either way.
func (w *Workers) failJob(ctx context.Context, jobID string, cause error) error {
	msg := cause.Error()
	if err := w.jobs.Fail(ctx, jobID, msg); err != nil {
		if errors.Is(err, service.ErrJobCanceled) {
			log.Printf("[Worker] Job %s canceled, dropping failure: %v", jobID, cause)
			return nil
		}
		return err
	}
	log.Printf("[Worker] Job %s failed: %v", jobID, cause)
	w.hub.BroadcastError(jobID, "PROVIDER_ERROR", msg)
	return nil
}

// complete marks the job succeeded and notifies listeners.
func (w *Workers) complete(ctx context.Context, jobID string, result interface{}) error {
	if err := w.jobs.Complete(ctx, jobID, result); err != nil {
		if errors.Is(err, service.ErrJobCanceled) {
			log.Printf("[Worker] Job %s canceled, dropping result", jobID)
			return nil
		}
		return err
	}
	w.hub.BroadcastComplete(jobID, result)
	return nil
}

// promote copies a provider-hosted URL into owned storage. Promotion
// failures fall back to the provider URL rather than failing the whole
// stage; the asset may later expire, but the pipeline keeps moving.
func (w *Workers) promote(ctx context.Context, providerURL, key string) string {
	url, err := w.gateway.Promote(ctx, providerURL, key)
	if err != nil {
		log.Printf("[Worker] Promotion of %s failed, keeping provider URL: %v", key, err)
	}
	return url
}

// loadProject fetches the worker's project through the controller.
func (w *Workers) loadProject(ctx context.Context, userID, projectID string) (*model.Project, error) {
	return w.controller.Open(ctx, pipeline.SessionContext{
		IsResuming:      true,
		ResumeProjectID: projectID,
	}, userID)
}
