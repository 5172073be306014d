package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/songlab/api/internal/client"
	"github.com/songlab/api/internal/model"
	"github.com/songlab/api/internal/poller"
	"github.com/songlab/api/internal/storage"
)

// HandleSeparation runs the separating stage: one vocal-separation provider
// job whose outputs (instrumental and vocal track) are promoted and written
// to the flow state.
func (w *Workers) HandleSeparation(ctx context.Context, t *asynq.Task) error {
	var payload model.SeparationJobPayload
	jobID, err := decodeTask(t, &payload)
	if err != nil {
		return err
	}

	log.Printf("[Worker] Separation job %s: project %s", jobID, payload.ProjectID)

	jobCtx, cancel := w.jobs.CancelContext(ctx, jobID)
	defer cancel()

	if !w.separator.IsConfigured() {
		return w.mockSeparation(ctx, jobCtx, jobID, &payload)
	}

	if err := w.progress(ctx, jobID, 5, "Submitting separation request"); err != nil {
		return w.progressErr(jobID, err)
	}

	h, err := w.separator.Start(jobCtx, client.StartInput{
		Kind:       model.JobKindSeparation,
		SourceURLs: []string{payload.SourceURL},
	})
	if err != nil {
		return w.failJob(ctx, jobID, err)
	}

	if err := w.progress(ctx, jobID, 15, "Separating vocals"); err != nil {
		return w.progressErr(jobID, err)
	}

	outputs, err := poller.Poll(jobCtx, w.separator, h, w.pollOpts)
	if err != nil {
		return w.failJob(ctx, jobID, err)
	}
	if len(outputs) < 2 {
		return w.failJob(ctx, jobID, fmt.Errorf("separation returned %d tracks, expected 2", len(outputs)))
	}

	if err := w.progress(ctx, jobID, 80, "Storing separated tracks"); err != nil {
		return w.progressErr(jobID, err)
	}

	instrumentalURL := w.promote(ctx, outputs[0],
		storage.BuildKey("separated", payload.UserID, payload.ProjectID, "instrumental", "wav"))
	vocalURL := w.promote(ctx, outputs[1],
		storage.BuildKey("separated", payload.UserID, payload.ProjectID, "vocal", "wav"))

	p, err := w.controller.CompleteAsyncStage(ctx, payload.UserID, payload.ProjectID, model.StageSeparating,
		func(st *model.FlowState) {
			st.InstrumentalURL = instrumentalURL
			st.VocalURL = vocalURL
		})
	if err != nil {
		return w.failJob(ctx, jobID, err)
	}

	w.hub.BroadcastStage(jobID, payload.ProjectID, p.State.Stage)
	return w.complete(ctx, jobID, map[string]string{
		"instrumentalUrl": instrumentalURL,
		"vocalUrl":        vocalURL,
	})
}

// mockSeparation walks the job through scripted progress and exits the
// stage with placeholder tracks, keeping the flow usable when the
// separation provider has no credentials.
func (w *Workers) mockSeparation(ctx, jobCtx context.Context, jobID string, payload *model.SeparationJobPayload) error {
	log.Printf("[Worker] Separation job %s completing with mock results (provider not configured)", jobID)

	steps := []struct {
		pct      int
		step     string
		duration time.Duration
	}{
		{20, "Analyzing source audio", 300 * time.Millisecond},
		{55, "Separating vocals", 500 * time.Millisecond},
		{85, "Storing separated tracks", 300 * time.Millisecond},
	}
	for _, s := range steps {
		select {
		case <-jobCtx.Done():
			return w.failJob(ctx, jobID, jobCtx.Err())
		default:
		}
		if err := w.progress(ctx, jobID, s.pct, s.step); err != nil {
			return w.progressErr(jobID, err)
		}
		time.Sleep(s.duration)
	}

	instrumentalURL := w.gateway.PublicURL(
		storage.BuildKey("separated", payload.UserID, payload.ProjectID, "instrumental", "wav"))
	vocalURL := w.gateway.PublicURL(
		storage.BuildKey("separated", payload.UserID, payload.ProjectID, "vocal", "wav"))

	p, err := w.controller.CompleteAsyncStage(ctx, payload.UserID, payload.ProjectID, model.StageSeparating,
		func(st *model.FlowState) {
			st.InstrumentalURL = instrumentalURL
			st.VocalURL = vocalURL
		})
	if err != nil {
		return w.failJob(ctx, jobID, err)
	}

	w.hub.BroadcastStage(jobID, payload.ProjectID, p.State.Stage)
	return w.complete(ctx, jobID, map[string]string{
		"instrumentalUrl": instrumentalURL,
		"vocalUrl":        vocalURL,
	})
}
