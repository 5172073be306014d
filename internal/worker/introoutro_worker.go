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

// HandleIntroOutro runs the generating-intro-outro stage: intro and outro
// segment generations submitted together and polled as a pair. Both must
// succeed before the stage advances.
func (w *Workers) HandleIntroOutro(ctx context.Context, t *asynq.Task) error {
	var payload model.IntroOutroJobPayload
	jobID, err := decodeTask(t, &payload)
	if err != nil {
		return err
	}

	log.Printf("[Worker] Intro/outro job %s: project %s", jobID, payload.ProjectID)

	jobCtx, cancel := w.jobs.CancelContext(ctx, jobID)
	defer cancel()

	if !w.instrumentals.IsConfigured() {
		return w.mockIntroOutro(ctx, jobCtx, jobID, &payload)
	}

	if err := w.progress(ctx, jobID, 5, "Submitting intro and outro generations"); err != nil {
		return w.progressErr(jobID, err)
	}

	introHandle, err := w.instrumentals.Start(jobCtx, client.StartInput{
		Kind:  model.JobKindIntro,
		Title: payload.Title,
		Tags:  payload.Tags,
	})
	if err != nil {
		return w.failJob(ctx, jobID, err)
	}
	outroHandle, err := w.instrumentals.Start(jobCtx, client.StartInput{
		Kind:  model.JobKindOutro,
		Title: payload.Title,
		Tags:  payload.Tags,
	})
	if err != nil {
		return w.failJob(ctx, jobID, err)
	}

	if err := w.progress(ctx, jobID, 15, "Generating intro and outro"); err != nil {
		return w.progressErr(jobID, err)
	}

	results, err := poller.PollGroup(jobCtx, []poller.GroupJob{
		{Name: "intro", Client: w.instrumentals, Handle: introHandle},
		{Name: "outro", Client: w.instrumentals, Handle: outroHandle},
	}, w.pollOpts)
	if err != nil {
		return w.failJob(ctx, jobID, err)
	}
	if len(results[0]) == 0 || len(results[1]) == 0 {
		return w.failJob(ctx, jobID, fmt.Errorf("intro/outro generation produced no audio"))
	}

	if err := w.progress(ctx, jobID, 80, "Storing intro and outro"); err != nil {
		return w.progressErr(jobID, err)
	}

	introURL := w.promote(ctx, results[0][0],
		storage.BuildKey("segments", payload.UserID, payload.ProjectID, "intro", "wav"))
	outroURL := w.promote(ctx, results[1][0],
		storage.BuildKey("segments", payload.UserID, payload.ProjectID, "outro", "wav"))

	p, err := w.controller.CompleteAsyncStage(ctx, payload.UserID, payload.ProjectID, model.StageGeneratingIntroOutro,
		func(st *model.FlowState) {
			st.IntroURL = introURL
			st.OutroURL = outroURL
		})
	if err != nil {
		return w.failJob(ctx, jobID, err)
	}

	w.hub.BroadcastStage(jobID, payload.ProjectID, p.State.Stage)
	return w.complete(ctx, jobID, map[string]string{
		"introUrl": introURL,
		"outroUrl": outroURL,
	})
}

// mockIntroOutro exits the generating-intro-outro stage with placeholder
// segments when the generation provider has no credentials.
func (w *Workers) mockIntroOutro(ctx, jobCtx context.Context, jobID string, payload *model.IntroOutroJobPayload) error {
	log.Printf("[Worker] Intro/outro job %s completing with mock results (provider not configured)", jobID)

	steps := []struct {
		pct      int
		step     string
		duration time.Duration
	}{
		{20, "Submitting intro and outro generations", 300 * time.Millisecond},
		{55, "Generating intro and outro", 500 * time.Millisecond},
		{85, "Storing intro and outro", 300 * time.Millisecond},
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

	introURL := w.gateway.PublicURL(
		storage.BuildKey("segments", payload.UserID, payload.ProjectID, "intro", "wav"))
	outroURL := w.gateway.PublicURL(
		storage.BuildKey("segments", payload.UserID, payload.ProjectID, "outro", "wav"))

	p, err := w.controller.CompleteAsyncStage(ctx, payload.UserID, payload.ProjectID, model.StageGeneratingIntroOutro,
		func(st *model.FlowState) {
			st.IntroURL = introURL
			st.OutroURL = outroURL
		})
	if err != nil {
		return w.failJob(ctx, jobID, err)
	}

	w.hub.BroadcastStage(jobID, payload.ProjectID, p.State.Stage)
	return w.complete(ctx, jobID, map[string]string{
		"introUrl": introURL,
		"outroUrl": outroURL,
	})
}
