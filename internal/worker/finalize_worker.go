package worker

import (
	"bytes"
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

// HandleFinalize runs the merging stage: concatenate the project's parts in
// playback order (intro, section recordings, outro), store the merged song,
// and optionally run it through the mix/master provider. The project
// completes only once the final asset URL is on the flow state.
func (w *Workers) HandleFinalize(ctx context.Context, t *asynq.Task) error {
	var payload model.FinalizeJobPayload
	jobID, err := decodeTask(t, &payload)
	if err != nil {
		return err
	}

	log.Printf("[Worker] Finalize job %s: project %s", jobID, payload.ProjectID)

	jobCtx, cancel := w.jobs.CancelContext(ctx, jobID)
	defer cancel()

	p, err := w.loadProject(ctx, payload.UserID, payload.ProjectID)
	if err != nil {
		return w.failJob(ctx, jobID, err)
	}

	parts := assembleParts(p.State)
	if len(parts) == 0 {
		return w.failJob(ctx, jobID, fmt.Errorf("project %s has no recorded parts to merge", payload.ProjectID))
	}

	// Without an object store the part URLs are mock CDN addresses;
	// downloading them for a merge cannot work, so finish the stage with
	// a placeholder song instead.
	if !w.gateway.Configured() {
		return w.mockFinalize(ctx, jobCtx, jobID, &payload, p, len(parts))
	}

	finalURL := parts[0]
	if len(parts) > 1 {
		if err := w.progress(ctx, jobID, 20, fmt.Sprintf("Merging %d parts", len(parts))); err != nil {
			return w.progressErr(jobID, err)
		}
		merged, err := w.merger.Merge(jobCtx, parts)
		if err != nil {
			return w.failJob(ctx, jobID, err)
		}

		if err := w.progress(ctx, jobID, 60, "Storing merged song"); err != nil {
			return w.progressErr(jobID, err)
		}
		key := storage.BuildKey("songs", payload.UserID, p.SongName, "final", "wav")
		finalURL, err = w.gateway.Upload(ctx, key, bytes.NewReader(merged), "audio/wav")
		if err != nil {
			return w.failJob(ctx, jobID, err)
		}
	}

	if w.mixer.IsConfigured() {
		if url, err := w.master(jobCtx, jobID, finalURL, p.State.Style, payload.UserID, p.SongName); err != nil {
			log.Printf("[Worker] Mastering pass failed, keeping unmastered merge: %v", err)
		} else {
			finalURL = url
		}
	}

	duration := 0.0
	for i := range p.State.Sections {
		duration += p.State.Sections[i].Duration
	}
	result := model.FinalizeJobResult{
		FinalSongURL: finalURL,
		Parts:        len(parts),
		Duration:     duration,
	}

	proj, err := w.controller.CompleteAsyncStage(ctx, payload.UserID, payload.ProjectID, model.StageMerging,
		func(st *model.FlowState) {
			st.FinalSongURL = finalURL
		})
	if err != nil {
		return w.failJob(ctx, jobID, err)
	}

	w.hub.BroadcastStage(jobID, payload.ProjectID, proj.State.Stage)
	return w.complete(ctx, jobID, result)
}

// mockFinalize exits the merging stage with a placeholder final song when
// no object store is configured.
func (w *Workers) mockFinalize(ctx, jobCtx context.Context, jobID string, payload *model.FinalizeJobPayload, p *model.Project, parts int) error {
	log.Printf("[Worker] Finalize job %s completing with mock results (storage not configured)", jobID)

	steps := []struct {
		pct      int
		step     string
		duration time.Duration
	}{
		{30, fmt.Sprintf("Merging %d parts", parts), 500 * time.Millisecond},
		{70, "Storing merged song", 300 * time.Millisecond},
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

	finalURL := w.gateway.PublicURL(
		storage.BuildKey("songs", payload.UserID, p.SongName, "final", "wav"))

	duration := 0.0
	for i := range p.State.Sections {
		duration += p.State.Sections[i].Duration
	}
	result := model.FinalizeJobResult{
		FinalSongURL: finalURL,
		Parts:        parts,
		Duration:     duration,
	}

	proj, err := w.controller.CompleteAsyncStage(ctx, payload.UserID, payload.ProjectID, model.StageMerging,
		func(st *model.FlowState) {
			st.FinalSongURL = finalURL
		})
	if err != nil {
		return w.failJob(ctx, jobID, err)
	}

	w.hub.BroadcastStage(jobID, payload.ProjectID, proj.State.Stage)
	return w.complete(ctx, jobID, result)
}

// master runs the merged song through the mix/master provider and promotes
// the mastered output. An unconfigured or failing provider is non-fatal.
func (w *Workers) master(ctx context.Context, jobID, songURL, style, userID, songName string) (string, error) {
	if err := w.progress(ctx, jobID, 75, "Mastering"); err != nil {
		return "", err
	}

	h, err := w.mixer.Start(ctx, client.StartInput{
		Kind:       model.JobKindMixMaster,
		SourceURLs: []string{songURL},
		Style:      style,
	})
	if err != nil {
		return "", err
	}

	outputs, err := poller.Poll(ctx, w.mixer, h, w.pollOpts)
	if err != nil {
		return "", err
	}
	if len(outputs) == 0 {
		return "", fmt.Errorf("mastering produced no audio")
	}

	key := storage.BuildKey("songs", userID, songName, "mastered", "wav")
	return w.promote(ctx, outputs[0], key), nil
}

// assembleParts collects the final playback order for a flow: generated
// intro, each section's recording for the flow's recording stage, generated
// outro. Sections without a recording are skipped; the stage gate upstream
// should have rejected that, but a missing take must not silence the rest.
func assembleParts(st *model.FlowState) []string {
	parts := make([]string, 0, len(st.Sections)+2)
	if st.IntroURL != "" {
		parts = append(parts, st.IntroURL)
	}
	stage := st.RecordingStage()
	for i := range st.Sections {
		if url := st.Sections[i].RecordingFor(stage); url != "" {
			parts = append(parts, url)
		}
	}
	if st.OutroURL != "" {
		parts = append(parts, st.OutroURL)
	}
	return parts
}
