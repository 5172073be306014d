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

// HandleInstrumentals runs the processing stage: one instrumental
// generation job per recorded section, polled as a group so a single
// failure fails the stage. Section order is preserved end to end.
func (w *Workers) HandleInstrumentals(ctx context.Context, t *asynq.Task) error {
	var payload model.InstrumentalJobPayload
	jobID, err := decodeTask(t, &payload)
	if err != nil {
		return err
	}

	log.Printf("[Worker] Instrumentals job %s: project %s", jobID, payload.ProjectID)

	jobCtx, cancel := w.jobs.CancelContext(ctx, jobID)
	defer cancel()

	p, err := w.loadProject(ctx, payload.UserID, payload.ProjectID)
	if err != nil {
		return w.failJob(ctx, jobID, err)
	}
	sections := p.State.Sections
	if len(sections) == 0 {
		return w.failJob(ctx, jobID, fmt.Errorf("project %s has no sections", payload.ProjectID))
	}

	if !w.instrumentals.IsConfigured() {
		return w.mockInstrumentals(ctx, jobCtx, jobID, &payload, sections)
	}

	if err := w.progress(ctx, jobID, 5, "Submitting section generations"); err != nil {
		return w.progressErr(jobID, err)
	}

	group := make([]poller.GroupJob, 0, len(sections))
	for i, sec := range sections {
		if sec.AudioURL == "" {
			return w.failJob(ctx, jobID, fmt.Errorf("section %d (%s) has no recording", i, sec.Label))
		}
		h, err := w.instrumentals.Start(jobCtx, client.StartInput{
			Kind:          model.JobKindInstrumental,
			SourceURLs:    []string{sec.AudioURL},
			Style:         payload.Style,
			NegativeStyle: payload.NegativeStyle,
			VocalGender:   payload.VocalGender,
		})
		if err != nil {
			return w.failJob(ctx, jobID, err)
		}
		group = append(group, poller.GroupJob{
			Name:   sec.Label,
			Client: w.instrumentals,
			Handle: h,
		})
	}

	if err := w.progress(ctx, jobID, 15, fmt.Sprintf("Generating %d instrumentals", len(group))); err != nil {
		return w.progressErr(jobID, err)
	}

	results, err := poller.PollGroup(jobCtx, group, w.pollOpts)
	if err != nil {
		return w.failJob(ctx, jobID, err)
	}

	if err := w.progress(ctx, jobID, 80, "Storing instrumentals"); err != nil {
		return w.progressErr(jobID, err)
	}

	urls := make([]string, len(sections))
	for i, outputs := range results {
		if len(outputs) == 0 {
			return w.failJob(ctx, jobID, fmt.Errorf("section %s produced no audio", group[i].Name))
		}
		urls[i] = w.promote(ctx, outputs[0],
			storage.BuildKey("instrumentals", payload.UserID, payload.ProjectID, sections[i].Label, "wav"))
	}

	proj, err := w.controller.CompleteAsyncStage(ctx, payload.UserID, payload.ProjectID, model.StageProcessing,
		func(st *model.FlowState) {
			for i := range st.Sections {
				if i < len(urls) {
					st.Sections[i].InstrumentalURL = urls[i]
				}
			}
		})
	if err != nil {
		return w.failJob(ctx, jobID, err)
	}

	w.hub.BroadcastStage(jobID, payload.ProjectID, proj.State.Stage)
	return w.complete(ctx, jobID, map[string]interface{}{
		"sections":         len(urls),
		"instrumentalUrls": urls,
	})
}

// mockInstrumentals exits the processing stage with a placeholder
// instrumental per section when the generation provider has no
// credentials.
func (w *Workers) mockInstrumentals(ctx, jobCtx context.Context, jobID string, payload *model.InstrumentalJobPayload, sections []model.Section) error {
	log.Printf("[Worker] Instrumentals job %s completing with mock results (provider not configured)", jobID)

	steps := []struct {
		pct      int
		step     string
		duration time.Duration
	}{
		{15, "Submitting section generations", 300 * time.Millisecond},
		{50, fmt.Sprintf("Generating %d instrumentals", len(sections)), 500 * time.Millisecond},
		{85, "Storing instrumentals", 300 * time.Millisecond},
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

	urls := make([]string, len(sections))
	for i := range sections {
		urls[i] = w.gateway.PublicURL(
			storage.BuildKey("instrumentals", payload.UserID, payload.ProjectID, sections[i].Label, "wav"))
	}

	proj, err := w.controller.CompleteAsyncStage(ctx, payload.UserID, payload.ProjectID, model.StageProcessing,
		func(st *model.FlowState) {
			for i := range st.Sections {
				if i < len(urls) {
					st.Sections[i].InstrumentalURL = urls[i]
				}
			}
		})
	if err != nil {
		return w.failJob(ctx, jobID, err)
	}

	w.hub.BroadcastStage(jobID, payload.ProjectID, proj.State.Stage)
	return w.complete(ctx, jobID, map[string]interface{}{
		"sections":         len(urls),
		"instrumentalUrls": urls,
	})
}
