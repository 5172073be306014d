package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/songlab/api/internal/model"
	"github.com/songlab/api/internal/store"
)

const testUser = "user-1"

func newTestController() *Controller {
	return NewController(store.NewMemoryStore())
}

func createProject(t *testing.T, c *Controller, flow model.FlowType) *model.Project {
	t.Helper()
	p, err := c.Create(context.Background(), testUser, "Test Song", flow)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return p
}

func TestCreateStartsAtFirstStage(t *testing.T) {
	c := newTestController()
	p := createProject(t, c, model.FlowSearch)

	if p.State.Stage != model.StageSelectSong {
		t.Errorf("expected select-song, got %s", p.State.Stage)
	}
	if p.Status != model.ProjectStatusOpen {
		t.Errorf("expected open status, got %s", p.Status)
	}
}

func TestOpenResumesPersistedStage(t *testing.T) {
	c := newTestController()
	ctx := context.Background()
	p := createProject(t, c, model.FlowAI)

	if _, err := c.Advance(ctx, testUser, p.ID, model.StageMetronomeRecording); err != nil {
		t.Fatalf("advance: %v", err)
	}

	resumed, err := c.Open(ctx, SessionContext{IsResuming: true, ResumeProjectID: p.ID}, testUser)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if resumed.State.Stage != model.StageMetronomeRecording {
		t.Errorf("resume landed on %s", resumed.State.Stage)
	}
}

func TestOpenWithoutResumeContextFails(t *testing.T) {
	c := newTestController()
	if _, err := c.Open(context.Background(), SessionContext{}, testUser); err == nil {
		t.Fatal("expected error for a session with nothing to resume")
	}
}

func TestOpenEnforcesOwnership(t *testing.T) {
	c := newTestController()
	p := createProject(t, c, model.FlowSearch)

	_, err := c.Open(context.Background(), SessionContext{IsResuming: true, ResumeProjectID: p.ID}, "other-user")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for wrong owner, got %v", err)
	}
}

func TestAdvanceRejectsSkippingStages(t *testing.T) {
	c := newTestController()
	p := createProject(t, c, model.FlowAI)

	// select-tempo -> select-style skips metronome-recording
	_, err := c.Advance(context.Background(), testUser, p.ID, model.StageSelectStyle)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestAdvanceRejectsBackwardMoves(t *testing.T) {
	c := newTestController()
	ctx := context.Background()
	p := createProject(t, c, model.FlowAI)

	if _, err := c.Advance(ctx, testUser, p.ID, model.StageMetronomeRecording); err != nil {
		t.Fatalf("advance: %v", err)
	}
	_, err := c.Advance(ctx, testUser, p.ID, model.StageSelectTempo)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestAdvanceCannotEnterAsyncStage(t *testing.T) {
	c := newTestController()
	p := createProject(t, c, model.FlowSearch)

	_, err := c.Advance(context.Background(), testUser, p.ID, model.StageSeparating)
	if !errors.Is(err, ErrStageLocked) {
		t.Fatalf("expected ErrStageLocked, got %v", err)
	}
}

func TestAdvanceCannotLeaveAsyncStage(t *testing.T) {
	c := newTestController()
	ctx := context.Background()
	p := createProject(t, c, model.FlowSearch)

	setSourceSong(t, c, p.ID)
	if _, err := c.EnterAsyncStage(ctx, testUser, p.ID, model.StageSeparating); err != nil {
		t.Fatalf("enter async: %v", err)
	}

	_, err := c.Advance(ctx, testUser, p.ID, model.StageSectionRecording)
	if !errors.Is(err, ErrStageLocked) {
		t.Fatalf("expected ErrStageLocked, got %v", err)
	}
}

func TestSetSectionsLockedAfterFirstRecording(t *testing.T) {
	c := newTestController()
	ctx := context.Background()
	p := createProject(t, c, model.FlowNarration)

	sections := []model.Section{
		{Type: model.SectionVerse, Label: "verse-1"},
		{Type: model.SectionChorus, Label: "chorus"},
	}
	if _, err := c.SetSections(ctx, testUser, p.ID, sections); err != nil {
		t.Fatalf("set sections: %v", err)
	}
	if _, err := c.Advance(ctx, testUser, p.ID, model.StageNarrationRecording); err != nil {
		t.Fatalf("advance: %v", err)
	}

	if _, err := c.RecordSection(ctx, testUser, p.ID, 0, "https://cdn.songlab.app/take.wav", false); err != nil {
		t.Fatalf("record: %v", err)
	}

	if _, err := c.SetSections(ctx, testUser, p.ID, sections[:1]); err == nil {
		t.Fatal("expected structure to be locked after a recording exists")
	}
}

func TestRecordSectionMovesVerseIndex(t *testing.T) {
	c := newTestController()
	ctx := context.Background()
	p := createProject(t, c, model.FlowUpload)
	moveToSectionRecording(t, c, p.ID)

	sections := []model.Section{
		{Type: model.SectionVerse, Label: "verse-1"},
		{Type: model.SectionVerse, Label: "verse-2"},
	}
	if _, err := c.SetSections(ctx, testUser, p.ID, sections); err != nil {
		t.Fatalf("set sections: %v", err)
	}

	updated, err := c.RecordSection(ctx, testUser, p.ID, 1, "https://cdn.songlab.app/v2.wav", false)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if updated.State.CurrentVerseIndex != 1 {
		t.Errorf("verse index = %d, want 1", updated.State.CurrentVerseIndex)
	}
	if updated.Status != model.ProjectStatusRecording {
		t.Errorf("status = %s, want recording", updated.Status)
	}
	// re-recording replaces, never appends
	again, err := c.RecordSection(ctx, testUser, p.ID, 1, "https://cdn.songlab.app/v2-retake.wav", false)
	if err != nil {
		t.Fatalf("re-record: %v", err)
	}
	if again.State.Sections[1].AudioURL != "https://cdn.songlab.app/v2-retake.wav" {
		t.Errorf("re-record did not replace: %s", again.State.Sections[1].AudioURL)
	}
}

func TestRecordSectionLayerStacksHarmony(t *testing.T) {
	c := newTestController()
	ctx := context.Background()
	p := createProject(t, c, model.FlowUpload)
	moveToSectionRecording(t, c, p.ID)

	if _, err := c.SetSections(ctx, testUser, p.ID, []model.Section{{Type: model.SectionVerse, Label: "verse-1"}}); err != nil {
		t.Fatalf("set sections: %v", err)
	}
	if _, err := c.RecordSection(ctx, testUser, p.ID, 0, "https://cdn.songlab.app/lead.wav", false); err != nil {
		t.Fatalf("record: %v", err)
	}
	updated, err := c.RecordSection(ctx, testUser, p.ID, 0, "https://cdn.songlab.app/harmony.wav", true)
	if err != nil {
		t.Fatalf("layer: %v", err)
	}

	sec := updated.State.Sections[0]
	if sec.AudioURL != "https://cdn.songlab.app/lead.wav" {
		t.Errorf("layering overwrote the lead take: %s", sec.AudioURL)
	}
	if len(sec.Layers) != 1 || sec.Layers[0].AudioURL != "https://cdn.songlab.app/harmony.wav" {
		t.Errorf("layer not stacked: %+v", sec.Layers)
	}
}

func TestRecordSectionOutOfRange(t *testing.T) {
	c := newTestController()
	ctx := context.Background()
	p := createProject(t, c, model.FlowUpload)
	moveToSectionRecording(t, c, p.ID)

	if _, err := c.RecordSection(ctx, testUser, p.ID, 0, "x.wav", false); !errors.Is(err, ErrNoSections) {
		t.Fatalf("expected ErrNoSections, got %v", err)
	}

	if _, err := c.SetSections(ctx, testUser, p.ID, []model.Section{{Label: "verse-1"}}); err != nil {
		t.Fatalf("set sections: %v", err)
	}
	if _, err := c.RecordSection(ctx, testUser, p.ID, 5, "x.wav", false); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestRecordSectionOnlyInRecordingStages(t *testing.T) {
	c := newTestController()
	ctx := context.Background()

	// upload flow still picking the source song
	up := createProject(t, c, model.FlowUpload)
	if _, err := c.SetSections(ctx, testUser, up.ID, []model.Section{{Type: model.SectionVerse, Label: "verse-1"}}); err != nil {
		t.Fatalf("set sections: %v", err)
	}
	if _, err := c.RecordSection(ctx, testUser, up.ID, 0, "https://cdn.songlab.app/take.wav", false); !errors.Is(err, ErrStageLocked) {
		t.Fatalf("expected ErrStageLocked at upload-song, got %v", err)
	}

	// ai flow still picking the tempo
	ai := createProject(t, c, model.FlowAI)
	if _, err := c.SetSections(ctx, testUser, ai.ID, []model.Section{{Type: model.SectionVerse, Label: "verse-1"}}); err != nil {
		t.Fatalf("set sections: %v", err)
	}
	if _, err := c.RecordSection(ctx, testUser, ai.ID, 0, "https://cdn.songlab.app/take.wav", false); !errors.Is(err, ErrStageLocked) {
		t.Fatalf("expected ErrStageLocked at select-tempo, got %v", err)
	}

	// the gate opens once the flow reaches its recording stage
	if _, err := c.Advance(ctx, testUser, ai.ID, model.StageMetronomeRecording); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := c.RecordSection(ctx, testUser, ai.ID, 0, "https://cdn.songlab.app/take.wav", false); err != nil {
		t.Fatalf("record at metronome-recording: %v", err)
	}
}

// setSourceSong puts a source URL on a project so the separating gate
// opens.
func setSourceSong(t *testing.T, c *Controller, projectID string) {
	t.Helper()
	ctx := context.Background()
	p, err := c.Open(ctx, SessionContext{IsResuming: true, ResumeProjectID: projectID}, testUser)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	p.State.SourceSongURL = "https://cdn.songlab.app/source.wav"
	if _, err := c.UpdateState(ctx, testUser, projectID, p.State); err != nil {
		t.Fatalf("update state: %v", err)
	}
}

// moveToSectionRecording walks a search or upload project through the
// separating stage so recording actions are open.
func moveToSectionRecording(t *testing.T, c *Controller, projectID string) {
	t.Helper()
	ctx := context.Background()
	setSourceSong(t, c, projectID)
	if _, err := c.EnterAsyncStage(ctx, testUser, projectID, model.StageSeparating); err != nil {
		t.Fatalf("enter separating: %v", err)
	}
	if _, err := c.CompleteAsyncStage(ctx, testUser, projectID, model.StageSeparating, nil); err != nil {
		t.Fatalf("complete separating: %v", err)
	}
}

func TestEnterAsyncStageRequiresInputs(t *testing.T) {
	c := newTestController()
	ctx := context.Background()
	p := createProject(t, c, model.FlowSearch)

	// no source song yet
	if _, err := c.EnterAsyncStage(ctx, testUser, p.ID, model.StageSeparating); err == nil {
		t.Fatal("separating gate must require a source song")
	}

	setSourceSong(t, c, p.ID)
	updated, err := c.EnterAsyncStage(ctx, testUser, p.ID, model.StageSeparating)
	if err != nil {
		t.Fatalf("enter async: %v", err)
	}
	if updated.State.Stage != model.StageSeparating {
		t.Errorf("stage = %s", updated.State.Stage)
	}
	if updated.Status != model.ProjectStatusProcessing {
		t.Errorf("status = %s, want processing", updated.Status)
	}
}

func TestEnterAsyncStageAllowsRetry(t *testing.T) {
	c := newTestController()
	ctx := context.Background()
	p := createProject(t, c, model.FlowSearch)

	setSourceSong(t, c, p.ID)
	if _, err := c.EnterAsyncStage(ctx, testUser, p.ID, model.StageSeparating); err != nil {
		t.Fatalf("enter async: %v", err)
	}
	// a failed job leaves the project parked in the stage; retry re-enters
	if _, err := c.EnterAsyncStage(ctx, testUser, p.ID, model.StageSeparating); err != nil {
		t.Fatalf("retry re-entry: %v", err)
	}
}

func TestMergingGateRequiresAllRecordings(t *testing.T) {
	c := newTestController()
	ctx := context.Background()
	p := createProject(t, c, model.FlowUpload)
	moveToSectionRecording(t, c, p.ID)

	sections := []model.Section{
		{Type: model.SectionVerse, Label: "verse-1"},
		{Type: model.SectionChorus, Label: "chorus"},
	}
	if _, err := c.SetSections(ctx, testUser, p.ID, sections); err != nil {
		t.Fatalf("set sections: %v", err)
	}
	if _, err := c.RecordSection(ctx, testUser, p.ID, 0, "https://cdn.songlab.app/v1.wav", false); err != nil {
		t.Fatalf("record: %v", err)
	}

	// one section still missing its take
	if _, err := c.EnterAsyncStage(ctx, testUser, p.ID, model.StageMerging); !errors.Is(err, ErrSectionsIncomplete) {
		t.Fatalf("expected ErrSectionsIncomplete, got %v", err)
	}

	if _, err := c.RecordSection(ctx, testUser, p.ID, 1, "https://cdn.songlab.app/c1.wav", false); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := c.EnterAsyncStage(ctx, testUser, p.ID, model.StageMerging); err != nil {
		t.Fatalf("merging gate should open once all sections recorded: %v", err)
	}
}

func TestCompleteAsyncStageAdvancesAndApplies(t *testing.T) {
	c := newTestController()
	ctx := context.Background()
	p := createProject(t, c, model.FlowSearch)

	setSourceSong(t, c, p.ID)
	if _, err := c.EnterAsyncStage(ctx, testUser, p.ID, model.StageSeparating); err != nil {
		t.Fatalf("enter async: %v", err)
	}

	updated, err := c.CompleteAsyncStage(ctx, testUser, p.ID, model.StageSeparating, func(st *model.FlowState) {
		st.InstrumentalURL = "https://cdn.songlab.app/inst.wav"
		st.VocalURL = "https://cdn.songlab.app/vocal.wav"
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if updated.State.Stage != model.StageSectionRecording {
		t.Errorf("stage = %s, want section-recording", updated.State.Stage)
	}
	if updated.State.InstrumentalURL == "" || updated.State.VocalURL == "" {
		t.Error("result was not applied to the flow state")
	}
	if updated.Status != model.ProjectStatusRecording {
		t.Errorf("status = %s, want recording", updated.Status)
	}
}

func TestCompleteAsyncStageIsIdempotent(t *testing.T) {
	c := newTestController()
	ctx := context.Background()
	p := createProject(t, c, model.FlowSearch)

	setSourceSong(t, c, p.ID)
	if _, err := c.EnterAsyncStage(ctx, testUser, p.ID, model.StageSeparating); err != nil {
		t.Fatalf("enter async: %v", err)
	}
	if _, err := c.CompleteAsyncStage(ctx, testUser, p.ID, model.StageSeparating, func(st *model.FlowState) {
		st.InstrumentalURL = "first"
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// duplicate delivery must not re-apply or move the stage
	again, err := c.CompleteAsyncStage(ctx, testUser, p.ID, model.StageSeparating, func(st *model.FlowState) {
		st.InstrumentalURL = "second"
	})
	if err != nil {
		t.Fatalf("duplicate completion errored: %v", err)
	}
	if again.State.InstrumentalURL != "first" {
		t.Errorf("duplicate completion re-applied: %s", again.State.InstrumentalURL)
	}
	if again.State.Stage != model.StageSectionRecording {
		t.Errorf("duplicate completion moved stage to %s", again.State.Stage)
	}
}

func TestFinishCompletesProject(t *testing.T) {
	c := newTestController()
	ctx := context.Background()
	p := createProject(t, c, model.FlowUpload)
	moveToSectionRecording(t, c, p.ID)

	if _, err := c.SetSections(ctx, testUser, p.ID, []model.Section{{Label: "verse-1"}}); err != nil {
		t.Fatalf("set sections: %v", err)
	}
	if _, err := c.RecordSection(ctx, testUser, p.ID, 0, "https://cdn.songlab.app/v1.wav", false); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := c.EnterAsyncStage(ctx, testUser, p.ID, model.StageMerging); err != nil {
		t.Fatalf("enter merging: %v", err)
	}

	final, err := c.CompleteAsyncStage(ctx, testUser, p.ID, model.StageMerging, func(st *model.FlowState) {
		st.FinalSongURL = "https://cdn.songlab.app/final.wav"
	})
	if err != nil {
		t.Fatalf("complete merging: %v", err)
	}
	if final.State.Stage != model.StageFinish {
		t.Errorf("stage = %s, want finish", final.State.Stage)
	}
	if final.Status != model.ProjectStatusCompleted {
		t.Errorf("status = %s, want completed", final.Status)
	}
	if final.State.FinalSongURL == "" {
		t.Error("final song URL missing")
	}
}

func TestUpdateStateCannotMoveStage(t *testing.T) {
	c := newTestController()
	ctx := context.Background()
	p := createProject(t, c, model.FlowAI)

	st := *p.State
	st.Stage = model.StageFinalRecording
	if _, err := c.UpdateState(ctx, testUser, p.ID, &st); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestUpdateMetaPartialFields(t *testing.T) {
	c := newTestController()
	ctx := context.Background()
	p := createProject(t, c, model.FlowAI)

	name := "Renamed Song"
	playback := "pb-123"
	updated, err := c.UpdateMeta(ctx, testUser, p.ID, &model.ProjectUpdateRequest{
		SongName:   &name,
		PlaybackID: &playback,
	})
	if err != nil {
		t.Fatalf("update meta: %v", err)
	}
	if updated.SongName != "Renamed Song" || updated.PlaybackID != "pb-123" {
		t.Errorf("fields not applied: %+v", updated)
	}
	if updated.State.Stage != model.StageSelectTempo {
		t.Errorf("meta update moved stage to %s", updated.State.Stage)
	}
}

func TestUpdateMetaCannotCompleteWithoutFinalSong(t *testing.T) {
	c := newTestController()
	ctx := context.Background()
	p := createProject(t, c, model.FlowAI)

	done := model.ProjectStatusCompleted
	_, err := c.UpdateMeta(ctx, testUser, p.ID, &model.ProjectUpdateRequest{Status: &done})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	// with the final song in place the status patch is legitimate
	st := *p.State
	st.FinalSongURL = "https://cdn.songlab.app/final.wav"
	if _, err := c.UpdateState(ctx, testUser, p.ID, &st); err != nil {
		t.Fatalf("update state: %v", err)
	}
	updated, err := c.UpdateMeta(ctx, testUser, p.ID, &model.ProjectUpdateRequest{Status: &done})
	if err != nil {
		t.Fatalf("update meta: %v", err)
	}
	if updated.Status != model.ProjectStatusCompleted {
		t.Errorf("status = %s, want completed", updated.Status)
	}
}

func TestDeleteEnforcesOwnership(t *testing.T) {
	c := newTestController()
	ctx := context.Background()
	p := createProject(t, c, model.FlowSearch)

	if err := c.Delete(ctx, "other-user", p.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := c.Delete(ctx, testUser, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.Open(ctx, SessionContext{IsResuming: true, ResumeProjectID: p.ID}, testUser); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
