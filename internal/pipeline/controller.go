// Package pipeline implements the stage controllers that walk a project
// through its flow: ordered synchronous transitions for user actions,
// worker-driven exits for asynchronous stages, and the completion gate
// that holds the finish transition until every section is recorded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/songlab/api/internal/model"
	"github.com/songlab/api/internal/store"
)

var (
	// ErrInvalidTransition rejects a stage move that is not the flow's
	// immediate next step.
	ErrInvalidTransition = errors.New("invalid stage transition")
	// ErrStageLocked rejects synchronous moves into or out of an
	// asynchronous stage (those are owned by the pipeline workers) and
	// recording actions outside the flow's recording stages.
	ErrStageLocked = errors.New("stage is driven by a pipeline job")
	// ErrSectionsIncomplete holds the finish gate closed while any
	// section lacks a recording for the active stage.
	ErrSectionsIncomplete = errors.New("not all sections are recorded")
	// ErrNoSections rejects recording actions before a song structure
	// exists.
	ErrNoSections = errors.New("project has no sections")
)

// SessionContext tells a controller whether it is resuming an existing
// project. It replaces ambient session storage: resumption is an explicit
// input, not a flag read from deep inside the stack.
type SessionContext struct {
	IsResuming      bool
	ResumeProjectID string
}

// Controller executes stage transitions for all flows against the project
// store. Exactly one controller owns a project at a time: ownership follows
// the project's flow type, so there is no cross-controller write contention.
type Controller struct {
	store store.ProjectStore
}

func NewController(st store.ProjectStore) *Controller {
	return &Controller{store: st}
}

// Create starts a new project at its flow's first stage (the naming step of
// the portal). Status begins open.
func (c *Controller) Create(ctx context.Context, userID, songName string, flow model.FlowType) (*model.Project, error) {
	state, err := model.NewFlowState(flow)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	p := &model.Project{
		ID:        uuid.New().String(),
		UserID:    userID,
		SongName:  songName,
		FlowType:  flow,
		Status:    model.ProjectStatusOpen,
		State:     state,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := c.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save project: %w", err)
	}
	return p, nil
}

// Open loads the session's project. A resuming session re-enters exactly
// the persisted stage; a fresh session must create a project instead.
func (c *Controller) Open(ctx context.Context, sess SessionContext, userID string) (*model.Project, error) {
	if !sess.IsResuming || sess.ResumeProjectID == "" {
		return nil, errors.New("session has no project to resume")
	}
	return c.store.Load(ctx, sess.ResumeProjectID, userID)
}

// ListOpenDrafts returns the user's resumable projects.
func (c *Controller) ListOpenDrafts(ctx context.Context, userID string) ([]*model.Project, error) {
	return c.store.ListOpenDrafts(ctx, userID)
}

// Delete removes a project the user owns.
func (c *Controller) Delete(ctx context.Context, userID, projectID string) error {
	return c.store.Delete(ctx, projectID, userID)
}

// UpdateMeta applies partial metadata updates (name, playback id, status)
// and, when present, a flow-state update subject to the same no-stage-move
// rule as UpdateState. The completed status is reserved for the finish
// transition: a metadata patch cannot declare a project done while the
// final song is still missing.
func (c *Controller) UpdateMeta(ctx context.Context, userID, projectID string, req *model.ProjectUpdateRequest) (*model.Project, error) {
	p, err := c.store.Load(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	if req.SongName != nil {
		p.SongName = *req.SongName
	}
	if req.PlaybackID != nil {
		p.PlaybackID = *req.PlaybackID
	}
	if req.Status != nil {
		if *req.Status == model.ProjectStatusCompleted && p.State.FinalSongURL == "" {
			return nil, fmt.Errorf("%w: project has no final song yet", ErrInvalidTransition)
		}
		p.Status = *req.Status
	}
	if req.State != nil {
		if req.State.Flow != p.FlowType || req.State.Stage != p.State.Stage {
			return nil, fmt.Errorf("%w: state update cannot change flow or stage", ErrInvalidTransition)
		}
		p.State = req.State
	}

	if err := c.store.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateState replaces the mutable non-stage fields of the flow state
// (style, tempo, script, source url). A stage move smuggled through the
// payload is rejected; stage transitions go through Advance or the
// asynchronous entry/exit methods.
func (c *Controller) UpdateState(ctx context.Context, userID, projectID string, state *model.FlowState) (*model.Project, error) {
	p, err := c.store.Load(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	if state.Flow != p.FlowType || state.Stage != p.State.Stage {
		return nil, fmt.Errorf("%w: state update cannot change flow or stage", ErrInvalidTransition)
	}

	p.State = state
	if err := c.store.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Advance performs a synchronous, user-driven forward transition. Only the
// flow's immediate next stage is reachable, and asynchronous stages can
// neither be entered (jobs enter them) nor left (workers leave them) this
// way. The new stage is persisted before returning.
func (c *Controller) Advance(ctx context.Context, userID, projectID string, to model.Stage) (*model.Project, error) {
	p, err := c.store.Load(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	if model.AsyncStages[p.State.Stage] {
		return nil, fmt.Errorf("%w: %s", ErrStageLocked, p.State.Stage)
	}
	if model.AsyncStages[to] {
		return nil, fmt.Errorf("%w: %s", ErrStageLocked, to)
	}

	cur := model.StageIndex(p.FlowType, p.State.Stage)
	next := model.StageIndex(p.FlowType, to)
	if next < 0 || next != cur+1 {
		return nil, fmt.Errorf("%w: %s -> %s in %s flow", ErrInvalidTransition, p.State.Stage, to, p.FlowType)
	}

	p.State.Stage = to
	p.Status = stageStatus(to, p.Status)
	if err := c.store.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// SetSections establishes the song structure. Allowed until the first
// recording exists; sections are superseded as a whole, never individually
// deleted.
func (c *Controller) SetSections(ctx context.Context, userID, projectID string, sections []model.Section) (*model.Project, error) {
	p, err := c.store.Load(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	for i := range p.State.Sections {
		if p.State.Sections[i].AudioURL != "" {
			return nil, errors.New("song structure is locked once recording has started")
		}
	}

	p.State.Sections = sections
	p.State.CurrentVerseIndex = 0
	if err := c.store.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// RecordSection attaches (or replaces) a recording on one section for the
// current stage. Takes are only accepted while the project sits in one of
// its flow's recording stages. Re-recording is a sub-state: the verse index
// moves inside the recording stage without leaving it.
func (c *Controller) RecordSection(ctx context.Context, userID, projectID string, idx int, audioURL string, layer bool) (*model.Project, error) {
	p, err := c.store.Load(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	if !model.RecordingAllowed(p.FlowType, p.State.Stage) {
		return nil, fmt.Errorf("%w: recordings are not accepted at %s", ErrStageLocked, p.State.Stage)
	}
	if len(p.State.Sections) == 0 {
		return nil, ErrNoSections
	}
	if idx < 0 || idx >= len(p.State.Sections) {
		return nil, fmt.Errorf("section index %d out of range", idx)
	}

	section := &p.State.Sections[idx]
	if layer {
		section.Layers = append(section.Layers, model.RecordingLayer{AudioURL: audioURL})
	} else if p.State.Stage == model.StageFinalRecording {
		section.FinalRecordingURL = audioURL
	} else {
		section.AudioURL = audioURL
	}

	p.State.CurrentVerseIndex = idx
	if p.Status == model.ProjectStatusOpen {
		p.Status = model.ProjectStatusRecording
	}
	if err := c.store.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CanFinish reports whether every section has a recording for the flow's
// gating stage.
func (c *Controller) CanFinish(p *model.Project) bool {
	return model.AllRecorded(p.State.Sections, p.State.RecordingStage())
}

// EnterAsyncStage moves a project into an asynchronous stage when its job
// is enqueued. Re-entry into the current async stage is allowed: that is
// the user retrying after a failure. Gate checks per stage reject starts
// whose inputs are missing, before any job is created.
func (c *Controller) EnterAsyncStage(ctx context.Context, userID, projectID string, stage model.Stage) (*model.Project, error) {
	p, err := c.store.Load(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	if !model.AsyncStages[stage] {
		return nil, fmt.Errorf("%w: %s is not an asynchronous stage", ErrInvalidTransition, stage)
	}

	cur := model.StageIndex(p.FlowType, p.State.Stage)
	next := model.StageIndex(p.FlowType, stage)
	if next < 0 || (next != cur+1 && next != cur) {
		return nil, fmt.Errorf("%w: %s -> %s in %s flow", ErrInvalidTransition, p.State.Stage, stage, p.FlowType)
	}

	if err := c.gateAsyncStage(p, stage); err != nil {
		return nil, err
	}

	p.State.Stage = stage
	p.Status = model.ProjectStatusProcessing
	if err := c.store.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// gateAsyncStage validates the inputs each asynchronous stage consumes.
func (c *Controller) gateAsyncStage(p *model.Project, stage model.Stage) error {
	switch stage {
	case model.StageSeparating:
		if p.State.SourceSongURL == "" {
			return errors.New("no source song to separate")
		}
	case model.StageProcessing:
		if len(p.State.Sections) == 0 {
			return ErrNoSections
		}
		if !model.AllRecorded(p.State.Sections, model.StageSectionRecording) {
			return ErrSectionsIncomplete
		}
	case model.StageGeneratingIntroOutro:
		if !model.AllRecorded(p.State.Sections, model.StageFinalRecording) {
			return ErrSectionsIncomplete
		}
	case model.StageMerging:
		if !c.CanFinish(p) {
			return ErrSectionsIncomplete
		}
	}
	return nil
}

// CompleteAsyncStage is the worker-side exit from an asynchronous stage:
// it applies the job's result to the flow state and advances to the next
// stage, persisting both in one update. Completion is idempotent: if the
// project has already advanced past the stage (a duplicate task delivery),
// the call is a no-op.
func (c *Controller) CompleteAsyncStage(ctx context.Context, userID, projectID string, from model.Stage, apply func(*model.FlowState)) (*model.Project, error) {
	p, err := c.store.Load(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	if p.State.Stage != from {
		if model.StageIndex(p.FlowType, p.State.Stage) > model.StageIndex(p.FlowType, from) {
			return p, nil
		}
		return nil, fmt.Errorf("%w: project is at %s, not %s", ErrInvalidTransition, p.State.Stage, from)
	}

	if apply != nil {
		apply(p.State)
	}

	stages := model.FlowStages[p.FlowType]
	nextIdx := model.StageIndex(p.FlowType, from) + 1
	if nextIdx >= len(stages) {
		return nil, fmt.Errorf("%w: %s has no next stage", ErrInvalidTransition, from)
	}
	next := stages[nextIdx]

	p.State.Stage = next
	p.Status = stageStatus(next, p.Status)
	if err := c.store.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// stageStatus maps a stage to the project lifecycle status it implies.
// A job failure never reaches here: the stage does not move, so the
// previously persisted state stays intact and resumable.
func stageStatus(stage model.Stage, current model.ProjectStatus) model.ProjectStatus {
	switch {
	case stage == model.StageFinish:
		return model.ProjectStatusCompleted
	case model.AsyncStages[stage]:
		return model.ProjectStatusProcessing
	case stage == model.StageSectionRecording || stage == model.StageFinalRecording ||
		stage == model.StageMetronomeRecording || stage == model.StageNarrationRecording:
		return model.ProjectStatusRecording
	default:
		return current
	}
}
