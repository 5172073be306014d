package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/songlab/api/internal/model"
)

func testProject(id, userID string, status model.ProjectStatus) *model.Project {
	state, _ := model.NewFlowState(model.FlowSearch)
	now := time.Now()
	return &model.Project{
		ID:        id,
		UserID:    userID,
		SongName:  "Test Song",
		FlowType:  model.FlowSearch,
		Status:    status,
		State:     state,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryStoreSaveAndLoad(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := testProject("p1", "u1", model.ProjectStatusOpen)
	if err := s.Save(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := s.Load(ctx, "p1", "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.SongName != "Test Song" || loaded.State.Stage != model.StageSelectSong {
		t.Errorf("loaded project lost data: %+v", loaded)
	}

	// loaded copy is detached from the stored document
	loaded.SongName = "mutated"
	reloaded, err := s.Load(ctx, "p1", "u1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.SongName != "Test Song" {
		t.Error("mutating a loaded project leaked into the store")
	}
}

func TestMemoryStoreOwnership(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Save(ctx, testProject("p1", "u1", model.ProjectStatusOpen)); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := s.Load(ctx, "p1", "u2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("wrong owner load: expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, "p1", "u2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("wrong owner delete: expected ErrNotFound, got %v", err)
	}
	if _, err := s.Load(ctx, "missing", "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing id: expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreListOpenDrafts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	old := testProject("p1", "u1", model.ProjectStatusOpen)
	old.UpdatedAt = time.Now().Add(-time.Hour)
	newer := testProject("p2", "u1", model.ProjectStatusRecording)
	done := testProject("p3", "u1", model.ProjectStatusCompleted)
	other := testProject("p4", "u2", model.ProjectStatusOpen)

	for _, p := range []*model.Project{old, newer, done, other} {
		if err := s.Save(ctx, p); err != nil {
			t.Fatalf("save %s: %v", p.ID, err)
		}
	}

	drafts, err := s.ListOpenDrafts(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(drafts) != 2 {
		t.Fatalf("expected 2 drafts, got %d", len(drafts))
	}
	if drafts[0].ID != "p2" || drafts[1].ID != "p1" {
		t.Errorf("drafts not ordered newest first: %s, %s", drafts[0].ID, drafts[1].ID)
	}
}

func TestMemoryStoreUpdateMissing(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Update(context.Background(), testProject("ghost", "u1", model.ProjectStatusOpen)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
