package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/songlab/api/internal/model"
)

// MemoryStore is the ProjectStore used when Postgres is not configured and
// in tests. Documents round-trip through JSON so serialization behaves the
// same as the relational store.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{projects: make(map[string][]byte)}
}

func (s *MemoryStore) Save(ctx context.Context, p *model.Project) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = data
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.loadLocked(p.ID, p.UserID)
	if err != nil {
		return err
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now()

	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	s.projects[p.ID] = data
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, id, userID string) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadLocked(id, userID)
}

func (s *MemoryStore) ListOpenDrafts(ctx context.Context, userID string) ([]*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var projects []*model.Project
	for _, data := range s.projects {
		var p model.Project
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		if p.UserID == userID && p.Status != model.ProjectStatusCompleted {
			projects = append(projects, &p)
		}
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].UpdatedAt.After(projects[j].UpdatedAt)
	})
	return projects, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.loadLocked(id, userID); err != nil {
		return err
	}
	delete(s.projects, id)
	return nil
}

func (s *MemoryStore) loadLocked(id, userID string) (*model.Project, error) {
	data, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	var p model.Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, ErrNotFound
	}
	return &p, nil
}
