// Package store persists project documents: the resumable pipeline state
// each stage controller reads and writes. Only plain serializable data goes
// in; binary audio must already live behind a durable URL.
package store

import (
	"context"
	"errors"

	"github.com/songlab/api/internal/model"
)

// ErrNotFound is returned when a project does not exist or is not owned by
// the requesting user.
var ErrNotFound = errors.New("project not found")

// ProjectStore is the persistence contract for project documents. Load and
// Update enforce ownership: a project id paired with the wrong user id
// behaves like a missing project.
type ProjectStore interface {
	Save(ctx context.Context, p *model.Project) error
	Update(ctx context.Context, p *model.Project) error
	Load(ctx context.Context, id, userID string) (*model.Project, error)
	ListOpenDrafts(ctx context.Context, userID string) ([]*model.Project, error)
	Delete(ctx context.Context, id, userID string) error
}
