package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/songlab/api/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id          UUID PRIMARY KEY,
	user_id     TEXT NOT NULL,
	song_name   TEXT NOT NULL,
	project_type TEXT NOT NULL,
	playback_id TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	verses      JSONB,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS projects_user_status_idx ON projects (user_id, status);
`

// PostgresStore implements ProjectStore on a relational projects table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the database and ensures the schema exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Save inserts a new project document.
func (s *PostgresStore) Save(ctx context.Context, p *model.Project) error {
	verses, err := marshalState(p.State)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, user_id, song_name, project_type, playback_id, status, verses, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.UserID, p.SongName, p.FlowType, p.PlaybackID, p.Status, verses, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

// Update re-persists the full document, enforcing ownership.
func (s *PostgresStore) Update(ctx context.Context, p *model.Project) error {
	verses, err := marshalState(p.State)
	if err != nil {
		return err
	}
	p.UpdatedAt = time.Now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE projects
		SET song_name = $1, playback_id = $2, status = $3, verses = $4, updated_at = $5
		WHERE id = $6 AND user_id = $7`,
		p.SongName, p.PlaybackID, p.Status, verses, p.UpdatedAt, p.ID, p.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Load reconstructs a full project, including its deserialized (and
// validated) pipeline state.
func (s *PostgresStore) Load(ctx context.Context, id, userID string) (*model.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, song_name, project_type, playback_id, status, verses, created_at, updated_at
		FROM projects WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	return scanProject(row)
}

// ListOpenDrafts returns the user's resumable projects, newest first.
func (s *PostgresStore) ListOpenDrafts(ctx context.Context, userID string) ([]*model.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, song_name, project_type, playback_id, status, verses, created_at, updated_at
		FROM projects
		WHERE user_id = $1 AND status != $2
		ORDER BY updated_at DESC`,
		userID, model.ProjectStatusCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// Delete removes a project, enforcing ownership.
func (s *PostgresStore) Delete(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row rowScanner) (*model.Project, error) {
	var p model.Project
	var verses []byte
	err := row.Scan(&p.ID, &p.UserID, &p.SongName, &p.FlowType, &p.PlaybackID, &p.Status, &verses, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}

	if len(verses) > 0 {
		var state model.FlowState
		if err := json.Unmarshal(verses, &state); err != nil {
			return nil, fmt.Errorf("invalid pipeline state for project %s: %w", p.ID, err)
		}
		p.State = &state
	}
	return &p, nil
}

func marshalState(state *model.FlowState) ([]byte, error) {
	if state == nil {
		return nil, nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pipeline state: %w", err)
	}
	return data, nil
}
