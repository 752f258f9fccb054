// Package tournament is the metadata store for tournament records: the
// Postgres rows behind the REST listing/creation endpoints and the state
// blobs the registry loads from and saves to.
package tournament

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pokerclock/internal/clock"
	"pokerclock/internal/persist"
)

// ErrNotFound is returned when no tournament row exists for the id.
var ErrNotFound = errors.New("tournament not found")

// Tournament is one metadata row. The live clock/ledger state lives in the
// registry; StateJSON is its persisted form.
type Tournament struct {
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	Owner     string       `json:"owner"`
	Status    clock.Status `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS tournaments (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL,
	owner       TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'pending',
	state_json  JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// EnsureSchema creates the tournaments table if it does not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tournaments table: %w", err)
	}
	return nil
}

// List returns all tournaments, optionally filtered by status.
func (r *Repository) List(ctx context.Context, status clock.Status) ([]Tournament, error) {
	query := `SELECT id, name, owner, status, created_at, updated_at FROM tournaments`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tournaments: %w", err)
	}
	defer rows.Close()

	var out []Tournament
	for rows.Next() {
		var t Tournament
		if err := rows.Scan(&t.ID, &t.Name, &t.Owner, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tournament row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListIDs returns the ids of all non-finished tournaments, used for eager
// registry loading at startup.
func (r *Repository) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM tournaments WHERE status <> 'finished' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tournament ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tournament id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Create inserts a new pending tournament, optionally pre-seeded with a state
// blob (e.g. a preset schedule).
func (r *Repository) Create(ctx context.Context, name, owner string, stateJSON []byte) (*Tournament, error) {
	if len(stateJSON) == 0 {
		stateJSON = []byte(`{}`)
	}
	var t Tournament
	err := r.pool.QueryRow(ctx,
		`INSERT INTO tournaments (name, owner, state_json) VALUES ($1, $2, $3)
		 RETURNING id, name, owner, status, created_at, updated_at`,
		name, owner, stateJSON,
	).Scan(&t.ID, &t.Name, &t.Owner, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create tournament: %w", err)
	}
	return &t, nil
}

// Get returns one tournament row.
func (r *Repository) Get(ctx context.Context, id int64) (*Tournament, error) {
	var t Tournament
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, owner, status, created_at, updated_at FROM tournaments WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Owner, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tournament: %w", err)
	}
	return &t, nil
}

// Rename updates the display name.
func (r *Repository) Rename(ctx context.Context, id int64, name string) (*Tournament, error) {
	var t Tournament
	err := r.pool.QueryRow(ctx,
		`UPDATE tournaments SET name = $2, updated_at = now() WHERE id = $1
		 RETURNING id, name, owner, status, created_at, updated_at`,
		id, name,
	).Scan(&t.ID, &t.Name, &t.Owner, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to rename tournament: %w", err)
	}
	return &t, nil
}

// Finish marks the tournament finished and stores its final state blob.
func (r *Repository) Finish(ctx context.Context, id int64, stateJSON []byte) (*Tournament, error) {
	var t Tournament
	err := r.pool.QueryRow(ctx,
		`UPDATE tournaments SET status = 'finished', state_json = $2, updated_at = now() WHERE id = $1
		 RETURNING id, name, owner, status, created_at, updated_at`,
		id, stateJSON,
	).Scan(&t.ID, &t.Name, &t.Owner, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to finish tournament: %w", err)
	}
	return &t, nil
}

// LoadState implements persist.Store.
func (r *Repository) LoadState(ctx context.Context, tournamentID int64) ([]byte, error) {
	var blob []byte
	err := r.pool.QueryRow(ctx,
		`SELECT state_json FROM tournaments WHERE id = $1`, tournamentID,
	).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, persist.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	return blob, nil
}

// SaveState implements persist.Store. Status follows the running flag but a
// finished tournament stays finished.
func (r *Repository) SaveState(ctx context.Context, tournamentID int64, blob []byte, running bool) error {
	status := string(clock.StatusPending)
	if running {
		status = string(clock.StatusRunning)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE tournaments
		 SET state_json = $2,
		     status = CASE WHEN status = 'finished' THEN status ELSE $3 END,
		     updated_at = now()
		 WHERE id = $1`,
		tournamentID, blob, status,
	)
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}
