// Package player is the persistent store behind the self-service player
// endpoints: player profiles keyed by username and per-tournament
// registration entries. A player holds at most one active entry in a
// non-finished tournament at a time.
package player

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no row exists for the lookup.
var ErrNotFound = errors.New("player not found")

// Player is one profile row. The username comes from the bearer token and is
// the stable identity; nickname is the display name players set themselves.
type Player struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Nickname  string    `json:"nickname"`
	CreatedAt time.Time `json:"createdAt"`
}

// Entry is one registration of a player in a tournament. A busted player
// keeps the row with IsActive false so re-registering reactivates it.
type Entry struct {
	PlayerID     int64     `json:"playerId"`
	TournamentID int64     `json:"tournamentId"`
	Username     string    `json:"username"`
	Nickname     string    `json:"nickname"`
	IsActive     bool      `json:"is_active"`
	JoinedAt     time.Time `json:"joined_at"`
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS players (
	id          BIGSERIAL PRIMARY KEY,
	username    TEXT NOT NULL UNIQUE,
	nickname    TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS tournament_entries (
	player_id      BIGINT NOT NULL REFERENCES players(id) ON DELETE CASCADE,
	tournament_id  BIGINT NOT NULL REFERENCES tournaments(id) ON DELETE CASCADE,
	is_active      BOOLEAN NOT NULL DEFAULT TRUE,
	joined_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (player_id, tournament_id)
)`

// EnsureSchema creates the player tables if they do not exist. The
// tournaments table must exist first because of the foreign key.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create player tables: %w", err)
	}
	return nil
}

// GetOrCreate returns the profile for the username, inserting an empty one
// on first sight. Identities are minted by the token issuer, so any verified
// username is a valid player.
func (r *Repository) GetOrCreate(ctx context.Context, username string) (*Player, error) {
	var p Player
	err := r.pool.QueryRow(ctx,
		`INSERT INTO players (username) VALUES ($1)
		 ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username
		 RETURNING id, username, nickname, created_at`,
		username,
	).Scan(&p.ID, &p.Username, &p.Nickname, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert player: %w", err)
	}
	return &p, nil
}

// SetNickname updates the display name.
func (r *Repository) SetNickname(ctx context.Context, playerID int64, nickname string) (*Player, error) {
	var p Player
	err := r.pool.QueryRow(ctx,
		`UPDATE players SET nickname = $2 WHERE id = $1
		 RETURNING id, username, nickname, created_at`,
		playerID, nickname,
	).Scan(&p.ID, &p.Username, &p.Nickname, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set nickname: %w", err)
	}
	return &p, nil
}

// ActiveEntry returns the player's active entry in a non-finished
// tournament, or ErrNotFound when the player is not seated anywhere.
func (r *Repository) ActiveEntry(ctx context.Context, playerID int64) (*Entry, error) {
	var e Entry
	err := r.pool.QueryRow(ctx,
		`SELECT e.player_id, e.tournament_id, p.username, p.nickname, e.is_active, e.joined_at
		 FROM tournament_entries e
		 JOIN players p ON p.id = e.player_id
		 JOIN tournaments t ON t.id = e.tournament_id
		 WHERE e.player_id = $1 AND e.is_active AND t.status <> 'finished'`,
		playerID,
	).Scan(&e.PlayerID, &e.TournamentID, &e.Username, &e.Nickname, &e.IsActive, &e.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active entry: %w", err)
	}
	return &e, nil
}

// Register seats the player in the tournament. Re-registering after a bust
// reactivates the existing row; the bool reports whether the entry became
// active by this call.
func (r *Repository) Register(ctx context.Context, playerID, tournamentID int64) (*Entry, bool, error) {
	var e Entry
	var wasActive bool
	err := r.pool.QueryRow(ctx,
		`SELECT e.is_active FROM tournament_entries e
		 WHERE e.player_id = $1 AND e.tournament_id = $2`,
		playerID, tournamentID,
	).Scan(&wasActive)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		err = r.pool.QueryRow(ctx,
			`INSERT INTO tournament_entries (player_id, tournament_id) VALUES ($1, $2)
			 RETURNING player_id, tournament_id, is_active, joined_at`,
			playerID, tournamentID,
		).Scan(&e.PlayerID, &e.TournamentID, &e.IsActive, &e.JoinedAt)
		if err != nil {
			return nil, false, fmt.Errorf("failed to register player: %w", err)
		}
	case err != nil:
		return nil, false, fmt.Errorf("failed to look up entry: %w", err)
	default:
		err = r.pool.QueryRow(ctx,
			`UPDATE tournament_entries SET is_active = TRUE
			 WHERE player_id = $1 AND tournament_id = $2
			 RETURNING player_id, tournament_id, is_active, joined_at`,
			playerID, tournamentID,
		).Scan(&e.PlayerID, &e.TournamentID, &e.IsActive, &e.JoinedAt)
		if err != nil {
			return nil, false, fmt.Errorf("failed to reactivate entry: %w", err)
		}
		if wasActive {
			return &e, false, nil
		}
	}
	return &e, true, nil
}

// ListEntries returns every registration for the tournament, active and
// busted, ordered by join time.
func (r *Repository) ListEntries(ctx context.Context, tournamentID int64) ([]Entry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT e.player_id, e.tournament_id, p.username, p.nickname, e.is_active, e.joined_at
		 FROM tournament_entries e
		 JOIN players p ON p.id = e.player_id
		 WHERE e.tournament_id = $1
		 ORDER BY e.joined_at, e.player_id`,
		tournamentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.PlayerID, &e.TournamentID, &e.Username, &e.Nickname, &e.IsActive, &e.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
