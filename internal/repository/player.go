package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
	"warlog-tracker/internal/domain"

	"github.com/rs/zerolog"
)

type PlayerRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewPlayerRepository(sqlDB *sql.DB, logger zerolog.Logger) *PlayerRepository {
	return &PlayerRepository{
		db:     sqlDB,
		logger: logger,
	}
}

func (r *PlayerRepository) Get(ctx context.Context, playerID string) (*domain.Player, error) {
	var p domain.Player
	var playtimeSeconds int64
	err := r.db.QueryRowContext(ctx, `
		SELECT id, kills, deaths, ff_kills, ff_deaths, playtime_seconds, created_at, updated_at
		FROM players WHERE id = ?`, playerID,
	).Scan(&p.ID, &p.Kills, &p.Deaths, &p.FFKills, &p.FFDeaths, &playtimeSeconds, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.TotalPlaytime = time.Duration(playtimeSeconds) * time.Second
	return &p, nil
}

// AddName records a display name for a player; duplicates are ignored, names
// are never removed.
func (r *PlayerRepository) AddName(ctx context.Context, q DBTX, playerID, name string) error {
	_, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO player_names (player_id, name) VALUES (?, ?)`,
		playerID, name,
	)
	if err != nil {
		return fmt.Errorf("failed to add name %q for player %s: %w", name, playerID, err)
	}
	return nil
}

func (r *PlayerRepository) Names(ctx context.Context, playerID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name FROM player_names WHERE player_id = ? ORDER BY id`, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list names for player %s: %w", playerID, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan player name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (r *PlayerRepository) CreateSession(ctx context.Context, q DBTX, s *domain.Session) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO sessions (player_id, ip, started_at, ended_at) VALUES (?, ?, ?, ?)`,
		s.PlayerID, s.IP, s.StartedAt, s.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session for player %s: %w", s.PlayerID, err)
	}
	return nil
}

// SessionDates returns the distinct calendar dates a player connected on,
// sorted ascending.
func (r *PlayerRepository) SessionDates(ctx context.Context, playerID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT started_at FROM sessions WHERE player_id = ?`, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions for player %s: %w", playerID, err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		var startedAt time.Time
		if err := rows.Scan(&startedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		seen[startedAt.Format("2006-01-02")] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates, nil
}

// Aggregates recomputes the cached counters from the full normalized history.
type Aggregates struct {
	Kills    int
	Deaths   int
	FFKills  int
	FFDeaths int
	Playtime time.Duration
}

func (r *PlayerRepository) ComputeAggregates(ctx context.Context, playerID string) (*Aggregates, error) {
	agg := new(Aggregates)

	counts := []struct {
		dest  *int
		query string
	}{
		{&agg.Kills, `SELECT COUNT(*) FROM frags WHERE killer_id = ?`},
		{&agg.Deaths, `SELECT COUNT(*) FROM frags WHERE victim_id = ?`},
		{&agg.FFKills, `SELECT COUNT(*) FROM frags
			WHERE killer_id = ? AND killer_team_index = victim_team_index AND killer_id <> victim_id`},
		{&agg.FFDeaths, `SELECT COUNT(*) FROM frags
			WHERE victim_id = ? AND killer_team_index = victim_team_index AND killer_id <> victim_id`},
	}
	for _, c := range counts {
		if err := r.db.QueryRowContext(ctx, c.query, playerID).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to compute aggregates for player %s: %w", playerID, err)
		}
	}

	// Summed in Go: the driver stores timestamps in a format SQLite's date
	// functions do not reliably parse.
	rows, err := r.db.QueryContext(ctx,
		`SELECT started_at, ended_at FROM sessions WHERE player_id = ?`, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions for player %s: %w", playerID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var startedAt, endedAt time.Time
		if err := rows.Scan(&startedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		agg.Playtime += endedAt.Sub(startedAt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return agg, nil
}

func (r *PlayerRepository) UpdateAggregates(ctx context.Context, playerID string, agg *Aggregates) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE players
		SET kills = ?, deaths = ?, ff_kills = ?, ff_deaths = ?, playtime_seconds = ?, updated_at = ?
		WHERE id = ?`,
		agg.Kills, agg.Deaths, agg.FFKills, agg.FFDeaths, int64(agg.Playtime.Seconds()), time.Now(), playerID,
	)
	if err != nil {
		return fmt.Errorf("failed to update aggregates for player %s: %w", playerID, err)
	}
	return nil
}
