package repository

import (
	"context"
	"database/sql"
	"fmt"
	"warlog-tracker/internal/domain"

	"github.com/rs/zerolog"
)

type LogRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewLogRepository(sqlDB *sql.DB, logger zerolog.Logger) *LogRepository {
	return &LogRepository{
		db:     sqlDB,
		logger: logger,
	}
}

// ExistsByCRC answers the dedup guard: has this exact payload been ingested
// before? Read-only, runs outside the ingest transaction.
func (r *LogRepository) ExistsByCRC(ctx context.Context, crc uint32) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs WHERE crc = ?`, int64(crc)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check log crc: %w", err)
	}
	return count > 0, nil
}

func (r *LogRepository) Create(ctx context.Context, q DBTX, log *domain.Log) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO logs (crc, version, map_id, created_at) VALUES (?, ?, ?, ?)`,
		int64(log.CRC), log.Version, log.MapID, log.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read log id: %w", err)
	}
	return id, nil
}

func (r *LogRepository) AttachPlayer(ctx context.Context, q DBTX, logID int64, playerID string) error {
	_, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO log_players (log_id, player_id) VALUES (?, ?)`,
		logID, playerID,
	)
	if err != nil {
		return fmt.Errorf("failed to attach player %s to log %d: %w", playerID, logID, err)
	}
	return nil
}

// PlayerIDs lists the participants of a log, for post-commit stat recalc.
func (r *LogRepository) PlayerIDs(ctx context.Context, logID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT player_id FROM log_players WHERE log_id = ?`, logID)
	if err != nil {
		return nil, fmt.Errorf("failed to list log players: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan log player: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *LogRepository) CountLogs(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count logs: %w", err)
	}
	return count, nil
}
