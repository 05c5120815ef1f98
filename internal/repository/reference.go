package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"warlog-tracker/internal/domain"

	"github.com/rs/zerolog"
)

// ReferenceRepository holds the obtain-or-create-by-natural-key operations on
// the shared reference tables. Callers must serialize the create phase across
// concurrent ingests; the upserts themselves are backed by unique constraints
// so a race degrades to a constraint conflict, not a duplicate row.
type ReferenceRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewReferenceRepository(sqlDB *sql.DB, logger zerolog.Logger) *ReferenceRepository {
	return &ReferenceRepository{
		db:     sqlDB,
		logger: logger,
	}
}

// GetOrCreateMap upserts the map by name. Bounds and offset are refreshed
// from every payload, not append-only.
func (r *ReferenceRepository) GetOrCreateMap(ctx context.Context, q DBTX, m *domain.Map) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO maps (name, bounds_ne_x, bounds_ne_y, bounds_sw_x, bounds_sw_y, coord_offset)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			bounds_ne_x = excluded.bounds_ne_x,
			bounds_ne_y = excluded.bounds_ne_y,
			bounds_sw_x = excluded.bounds_sw_x,
			bounds_sw_y = excluded.bounds_sw_y,
			coord_offset = excluded.coord_offset
		RETURNING id`,
		m.Name, m.BoundsNE[0], m.BoundsNE[1], m.BoundsSW[0], m.BoundsSW[1], m.Offset,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert map %q: %w", m.Name, err)
	}
	return id, nil
}

func (r *ReferenceRepository) GetOrCreateDamageType(ctx context.Context, q DBTX, id string) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO damage_type_classes (id) VALUES (?)`, id)
	if err != nil {
		return fmt.Errorf("failed to upsert damage type %q: %w", id, err)
	}
	return nil
}

func (r *ReferenceRepository) GetOrCreatePawnClass(ctx context.Context, q DBTX, classname string) (int64, error) {
	return r.getOrCreateClass(ctx, q, "pawn_classes", classname)
}

func (r *ReferenceRepository) GetOrCreateConstructionClass(ctx context.Context, q DBTX, classname string) (int64, error) {
	return r.getOrCreateClass(ctx, q, "construction_classes", classname)
}

func (r *ReferenceRepository) getOrCreateClass(ctx context.Context, q DBTX, table, classname string) (int64, error) {
	// DO UPDATE instead of DO NOTHING so RETURNING yields a row on conflict.
	var id int64
	err := q.QueryRowContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (classname) VALUES (?)
		ON CONFLICT (classname) DO UPDATE SET classname = excluded.classname
		RETURNING id`, table),
		classname,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert %s %q: %w", table, classname, err)
	}
	return id, nil
}

func (r *ReferenceRepository) GetOrCreatePlayer(ctx context.Context, q DBTX, playerID string) error {
	now := time.Now()
	_, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO players (id, created_at, updated_at) VALUES (?, ?, ?)`,
		playerID, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert player %s: %w", playerID, err)
	}
	return nil
}

func (r *ReferenceRepository) CountDamageTypes(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM damage_type_classes`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count damage types: %w", err)
	}
	return count, nil
}
