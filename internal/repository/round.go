package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"warlog-tracker/internal/constants"
	"warlog-tracker/internal/domain"

	"github.com/rs/zerolog"
)

type RoundRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewRoundRepository(sqlDB *sql.DB, logger zerolog.Logger) *RoundRepository {
	return &RoundRepository{
		db:     sqlDB,
		logger: logger,
	}
}

func (r *RoundRepository) Create(ctx context.Context, q DBTX, round *domain.Round) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO rounds (log_id, started_at, ended_at, winner) VALUES (?, ?, ?, ?)`,
		round.LogID, round.StartedAt, round.EndedAt, round.Winner,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert round: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read round id: %w", err)
	}
	return id, nil
}

// InsertFrags bulk-inserts frags in chunks of DBBatchSize rows per statement.
// A busy round carries thousands of frags; one statement per chunk keeps the
// transaction short.
func (r *RoundRepository) InsertFrags(ctx context.Context, q DBTX, frags []domain.Frag) error {
	for i := 0; i < len(frags); i += constants.DBBatchSize {
		end := min(i+constants.DBBatchSize, len(frags))
		chunk := frags[i:end]

		placeholders := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*18)
		for _, f := range chunk {
			placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				f.RoundID, f.DamageTypeID, f.HitIndex, f.Time,
				f.KillerID, f.KillerTeamIndex, f.KillerPawnClassID, f.KillerVehicleClassID,
				f.KillerLocation[0], f.KillerLocation[1], f.KillerLocation[2],
				f.VictimID, f.VictimTeamIndex, f.VictimPawnClassID,
				f.VictimLocation[0], f.VictimLocation[1], f.VictimLocation[2],
				f.Distance,
			)
		}

		query := `
			INSERT INTO frags (
				round_id, damage_type_id, hit_index, time,
				killer_id, killer_team_index, killer_pawn_class_id, killer_vehicle_class_id,
				killer_location_x, killer_location_y, killer_location_z,
				victim_id, victim_team_index, victim_pawn_class_id,
				victim_location_x, victim_location_y, victim_location_z,
				distance
			) VALUES ` + strings.Join(placeholders, ", ")
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert frags: %w", err)
		}
	}
	return nil
}

func (r *RoundRepository) InsertVehicleFrags(ctx context.Context, q DBTX, frags []domain.VehicleFrag) error {
	for i := 0; i < len(frags); i += constants.DBBatchSize {
		end := min(i+constants.DBBatchSize, len(frags))
		chunk := frags[i:end]

		placeholders := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*15)
		for _, f := range chunk {
			placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				f.RoundID, f.DamageTypeID,
				f.KillerID, f.KillerTeamIndex, f.KillerPawnClassID, f.KillerVehicleClassID,
				f.KillerLocation[0], f.KillerLocation[1], f.KillerLocation[2],
				f.VehicleClassID, f.VehicleTeamIndex,
				f.VehicleLocation[0], f.VehicleLocation[1], f.VehicleLocation[2],
				f.Distance,
			)
		}

		query := `
			INSERT INTO vehicle_frags (
				round_id, damage_type_id,
				killer_id, killer_team_index, killer_pawn_class_id, killer_vehicle_class_id,
				killer_location_x, killer_location_y, killer_location_z,
				vehicle_class_id, vehicle_team_index,
				vehicle_location_x, vehicle_location_y, vehicle_location_z,
				distance
			) VALUES ` + strings.Join(placeholders, ", ")
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert vehicle frags: %w", err)
		}
	}
	return nil
}

func (r *RoundRepository) InsertRallyPoints(ctx context.Context, q DBTX, points []domain.RallyPoint) error {
	for _, rp := range points {
		var reason *string
		if rp.DestroyedReason != nil {
			s := string(*rp.DestroyedReason)
			reason = &s
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO rally_points (
				round_id, team_index, squad_index, player_id,
				is_established, establisher_count, spawn_count,
				location_x, location_y, location_z,
				created_at, destroyed_at, destroyed_reason
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rp.RoundID, rp.TeamIndex, rp.SquadIndex, rp.PlayerID,
			rp.IsEstablished, rp.EstablisherCount, rp.SpawnCount,
			rp.Location[0], rp.Location[1], rp.Location[2],
			rp.CreatedAt, rp.DestroyedAt, reason,
		)
		if err != nil {
			return fmt.Errorf("failed to insert rally point: %w", err)
		}
	}
	return nil
}

func (r *RoundRepository) InsertConstructions(ctx context.Context, q DBTX, constructions []domain.Construction) error {
	for _, c := range constructions {
		_, err := q.ExecContext(ctx, `
			INSERT INTO constructions (
				round_id, class_id, player_id, team_index, round_time,
				location_x, location_y, location_z
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.RoundID, c.ClassID, c.PlayerID, c.TeamIndex, c.RoundTime,
			c.Location[0], c.Location[1], c.Location[2],
		)
		if err != nil {
			return fmt.Errorf("failed to insert construction: %w", err)
		}
	}
	return nil
}

func (r *RoundRepository) InsertEvents(ctx context.Context, q DBTX, events []domain.Event) error {
	for _, e := range events {
		_, err := q.ExecContext(ctx,
			`INSERT INTO events (round_id, type, data) VALUES (?, ?, ?)`,
			e.RoundID, e.Type, e.Data,
		)
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}
	return nil
}

func (r *RoundRepository) InsertTextMessages(ctx context.Context, q DBTX, messages []domain.TextMessage) error {
	for i := 0; i < len(messages); i += constants.DBBatchSize {
		end := min(i+constants.DBBatchSize, len(messages))
		chunk := messages[i:end]

		placeholders := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*7)
		for _, m := range chunk {
			placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, m.LogID, m.SenderID, m.Type, m.Message, m.SentAt, m.TeamIndex, m.SquadIndex)
		}

		query := `
			INSERT INTO text_messages (log_id, sender_id, type, message, sent_at, team_index, squad_index)
			VALUES ` + strings.Join(placeholders, ", ")
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert text messages: %w", err)
		}
	}
	return nil
}

func (r *RoundRepository) CountFrags(ctx context.Context, roundID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM frags WHERE round_id = ?`, roundID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count frags: %w", err)
	}
	return count, nil
}
