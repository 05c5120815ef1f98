package service

import (
	"context"
	"warlog-tracker/internal/constants"
	"warlog-tracker/internal/repository"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// StatService recomputes per-player aggregate counters from the full
// normalized history. Recomputation is wholesale rather than incremental:
// it stays correct under reprocessing and backfill and cannot double-count.
type StatService struct {
	players *repository.PlayerRepository
	logger  zerolog.Logger
}

func NewStatService(players *repository.PlayerRepository, logger zerolog.Logger) *StatService {
	return &StatService{players: players, logger: logger}
}

// Recalculate recomputes and stores the counters for every given player.
// Idempotent: running it twice in a row produces identical counters.
func (s *StatService) Recalculate(ctx context.Context, playerIDs []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(constants.StatRecalcConcurrency)

	for _, playerID := range playerIDs {
		g.Go(func() error {
			agg, err := s.players.ComputeAggregates(ctx, playerID)
			if err != nil {
				return err
			}
			if err := s.players.UpdateAggregates(ctx, playerID, agg); err != nil {
				return err
			}
			s.logger.Debug().
				Str("player_id", playerID).
				Int("kills", agg.Kills).
				Int("deaths", agg.Deaths).
				Int("ff_kills", agg.FFKills).
				Int("ff_deaths", agg.FFDeaths).
				Dur("playtime", agg.Playtime).
				Msg("player aggregates recomputed")
			return nil
		})
	}
	return g.Wait()
}

// RecalculateWithRetry retries the whole recomputation once. Failures are
// recoverable on the next ingest touching the same players.
func (s *StatService) RecalculateWithRetry(ctx context.Context, playerIDs []string) error {
	var err error
	for attempt := 0; attempt <= constants.StatRecalcRetries; attempt++ {
		if err = s.Recalculate(ctx, playerIDs); err == nil {
			return nil
		}
		s.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("stat recalculation attempt failed")
	}
	return err
}
