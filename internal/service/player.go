package service

import (
	"context"
	"warlog-tracker/internal/constants"
	"warlog-tracker/internal/repository"

	"github.com/rs/zerolog"
)

type PlayerService struct {
	repo   *repository.PlayerRepository
	logger zerolog.Logger
}

func NewPlayerService(repo *repository.PlayerRepository, logger zerolog.Logger) *PlayerService {
	return &PlayerService{repo: repo, logger: logger}
}

// PlayerSummary is the read model for the player summary endpoint. Counter
// values come from the cached aggregates; ratios are derived on read.
type PlayerSummary struct {
	ID              string   `json:"id"`
	Names           []string `json:"names"`
	Kills           int      `json:"kills"`
	Deaths          int      `json:"deaths"`
	KDRatio         float64  `json:"kd_ratio"`
	FFKills         int      `json:"ff_kills"`
	FFDeaths        int      `json:"ff_deaths"`
	FFKillRatio     float64  `json:"ff_kill_ratio"`
	FFDeathRatio    float64  `json:"ff_death_ratio"`
	PlaytimeSeconds int64    `json:"playtime_seconds"`
}

func (s *PlayerService) Summary(ctx context.Context, playerID string) (*PlayerSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	player, err := s.repo.Get(ctx, playerID)
	if err != nil {
		s.logger.Debug().Err(err).Str("player_id", playerID).Msg("player not found")
		return nil, err
	}

	names, err := s.repo.Names(ctx, playerID)
	if err != nil {
		return nil, err
	}

	summary := &PlayerSummary{
		ID:              player.ID,
		Names:           names,
		Kills:           player.Kills,
		Deaths:          player.Deaths,
		FFKills:         player.FFKills,
		FFDeaths:        player.FFDeaths,
		PlaytimeSeconds: int64(player.TotalPlaytime.Seconds()),
	}
	if player.Deaths != 0 {
		summary.KDRatio = float64(player.Kills) / float64(player.Deaths)
	}
	if player.Kills != 0 {
		summary.FFKillRatio = float64(player.FFKills) / float64(player.Kills)
	}
	if player.Deaths != 0 {
		summary.FFDeathRatio = float64(player.FFDeaths) / float64(player.Deaths)
	}
	return summary, nil
}

func (s *PlayerService) SessionDates(ctx context.Context, playerID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	return s.repo.SessionDates(ctx, playerID)
}
