package fx

import (
	"warlog-tracker/internal/archive"
	"warlog-tracker/internal/config"
	"warlog-tracker/internal/database"
	"warlog-tracker/internal/logger"
	"warlog-tracker/internal/metrics"
	"warlog-tracker/internal/repository"
	"warlog-tracker/internal/server"
	"warlog-tracker/internal/service"

	"go.uber.org/fx"
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	fx.Provide(database.New),
	metrics.Module,
	archive.Module,
	// repos
	fx.Provide(repository.NewLogRepository),
	fx.Provide(repository.NewReferenceRepository),
	fx.Provide(repository.NewPlayerRepository),
	fx.Provide(repository.NewRoundRepository),
	// svc
	fx.Provide(service.NewIngestor),
	fx.Provide(service.NewStatService),
	fx.Provide(service.NewPlayerService),
	// server
	fx.Provide(server.New),
)
