package config

import (
	"fmt"
	"os"
	"warlog-tracker/internal/constants"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	DBPath        string
	ServerPort    string
	LogLevel      string
	IngestToken   string
	ArchiveRoot   string
	MinLogVersion string
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		DBPath:        getEnv("DB_PATH", "warlog.db"),
		ServerPort:    getEnv("SERVER_PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		IngestToken:   getEnv("INGEST_TOKEN", ""),
		ArchiveRoot:   getEnv("ARCHIVE_ROOT", "archive"),
		MinLogVersion: getEnv("MIN_LOG_VERSION", constants.MinLogVersion),
	}

	if cfg.IngestToken == "" {
		return nil, fmt.Errorf("INGEST_TOKEN is required")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Str("archive_root", cfg.ArchiveRoot).
		Str("min_log_version", cfg.MinLogVersion).
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var Module = fx.Provide(Load)
