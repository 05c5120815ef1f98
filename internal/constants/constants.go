package constants

import "time"

const (
	DatabaseTimeout = 5 * time.Second
	RequestTimeout  = 30 * time.Second
	IngestTimeout   = 60 * time.Second
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
	DBBatchSize       = 100
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	// DecodeAttemptLimit caps how many corrupt bytes the decoder will
	// substitute before giving up on a payload.
	DecodeAttemptLimit = 100

	// MaxMessageLength is the stored length cap for chat messages, in runes.
	MaxMessageLength = 128

	// ChatSenderSystem is the sender id the game server uses for
	// administrative chat lines. Those lines are never persisted.
	ChatSenderSystem = "-1"
)

const (
	// MinLogVersion is the default oldest payload schema accepted.
	MinLogVersion = "8.3.0"

	// SessionRepairMaxVersion is the last schema version whose payloads may
	// encode a never-terminated session as an empty end time.
	SessionRepairMaxVersion = "8.5.0"
)

const (
	StatRecalcConcurrency = 4
	StatRecalcRetries     = 1
)
