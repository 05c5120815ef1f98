package domain

import (
	"time"
)

type Log struct {
	ID        int64
	CRC       uint32
	Version   string
	MapID     int64
	CreatedAt time.Time
}

type Map struct {
	ID       int64
	Name     string
	BoundsNE [2]float64
	BoundsSW [2]float64
	Offset   int
}

type Player struct {
	ID            string
	Kills         int
	Deaths        int
	FFKills       int
	FFDeaths      int
	TotalPlaytime time.Duration
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Session struct {
	ID        int64
	PlayerID  string
	IP        string
	StartedAt time.Time
	EndedAt   time.Time
}

func (s Session) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}

type Round struct {
	ID        int64
	LogID     int64
	StartedAt time.Time
	EndedAt   *time.Time
	Winner    *int
}

// Duration is zero while the round is still open.
func (r Round) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// IsInteresting reports whether the round is worth surfacing: more than one
// participant and at least one kill.
func (r Round) IsInteresting(participants, kills int) bool {
	return participants > 1 && kills > 0
}

type DamageTypeClass struct {
	ID string
}

type PawnClass struct {
	ID        int64
	Classname string
}

type ConstructionClass struct {
	ID        int64
	Classname string
}

type Frag struct {
	ID                   int64
	RoundID              int64
	DamageTypeID         string
	HitIndex             int
	Time                 int
	KillerID             string
	KillerTeamIndex      int
	KillerPawnClassID    *int64
	KillerVehicleClassID *int64
	KillerLocation       [3]float64
	VictimID             string
	VictimTeamIndex      int
	VictimPawnClassID    *int64
	VictimLocation       [3]float64
	Distance             float64
}

func (f Frag) IsSuicide() bool {
	return f.KillerID == f.VictimID
}

func (f Frag) IsFriendlyFire() bool {
	return !f.IsSuicide() && f.KillerTeamIndex == f.VictimTeamIndex
}

type VehicleFrag struct {
	ID                   int64
	RoundID              int64
	DamageTypeID         string
	KillerID             string
	KillerTeamIndex      int
	KillerPawnClassID    *int64
	KillerVehicleClassID *int64
	KillerLocation       [3]float64
	VehicleClassID       *int64
	VehicleTeamIndex     int
	VehicleLocation      [3]float64
	Distance             float64
}

// DestroyedReason enumerates why a rally point went away.
type DestroyedReason string

const (
	ReasonOverrun    DestroyedReason = "overrun"
	ReasonExhausted  DestroyedReason = "exhausted"
	ReasonDamaged    DestroyedReason = "damaged"
	ReasonDeleted    DestroyedReason = "deleted"
	ReasonReplaced   DestroyedReason = "replaced"
	ReasonSpawnKill  DestroyedReason = "spawn_kill"
	ReasonAbandoned  DestroyedReason = "abandoned"
	ReasonEncroached DestroyedReason = "encroached"
)

func (r DestroyedReason) Valid() bool {
	switch r {
	case ReasonOverrun, ReasonExhausted, ReasonDamaged, ReasonDeleted,
		ReasonReplaced, ReasonSpawnKill, ReasonAbandoned, ReasonEncroached:
		return true
	}
	return false
}

type RallyPoint struct {
	ID               int64
	RoundID          int64
	TeamIndex        int
	SquadIndex       int
	PlayerID         string
	IsEstablished    bool
	EstablisherCount int
	SpawnCount       int
	Location         [3]float64
	CreatedAt        time.Time
	DestroyedAt      *time.Time
	DestroyedReason  *DestroyedReason
}

// Lifespan is how long the rally point stood. When it was never destroyed the
// round end stands in for the destruction time; an open round yields zero.
func (rp RallyPoint) Lifespan(roundEndedAt *time.Time) time.Duration {
	end := rp.DestroyedAt
	if end == nil {
		end = roundEndedAt
	}
	if end == nil {
		return 0
	}
	return end.Sub(rp.CreatedAt)
}

type Construction struct {
	ID        int64
	RoundID   int64
	ClassID   int64
	PlayerID  string
	TeamIndex int
	RoundTime int
	Location  [3]float64
}

type Event struct {
	ID      int64
	RoundID int64
	Type    string
	Data    string
}

type TextMessage struct {
	ID         int64
	LogID      int64
	SenderID   string
	Type       string
	Message    string
	SentAt     time.Time
	TeamIndex  int
	SquadIndex int
}

// TruncateMessage caps a chat line at max runes without splitting a rune.
func TruncateMessage(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
