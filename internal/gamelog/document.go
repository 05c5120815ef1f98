package gamelog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RawLog is the parsed upload document, one per ingested file. Field shapes
// track the dedicated server's JSON output; everything here is untrusted.
type RawLog struct {
	Version      string           `json:"version"`
	Map          RawMap           `json:"map"`
	Players      []RawPlayer      `json:"players"`
	TextMessages []RawTextMessage `json:"text_messages"`
	Rounds       []RawRound       `json:"rounds"`
}

type RawMap struct {
	Name   string    `json:"name"`
	Bounds RawBounds `json:"bounds"`
	Offset int       `json:"offset"`
}

type RawBounds struct {
	NE [2]float64 `json:"ne"`
	SW [2]float64 `json:"sw"`
}

// StringID tolerates natural keys encoded as either JSON strings or numbers.
// The game platform's player ids are numeric but too precious to lose digits
// on, so they are held as strings end to end.
type StringID string

func (s *StringID) UnmarshalJSON(data []byte) error {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 {
		return fmt.Errorf("empty id")
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = StringID(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*s = StringID(num.String())
	return nil
}

type RawPlayer struct {
	ID       StringID     `json:"id"`
	Names    []string     `json:"names"`
	Sessions []RawSession `json:"sessions"`
}

type RawSession struct {
	IP        string `json:"ip"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at"`
}

type RawTextMessage struct {
	Sender     StringID `json:"sender"`
	Type       string   `json:"type"`
	Message    string   `json:"message"`
	SentAt     string   `json:"sent_at"`
	TeamIndex  int      `json:"team_index"`
	SquadIndex int      `json:"squad_index"`
}

type RawRound struct {
	StartedAt     string            `json:"started_at"`
	EndedAt       *string           `json:"ended_at"`
	Winner        *int              `json:"winner"`
	Frags         []RawFrag         `json:"frags"`
	VehicleFrags  []RawVehicleFrag  `json:"vehicle_frags"`
	RallyPoints   []RawRallyPoint   `json:"rally_points"`
	Constructions []RawConstruction `json:"constructions"`
	Events        []RawEvent        `json:"events"`
}

type RawFrag struct {
	DamageType string       `json:"damage_type"`
	HitIndex   int          `json:"hit_index"`
	Time       int          `json:"time"`
	Killer     RawFragActor `json:"killer"`
	Victim     RawFragActor `json:"victim"`
}

// RawFragActor is the killer/victim sub-object. Pawn and Vehicle may be
// absent or JSON null; both mean "no class", not an error.
type RawFragActor struct {
	ID       StringID   `json:"id"`
	Team     int        `json:"team"`
	Location [3]float64 `json:"location"`
	Pawn     *string    `json:"pawn"`
	Vehicle  *string    `json:"vehicle"`
}

type RawVehicleFrag struct {
	DamageType       string              `json:"damage_type"`
	Time             int                 `json:"time"`
	Killer           RawFragActor        `json:"killer"`
	DestroyedVehicle RawDestroyedVehicle `json:"destroyed_vehicle"`
}

type RawDestroyedVehicle struct {
	Vehicle  *string    `json:"vehicle"`
	Team     int        `json:"team"`
	Location [3]float64 `json:"location"`
}

type RawRallyPoint struct {
	TeamIndex        int        `json:"team_index"`
	SquadIndex       int        `json:"squad_index"`
	PlayerID         StringID   `json:"player_id"`
	IsEstablished    bool       `json:"is_established"`
	EstablisherCount int        `json:"establisher_count"`
	SpawnCount       int        `json:"spawn_count"`
	Location         [3]float64 `json:"location"`
	CreatedAt        string     `json:"created_at"`
	DestroyedAt      *string    `json:"destroyed_at"`
	DestroyedReason  *string    `json:"destroyed_reason"`
}

type RawConstruction struct {
	Class     string     `json:"class"`
	PlayerID  StringID   `json:"player_id"`
	Team      int        `json:"team"`
	RoundTime int        `json:"round_time"`
	Location  [3]float64 `json:"location"`
}

type RawEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// ParseTime accepts the handful of timestamp formats the server has emitted
// across schema versions.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
