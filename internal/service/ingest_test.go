package service_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"warlog-tracker/internal/archive"
	"warlog-tracker/internal/config"
	"warlog-tracker/internal/database"
	"warlog-tracker/internal/gamelog"
	"warlog-tracker/internal/repository"
	"warlog-tracker/internal/service"

	"github.com/rs/zerolog"
)

const (
	playerAlpha   = "76561198000000001"
	playerBravo   = "76561198000000002"
	playerCharlie = "76561198000000003"
)

// basePayload is a complete, well-formed upload: three players, one round
// with frags covering enemy kill, suicide and friendly fire, one vehicle
// frag, a rally point, a construction, an event, and two chat lines of which
// one comes from the administrative sender.
const basePayload = `{
	"version": "v9.0.0",
	"map": {
		"name": "Foy",
		"bounds": {"ne": [16000, 16000], "sw": [-16000, -16000]},
		"offset": 32
	},
	"players": [
		{
			"id": "76561198000000001",
			"names": ["Alpha"],
			"sessions": [{"ip": "10.0.0.1", "started_at": "2019-01-05T20:00:00Z", "ended_at": "2019-01-05T21:00:00Z"}]
		},
		{
			"id": "76561198000000002",
			"names": ["Bravo"],
			"sessions": [{"ip": "10.0.0.2", "started_at": "2019-01-05T20:10:00Z", "ended_at": "2019-01-05T20:40:00Z"}]
		},
		{
			"id": "76561198000000003",
			"names": ["Charlie"],
			"sessions": [{"ip": "10.0.0.3", "started_at": "2019-01-05T20:00:00Z", "ended_at": "2019-01-05T20:30:00Z"}]
		}
	],
	"text_messages": [
		{"sender": "76561198000000001", "type": "say", "message": "push left", "sent_at": "2019-01-05T20:05:00Z", "team_index": 0, "squad_index": 1},
		{"sender": "-1", "type": "admin", "message": "server restarting", "sent_at": "2019-01-05T20:06:00Z", "team_index": -1, "squad_index": -1}
	],
	"rounds": [
		{
			"started_at": "2019-01-05T20:00:00Z",
			"ended_at": "2019-01-05T20:30:00Z",
			"winner": 1,
			"frags": [
				{
					"damage_type": "DHShotgunDamType",
					"hit_index": 1,
					"time": 120,
					"killer": {"id": "76561198000000001", "team": 0, "location": [0, 0, 0], "pawn": "DH_GermanRifleman", "vehicle": null},
					"victim": {"id": "76561198000000002", "team": 1, "location": [3, 4, 0], "pawn": null, "vehicle": null}
				},
				{
					"damage_type": "Falling",
					"hit_index": 2,
					"time": 200,
					"killer": {"id": "76561198000000002", "team": 1, "location": [50, 50, 10], "pawn": null, "vehicle": null},
					"victim": {"id": "76561198000000002", "team": 1, "location": [50, 50, 0], "pawn": null, "vehicle": null}
				},
				{
					"damage_type": "DHShotgunDamType",
					"hit_index": 3,
					"time": 300,
					"killer": {"id": "76561198000000001", "team": 0, "location": [10, 0, 0], "pawn": "DH_GermanRifleman", "vehicle": null},
					"victim": {"id": "76561198000000003", "team": 0, "location": [12, 0, 0], "pawn": "DH_GermanMG", "vehicle": null}
				}
			],
			"vehicle_frags": [
				{
					"damage_type": "CannonShell",
					"time": 400,
					"killer": {"id": "76561198000000001", "team": 0, "location": [0, 0, 0], "pawn": null, "vehicle": "DH_PantherTank"},
					"destroyed_vehicle": {"vehicle": "DH_ShermanTank", "team": 1, "location": [0, 3, 4]}
				}
			],
			"rally_points": [
				{
					"team_index": 0, "squad_index": 1, "player_id": "76561198000000001",
					"is_established": true, "establisher_count": 2, "spawn_count": 7,
					"location": [100, 200, 10],
					"created_at": "2019-01-05T20:05:00Z", "destroyed_at": "2019-01-05T20:15:00Z",
					"destroyed_reason": "overrun"
				}
			],
			"constructions": [
				{
					"class": "DH_ATGunFactory", "player_id": "76561198000000002",
					"team": 1, "round_time": 300, "location": [500, 600, 0]
				}
			],
			"events": [
				{"type": "easter_egg", "data": {"egg": "found"}}
			]
		}
	]
}`

type ingestFixture struct {
	ing    *service.Ingestor
	stats  *service.StatService
	logs   *repository.LogRepository
	rounds *repository.RoundRepository
	db     *sql.DB
	store  archive.Store
}

func newTestIngestor(t *testing.T) *ingestFixture {
	t.Helper()
	logger := zerolog.Nop()
	cfg := &config.Config{
		DBPath:        filepath.Join(t.TempDir(), "test.db"),
		ArchiveRoot:   filepath.Join(t.TempDir(), "archive"),
		MinLogVersion: "8.3.0",
		IngestToken:   "secret",
	}

	db, err := database.New(cfg, logger)
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := archive.NewFileSystemStore(cfg)
	if err != nil {
		t.Fatalf("archive.NewFileSystemStore() error = %v", err)
	}

	logs := repository.NewLogRepository(db, logger)
	refs := repository.NewReferenceRepository(db, logger)
	players := repository.NewPlayerRepository(db, logger)
	rounds := repository.NewRoundRepository(db, logger)
	stats := service.NewStatService(players, logger)

	return &ingestFixture{
		ing:    service.NewIngestor(db, logs, refs, players, rounds, stats, store, cfg, logger),
		stats:  stats,
		logs:   logs,
		rounds: rounds,
		db:     db,
		store:  store,
	}
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var count int
	if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func TestIngest_Success(t *testing.T) {
	t.Parallel()
	f := newTestIngestor(t)

	result, err := f.ing.Ingest(context.Background(), []byte(basePayload))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if result.Players != 3 {
		t.Errorf("players = %d, want 3", result.Players)
	}
	if result.Rounds != 1 {
		t.Errorf("rounds = %d, want 1", result.Rounds)
	}
	if result.Frags != 3 {
		t.Errorf("frags = %d, want 3", result.Frags)
	}

	for table, want := range map[string]int{
		"logs": 1, "maps": 1, "players": 3, "sessions": 3, "player_names": 3,
		"rounds": 1, "frags": 3, "vehicle_frags": 1, "rally_points": 1,
		"constructions": 1, "events": 1, "text_messages": 1, "log_players": 3,
	} {
		if got := countRows(t, f.db, table); got != want {
			t.Errorf("%s rows = %d, want %d", table, got, want)
		}
	}

	var ne, sw float64
	var offset int
	err = f.db.QueryRow(`SELECT bounds_ne_x, bounds_sw_x, coord_offset FROM maps WHERE name = 'Foy'`).Scan(&ne, &sw, &offset)
	if err != nil {
		t.Fatalf("map row: %v", err)
	}
	if ne != 16000 || sw != -16000 || offset != 32 {
		t.Errorf("map bounds = (%v, %v, %d)", ne, sw, offset)
	}

	participants, err := f.logs.PlayerIDs(context.Background(), result.LogID)
	if err != nil {
		t.Fatalf("PlayerIDs() error = %v", err)
	}
	if len(participants) != 3 {
		t.Errorf("attached participants = %d, want 3", len(participants))
	}

	var roundID int64
	if err := f.db.QueryRow(`SELECT id FROM rounds`).Scan(&roundID); err != nil {
		t.Fatalf("round row: %v", err)
	}
	fragCount, err := f.rounds.CountFrags(context.Background(), roundID)
	if err != nil {
		t.Fatalf("CountFrags() error = %v", err)
	}
	if fragCount != 3 {
		t.Errorf("round frags = %d, want 3", fragCount)
	}

	exists, err := f.store.Exists(gamelog.Checksum([]byte(basePayload)))
	if err != nil {
		t.Fatalf("archive check: %v", err)
	}
	if !exists {
		t.Error("payload was not archived")
	}
}

func TestIngest_Duplicate(t *testing.T) {
	t.Parallel()
	f := newTestIngestor(t)

	if _, err := f.ing.Ingest(context.Background(), []byte(basePayload)); err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}

	_, err := f.ing.Ingest(context.Background(), []byte(basePayload))
	if !errors.Is(err, service.ErrDuplicateLog) {
		t.Fatalf("second Ingest() error = %v, want ErrDuplicateLog", err)
	}

	count, err := f.logs.CountLogs(context.Background())
	if err != nil {
		t.Fatalf("CountLogs() error = %v", err)
	}
	if count != 1 {
		t.Errorf("logs = %d, want 1", count)
	}
	if got := countRows(t, f.db, "frags"); got != 3 {
		t.Errorf("frags = %d, want 3", got)
	}
}

func TestIngest_ConcurrentDuplicate(t *testing.T) {
	t.Parallel()
	f := newTestIngestor(t)

	// Both submissions can pass the unlocked dedup check; the one that loses
	// the write lock must still come back as a duplicate, not a storage fault.
	start := make(chan struct{})
	errs := make(chan error, 2)
	for range 2 {
		go func() {
			<-start
			_, err := f.ing.Ingest(context.Background(), []byte(basePayload))
			errs <- err
		}()
	}
	close(start)

	var created, duplicate int
	for range 2 {
		switch err := <-errs; {
		case err == nil:
			created++
		case errors.Is(err, service.ErrDuplicateLog):
			duplicate++
		default:
			t.Fatalf("Ingest() error = %v, want nil or ErrDuplicateLog", err)
		}
	}
	if created != 1 || duplicate != 1 {
		t.Errorf("created = %d, duplicate = %d, want exactly one of each", created, duplicate)
	}
	if got := countRows(t, f.db, "logs"); got != 1 {
		t.Errorf("logs = %d, want 1", got)
	}
}

func TestIngest_UnsupportedVersion(t *testing.T) {
	t.Parallel()
	f := newTestIngestor(t)

	payload := strings.Replace(basePayload, `"v9.0.0"`, `"v8.2.9"`, 1)
	_, err := f.ing.Ingest(context.Background(), []byte(payload))
	if !errors.Is(err, gamelog.ErrUnsupportedVersion) {
		t.Fatalf("Ingest() error = %v, want ErrUnsupportedVersion", err)
	}

	if got := countRows(t, f.db, "logs"); got != 0 {
		t.Errorf("logs = %d, want 0", got)
	}
}

func TestIngest_UnknownPlayerRollsBackEverything(t *testing.T) {
	t.Parallel()
	f := newTestIngestor(t)

	// The victim of the first frag is not in the roster.
	payload := strings.Replace(basePayload,
		`"victim": {"id": "76561198000000002", "team": 1, "location": [3, 4, 0]`,
		`"victim": {"id": "76561198999999999", "team": 1, "location": [3, 4, 0]`, 1)

	_, err := f.ing.Ingest(context.Background(), []byte(payload))
	if !errors.Is(err, service.ErrUnknownPlayer) {
		t.Fatalf("Ingest() error = %v, want ErrUnknownPlayer", err)
	}

	for _, table := range []string{
		"logs", "maps", "players", "sessions", "rounds", "frags",
		"vehicle_frags", "rally_points", "constructions", "events",
		"text_messages", "damage_type_classes", "pawn_classes", "construction_classes",
	} {
		if got := countRows(t, f.db, table); got != 0 {
			t.Errorf("%s rows = %d, want 0 after rollback", table, got)
		}
	}
}

func TestIngest_NaturalKeyDedup(t *testing.T) {
	t.Parallel()
	f := newTestIngestor(t)

	if _, err := f.ing.Ingest(context.Background(), []byte(basePayload)); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	// DHShotgunDamType twice, Falling and CannonShell once each.
	if got := countRows(t, f.db, "damage_type_classes"); got != 3 {
		t.Errorf("damage types = %d, want 3", got)
	}

	// DH_GermanRifleman twice, DH_GermanMG, DH_PantherTank, DH_ShermanTank.
	if got := countRows(t, f.db, "pawn_classes"); got != 4 {
		t.Errorf("pawn classes = %d, want 4", got)
	}
}

func TestIngest_ChatSentinelExcluded(t *testing.T) {
	t.Parallel()
	f := newTestIngestor(t)

	if _, err := f.ing.Ingest(context.Background(), []byte(basePayload)); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	var sender, message string
	err := f.db.QueryRow(`SELECT sender_id, message FROM text_messages`).Scan(&sender, &message)
	if err != nil {
		t.Fatalf("text message row: %v", err)
	}
	if sender != playerAlpha {
		t.Errorf("sender = %s, want %s", sender, playerAlpha)
	}
	if message != "push left" {
		t.Errorf("message = %q", message)
	}
}

func TestIngest_MessageTruncation(t *testing.T) {
	t.Parallel()
	f := newTestIngestor(t)

	long := strings.Repeat("x", 300)
	payload := strings.Replace(basePayload, `"push left"`, `"`+long+`"`, 1)

	if _, err := f.ing.Ingest(context.Background(), []byte(payload)); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	var message string
	if err := f.db.QueryRow(`SELECT message FROM text_messages`).Scan(&message); err != nil {
		t.Fatalf("text message row: %v", err)
	}
	if len(message) != 128 {
		t.Errorf("message length = %d, want 128", len(message))
	}
}

func TestIngest_Distances(t *testing.T) {
	t.Parallel()
	f := newTestIngestor(t)

	if _, err := f.ing.Ingest(context.Background(), []byte(basePayload)); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	var distance float64
	err := f.db.QueryRow(`SELECT distance FROM frags WHERE killer_id = ? AND victim_id = ?`,
		playerAlpha, playerBravo).Scan(&distance)
	if err != nil {
		t.Fatalf("frag row: %v", err)
	}
	if distance != 5.0 {
		t.Errorf("frag distance = %v, want 5.0", distance)
	}

	// Killer at origin, vehicle at (0, 3, 4): the z coordinate must count.
	var damageType string
	err = f.db.QueryRow(`SELECT distance, damage_type_id FROM vehicle_frags WHERE killer_id = ?`, playerAlpha).
		Scan(&distance, &damageType)
	if err != nil {
		t.Fatalf("vehicle frag row: %v", err)
	}
	if distance != 5.0 {
		t.Errorf("vehicle frag distance = %v, want 5.0", distance)
	}
	if damageType != "CannonShell" {
		t.Errorf("vehicle frag damage type = %q, want CannonShell", damageType)
	}
}

func TestIngest_EmptyDamageType(t *testing.T) {
	t.Parallel()
	f := newTestIngestor(t)

	// The server occasionally emits an empty damage type; it resolves to a
	// class row like any other string instead of failing the load.
	payload := strings.Replace(basePayload, `"damage_type": "Falling"`, `"damage_type": ""`, 1)
	if _, err := f.ing.Ingest(context.Background(), []byte(payload)); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	var count int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM frags WHERE damage_type_id = ''`).Scan(&count); err != nil {
		t.Fatalf("frag rows: %v", err)
	}
	if count != 1 {
		t.Errorf("frags with empty damage type = %d, want 1", count)
	}
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM damage_type_classes WHERE id = ''`).Scan(&count); err != nil {
		t.Fatalf("class rows: %v", err)
	}
	if count != 1 {
		t.Errorf("empty damage type class rows = %d, want 1", count)
	}
}

func TestIngest_StatRecalculation(t *testing.T) {
	t.Parallel()
	f := newTestIngestor(t)

	if _, err := f.ing.Ingest(context.Background(), []byte(basePayload)); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	type counters struct {
		kills, deaths, ffKills, ffDeaths int
		playtime                         int64
	}
	read := func(id string) counters {
		t.Helper()
		var c counters
		err := f.db.QueryRow(`SELECT kills, deaths, ff_kills, ff_deaths, playtime_seconds FROM players WHERE id = ?`, id).
			Scan(&c.kills, &c.deaths, &c.ffKills, &c.ffDeaths, &c.playtime)
		if err != nil {
			t.Fatalf("player %s: %v", id, err)
		}
		return c
	}

	alpha := read(playerAlpha)
	if alpha != (counters{kills: 2, deaths: 0, ffKills: 1, ffDeaths: 0, playtime: 3600}) {
		t.Errorf("alpha counters = %+v", alpha)
	}

	// Suicide counts as a kill and a death, but never as friendly fire.
	bravo := read(playerBravo)
	if bravo != (counters{kills: 1, deaths: 2, ffKills: 0, ffDeaths: 0, playtime: 1800}) {
		t.Errorf("bravo counters = %+v", bravo)
	}

	charlie := read(playerCharlie)
	if charlie != (counters{kills: 0, deaths: 1, ffKills: 0, ffDeaths: 1, playtime: 1800}) {
		t.Errorf("charlie counters = %+v", charlie)
	}

	// Recomputation is idempotent.
	if err := f.stats.Recalculate(context.Background(), []string{playerAlpha, playerBravo, playerCharlie}); err != nil {
		t.Fatalf("Recalculate() error = %v", err)
	}
	if again := read(playerAlpha); again != alpha {
		t.Errorf("counters changed on recompute: %+v vs %+v", again, alpha)
	}
}

func TestIngest_PlayerNamesAppendOnly(t *testing.T) {
	t.Parallel()
	f := newTestIngestor(t)

	if _, err := f.ing.Ingest(context.Background(), []byte(basePayload)); err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}

	// Different bytes (new crc), same player with one repeated and one new name.
	second := strings.Replace(basePayload, `"names": ["Alpha"]`, `"names": ["Alpha", "Alpha2"]`, 1)
	second = strings.Replace(second, `"push left"`, `"push right"`, 1)
	if _, err := f.ing.Ingest(context.Background(), []byte(second)); err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}

	var count int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM player_names WHERE player_id = ?`, playerAlpha).Scan(&count); err != nil {
		t.Fatalf("names: %v", err)
	}
	if count != 2 {
		t.Errorf("alpha names = %d, want 2", count)
	}
	if got := countRows(t, f.db, "players"); got != 3 {
		t.Errorf("players = %d, want 3", got)
	}
}

func TestIngest_SessionEndTimeRepair(t *testing.T) {
	t.Parallel()

	t.Run("repaired for old versions", func(t *testing.T) {
		t.Parallel()
		f := newTestIngestor(t)

		payload := strings.Replace(basePayload, `"v9.0.0"`, `"v8.5.0"`, 1)
		payload = strings.Replace(payload,
			`"started_at": "2019-01-05T20:00:00Z", "ended_at": "2019-01-05T21:00:00Z"`,
			`"started_at": "2019-01-05T20:00:00Z", "ended_at": ""`, 1)

		if _, err := f.ing.Ingest(context.Background(), []byte(payload)); err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}

		var startedAt, endedAt time.Time
		err := f.db.QueryRow(`SELECT started_at, ended_at FROM sessions WHERE player_id = ?`, playerAlpha).
			Scan(&startedAt, &endedAt)
		if err != nil {
			t.Fatalf("session row: %v", err)
		}
		if !endedAt.Equal(startedAt) {
			t.Errorf("ended_at = %v, want started_at %v", endedAt, startedAt)
		}
	})

	t.Run("rejected for new versions", func(t *testing.T) {
		t.Parallel()
		f := newTestIngestor(t)

		payload := strings.Replace(basePayload,
			`"started_at": "2019-01-05T20:00:00Z", "ended_at": "2019-01-05T21:00:00Z"`,
			`"started_at": "2019-01-05T20:00:00Z", "ended_at": ""`, 1)

		_, err := f.ing.Ingest(context.Background(), []byte(payload))
		if !errors.Is(err, gamelog.ErrMalformedPayload) {
			t.Fatalf("Ingest() error = %v, want ErrMalformedPayload", err)
		}
		if got := countRows(t, f.db, "logs"); got != 0 {
			t.Errorf("logs = %d, want 0", got)
		}
	})
}
