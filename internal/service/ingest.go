package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
	"warlog-tracker/internal/archive"
	"warlog-tracker/internal/config"
	"warlog-tracker/internal/constants"
	"warlog-tracker/internal/domain"
	"warlog-tracker/internal/gamelog"
	"warlog-tracker/internal/repository"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrDuplicateLog means a payload with this checksum was already
	// ingested. Resubmissions are safe and land here.
	ErrDuplicateLog = errors.New("duplicate log payload")

	// ErrUnknownPlayer means an event cited a player id missing from the
	// payload's roster. The whole ingest rolls back.
	ErrUnknownPlayer = errors.New("unknown player reference")
)

// IngestResult summarizes a successful ingestion.
type IngestResult struct {
	LogID   int64
	CRC     uint32
	Version string
	Players int
	Rounds  int
	Frags   int
}

type Ingestor struct {
	db      *sql.DB
	logs    *repository.LogRepository
	refs    *repository.ReferenceRepository
	players *repository.PlayerRepository
	rounds  *repository.RoundRepository
	stats   *StatService
	store   archive.Store
	cfg     *config.Config
	logger  zerolog.Logger

	// writeSem serializes the write phase across concurrent ingests so the
	// obtain-or-create upserts on shared reference tables cannot race or
	// deadlock. Readers never take it.
	writeSem *semaphore.Weighted
}

func NewIngestor(
	sqlDB *sql.DB,
	logs *repository.LogRepository,
	refs *repository.ReferenceRepository,
	players *repository.PlayerRepository,
	rounds *repository.RoundRepository,
	stats *StatService,
	store archive.Store,
	cfg *config.Config,
	logger zerolog.Logger,
) *Ingestor {
	return &Ingestor{
		db:       sqlDB,
		logs:     logs,
		refs:     refs,
		players:  players,
		rounds:   rounds,
		stats:    stats,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		writeSem: semaphore.NewWeighted(1),
	}
}

// Ingest runs the full pipeline on a raw uploaded payload: decode, version
// gate, dedup guard, reference resolution, single-transaction load, stat
// recalculation, archival. Either every entity of the payload is committed or
// none is.
func (s *Ingestor) Ingest(ctx context.Context, raw []byte) (*IngestResult, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.IngestTimeout)
	defer cancel()

	attemptID, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate attempt id: %w", err)
	}
	logger := s.logger.With().Str("attempt_id", attemptID).Logger()

	doc, crc, err := gamelog.Decode(raw)
	if err != nil {
		logger.Warn().Err(err).Msg("payload decode failed")
		return nil, err
	}

	logger = logger.With().Str("crc", fmt.Sprintf("%08x", crc)).Str("version", doc.Version).Logger()

	if err := gamelog.CheckVersion(doc.Version, s.cfg.MinLogVersion); err != nil {
		logger.Info().Err(err).Msg("payload rejected by version gate")
		return nil, err
	}

	exists, err := s.logs.ExistsByCRC(ctx, crc)
	if err != nil {
		return nil, err
	}
	if exists {
		logger.Info().Msg("payload already ingested")
		return nil, fmt.Errorf("%w: crc %08x", ErrDuplicateLog, crc)
	}

	if err := s.writeSem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire ingest lock: %w", err)
	}
	defer s.writeSem.Release(1)

	// Concurrent submissions of the same bytes can both pass the first check;
	// re-check under the write lock so the loser reports a duplicate rather
	// than tripping the unique constraint on logs.crc.
	exists, err = s.logs.ExistsByCRC(ctx, crc)
	if err != nil {
		return nil, err
	}
	if exists {
		logger.Info().Msg("payload ingested by a concurrent request")
		return nil, fmt.Errorf("%w: crc %08x", ErrDuplicateLog, crc)
	}

	result, participants, err := s.load(ctx, logger, doc, crc)
	if err != nil {
		return nil, err
	}

	if err := s.stats.RecalculateWithRetry(ctx, participants); err != nil {
		// Counters are derived data; the next ingest touching these players
		// recomputes them from scratch.
		logger.Error().Err(err).Msg("stat recalculation failed after retries")
	}

	s.archivePayload(logger, doc, crc)

	logger.Info().
		Int64("log_id", result.LogID).
		Int("players", result.Players).
		Int("rounds", result.Rounds).
		Int("frags", result.Frags).
		Msg("payload ingested")
	return result, nil
}

// load materializes the whole entity graph inside one transaction.
func (s *Ingestor) load(ctx context.Context, logger zerolog.Logger, doc *gamelog.RawLog, crc uint32) (*IngestResult, []string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	refs, err := s.resolveReferences(ctx, tx, doc)
	if err != nil {
		return nil, nil, err
	}

	mapID, err := s.refs.GetOrCreateMap(ctx, tx, &domain.Map{
		Name:     doc.Map.Name,
		BoundsNE: doc.Map.Bounds.NE,
		BoundsSW: doc.Map.Bounds.SW,
		Offset:   doc.Map.Offset,
	})
	if err != nil {
		return nil, nil, err
	}

	logID, err := s.logs.Create(ctx, tx, &domain.Log{
		CRC:       crc,
		Version:   doc.Version,
		MapID:     mapID,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return nil, nil, err
	}

	participants, err := s.loadPlayers(ctx, tx, doc, logID)
	if err != nil {
		return nil, nil, err
	}

	if err := s.loadTextMessages(ctx, tx, doc, logID, refs); err != nil {
		return nil, nil, err
	}

	fragCount := 0
	for i := range doc.Rounds {
		n, err := s.loadRound(ctx, tx, &doc.Rounds[i], logID, refs)
		if err != nil {
			return nil, nil, err
		}
		fragCount += n
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit ingest transaction: %w", err)
	}

	logger.Debug().Int("frags", fragCount).Msg("ingest transaction committed")

	return &IngestResult{
		LogID:   logID,
		CRC:     crc,
		Version: doc.Version,
		Players: len(participants),
		Rounds:  len(doc.Rounds),
		Frags:   fragCount,
	}, participants, nil
}

// refTables are the per-ingest reference lookup maps: one persisted row per
// distinct natural key, resolved up front so the round loop below never
// touches the database for a reference.
type refTables struct {
	pawnClasses         map[string]int64
	constructionClasses map[string]int64
	roster              map[string]struct{}
}

func (t *refTables) pawnClassID(name *string) *int64 {
	if name == nil || *name == "" {
		return nil
	}
	id, ok := t.pawnClasses[*name]
	if !ok {
		return nil
	}
	return &id
}

// resolveReferences scans the whole document once, collecting distinct
// natural keys, and upserts each exactly once. A class recurring thousands of
// times costs one write and O(1) map reads afterwards.
func (s *Ingestor) resolveReferences(ctx context.Context, tx *sql.Tx, doc *gamelog.RawLog) (*refTables, error) {
	damageTypes := make(map[string]struct{})
	pawnNames := make(map[string]struct{})
	constructionNames := make(map[string]struct{})

	collectActor := func(a *gamelog.RawFragActor) {
		if a.Pawn != nil && *a.Pawn != "" {
			pawnNames[*a.Pawn] = struct{}{}
		}
		if a.Vehicle != nil && *a.Vehicle != "" {
			pawnNames[*a.Vehicle] = struct{}{}
		}
	}

	for i := range doc.Rounds {
		round := &doc.Rounds[i]
		for j := range round.Frags {
			frag := &round.Frags[j]
			// Resolved even when empty: the class key is whatever string the
			// server emitted, and every frag row references one.
			damageTypes[frag.DamageType] = struct{}{}
			collectActor(&frag.Killer)
			collectActor(&frag.Victim)
		}
		for j := range round.VehicleFrags {
			vf := &round.VehicleFrags[j]
			damageTypes[vf.DamageType] = struct{}{}
			collectActor(&vf.Killer)
			if vf.DestroyedVehicle.Vehicle != nil && *vf.DestroyedVehicle.Vehicle != "" {
				pawnNames[*vf.DestroyedVehicle.Vehicle] = struct{}{}
			}
		}
		for j := range round.Constructions {
			constructionNames[round.Constructions[j].Class] = struct{}{}
		}
	}

	tables := &refTables{
		pawnClasses:         make(map[string]int64, len(pawnNames)),
		constructionClasses: make(map[string]int64, len(constructionNames)),
		roster:              make(map[string]struct{}, len(doc.Players)),
	}

	for id := range damageTypes {
		if err := s.refs.GetOrCreateDamageType(ctx, tx, id); err != nil {
			return nil, err
		}
	}
	for name := range pawnNames {
		id, err := s.refs.GetOrCreatePawnClass(ctx, tx, name)
		if err != nil {
			return nil, err
		}
		tables.pawnClasses[name] = id
	}
	for name := range constructionNames {
		id, err := s.refs.GetOrCreateConstructionClass(ctx, tx, name)
		if err != nil {
			return nil, err
		}
		tables.constructionClasses[name] = id
	}
	for i := range doc.Players {
		playerID := string(doc.Players[i].ID)
		if err := s.refs.GetOrCreatePlayer(ctx, tx, playerID); err != nil {
			return nil, err
		}
		tables.roster[playerID] = struct{}{}
	}

	return tables, nil
}

func (s *Ingestor) loadPlayers(ctx context.Context, tx *sql.Tx, doc *gamelog.RawLog, logID int64) ([]string, error) {
	participants := make([]string, 0, len(doc.Players))
	for i := range doc.Players {
		p := &doc.Players[i]
		playerID := string(p.ID)

		for _, raw := range p.Sessions {
			session, err := s.buildSession(playerID, raw, doc.Version)
			if err != nil {
				return nil, err
			}
			if err := s.players.CreateSession(ctx, tx, session); err != nil {
				return nil, err
			}
		}

		for _, name := range p.Names {
			if name == "" {
				continue
			}
			if err := s.players.AddName(ctx, tx, playerID, name); err != nil {
				return nil, err
			}
		}

		if err := s.logs.AttachPlayer(ctx, tx, logID, playerID); err != nil {
			return nil, err
		}
		participants = append(participants, playerID)
	}
	return participants, nil
}

// buildSession parses one session entry. Payloads at or below the repair
// threshold may encode a never-terminated session as an empty end time; those
// are stored with the end pinned to the start rather than as garbage.
func (s *Ingestor) buildSession(playerID string, raw gamelog.RawSession, version string) (*domain.Session, error) {
	startedAt, err := gamelog.ParseTime(raw.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: session started_at: %v", gamelog.ErrMalformedPayload, err)
	}

	var endedAt time.Time
	if raw.EndedAt == "" {
		if !gamelog.VersionAtMost(version, constants.SessionRepairMaxVersion) {
			return nil, fmt.Errorf("%w: session missing ended_at", gamelog.ErrMalformedPayload)
		}
		endedAt = startedAt
	} else {
		endedAt, err = gamelog.ParseTime(raw.EndedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: session ended_at: %v", gamelog.ErrMalformedPayload, err)
		}
	}

	return &domain.Session{
		PlayerID:  playerID,
		IP:        raw.IP,
		StartedAt: startedAt,
		EndedAt:   endedAt,
	}, nil
}

func (s *Ingestor) loadTextMessages(ctx context.Context, tx *sql.Tx, doc *gamelog.RawLog, logID int64, refs *refTables) error {
	messages := make([]domain.TextMessage, 0, len(doc.TextMessages))
	for _, raw := range doc.TextMessages {
		sender := string(raw.Sender)
		if sender == constants.ChatSenderSystem {
			continue
		}
		if _, ok := refs.roster[sender]; !ok {
			return fmt.Errorf("%w: text message sender %s", ErrUnknownPlayer, sender)
		}

		sentAt, err := gamelog.ParseTime(raw.SentAt)
		if err != nil {
			return fmt.Errorf("%w: text message sent_at: %v", gamelog.ErrMalformedPayload, err)
		}

		messages = append(messages, domain.TextMessage{
			LogID:      logID,
			SenderID:   sender,
			Type:       raw.Type,
			Message:    domain.TruncateMessage(raw.Message, constants.MaxMessageLength),
			SentAt:     sentAt,
			TeamIndex:  raw.TeamIndex,
			SquadIndex: raw.SquadIndex,
		})
	}
	return s.rounds.InsertTextMessages(ctx, tx, messages)
}

// loadRound creates the round row and bulk-inserts its children, resolving
// every reference from the in-memory tables. Returns the frag count.
func (s *Ingestor) loadRound(ctx context.Context, tx *sql.Tx, raw *gamelog.RawRound, logID int64, refs *refTables) (int, error) {
	startedAt, err := gamelog.ParseTime(raw.StartedAt)
	if err != nil {
		return 0, fmt.Errorf("%w: round started_at: %v", gamelog.ErrMalformedPayload, err)
	}

	var endedAt *time.Time
	if raw.EndedAt != nil && *raw.EndedAt != "" {
		t, err := gamelog.ParseTime(*raw.EndedAt)
		if err != nil {
			return 0, fmt.Errorf("%w: round ended_at: %v", gamelog.ErrMalformedPayload, err)
		}
		endedAt = &t
	}

	roundID, err := s.rounds.Create(ctx, tx, &domain.Round{
		LogID:     logID,
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Winner:    raw.Winner,
	})
	if err != nil {
		return 0, err
	}

	frags := make([]domain.Frag, 0, len(raw.Frags))
	for _, rf := range raw.Frags {
		killerID := string(rf.Killer.ID)
		victimID := string(rf.Victim.ID)
		if _, ok := refs.roster[killerID]; !ok {
			return 0, fmt.Errorf("%w: frag killer %s", ErrUnknownPlayer, killerID)
		}
		if _, ok := refs.roster[victimID]; !ok {
			return 0, fmt.Errorf("%w: frag victim %s", ErrUnknownPlayer, victimID)
		}

		frags = append(frags, domain.Frag{
			RoundID:              roundID,
			DamageTypeID:         rf.DamageType,
			HitIndex:             rf.HitIndex,
			Time:                 rf.Time,
			KillerID:             killerID,
			KillerTeamIndex:      rf.Killer.Team,
			KillerPawnClassID:    refs.pawnClassID(rf.Killer.Pawn),
			KillerVehicleClassID: refs.pawnClassID(rf.Killer.Vehicle),
			KillerLocation:       rf.Killer.Location,
			VictimID:             victimID,
			VictimTeamIndex:      rf.Victim.Team,
			VictimPawnClassID:    refs.pawnClassID(rf.Victim.Pawn),
			VictimLocation:       rf.Victim.Location,
			Distance:             euclideanDistance(rf.Victim.Location, rf.Killer.Location),
		})
	}
	if err := s.rounds.InsertFrags(ctx, tx, frags); err != nil {
		return 0, err
	}

	vehicleFrags := make([]domain.VehicleFrag, 0, len(raw.VehicleFrags))
	for _, vf := range raw.VehicleFrags {
		killerID := string(vf.Killer.ID)
		if _, ok := refs.roster[killerID]; !ok {
			return 0, fmt.Errorf("%w: vehicle frag killer %s", ErrUnknownPlayer, killerID)
		}

		vehicleFrags = append(vehicleFrags, domain.VehicleFrag{
			RoundID:              roundID,
			DamageTypeID:         vf.DamageType,
			KillerID:             killerID,
			KillerTeamIndex:      vf.Killer.Team,
			KillerPawnClassID:    refs.pawnClassID(vf.Killer.Pawn),
			KillerVehicleClassID: refs.pawnClassID(vf.Killer.Vehicle),
			KillerLocation:       vf.Killer.Location,
			VehicleClassID:       refs.pawnClassID(vf.DestroyedVehicle.Vehicle),
			VehicleTeamIndex:     vf.DestroyedVehicle.Team,
			VehicleLocation:      vf.DestroyedVehicle.Location,
			Distance:             euclideanDistance(vf.DestroyedVehicle.Location, vf.Killer.Location),
		})
	}
	if err := s.rounds.InsertVehicleFrags(ctx, tx, vehicleFrags); err != nil {
		return 0, err
	}

	rallyPoints := make([]domain.RallyPoint, 0, len(raw.RallyPoints))
	for _, rp := range raw.RallyPoints {
		point, err := s.buildRallyPoint(rp, roundID, refs)
		if err != nil {
			return 0, err
		}
		rallyPoints = append(rallyPoints, *point)
	}
	if err := s.rounds.InsertRallyPoints(ctx, tx, rallyPoints); err != nil {
		return 0, err
	}

	constructions := make([]domain.Construction, 0, len(raw.Constructions))
	for _, rc := range raw.Constructions {
		builderID := string(rc.PlayerID)
		if _, ok := refs.roster[builderID]; !ok {
			return 0, fmt.Errorf("%w: construction builder %s", ErrUnknownPlayer, builderID)
		}
		classID, ok := refs.constructionClasses[rc.Class]
		if !ok {
			return 0, fmt.Errorf("%w: construction class %q not resolved", gamelog.ErrMalformedPayload, rc.Class)
		}

		constructions = append(constructions, domain.Construction{
			RoundID:   roundID,
			ClassID:   classID,
			PlayerID:  builderID,
			TeamIndex: rc.Team,
			RoundTime: rc.RoundTime,
			Location:  rc.Location,
		})
	}
	if err := s.rounds.InsertConstructions(ctx, tx, constructions); err != nil {
		return 0, err
	}

	events := make([]domain.Event, 0, len(raw.Events))
	for _, re := range raw.Events {
		data := "{}"
		if len(re.Data) > 0 {
			data = string(re.Data)
		}
		events = append(events, domain.Event{
			RoundID: roundID,
			Type:    re.Type,
			Data:    data,
		})
	}
	if err := s.rounds.InsertEvents(ctx, tx, events); err != nil {
		return 0, err
	}

	return len(frags), nil
}

func (s *Ingestor) buildRallyPoint(raw gamelog.RawRallyPoint, roundID int64, refs *refTables) (*domain.RallyPoint, error) {
	playerID := string(raw.PlayerID)
	if _, ok := refs.roster[playerID]; !ok {
		return nil, fmt.Errorf("%w: rally point establisher %s", ErrUnknownPlayer, playerID)
	}

	createdAt, err := gamelog.ParseTime(raw.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: rally point created_at: %v", gamelog.ErrMalformedPayload, err)
	}

	var destroyedAt *time.Time
	if raw.DestroyedAt != nil && *raw.DestroyedAt != "" {
		t, err := gamelog.ParseTime(*raw.DestroyedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: rally point destroyed_at: %v", gamelog.ErrMalformedPayload, err)
		}
		destroyedAt = &t
	}

	var reason *domain.DestroyedReason
	if raw.DestroyedReason != nil && *raw.DestroyedReason != "" {
		r := domain.DestroyedReason(*raw.DestroyedReason)
		if !r.Valid() {
			return nil, fmt.Errorf("%w: unknown rally point destroy reason %q", gamelog.ErrMalformedPayload, *raw.DestroyedReason)
		}
		reason = &r
	}

	return &domain.RallyPoint{
		RoundID:          roundID,
		TeamIndex:        raw.TeamIndex,
		SquadIndex:       raw.SquadIndex,
		PlayerID:         playerID,
		IsEstablished:    raw.IsEstablished,
		EstablisherCount: raw.EstablisherCount,
		SpawnCount:       raw.SpawnCount,
		Location:         raw.Location,
		CreatedAt:        createdAt,
		DestroyedAt:      destroyedAt,
		DestroyedReason:  reason,
	}, nil
}

// archivePayload re-serializes the parsed document to its content-addressed
// path. Best-effort: a failure is logged, never surfaced to the caller.
func (s *Ingestor) archivePayload(logger zerolog.Logger, doc *gamelog.RawLog, crc uint32) {
	data, err := json.Marshal(doc)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to serialize payload for archival")
		return
	}
	if err := s.store.Put(crc, data); err != nil {
		logger.Warn().Err(err).Msg("failed to archive payload")
	}
}

func euclideanDistance(a, b [3]float64) float64 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	dz := a[2] - b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
