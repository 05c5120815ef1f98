package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"warlog-tracker/internal/config"
	"warlog-tracker/internal/gamelog"
	"warlog-tracker/internal/metrics"
	"warlog-tracker/internal/service"

	"github.com/rs/zerolog"
)

const maxUploadBytes = 64 << 20

type Server struct {
	ingestor  *service.Ingestor
	playerSvc *service.PlayerService
	metrics   *metrics.Metrics
	cfg       *config.Config
	logger    zerolog.Logger
}

func New(ingestor *service.Ingestor, playerSvc *service.PlayerService, m *metrics.Metrics, cfg *config.Config, logger zerolog.Logger) *Server {
	return &Server{
		ingestor:  ingestor,
		playerSvc: playerSvc,
		metrics:   m,
		cfg:       cfg,
		logger:    logger,
	}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /logs", s.handleIngest)
	mux.HandleFunc("GET /players/{id}/summary", s.handlePlayerSummary)
	mux.HandleFunc("GET /players/{id}/sessions", s.handlePlayerSessions)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.metrics.Ingests.WithLabelValues("forbidden").Inc()
		writeError(w, http.StatusForbidden, "invalid ingest token")
		return
	}

	raw, err := readPayload(r)
	if err != nil {
		s.metrics.Ingests.WithLabelValues("malformed").Inc()
		writeError(w, http.StatusBadRequest, "missing log file")
		return
	}

	result, err := s.ingestor.Ingest(r.Context(), raw)
	if err != nil {
		s.writeIngestError(w, r, err)
		return
	}

	s.metrics.Ingests.WithLabelValues("created").Inc()
	s.metrics.FragsIngested.Add(float64(result.Frags))
	writeJSON(w, http.StatusCreated, map[string]any{
		"log_id":  result.LogID,
		"version": result.Version,
		"players": result.Players,
		"rounds":  result.Rounds,
		"frags":   result.Frags,
	})
}

func (s *Server) writeIngestError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrDuplicateLog):
		s.metrics.Ingests.WithLabelValues("duplicate").Inc()
		writeError(w, http.StatusConflict, "log already ingested")
	case errors.Is(err, gamelog.ErrUnsupportedVersion):
		s.metrics.Ingests.WithLabelValues("unsupported_version").Inc()
		writeError(w, http.StatusNotAcceptable, "log version not supported")
	case errors.Is(err, gamelog.ErrMalformedPayload):
		s.metrics.Ingests.WithLabelValues("malformed").Inc()
		writeError(w, http.StatusBadRequest, "log file is malformed")
	default:
		// Decode exhaustion, unresolved references, storage faults. Nothing
		// here is a client-correctable condition worth detailing.
		s.metrics.Ingests.WithLabelValues("error").Inc()
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("ingestion failed")
		writeError(w, http.StatusInternalServerError, "ingestion failed")
	}
}

func (s *Server) authorized(r *http.Request) bool {
	token := r.Header.Get("X-Ingest-Token")
	if token == "" {
		token = r.FormValue("token")
	}
	return token != "" && token == s.cfg.IngestToken
}

func readPayload(r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadBytes)

	file, _, err := r.FormFile("log")
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func (s *Server) handlePlayerSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.playerSvc.Summary(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "player not found")
			return
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to load player summary")
		writeError(w, http.StatusInternalServerError, "failed to load player summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handlePlayerSessions(w http.ResponseWriter, r *http.Request) {
	dates, err := s.playerSvc.SessionDates(r.Context(), r.PathValue("id"))
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to load player sessions")
		writeError(w, http.StatusInternalServerError, "failed to load player sessions")
		return
	}
	if dates == nil {
		dates = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": dates})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
