// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	service "github.com/okian/ranklobby/internal/app"
	"github.com/okian/ranklobby/internal/domain/model"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service.
type Dependencies interface {
	StatsProvider
	LobbyDependencies
	SessionDependencies
	RankDependencies
	LeaderboardDependencies
	MatchDependencies
	ContentDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	lobbiesHandler     *LobbiesHandler
	sessionsHandler    *SessionsHandler
	rankHandler        *RankHandler
	leaderboardHandler *LeaderboardHandler
	matchesHandler     *MatchesHandler
	contentHandler     *ContentHandler
	stream             http.Handler
	docs               func(chi.Router)
}

// Option customizes a Server.
type Option func(*Server)

// WithStream mounts a websocket handler at /ws.
func WithStream(h http.Handler) Option {
	return func(s *Server) { s.stream = h }
}

// WithPinger makes /healthz report storage failures.
func WithPinger(p Pinger) Option {
	return func(s *Server) { s.healthHandler.pinger = p }
}

// WithDocs registers documentation routes.
func WithDocs(register func(chi.Router)) Option {
	return func(s *Server) { s.docs = register }
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, defaultMode model.Mode, maxLimit int, opts ...Option) *Server {
	s := &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps),
		lobbiesHandler:     NewLobbiesHandler(deps, defaultMode),
		sessionsHandler:    NewSessionsHandler(deps, defaultMode),
		rankHandler:        NewRankHandler(deps, defaultMode),
		leaderboardHandler: NewLeaderboardHandler(deps, defaultMode, maxLimit),
		matchesHandler:     NewMatchesHandler(deps),
		contentHandler:     NewContentHandler(deps),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	r.Handle("/metrics", s.healthHandler.MetricsHandler())
	r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	r.Get("/lobbies", MetricsMiddleware(s.lobbiesHandler.HandleList, "lobbies"))
	r.Get("/lobbies/{id}", MetricsMiddleware(s.lobbiesHandler.HandleGet, "lobby"))
	r.Get("/players/{id}/placement", MetricsMiddleware(s.lobbiesHandler.HandlePlace, "placement"))
	r.Get("/players/{id}/rank", MetricsMiddleware(s.rankHandler.HandleGetRank, "rank"))
	r.Get("/leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))

	r.Post("/sessions", MetricsMiddleware(s.sessionsHandler.HandleAttach, "sessions"))
	r.Post("/sessions/{id}/events", MetricsMiddleware(s.sessionsHandler.HandleEvent, "session_events"))
	r.Post("/matches", MetricsMiddleware(s.matchesHandler.HandlePostMatch, "matches"))
	r.Post("/content/{id}", MetricsMiddleware(s.contentHandler.HandleAcquire, "content"))

	if s.stream != nil {
		r.Handle("/ws", s.stream)
	}
	if s.docs != nil {
		s.docs(r)
	}
	return r
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError maps service sentinels to status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	case errors.Is(err, service.ErrBackpressure):
		writeError(w, http.StatusTooManyRequests, "backpressure", err)
	case errors.Is(err, service.ErrUnknownSession), errors.Is(err, service.ErrNoLobby), errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, service.ErrSessionExists):
		writeError(w, http.StatusConflict, "conflict", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

// idParam reads a positive integer path parameter.
func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", ErrBadRequest, name)
	}
	return id, nil
}

// modeParam reads ?mode=, falling back to def.
func modeParam(r *http.Request, def model.Mode) (model.Mode, error) {
	raw := r.URL.Query().Get("mode")
	if raw == "" {
		return def, nil
	}
	m, err := model.ParseMode(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return m, nil
}
