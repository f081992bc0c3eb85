package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	service "github.com/okian/ranklobby/internal/app"
	"github.com/okian/ranklobby/internal/domain/lobby"
	"github.com/okian/ranklobby/internal/domain/model"
	"github.com/okian/ranklobby/internal/domain/pool"
)

// SessionDependencies adopts sessions and forwards their events.
type SessionDependencies interface {
	Attach(ctx context.Context, req service.AttachRequest) (lobby.Snapshot, error)
	Deliver(ctx context.Context, sessionID string, ev lobby.Event) error
	SessionLobby(sessionID string) (lobby.Snapshot, bool)
	Player(ctx context.Context, id int64, name string, mode model.Mode) (model.Player, error)
}

// Session event types accepted by POST /sessions/{id}/events.
const (
	EventJoinNotice    = "join_notice"
	EventJoined        = "joined"
	EventLeft          = "left"
	EventAllReady      = "all_ready"
	EventMatchStarted  = "match_started"
	EventMatchFinished = "match_finished"
	EventScore         = "score"
	EventChat          = "chat"
	EventClose         = "close"
)

type attachRequest struct {
	SessionID  string         `json:"session_id"`
	Name       string         `json:"name"`
	Mode       string         `json:"mode"`
	Algorithm  string         `json:"algorithm"`
	Mods       []string       `json:"mods"`
	MinStars   float64        `json:"min_stars"`
	MaxStars   float64        `json:"max_stars"`
	FixedStars bool           `json:"fixed_stars"`
	CreatorID  int64          `json:"creator_id"`
	Players    []model.Player `json:"players"`
}

type sessionEvent struct {
	Type     string          `json:"type"`
	PlayerID int64           `json:"player_id"`
	Name     string          `json:"name"`
	Text     string          `json:"text"`
	Score    int64           `json:"score"`
	Scores   map[int64]int64 `json:"scores"`
	Reason   string          `json:"reason"`
}

// SessionsHandler handles session adoption and event delivery.
type SessionsHandler struct {
	deps        SessionDependencies
	defaultMode model.Mode
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(deps SessionDependencies, defaultMode model.Mode) *SessionsHandler {
	return &SessionsHandler{deps: deps, defaultMode: defaultMode}
}

// HandleAttach handles POST /sessions requests.
func (h *SessionsHandler) HandleAttach(w http.ResponseWriter, r *http.Request) {
	var req attachRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	settings, err := req.settings(h.defaultMode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	snap, err := h.deps.Attach(r.Context(), service.AttachRequest{
		SessionID: req.SessionID,
		Players:   req.Players,
		Settings:  settings,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (a attachRequest) settings(def model.Mode) (lobby.Settings, error) {
	if strings.TrimSpace(a.SessionID) == "" {
		return lobby.Settings{}, fmt.Errorf("%w: missing session_id", ErrBadRequest)
	}
	s := lobby.Settings{
		Name:       a.Name,
		Mode:       def,
		Mods:       model.Mods(a.Mods),
		FixedStars: a.FixedStars,
		MinStars:   a.MinStars,
		MaxStars:   a.MaxStars,
		CreatorID:  a.CreatorID,
	}
	if a.Mode != "" {
		m, err := model.ParseMode(a.Mode)
		if err != nil {
			return s, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		s.Mode = m
	}
	if a.Algorithm != "" {
		alg, err := pool.ParseAlgorithm(a.Algorithm)
		if err != nil {
			return s, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		s.Algorithm = alg
	}
	if a.FixedStars && (a.MinStars < 0 || a.MaxStars <= a.MinStars) {
		return s, fmt.Errorf("%w: invalid star range", ErrBadRequest)
	}
	return s, nil
}

// HandleEvent handles POST /sessions/{id}/events requests.
func (h *SessionsHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	var req sessionEvent
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	ev, err := h.event(r.Context(), sessionID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.deps.Deliver(r.Context(), sessionID, ev); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}

// event converts a wire event. Joined players are resolved to their
// stored profile in the lobby's mode.
func (h *SessionsHandler) event(ctx context.Context, sessionID string, e sessionEvent) (lobby.Event, error) {
	needPlayer := func() error {
		if e.PlayerID <= 0 {
			return fmt.Errorf("%w: missing player_id", ErrBadRequest)
		}
		return nil
	}
	switch e.Type {
	case EventJoinNotice:
		if err := needPlayer(); err != nil {
			return nil, err
		}
		return lobby.JoinNotice{PlayerID: e.PlayerID, Name: e.Name}, nil
	case EventJoined:
		if err := needPlayer(); err != nil {
			return nil, err
		}
		snap, ok := h.deps.SessionLobby(sessionID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", service.ErrUnknownSession, sessionID)
		}
		p, err := h.deps.Player(ctx, e.PlayerID, e.Name, snap.Mode)
		if err != nil {
			return nil, err
		}
		return lobby.Joined{Player: p}, nil
	case EventLeft:
		if err := needPlayer(); err != nil {
			return nil, err
		}
		return lobby.Left{PlayerID: e.PlayerID}, nil
	case EventAllReady:
		return lobby.AllReady{}, nil
	case EventMatchStarted:
		return lobby.MatchStarted{}, nil
	case EventMatchFinished:
		return lobby.MatchFinished{Scores: e.Scores}, nil
	case EventScore:
		if err := needPlayer(); err != nil {
			return nil, err
		}
		return lobby.InMatchScore{PlayerID: e.PlayerID, Score: e.Score}, nil
	case EventChat:
		return lobby.Command{PlayerID: e.PlayerID, Text: e.Text}, nil
	case EventClose:
		return lobby.Close{Reason: e.Reason}, nil
	}
	return nil, fmt.Errorf("%w: unknown event type %q", ErrBadRequest, e.Type)
}
