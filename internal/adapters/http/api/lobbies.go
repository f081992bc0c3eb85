package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/ranklobby/internal/domain/lobby"
	"github.com/okian/ranklobby/internal/domain/model"
)

// LobbyDependencies reads lobbies and places players.
type LobbyDependencies interface {
	Lobbies() []lobby.Snapshot
	Lobby(id string) (lobby.Snapshot, bool)
	Place(ctx context.Context, p model.Player) (lobby.Snapshot, error)
	Player(ctx context.Context, id int64, name string, mode model.Mode) (model.Player, error)
}

// LobbiesHandler handles lobby listing and placement requests.
type LobbiesHandler struct {
	deps        LobbyDependencies
	defaultMode model.Mode
}

// NewLobbiesHandler creates a new lobbies handler.
func NewLobbiesHandler(deps LobbyDependencies, defaultMode model.Mode) *LobbiesHandler {
	return &LobbiesHandler{deps: deps, defaultMode: defaultMode}
}

// HandleList handles GET /lobbies requests.
func (h *LobbiesHandler) HandleList(w http.ResponseWriter, _ *http.Request) {
	snaps := h.deps.Lobbies()
	if snaps == nil {
		snaps = []lobby.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// HandleGet handles GET /lobbies/{id} requests.
func (h *LobbiesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.deps.Lobby(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandlePlace handles GET /players/{id}/placement?mode=&name= requests.
func (h *LobbiesHandler) HandlePlace(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	mode, err := modeParam(r, h.defaultMode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	p, err := h.deps.Player(r.Context(), id, r.URL.Query().Get("name"), mode)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	snap, err := h.deps.Place(r.Context(), p)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
