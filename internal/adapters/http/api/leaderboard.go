package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/ranklobby/internal/adapters/repository"
	"github.com/okian/ranklobby/internal/domain/model"
)

// LeaderboardDependencies defines the interface for leaderboard operations
type LeaderboardDependencies interface {
	Leaderboard(ctx context.Context, mode model.Mode, n int) ([]repository.Entry, error)
}

// LeaderboardHandler handles leaderboard requests
type LeaderboardHandler struct {
	deps        LeaderboardDependencies
	defaultMode model.Mode
	maxLimit    int
}

// NewLeaderboardHandler creates a new leaderboard handler
func NewLeaderboardHandler(deps LeaderboardDependencies, defaultMode model.Mode, maxLimit int) *LeaderboardHandler {
	return &LeaderboardHandler{
		deps:        deps,
		defaultMode: defaultMode,
		maxLimit:    maxLimit,
	}
}

// HandleGetLeaderboard handles GET /leaderboard?limit=N&mode= requests
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: limit must be a positive integer", ErrBadRequest))
		return
	}
	if n > h.maxLimit {
		writeError(w, http.StatusBadRequest, "limit_exceeded", fmt.Errorf("%w: limit above %d", ErrBadRequest, h.maxLimit))
		return
	}
	mode, err := modeParam(r, h.defaultMode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	entries, err := h.deps.Leaderboard(r.Context(), mode, n)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []repository.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
