package api

import (
	"context"
	"net/http"

	"github.com/okian/ranklobby/internal/domain/lobby"
	"github.com/okian/ranklobby/internal/domain/model"
)

// RankDependencies defines the interface for rank operations.
type RankDependencies interface {
	Rank(ctx context.Context, playerID int64, mode model.Mode) (lobby.RankInfo, error)
}

type rankResponse struct {
	PlayerID int64      `json:"player_id"`
	Mode     model.Mode `json:"mode"`
	Tier     string     `json:"tier"`
	Elo      float64    `json:"elo"`
	Rank     int        `json:"rank,omitempty"`
	Games    int64      `json:"games"`
}

// RankHandler handles rank requests.
type RankHandler struct {
	deps        RankDependencies
	defaultMode model.Mode
}

// NewRankHandler creates a new rank handler.
func NewRankHandler(deps RankDependencies, defaultMode model.Mode) *RankHandler {
	return &RankHandler{deps: deps, defaultMode: defaultMode}
}

// HandleGetRank handles GET /players/{id}/rank?mode= requests.
func (h *RankHandler) HandleGetRank(w http.ResponseWriter, r *http.Request) {
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
	info, err := h.deps.Rank(r.Context(), id, mode)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rankResponse{
		PlayerID: id,
		Mode:     mode,
		Tier:     info.Tier,
		Elo:      info.Elo,
		Rank:     info.Rank,
		Games:    info.Games,
	})
}
