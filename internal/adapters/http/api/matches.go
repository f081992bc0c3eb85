package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/ranklobby/internal/domain/model"
)

// MatchDependencies queues authoritative match reports.
type MatchDependencies interface {
	SubmitReport(ctx context.Context, report model.MatchReport) (bool, error)
}

// MatchesHandler handles match report submissions.
type MatchesHandler struct {
	deps MatchDependencies
}

// NewMatchesHandler creates a new matches handler.
func NewMatchesHandler(deps MatchDependencies) *MatchesHandler {
	return &MatchesHandler{deps: deps}
}

func validateReport(r model.MatchReport) error {
	switch {
	case r.GameID <= 0:
		return errors.New("missing game_id")
	case r.ContentID <= 0:
		return errors.New("missing content_id")
	case len(r.Results) == 0:
		return errors.New("missing results")
	}
	if _, err := model.ParseMode(string(r.Mode)); err != nil {
		return err
	}
	for _, res := range r.Results {
		if res.PlayerID <= 0 {
			return errors.New("result without player_id")
		}
	}
	return nil
}

// HandlePostMatch handles POST /matches requests.
func (h *MatchesHandler) HandlePostMatch(w http.ResponseWriter, r *http.Request) {
	var report model.MatchReport
	if err := decodeJSON(r, &report); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := validateReport(report); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	dup, err := h.deps.SubmitReport(r.Context(), report)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if dup {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}
