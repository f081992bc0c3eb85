package api

import (
	"context"
	"errors"
	"net/http"
)

// ContentDependencies queues content for acquisition.
type ContentDependencies interface {
	AcquireContent(ctx context.Context, id int64) bool
}

// ContentHandler handles content acquisition requests.
type ContentHandler struct {
	deps ContentDependencies
}

// NewContentHandler creates a new content handler.
func NewContentHandler(deps ContentDependencies) *ContentHandler {
	return &ContentHandler{deps: deps}
}

// HandleAcquire handles POST /content/{id} requests.
func (h *ContentHandler) HandleAcquire(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if !h.deps.AcquireContent(r.Context(), id) {
		writeError(w, http.StatusServiceUnavailable, "unavailable", errors.New("content acquisition is not accepting requests"))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "queued"})
}
