package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/strmly/strmly/internal/domain"
	"github.com/strmly/strmly/internal/identity"
	"github.com/strmly/strmly/internal/store"
)

// StreamHandler manages the stream directory.
type StreamHandler struct {
	*Handler
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(base *Handler) *StreamHandler {
	return &StreamHandler{Handler: base}
}

// RegisterRoutes registers stream routes.
func (h *StreamHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/streams/{streamID}", func(r chi.Router) {
		r.Get("/", h.GetStream)
		r.With(identity.RequireWallet).Put("/", h.PutStream)
	})
}

type streamRequest struct {
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

// GetStream returns a stream directory entry.
func (h *StreamHandler) GetStream(w http.ResponseWriter, r *http.Request) {
	stream, err := h.repo.GetStream(r.Context(), chi.URLParam(r, "streamID"))
	if err != nil {
		h.logger.Error("Failed to load stream", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load stream")
		return
	}
	if stream == nil {
		Error(w, http.StatusNotFound, "stream not found")
		return
	}
	JSON(w, http.StatusOK, stream)
}

// PutStream registers the caller as the stream's payout owner. An existing
// stream can only be updated by its owner.
func (h *StreamHandler) PutStream(w http.ResponseWriter, r *http.Request) {
	streamID := strings.TrimSpace(chi.URLParam(r, "streamID"))
	wallet := identity.WalletFromContext(r.Context())

	var req streamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	existing, err := h.repo.GetStream(r.Context(), streamID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("Failed to load stream", "error", err, "stream_id", streamID)
		Error(w, http.StatusInternalServerError, "failed to load stream")
		return
	}
	if existing != nil && existing.HasOwner() && !identity.SameWallet(existing.OwnerAddress, wallet) {
		Error(w, http.StatusForbidden, "stream belongs to another wallet")
		return
	}

	stream := &domain.Stream{
		PlaybackID:   streamID,
		OwnerAddress: wallet,
		Title:        strings.TrimSpace(req.Title),
		Tags:         req.Tags,
	}
	if existing != nil {
		stream.CreatedAt = existing.CreatedAt
	}
	if err := h.repo.UpsertStream(r.Context(), stream); err != nil {
		h.logger.Error("Failed to save stream", "error", err, "stream_id", streamID)
		Error(w, http.StatusInternalServerError, "failed to save stream")
		return
	}

	h.logger.Info("Stream registered", "stream_id", streamID, "owner", wallet)
	JSON(w, http.StatusOK, stream)
}
