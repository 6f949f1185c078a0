package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/strmly/strmly/internal/chat"
	"github.com/strmly/strmly/internal/domain"
	"github.com/strmly/strmly/internal/identity"
	"github.com/strmly/strmly/internal/store"
)

const wsWriteTimeout = 10 * time.Second

// ChatHandler serves chat history, posting, deletion and the live feed.
type ChatHandler struct {
	*Handler
	svc           ChatService
	feed          Feed
	publisher     chat.Publisher
	allowedOrigin string
	isDev         bool
}

// NewChatHandler creates a chat handler.
func NewChatHandler(base *Handler, svc ChatService, feed Feed, publisher chat.Publisher, allowedOrigin string, isDev bool) *ChatHandler {
	return &ChatHandler{
		Handler:       base,
		svc:           svc,
		feed:          feed,
		publisher:     publisher,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/streams/{streamID}/messages", h.ListMessages)
	r.With(identity.RequireWallet).Post("/api/streams/{streamID}/messages", h.PostMessage)
	r.With(identity.RequireWallet).Delete("/api/streams/{streamID}/messages/{messageID}", h.DeleteMessage)
	r.Get("/ws/chat/{streamID}", h.ServeFeed)
}

type postMessageRequest struct {
	Body    string `json:"body"`
	ReplyTo string `json:"reply_to"`
}

// ListMessages returns the most recent messages of a stream, oldest first.
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")
	msgs, err := h.repo.ListMessages(r.Context(), streamID, queryLimit(r))
	if err != nil {
		h.logger.Error("Failed to list messages", "error", err, "stream_id", streamID)
		Error(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if msgs == nil {
		msgs = []*domain.ChatMessage{}
	}
	JSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// PostMessage appends a chat message from the caller's wallet.
func (h *ChatHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.svc.Post(r.Context(), &domain.ChatMessage{
		StreamID: chi.URLParam(r, "streamID"),
		Sender:   identity.WalletFromContext(r.Context()),
		Body:     req.Body,
		ReplyTo:  strings.TrimSpace(req.ReplyTo),
	})
	switch {
	case err == nil:
		JSON(w, http.StatusCreated, msg)
	case errors.Is(err, domain.ErrEmptyBody), errors.Is(err, domain.ErrInvalidSender), errors.Is(err, domain.ErrMissingStream):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrReplyNotFound):
		Error(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error("Failed to post message", "error", err, "ip", identity.IPFromRequest(r))
		Error(w, http.StatusInternalServerError, "failed to post message")
	}
}

// DeleteMessage removes a message. Only its sender or the stream owner may delete it.
func (h *ChatHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")
	messageID := chi.URLParam(r, "messageID")
	wallet := identity.WalletFromContext(r.Context())

	msg, err := h.repo.GetMessage(r.Context(), messageID)
	if err != nil {
		h.logger.Error("Failed to load message", "error", err, "message_id", messageID)
		Error(w, http.StatusInternalServerError, "failed to load message")
		return
	}
	if msg == nil || msg.StreamID != streamID {
		Error(w, http.StatusNotFound, "message not found")
		return
	}

	if !identity.SameWallet(msg.Sender, wallet) {
		owner, err := h.repo.StreamOwner(r.Context(), streamID)
		if err != nil || !identity.SameWallet(owner, wallet) {
			Error(w, http.StatusForbidden, "not allowed to delete this message")
			return
		}
	}

	deleted, err := h.repo.DeleteMessage(r.Context(), streamID, messageID)
	if err != nil {
		h.logger.Error("Failed to delete message", "error", err, "message_id", messageID)
		Error(w, http.StatusInternalServerError, "failed to delete message")
		return
	}
	if !deleted {
		Error(w, http.StatusNotFound, "message not found")
		return
	}

	if err := h.publisher.Publish(r.Context(), domain.FeedEvent{
		Type:      domain.FeedDelete,
		StreamID:  streamID,
		MessageID: messageID,
		At:        time.Now().UTC(),
	}); err != nil {
		h.logger.Warn("Failed to publish delete event", "error", err, "message_id", messageID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServeFeed upgrades to a websocket and streams the stream's feed events.
func (h *ChatHandler) ServeFeed(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	// Subscribe before the handshake completes so no event after it is missed.
	sub := h.feed.Subscribe(streamID)
	defer h.feed.Unsubscribe(sub)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "stream_id", streamID)
		return
	}
	status, reason := websocket.StatusNormalClosure, "feed ended"
	defer func() {
		if closeErr := ws.Close(status, reason); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "stream_id", streamID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		h.readLoop(ctx, ws, streamID)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Lagged:
			// The client reloads history after reconnecting.
			h.logger.Warn("Closing lagging feed subscriber", "stream_id", streamID, "dropped", sub.Dropped())
			status, reason = websocket.StatusTryAgainLater, "feed lagged, reload history"
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := h.writeJSON(ctx, ws, ev); err != nil {
				h.logger.Debug("WebSocket write error", "error", err, "stream_id", streamID)
				return
			}
		}
	}
}

func (h *ChatHandler) readLoop(ctx context.Context, ws *websocket.Conn, streamID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "stream_id", streamID)
			}
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := h.writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
			}
		}
	}
}

func (h *ChatHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *ChatHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
