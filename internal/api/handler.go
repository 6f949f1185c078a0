// Package api provides HTTP handlers for the strmly chat and donation API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/strmly/strmly/internal/chat"
	"github.com/strmly/strmly/internal/domain"
	"github.com/strmly/strmly/internal/donation"
	"github.com/strmly/strmly/internal/store"
)

// defaultMaxRequestBodySize bounds JSON request bodies (64KB).
const defaultMaxRequestBodySize = 64 << 10

// ChatService ingests chat messages and previews donations.
type ChatService interface {
	Post(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error)
	Extract(ctx context.Context, body string) (donation.Intent, error)
}

// Feed hands out live stream subscriptions.
type Feed interface {
	Subscribe(streamID string) *chat.Subscriber
	Unsubscribe(sub *chat.Subscriber)
}

// BalanceReader reads the donation contract's payout balance for an account.
type BalanceReader interface {
	CheckBalance(ctx context.Context, account string) (*big.Int, error)
}

// Handler provides common handler utilities.
type Handler struct {
	repo   store.Repository
	logger *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{repo: repo, logger: logger}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}
