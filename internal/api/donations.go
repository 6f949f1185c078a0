package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strmly/strmly/internal/domain"
	"github.com/strmly/strmly/internal/donation"
	"github.com/strmly/strmly/internal/identity"
	"github.com/strmly/strmly/internal/payout"
)

// DonationHandler serves donation extraction and payout queries.
type DonationHandler struct {
	*Handler
	svc      ChatService
	balances BalanceReader
}

// NewDonationHandler creates a donation handler. balances may be nil when
// no chain is configured.
func NewDonationHandler(base *Handler, svc ChatService, balances BalanceReader) *DonationHandler {
	return &DonationHandler{Handler: base, svc: svc, balances: balances}
}

// RegisterRoutes registers donation routes.
func (h *DonationHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/partitionChatBotDonation", h.PartitionChatBotDonation)
	r.Get("/api/streams/{streamID}/payouts", h.ListPayouts)
	r.Get("/api/payouts/by-message/{messageID}", h.GetPayout)
	r.With(identity.RequireWallet).Get("/api/payouts/balance", h.Balance)
}

type partitionRequest struct {
	ChatMessage *string `json:"chatMessage"`
}

type partitionResult struct {
	Amount  json.Number `json:"amount"`
	Message string      `json:"message"`
}

type partitionResponse struct {
	Status  string           `json:"status"`
	Result  *partitionResult `json:"result,omitempty"`
	Message string           `json:"message,omitempty"`
}

// PartitionChatBotDonation extracts {amount, message} from a chat line
// without dispatching anything.
func (h *DonationHandler) PartitionChatBotDonation(w http.ResponseWriter, r *http.Request) {
	var req partitionRequest
	if err := decodeJSON(w, r, &req); err != nil || req.ChatMessage == nil {
		Error(w, http.StatusBadRequest, "chatMessage is required")
		return
	}

	intent, err := h.svc.Extract(r.Context(), *req.ChatMessage)
	if err != nil {
		status, msg := http.StatusOK, "Failed to parse donation information"
		switch donation.KindOf(err) {
		case donation.KindNoDonation:
			msg = "No donation amount detected in chat message"
		case donation.KindInvalidAmount:
			msg = "Invalid donation amount"
		case donation.KindExtractionUnavailable:
			status, msg = http.StatusBadGateway, "Donation extraction service unavailable"
		}
		h.logger.Info("Donation extraction did not succeed", "kind", donation.KindOf(err), "error", err)
		JSON(w, status, partitionResponse{Status: "failed", Message: msg})
		return
	}

	JSON(w, http.StatusOK, partitionResponse{
		Status: "success",
		Result: &partitionResult{
			Amount:  json.Number(intent.Amount.String()),
			Message: intent.Message,
		},
	})
}

// ListPayouts returns recent payout attempts of a stream.
func (h *DonationHandler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")
	attempts, err := h.repo.ListPayouts(r.Context(), streamID, queryLimit(r))
	if err != nil {
		h.logger.Error("Failed to list payouts", "error", err, "stream_id", streamID)
		Error(w, http.StatusInternalServerError, "failed to list payouts")
		return
	}
	if attempts == nil {
		attempts = []*domain.PayoutAttempt{}
	}
	JSON(w, http.StatusOK, map[string]any{"payouts": attempts})
}

// GetPayout returns the payout attempt of one chat message.
func (h *DonationHandler) GetPayout(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.repo.GetPayoutByMessage(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		h.logger.Error("Failed to load payout", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load payout")
		return
	}
	if attempt == nil {
		Error(w, http.StatusNotFound, "payout not found")
		return
	}
	JSON(w, http.StatusOK, attempt)
}

// Balance returns the caller's payout balance held by the donation contract.
func (h *DonationHandler) Balance(w http.ResponseWriter, r *http.Request) {
	if h.balances == nil {
		Error(w, http.StatusServiceUnavailable, "chain not configured")
		return
	}
	wallet := identity.WalletFromContext(r.Context())

	wei, err := h.balances.CheckBalance(r.Context(), wallet)
	if err != nil {
		h.logger.Error("Failed to read payout balance", "error", err, "wallet", wallet)
		if r.Context().Err() != nil {
			return
		}
		Error(w, http.StatusBadGateway, "failed to read payout balance")
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"wallet":      wallet,
		"balance_wei": wei.String(),
		"balance":     payout.FromSmallestUnit(wei, payout.NativeDecimals).String(),
	})
}
