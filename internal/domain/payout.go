package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutStatus is the submission state of a payout attempt.
type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutSubmitted PayoutStatus = "submitted"
	PayoutConfirmed PayoutStatus = "confirmed"
	PayoutFailed    PayoutStatus = "failed"
)

// Terminal returns true for states that never change again.
func (s PayoutStatus) Terminal() bool {
	return s == PayoutConfirmed || s == PayoutFailed
}

// PayoutAttempt records the single dispatch try for one chat message.
// MessageID is the deduplication key.
type PayoutAttempt struct {
	ID            string          `json:"id"`
	MessageID     string          `json:"message_id"`
	StreamID      string          `json:"stream_id"`
	Sender        string          `json:"sender"`
	Recipient     string          `json:"recipient"`
	Amount        decimal.Decimal `json:"amount"`
	AmountWei     string          `json:"amount_wei"`
	Message       string          `json:"message"`
	Status        PayoutStatus    `json:"status"`
	TxHash        string          `json:"tx_hash,omitempty"`
	FailureKind   string          `json:"failure_kind,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
