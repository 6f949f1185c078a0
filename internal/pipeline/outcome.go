package pipeline

import (
	"fmt"

	"github.com/strmly/strmly/internal/donation"
)

// OutcomeKind is the terminal state of one message's trip through the pipeline.
type OutcomeKind string

const (
	// OutcomeNoMention means the bot was not addressed; nothing else ran.
	OutcomeNoMention OutcomeKind = "no_mention"
	// OutcomeNoDonation means the bot was addressed but no amount was found.
	OutcomeNoDonation OutcomeKind = "no_donation"
	// OutcomeDispatched means a payout transaction was submitted.
	OutcomeDispatched OutcomeKind = "dispatched"
	// OutcomeConfirmed means a submitted payout was mined successfully.
	OutcomeConfirmed OutcomeKind = "confirmed"
	// OutcomeSkipped covers duplicates and cooldown hits.
	OutcomeSkipped OutcomeKind = "skipped"
	// OutcomeFailed means a step failed; Reason names the step.
	OutcomeFailed OutcomeKind = "failed"
)

// Notices shown to chat viewers. Failure details stay in the logs.
const (
	NoticeFailed     = "donation could not be processed"
	NoticeNoDonation = "No donation amount detected in chat message"
)

// Outcome is the observable result of processing one chat message.
type Outcome struct {
	Kind      OutcomeKind   `json:"kind"`
	Reason    donation.Kind `json:"reason,omitempty"`
	MessageID string        `json:"message_id"`
	StreamID  string        `json:"stream_id"`
	Sender    string        `json:"sender,omitempty"`
	Amount    string        `json:"amount,omitempty"`
	Recipient string        `json:"recipient,omitempty"`
	TxHash    string        `json:"tx_hash,omitempty"`
	Notice    string        `json:"notice,omitempty"`
	Err       error         `json:"-"`
}

// Visible reports whether viewers should see the outcome.
func (o Outcome) Visible() bool {
	return o.Notice != ""
}

func successNotice(amount, recipient, txHash string) string {
	return fmt.Sprintf("Donated %s ETH to %s (tx %s)", amount, shortAddress(recipient), txHash)
}

func confirmedNotice(amount, recipient string) string {
	return fmt.Sprintf("Donation of %s ETH to %s confirmed", amount, shortAddress(recipient))
}

func shortAddress(addr string) string {
	if len(addr) < 10 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
