// Package payout turns validated donation intents into on-chain submissions.
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/strmly/strmly/internal/chain"
	"github.com/strmly/strmly/internal/domain"
	"github.com/strmly/strmly/internal/donation"
	"github.com/strmly/strmly/internal/store"
)

// ErrNoChain is returned by NoChain for every submission.
var ErrNoChain = errors.New("chain submission not configured")

// NoChain is the Submitter used when no chain endpoint is configured.
type NoChain struct{}

// SendDonation always fails with ErrNoChain.
func (NoChain) SendDonation(context.Context, string, *big.Int, string) (string, error) {
	return "", ErrNoChain
}

// Directory resolves the payout wallet of a stream.
type Directory interface {
	StreamOwner(ctx context.Context, streamID string) (string, error)
}

// Submitter sends a donation transaction and returns its hash.
type Submitter interface {
	SendDonation(ctx context.Context, recipient string, wei *big.Int, message string) (string, error)
}

// ReceiptSource reports transaction inclusion. A nil receipt means pending.
type ReceiptSource interface {
	Receipt(ctx context.Context, hash string) (*chain.Receipt, error)
}

// Ledger records one payout attempt per chat message.
type Ledger interface {
	ClaimPayout(ctx context.Context, attempt *domain.PayoutAttempt) error
	UpdatePayout(ctx context.Context, attempt *domain.PayoutAttempt) error
}

// Options tunes the dispatcher.
type Options struct {
	Decimals       int32
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	// Receipts enables the confirmation watcher when set.
	Receipts ReceiptSource
	// OnSettled is called after the watcher records a terminal state.
	OnSettled func(*domain.PayoutAttempt)
}

// Dispatcher resolves the recipient, converts the amount and submits
// exactly one transaction per claimed message.
type Dispatcher struct {
	directory Directory
	submitter Submitter
	ledger    Ledger
	opts      Options
	logger    *slog.Logger

	watchCtx    context.Context
	cancelWatch context.CancelFunc
	watchers    sync.WaitGroup
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(directory Directory, submitter Submitter, ledger Ledger, opts Options, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Decimals <= 0 {
		opts.Decimals = NativeDecimals
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 3 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 4 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		directory:   directory,
		submitter:   submitter,
		ledger:      ledger,
		opts:        opts,
		logger:      logger,
		watchCtx:    ctx,
		cancelWatch: cancel,
	}
}

// Dispatch pays out intent and returns the submitted attempt. It returns once
// the transaction is accepted by the node; confirmation is tracked separately.
func (d *Dispatcher) Dispatch(ctx context.Context, intent donation.Intent) (*domain.PayoutAttempt, error) {
	recipient, err := d.resolve(ctx, intent.StreamID)
	if err != nil {
		return nil, err
	}
	intent.Recipient = recipient

	wei, err := ToSmallestUnit(intent.Amount, d.opts.Decimals)
	if err != nil {
		return nil, err
	}

	attempt := &domain.PayoutAttempt{
		MessageID: intent.SourceMessageID,
		StreamID:  intent.StreamID,
		Sender:    intent.Sender,
		Recipient: recipient,
		Amount:    intent.Amount,
		AmountWei: wei.String(),
		Message:   intent.Message,
		Status:    domain.PayoutPending,
	}
	if err := d.ledger.ClaimPayout(ctx, attempt); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, donation.New(donation.KindDuplicate, fmt.Errorf("message %s already dispatched", intent.SourceMessageID))
		}
		return nil, donation.New(donation.KindDispatchRejected, fmt.Errorf("claim payout: %w", err))
	}

	hash, sendErr := d.submitter.SendDonation(ctx, recipient, wei, intent.Message)

	// The submission outcome is recorded even if the caller has gone away.
	recordCtx := context.WithoutCancel(ctx)
	if sendErr != nil {
		attempt.Status = domain.PayoutFailed
		attempt.FailureKind = string(donation.KindDispatchRejected)
		attempt.FailureReason = sendErr.Error()
		if err := d.ledger.UpdatePayout(recordCtx, attempt); err != nil {
			d.logger.Error("Failed to record rejected payout", "error", err, "payout_id", attempt.ID)
		}
		return attempt, donation.New(donation.KindDispatchRejected, sendErr)
	}

	attempt.Status = domain.PayoutSubmitted
	attempt.TxHash = hash
	if err := d.ledger.UpdatePayout(recordCtx, attempt); err != nil {
		d.logger.Error("Failed to record submitted payout",
			"error", err,
			"payout_id", attempt.ID,
			"tx_hash", hash,
		)
	}

	d.logger.Info("Payout submitted",
		"message_id", attempt.MessageID,
		"stream_id", attempt.StreamID,
		"recipient", recipient,
		"amount", attempt.Amount.String(),
		"tx_hash", hash,
	)

	if d.opts.Receipts != nil {
		d.watch(*attempt)
	}
	return attempt, nil
}

func (d *Dispatcher) resolve(ctx context.Context, streamID string) (string, error) {
	owner, err := d.directory.StreamOwner(ctx, streamID)
	if err != nil {
		return "", donation.New(donation.KindRecipientUnresolved, fmt.Errorf("stream %s: %w", streamID, err))
	}
	if !domain.IsAddress(owner) {
		return "", donation.New(donation.KindRecipientUnresolved, fmt.Errorf("stream %s owner %q is not a wallet address", streamID, owner))
	}
	return owner, nil
}

// watch polls for the receipt of a submitted attempt until it is mined or
// the confirmation deadline passes. Expiry leaves the attempt submitted.
func (d *Dispatcher) watch(attempt domain.PayoutAttempt) {
	d.watchers.Add(1)
	go func() {
		defer d.watchers.Done()

		ctx, cancel := context.WithTimeout(d.watchCtx, d.opts.ConfirmTimeout)
		defer cancel()

		ticker := time.NewTicker(d.opts.PollInterval)
		defer ticker.Stop()

		for {
			receipt, err := d.opts.Receipts.Receipt(ctx, attempt.TxHash)
			if err != nil && ctx.Err() == nil {
				d.logger.Debug("Receipt poll failed", "error", err, "tx_hash", attempt.TxHash)
			}
			if receipt != nil {
				d.settle(&attempt, receipt)
				return
			}

			select {
			case <-ctx.Done():
				d.logger.Warn("Payout confirmation deadline passed",
					"tx_hash", attempt.TxHash,
					"message_id", attempt.MessageID,
				)
				return
			case <-ticker.C:
			}
		}
	}()
}

func (d *Dispatcher) settle(attempt *domain.PayoutAttempt, receipt *chain.Receipt) {
	if receipt.Succeeded {
		attempt.Status = domain.PayoutConfirmed
	} else {
		attempt.Status = domain.PayoutFailed
		attempt.FailureKind = string(donation.KindDispatchRejected)
		attempt.FailureReason = fmt.Sprintf("transaction reverted in block %d", receipt.BlockNumber)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.ledger.UpdatePayout(ctx, attempt); err != nil {
		d.logger.Error("Failed to record payout confirmation", "error", err, "tx_hash", attempt.TxHash)
	}

	d.logger.Info("Payout settled",
		"tx_hash", attempt.TxHash,
		"status", attempt.Status,
		"block", receipt.BlockNumber,
	)
	if d.opts.OnSettled != nil {
		d.opts.OnSettled(attempt)
	}
}

// Close stops confirmation watchers and waits for them to exit.
func (d *Dispatcher) Close() {
	d.cancelWatch()
	d.watchers.Wait()
}
