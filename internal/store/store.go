// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/strmly/strmly/internal/domain"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a payout already exists for a message.
	ErrDuplicate = errors.New("payout already claimed for message")
	// ErrReplyNotFound is returned when reply_to does not name a message in the same stream.
	ErrReplyNotFound = errors.New("reply target not found in stream")
)

// Repository defines the interface for persisting chat, stream and payout data.
type Repository interface {
	// AppendMessage persists a chat message. ID and CreatedAt are filled in when empty.
	AppendMessage(ctx context.Context, msg *domain.ChatMessage) error

	// GetMessage retrieves a message by ID. Returns nil, nil when absent.
	GetMessage(ctx context.Context, id string) (*domain.ChatMessage, error)

	// ListMessages returns up to limit of the most recent messages of a stream,
	// oldest first.
	ListMessages(ctx context.Context, streamID string, limit int) ([]*domain.ChatMessage, error)

	// DeleteMessage removes a message. Returns false if nothing was deleted.
	DeleteMessage(ctx context.Context, streamID, id string) (bool, error)

	// GetStream retrieves a stream directory entry. Returns nil, nil when absent.
	GetStream(ctx context.Context, playbackID string) (*domain.Stream, error)

	// UpsertStream creates or updates a stream directory entry.
	UpsertStream(ctx context.Context, stream *domain.Stream) error

	// StreamOwner returns the owner address of a stream or ErrNotFound.
	StreamOwner(ctx context.Context, playbackID string) (string, error)

	// ClaimMessage records that a message entered the donation pipeline.
	// Returns false if it was claimed before.
	ClaimMessage(ctx context.Context, messageID string) (bool, error)

	// ClaimPayout inserts a payout attempt keyed by its message ID.
	// Returns ErrDuplicate if the message already has one.
	ClaimPayout(ctx context.Context, attempt *domain.PayoutAttempt) error

	// UpdatePayout persists status, tx hash and failure fields of an attempt.
	UpdatePayout(ctx context.Context, attempt *domain.PayoutAttempt) error

	// GetPayoutByMessage retrieves the attempt for a message. Returns nil, nil when absent.
	GetPayoutByMessage(ctx context.Context, messageID string) (*domain.PayoutAttempt, error)

	// ListPayouts returns the most recent payout attempts of a stream, newest first.
	ListPayouts(ctx context.Context, streamID string, limit int) ([]*domain.PayoutAttempt, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
