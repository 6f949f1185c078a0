// Package domain contains core domain types for the strmly chat service.
package domain

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

var (
	// ErrEmptyBody is returned for chat messages that are blank after trimming.
	ErrEmptyBody = errors.New("message body is empty")
	// ErrInvalidSender is returned when the sender is not a well-formed account.
	ErrInvalidSender = errors.New("sender is not a valid wallet address")
	// ErrMissingStream is returned when a message has no stream identifier.
	ErrMissingStream = errors.New("stream id is required")
)

// ChatMessage is one posted line in a live stream's chat.
// Messages are immutable once persisted.
type ChatMessage struct {
	ID        string    `json:"id"`
	StreamID  string    `json:"stream_id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	ReplyTo   string    `json:"reply_to,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the invariants that do not need storage access.
// Reply targets are checked by the store, which knows the stream's messages.
func (m *ChatMessage) Validate() error {
	if strings.TrimSpace(m.StreamID) == "" {
		return ErrMissingStream
	}
	if strings.TrimSpace(m.Body) == "" {
		return ErrEmptyBody
	}
	if !IsAddress(m.Sender) {
		return ErrInvalidSender
	}
	return nil
}

// IsReply returns true if the message references another message.
func (m *ChatMessage) IsReply() bool {
	return m.ReplyTo != ""
}

// IsAddress reports whether s is a 0x-prefixed 20-byte hex account.
func IsAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// FeedEventType distinguishes entries on a stream's live feed.
type FeedEventType string

const (
	// FeedInsert announces a newly persisted chat message.
	FeedInsert FeedEventType = "insert"
	// FeedDelete announces a removed chat message.
	FeedDelete FeedEventType = "delete"
	// FeedOutcome carries the donation pipeline result for a message.
	FeedOutcome FeedEventType = "outcome"
)

// FeedEvent is one entry on a stream's ordered live feed.
type FeedEvent struct {
	Type      FeedEventType `json:"type"`
	StreamID  string        `json:"stream_id"`
	MessageID string        `json:"message_id"`
	Message   *ChatMessage  `json:"message,omitempty"`
	Outcome   any           `json:"outcome,omitempty"`
	At        time.Time     `json:"at"`
}
