package domain

import (
	"errors"
	"testing"
)

func TestChatMessageValidate(t *testing.T) {
	valid := "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	tests := []struct {
		name string
		msg  ChatMessage
		want error
	}{
		{"ok", ChatMessage{StreamID: "S1", Sender: valid, Body: "hello"}, nil},
		{"blank body", ChatMessage{StreamID: "S1", Sender: valid, Body: "   \n"}, ErrEmptyBody},
		{"no stream", ChatMessage{Sender: valid, Body: "hi"}, ErrMissingStream},
		{"short sender", ChatMessage{StreamID: "S1", Sender: "0xAAA", Body: "hi"}, ErrInvalidSender},
		{"no prefix", ChatMessage{StreamID: "S1", Sender: "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", Body: "hi"}, ErrInvalidSender},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if !errors.Is(err, tt.want) {
				t.Fatalf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPayoutStatusTerminal(t *testing.T) {
	if PayoutSubmitted.Terminal() || PayoutPending.Terminal() {
		t.Fatal("pending/submitted must not be terminal")
	}
	if !PayoutConfirmed.Terminal() || !PayoutFailed.Terminal() {
		t.Fatal("confirmed/failed must be terminal")
	}
}
