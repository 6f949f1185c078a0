// Package extract calls an external text-generation service to pull a
// donation amount and message out of a chat line.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable marks failures of the extraction service itself
// (network, timeout, non-success status). Malformed answers are not errors.
var ErrUnavailable = errors.New("extraction service unavailable")

// Client returns the service's literal answer for a chat message.
type Client interface {
	Extract(ctx context.Context, message string) (string, error)
}

// Prompt builds the fixed instruction sent with every chat message.
func Prompt(message string) string {
	var b strings.Builder
	b.WriteString("You are an AI assistant for a crypto-friendly streaming platform. ")
	b.WriteString("Your task is to analyze a chat message that contains a donation and extract the following information:\n")
	b.WriteString("- The donation amount in Ethereum (ETH)\n")
	b.WriteString("- The message for the streamer\n\n")
	fmt.Fprintf(&b, "Here is the chat message: %q\n\n", message)
	b.WriteString("Please extract ONLY the Ethereum donation amount and the message. ")
	b.WriteString("Return NOTHING but a JSON object in this exact format:\n")
	b.WriteString("{\n  \"amount\": number,\n  \"message\": \"string\"\n}\n\n")
	b.WriteString("The amount is in whole ETH, not wei. If you cannot detect a donation amount, set amount to 0.\n")
	b.WriteString("Make sure the output is a valid JSON object that can be parsed directly.")
	return b.String()
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}

// Func adapts a function to Client.
type Func func(ctx context.Context, message string) (string, error)

// Extract calls f.
func (f Func) Extract(ctx context.Context, message string) (string, error) {
	return f(ctx, message)
}

// Static answers every message with a fixed response. Used for dry runs.
type Static string

// Extract returns the fixed response unless ctx is already done.
func (s Static) Extract(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return string(s), nil
}
