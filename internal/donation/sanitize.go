package donation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// maxAmountLiteral bounds the length of the amount as written in the response.
const maxAmountLiteral = 100

var (
	leadingFence  = regexp.MustCompile("^```[A-Za-z0-9_-]*\\s*")
	trailingFence = regexp.MustCompile("\\s*```$")
)

// Candidate is the parsed, not yet validated, extraction result.
type Candidate struct {
	Amount  decimal.Decimal
	Message string
}

// StripFences removes a surrounding fenced code block and whitespace.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	s = leadingFence.ReplaceAllString(s, "")
	s = trailingFence.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Sanitize parses the extraction service's literal answer. The answer must be
// a single JSON object with a numeric "amount"; "message" is optional but must
// be a string when present. Failures are ExtractionParseFailed and never
// default to a zero amount.
func Sanitize(raw string) (Candidate, error) {
	body := StripFences(raw)
	if body == "" {
		return Candidate{}, New(KindExtractionParseFailed, errors.New("empty response"))
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return Candidate{}, New(KindExtractionParseFailed, fmt.Errorf("decode response: %w", err))
	}
	if fields == nil {
		return Candidate{}, New(KindExtractionParseFailed, errors.New("response is not an object"))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Candidate{}, New(KindExtractionParseFailed, errors.New("trailing data after object"))
	}

	rawAmount, ok := fields["amount"]
	if !ok {
		return Candidate{}, New(KindExtractionParseFailed, errors.New("missing amount"))
	}
	num, ok := rawAmount.(json.Number)
	if !ok {
		return Candidate{}, New(KindExtractionParseFailed, fmt.Errorf("amount is %T, want number", rawAmount))
	}
	if len(num) > maxAmountLiteral {
		return Candidate{}, New(KindExtractionParseFailed, fmt.Errorf("amount literal longer than %d characters", maxAmountLiteral))
	}
	amount, err := decimal.NewFromString(num.String())
	if err != nil {
		return Candidate{}, New(KindExtractionParseFailed, fmt.Errorf("parse amount %q: %w", num, err))
	}

	var message string
	switch m := fields["message"].(type) {
	case nil:
	case string:
		message = m
	default:
		return Candidate{}, New(KindExtractionParseFailed, fmt.Errorf("message is %T, want string", m))
	}

	return Candidate{Amount: amount, Message: message}, nil
}
