package donation

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseRoundTrip(t *testing.T) {
	intent, err := Parse(`{"amount": 0.05, "message": "gg"}`, "m1")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !intent.Amount.Equal(decimal.RequireFromString("0.05")) {
		t.Fatalf("expected amount 0.05, got %s", intent.Amount)
	}
	if intent.Amount.String() != "0.05" {
		t.Fatalf("expected exact decimal text 0.05, got %s", intent.Amount.String())
	}
	if intent.Message != "gg" {
		t.Fatalf("expected message gg, got %q", intent.Message)
	}
	if intent.SourceMessageID != "m1" {
		t.Fatalf("expected source id m1, got %q", intent.SourceMessageID)
	}
}

func TestZeroAmountIsNoDonation(t *testing.T) {
	_, err := Parse(`{"amount": 0, "message": "just saying hi"}`, "m1")
	if !errors.Is(err, ErrNoDonation) {
		t.Fatalf("expected ErrNoDonation, got %v", err)
	}
	if !KindOf(err).Informational() {
		t.Fatal("no donation must be informational")
	}
}

func TestMalformedResponse(t *testing.T) {
	for _, raw := range []string{
		"not json at all",
		"",
		"```json\n```",
		`[1, 2]`,
		`null`,
		`{"message": "missing amount"}`,
		`{"amount": "0.1", "message": "string amount"}`,
		`{"amount": null}`,
		`{"amount": 1, "message": 5}`,
		`{"amount": 1} trailing`,
	} {
		_, err := Parse(raw, "m1")
		if !errors.Is(err, ErrExtractionParseFailed) {
			t.Errorf("Parse(%q) = %v, want ExtractionParseFailed", raw, err)
		}
		if errors.Is(err, ErrNoDonation) {
			t.Errorf("Parse(%q) must not report no donation", raw)
		}
	}
}

func TestFencedResponseMatchesPlain(t *testing.T) {
	plain := `{"amount": 1.5, "message": "cheers"}`
	variants := []string{
		"```json\n" + plain + "\n```",
		"```\n" + plain + "\n```",
		"  ```json " + plain + "```  ",
		"\n" + plain + "\n",
	}
	want, err := Sanitize(plain)
	if err != nil {
		t.Fatalf("Sanitize(plain) failed: %v", err)
	}
	for _, v := range variants {
		got, err := Sanitize(v)
		if err != nil {
			t.Fatalf("Sanitize(%q) failed: %v", v, err)
		}
		if !got.Amount.Equal(want.Amount) || got.Message != want.Message {
			t.Errorf("Sanitize(%q) = %+v, want %+v", v, got, want)
		}
	}
}

func TestNegativeAmountRejected(t *testing.T) {
	_, err := Parse(`{"amount": -1, "message": "x"}`, "m1")
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if KindOf(err).Informational() {
		t.Fatal("invalid amount must be a failure")
	}
}

func TestMissingMessageDefaultsEmpty(t *testing.T) {
	intent, err := Parse(`{"amount": 2}`, "m1")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if intent.Message != "" {
		t.Fatalf("expected empty message, got %q", intent.Message)
	}
}

func TestExponentAmountStaysExact(t *testing.T) {
	c, err := Sanitize(`{"amount": 1e-18, "message": ""}`)
	if err != nil {
		t.Fatalf("Sanitize failed: %v", err)
	}
	if !c.Amount.Equal(decimal.New(1, -18)) {
		t.Fatalf("expected 1e-18, got %s", c.Amount)
	}
}

func TestOutOfRangeAmountsRejectedWithoutExpansion(t *testing.T) {
	tests := []struct {
		raw  string
		want error
	}{
		{`{"amount": 1e400000000, "message": "x"}`, ErrInvalidAmount},
		{`{"amount": -1e400000000, "message": "x"}`, ErrInvalidAmount},
		{`{"amount": 1e61, "message": "x"}`, ErrInvalidAmount},
		{`{"amount": 1e-400000000, "message": "x"}`, ErrAmountPrecision},
		{`{"amount": 1e-37, "message": "x"}`, ErrAmountPrecision},
		{`{"amount": 1` + strings.Repeat("0", 120) + `, "message": "x"}`, ErrExtractionParseFailed},
	}
	for _, tt := range tests {
		done := make(chan error, 1)
		go func() {
			_, err := Parse(tt.raw, "msg-1")
			done <- err
		}()
		select {
		case err := <-done:
			if !errors.Is(err, tt.want) {
				t.Errorf("Parse(%.40s) = %v, want %v", tt.raw, err, tt.want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Parse(%.40s) did not return", tt.raw)
		}
	}
}

func TestZeroWithHugeExponentIsNoDonation(t *testing.T) {
	if _, err := Parse(`{"amount": 0e400000000}`, "msg-1"); !errors.Is(err, ErrNoDonation) {
		t.Fatalf("expected ErrNoDonation, got %v", err)
	}
}

func TestCheckRangeIgnoresTrailingZeros(t *testing.T) {
	amount := decimal.RequireFromString("0.1" + strings.Repeat("0", 50))
	if err := CheckRange(amount); err != nil {
		t.Fatalf("trailing zeros should not count as precision: %v", err)
	}
	if err := CheckRange(decimal.RequireFromString("1" + strings.Repeat("0", 59))); err != nil {
		t.Fatalf("60 integer digits should be accepted: %v", err)
	}
}

func TestErrorKindMatching(t *testing.T) {
	err := fmt.Errorf("stage: %w", New(KindDispatchRejected, errors.New("execution reverted")))
	if !errors.Is(err, ErrDispatchRejected) {
		t.Fatal("expected wrapped error to match ErrDispatchRejected")
	}
	if errors.Is(err, ErrInvalidAmount) {
		t.Fatal("kinds must not cross-match")
	}
	if KindOf(err) != KindDispatchRejected {
		t.Fatalf("KindOf = %q", KindOf(err))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatal("unclassified errors have no kind")
	}
}
