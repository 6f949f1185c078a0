package payout

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/strmly/strmly/internal/chain"
	"github.com/strmly/strmly/internal/domain"
	"github.com/strmly/strmly/internal/donation"
	"github.com/strmly/strmly/internal/store"
)

const (
	ownerWallet  = "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
	viewerWallet = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
)

type fakeDirectory map[string]string

func (f fakeDirectory) StreamOwner(_ context.Context, streamID string) (string, error) {
	owner, ok := f[streamID]
	if !ok {
		return "", store.ErrNotFound
	}
	return owner, nil
}

type sentDonation struct {
	recipient string
	wei       string
	message   string
}

type fakeSubmitter struct {
	mu   sync.Mutex
	sent []sentDonation
	err  error
}

func (f *fakeSubmitter) SendDonation(_ context.Context, recipient string, wei *big.Int, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sentDonation{recipient: recipient, wei: wei.String(), message: message})
	return "0xfeed", nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeLedger struct {
	mu       sync.Mutex
	attempts map[string]domain.PayoutAttempt
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{attempts: make(map[string]domain.PayoutAttempt)}
}

func (f *fakeLedger) ClaimPayout(_ context.Context, a *domain.PayoutAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.attempts[a.MessageID]; ok {
		return store.ErrDuplicate
	}
	a.ID = "payout-" + a.MessageID
	f.attempts[a.MessageID] = *a
	return nil
}

func (f *fakeLedger) UpdatePayout(_ context.Context, a *domain.PayoutAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[a.MessageID] = *a
	return nil
}

func (f *fakeLedger) get(messageID string) domain.PayoutAttempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[messageID]
}

func intent(amount, msg string) donation.Intent {
	return donation.Intent{
		Amount:          decimal.RequireFromString(amount),
		Message:         msg,
		SourceMessageID: "msg-1",
		StreamID:        "play-1",
		Sender:          viewerWallet,
	}
}

func TestToSmallestUnit(t *testing.T) {
	tests := []struct {
		amount string
		want   string
	}{
		{"0.1", "100000000000000000"},
		{"0.05", "50000000000000000"},
		{"1", "1000000000000000000"},
		{"0.000000000000000001", "1"},
		{"12.5", "12500000000000000000"},
	}
	for _, tt := range tests {
		got, err := ToSmallestUnit(decimal.RequireFromString(tt.amount), NativeDecimals)
		if err != nil {
			t.Fatalf("ToSmallestUnit(%s): %v", tt.amount, err)
		}
		if got.String() != tt.want {
			t.Errorf("ToSmallestUnit(%s) = %s, want %s", tt.amount, got, tt.want)
		}
	}
}

func TestToSmallestUnitRejectsExcessPrecision(t *testing.T) {
	_, err := ToSmallestUnit(decimal.RequireFromString("0.0000000000000000001"), NativeDecimals)
	if !errors.Is(err, donation.ErrAmountPrecision) {
		t.Fatalf("expected precision error, got %v", err)
	}
}

func TestToSmallestUnitRejectsOutOfRange(t *testing.T) {
	huge := decimal.New(1, 400000000)
	done := make(chan error, 1)
	go func() {
		_, err := ToSmallestUnit(huge, NativeDecimals)
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, donation.ErrInvalidAmount) {
			t.Fatalf("expected invalid amount, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ToSmallestUnit did not return for a huge exponent")
	}

	// 60 integer digits pass the range check but overflow uint256 at 36 decimals.
	wide := decimal.RequireFromString("9" + strings.Repeat("9", 59))
	if _, err := ToSmallestUnit(wide, 36); !errors.Is(err, donation.ErrInvalidAmount) {
		t.Fatalf("expected uint256 overflow to be invalid, got %v", err)
	}
}

func TestFromSmallestUnit(t *testing.T) {
	v, _ := new(big.Int).SetString("500000000000000000", 10)
	if got := FromSmallestUnit(v, NativeDecimals).String(); got != "0.5" {
		t.Fatalf("unexpected %s", got)
	}
}

func TestDispatchSubmitsToStreamOwner(t *testing.T) {
	sub := &fakeSubmitter{}
	ledger := newFakeLedger()
	d := NewDispatcher(fakeDirectory{"play-1": ownerWallet}, sub, ledger, Options{}, nil)
	defer d.Close()

	attempt, err := d.Dispatch(context.Background(), intent("0.1", "nice stream"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if attempt.Status != domain.PayoutSubmitted || attempt.TxHash != "0xfeed" {
		t.Fatalf("unexpected attempt %+v", attempt)
	}
	if len(sub.sent) != 1 {
		t.Fatalf("expected one submission, got %d", len(sub.sent))
	}
	got := sub.sent[0]
	if got.recipient != ownerWallet || got.wei != "100000000000000000" || got.message != "nice stream" {
		t.Fatalf("unexpected submission %+v", got)
	}
	if ledger.get("msg-1").Status != domain.PayoutSubmitted {
		t.Fatal("ledger should record the submitted attempt")
	}
}

func TestDispatchUnknownStreamIsUnresolved(t *testing.T) {
	sub := &fakeSubmitter{}
	d := NewDispatcher(fakeDirectory{}, sub, newFakeLedger(), Options{}, nil)
	defer d.Close()

	_, err := d.Dispatch(context.Background(), intent("0.1", ""))
	if !errors.Is(err, donation.ErrRecipientUnresolved) {
		t.Fatalf("expected RecipientUnresolved, got %v", err)
	}
	if sub.count() != 0 {
		t.Fatal("nothing should be submitted without a recipient")
	}
}

func TestDispatchMalformedOwnerIsUnresolved(t *testing.T) {
	d := NewDispatcher(fakeDirectory{"play-1": "streamer"}, &fakeSubmitter{}, newFakeLedger(), Options{}, nil)
	defer d.Close()

	if _, err := d.Dispatch(context.Background(), intent("0.1", "")); !errors.Is(err, donation.ErrRecipientUnresolved) {
		t.Fatalf("expected RecipientUnresolved, got %v", err)
	}
}

func TestDispatchTwiceSubmitsOnce(t *testing.T) {
	sub := &fakeSubmitter{}
	d := NewDispatcher(fakeDirectory{"play-1": ownerWallet}, sub, newFakeLedger(), Options{}, nil)
	defer d.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Dispatch(context.Background(), intent("0.1", ""))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	duplicates := 0
	for err := range errs {
		if errors.Is(err, donation.ErrDuplicate) {
			duplicates++
		} else if err != nil {
			t.Errorf("unexpected error %v", err)
		}
	}
	if sub.count() != 1 || duplicates != 7 {
		t.Fatalf("expected 1 submission and 7 duplicates, got %d and %d", sub.count(), duplicates)
	}
}

func TestDispatchRejectedIsRecorded(t *testing.T) {
	sub := &fakeSubmitter{err: chain.ErrRejected}
	ledger := newFakeLedger()
	d := NewDispatcher(fakeDirectory{"play-1": ownerWallet}, sub, ledger, Options{}, nil)
	defer d.Close()

	_, err := d.Dispatch(context.Background(), intent("0.1", ""))
	if !errors.Is(err, donation.ErrDispatchRejected) {
		t.Fatalf("expected DispatchRejected, got %v", err)
	}
	rec := ledger.get("msg-1")
	if rec.Status != domain.PayoutFailed || rec.FailureKind != string(donation.KindDispatchRejected) {
		t.Fatalf("unexpected ledger record %+v", rec)
	}

	// A rejected attempt is terminal; the same message is not retried.
	sub.err = nil
	if _, err := d.Dispatch(context.Background(), intent("0.1", "")); !errors.Is(err, donation.ErrDuplicate) {
		t.Fatalf("expected duplicate on retry, got %v", err)
	}
}

type fakeReceipts struct {
	mu    sync.Mutex
	polls int
	after int
	ok    bool
}

func (f *fakeReceipts) Receipt(_ context.Context, hash string) (*chain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.polls < f.after {
		return nil, nil
	}
	return &chain.Receipt{TxHash: hash, BlockNumber: 7, Succeeded: f.ok}, nil
}

func TestWatcherConfirms(t *testing.T) {
	ledger := newFakeLedger()
	settled := make(chan *domain.PayoutAttempt, 1)
	d := NewDispatcher(fakeDirectory{"play-1": ownerWallet}, &fakeSubmitter{}, ledger, Options{
		PollInterval:   5 * time.Millisecond,
		ConfirmTimeout: time.Second,
		Receipts:       &fakeReceipts{after: 3, ok: true},
		OnSettled:      func(a *domain.PayoutAttempt) { settled <- a },
	}, nil)
	defer d.Close()

	if _, err := d.Dispatch(context.Background(), intent("0.1", "")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	select {
	case a := <-settled:
		if a.Status != domain.PayoutConfirmed {
			t.Fatalf("expected confirmed, got %s", a.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never settled")
	}
	if ledger.get("msg-1").Status != domain.PayoutConfirmed {
		t.Fatal("ledger not updated to confirmed")
	}
}

func TestWatcherRecordsRevert(t *testing.T) {
	ledger := newFakeLedger()
	settled := make(chan *domain.PayoutAttempt, 1)
	d := NewDispatcher(fakeDirectory{"play-1": ownerWallet}, &fakeSubmitter{}, ledger, Options{
		PollInterval: 5 * time.Millisecond,
		Receipts:     &fakeReceipts{ok: false},
		OnSettled:    func(a *domain.PayoutAttempt) { settled <- a },
	}, nil)
	defer d.Close()

	if _, err := d.Dispatch(context.Background(), intent("0.1", "")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	select {
	case a := <-settled:
		if a.Status != domain.PayoutFailed {
			t.Fatalf("expected failed, got %s", a.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never settled")
	}
}

func TestNoChainRejectsDispatch(t *testing.T) {
	ledger := newFakeLedger()
	d := NewDispatcher(fakeDirectory{"play-1": ownerWallet}, NoChain{}, ledger, Options{}, nil)
	defer d.Close()

	_, err := d.Dispatch(context.Background(), intent("0.1", ""))
	if !errors.Is(err, donation.ErrDispatchRejected) || !errors.Is(err, ErrNoChain) {
		t.Fatalf("expected DispatchRejected wrapping ErrNoChain, got %v", err)
	}
}
