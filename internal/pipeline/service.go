// Package pipeline turns chat messages that mention the donation bot into
// payout submissions.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strmly/strmly/internal/chat"
	"github.com/strmly/strmly/internal/dedup"
	"github.com/strmly/strmly/internal/domain"
	"github.com/strmly/strmly/internal/donation"
	"github.com/strmly/strmly/internal/extract"
	"github.com/strmly/strmly/internal/mention"
)

// MessageStore is the append-only chat log.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *domain.ChatMessage) error
}

// Dispatcher submits a validated intent.
type Dispatcher interface {
	Dispatch(ctx context.Context, intent donation.Intent) (*domain.PayoutAttempt, error)
}

// Limiter throttles mentions per sender.
type Limiter interface {
	Allow(key string) bool
}

// Options sizes the worker pool and bounds the external calls.
type Options struct {
	Workers           int
	QueueSize         int
	ExtractionTimeout time.Duration
	DispatchTimeout   time.Duration
	// Claims gives each message a single attempt. Defaults to an in-memory set.
	Claims dedup.Claims
	// Cooldown is optional.
	Cooldown Limiter
}

type job struct {
	msg domain.ChatMessage
}

// Service ingests chat messages and runs the donation pipeline for each
// mention on a bounded worker pool.
type Service struct {
	store      MessageStore
	publisher  chat.Publisher
	detector   *mention.Detector
	extractor  extract.Client
	dispatcher Dispatcher
	opts       Options
	logger     *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	jobs     chan job
	workerWg sync.WaitGroup
	closeMu  sync.RWMutex
	closed   bool
}

// NewService creates a service and starts its workers.
func NewService(
	store MessageStore,
	publisher chat.Publisher,
	detector *mention.Detector,
	extractor extract.Client,
	dispatcher Dispatcher,
	opts Options,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.ExtractionTimeout <= 0 {
		opts.ExtractionTimeout = 20 * time.Second
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 30 * time.Second
	}
	if opts.Claims == nil {
		opts.Claims = dedup.NewMemory(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		store:      store,
		publisher:  publisher,
		detector:   detector,
		extractor:  extractor,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		jobs:       make(chan job, opts.QueueSize),
	}

	for i := 0; i < opts.Workers; i++ {
		s.workerWg.Add(1)
		go s.worker()
	}
	return s
}

// Post validates and persists msg, announces it on the feed, and queues it
// for processing when it mentions the bot. Persisting is the first effect.
func (s *Service) Post(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	s.publish(ctx, domain.FeedEvent{
		Type:      domain.FeedInsert,
		StreamID:  msg.StreamID,
		MessageID: msg.ID,
		Message:   msg,
		At:        msg.CreatedAt,
	})

	if ok, _ := s.detector.Detect(msg.Body); ok {
		s.enqueue(ctx, *msg)
	}
	return msg, nil
}

// Consume processes the insert events of one stream's feed until events is
// closed or ctx is done. Deletes and other streams' events are ignored.
func (s *Service) Consume(ctx context.Context, streamID string, events <-chan domain.FeedEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.StreamID != streamID {
				continue
			}
			switch ev.Type {
			case domain.FeedInsert:
				if ev.Message == nil {
					s.logger.Warn("Insert event without message", "stream_id", streamID, "message_id", ev.MessageID)
					continue
				}
				if ok, _ := s.detector.Detect(ev.Message.Body); ok {
					s.enqueue(ctx, *ev.Message)
				}
			case domain.FeedDelete:
				s.logger.Debug("Chat message deleted", "stream_id", streamID, "message_id", ev.MessageID)
			}
		}
	}
}

func (s *Service) enqueue(ctx context.Context, msg domain.ChatMessage) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		s.logger.Warn("Pipeline closed, dropping message", "message_id", msg.ID, "stream_id", msg.StreamID)
		return
	}

	select {
	case s.jobs <- job{msg: msg}:
		s.logger.Debug("Donation job enqueued", "message_id", msg.ID, "stream_id", msg.StreamID)
	case <-ctx.Done():
		s.logger.Warn("Caller gone before donation job was queued",
			"message_id", msg.ID,
			"stream_id", msg.StreamID,
			"error", ctx.Err(),
		)
	}
}

func (s *Service) worker() {
	defer s.workerWg.Done()
	for j := range s.jobs {
		out := s.Process(s.ctx, &j.msg)
		s.publishOutcome(out)
	}
}

// Process runs the per-message state machine: mention check, extraction,
// sanitizing, validation, recipient resolution and dispatch.
func (s *Service) Process(ctx context.Context, msg *domain.ChatMessage) Outcome {
	out := Outcome{MessageID: msg.ID, StreamID: msg.StreamID, Sender: msg.Sender}

	ok, body := s.detector.Detect(msg.Body)
	if !ok {
		out.Kind = OutcomeNoMention
		return out
	}

	// The claim is kept whatever the outcome; a retry needs a new message.
	claimed, err := s.opts.Claims.Acquire(ctx, msg.ID)
	if err != nil {
		s.logger.Warn("Dedup claim failed", "error", err, "message_id", msg.ID)
		return s.fail(out, donation.New(donation.KindDispatchRejected, err))
	}
	if !claimed {
		return s.skip(out, donation.New(donation.KindDuplicate, errors.New("message already processed")))
	}

	if s.opts.Cooldown != nil && !s.opts.Cooldown.Allow(msg.Sender) {
		return s.skip(out, donation.New(donation.KindRateLimited, fmt.Errorf("sender %s over mention cooldown", msg.Sender)))
	}

	intent, err := s.extractIntent(ctx, body, msg.ID)
	if err != nil {
		if errors.Is(err, donation.ErrNoDonation) {
			out.Kind = OutcomeNoDonation
			out.Reason = donation.KindNoDonation
			out.Notice = NoticeNoDonation
			s.logger.Info("No donation detected", "message_id", msg.ID, "stream_id", msg.StreamID)
			return out
		}
		return s.fail(out, err)
	}
	intent.StreamID = msg.StreamID
	intent.Sender = msg.Sender
	out.Amount = intent.Amount.String()

	dispatchCtx, cancel := context.WithTimeout(ctx, s.opts.DispatchTimeout)
	defer cancel()
	attempt, err := s.dispatcher.Dispatch(dispatchCtx, intent)
	if err != nil {
		if attempt != nil {
			out.Recipient = attempt.Recipient
		}
		switch donation.KindOf(err) {
		case donation.KindDuplicate:
			return s.skip(out, err)
		case "":
			err = donation.New(donation.KindDispatchRejected, err)
		}
		return s.fail(out, err)
	}

	out.Kind = OutcomeDispatched
	out.Recipient = attempt.Recipient
	out.TxHash = attempt.TxHash
	out.Notice = successNotice(out.Amount, attempt.Recipient, attempt.TxHash)
	s.logger.Info("Donation dispatched",
		"message_id", msg.ID,
		"stream_id", msg.StreamID,
		"amount", out.Amount,
		"recipient", attempt.Recipient,
		"tx_hash", attempt.TxHash,
	)
	return out
}

// Extract runs extraction, sanitizing and validation for a chat body
// without dispatching anything.
func (s *Service) Extract(ctx context.Context, body string) (donation.Intent, error) {
	return s.extractIntent(ctx, body, "")
}

func (s *Service) extractIntent(ctx context.Context, body, messageID string) (donation.Intent, error) {
	extractCtx, cancel := context.WithTimeout(ctx, s.opts.ExtractionTimeout)
	defer cancel()

	raw, err := s.extractor.Extract(extractCtx, body)
	if err != nil {
		return donation.Intent{}, donation.New(donation.KindExtractionUnavailable, err)
	}
	return donation.Parse(raw, messageID)
}

func (s *Service) fail(out Outcome, err error) Outcome {
	out.Kind = OutcomeFailed
	out.Reason = donation.KindOf(err)
	out.Notice = NoticeFailed
	out.Err = err

	attrs := []any{
		"message_id", out.MessageID,
		"stream_id", out.StreamID,
		"kind", out.Reason,
		"error", err,
	}
	if out.Reason == donation.KindInvalidAmount {
		s.logger.Error("Donation rejected", attrs...)
	} else {
		s.logger.Warn("Donation failed", attrs...)
	}
	return out
}

func (s *Service) skip(out Outcome, err error) Outcome {
	out.Kind = OutcomeSkipped
	out.Reason = donation.KindOf(err)
	out.Err = err
	s.logger.Info("Donation skipped",
		"message_id", out.MessageID,
		"stream_id", out.StreamID,
		"kind", out.Reason,
	)
	return out
}

func (s *Service) publish(ctx context.Context, ev domain.FeedEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("Failed to publish feed event",
			"error", err,
			"type", ev.Type,
			"stream_id", ev.StreamID,
			"message_id", ev.MessageID,
		)
	}
}

func (s *Service) publishOutcome(out Outcome) {
	if !out.Visible() {
		return
	}
	s.publish(s.ctx, domain.FeedEvent{
		Type:      domain.FeedOutcome,
		StreamID:  out.StreamID,
		MessageID: out.MessageID,
		Outcome:   out,
		At:        time.Now().UTC(),
	})
}

// PublishSettlement announces a payout the confirmation watcher settled.
func (s *Service) PublishSettlement(attempt *domain.PayoutAttempt) {
	out := Outcome{
		MessageID: attempt.MessageID,
		StreamID:  attempt.StreamID,
		Sender:    attempt.Sender,
		Amount:    attempt.Amount.String(),
		Recipient: attempt.Recipient,
		TxHash:    attempt.TxHash,
	}
	if attempt.Status == domain.PayoutConfirmed {
		out.Kind = OutcomeConfirmed
		out.Notice = confirmedNotice(out.Amount, attempt.Recipient)
	} else {
		out.Kind = OutcomeFailed
		out.Reason = donation.KindDispatchRejected
		out.Notice = NoticeFailed
	}
	s.publishOutcome(out)
}

// Close stops accepting jobs, drains the queue and waits for the workers.
func (s *Service) Close() {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.closeMu.Unlock()

	s.workerWg.Wait()
	s.cancel()
}
