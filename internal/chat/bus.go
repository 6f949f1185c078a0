package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/strmly/strmly/internal/domain"
)

// RedisBus relays feed events between service instances over Redis pub/sub.
type RedisBus struct {
	rdb     *goredis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(addr, channel string, logger *slog.Logger) (*RedisBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("missing REDIS_ADDR")
	}
	if strings.TrimSpace(channel) == "" {
		channel = "strmly-chat"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBus{
		rdb:     rdb,
		channel: channel,
		logger:  logger.With("component", "chat_bus"),
	}, nil
}

// Client exposes the underlying connection for other Redis-backed components.
func (b *RedisBus) Client() *goredis.Client {
	return b.rdb
}

// Publish sends ev to every instance, including this one.
func (b *RedisBus) Publish(ctx context.Context, ev domain.FeedEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal feed event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// StartForwarder subscribes to the channel and hands each decoded event to
// onEvent until ctx is done.
func (b *RedisBus) StartForwarder(ctx context.Context, onEvent func(domain.FeedEvent)) error {
	if onEvent == nil {
		return errors.New("onEvent callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				ev, err := decodeEvent(m.Payload)
				if err != nil {
					b.logger.Warn("Bad chat bus payload", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()

	return nil
}

// Close closes the Redis connection.
func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

func decodeEvent(payload string) (domain.FeedEvent, error) {
	var ev domain.FeedEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return domain.FeedEvent{}, err
	}
	if ev.StreamID == "" {
		return domain.FeedEvent{}, errors.New("feed event without stream id")
	}
	return ev, nil
}
