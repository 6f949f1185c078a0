package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/strmly/strmly/internal/domain"
	"github.com/strmly/strmly/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	payoutMu sync.Mutex // Serializes ledger writes to avoid SQLITE_BUSY under bursty dispatch
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS chat_messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		stream_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		body TEXT NOT NULL,
		reply_to TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_stream_seq ON chat_messages(stream_id, seq);

	CREATE TABLE IF NOT EXISTS streams (
		playback_id TEXT PRIMARY KEY,
		owner_address TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS payout_attempts (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL UNIQUE,
		stream_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		amount TEXT NOT NULL,
		amount_wei TEXT NOT NULL,
		message TEXT NOT NULL,
		status TEXT NOT NULL,
		tx_hash TEXT,
		failure_kind TEXT,
		failure_reason TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_payouts_stream ON payout_attempts(stream_id, created_at);

	CREATE TABLE IF NOT EXISTS message_claims (
		message_id TEXT PRIMARY KEY,
		claimed_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// AppendMessage persists a chat message after checking its reply target.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	return withBusyRetry(ctx, "append message", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin append: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if msg.ReplyTo != "" {
			var n int
			err := tx.QueryRowContext(ctx,
				`SELECT COUNT(1) FROM chat_messages WHERE id = ? AND stream_id = ?`,
				msg.ReplyTo, msg.StreamID,
			).Scan(&n)
			if err != nil {
				return fmt.Errorf("check reply target: %w", err)
			}
			if n == 0 {
				return ErrReplyNotFound
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO chat_messages (id, stream_id, sender, body, reply_to, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			msg.ID, msg.StreamID, msg.Sender, msg.Body, nullable(msg.ReplyTo), msg.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return tx.Commit()
	})
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*domain.ChatMessage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, stream_id, sender, body, reply_to, created_at
		FROM chat_messages WHERE id = ?`, id)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan message row: %w", err)
	}
	return msg, nil
}

// ListMessages returns the most recent messages of a stream in arrival order.
func (s *SQLiteStore) ListMessages(ctx context.Context, streamID string, limit int) ([]*domain.ChatMessage, error) {
	limit = clampLimit(limit)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stream_id, sender, body, reply_to, created_at FROM (
			SELECT seq, id, stream_id, sender, body, reply_to, created_at
			FROM chat_messages WHERE stream_id = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, streamID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var msgs []*domain.ChatMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// DeleteMessage removes a message from a stream.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, streamID, id string) (bool, error) {
	var rows int64
	err := withBusyRetry(ctx, "delete message", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE id = ? AND stream_id = ?`, id, streamID)
		if err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
		rows, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return nil
	})
	return rows > 0, err
}

// GetStream retrieves a stream directory entry.
func (s *SQLiteStore) GetStream(ctx context.Context, playbackID string) (*domain.Stream, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT playback_id, owner_address, title, tags, created_at, updated_at
		FROM streams WHERE playback_id = ?`, playbackID)

	var stream domain.Stream
	var tags string
	var createdAt, updatedAt int64
	err := row.Scan(&stream.PlaybackID, &stream.OwnerAddress, &stream.Title, &tags, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan stream row: %w", err)
	}

	stream.Tags = splitTags(tags)
	stream.CreatedAt = time.Unix(createdAt, 0)
	stream.UpdatedAt = time.Unix(updatedAt, 0)
	return &stream, nil
}

// UpsertStream creates or updates a stream directory entry.
func (s *SQLiteStore) UpsertStream(ctx context.Context, stream *domain.Stream) error {
	now := time.Now()
	if stream.CreatedAt.IsZero() {
		stream.CreatedAt = now
	}
	stream.UpdatedAt = now

	query := `
	INSERT INTO streams (playback_id, owner_address, title, tags, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(playback_id) DO UPDATE SET
		owner_address = excluded.owner_address,
		title = excluded.title,
		tags = excluded.tags,
		updated_at = excluded.updated_at`

	return withBusyRetry(ctx, "upsert stream", func() error {
		_, err := s.db.ExecContext(ctx, query,
			stream.PlaybackID, stream.OwnerAddress, stream.Title, strings.Join(stream.Tags, ","),
			stream.CreatedAt.Unix(), stream.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert stream: %w", err)
		}
		return nil
	})
}

// StreamOwner returns the owner address of a stream.
func (s *SQLiteStore) StreamOwner(ctx context.Context, playbackID string) (string, error) {
	stream, err := s.GetStream(ctx, playbackID)
	if err != nil {
		return "", err
	}
	if stream == nil || !stream.HasOwner() {
		return "", ErrNotFound
	}
	return stream.OwnerAddress, nil
}

// ClaimMessage records that messageID entered the donation pipeline.
// It returns false if the message was claimed before.
func (s *SQLiteStore) ClaimMessage(ctx context.Context, messageID string) (bool, error) {
	var claimed bool
	err := withBusyRetry(ctx, "claim message", func() error {
		result, err := s.db.ExecContext(ctx,
			`INSERT INTO message_claims (message_id, claimed_at) VALUES (?, ?) ON CONFLICT(message_id) DO NOTHING`,
			messageID, time.Now().UTC().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert message claim: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		claimed = rows == 1
		return nil
	})
	return claimed, err
}

// ClaimPayout inserts the attempt unless the message already has one.
func (s *SQLiteStore) ClaimPayout(ctx context.Context, attempt *domain.PayoutAttempt) error {
	s.payoutMu.Lock()
	defer s.payoutMu.Unlock()

	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	attempt.CreatedAt = now
	attempt.UpdatedAt = now

	query := `
	INSERT INTO payout_attempts (
		id, message_id, stream_id, sender, recipient, amount, amount_wei,
		message, status, tx_hash, failure_kind, failure_reason, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(message_id) DO NOTHING`

	return withBusyRetry(ctx, "claim payout", func() error {
		result, err := s.db.ExecContext(ctx, query,
			attempt.ID, attempt.MessageID, attempt.StreamID, attempt.Sender, attempt.Recipient,
			attempt.Amount.String(), attempt.AmountWei, attempt.Message, string(attempt.Status),
			nullable(attempt.TxHash), nullable(attempt.FailureKind), nullable(attempt.FailureReason),
			attempt.CreatedAt.UnixMilli(), attempt.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert payout: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrDuplicate
		}
		return nil
	})
}

// UpdatePayout persists the mutable fields of an attempt.
func (s *SQLiteStore) UpdatePayout(ctx context.Context, attempt *domain.PayoutAttempt) error {
	s.payoutMu.Lock()
	defer s.payoutMu.Unlock()

	attempt.UpdatedAt = time.Now().UTC()
	query := `
	UPDATE payout_attempts SET
		status = ?, tx_hash = ?, failure_kind = ?, failure_reason = ?, updated_at = ?
	WHERE id = ?`

	return withBusyRetry(ctx, "update payout", func() error {
		result, err := s.db.ExecContext(ctx, query,
			string(attempt.Status), nullable(attempt.TxHash), nullable(attempt.FailureKind),
			nullable(attempt.FailureReason), attempt.UpdatedAt.UnixMilli(), attempt.ID,
		)
		if err != nil {
			return fmt.Errorf("update payout: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// GetPayoutByMessage retrieves the attempt for a message.
func (s *SQLiteStore) GetPayoutByMessage(ctx context.Context, messageID string) (*domain.PayoutAttempt, error) {
	row := s.db.QueryRowContext(ctx, payoutSelect+` WHERE message_id = ?`, messageID)
	attempt, err := scanPayout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan payout row: %w", err)
	}
	return attempt, nil
}

// ListPayouts returns recent attempts of a stream, newest first.
func (s *SQLiteStore) ListPayouts(ctx context.Context, streamID string, limit int) ([]*domain.PayoutAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		payoutSelect+` WHERE stream_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		streamID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query payouts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close payout rows", "error", closeErr)
		}
	}()

	var attempts []*domain.PayoutAttempt
	for rows.Next() {
		attempt, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payout row: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payouts: %w", err)
	}
	return attempts, nil
}

const payoutSelect = `
	SELECT id, message_id, stream_id, sender, recipient, amount, amount_wei, message,
	       status, tx_hash, failure_kind, failure_reason, created_at, updated_at
	FROM payout_attempts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.ChatMessage, error) {
	var msg domain.ChatMessage
	var replyTo sql.NullString
	var createdAt int64
	if err := row.Scan(&msg.ID, &msg.StreamID, &msg.Sender, &msg.Body, &replyTo, &createdAt); err != nil {
		return nil, err
	}
	msg.ReplyTo = replyTo.String
	msg.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &msg, nil
}

func scanPayout(row rowScanner) (*domain.PayoutAttempt, error) {
	var a domain.PayoutAttempt
	var amount, status string
	var txHash, failureKind, failureReason sql.NullString
	var createdAt, updatedAt int64
	err := row.Scan(
		&a.ID, &a.MessageID, &a.StreamID, &a.Sender, &a.Recipient, &amount, &a.AmountWei, &a.Message,
		&status, &txHash, &failureKind, &failureReason, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse stored amount %q: %w", amount, err)
	}
	a.Status = domain.PayoutStatus(status)
	a.TxHash = txHash.String
	a.FailureKind = failureKind.String
	a.FailureReason = failureReason.String
	a.CreatedAt = time.UnixMilli(createdAt).UTC()
	a.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &a, nil
}

// withBusyRetry retries op with exponential backoff on SQLITE_BUSY/locked errors.
func withBusyRetry(ctx context.Context, op string, fn func() error) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", op, maxRetries, err)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func splitTags(raw string) []string {
	if raw == "" {
		return []string{}
	}
	return strings.Split(raw, ",")
}
