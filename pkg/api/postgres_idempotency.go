package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// PostgresIdempotencyStore provides durable idempotency enforcement backed by
// PostgreSQL, so replays are recognised across restarts and replicas.
type PostgresIdempotencyStore struct {
	db    *sql.DB
	ttl   time.Duration
	clock func() time.Time
}

// NewPostgresIdempotencyStore creates a new PostgreSQL-backed idempotency store.
func NewPostgresIdempotencyStore(db *sql.DB, ttl time.Duration) *PostgresIdempotencyStore {
	return &PostgresIdempotencyStore{db: db, ttl: ttl, clock: time.Now}
}

// Init creates the idempotency_keys table.
func (s *PostgresIdempotencyStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS idempotency_keys (
		key TEXT PRIMARY KEY,
		status_code INTEGER NOT NULL,
		headers JSONB NOT NULL,
		body BYTEA NOT NULL,
		cached_at TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create idempotency_keys: %w", err)
	}
	return nil
}

// Check returns a cached response if the idempotency key was seen before and is within TTL.
func (s *PostgresIdempotencyStore) Check(ctx context.Context, key string) (*cachedResponse, bool, error) {
	var (
		statusCode int
		headers    []byte
		body       []byte
		cachedAt   time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status_code, headers, body, cached_at FROM idempotency_keys WHERE key = $1`,
		key,
	).Scan(&statusCode, &headers, &body, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup idempotency key: %w", err)
	}

	if s.clock().Sub(cachedAt) > s.ttl {
		return nil, false, nil
	}

	hdr := make(http.Header)
	if err := json.Unmarshal(headers, &hdr); err != nil {
		return nil, false, fmt.Errorf("decode cached headers: %w", err)
	}

	return &cachedResponse{
		StatusCode: statusCode,
		Headers:    hdr,
		Body:       body,
		CachedAt:   cachedAt,
	}, true, nil
}

// Set stores an idempotency key and its response.
func (s *PostgresIdempotencyStore) Set(ctx context.Context, key string, resp *cachedResponse) error {
	headers, err := json.Marshal(resp.Headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (key, status_code, headers, body, cached_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO UPDATE SET status_code = $2, headers = $3, body = $4, cached_at = $5`,
		key, resp.StatusCode, headers, resp.Body, s.clock().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store idempotency key: %w", err)
	}
	return nil
}

// Cleanup removes idempotency keys older than the TTL.
func (s *PostgresIdempotencyStore) Cleanup(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE cached_at < $1`,
		s.clock().Add(-s.ttl).UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup idempotency keys: %w", err)
	}
	return res.RowsAffected()
}

// StartJanitor runs Cleanup every interval until ctx is done.
func (s *PostgresIdempotencyStore) StartJanitor(ctx context.Context, interval time.Duration) {
	logger := slog.Default().With("component", "idempotency")
	go every(ctx, interval, func() {
		n, err := s.Cleanup(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			logger.WarnContext(ctx, "idempotency cleanup failed", "error", err)
		case n > 0:
			logger.DebugContext(ctx, "dropped expired idempotency keys", "count", n)
		}
	})
}
