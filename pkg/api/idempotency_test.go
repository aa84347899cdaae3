package api

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyMiddleware_ReplaysSuccess(t *testing.T) {
	calls := 0
	h := IdempotencyMiddleware(NewIdempotencyStore(time.Hour))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sequence":7}`))
	}))

	send := func(path, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		req.Header.Set("Idempotency-Key", key)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	first := send("/v1/decisions", "k1")
	second := send("/v1/decisions", "k1")
	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))

	// keys are scoped per path
	send("/v1/feedback", "k1")
	assert.Equal(t, 2, calls)
}

func TestIdempotencyMiddleware_DoesNotCacheFailures(t *testing.T) {
	calls := 0
	h := IdempotencyMiddleware(NewIdempotencyStore(time.Hour))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		WriteBadRequest(w, "nope")
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/decisions", nil)
		req.Header.Set("Idempotency-Key", "k")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 2, calls)
}

func TestIdempotencyMiddleware_IgnoresGetAndMissingKey(t *testing.T) {
	calls := 0
	h := IdempotencyMiddleware(NewIdempotencyStore(time.Hour))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	for i := 0; i < 2; i++ {
		get := httptest.NewRequest(http.MethodGet, "/v1/nonces/stats", nil)
		get.Header.Set("Idempotency-Key", "k")
		h.ServeHTTP(httptest.NewRecorder(), get)
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/nonces", nil))
	}
	assert.Equal(t, 4, calls)
}

func TestMemoryIdempotencyStore_Expiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewIdempotencyStore(time.Minute).WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", &cachedResponse{StatusCode: 201}))
	_, ok, _ := s.Check(ctx, "k")
	assert.True(t, ok)

	require.NoError(t, s.Set(ctx, "other", &cachedResponse{StatusCode: 201}))
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 2, s.Cleanup())
	_, ok, _ = s.Check(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryIdempotencyStore_CheckDropsExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewIdempotencyStore(time.Minute).WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", &cachedResponse{StatusCode: 201}))
	now = now.Add(time.Minute)
	_, ok, _ := s.Check(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Cleanup())
}

func TestMemoryIdempotencyStore_JanitorDropsExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewIdempotencyStore(time.Minute).WithClock(func() time.Time { return now })
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Set(ctx, k, &cachedResponse{StatusCode: 201}))
	}
	now = now.Add(2 * time.Minute)
	s.StartJanitor(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.entries) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestIdempotencyMiddleware_ReplayKeepsCurrentRequestID(t *testing.T) {
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}), RequestIDMiddleware, IdempotencyMiddleware(NewIdempotencyStore(time.Hour)))

	send := func(reqID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/decisions", nil)
		req.Header.Set("Idempotency-Key", "k")
		req.Header.Set("X-Request-ID", reqID)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	send("req-1")
	second := send("req-2")
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, "req-2", second.Header().Get("X-Request-ID"))
}

func TestIdempotencyMiddleware_RejectsOversizedKey(t *testing.T) {
	calls := 0
	h := IdempotencyMiddleware(NewIdempotencyStore(time.Hour))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/decisions", nil)
	req.Header.Set("Idempotency-Key", strings.Repeat("k", MaxIdempotencyKeyLength+1))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, calls)
}

func newMockIdem(t *testing.T) (*PostgresIdempotencyStore, sqlmock.Sqlmock, *time.Time) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewPostgresIdempotencyStore(db, time.Hour)
	s.clock = func() time.Time { return now }
	return s, mock, &now
}

func TestPostgresIdempotencyStore_SetAndCheck(t *testing.T) {
	s, mock, now := newMockIdem(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO idempotency_keys").
		WithArgs("/v1/decisions|k", 201, []byte(`{"Content-Type":["application/json"]}`), []byte(`{"ok":true}`), *now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	hdr := http.Header{}
	hdr.Set("Content-Type", "application/json")
	require.NoError(t, s.Set(ctx, "/v1/decisions|k", &cachedResponse{StatusCode: 201, Headers: hdr, Body: []byte(`{"ok":true}`)}))

	mock.ExpectQuery(`SELECT status_code, headers, body, cached_at FROM idempotency_keys WHERE key = \$1`).
		WithArgs("/v1/decisions|k").
		WillReturnRows(sqlmock.NewRows([]string{"status_code", "headers", "body", "cached_at"}).
			AddRow(201, []byte(`{"Content-Type":["application/json"]}`), []byte(`{"ok":true}`), now.Add(-time.Minute)))

	got, ok, err := s.Check(ctx, "/v1/decisions|k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 201, got.StatusCode)
	assert.Equal(t, "application/json", got.Headers.Get("Content-Type"))
	assert.Equal(t, `{"ok":true}`, string(got.Body))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIdempotencyStore_MissAndExpired(t *testing.T) {
	s, mock, now := newMockIdem(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT status_code").WithArgs("missing").WillReturnError(sql.ErrNoRows)
	_, ok, err := s.Check(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectQuery("SELECT status_code").WithArgs("old").
		WillReturnRows(sqlmock.NewRows([]string{"status_code", "headers", "body", "cached_at"}).
			AddRow(201, []byte(`{}`), []byte(`{}`), now.Add(-2*time.Hour)))
	_, ok, err = s.Check(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec(`DELETE FROM idempotency_keys WHERE cached_at < \$1`).
		WithArgs(now.Add(-time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	n, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIdempotencyStore_JanitorDeletesExpired(t *testing.T) {
	s, mock, now := newMockIdem(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mock.ExpectExec(`DELETE FROM idempotency_keys WHERE cached_at < \$1`).
		WithArgs(now.Add(-time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	s.StartJanitor(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, time.Second, 5*time.Millisecond)
	cancel()
}
