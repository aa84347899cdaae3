package api

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// MaxIdempotencyKeyLength bounds the Idempotency-Key header.
const MaxIdempotencyKeyLength = 255

// cachedResponse is a successful response kept for replay.
type cachedResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	CachedAt   time.Time
}

// IdempotencyStorer persists cached responses by scoped key.
type IdempotencyStorer interface {
	Check(ctx context.Context, key string) (*cachedResponse, bool, error)
	Set(ctx context.Context, key string, resp *cachedResponse) error
}

// MemoryIdempotencyStore is the single-process IdempotencyStorer. Expired
// entries are dropped on lookup and by Cleanup.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]cachedResponse
	ttl     time.Duration
	clock   func() time.Time
}

func NewIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]cachedResponse),
		ttl:     ttl,
		clock:   time.Now,
	}
}

// WithClock overrides the time source.
func (s *MemoryIdempotencyStore) WithClock(clock func() time.Time) *MemoryIdempotencyStore {
	s.clock = clock
	return s
}

func (s *MemoryIdempotencyStore) expired(c cachedResponse, now time.Time) bool {
	return now.Sub(c.CachedAt) >= s.ttl
}

func (s *MemoryIdempotencyStore) Check(_ context.Context, key string) (*cachedResponse, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if s.expired(c, s.clock()) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return &c, true, nil
}

func (s *MemoryIdempotencyStore) Set(_ context.Context, key string, resp *cachedResponse) error {
	c := *resp
	c.Headers = resp.Headers.Clone()
	c.Body = bytes.Clone(resp.Body)

	s.mu.Lock()
	defer s.mu.Unlock()
	c.CachedAt = s.clock()
	s.entries[key] = c
	return nil
}

// Cleanup drops every expired entry and returns how many went.
func (s *MemoryIdempotencyStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	n := 0
	for k, c := range s.entries {
		if s.expired(c, now) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// StartJanitor runs Cleanup every interval until ctx is done.
func (s *MemoryIdempotencyStore) StartJanitor(ctx context.Context, interval time.Duration) {
	logger := slog.Default().With("component", "idempotency")
	go every(ctx, interval, func() {
		if n := s.Cleanup(); n > 0 {
			logger.Debug("dropped expired idempotency keys", "count", n)
		}
	})
}

// every calls fn on each tick until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func()) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}

// recorder tees the response body while passing it through.
type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rc *recorder) WriteHeader(code int) {
	if rc.status == 0 {
		rc.status = code
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *recorder) Write(b []byte) (int, error) {
	if rc.status == 0 {
		rc.status = http.StatusOK
	}
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// perRequestHeaders belong to the current request and are never replayed.
var perRequestHeaders = map[string]bool{
	http.CanonicalHeaderKey("X-Request-ID"): true,
	http.CanonicalHeaderKey("Retry-After"):  true,
}

func replay(w http.ResponseWriter, c *cachedResponse) {
	h := w.Header()
	for k, vals := range c.Headers {
		if perRequestHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		h[k] = append([]string(nil), vals...)
	}
	h.Set("Idempotent-Replayed", "true")
	w.WriteHeader(c.StatusCode)
	_, _ = w.Write(c.Body)
}

// IdempotencyMiddleware processes each POST carrying an Idempotency-Key once
// per path. Repeats get the cached 2xx response and never reach the handler,
// so a replayed decision consumes no nonce and appends nothing. Failed
// responses are not cached and may be retried with the same key.
func IdempotencyMiddleware(store IdempotencyStorer) func(http.Handler) http.Handler {
	logger := slog.Default().With("component", "idempotency")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > MaxIdempotencyKeyLength {
				WriteBadRequest(w, "Idempotency-Key exceeds 255 characters")
				return
			}
			scoped := r.URL.Path + "|" + key
			ctx := r.Context()

			cached, ok, err := store.Check(ctx, scoped)
			switch {
			case err != nil:
				logger.WarnContext(ctx, "idempotency lookup failed", "error", err)
			case ok:
				replay(w, cached)
				return
			}

			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if rec.status < 200 || rec.status > 299 {
				return
			}
			resp := &cachedResponse{StatusCode: rec.status, Headers: w.Header().Clone(), Body: rec.body.Bytes()}
			if err := store.Set(ctx, scoped, resp); err != nil {
				logger.WarnContext(ctx, "idempotency store failed", "error", err)
			}
		})
	}
}
