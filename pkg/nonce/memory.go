package nonce

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type pendingEntry struct {
	issuedAt  time.Time
	expiresAt time.Time
}

// MemoryManager is the in-process Manager. A single mutex serializes Issue and
// Consume; Inspect takes the read lock.
type MemoryManager struct {
	mu        sync.RWMutex
	ttl       time.Duration
	retention time.Duration
	pending   map[string]pendingEntry
	used      int
	clock     func() time.Time
	logger    *slog.Logger
}

// NewMemoryManager creates a manager issuing nonces valid for ttl.
func NewMemoryManager(ttl time.Duration) *MemoryManager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryManager{
		ttl:       ttl,
		retention: ttl,
		pending:   make(map[string]pendingEntry),
		clock:     time.Now,
		logger:    slog.Default().With("component", "nonce"),
	}
}

// WithClock overrides the time source (for deterministic tests).
func (m *MemoryManager) WithClock(clock func() time.Time) *MemoryManager {
	m.clock = clock
	return m
}

// WithRetention sets how long an expired, never-presented token is kept so
// that presenting it still reports ErrExpired. Only Sweep honours it.
func (m *MemoryManager) WithRetention(d time.Duration) *MemoryManager {
	m.retention = d
	return m
}

func (m *MemoryManager) Issue(ctx context.Context) (Nonce, error) {
	if err := ctx.Err(); err != nil {
		return Nonce{}, err
	}
	token, err := newToken()
	if err != nil {
		return Nonce{}, fmt.Errorf("nonce: generate token: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock().UTC()
	e := pendingEntry{issuedAt: now, expiresAt: now.Add(m.ttl)}
	m.pending[token] = e

	return Nonce{Value: token, IssuedAt: e.issuedAt, ExpiresAt: e.expiresAt, State: StatePending}, nil
}

func (m *MemoryManager) Consume(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.pending[token]
	if !ok {
		return ErrNotFound
	}
	delete(m.pending, token)

	if m.clock().After(e.expiresAt) {
		return ErrExpired
	}
	m.used++
	return nil
}

func (m *MemoryManager) Inspect(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.clock()
	pending := 0
	for _, e := range m.pending {
		if !now.After(e.expiresAt) {
			pending++
		}
	}
	return Stats{Pending: pending, Used: m.used}, nil
}

// Sweep drops pending tokens that expired more than the retention window ago
// and returns how many were dropped.
func (m *MemoryManager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.clock().Add(-m.retention)
	n := 0
	for token, e := range m.pending {
		if e.expiresAt.Before(cutoff) {
			delete(m.pending, token)
			n++
		}
	}
	return n
}

// StartJanitor runs Sweep every interval until ctx is done.
func (m *MemoryManager) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.Sweep(); n > 0 {
					m.logger.Debug("swept expired nonces", "count", n)
				}
			}
		}
	}()
}
