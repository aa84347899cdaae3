package ledger

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/praj33/Nyaya-Ai-sub001/pkg/crypto"
)

// MemoryLedger keeps entries in an append-only slice. Readers take a
// length-bounded snapshot, so they never observe a partially appended entry.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []Entry
	keys    crypto.SignVerifier
	clock   func() time.Time
	// persist, when set, runs inside the append critical section before the
	// entry becomes visible. A persist error aborts the append.
	persist func(Entry) error
}

// NewMemoryLedger creates an empty in-memory ledger sealed with keys.
func NewMemoryLedger(keys crypto.SignVerifier) *MemoryLedger {
	return &MemoryLedger{
		entries: make([]Entry, 0),
		keys:    keys,
		clock:   time.Now,
	}
}

// WithClock overrides the time source (for deterministic tests).
func (l *MemoryLedger) WithClock(clock func() time.Time) *MemoryLedger {
	l.clock = clock
	return l
}

func (l *MemoryLedger) Append(ctx context.Context, rec Record) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if err := rec.Validate(); err != nil {
		return Entry{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := Genesis
	if n := len(l.entries); n > 0 {
		prev = l.entries[n-1].Hash
	}

	e, err := build(rec, uint64(len(l.entries)), prev, l.clock(), l.keys)
	if err != nil {
		return Entry{}, err
	}
	if l.persist != nil {
		if err := l.persist(e); err != nil {
			return Entry{}, err
		}
	}
	l.entries = append(l.entries, e)
	return e.clone(), nil
}

func (l *MemoryLedger) Get(ctx context.Context, seq uint64) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq >= uint64(len(l.entries)) {
		return Entry{}, ErrNotFound
	}
	return l.entries[seq].clone(), nil
}

func (l *MemoryLedger) snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	// entries[:n] is never written again; later appends only extend it.
	return l.entries[:len(l.entries):len(l.entries)]
}

// Scan yields copies; the snapshot itself is only read by VerifyChain.
func (l *MemoryLedger) Scan(ctx context.Context, f Filter) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for e, err := range sliceSeq(ctx, l.snapshot(), f) {
			if !yield(e.clone(), err) {
				return
			}
		}
	}
}

func (l *MemoryLedger) VerifyChain(ctx context.Context) error {
	return verifySeq(ctx, sliceSeq(ctx, l.snapshot(), Filter{}), l.keys)
}

func (l *MemoryLedger) Len(ctx context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}

func (l *MemoryLedger) Head(ctx context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n := len(l.entries); n > 0 {
		return l.entries[n-1].Hash, nil
	}
	return Genesis, nil
}
