// Package ledger implements the append-only, hash-chained and signed record of
// every routing and enforcement decision.
//
// Each entry's hash and signature cover the RFC 8785 encoding of all of its
// other fields, and each entry names the hash of its predecessor (Genesis for
// the first). Backends differ only in where entries are kept.
package ledger

import (
	"context"
	"iter"
)

// Store is the durable interface for the decision ledger.
type Store interface {
	// Append seals rec as the next entry. Appends are totally ordered; once
	// the critical section starts it runs to completion regardless of ctx.
	Append(ctx context.Context, rec Record) (Entry, error)

	// Get retrieves an entry by sequence number.
	Get(ctx context.Context, seq uint64) (Entry, error)

	// Scan yields matching entries in sequence order. It is bounded by the
	// ledger length at call time and stops early when ctx is cancelled,
	// yielding ctx.Err() as its final element.
	Scan(ctx context.Context, f Filter) iter.Seq2[Entry, error]

	// VerifyChain re-checks sequence density, linkage, hashes and signatures.
	// The first violation is returned as a *ChainError.
	VerifyChain(ctx context.Context) error

	// Len returns the number of entries.
	Len(ctx context.Context) (int, error)

	// Head returns the hash of the last entry, or Genesis.
	Head(ctx context.Context) (string, error)
}
