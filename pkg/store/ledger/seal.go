package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/praj33/Nyaya-Ai-sub001/pkg/canonicalize"
	"github.com/praj33/Nyaya-Ai-sub001/pkg/crypto"
)

// signable is every field of an Entry except hash and signature.
type signable struct {
	Sequence      uint64          `json:"sequence"`
	Type          EntryType       `json:"type"`
	Timestamp     string          `json:"timestamp"`
	TraceID       string          `json:"trace_id"`
	PrevHash      string          `json:"prev_hash"`
	Payload       json.RawMessage `json:"payload"`
	NonceVerified bool            `json:"nonce_verified"`
	KeyID         string          `json:"key_id"`
}

// CanonicalBytes returns the bytes covered by both Hash and Signature.
func (e Entry) CanonicalBytes() ([]byte, error) {
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return canonicalize.JCS(signable{
		Sequence:      e.Sequence,
		Type:          e.Type,
		Timestamp:     canonicalize.Timestamp(e.Timestamp),
		TraceID:       e.TraceID,
		PrevHash:      e.PrevHash,
		Payload:       payload,
		NonceVerified: e.NonceVerified,
		KeyID:         e.KeyID,
	})
}

// build assembles and seals the entry that follows (seq, prevHash).
func build(rec Record, seq uint64, prevHash string, now time.Time, signer crypto.Signer) (Entry, error) {
	payload, err := canonicalize.JCS(rec.Payload)
	if err != nil {
		return Entry{}, fmt.Errorf("encode payload: %w", err)
	}

	e := Entry{
		Sequence:      seq,
		Type:          rec.Type,
		Timestamp:     now.UTC(),
		TraceID:       rec.TraceID,
		PrevHash:      prevHash,
		Payload:       payload,
		NonceVerified: rec.NonceVerified,
		KeyID:         signer.KeyID(),
	}

	b, err := e.CanonicalBytes()
	if err != nil {
		return Entry{}, fmt.Errorf("canonical encoding: %w", err)
	}
	e.Hash = canonicalize.HashBytes(b)
	e.Signature, err = signer.Sign(b)
	if err != nil {
		return Entry{}, fmt.Errorf("sign entry: %w", err)
	}
	return e, nil
}

// VerifySignature reports whether the entry's signature covers its current
// content. It does not check the hash chain.
func VerifySignature(e Entry, v crypto.Verifier) bool {
	b, err := e.CanonicalBytes()
	if err != nil {
		return false
	}
	return v.Verify(b, e.Signature)
}

// verifySeq walks entries in order and returns the first violation.
func verifySeq(ctx context.Context, entries iter.Seq2[Entry, error], v crypto.Verifier) error {
	expectedPrev := Genesis
	var next uint64
	for e, err := range entries {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if e.Sequence != next {
			return &ChainError{Index: next, Kind: MismatchSequence,
				Expected: fmt.Sprint(next), Actual: fmt.Sprint(e.Sequence)}
		}
		if e.PrevHash != expectedPrev {
			return &ChainError{Index: e.Sequence, Kind: MismatchPrevHash,
				Expected: expectedPrev, Actual: e.PrevHash}
		}

		b, err := e.CanonicalBytes()
		if err != nil {
			return fmt.Errorf("%w: entry %d hash computation failed: %w", ErrChainBroken, e.Sequence, err)
		}
		if computed := canonicalize.HashBytes(b); computed != e.Hash {
			return &ChainError{Index: e.Sequence, Kind: MismatchHash,
				Expected: computed, Actual: e.Hash}
		}
		if !v.Verify(b, e.Signature) {
			return &ChainError{Index: e.Sequence, Kind: MismatchSignature}
		}

		expectedPrev = e.Hash
		next++
	}
	return nil
}

// sliceSeq adapts a snapshot to the Scan iterator shape, checking ctx
// between entries.
func sliceSeq(ctx context.Context, entries []Entry, f Filter) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				yield(Entry{}, err)
				return
			}
			if !f.matches(e) {
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}
