package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrNotFound is returned when a ledger entry is not found.
	ErrNotFound = errors.New("not found")
	// ErrChainBroken is matched by every *ChainError.
	ErrChainBroken = errors.New("hash chain is broken")
	// ErrInvalidEntryType is returned for records whose type has no payload schema.
	ErrInvalidEntryType = errors.New("invalid entry type")
	// ErrInvalidRecord is returned when a record fails validation before append.
	ErrInvalidRecord = errors.New("invalid record")
)

// Genesis is the prev_hash of the first entry.
const Genesis = "GENESIS"

// MaxTraceIDLength bounds a trace identifier, in bytes.
const MaxTraceIDLength = 128

// ValidTraceID reports whether id can name a trace: valid UTF-8, at most
// MaxTraceIDLength bytes, no whitespace or control characters. Append and
// trace lookup share this rule, so every appended trace can be read back.
func ValidTraceID(id string) bool {
	if id == "" || len(id) > MaxTraceIDLength || !utf8.ValidString(id) {
		return false
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// EntryType tags the payload union of an Entry.
type EntryType string

const (
	EntryTypeRoutingDecision     EntryType = "routing_decision"
	EntryTypeRefusalOrEscalation EntryType = "refusal_or_escalation"
	EntryTypeAgentExecution      EntryType = "agent_execution"
	EntryTypeFeedback            EntryType = "rl_update"
	EntryTypeEnforcementDecision EntryType = "enforcement_decision"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryTypeRoutingDecision, EntryTypeRefusalOrEscalation, EntryTypeAgentExecution,
		EntryTypeFeedback, EntryTypeEnforcementDecision:
		return true
	}
	return false
}

// Entry is a single immutable, signed and chained ledger record.
type Entry struct {
	Sequence      uint64          `json:"sequence"`
	Type          EntryType       `json:"type"`
	Timestamp     time.Time       `json:"timestamp"`
	TraceID       string          `json:"trace_id"`
	PrevHash      string          `json:"prev_hash"`
	Payload       json.RawMessage `json:"payload"`
	NonceVerified bool            `json:"nonce_verified"`
	KeyID         string          `json:"key_id"`
	Signature     string          `json:"signature"`
	Hash          string          `json:"hash"`
}

// clone detaches the payload so callers cannot write through to the store.
func (e Entry) clone() Entry {
	e.Payload = bytes.Clone(e.Payload)
	return e
}

// Record is a finalized decision handed to Append. Payload must be one of the
// payload types in this package, matching Type.
type Record struct {
	Type          EntryType
	TraceID       string
	Payload       Payload
	NonceVerified bool
}

// Validate checks that the record is appendable.
func (r Record) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidEntryType, r.Type)
	}
	if r.TraceID == "" {
		return fmt.Errorf("%w: trace_id is required", ErrInvalidRecord)
	}
	if !ValidTraceID(r.TraceID) {
		return fmt.Errorf("%w: trace_id must be at most %d bytes with no whitespace or control characters",
			ErrInvalidRecord, MaxTraceIDLength)
	}
	if r.Payload == nil {
		return fmt.Errorf("%w: payload is required", ErrInvalidRecord)
	}
	if r.Payload.EntryType() != r.Type {
		return fmt.Errorf("%w: payload %s does not match type %s", ErrInvalidRecord, r.Payload.EntryType(), r.Type)
	}
	return r.Payload.Validate()
}

// Filter selects entries during Scan. Zero fields match everything.
type Filter struct {
	TraceID  string
	Type     EntryType
	StartSeq uint64
	// EndSeq is inclusive; zero means no upper bound.
	EndSeq uint64
}

// ByTrace selects the entries of one trace.
func ByTrace(traceID string) Filter {
	return Filter{TraceID: traceID}
}

func (f Filter) matches(e Entry) bool {
	if f.TraceID != "" && e.TraceID != f.TraceID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if e.Sequence < f.StartSeq {
		return false
	}
	if f.EndSeq > 0 && e.Sequence > f.EndSeq {
		return false
	}
	return true
}

// MismatchKind names the check that failed in VerifyChain.
type MismatchKind string

const (
	MismatchSequence  MismatchKind = "sequence_gap"
	MismatchPrevHash  MismatchKind = "prev_hash_mismatch"
	MismatchHash      MismatchKind = "hash_mismatch"
	MismatchSignature MismatchKind = "signature_invalid"
)

// ChainError locates the first integrity violation in the ledger.
type ChainError struct {
	Index    uint64       `json:"index"`
	Kind     MismatchKind `json:"kind"`
	Expected string       `json:"expected,omitempty"`
	Actual   string       `json:"actual,omitempty"`
}

func (e *ChainError) Error() string {
	if e.Expected == "" && e.Actual == "" {
		return fmt.Sprintf("%s: entry %d: %s", ErrChainBroken, e.Index, e.Kind)
	}
	return fmt.Sprintf("%s: entry %d: %s (expected %s, got %s)", ErrChainBroken, e.Index, e.Kind, e.Expected, e.Actual)
}

func (e *ChainError) Unwrap() error { return ErrChainBroken }
