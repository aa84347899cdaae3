// Package nonce implements single-use, time-bounded admission tokens.
//
// Every inbound request that may write to the ledger must first consume a
// nonce. A nonce moves from pending to used exactly once; a nonce presented
// after its TTL is reported as expired and then forgotten.
package nonce

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound covers never-issued tokens, replays, and tokens that have
	// already left the pending state.
	ErrNotFound = errors.New("nonce not found")
	// ErrExpired is returned the first time a pending token is presented after
	// its expiry. Later presentations return ErrNotFound.
	ErrExpired = errors.New("nonce expired")
)

// DefaultTTL matches NONCE_TTL_SECONDS=600.
const DefaultTTL = 600 * time.Second

// State is the lifecycle position of a nonce.
type State string

const (
	StatePending State = "pending"
	StateUsed    State = "used"
	StateExpired State = "expired"
)

// Nonce is an issued admission token.
type Nonce struct {
	Value     string    `json:"nonce"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	State     State     `json:"state"`
}

// Stats is the diagnostic view of a manager. It never exposes token values.
type Stats struct {
	Pending int `json:"pending"`
	Used    int `json:"used"`
}

// Manager issues and consumes nonces.
type Manager interface {
	Issue(ctx context.Context) (Nonce, error)
	// Consume atomically moves token from pending to used. Of any number of
	// concurrent calls for the same token at most one returns nil.
	Consume(ctx context.Context, token string) error
	// Inspect reports counts without changing state. Pending tokens past their
	// expiry are not counted.
	Inspect(ctx context.Context) (Stats, error)
}

func newToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
