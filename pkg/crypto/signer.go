package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/crypto/hkdf"
)

// ErrEmptySecret is returned when a signer is built without key material.
var ErrEmptySecret = errors.New("crypto: signing secret is empty")

// hkdfSalt separates ledger signing keys from any other use of the same secret.
const hkdfSalt = "nyaya-ledger-hmac-v1"

// Signer produces detached signatures over canonical bytes.
type Signer interface {
	Sign(data []byte) (string, error)
	KeyID() string
}

// Verifier checks detached signatures produced by a Signer.
type Verifier interface {
	Verify(data []byte, signature string) bool
}

// SignVerifier is a symmetric key that can both sign and verify.
type SignVerifier interface {
	Signer
	Verifier
}

// HMACSigner signs with HMAC-SHA256 under a key derived from a shared secret.
// It implements both Signer and Verifier.
type HMACSigner struct {
	key   []byte
	keyID string
}

// NewHMACSigner derives the working key from secret with HKDF-SHA256, using
// keyID as the info parameter. The secret itself is not retained.
func NewHMACSigner(secret []byte, keyID string) (*HMACSigner, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if keyID == "" {
		return nil, fmt.Errorf("crypto: key id must not be empty")
	}

	r := hkdf.New(sha256.New, secret, []byte(hkdfSalt), []byte(keyID))
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return &HMACSigner{key: key, keyID: keyID}, nil
}

// GenerateSecret returns n random bytes suitable for NewHMACSigner.
func GenerateSecret(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("secret generation failed: %w", err)
	}
	return b, nil
}

func (s *HMACSigner) Sign(data []byte) (string, error) {
	return hex.EncodeToString(s.mac(data)), nil
}

func (s *HMACSigner) KeyID() string {
	return s.keyID
}

// Verify reports whether signature is the hex HMAC of data. The comparison is
// constant-time; malformed hex is simply invalid.
func (s *HMACSigner) Verify(data []byte, signature string) bool {
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(s.mac(data), sig)
}

func (s *HMACSigner) mac(data []byte) []byte {
	m := hmac.New(sha256.New, s.key)
	m.Write(data)
	return m.Sum(nil)
}

func (s *HMACSigner) String() string {
	return fmt.Sprintf("HMACSigner{key_id=%s}", s.keyID)
}

// LogValue keeps key material out of structured logs.
func (s *HMACSigner) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("alg", "HMAC-SHA256"),
		slog.String("key_id", s.keyID),
	)
}
