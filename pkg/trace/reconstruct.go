// Package trace rebuilds the causal history of a request from the ledger.
package trace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/praj33/Nyaya-Ai-sub001/pkg/canonicalize"
	"github.com/praj33/Nyaya-Ai-sub001/pkg/crypto"
	"github.com/praj33/Nyaya-Ai-sub001/pkg/store/ledger"
)

// ErrTraceNotFound is returned for unknown and malformed trace identifiers alike.
var ErrTraceNotFound = errors.New("trace not found")

// Reconstructor assembles Views from a ledger.
type Reconstructor struct {
	store    ledger.Store
	verifier crypto.Verifier
	logger   *slog.Logger
}

func NewReconstructor(store ledger.Store, verifier crypto.Verifier) *Reconstructor {
	return &Reconstructor{
		store:    store,
		verifier: verifier,
		logger:   slog.Default().With("component", "trace"),
	}
}

// Reconstruct returns the view of traceID. Integrity failures never produce
// an error: tampered entries are returned and flagged in the view.
func (r *Reconstructor) Reconstruct(ctx context.Context, traceID string) (*View, error) {
	if !ledger.ValidTraceID(traceID) {
		return nil, fmt.Errorf("%w: %q", ErrTraceNotFound, traceID)
	}

	view := &View{
		TraceID:               traceID,
		EventChain:            make([]Event, 0),
		JurisdictionHops:      make([]string, 0),
		NonceVerification:     true,
		SignatureVerification: true,
	}
	tree := newTreeBuilder()

	for e, err := range r.store.Scan(ctx, ledger.ByTrace(traceID)) {
		if err != nil {
			return nil, fmt.Errorf("scan trace %s: %w", traceID, err)
		}

		valid := ledger.VerifySignature(e, r.verifier)
		if !valid {
			view.SignatureVerification = false
			r.logger.Warn("trace entry failed signature verification",
				"trace_id", traceID, "sequence", e.Sequence)
		}
		if !e.NonceVerified {
			view.NonceVerification = false
		}

		first := len(view.EventChain) == 0
		view.EventChain = append(view.EventChain, Event{Entry: e, SignatureValid: valid})

		details, err := e.Details()
		if err != nil {
			// undecodable payload: already flagged by the signature check
			if first {
				view.ContextFingerprint = fingerprint("", nil)
			}
			continue
		}

		switch d := details.(type) {
		case ledger.RoutingDetails:
			tree.observe(d.TargetAgent)
			view.JurisdictionHops = appendHop(view.JurisdictionHops, d.TargetJurisdiction)
			if first {
				view.ContextFingerprint = fingerprint(d.Query, d.UserContext)
			}
		case ledger.RefusalDetails:
			view.JurisdictionHops = appendHop(view.JurisdictionHops, d.TargetJurisdiction)
			if first {
				view.ContextFingerprint = fingerprint(d.Query, nil)
			}
		case ledger.AgentExecutionDetails:
			view.JurisdictionHops = appendHop(view.JurisdictionHops, d.Jurisdiction)
			if first {
				view.ContextFingerprint = fingerprint(d.QueryProcessed, nil)
			}
		case ledger.FeedbackDetails:
			view.RLRewardSnapshot = &RewardSnapshot{
				Sequence:     e.Sequence,
				Timestamp:    e.Timestamp,
				Rating:       d.Rating,
				FeedbackType: d.FeedbackType,
				Reward:       Reward(d),
			}
			if first {
				view.ContextFingerprint = fingerprint("", nil)
			}
		default:
			if first {
				view.ContextFingerprint = fingerprint("", nil)
			}
		}
	}

	if len(view.EventChain) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrTraceNotFound, traceID)
	}
	view.AgentRoutingTree = tree.tree()
	return view, nil
}

// fingerprint is the canonical digest of a query and its user context.
func fingerprint(query string, userContext map[string]any) string {
	if userContext == nil {
		userContext = map[string]any{}
	}
	h, err := canonicalize.CanonicalHash(map[string]any{
		"query":        canonicalize.NormalizeText(query),
		"user_context": userContext,
	})
	if err != nil {
		// user_context came out of a JSON decode, so it always re-encodes
		return ""
	}
	return h
}
