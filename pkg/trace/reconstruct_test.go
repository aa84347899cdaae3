package trace

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praj33/Nyaya-Ai-sub001/pkg/crypto"
	"github.com/praj33/Nyaya-Ai-sub001/pkg/store/ledger"
)

type fixture struct {
	ctx   context.Context
	keys  crypto.SignVerifier
	store *ledger.MemoryLedger
	r     *Reconstructor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	keys, err := crypto.NewHMACSigner([]byte("trace-test-secret"), "primary-key-2025")
	require.NoError(t, err)
	store := ledger.NewMemoryLedger(keys)
	return &fixture{
		ctx:   context.Background(),
		keys:  keys,
		store: store,
		r:     NewReconstructor(store, keys),
	}
}

func (f *fixture) route(t *testing.T, traceID, agent, jurisdiction string) ledger.Entry {
	t.Helper()
	e, err := f.store.Append(f.ctx, ledger.Record{
		Type:    ledger.EntryTypeRoutingDecision,
		TraceID: traceID,
		Payload: ledger.RoutingDetails{
			Query:              "Is a verbal contract enforceable?",
			TargetJurisdiction: jurisdiction,
			TargetAgent:        agent,
			UserContext:        map[string]any{"role": "citizen"},
		},
		NonceVerified: true,
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) refuse(t *testing.T, traceID, jurisdiction string, nonceOK bool) ledger.Entry {
	t.Helper()
	e, err := f.store.Append(f.ctx, ledger.Record{
		Type:          ledger.EntryTypeRefusalOrEscalation,
		TraceID:       traceID,
		Payload:       ledger.RefusalDetails{Reason: "enforcement_blocked", TargetJurisdiction: jurisdiction},
		NonceVerified: nonceOK,
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) feedback(t *testing.T, traceID string, rating int) ledger.Entry {
	t.Helper()
	e, err := f.store.Append(f.ctx, ledger.Record{
		Type:          ledger.EntryTypeFeedback,
		TraceID:       traceID,
		Payload:       ledger.FeedbackDetails{Rating: rating, FeedbackType: "correctness"},
		NonceVerified: true,
	})
	require.NoError(t, err)
	return e
}

func TestReconstruct_UnknownTrace(t *testing.T) {
	f := newFixture(t)
	f.route(t, "known", "india_legal_agent", "IN")

	_, err := f.r.Reconstruct(f.ctx, "non-existent-trace-123")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTraceNotFound))
}

func TestReconstruct_MalformedTraceIsNotFound(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"", "has space", "tab\there", strings.Repeat("x", ledger.MaxTraceIDLength+1)} {
		_, err := f.r.Reconstruct(f.ctx, id)
		assert.ErrorIs(t, err, ErrTraceNotFound, "id %q", id)
	}
}

func TestReconstruct_RoutingTreeAndChain(t *testing.T) {
	f := newFixture(t)
	a := f.route(t, "T", "india_legal_agent", "IN")
	f.route(t, "other", "uk_legal_agent", "UK")
	b := f.route(t, "T", "uk_legal_agent", "UK")
	c := f.refuse(t, "T", "", true)

	view, err := f.r.Reconstruct(f.ctx, "T")
	require.NoError(t, err)

	assert.Equal(t, "T", view.TraceID)
	require.Len(t, view.EventChain, 3)
	assert.Equal(t, a.Sequence, view.EventChain[0].Sequence)
	assert.Equal(t, b.Sequence, view.EventChain[1].Sequence)
	assert.Equal(t, c.Sequence, view.EventChain[2].Sequence)

	assert.Equal(t, "india_legal_agent", view.AgentRoutingTree.Root)
	assert.Equal(t, map[string][]string{"india_legal_agent": {"uk_legal_agent"}}, view.AgentRoutingTree.Children)

	assert.True(t, view.SignatureVerification)
	assert.True(t, view.NonceVerification)
	assert.Nil(t, view.RLRewardSnapshot)
}

func TestReconstruct_SingleRoutingHasEmptyChildren(t *testing.T) {
	f := newFixture(t)
	f.route(t, "T", "uae_legal_agent", "UAE")

	view, err := f.r.Reconstruct(f.ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, "uae_legal_agent", view.AgentRoutingTree.Root)
	assert.Empty(t, view.AgentRoutingTree.Children)
	assert.NotNil(t, view.AgentRoutingTree.Children)
}

func TestReconstruct_TreeChildrenAreSets(t *testing.T) {
	f := newFixture(t)
	f.route(t, "T", "router", "IN")
	f.route(t, "T", "router", "IN")
	f.route(t, "T", "india_legal_agent", "IN")
	f.route(t, "T", "router", "IN")
	f.route(t, "T", "uk_legal_agent", "UK")
	f.route(t, "T", "router", "UK")
	f.route(t, "T", "uk_legal_agent", "UK")

	view, err := f.r.Reconstruct(f.ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, "router", view.AgentRoutingTree.Root)
	assert.Equal(t, map[string][]string{
		"router":            {"india_legal_agent", "uk_legal_agent"},
		"india_legal_agent": {"router"},
		"uk_legal_agent":    {"router"},
	}, view.AgentRoutingTree.Children)
}

func TestReconstruct_JurisdictionHopsCollapseAdjacentOnly(t *testing.T) {
	f := newFixture(t)
	f.route(t, "T", "india_legal_agent", "IN")
	f.route(t, "T", "india_legal_agent", "IN")
	f.route(t, "T", "uk_legal_agent", "UK")
	f.route(t, "T", "india_legal_agent", "IN")

	view, err := f.r.Reconstruct(f.ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, []string{"IN", "UK", "IN"}, view.JurisdictionHops)
}

func TestReconstruct_RefusalAndAgentExecutionCountAsHops(t *testing.T) {
	f := newFixture(t)
	f.route(t, "T", "india_legal_agent", "IN")
	_, err := f.store.Append(f.ctx, ledger.Record{
		Type:          ledger.EntryTypeAgentExecution,
		TraceID:       "T",
		Payload:       ledger.AgentExecutionDetails{AgentID: "india_legal_agent", Jurisdiction: "IN"},
		NonceVerified: true,
	})
	require.NoError(t, err)
	f.refuse(t, "T", "UAE", true)

	view, err := f.r.Reconstruct(f.ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, []string{"IN", "UAE"}, view.JurisdictionHops)
}

func TestReconstruct_TamperedEntryIsFlaggedNotFatal(t *testing.T) {
	f := newFixture(t)
	f.route(t, "T", "india_legal_agent", "IN")
	tampered := f.route(t, "T", "uk_legal_agent", "UK")

	mutated := &tamperingStore{Store: f.store, seq: tampered.Sequence}
	r := NewReconstructor(mutated, f.keys)

	view, err := r.Reconstruct(f.ctx, "T")
	require.NoError(t, err)
	assert.False(t, view.SignatureVerification)
	assert.True(t, view.EventChain[0].SignatureValid)
	assert.False(t, view.EventChain[1].SignatureValid)
	require.Len(t, view.EventChain, 2)
}

func TestReconstruct_NonceFlagFromEntries(t *testing.T) {
	f := newFixture(t)
	f.route(t, "T", "india_legal_agent", "IN")
	f.refuse(t, "T", "IN", false)

	view, err := f.r.Reconstruct(f.ctx, "T")
	require.NoError(t, err)
	assert.False(t, view.NonceVerification)
	assert.True(t, view.SignatureVerification)
}

func TestReconstruct_RewardSnapshotIsMostRecentFeedback(t *testing.T) {
	f := newFixture(t)
	f.route(t, "T", "india_legal_agent", "IN")
	f.feedback(t, "T", 5)
	f.feedback(t, "other", 1)
	last := f.feedback(t, "T", 1)

	view, err := f.r.Reconstruct(f.ctx, "T")
	require.NoError(t, err)
	require.NotNil(t, view.RLRewardSnapshot)
	assert.Equal(t, last.Sequence, view.RLRewardSnapshot.Sequence)
	assert.Equal(t, 1, view.RLRewardSnapshot.Rating)
	assert.Equal(t, NegativeFeedbackPenalty, view.RLRewardSnapshot.Reward)
}

func TestReconstruct_ContextFingerprint(t *testing.T) {
	f := newFixture(t)
	f.route(t, "A", "india_legal_agent", "IN")
	f.route(t, "A", "uk_legal_agent", "UK")
	f.route(t, "B", "uk_legal_agent", "UK")

	va, err := f.r.Reconstruct(f.ctx, "A")
	require.NoError(t, err)
	vb, err := f.r.Reconstruct(f.ctx, "B")
	require.NoError(t, err)

	assert.Len(t, va.ContextFingerprint, 64)
	// same query and user context, so same fingerprint
	assert.Equal(t, va.ContextFingerprint, vb.ContextFingerprint)
	assert.Equal(t, fingerprint("Is a verbal contract enforceable?", map[string]any{"role": "citizen"}), va.ContextFingerprint)
	assert.NotEqual(t, fingerprint("Is a verbal contract enforceable?", nil), va.ContextFingerprint)
}

func TestReconstruct_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.route(t, "T", "india_legal_agent", "IN")
	f.route(t, "T", "uk_legal_agent", "UK")
	f.feedback(t, "T", 4)

	v1, err := f.r.Reconstruct(f.ctx, "T")
	require.NoError(t, err)
	v2, err := f.r.Reconstruct(f.ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestReconstruct_CancelledContext(t *testing.T) {
	f := newFixture(t)
	f.route(t, "T", "india_legal_agent", "IN")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.r.Reconstruct(ctx, "T")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrTraceNotFound))
}

func TestReward(t *testing.T) {
	cases := []struct {
		fb   ledger.FeedbackDetails
		want float64
	}{
		{ledger.FeedbackDetails{Rating: 5}, 0.1},
		{ledger.FeedbackDetails{Rating: 4}, 0.1},
		{ledger.FeedbackDetails{Rating: 3}, 0},
		{ledger.FeedbackDetails{Rating: 2}, -0.15},
		{ledger.FeedbackDetails{Rating: 1}, -0.15},
		{ledger.FeedbackDetails{Rating: 5, OutcomeTag: "resolved"}, 0.15},
		{ledger.FeedbackDetails{Rating: 1, OutcomeTag: "wrong"}, -0.3},
		{ledger.FeedbackDetails{Rating: 3, OutcomeTag: "escalated"}, -0.1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Reward(tc.fb), "%+v", tc.fb)
	}
}
