package ledger

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload_Validate(t *testing.T) {
	rating := 2
	cases := []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{"routing ok", RoutingDetails{Query: "q", TargetJurisdiction: "IN", TargetAgent: "india_legal_agent"}, false},
		{"routing missing agent", RoutingDetails{Query: "q", TargetJurisdiction: "IN"}, true},
		{"routing missing jurisdiction", RoutingDetails{Query: "q", TargetAgent: "a"}, true},
		{"refusal ok", RefusalDetails{Reason: "enforcement_blocked_rl", Rating: &rating}, false},
		{"refusal missing reason", RefusalDetails{}, true},
		{"agent ok", AgentExecutionDetails{AgentID: "uk_legal_agent", Jurisdiction: "UK"}, false},
		{"agent missing id", AgentExecutionDetails{Jurisdiction: "UK"}, true},
		{"feedback ok", FeedbackDetails{Rating: 5, FeedbackType: "clarity"}, false},
		{"feedback rating too high", FeedbackDetails{Rating: 6, FeedbackType: "clarity"}, true},
		{"feedback rating too low", FeedbackDetails{Rating: 0, FeedbackType: "clarity"}, true},
		{"feedback unknown type", FeedbackDetails{Rating: 3, FeedbackType: "vibes"}, true},
		{"enforcement ok", EnforcementDetails{Decision: "ALLOW", RuleID: "R-1", PolicySource: "Governance"}, false},
		{"enforcement missing rule", EnforcementDetails{Decision: "BLOCK"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.payload.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRecord)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecodePayload_SelectsTypeByTag(t *testing.T) {
	p, err := DecodePayload(EntryTypeFeedback, json.RawMessage(`{"rating":4,"feedback_type":"usefulness"}`))
	require.NoError(t, err)
	fb, ok := p.(FeedbackDetails)
	require.True(t, ok)
	assert.Equal(t, 4, fb.Rating)

	p, err = DecodePayload(EntryTypeAgentExecution, json.RawMessage(`{"agent_id":"uae_legal_agent","jurisdiction":"UAE"}`))
	require.NoError(t, err)
	assert.Equal(t, EntryTypeAgentExecution, p.EntryType())

	_, err = DecodePayload("mystery", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrInvalidEntryType)

	_, err = DecodePayload(EntryTypeRoutingDecision, json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}

func TestRecord_PointerPayloadAccepted(t *testing.T) {
	rec := Record{
		Type:    EntryTypeRefusalOrEscalation,
		TraceID: "t",
		Payload: &RefusalDetails{Reason: "x"},
	}
	assert.NoError(t, rec.Validate())
}
