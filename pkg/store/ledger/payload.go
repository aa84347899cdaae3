package ledger

import (
	"encoding/json"
	"fmt"
)

// Payload is the type-tagged body of an entry.
type Payload interface {
	EntryType() EntryType
	Validate() error
}

// RoutingDetails records where a query was routed.
type RoutingDetails struct {
	Query              string         `json:"query"`
	JurisdictionHint   string         `json:"jurisdiction_hint,omitempty"`
	DomainHint         string         `json:"domain_hint,omitempty"`
	TargetJurisdiction string         `json:"target_jurisdiction"`
	TargetAgent        string         `json:"target_agent"`
	UserContext        map[string]any `json:"user_context,omitempty"`
}

func (RoutingDetails) EntryType() EntryType { return EntryTypeRoutingDecision }

func (d RoutingDetails) Validate() error {
	if d.TargetJurisdiction == "" {
		return fmt.Errorf("%w: routing target_jurisdiction is required", ErrInvalidRecord)
	}
	if d.TargetAgent == "" {
		return fmt.Errorf("%w: routing target_agent is required", ErrInvalidRecord)
	}
	return nil
}

// RefusalDetails records a refused or escalated request.
type RefusalDetails struct {
	Reason             string `json:"reason"`
	Query              string `json:"query,omitempty"`
	TargetJurisdiction string `json:"target_jurisdiction,omitempty"`
	Rating             *int   `json:"rating,omitempty"`
}

func (RefusalDetails) EntryType() EntryType { return EntryTypeRefusalOrEscalation }

func (d RefusalDetails) Validate() error {
	if d.Reason == "" {
		return fmt.Errorf("%w: refusal reason is required", ErrInvalidRecord)
	}
	return nil
}

// AgentExecutionDetails records that a jurisdiction agent processed a query.
type AgentExecutionDetails struct {
	AgentID        string `json:"agent_id"`
	Jurisdiction   string `json:"jurisdiction"`
	QueryProcessed string `json:"query_processed,omitempty"`
}

func (AgentExecutionDetails) EntryType() EntryType { return EntryTypeAgentExecution }

func (d AgentExecutionDetails) Validate() error {
	if d.AgentID == "" || d.Jurisdiction == "" {
		return fmt.Errorf("%w: agent_id and jurisdiction are required", ErrInvalidRecord)
	}
	return nil
}

// FeedbackDetails records user feedback on a trace.
type FeedbackDetails struct {
	Rating       int    `json:"rating"`
	FeedbackType string `json:"feedback_type"`
	Comment      string `json:"comment,omitempty"`
	OutcomeTag   string `json:"outcome_tag,omitempty"`
}

func (FeedbackDetails) EntryType() EntryType { return EntryTypeFeedback }

func (d FeedbackDetails) Validate() error {
	if d.Rating < 1 || d.Rating > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5, got %d", ErrInvalidRecord, d.Rating)
	}
	switch d.FeedbackType {
	case "clarity", "correctness", "usefulness":
	default:
		return fmt.Errorf("%w: unknown feedback_type %q", ErrInvalidRecord, d.FeedbackType)
	}
	return nil
}

// EnforcementDetails records the policy verdict that gated a request.
type EnforcementDetails struct {
	Decision         string `json:"decision"`
	RuleID           string `json:"rule_id"`
	PolicySource     string `json:"policy_source"`
	ReasoningSummary string `json:"reasoning_summary,omitempty"`
	ProofHash        string `json:"proof_hash,omitempty"`
}

func (EnforcementDetails) EntryType() EntryType { return EntryTypeEnforcementDecision }

func (d EnforcementDetails) Validate() error {
	if d.Decision == "" || d.RuleID == "" {
		return fmt.Errorf("%w: decision and rule_id are required", ErrInvalidRecord)
	}
	return nil
}

// DecodePayload parses raw into the payload type selected by t.
func DecodePayload(t EntryType, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch t {
	case EntryTypeRoutingDecision:
		var d RoutingDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		p = d
	case EntryTypeRefusalOrEscalation:
		var d RefusalDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		p = d
	case EntryTypeAgentExecution:
		var d AgentExecutionDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		p = d
	case EntryTypeFeedback:
		var d FeedbackDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		p = d
	case EntryTypeEnforcementDecision:
		var d EnforcementDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		p = d
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidEntryType, t)
	}
	return p, nil
}

// Details decodes the entry's payload.
func (e Entry) Details() (Payload, error) {
	return DecodePayload(e.Type, e.Payload)
}
