package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/praj33/Nyaya-Ai-sub001/pkg/store/ledger"
)

// errUnknownJurisdiction marks a label the registry does not know.
var errUnknownJurisdiction = errors.New("unknown jurisdiction")

type decisionRequest struct {
	TraceID string           `json:"trace_id"`
	Type    ledger.EntryType `json:"type"`
	Details json.RawMessage  `json:"details"`
}

type feedbackRequest struct {
	TraceID string `json:"trace_id"`
	ledger.FeedbackDetails
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return io.ReadAll(r.Body)
}

// handleDecision validates a finalized decision, consumes its nonce and
// appends it to the ledger. Nothing is consumed when validation fails.
func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := validateBody(s.schemas.decision, raw); err != nil {
		WriteCoded(w, r, http.StatusBadRequest, CodeInvalidRecord, err.Error())
		return
	}

	var req decisionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		WriteCoded(w, r, http.StatusBadRequest, CodeInvalidRecord, err.Error())
		return
	}
	payload, err := ledger.DecodePayload(req.Type, req.Details)
	if err != nil {
		WriteCoded(w, r, http.StatusBadRequest, CodeInvalidRecord, err.Error())
		return
	}
	if err := s.checkJurisdictions(payload); err != nil {
		WriteCoded(w, r, http.StatusBadRequest, CodeUnknownJurisdiction, err.Error())
		return
	}

	if req.TraceID == "" {
		req.TraceID = s.newTraceID()
	}
	rec := ledger.Record{Type: req.Type, TraceID: req.TraceID, Payload: payload, NonceVerified: true}
	if err := rec.Validate(); err != nil {
		WriteServiceError(w, r, err)
		return
	}

	if !s.requireNonce(w, r) {
		return
	}

	entry, err := s.ledger.Append(r.Context(), rec)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "decision logged",
		"trace_id", entry.TraceID, "type", entry.Type, "sequence", entry.Sequence,
		"request_id", GetRequestID(r.Context()))
	writeJSON(w, http.StatusCreated, entry)
}

// handleFeedback records an rl_update entry against an existing trace.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := validateBody(s.schemas.feedback, raw); err != nil {
		WriteCoded(w, r, http.StatusBadRequest, CodeInvalidRecord, err.Error())
		return
	}

	var req feedbackRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		WriteCoded(w, r, http.StatusBadRequest, CodeInvalidRecord, err.Error())
		return
	}
	rec := ledger.Record{
		Type:          ledger.EntryTypeFeedback,
		TraceID:       req.TraceID,
		Payload:       req.FeedbackDetails,
		NonceVerified: true,
	}
	if err := rec.Validate(); err != nil {
		WriteServiceError(w, r, err)
		return
	}

	ok, err := s.traceExists(r.Context(), req.TraceID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	if !ok {
		writeTraceNotFound(w, r, req.TraceID)
		return
	}

	if !s.requireNonce(w, r) {
		return
	}

	entry, err := s.ledger.Append(r.Context(), rec)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "feedback logged",
		"trace_id", entry.TraceID, "rating", req.Rating, "sequence", entry.Sequence)
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) checkJurisdictions(p ledger.Payload) error {
	if s.registry == nil {
		return nil
	}
	var labels []string
	switch d := p.(type) {
	case ledger.RoutingDetails:
		labels = append(labels, d.TargetJurisdiction)
	case ledger.AgentExecutionDetails:
		labels = append(labels, d.Jurisdiction)
	case ledger.RefusalDetails:
		if d.TargetJurisdiction != "" {
			labels = append(labels, d.TargetJurisdiction)
		}
	}
	for _, l := range labels {
		if _, ok := s.registry.Lookup(l); !ok {
			return fmt.Errorf("%w: %q", errUnknownJurisdiction, l)
		}
	}
	return nil
}
