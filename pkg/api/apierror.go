// Package api exposes the trust core over HTTP: nonce issuance and
// admission, decision and feedback logging, trace reconstruction and chain
// verification. Errors use RFC 7807 Problem Details.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/praj33/Nyaya-Ai-sub001/pkg/nonce"
	"github.com/praj33/Nyaya-Ai-sub001/pkg/store/ledger"
	"github.com/praj33/Nyaya-Ai-sub001/pkg/trace"
)

// Machine-readable error codes carried in ProblemDetail.ErrorCode.
const (
	CodeNonceRequired       = "NONCE_REQUIRED"
	CodeNonceNotFound       = "NONCE_NOT_FOUND"
	CodeNonceExpired        = "NONCE_EXPIRED"
	CodeTraceNotFound       = "TRACE_NOT_FOUND"
	CodeChainViolation      = "CHAIN_INTEGRITY_VIOLATION"
	CodeInvalidRecord       = "INVALID_RECORD"
	CodeUnknownJurisdiction = "UNKNOWN_JURISDICTION"
	CodeInternal            = "INTERNAL_ERROR"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses must use this format.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// RequestID echoes X-Request-ID.
	RequestID string `json:"request_id,omitempty"`

	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message,omitempty"`
	// TraceID names the trace a TRACE_NOT_FOUND refers to.
	TraceID string `json:"trace_id,omitempty"`
	// Index and Kind locate a chain integrity violation.
	Index *uint64 `json:"index,omitempty"`
	Kind  string  `json:"kind,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func problemType(status int) string {
	return fmt.Sprintf("https://nyaya.ai/errors/%d", status)
}

func writeProblem(w http.ResponseWriter, p *ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:   problemType(status),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteCoded writes a problem carrying a machine-readable error code.
func WriteCoded(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeProblem(w, &ProblemDetail{
		Type:      problemType(status),
		Title:     http.StatusText(status),
		Status:    status,
		Detail:    message,
		Instance:  r.URL.Path,
		RequestID: w.Header().Get("X-Request-ID"),
		ErrorCode: code,
		Message:   message,
	})
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but NEVER exposed to the client.
func WriteInternal(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("internal server error", "error", err, "path", r.URL.Path,
		"request_id", w.Header().Get("X-Request-ID"))
	WriteCoded(w, r, http.StatusInternalServerError, CodeInternal,
		"An unexpected error occurred. Please try again later.")
}

// WriteServiceError translates an error from the trust core into its HTTP
// problem. Unrecognised errors become a sanitized 500.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ce *ledger.ChainError
	switch {
	case errors.Is(err, nonce.ErrNotFound):
		WriteCoded(w, r, http.StatusBadRequest, CodeNonceNotFound, "Nonce is unknown or has already been used")
	case errors.Is(err, nonce.ErrExpired):
		WriteCoded(w, r, http.StatusBadRequest, CodeNonceExpired, "Nonce has expired")
	case errors.Is(err, trace.ErrTraceNotFound):
		writeTraceNotFound(w, r, r.PathValue("trace_id"))
	case errors.As(err, &ce):
		idx := ce.Index
		writeProblem(w, &ProblemDetail{
			Type:      problemType(http.StatusConflict),
			Title:     "Conflict",
			Status:    http.StatusConflict,
			Detail:    ce.Error(),
			Instance:  r.URL.Path,
			RequestID: w.Header().Get("X-Request-ID"),
			ErrorCode: CodeChainViolation,
			Message:   "Ledger hash chain failed verification",
			Index:     &idx,
			Kind:      string(ce.Kind),
		})
	case errors.Is(err, ledger.ErrInvalidRecord), errors.Is(err, ledger.ErrInvalidEntryType):
		WriteCoded(w, r, http.StatusBadRequest, CodeInvalidRecord, err.Error())
	default:
		WriteInternal(w, r, err)
	}
}

func writeTraceNotFound(w http.ResponseWriter, r *http.Request, traceID string) {
	writeProblem(w, &ProblemDetail{
		Type:      problemType(http.StatusNotFound),
		Title:     "Not Found",
		Status:    http.StatusNotFound,
		Detail:    "Trace not found",
		Instance:  r.URL.Path,
		RequestID: w.Header().Get("X-Request-ID"),
		ErrorCode: CodeTraceNotFound,
		Message:   "Trace not found",
		TraceID:   traceID,
	})
}
