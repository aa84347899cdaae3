package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/praj33/Nyaya-Ai-sub001/pkg/config"
	"github.com/praj33/Nyaya-Ai-sub001/pkg/nonce"
	"github.com/praj33/Nyaya-Ai-sub001/pkg/store/ledger"
	"github.com/praj33/Nyaya-Ai-sub001/pkg/trace"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// TraceReader rebuilds trace views. *trace.Reconstructor satisfies it.
type TraceReader interface {
	Reconstruct(ctx context.Context, traceID string) (*trace.View, error)
}

// Server wires the trust core to HTTP.
type Server struct {
	nonces     nonce.Manager
	ledger     ledger.Store
	traces     TraceReader
	registry   *config.Registry
	schemas    *requestSchemas
	newTraceID func() string
	logger     *slog.Logger
}

// NewServer builds a Server. A nil registry disables jurisdiction checks.
func NewServer(nonces nonce.Manager, store ledger.Store, traces TraceReader, registry *config.Registry) (*Server, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	return &Server{
		nonces:     nonces,
		ledger:     store,
		traces:     traces,
		registry:   registry,
		schemas:    schemas,
		newTraceID: uuid.NewString,
		logger:     slog.Default().With("component", "api"),
	}, nil
}

// Routes registers the API endpoints on a new mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/nonces", s.handleIssueNonce)
	mux.HandleFunc("POST /v1/nonces/verify", s.handleVerifyNonce)
	mux.HandleFunc("GET /v1/nonces/stats", s.handleNonceStats)
	mux.HandleFunc("POST /v1/decisions", s.handleDecision)
	mux.HandleFunc("POST /v1/feedback", s.handleFeedback)
	mux.HandleFunc("GET /v1/trace/{trace_id}", s.handleTrace)
	mux.HandleFunc("GET /v1/ledger/verify", s.handleVerifyChain)
	mux.HandleFunc("GET /health", s.HandleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requireNonce consumes the X-Nonce header. It writes the error response and
// returns false when the request must not proceed.
func (s *Server) requireNonce(w http.ResponseWriter, r *http.Request) bool {
	token := r.Header.Get("X-Nonce")
	if token == "" {
		WriteCoded(w, r, http.StatusBadRequest, CodeNonceRequired, "X-Nonce header is required")
		return false
	}
	if err := s.nonces.Consume(r.Context(), token); err != nil {
		WriteServiceError(w, r, err)
		return false
	}
	return true
}

func (s *Server) handleIssueNonce(w http.ResponseWriter, r *http.Request) {
	n, err := s.nonces.Issue(r.Context())
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

type verifyNonceRequest struct {
	Nonce string `json:"nonce"`
}

func (s *Server) handleVerifyNonce(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req verifyNonceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Nonce == "" {
		WriteCoded(w, r, http.StatusBadRequest, CodeNonceRequired, "Request body must carry a nonce")
		return
	}
	if err := s.nonces.Consume(r.Context(), req.Nonce); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "admitted"})
}

func (s *Server) handleNonceStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.nonces.Inspect(r.Context())
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	view, err := s.traces.Reconstruct(r.Context(), r.PathValue("trace_id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type verifyChainResponse struct {
	Valid  bool   `json:"valid"`
	Length int    `json:"length"`
	Head   string `json:"head"`
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.ledger.VerifyChain(ctx); err != nil {
		s.logger.WarnContext(ctx, "ledger verification failed", "error", err)
		WriteServiceError(w, r, err)
		return
	}
	n, err := s.ledger.Len(ctx)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	head, err := s.ledger.Head(ctx)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyChainResponse{Valid: true, Length: n, Head: head})
}

// HandleHealth reports liveness and whether the ledger is reachable.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := s.ledger.Len(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "ledger_length": n})
}

// traceExists reports whether any entry carries traceID.
func (s *Server) traceExists(ctx context.Context, traceID string) (bool, error) {
	for _, err := range s.ledger.Scan(ctx, ledger.ByTrace(traceID)) {
		if err != nil {
			return false, fmt.Errorf("scan trace %s: %w", traceID, err)
		}
		return true, nil
	}
	return false, nil
}
