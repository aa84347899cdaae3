package observability

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/praj33/Nyaya-Ai-sub001/pkg/nonce"
	"github.com/praj33/Nyaya-Ai-sub001/pkg/store/ledger"
	nyayatrace "github.com/praj33/Nyaya-Ai-sub001/pkg/trace"
)

// Trust-core semantic convention attributes.
var (
	AttrOperation = attribute.Key("nyaya.operation")
	AttrErrorKind = attribute.Key("nyaya.error.kind")

	AttrTraceID   = attribute.Key("nyaya.trace.id")
	AttrEntryType = attribute.Key("nyaya.ledger.entry_type")
	AttrSequence  = attribute.Key("nyaya.ledger.sequence")

	AttrSignatureOK = attribute.Key("nyaya.trace.signature_verification")
	AttrNonceOK     = attribute.Key("nyaya.trace.nonce_verification")
	AttrEventCount  = attribute.Key("nyaya.trace.events")
)

// ErrorKind classifies err into a low-cardinality label.
func ErrorKind(err error) string {
	var ce *ledger.ChainError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, nonce.ErrNotFound):
		return "nonce_not_found"
	case errors.Is(err, nonce.ErrExpired):
		return "nonce_expired"
	case errors.As(err, &ce):
		return string(ce.Kind)
	case errors.Is(err, ledger.ErrInvalidRecord), errors.Is(err, ledger.ErrInvalidEntryType):
		return "invalid_record"
	case errors.Is(err, ledger.ErrNotFound):
		return "entry_not_found"
	case errors.Is(err, nyayatrace.ErrTraceNotFound):
		return "trace_not_found"
	default:
		return "internal"
	}
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
