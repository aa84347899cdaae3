package observability

import (
	"context"

	"github.com/praj33/Nyaya-Ai-sub001/pkg/nonce"
	"github.com/praj33/Nyaya-Ai-sub001/pkg/store/ledger"
	nyayatrace "github.com/praj33/Nyaya-Ai-sub001/pkg/trace"
)

// Operation names used for spans and the nyaya.operation attribute.
const (
	OpNonceIssue   = "nonce.issue"
	OpNonceConsume = "nonce.consume"
	OpLedgerAppend = "ledger.append"
	OpLedgerVerify = "ledger.verify_chain"
	OpTraceRebuild = "trace.reconstruct"
)

// Nonces wraps a nonce.Manager with spans and RED metrics.
type Nonces struct {
	nonce.Manager
	p *Provider
}

// InstrumentNonces decorates m. Inspect is passed through untracked.
func InstrumentNonces(m nonce.Manager, p *Provider) *Nonces {
	return &Nonces{Manager: m, p: p}
}

func (n *Nonces) Issue(ctx context.Context) (nonce.Nonce, error) {
	ctx, done := n.p.TrackOperation(ctx, OpNonceIssue)
	out, err := n.Manager.Issue(ctx)
	done(err)
	return out, err
}

func (n *Nonces) Consume(ctx context.Context, token string) error {
	ctx, done := n.p.TrackOperation(ctx, OpNonceConsume)
	err := n.Manager.Consume(ctx, token)
	done(err)
	return err
}

// Ledger wraps a ledger.Store with spans and RED metrics on the write and
// verification paths.
type Ledger struct {
	ledger.Store
	p *Provider
}

func InstrumentLedger(s ledger.Store, p *Provider) *Ledger {
	return &Ledger{Store: s, p: p}
}

func (l *Ledger) Append(ctx context.Context, rec ledger.Record) (ledger.Entry, error) {
	ctx, done := l.p.TrackOperation(ctx, OpLedgerAppend, AttrEntryType.String(string(rec.Type)))
	e, err := l.Store.Append(ctx, rec)
	if err == nil {
		AddSpanEvent(ctx, "ledger.sealed", AttrSequence.Int64(int64(e.Sequence)), AttrTraceID.String(e.TraceID))
	}
	done(err)
	return e, err
}

func (l *Ledger) VerifyChain(ctx context.Context) error {
	ctx, done := l.p.TrackOperation(ctx, OpLedgerVerify)
	err := l.Store.VerifyChain(ctx)
	done(err)
	return err
}

// TraceReader is satisfied by *trace.Reconstructor.
type TraceReader interface {
	Reconstruct(ctx context.Context, traceID string) (*nyayatrace.View, error)
}

// Traces wraps a TraceReader with spans and RED metrics.
type Traces struct {
	r TraceReader
	p *Provider
}

func InstrumentTraces(r TraceReader, p *Provider) *Traces {
	return &Traces{r: r, p: p}
}

func (t *Traces) Reconstruct(ctx context.Context, traceID string) (*nyayatrace.View, error) {
	ctx, done := t.p.TrackOperation(ctx, OpTraceRebuild)
	v, err := t.r.Reconstruct(ctx, traceID)
	if err == nil {
		AddSpanEvent(ctx, "trace.rebuilt",
			AttrEventCount.Int(len(v.EventChain)),
			AttrSignatureOK.Bool(v.SignatureVerification),
			AttrNonceOK.Bool(v.NonceVerification),
		)
	}
	done(err)
	return v, err
}
