package observability

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/praj33/Nyaya-Ai-sub001/pkg/crypto"
	"github.com/praj33/Nyaya-Ai-sub001/pkg/nonce"
	"github.com/praj33/Nyaya-Ai-sub001/pkg/store/ledger"
	nyayatrace "github.com/praj33/Nyaya-Ai-sub001/pkg/trace"
)

type harness struct {
	p      *Provider
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	p, err := NewWithProviders(tp, mp)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return &harness{p: p, spans: spans, reader: reader}
}

// counts sums the int64 counter name by the nyaya.operation attribute.
func (h *harness) counts(t *testing.T, name string) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, h.reader.Collect(context.Background(), &rm))

	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is %T", name, m.Data)
			for _, dp := range sum.DataPoints {
				op, _ := dp.Attributes.Value(AttrOperation)
				out[op.AsString()] += dp.Value
			}
		}
	}
	return out
}

func (h *harness) spanNames() []string {
	var names []string
	for _, s := range h.spans.Ended() {
		names = append(names, s.Name())
	}
	return names
}

func TestInstrumentNonces(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := InstrumentNonces(nonce.NewMemoryManager(nonce.DefaultTTL), h.p)

	n, err := m.Issue(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Consume(ctx, n.Value))
	require.ErrorIs(t, m.Consume(ctx, n.Value), nonce.ErrNotFound)

	stats, err := m.Inspect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Used)

	assert.Equal(t, map[string]int64{OpNonceIssue: 1, OpNonceConsume: 2}, h.counts(t, "nyaya.operations.total"))
	assert.Equal(t, map[string]int64{OpNonceConsume: 1}, h.counts(t, "nyaya.errors.total"))
	assert.Equal(t, []string{OpNonceIssue, OpNonceConsume, OpNonceConsume}, h.spanNames())
}

func TestInstrumentLedgerAndTraces(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	keys, err := crypto.NewHMACSigner([]byte("observability-test"), "k1")
	require.NoError(t, err)
	store := InstrumentLedger(ledger.NewMemoryLedger(keys), h.p)
	traces := InstrumentTraces(nyayatrace.NewReconstructor(store, keys), h.p)

	_, err = store.Append(ctx, ledger.Record{
		Type:    ledger.EntryTypeRoutingDecision,
		TraceID: "t-1",
		Payload: ledger.RoutingDetails{Query: "q", TargetJurisdiction: "IN", TargetAgent: "india_legal_agent"},
	})
	require.NoError(t, err)
	_, err = store.Append(ctx, ledger.Record{Type: "bogus", TraceID: "t-1"})
	require.Error(t, err)

	require.NoError(t, store.VerifyChain(ctx))

	v, err := traces.Reconstruct(ctx, "t-1")
	require.NoError(t, err)
	assert.Len(t, v.EventChain, 1)
	_, err = traces.Reconstruct(ctx, "missing")
	require.ErrorIs(t, err, nyayatrace.ErrTraceNotFound)

	assert.Equal(t, map[string]int64{
		OpLedgerAppend: 2,
		OpLedgerVerify: 1,
		OpTraceRebuild: 2,
	}, h.counts(t, "nyaya.operations.total"))
	assert.Equal(t, map[string]int64{
		OpLedgerAppend: 1,
		OpTraceRebuild: 1,
	}, h.counts(t, "nyaya.errors.total"))

	ended := h.spans.Ended()
	require.Len(t, ended, 5)
	events := ended[0].Events()
	require.Len(t, events, 1)
	assert.Equal(t, "ledger.sealed", events[0].Name)
}

func TestErrorKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{context.Canceled, "cancelled"},
		{fmt.Errorf("consume: %w", nonce.ErrNotFound), "nonce_not_found"},
		{nonce.ErrExpired, "nonce_expired"},
		{&ledger.ChainError{Index: 3, Kind: ledger.MismatchHash}, "hash_mismatch"},
		{fmt.Errorf("%w: trace_id is required", ledger.ErrInvalidRecord), "invalid_record"},
		{nyayatrace.ErrTraceNotFound, "trace_not_found"},
		{errors.New("disk on fire"), "internal"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ErrorKind(tc.err), "%v", tc.err)
	}
}

func TestRecordError_AddsKind(t *testing.T) {
	h := newHarness(t)
	h.p.RecordError(context.Background(), nonce.ErrExpired, attribute.String("nyaya.operation", "x"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, h.reader.Collect(context.Background(), &rm))
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "nyaya.errors.total" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				kind, ok := dp.Attributes.Value(AttrErrorKind)
				require.True(t, ok)
				assert.Equal(t, "nonce_expired", kind.AsString())
				found = true
			}
		}
	}
	assert.True(t, found)
}
