package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"strings"
	"testing"
	"time"

	"atlasprep/pkg/domain"
)

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			if predicate == nil || predicate(entry) {
				return true
			}
		}
	}
	return false
}

type metricsCall struct {
	op      string
	success bool
}

type coverageCall struct {
	panel         string
	found, padded int
}

type captureMetricsRecorder struct {
	calls    []metricsCall
	coverage []coverageCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) ObserveAlignment(_ context.Context, panel string, found, padded int) {
	c.coverage = append(c.coverage, coverageCall{panel: panel, found: found, padded: padded})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	ended []spanRecord
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, &captureSpan{tracer: c, op: op}
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

func TestServiceObservabilityPrepare(t *testing.T) {
	ctx := context.Background()
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	logger := &captureLogger{}

	svc := NewInMemoryService(nil,
		WithAuditRecorder(audit),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
		WithLogger(logger),
	)
	importExample(t, svc)
	if !audit.has(opImportPanel, AuditStatusSuccess, func(e AuditEntry) bool {
		return e.EntityID == "example" && e.Entity == domain.EntityPanel && e.Action == domain.ActionCreate
	}) {
		t.Fatalf("expected import audit entry, got %+v", audit.entries)
	}

	m, _ := prepareFixture(t)
	res, err := svc.Prepare(ctx, PrepareRequest{Matrix: m, Panel: "example", MinOverlap: overlap(2)})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if !audit.has(opPrepare, AuditStatusSuccess, func(e AuditEntry) bool { return e.EntityID == res.Run.ID }) {
		t.Fatalf("expected prepare audit entry keyed by run id")
	}
	if !metrics.has(opPrepare, true) {
		t.Fatalf("expected prepare success metric")
	}
	if len(metrics.coverage) != 1 || metrics.coverage[0] != (coverageCall{panel: "example", found: 2, padded: 2}) {
		t.Fatalf("unexpected coverage calls: %+v", metrics.coverage)
	}
	if !logger.has("i:gene namespace detected") || !logger.has("i:zero-padding missing reference genes") {
		t.Fatalf("expected alignment diagnostics, got %v", logger.calls)
	}

	if _, err := svc.Prepare(ctx, PrepareRequest{Matrix: m, Panel: "example", MinOverlap: overlap(4)}); err == nil {
		t.Fatalf("expected insufficient overlap")
	}
	if !audit.has(opPrepare, AuditStatusError, func(e AuditEntry) bool { return strings.Contains(e.Error, "insufficient overlap") }) {
		t.Fatalf("expected prepare error audit entry")
	}
	if !metrics.has(opPrepare, false) {
		t.Fatalf("expected prepare failure metric")
	}
	if len(metrics.coverage) != 1 {
		t.Fatalf("failed runs must not report coverage")
	}
	if !logger.has("e:operation failed") {
		t.Fatalf("expected failure log")
	}
	last := tracer.ended[len(tracer.ended)-1]
	if last.op != opPrepare || !errors.Is(last.err, domain.ErrValidation) {
		t.Fatalf("expected failed prepare span, got %+v", last)
	}
}

func TestServiceDeleteAudited(t *testing.T) {
	audit := &captureAuditRecorder{}
	svc := NewInMemoryService(nil, WithAuditRecorder(audit))
	if _, err := svc.DeletePanel(context.Background(), "ghost"); err == nil {
		t.Fatalf("expected missing panel error")
	}
	if !audit.has(opDeletePanel, AuditStatusError, func(e AuditEntry) bool {
		return e.EntityID == "ghost" && e.Action == domain.ActionDelete
	}) {
		t.Fatalf("expected delete error audit entry, got %+v", audit.entries)
	}
}

func TestRecordAuditIgnoresUnknownOperation(t *testing.T) {
	audit := &captureAuditRecorder{}
	svc := NewInMemoryService(nil, WithAuditRecorder(audit))
	svc.recordAuditSuccess(context.Background(), "unknown_op", "x", time.Millisecond)
	if len(audit.entries) != 0 {
		t.Fatalf("expected no audit entries, got %+v", audit.entries)
	}
}

func TestDefaultServiceOptions(t *testing.T) {
	o := defaultServiceOptions()
	if o.minOverlap != DefaultMinOverlap || len(o.aliases) != len(DefaultFallbackAliases) {
		t.Fatalf("unexpected defaults: %+v", o)
	}
	WithLogger(nil)(&o)
	WithAuditRecorder(nil)(&o)
	WithMetricsRecorder(nil)(&o)
	WithTracer(nil)(&o)
	if o.logger == nil || o.audit == nil || o.metrics == nil || o.tracer == nil {
		t.Fatalf("nil options must keep the no-op defaults")
	}
}

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if !strings.HasPrefix(rec.Name(), "atlasprep_metrics_") {
		t.Fatalf("unexpected generated name %q", rec.Name())
	}
	ctx := context.Background()
	rec.Observe(ctx, opPrepare, true, 2*time.Millisecond)
	rec.Observe(ctx, opPrepare, false, 3*time.Millisecond)
	rec.Observe(ctx, "", true, time.Second)
	rec.ObserveAlignment(ctx, "hlca", 1800, 200)
	rec.ObserveAlignment(ctx, "hlca", 2000, 0)

	snap := rec.Snapshot()
	if snap.DurationsMS[opPrepare] != 5 {
		t.Fatalf("expected 5ms total, got %v", snap.DurationsMS[opPrepare])
	}
	if snap.Results[opPrepare]["success"] != 1 || snap.Results[opPrepare]["error"] != 1 {
		t.Fatalf("unexpected results: %+v", snap.Results)
	}
	if _, ok := snap.Results[""]; ok {
		t.Fatalf("empty operation must be ignored")
	}
	if got := snap.Coverage["hlca"]; got != (ExpvarCoverage{Runs: 2, Found: 3800, Padded: 200}) {
		t.Fatalf("unexpected coverage: %+v", got)
	}

	published := expvar.Get(rec.Name())
	if published == nil {
		t.Fatalf("recorder not published")
	}
	var decoded ExpvarMetricsSnapshot
	if err := json.Unmarshal([]byte(published.String()), &decoded); err != nil {
		t.Fatalf("decode published snapshot: %v", err)
	}
	if decoded.Coverage["hlca"].Runs != 2 {
		t.Fatalf("published snapshot missing coverage: %+v", decoded)
	}
}

func TestJSONTracerWritesOneEntryPerSpan(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ticks := 0
	tracer.now = func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * time.Millisecond)
	}

	_, span := tracer.Start(context.Background(), opPrepare)
	span.End(errors.New("boom"))
	span.End(nil)

	entries := tracer.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected a single entry, got %d", len(entries))
	}
	if entries[0].Status != "error" || entries[0].Error != "boom" || entries[0].DurationMS != 1 {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 1 {
		t.Fatalf("expected one JSON line, got %d", lines)
	}

	quiet := NewJSONTracer(nil)
	_, span = quiet.Start(context.Background(), opImportPanel)
	span.End(nil)
	if got := quiet.Entries(); len(got) != 1 || got[0].Status != "success" {
		t.Fatalf("unexpected entries: %+v", got)
	}
}

func TestNoopImplementations(_ *testing.T) {
	logger := NoopLogger()
	logger.Debug("debug", "key", "value")
	logger.Info("info", "key", "value")
	logger.Warn("warn", "key", "value")
	logger.Error("error", "key", "value")

	ctx, span := noopTracer{}.Start(context.Background(), "op")
	span.End(nil)
	noopMetricsRecorder{}.Observe(ctx, "op", true, time.Millisecond)
	noopAuditRecorder{}.Record(ctx, AuditEntry{})
}
