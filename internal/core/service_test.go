package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"atlasprep/internal/infra/persistence/memory"
	"atlasprep/pkg/domain"
	"atlasprep/pkg/expression"
	"atlasprep/pkg/reference"

	"github.com/google/go-cmp/cmp"
)

type stubClock struct{ t time.Time }

func (s stubClock) Now() time.Time { return s.t }

type sinkCall struct {
	runID   string
	formats []string
	genes   []string
}

type stubSink struct {
	calls []sinkCall
	err   error
}

func (s *stubSink) WriteArtifacts(_ context.Context, runID string, a Alignment, formats []string) ([]string, error) {
	s.calls = append(s.calls, sinkCall{runID: runID, formats: formats, genes: a.Matrix.Genes()})
	if s.err != nil {
		return nil, s.err
	}
	keys := make([]string, len(formats))
	for i, f := range formats {
		keys[i] = "runs/" + runID + "/aligned." + f
	}
	return keys, nil
}

func importExample(t *testing.T, svc *Service) *reference.Panel {
	t.Helper()
	p := examplePanel(t)
	if _, _, err := svc.ImportPanel(context.Background(), p); err != nil {
		t.Fatalf("import panel: %v", err)
	}
	return p
}

func prepareFixture(t *testing.T) (*expression.Matrix, *expression.CellTable) {
	t.Helper()
	m := mustMatrix(t, []string{"c1", "c2", "c3"}, []string{"id1", "id3", "idX"}, [][]float32{{1, 2, 9}, {3, 4, 8}, {5, 6, 7}})
	meta, err := expression.NewCellTable([]string{"c1-1", "c2-1", "c3-1"}, map[string][]string{"donor": {"D1", "D2", "D1"}})
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	return m, meta
}

func TestClockFuncNowNilFallsBackToUTCTime(t *testing.T) {
	got := ClockFunc(nil).Now()
	if got.IsZero() || got.Location() != time.UTC {
		t.Fatalf("expected non-zero UTC time, got %v", got)
	}
}

func TestSelectNowFunc(t *testing.T) {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("cet", 3600))
	store := memory.NewStore(nil)
	store.SetNowFunc(func() time.Time { return fixed })
	if got := selectNowFunc(store, nil)(); !got.Equal(fixed) || got.Location() != time.UTC {
		t.Fatalf("expected store time source in UTC, got %v", got)
	}
	clock := ClockFunc(func() time.Time { return fixed.Add(time.Hour) })
	if got := selectNowFunc(store, clock)(); !got.Equal(fixed.Add(time.Hour)) {
		t.Fatalf("expected explicit clock to win, got %v", got)
	}
}

func TestServiceImportAndFetchPanel(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := NewInMemoryService(nil, WithClock(stubClock{t: fixed}))
	p := importExample(t, svc)

	records := svc.ListPanels()
	if len(records) != 1 || records[0].Name != "example" || records[0].Checksum != p.Checksum() {
		t.Fatalf("unexpected panel records: %+v", records)
	}
	if !records[0].ImportedAt.Equal(fixed) {
		t.Fatalf("expected import time %v, got %v", fixed, records[0].ImportedAt)
	}
	got, err := svc.Panel("example")
	if err != nil {
		t.Fatalf("panel: %v", err)
	}
	if diff := cmp.Diff(p.Genes(), got.Genes()); diff != "" {
		t.Fatalf("panel genes mismatch (-want +got):\n%s", diff)
	}
	var nf domain.ErrNotFound
	if _, err := svc.Panel("missing"); !errors.As(err, &nf) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, _, err := svc.ImportPanel(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil panel")
	}
}

func TestServicePanelRebuildsFromStore(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	first := NewService(store)
	p := importExample(t, first)
	second := NewService(store)
	got, err := second.Panel("example")
	if err != nil {
		t.Fatalf("panel: %v", err)
	}
	if got.Checksum() != p.Checksum() {
		t.Fatalf("rebuilt panel checksum mismatch")
	}
	again, _ := second.Panel("example")
	if again != got {
		t.Fatalf("expected cached panel on second lookup")
	}
}

func TestServicePrepareRecordsSuccessfulRun(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sink := &stubSink{}
	svc := NewInMemoryService(nil, WithClock(ClockFunc(func() time.Time { return fixed })), WithArtifactSink(sink))
	p := importExample(t, svc)
	m, meta := prepareFixture(t)

	res, err := svc.Prepare(context.Background(), PrepareRequest{
		Dataset:    "test_dataset",
		Matrix:     m,
		Metadata:   meta,
		Cohort:     CohortSelection{Key: "D1"},
		Panel:      "example",
		MinOverlap: overlap(2),
		Formats:    []string{"csv"},
	})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if diff := cmp.Diff([]string{"c1", "c3"}, res.Alignment.Matrix.Cells()); diff != "" {
		t.Fatalf("cells mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]float32{{1, 0, 2, 0}, {5, 0, 6, 0}}, matrixRows(res.Alignment.Matrix)); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
	labels, _ := res.Alignment.Matrix.CellAttribute("dataset")
	if diff := cmp.Diff([]string{"test_dataset", "test_dataset"}, labels); diff != "" {
		t.Fatalf("dataset label mismatch (-want +got):\n%s", diff)
	}

	run, err := svc.GetRun(res.Run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	want := domain.RunRecord{
		ID:          res.Run.ID,
		Dataset:     "test_dataset",
		Cohort:      "D1",
		Panel:       "example",
		PanelSize:   4,
		PanelSum:    p.Checksum(),
		Namespace:   "gene_id",
		MinOverlap:  2,
		Cells:       2,
		Found:       2,
		Padded:      2,
		Status:      domain.RunSucceeded,
		Artifacts:   []string{"runs/" + res.Run.ID + "/aligned.csv"},
		CreatedAt:   fixed,
		CompletedAt: &fixed,
	}
	if diff := cmp.Diff(want, run); diff != "" {
		t.Fatalf("run record mismatch (-want +got):\n%s", diff)
	}
	if len(sink.calls) != 1 || sink.calls[0].runID != run.ID {
		t.Fatalf("expected one sink call for the run, got %+v", sink.calls)
	}
}

func TestServicePrepareRecordsFailedRun(t *testing.T) {
	svc := NewInMemoryService(nil)
	importExample(t, svc)
	m, _ := prepareFixture(t)

	res, err := svc.Prepare(context.Background(), PrepareRequest{Dataset: "d", Matrix: m, Panel: "example", MinOverlap: overlap(3)})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	runs := svc.ListRuns()
	if len(runs) != 1 {
		t.Fatalf("expected one recorded run, got %d", len(runs))
	}
	if res.Run.ID != runs[0].ID || res.Alignment.Matrix != nil {
		t.Fatalf("expected failed run without alignment in result, got %+v", res)
	}
	if runs[0].Status != domain.RunFailed || !strings.Contains(runs[0].Error, "insufficient overlap") {
		t.Fatalf("unexpected failed run: %+v", runs[0])
	}
	if runs[0].Cells != 3 || runs[0].PanelSize != 4 {
		t.Fatalf("failed run should keep known provenance: %+v", runs[0])
	}
}

func TestServicePrepareLookupAndInputErrors(t *testing.T) {
	svc := NewInMemoryService(nil)
	m, meta := prepareFixture(t)
	ctx := context.Background()

	var nf domain.ErrNotFound
	if _, err := svc.Prepare(ctx, PrepareRequest{Matrix: m, Panel: "missing"}); !errors.As(err, &nf) {
		t.Fatalf("expected missing panel error, got %v", err)
	}
	importExample(t, svc)
	if _, err := svc.Prepare(ctx, PrepareRequest{Matrix: m, Metadata: meta, Cohort: CohortSelection{Key: "D7"}, Panel: "example", MinOverlap: overlap(2)}); !errors.Is(err, domain.ErrLookup) {
		t.Fatalf("expected lookup error, got %v", err)
	}
	if _, err := svc.Prepare(ctx, PrepareRequest{Matrix: m, Panel: "example", MinOverlap: overlap(2), Formats: []string{"csv"}}); err == nil || !strings.Contains(err.Error(), "no sink") {
		t.Fatalf("expected missing sink error, got %v", err)
	}
	if _, err := svc.Prepare(ctx, PrepareRequest{Panel: "example"}); err == nil {
		t.Fatalf("expected error without matrix")
	}
	if got := len(svc.ListRuns()); got != 3 {
		t.Fatalf("expected 3 recorded failed runs, got %d", got)
	}
	if _, err := svc.GetRun("missing"); !errors.As(err, &nf) {
		t.Fatalf("expected run not found, got %v", err)
	}
}

func TestServicePrepareSinkFailure(t *testing.T) {
	svc := NewInMemoryService(nil, WithArtifactSink(&stubSink{err: errors.New("disk full")}))
	importExample(t, svc)
	m, _ := prepareFixture(t)
	_, err := svc.Prepare(context.Background(), PrepareRequest{Matrix: m, Panel: "example", MinOverlap: overlap(2), Formats: []string{"json"}})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected sink error, got %v", err)
	}
	if runs := svc.ListRuns(); len(runs) != 1 || runs[0].Status != domain.RunFailed {
		t.Fatalf("expected failed run, got %+v", runs)
	}
}

func TestServiceDefaultMinOverlapOption(t *testing.T) {
	svc := NewInMemoryService(nil, WithDefaultMinOverlap(1), WithServiceFallbackAliases())
	importExample(t, svc)
	m := filledMatrix(t, 1, []string{"id2"})
	res, err := svc.Prepare(context.Background(), PrepareRequest{Matrix: m, Panel: "example"})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if res.Run.MinOverlap != 1 || res.Run.Padded != 3 {
		t.Fatalf("unexpected run: %+v", res.Run)
	}
}

func TestServiceExplicitZeroMinOverlapOverridesDefault(t *testing.T) {
	svc := NewInMemoryService(nil, WithServiceFallbackAliases())
	importExample(t, svc)
	m := filledMatrix(t, 1, []string{"other"})
	res, err := svc.Prepare(context.Background(), PrepareRequest{Matrix: m, Panel: "example", MinOverlap: overlap(0)})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if res.Run.MinOverlap != 0 || res.Run.Found != 0 || res.Run.Padded != 4 {
		t.Fatalf("unexpected run: %+v", res.Run)
	}
}

func TestServiceDeletePanelBlockedByRuns(t *testing.T) {
	svc := NewInMemoryService(nil)
	importExample(t, svc)
	m, _ := prepareFixture(t)
	if _, err := svc.Prepare(context.Background(), PrepareRequest{Matrix: m, Panel: "example", MinOverlap: overlap(2)}); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	res, err := svc.DeletePanel(context.Background(), "example")
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) || !res.HasBlocking() {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if _, err := svc.Panel("example"); err != nil {
		t.Fatalf("panel should survive blocked delete: %v", err)
	}

	other := NewInMemoryService(nil)
	importExample(t, other)
	if _, err := other.DeletePanel(context.Background(), "example"); err != nil {
		t.Fatalf("delete unreferenced panel: %v", err)
	}
	if len(other.ListPanels()) != 0 {
		t.Fatalf("expected panel removed")
	}
}

func TestServiceReimportWarnsWhenReferenced(t *testing.T) {
	svc := NewInMemoryService(nil)
	importExample(t, svc)
	m, _ := prepareFixture(t)
	if _, err := svc.Prepare(context.Background(), PrepareRequest{Matrix: m, Panel: "example", MinOverlap: overlap(2)}); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	changed, err := reference.NewPanel("example", []reference.Gene{{ID: "id9", Symbol: "symZ"}, {ID: "id1", Symbol: "symA"}})
	if err != nil {
		t.Fatalf("panel: %v", err)
	}
	_, res, err := svc.ImportPanel(context.Background(), changed)
	if err != nil {
		t.Fatalf("reimport: %v", err)
	}
	if len(res.Violations) != 1 || res.Violations[0].Severity != domain.SeverityWarn {
		t.Fatalf("expected a warning, got %+v", res.Violations)
	}
	got, _ := svc.Panel("example")
	if got.Len() != 2 {
		t.Fatalf("expected replaced panel, got %d genes", got.Len())
	}
}
