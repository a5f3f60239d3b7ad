package export

import (
	"context"
	"testing"

	"atlasprep/internal/core"
	"atlasprep/pkg/expression"
	"atlasprep/pkg/reference"
)

func testPanel(t *testing.T) *reference.Panel {
	t.Helper()
	p, err := reference.NewPanel("example", []reference.Gene{
		{ID: "id1", Symbol: "symA"},
		{ID: "id2", Symbol: "symB"},
		{ID: "id3", Symbol: "symC"},
		{ID: "id4", Symbol: "symD"},
	})
	if err != nil {
		t.Fatalf("panel: %v", err)
	}
	return p
}

func testMatrix(t *testing.T) *expression.Matrix {
	t.Helper()
	m, err := expression.New([]string{"c1", "c2"}, []string{"id1", "id3"}, [][]float32{{1, 2}, {0, 4.5}})
	if err != nil {
		t.Fatalf("matrix: %v", err)
	}
	return m
}

// testAlignment is testMatrix aligned to testPanel: cells c1,c2 over id1..id4.
func testAlignment(t *testing.T) core.Alignment {
	t.Helper()
	a, err := core.AlignToReference(testMatrix(t), testPanel(t), core.WithMinOverlap(2))
	if err != nil {
		t.Fatalf("align: %v", err)
	}
	return a
}

func newTestService(t *testing.T, store ObjectStore) *core.Service {
	t.Helper()
	svc := core.NewInMemoryService(nil, core.WithArtifactSink(NewSink(store)), core.WithDefaultMinOverlap(2))
	if _, _, err := svc.ImportPanel(context.Background(), testPanel(t)); err != nil {
		t.Fatalf("import panel: %v", err)
	}
	return svc
}
