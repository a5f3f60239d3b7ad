package core

import (
	"fmt"
	"testing"

	"atlasprep/pkg/expression"
	"atlasprep/pkg/reference"
)

// examplePanel is the four-gene panel (id1,symA) ... (id4,symD).
func examplePanel(t *testing.T) *reference.Panel {
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

// syntheticPanel builds a k-gene panel with ids ENSG<i> and symbols G<i>.
func syntheticPanel(t *testing.T, k int) *reference.Panel {
	t.Helper()
	genes := make([]reference.Gene, k)
	for i := range genes {
		genes[i] = reference.Gene{ID: fmt.Sprintf("ENSG%05d", i), Symbol: fmt.Sprintf("G%d", i)}
	}
	p, err := reference.NewPanel("synthetic", genes)
	if err != nil {
		t.Fatalf("panel: %v", err)
	}
	return p
}

func mustMatrix(t *testing.T, cells, genes []string, rows [][]float32) *expression.Matrix {
	t.Helper()
	m, err := expression.New(cells, genes, rows)
	if err != nil {
		t.Fatalf("matrix: %v", err)
	}
	return m
}

// filledMatrix gives cell i, gene j the value i*100+j+1.
func filledMatrix(t *testing.T, nCells int, genes []string) *expression.Matrix {
	t.Helper()
	cells := make([]string, nCells)
	rows := make([][]float32, nCells)
	for i := range cells {
		cells[i] = fmt.Sprintf("cell%d", i)
		rows[i] = make([]float32, len(genes))
		for j := range genes {
			rows[i][j] = float32(i*100 + j + 1)
		}
	}
	return mustMatrix(t, cells, genes, rows)
}

func matrixRows(m *expression.Matrix) [][]float32 {
	n, _ := m.Shape()
	out := make([][]float32, n)
	for i := range out {
		out[i] = m.Row(i)
	}
	return out
}

type captureLogger struct{ calls []string }

func (c *captureLogger) Debug(msg string, _ ...any) { c.calls = append(c.calls, "d:"+msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.calls = append(c.calls, "i:"+msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.calls = append(c.calls, "w:"+msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.calls = append(c.calls, "e:"+msg) }

func (c *captureLogger) has(call string) bool {
	for _, got := range c.calls {
		if got == call {
			return true
		}
	}
	return false
}

func overlap(n int) *int { return &n }
