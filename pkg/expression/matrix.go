// Package expression holds the in-memory cell-by-gene matrix and per-cell
// metadata table that flow through cohort selection and reference alignment.
//
// Values are never shared between matrices: every operation returns a fresh
// matrix and every accessor returns a copy, so callers may hold on to inputs
// while other goroutines derive new matrices from them.
package expression

import (
	"fmt"
	"sort"
)

// Matrix is a dense, row-major cells x genes matrix of expression values.
// Cell identifiers are unique. Gene identifiers usually are, but duplicates are
// tolerated so that validation layers can detect and report them.
type Matrix struct {
	cells  []string
	genes  []string
	values []float32

	geneAnnotations map[string][]string
	cellAttributes  map[string][]string
}

// New builds a matrix from per-cell rows. Every row must have len(genes)
// values and cell identifiers must be unique.
func New(cells, genes []string, rows [][]float32) (*Matrix, error) {
	if len(rows) != len(cells) {
		return nil, fmt.Errorf("matrix has %d rows but %d cell ids", len(rows), len(cells))
	}
	values := make([]float32, len(cells)*len(genes))
	for i, row := range rows {
		if len(row) != len(genes) {
			return nil, fmt.Errorf("row %d (%s) has %d values, expected %d", i, cells[i], len(row), len(genes))
		}
		copy(values[i*len(genes):], row)
	}
	return newDense(cells, genes, values)
}

// NewDense builds a matrix from a row-major value slice of length
// len(cells)*len(genes). The slice is copied.
func NewDense(cells, genes []string, values []float32) (*Matrix, error) {
	if len(values) != len(cells)*len(genes) {
		return nil, fmt.Errorf("dense payload has %d values, expected %d", len(values), len(cells)*len(genes))
	}
	return newDense(cells, genes, append([]float32(nil), values...))
}

// Zeros returns an all-zero matrix with the given identifiers.
func Zeros(cells, genes []string) (*Matrix, error) {
	return newDense(cells, genes, make([]float32, len(cells)*len(genes)))
}

func newDense(cells, genes []string, values []float32) (*Matrix, error) {
	if dup := firstDuplicate(cells); dup != "" {
		return nil, fmt.Errorf("duplicate cell id %q", dup)
	}
	return &Matrix{
		cells:           append([]string(nil), cells...),
		genes:           append([]string(nil), genes...),
		values:          values,
		geneAnnotations: map[string][]string{},
		cellAttributes:  map[string][]string{},
	}, nil
}

// Shape returns (cells, genes).
func (m *Matrix) Shape() (int, int) { return len(m.cells), len(m.genes) }

// Cells returns a copy of the cell identifiers.
func (m *Matrix) Cells() []string { return append([]string(nil), m.cells...) }

// Genes returns a copy of the gene identifiers in column order.
func (m *Matrix) Genes() []string { return append([]string(nil), m.genes...) }

// At returns the value at (cell row i, gene column j).
func (m *Matrix) At(i, j int) float32 { return m.values[i*len(m.genes)+j] }

// Row returns a copy of row i.
func (m *Matrix) Row(i int) []float32 {
	n := len(m.genes)
	return append([]float32(nil), m.values[i*n:(i+1)*n]...)
}

// Column returns a copy of column j.
func (m *Matrix) Column(j int) []float32 {
	out := make([]float32, len(m.cells))
	for i := range m.cells {
		out[i] = m.values[i*len(m.genes)+j]
	}
	return out
}

// GeneIndex returns the first column holding gene id.
func (m *Matrix) GeneIndex(id string) (int, bool) {
	for j, g := range m.genes {
		if g == id {
			return j, true
		}
	}
	return 0, false
}

// CellIndex returns the row holding cell id.
func (m *Matrix) CellIndex(id string) (int, bool) {
	for i, c := range m.cells {
		if c == id {
			return i, true
		}
	}
	return 0, false
}

// DuplicateGenes lists gene identifiers that occur more than once, sorted.
func (m *Matrix) DuplicateGenes() []string {
	counts := make(map[string]int, len(m.genes))
	for _, g := range m.genes {
		counts[g]++
	}
	var dups []string
	for g, n := range counts {
		if n > 1 {
			dups = append(dups, g)
		}
	}
	sort.Strings(dups)
	return dups
}

// CountIn counts gene columns whose identifier is a member of set. Duplicated
// identifiers are counted once per column.
func (m *Matrix) CountIn(set map[string]struct{}) int {
	n := 0
	for _, g := range m.genes {
		if _, ok := set[g]; ok {
			n++
		}
	}
	return n
}

// GeneAnnotation returns a copy of the named per-gene annotation column.
func (m *Matrix) GeneAnnotation(name string) ([]string, bool) {
	col, ok := m.geneAnnotations[name]
	if !ok {
		return nil, false
	}
	return append([]string(nil), col...), true
}

// GeneAnnotationNames lists annotation columns in sorted order.
func (m *Matrix) GeneAnnotationNames() []string { return sortedKeys(m.geneAnnotations) }

// CellAttribute returns a copy of the named per-cell attribute column.
func (m *Matrix) CellAttribute(name string) ([]string, bool) {
	col, ok := m.cellAttributes[name]
	if !ok {
		return nil, false
	}
	return append([]string(nil), col...), true
}

// CellAttributeNames lists attribute columns in sorted order.
func (m *Matrix) CellAttributeNames() []string { return sortedKeys(m.cellAttributes) }

// WithGeneAnnotation returns a copy of m carrying the annotation column.
func (m *Matrix) WithGeneAnnotation(name string, values []string) (*Matrix, error) {
	if len(values) != len(m.genes) {
		return nil, fmt.Errorf("annotation %q has %d values, expected %d", name, len(values), len(m.genes))
	}
	out := m.shallow()
	out.geneAnnotations = cloneColumns(m.geneAnnotations)
	out.geneAnnotations[name] = append([]string(nil), values...)
	return out, nil
}

// WithCellAttribute returns a copy of m carrying the attribute column.
func (m *Matrix) WithCellAttribute(name string, values []string) (*Matrix, error) {
	if len(values) != len(m.cells) {
		return nil, fmt.Errorf("attribute %q has %d values, expected %d", name, len(values), len(m.cells))
	}
	out := m.shallow()
	out.cellAttributes = cloneColumns(m.cellAttributes)
	out.cellAttributes[name] = append([]string(nil), values...)
	return out, nil
}

// WithGenes returns a copy of m whose column identifiers are replaced by ids.
// Annotation columns are kept as they are.
func (m *Matrix) WithGenes(ids []string) (*Matrix, error) {
	if len(ids) != len(m.genes) {
		return nil, fmt.Errorf("got %d gene ids for %d columns", len(ids), len(m.genes))
	}
	out := m.shallow()
	out.genes = append([]string(nil), ids...)
	return out, nil
}

// shallow copies the headers; values and column maps stay shared and must not
// be written through the result.
func (m *Matrix) shallow() *Matrix {
	return &Matrix{
		cells:           m.cells,
		genes:           m.genes,
		values:          m.values,
		geneAnnotations: m.geneAnnotations,
		cellAttributes:  m.cellAttributes,
	}
}

func firstDuplicate(ids []string) string {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return id
		}
		seen[id] = struct{}{}
	}
	return ""
}

func cloneColumns(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedKeys(in map[string][]string) []string {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
