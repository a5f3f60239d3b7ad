package expression

import (
	"fmt"
	"strings"
)

// SelectColumns returns the columns at idx, in idx order. Gene annotations are
// subset alongside.
func (m *Matrix) SelectColumns(idx []int) (*Matrix, error) {
	nGenes := len(m.genes)
	for _, j := range idx {
		if j < 0 || j >= nGenes {
			return nil, fmt.Errorf("column index %d out of range [0,%d)", j, nGenes)
		}
	}
	genes := make([]string, len(idx))
	for k, j := range idx {
		genes[k] = m.genes[j]
	}
	values := make([]float32, len(m.cells)*len(idx))
	for i := range m.cells {
		src := m.values[i*nGenes : (i+1)*nGenes]
		dst := values[i*len(idx) : (i+1)*len(idx)]
		for k, j := range idx {
			dst[k] = src[j]
		}
	}
	out := &Matrix{
		cells:           m.cells,
		genes:           genes,
		values:          values,
		geneAnnotations: make(map[string][]string, len(m.geneAnnotations)),
		cellAttributes:  m.cellAttributes,
	}
	for name, col := range m.geneAnnotations {
		out.geneAnnotations[name] = pick(col, idx)
	}
	return out, nil
}

// SelectRows returns the rows at idx, in idx order. Cell attributes are subset
// alongside. Repeating an index is rejected because cell ids must stay unique.
func (m *Matrix) SelectRows(idx []int) (*Matrix, error) {
	nGenes := len(m.genes)
	seen := make(map[int]struct{}, len(idx))
	for _, i := range idx {
		if i < 0 || i >= len(m.cells) {
			return nil, fmt.Errorf("row index %d out of range [0,%d)", i, len(m.cells))
		}
		if _, dup := seen[i]; dup {
			return nil, fmt.Errorf("row index %d selected twice", i)
		}
		seen[i] = struct{}{}
	}
	values := make([]float32, len(idx)*nGenes)
	for k, i := range idx {
		copy(values[k*nGenes:(k+1)*nGenes], m.values[i*nGenes:(i+1)*nGenes])
	}
	out := &Matrix{
		cells:           pick(m.cells, idx),
		genes:           m.genes,
		values:          values,
		geneAnnotations: m.geneAnnotations,
		cellAttributes:  make(map[string][]string, len(m.cellAttributes)),
	}
	for name, col := range m.cellAttributes {
		out.cellAttributes[name] = pick(col, idx)
	}
	return out, nil
}

// MissingCellsError reports cell ids requested from a matrix that does not hold them.
type MissingCellsError struct {
	Missing []string
}

func (e *MissingCellsError) Error() string {
	return fmt.Sprintf("%d cell ids not present in matrix: %s", len(e.Missing), preview(e.Missing, 5))
}

// SelectCells returns the rows named by ids, in ids order. Every id must be
// present; a *MissingCellsError lists those that are not.
func (m *Matrix) SelectCells(ids []string) (*Matrix, error) {
	index := make(map[string]int, len(m.cells))
	for i, c := range m.cells {
		index[c] = i
	}
	idx := make([]int, 0, len(ids))
	var missing []string
	for _, id := range ids {
		i, ok := index[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		idx = append(idx, i)
	}
	if len(missing) > 0 {
		return nil, &MissingCellsError{Missing: missing}
	}
	return m.SelectRows(idx)
}

// ConcatColumns joins other to the right of m. Both sides must hold the same
// set of cells; rows of other are matched by id onto m's row order. Gene ids
// must be disjoint, since this is a structural union and never a numeric merge.
// Annotation columns present on only one side are filled with "" on the other.
func (m *Matrix) ConcatColumns(other *Matrix) (*Matrix, error) {
	if len(m.cells) != len(other.cells) {
		return nil, fmt.Errorf("cannot concatenate %d cells with %d cells", len(m.cells), len(other.cells))
	}
	left := make(map[string]struct{}, len(m.genes))
	for _, g := range m.genes {
		left[g] = struct{}{}
	}
	for _, g := range other.genes {
		if _, clash := left[g]; clash {
			return nil, fmt.Errorf("gene %q present on both sides of concatenation", g)
		}
	}
	rowOf := make(map[string]int, len(other.cells))
	for i, c := range other.cells {
		rowOf[c] = i
	}
	nl, nr := len(m.genes), len(other.genes)
	width := nl + nr
	values := make([]float32, len(m.cells)*width)
	for i, c := range m.cells {
		r, ok := rowOf[c]
		if !ok {
			return nil, fmt.Errorf("cell %q missing from right-hand matrix", c)
		}
		copy(values[i*width:i*width+nl], m.values[i*nl:(i+1)*nl])
		copy(values[i*width+nl:(i+1)*width], other.values[r*nr:(r+1)*nr])
	}
	genes := make([]string, 0, width)
	genes = append(genes, m.genes...)
	genes = append(genes, other.genes...)

	out := &Matrix{
		cells:           m.cells,
		genes:           genes,
		values:          values,
		geneAnnotations: map[string][]string{},
		cellAttributes:  cloneColumns(m.cellAttributes),
	}
	for name := range unionKeys(m.geneAnnotations, other.geneAnnotations) {
		col := make([]string, 0, width)
		col = append(col, padded(m.geneAnnotations[name], nl)...)
		col = append(col, padded(other.geneAnnotations[name], nr)...)
		out.geneAnnotations[name] = col
	}
	for name, col := range other.cellAttributes {
		if _, ok := out.cellAttributes[name]; ok {
			continue
		}
		aligned := make([]string, len(m.cells))
		for i, c := range m.cells {
			aligned[i] = col[rowOf[c]]
		}
		out.cellAttributes[name] = aligned
	}
	return out, nil
}

// ReindexColumns returns a matrix whose columns are exactly ids, in order.
// Every id must name exactly one existing column and every existing column
// must be named: reindexing never drops or invents data.
func (m *Matrix) ReindexColumns(ids []string) (*Matrix, error) {
	if len(ids) != len(m.genes) {
		return nil, fmt.Errorf("reindex to %d columns from %d", len(ids), len(m.genes))
	}
	pos := make(map[string]int, len(m.genes))
	for j, g := range m.genes {
		if _, dup := pos[g]; dup {
			return nil, fmt.Errorf("cannot reindex: gene %q occurs more than once", g)
		}
		pos[g] = j
	}
	idx := make([]int, len(ids))
	used := make(map[string]struct{}, len(ids))
	for k, id := range ids {
		j, ok := pos[id]
		if !ok {
			return nil, fmt.Errorf("cannot reindex: gene %q not in matrix", id)
		}
		if _, dup := used[id]; dup {
			return nil, fmt.Errorf("cannot reindex: gene %q requested twice", id)
		}
		used[id] = struct{}{}
		idx[k] = j
	}
	return m.SelectColumns(idx)
}

func pick(col []string, idx []int) []string {
	out := make([]string, len(idx))
	for k, i := range idx {
		out[k] = col[i]
	}
	return out
}

func padded(col []string, n int) []string {
	if col == nil {
		return make([]string, n)
	}
	return col
}

func unionKeys(a, b map[string][]string) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

func preview(ids []string, limit int) string {
	if len(ids) <= limit {
		return strings.Join(ids, ", ")
	}
	return strings.Join(ids[:limit], ", ") + fmt.Sprintf(", ... (%d more)", len(ids)-limit)
}
