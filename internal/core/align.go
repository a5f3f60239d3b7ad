package core

import (
	"errors"
	"fmt"
	"strings"

	"atlasprep/pkg/domain"
	"atlasprep/pkg/expression"
	"atlasprep/pkg/reference"
)

// DefaultMinOverlap is the minimum number of panel genes an input must carry
// in one namespace before it is aligned.
const DefaultMinOverlap = 1500

// FallbackAlias names a gene annotation column that may hold identifiers of
// Namespace when the matrix's column identifiers do not overlap the panel.
type FallbackAlias struct {
	Column    string
	Namespace reference.Namespace
}

// DefaultFallbackAliases are tried in order; only the first present is used.
var DefaultFallbackAliases = []FallbackAlias{
	{Column: "gene_symbols", Namespace: reference.GeneSymbol},
	{Column: "gene_ids", Namespace: reference.GeneID},
}

// Alignment is a matrix whose columns are exactly the panel identifiers of
// Namespace, in panel order.
type Alignment struct {
	Matrix    *expression.Matrix
	Namespace reference.Namespace
	// Found is the number of panel genes present in the input.
	Found int
	// Padded is the number of all-zero columns added for absent panel genes.
	Padded int
	// Fallback is the annotation column whose identifiers were used, if any.
	Fallback string
}

// AlignerOption configures an Aligner.
type AlignerOption func(*Aligner)

// WithMinOverlap overrides DefaultMinOverlap.
func WithMinOverlap(n int) AlignerOption {
	return func(a *Aligner) { a.minOverlap = n }
}

// WithDiagnostics routes namespace and padding diagnostics to logger.
func WithDiagnostics(logger Logger) AlignerOption {
	return func(a *Aligner) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithFallbackAliases replaces DefaultFallbackAliases. An empty list disables
// the fallback.
func WithFallbackAliases(aliases ...FallbackAlias) AlignerOption {
	return func(a *Aligner) { a.aliases = append([]FallbackAlias(nil), aliases...) }
}

// Aligner reconciles expression matrices against one reference panel. It
// holds no mutable state and is safe for concurrent use.
type Aligner struct {
	panel      *reference.Panel
	minOverlap int
	aliases    []FallbackAlias
	logger     Logger
}

// NewAligner validates the configuration for panel.
func NewAligner(panel *reference.Panel, opts ...AlignerOption) (*Aligner, error) {
	if panel == nil || panel.Len() == 0 {
		return nil, errors.New("aligner requires a non-empty reference panel")
	}
	a := &Aligner{
		panel:      panel,
		minOverlap: DefaultMinOverlap,
		aliases:    DefaultFallbackAliases,
		logger:     noopLogger{},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.minOverlap < 0 || a.minOverlap > panel.Len() {
		return nil, &domain.ValidationError{
			Reason:   "min_overlap out of range",
			Measured: a.minOverlap,
			Required: panel.Len(),
			Detail:   fmt.Sprintf("min_overlap %d must be between 0 and the panel size %d", a.minOverlap, panel.Len()),
		}
	}
	return a, nil
}

// Panel returns the reference panel.
func (a *Aligner) Panel() *reference.Panel { return a.panel }

// MinOverlap returns the configured overlap threshold.
func (a *Aligner) MinOverlap() int { return a.minOverlap }

// AlignToReference is shorthand for NewAligner followed by Align.
func AlignToReference(m *expression.Matrix, panel *reference.Panel, opts ...AlignerOption) (Alignment, error) {
	a, err := NewAligner(panel, opts...)
	if err != nil {
		return Alignment{}, err
	}
	return a.Align(m)
}

// Align returns m restricted, zero-padded and reordered to the panel. It
// fails with a *domain.ValidationError when too few panel genes are present
// or when gene identifiers are not unique. m is not modified.
func (a *Aligner) Align(m *expression.Matrix) (Alignment, error) {
	if m == nil {
		return Alignment{}, errors.New("align: matrix is required")
	}
	k := a.panel.Len()
	candidate := m
	counts := a.overlaps(candidate)
	fallback := ""

	if best := maxCount(counts); best < a.minOverlap {
		if alias, values, ok := a.fallbackColumn(m); ok {
			replaced, err := m.WithGenes(values)
			if err != nil {
				return Alignment{}, fmt.Errorf("align: fallback column %q: %w", alias.Column, err)
			}
			candidate = replaced
			counts = a.overlaps(candidate)
			fallback = alias.Column
			a.logger.Warn("gene identifiers replaced by fallback annotation column",
				"column", alias.Column, "namespace", alias.Namespace.String(), "overlap", counts[alias.Namespace])
		}
		best = max(best, maxCount(counts))
		if maxCount(counts) < a.minOverlap {
			return Alignment{}, &domain.ValidationError{
				Reason:   "insufficient overlap with reference panel",
				Measured: best,
				Required: a.minOverlap,
				Detail: fmt.Sprintf("detected only %d of the %d genes needed for mapping, the minimum overlap is %d; contact the HLCA team",
					best, k, a.minOverlap),
			}
		}
	}

	ns := reference.GeneID
	if counts[reference.GeneSymbol] > counts[reference.GeneID] {
		ns = reference.GeneSymbol
	}
	n := counts[ns]
	a.logger.Info("gene namespace detected", "namespace", ns.String(), "overlap", n, "panel_size", k)

	if n > k {
		return Alignment{}, &domain.ValidationError{
			Reason:   "gene identifiers are not unique",
			Measured: n,
			Required: k,
			Detail:   fmt.Sprintf("%d columns match a %d-gene panel", n, k),
		}
	}

	set := a.panel.Set(ns)
	genes := candidate.Genes()
	idx := make([]int, 0, n)
	seen := make(map[string]struct{}, n)
	var dups []string
	for j, g := range genes {
		if _, ok := set[g]; !ok {
			continue
		}
		if _, dup := seen[g]; dup {
			dups = append(dups, g)
		}
		seen[g] = struct{}{}
		idx = append(idx, j)
	}
	if len(dups) > 0 {
		return Alignment{}, &domain.ValidationError{
			Reason:   "gene identifiers are not unique",
			Measured: n,
			Required: k,
			Detail:   fmt.Sprintf("%d duplicated panel genes: %s", len(dups), strings.Join(firstN(dups, 5), ", ")),
		}
	}

	sub, err := candidate.SelectColumns(idx)
	if err != nil {
		return Alignment{}, fmt.Errorf("align: subset: %w", err)
	}
	a.logger.Info("reference genes found", "found", n, "panel_size", k)

	target := a.panel.Values(ns)
	padded := 0
	if n < k {
		var missing []string
		for _, g := range target {
			if _, ok := seen[g]; !ok {
				missing = append(missing, g)
			}
		}
		padded = len(missing)
		a.logger.Info("zero-padding missing reference genes", "padded", padded)
		zeros, err := expression.Zeros(sub.Cells(), missing)
		if err != nil {
			return Alignment{}, fmt.Errorf("align: padding: %w", err)
		}
		if sub, err = sub.ConcatColumns(zeros); err != nil {
			return Alignment{}, fmt.Errorf("align: padding: %w", err)
		}
	}

	out, err := sub.ReindexColumns(target)
	if err != nil {
		return Alignment{}, fmt.Errorf("align: reorder: %w", err)
	}
	return Alignment{Matrix: out, Namespace: ns, Found: n, Padded: padded, Fallback: fallback}, nil
}

func (a *Aligner) overlaps(m *expression.Matrix) [2]int {
	var counts [2]int
	for _, ns := range reference.Namespaces {
		counts[ns] = m.CountIn(a.panel.Set(ns))
	}
	return counts
}

// fallbackColumn returns the first configured alias present among m's gene
// annotations, compared case-insensitively.
func (a *Aligner) fallbackColumn(m *expression.Matrix) (FallbackAlias, []string, bool) {
	names := m.GeneAnnotationNames()
	for _, alias := range a.aliases {
		for _, name := range names {
			if !strings.EqualFold(name, alias.Column) {
				continue
			}
			values, _ := m.GeneAnnotation(name)
			return alias, values, true
		}
	}
	return FallbackAlias{}, nil, false
}

func maxCount(counts [2]int) int {
	return max(counts[0], counts[1])
}

func firstN(values []string, n int) []string {
	if len(values) > n {
		return values[:n]
	}
	return values
}
