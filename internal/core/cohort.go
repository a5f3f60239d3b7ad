package core

import (
	"errors"
	"fmt"

	"atlasprep/pkg/domain"
	"atlasprep/pkg/expression"
)

const (
	// DefaultCohortColumn is the metadata column compared against the cohort key.
	DefaultCohortColumn = "donor"
	// DefaultDatasetAttribute is the cell attribute stamped with the dataset label.
	DefaultDatasetAttribute = "dataset"
)

// CohortSelection names the cells to keep and how to label them.
type CohortSelection struct {
	Column           string
	Key              string
	DatasetLabel     string
	DatasetAttribute string
}

func (s CohortSelection) withDefaults() CohortSelection {
	if s.Column == "" {
		s.Column = DefaultCohortColumn
	}
	if s.DatasetAttribute == "" {
		s.DatasetAttribute = DefaultDatasetAttribute
	}
	return s
}

// SelectCohort restricts m to the cells whose metadata row matches sel.Key,
// in metadata order. Metadata barcodes are normalized with NormalizeBarcode
// before matching. Every retained cell is stamped with sel.DatasetLabel.
// Neither input is modified.
func SelectCohort(m *expression.Matrix, meta *expression.CellTable, sel CohortSelection) (*expression.Matrix, error) {
	if m == nil || meta == nil {
		return nil, errors.New("select cohort: matrix and metadata are required")
	}
	sel = sel.withDefaults()
	if _, ok := meta.Column(sel.Column); !ok {
		return nil, &domain.LookupError{Kind: "metadata column", Key: sel.Column}
	}

	normalized := meta.WithIDs(NormalizeBarcode)
	cohort := normalized.Filter(func(row int) bool {
		v, _ := normalized.Value(sel.Column, row)
		return v == sel.Key
	})
	if cohort.Len() == 0 {
		return nil, &domain.LookupError{Kind: "cohort", Key: sel.Key}
	}

	ids := cohort.IDs()
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, &domain.ValidationError{
				Reason: "cell identifiers are not unique after barcode normalization",
				Detail: fmt.Sprintf("cell %q appears more than once in cohort %q", id, sel.Key),
			}
		}
		seen[id] = struct{}{}
	}

	sub, err := m.SelectCells(ids)
	if err != nil {
		var missing *expression.MissingCellsError
		if errors.As(err, &missing) {
			return nil, &domain.LookupError{Kind: "cohort", Key: sel.Key, Missing: missing.Missing, Total: len(ids)}
		}
		return nil, fmt.Errorf("select cohort %q: %w", sel.Key, err)
	}

	labels := make([]string, len(ids))
	for i := range labels {
		labels[i] = sel.DatasetLabel
	}
	return sub.WithCellAttribute(sel.DatasetAttribute, labels)
}
