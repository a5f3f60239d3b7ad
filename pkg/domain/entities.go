// Package domain defines the stored entities, error taxonomy, rules and
// persistence contracts shared by atlasprep services and storage backends.
package domain

import (
	"time"

	"atlasprep/pkg/reference"
)

// EntityType names a stored entity kind.
type EntityType string

const (
	// EntityPanel is a stored reference gene panel.
	EntityPanel EntityType = "panel"
	// EntityRun is a recorded preparation run.
	EntityRun EntityType = "run"
)

// PanelRecord is the persisted form of a reference.Panel.
type PanelRecord struct {
	Name       string           `json:"name"`
	Checksum   string           `json:"checksum"`
	Genes      []reference.Gene `json:"genes"`
	ImportedAt time.Time        `json:"imported_at"`
}

// NewPanelRecord captures p for storage.
func NewPanelRecord(p *reference.Panel, now time.Time) PanelRecord {
	return PanelRecord{
		Name:       p.Name(),
		Checksum:   p.Checksum(),
		Genes:      p.Genes(),
		ImportedAt: now.UTC(),
	}
}

// Panel rebuilds and revalidates the reference panel.
func (r PanelRecord) Panel() (*reference.Panel, error) {
	return reference.NewPanel(r.Name, r.Genes)
}

// Size returns the number of genes in the record.
func (r PanelRecord) Size() int { return len(r.Genes) }

// RunStatus is the outcome of a preparation run.
type RunStatus string

const (
	// RunSucceeded marks a run that produced an aligned matrix.
	RunSucceeded RunStatus = "succeeded"
	// RunFailed marks a run that stopped on a lookup or validation failure.
	RunFailed RunStatus = "failed"
)

// RunRecord is the provenance of one cohort selection plus alignment.
type RunRecord struct {
	ID          string     `json:"id"`
	Dataset     string     `json:"dataset"`
	Cohort      string     `json:"cohort"`
	Panel       string     `json:"panel"`
	PanelSize   int        `json:"panel_size"`
	PanelSum    string     `json:"panel_checksum"`
	Namespace   string     `json:"namespace,omitempty"`
	Fallback    string     `json:"fallback,omitempty"`
	MinOverlap  int        `json:"min_overlap"`
	Cells       int        `json:"cells"`
	Found       int        `json:"found"`
	Padded      int        `json:"padded"`
	Status      RunStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []string   `json:"artifacts,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was replaced.
	ActionUpdate Action = "update"
	// ActionDelete indicates an entity was removed.
	ActionDelete Action = "delete"
)

// Severity grades a rule violation.
type Severity string

const (
	// SeverityWarn is reported but does not abort the transaction.
	SeverityWarn Severity = "warn"
	// SeverityBlock aborts the transaction.
	SeverityBlock Severity = "block"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Rule + ": " + v.Message
		}
	}
	return "transaction blocked by rules"
}
