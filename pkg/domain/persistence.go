package domain

import "context"

// Transaction exposes the mutations a persistence implementation must support
// within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	SavePanel(PanelRecord) (PanelRecord, error)
	DeletePanel(name string) error
	RecordRun(RunRecord) (RunRecord, error)
	FindPanel(name string) (PanelRecord, bool)
	FindRun(id string) (RunRecord, bool)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	RuleView
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetPanel(name string) (PanelRecord, bool)
	ListPanels() []PanelRecord
	GetRun(id string) (RunRecord, bool)
	ListRuns() []RunRecord
}
