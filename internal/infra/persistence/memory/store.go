// Package memory provides an in-memory implementation of the atlasprep
// persistence store used for tests, ephemeral runs and as the transaction
// engine behind the durable backends.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"atlasprep/pkg/domain"
	"atlasprep/pkg/reference"

	"github.com/google/uuid"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// PanelRecord aliases domain.PanelRecord.
	PanelRecord = domain.PanelRecord
	// RunRecord aliases domain.RunRecord.
	RunRecord = domain.RunRecord
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	panels map[string]PanelRecord
	runs   map[string]RunRecord
}

// Snapshot captures a point-in-time clone of the store state. It is the unit
// the durable backends serialize, one JSON bucket per field.
type Snapshot struct {
	Panels map[string]PanelRecord `json:"panels"`
	Runs   map[string]RunRecord   `json:"runs"`
}

func newMemoryState() memoryState {
	return memoryState{
		panels: make(map[string]PanelRecord),
		runs:   make(map[string]RunRecord),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Panels: make(map[string]PanelRecord, len(state.panels)),
		Runs:   make(map[string]RunRecord, len(state.runs)),
	}
	for k, v := range state.panels {
		s.Panels[k] = clonePanel(v)
	}
	for k, v := range state.runs {
		s.Runs[k] = cloneRun(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Panels {
		if v.Name == "" {
			v.Name = k
		}
		state.panels[v.Name] = clonePanel(v)
	}
	for k, v := range s.Runs {
		if v.ID == "" {
			v.ID = k
		}
		state.runs[v.ID] = cloneRun(v)
	}
	return state
}

func (s memoryState) clone() memoryState {
	return memoryStateFromSnapshot(snapshotFromMemoryState(s))
}

func clonePanel(p PanelRecord) PanelRecord {
	p.Genes = append([]reference.Gene(nil), p.Genes...)
	return p
}

func cloneRun(r RunRecord) RunRecord {
	r.Artifacts = append([]string(nil), r.Artifacts...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		r.CompletedAt = &t
	}
	return r
}

// Store provides an in-memory transactional store for panels and runs.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used to stamp records.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc replaces the time provider. A nil fn restores the UTC wall clock.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		fn = func() time.Time { return time.Now().UTC() }
	}
	s.nowFn = fn
}

type transaction struct {
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListPanels returns all panels in the snapshot ordered by name.
func (v transactionView) ListPanels() []PanelRecord {
	return sortedPanels(v.state.panels)
}

// FindPanel retrieves a panel by name from the snapshot.
func (v transactionView) FindPanel(name string) (PanelRecord, bool) {
	p, ok := v.state.panels[name]
	if !ok {
		return PanelRecord{}, false
	}
	return clonePanel(p), true
}

// ListRuns returns all runs in the snapshot, newest first.
func (v transactionView) ListRuns() []RunRecord {
	return sortedRuns(v.state.runs)
}

// FindRun retrieves a run by ID from the snapshot.
func (v transactionView) FindRun(id string) (RunRecord, bool) {
	r, ok := v.state.runs[id]
	if !ok {
		return RunRecord{}, false
	}
	return cloneRun(r), true
}

// RunInTransaction executes fn within a transactional copy of the store state.
// Blocking rule violations discard the copy.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn().UTC(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindPanel exposes panel lookup within the transaction scope.
func (tx *transaction) FindPanel(name string) (PanelRecord, bool) {
	return newTransactionView(&tx.state).FindPanel(name)
}

// FindRun exposes run lookup within the transaction scope.
func (tx *transaction) FindRun(id string) (RunRecord, bool) {
	return newTransactionView(&tx.state).FindRun(id)
}

// SavePanel creates or replaces the panel named p.Name.
func (tx *transaction) SavePanel(p PanelRecord) (PanelRecord, error) {
	if p.Name == "" {
		return PanelRecord{}, fmt.Errorf("panel name required")
	}
	if len(p.Genes) == 0 {
		return PanelRecord{}, fmt.Errorf("panel %q has no genes", p.Name)
	}
	if p.ImportedAt.IsZero() {
		p.ImportedAt = tx.now
	}
	before, exists := tx.state.panels[p.Name]
	tx.state.panels[p.Name] = clonePanel(p)
	if exists {
		tx.recordChange(Change{Entity: domain.EntityPanel, Action: domain.ActionUpdate, Before: clonePanel(before), After: clonePanel(p)})
	} else {
		tx.recordChange(Change{Entity: domain.EntityPanel, Action: domain.ActionCreate, After: clonePanel(p)})
	}
	return clonePanel(p), nil
}

// DeletePanel removes a panel from the transaction state.
func (tx *transaction) DeletePanel(name string) error {
	current, ok := tx.state.panels[name]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityPanel, ID: name}
	}
	delete(tx.state.panels, name)
	tx.recordChange(Change{Entity: domain.EntityPanel, Action: domain.ActionDelete, Before: clonePanel(current)})
	return nil
}

// RecordRun stores r, assigning an ID and creation time when absent. Recording
// an existing ID replaces the earlier record.
func (tx *transaction) RecordRun(r RunRecord) (RunRecord, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = tx.now
	}
	if r.Status == "" {
		return RunRecord{}, fmt.Errorf("run %s: status required", r.ID)
	}
	before, exists := tx.state.runs[r.ID]
	tx.state.runs[r.ID] = cloneRun(r)
	if exists {
		tx.recordChange(Change{Entity: domain.EntityRun, Action: domain.ActionUpdate, Before: cloneRun(before), After: cloneRun(r)})
	} else {
		tx.recordChange(Change{Entity: domain.EntityRun, Action: domain.ActionCreate, After: cloneRun(r)})
	}
	return cloneRun(r), nil
}

// Read helpers ---------------------------------------------------------------

// GetPanel retrieves a panel by name from committed state.
func (s *Store) GetPanel(name string) (PanelRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.panels[name]
	if !ok {
		return PanelRecord{}, false
	}
	return clonePanel(p), true
}

// ListPanels returns all panels from committed state ordered by name.
func (s *Store) ListPanels() []PanelRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedPanels(s.state.panels)
}

// GetRun retrieves a run by ID from committed state.
func (s *Store) GetRun(id string) (RunRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.runs[id]
	if !ok {
		return RunRecord{}, false
	}
	return cloneRun(r), true
}

// ListRuns returns all runs from committed state, newest first.
func (s *Store) ListRuns() []RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedRuns(s.state.runs)
}

func sortedPanels(in map[string]PanelRecord) []PanelRecord {
	out := make([]PanelRecord, 0, len(in))
	for _, p := range in {
		out = append(out, clonePanel(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortedRuns(in map[string]RunRecord) []RunRecord {
	out := make([]RunRecord, 0, len(in))
	for _, r := range in {
		out = append(out, cloneRun(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
