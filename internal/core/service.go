// Package core implements cohort selection, reference alignment and the
// service that records preparation runs against a persistent store.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"atlasprep/internal/infra/persistence/memory"
	"atlasprep/pkg/domain"
	"atlasprep/pkg/expression"
	"atlasprep/pkg/reference"

	"github.com/google/uuid"
)

const (
	opImportPanel = "import_panel"
	opDeletePanel = "delete_panel"
	opPrepare     = "prepare"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock. A nil ClockFunc reports the UTC wall clock.
type ClockFunc func() time.Time

// Now returns the function's time in UTC.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f().UTC()
}

// ArtifactSink persists an alignment in the requested formats and returns the
// keys it wrote.
type ArtifactSink interface {
	WriteArtifacts(ctx context.Context, runID string, alignment Alignment, formats []string) ([]string, error)
}

type serviceOptions struct {
	clock      Clock
	logger     Logger
	audit      AuditRecorder
	metrics    MetricsRecorder
	tracer     Tracer
	sink       ArtifactSink
	minOverlap int
	aliases    []FallbackAlias
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		logger:     noopLogger{},
		audit:      noopAuditRecorder{},
		metrics:    noopMetricsRecorder{},
		tracer:     noopTracer{},
		minOverlap: DefaultMinOverlap,
		aliases:    DefaultFallbackAliases,
	}
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

// WithClock overrides the time source used for run and panel timestamps.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) { o.clock = clock }
}

// WithLogger sets the logger for operation outcomes and alignment diagnostics.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithMetricsRecorder sets the metrics sink. Recorders that also implement
// AlignmentObserver receive gene coverage per run.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer sets the span source.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithArtifactSink enables artifact export for requests that ask for formats.
func WithArtifactSink(sink ArtifactSink) ServiceOption {
	return func(o *serviceOptions) { o.sink = sink }
}

// WithDefaultMinOverlap sets the overlap threshold for requests that leave
// MinOverlap nil.
func WithDefaultMinOverlap(n int) ServiceOption {
	return func(o *serviceOptions) { o.minOverlap = n }
}

// WithServiceFallbackAliases replaces the fallback annotation columns tried
// during alignment.
func WithServiceFallbackAliases(aliases ...FallbackAlias) ServiceOption {
	return func(o *serviceOptions) { o.aliases = append([]FallbackAlias(nil), aliases...) }
}

// Service stores reference panels and runs cohort selection plus alignment,
// recording every attempt as a run.
type Service struct {
	store   PersistentStore
	clock   Clock
	now     func() time.Time
	logger  Logger
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
	sink    ArtifactSink

	minOverlap int
	aliases    []FallbackAlias

	mu     sync.Mutex
	panels map[string]*reference.Panel
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock != nil {
		if setter, ok := store.(interface{ SetNowFunc(func() time.Time) }); ok {
			setter.SetNowFunc(o.clock.Now)
		}
	}
	return &Service{
		store:      store,
		clock:      o.clock,
		now:        selectNowFunc(store, o.clock),
		logger:     o.logger,
		audit:      o.audit,
		metrics:    o.metrics,
		tracer:     o.tracer,
		sink:       o.sink,
		minOverlap: o.minOverlap,
		aliases:    o.aliases,
		panels:     make(map[string]*reference.Panel),
	}
}

// NewInMemoryService creates a service over an in-memory store. A nil engine
// selects NewDefaultRulesEngine.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// selectNowFunc prefers an explicit clock, then the store's own time source,
// then the UTC wall clock.
func selectNowFunc(store PersistentStore, clock Clock) func() time.Time {
	if clock != nil {
		return func() time.Time { return clock.Now().UTC() }
	}
	if provider, ok := store.(interface{ NowFunc() func() time.Time }); ok {
		if fn := provider.NowFunc(); fn != nil {
			return func() time.Time { return fn().UTC() }
		}
	}
	return func() time.Time { return time.Now().UTC() }
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore { return s.store }

func (s *Service) run(ctx context.Context, op string, entityID *string, fn func(context.Context) error) error {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(ctx)
	elapsed := time.Since(started)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, elapsed)
	if err != nil {
		s.logger.Error("operation failed", "operation", op, "id", *entityID, "error", err)
		s.recordAuditError(ctx, op, *entityID, elapsed, err)
		return err
	}
	s.logger.Debug("operation completed", "operation", op, "id", *entityID, "duration", elapsed)
	s.recordAuditSuccess(ctx, op, *entityID, elapsed)
	return nil
}

func (s *Service) recordAuditSuccess(ctx context.Context, op, entityID string, d time.Duration) {
	s.recordAudit(ctx, op, entityID, d, nil)
}

func (s *Service) recordAuditError(ctx context.Context, op, entityID string, d time.Duration, err error) {
	s.recordAudit(ctx, op, entityID, d, err)
}

func (s *Service) recordAudit(ctx context.Context, op, entityID string, d time.Duration, err error) {
	meta, ok := auditedOperations[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    AuditStatusSuccess,
		Duration:  d,
		Timestamp: s.now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

// ImportPanel stores p, replacing any panel of the same name.
func (s *Service) ImportPanel(ctx context.Context, p *reference.Panel) (domain.PanelRecord, Result, error) {
	var saved domain.PanelRecord
	var res Result
	name := ""
	if p != nil {
		name = p.Name()
	}
	err := s.run(ctx, opImportPanel, &name, func(ctx context.Context) error {
		if p == nil {
			return errors.New("import panel: panel is required")
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			saved, err = tx.SavePanel(domain.NewPanelRecord(p, s.now()))
			return err
		})
		return err
	})
	if err == nil {
		s.mu.Lock()
		s.panels[saved.Name] = p
		s.mu.Unlock()
	}
	return saved, res, err
}

// Panel returns the stored panel named name, rebuilt from its record once and
// cached while the stored checksum is unchanged.
func (s *Service) Panel(name string) (*reference.Panel, error) {
	rec, ok := s.store.GetPanel(name)
	if !ok {
		return nil, domain.ErrNotFound{Entity: domain.EntityPanel, ID: name}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.panels[name]; ok && cached.Checksum() == rec.Checksum {
		return cached, nil
	}
	p, err := rec.Panel()
	if err != nil {
		return nil, fmt.Errorf("stored panel %q: %w", name, err)
	}
	s.panels[name] = p
	return p, nil
}

// ListPanels returns stored panels ordered by name.
func (s *Service) ListPanels() []domain.PanelRecord { return s.store.ListPanels() }

// DeletePanel removes a stored panel. Panels referenced by runs are protected
// by the panel_in_use rule.
func (s *Service) DeletePanel(ctx context.Context, name string) (Result, error) {
	var res Result
	err := s.run(ctx, opDeletePanel, &name, func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			return tx.DeletePanel(name)
		})
		return err
	})
	if err == nil {
		s.mu.Lock()
		delete(s.panels, name)
		s.mu.Unlock()
	}
	return res, err
}

// GetRun returns a recorded run.
func (s *Service) GetRun(id string) (domain.RunRecord, error) {
	run, ok := s.store.GetRun(id)
	if !ok {
		return domain.RunRecord{}, domain.ErrNotFound{Entity: domain.EntityRun, ID: id}
	}
	return run, nil
}

// ListRuns returns recorded runs, newest first.
func (s *Service) ListRuns() []domain.RunRecord { return s.store.ListRuns() }

// PrepareRequest describes one dataset to select and align.
type PrepareRequest struct {
	// Dataset labels the run and, unless Cohort.DatasetLabel is set, the cells.
	Dataset string
	Matrix  *expression.Matrix
	// Metadata enables cohort selection. When nil, Matrix is aligned as is.
	Metadata *expression.CellTable
	Cohort   CohortSelection
	Panel    string
	// MinOverlap overrides the service default when set. Zero disables the
	// overlap check.
	MinOverlap *int
	// Formats lists artifact formats to export through the ArtifactSink.
	Formats []string
}

// PrepareResult is a recorded run plus its alignment.
type PrepareResult struct {
	Run       domain.RunRecord
	Alignment Alignment
}

// Prepare selects the cohort, aligns it to the stored panel, optionally
// exports artifacts, and records the run. Failures after the request is
// accepted are recorded as failed runs, returned in the result's Run, and
// keep their kind, so errors.Is(err, domain.ErrValidation) and friends hold.
func (s *Service) Prepare(ctx context.Context, req PrepareRequest) (PrepareResult, error) {
	if req.Matrix == nil {
		return PrepareResult{}, errors.New("prepare: matrix is required")
	}
	runID := uuid.NewString()
	var out PrepareResult
	err := s.run(ctx, opPrepare, &runID, func(ctx context.Context) error {
		minOverlap := s.minOverlap
		if req.MinOverlap != nil {
			minOverlap = *req.MinOverlap
		}
		run := domain.RunRecord{
			ID:         runID,
			Dataset:    req.Dataset,
			Cohort:     req.Cohort.Key,
			Panel:      req.Panel,
			MinOverlap: minOverlap,
			CreatedAt:  s.now(),
		}
		alignment, artifacts, err := s.prepare(ctx, req, runID, minOverlap, &run)
		completed := s.now()
		run.CompletedAt = &completed
		if err != nil {
			run.Status = domain.RunFailed
			run.Error = err.Error()
		} else {
			run.Status = domain.RunSucceeded
			run.Namespace = alignment.Namespace.String()
			run.Fallback = alignment.Fallback
			run.Found = alignment.Found
			run.Padded = alignment.Padded
			run.Artifacts = artifacts
		}
		var recorded domain.RunRecord
		if _, recErr := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			recorded, err = tx.RecordRun(run)
			return err
		}); recErr != nil {
			if err != nil {
				return errors.Join(err, fmt.Errorf("record failed run: %w", recErr))
			}
			return fmt.Errorf("record run: %w", recErr)
		}
		out.Run = recorded
		if err != nil {
			return err
		}
		if obs, ok := s.metrics.(AlignmentObserver); ok {
			obs.ObserveAlignment(ctx, run.Panel, alignment.Found, alignment.Padded)
		}
		out.Alignment = alignment
		return nil
	})
	return out, err
}

func (s *Service) prepare(ctx context.Context, req PrepareRequest, runID string, minOverlap int, run *domain.RunRecord) (Alignment, []string, error) {
	panel, err := s.Panel(req.Panel)
	if err != nil {
		return Alignment{}, nil, err
	}
	run.PanelSize = panel.Len()
	run.PanelSum = panel.Checksum()

	m := req.Matrix
	if req.Metadata != nil {
		sel := req.Cohort
		if sel.DatasetLabel == "" {
			sel.DatasetLabel = req.Dataset
		}
		if m, err = SelectCohort(m, req.Metadata, sel); err != nil {
			return Alignment{}, nil, err
		}
	}
	run.Cells, _ = m.Shape()

	aligner, err := NewAligner(panel,
		WithMinOverlap(minOverlap),
		WithDiagnostics(s.logger),
		WithFallbackAliases(s.aliases...),
	)
	if err != nil {
		return Alignment{}, nil, err
	}
	alignment, err := aligner.Align(m)
	if err != nil {
		return Alignment{}, nil, err
	}

	var artifacts []string
	if len(req.Formats) > 0 {
		if s.sink == nil {
			return Alignment{}, nil, errors.New("artifact export requested but no sink is configured")
		}
		if artifacts, err = s.sink.WriteArtifacts(ctx, runID, alignment, req.Formats); err != nil {
			return Alignment{}, nil, fmt.Errorf("export artifacts: %w", err)
		}
	}
	return alignment, artifacts, nil
}
