package export

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"atlasprep/internal/core"

	"github.com/google/uuid"
)

// JobStatus describes the lifecycle stage of a preparation job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// DefaultQueueSize bounds the number of jobs waiting for the worker.
const DefaultQueueSize = 32

// Preparer runs one cohort selection plus alignment. *core.Service
// implements it.
type Preparer interface {
	Prepare(ctx context.Context, req core.PrepareRequest) (core.PrepareResult, error)
}

// Job is an enqueue request.
type Job struct {
	Request     core.PrepareRequest
	RequestedBy string
}

// JobRecord tracks a job and the run it produced.
type JobRecord struct {
	ID          string     `json:"id"`
	Dataset     string     `json:"dataset"`
	Panel       string     `json:"panel"`
	Cohort      string     `json:"cohort"`
	Formats     []string   `json:"formats"`
	RequestedBy string     `json:"requested_by,omitempty"`
	Status      JobStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	RunID       string     `json:"run_id,omitempty"`
	Artifacts   []string   `json:"artifacts,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Err is the failure returned by the preparer, kept for errors.Is.
	Err error `json:"-"`
}

func (r JobRecord) copy() JobRecord {
	dup := r
	dup.Formats = append([]string(nil), r.Formats...)
	dup.Artifacts = append([]string(nil), r.Artifacts...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		dup.CompletedAt = &t
	}
	return dup
}

// AuditLogger records job transitions.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry captures one job transition.
type AuditEntry struct {
	ID         string         `json:"id"`
	JobID      string         `json:"job_id"`
	Action     string         `json:"action"`
	Actor      string         `json:"actor,omitempty"`
	Dataset    string         `json:"dataset,omitempty"`
	Status     JobStatus      `json:"status"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

const auditAction = "prepare_job"

// Worker executes preparation jobs on a single goroutine.
type Worker struct {
	preparer Preparer
	audit    AuditLogger
	now      func() time.Time

	queue chan jobTask
	mu    sync.RWMutex
	jobs  map[string]*JobRecord
	done  map[string]chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

type jobTask struct {
	id  string
	req core.PrepareRequest
}

// NewWorker constructs a worker. audit may be nil.
func NewWorker(p Preparer, audit AuditLogger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		preparer: p,
		audit:    audit,
		now:      func() time.Time { return time.Now().UTC() },
		queue:    make(chan jobTask, DefaultQueueSize),
		jobs:     make(map[string]*JobRecord),
		done:     make(map[string]chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing queued jobs.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop cancels the running job, halts the loop and waits for it. Jobs still
// queued stay queued.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(w.cancel)
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case task := <-w.queue:
			w.process(task)
		}
	}
}

// Enqueue validates job and schedules it, returning the queued record. When
// the queue is full it waits for room until ctx ends or the worker stops.
func (w *Worker) Enqueue(ctx context.Context, job Job) (JobRecord, error) {
	if w.preparer == nil {
		return JobRecord{}, errors.New("prepare worker not configured")
	}
	req := job.Request
	if req.Matrix == nil {
		return JobRecord{}, errors.New("job matrix required")
	}
	if strings.TrimSpace(req.Panel) == "" {
		return JobRecord{}, errors.New("job panel required")
	}
	formats := make([]string, 0, len(req.Formats))
	seen := make(map[Format]struct{}, len(req.Formats))
	for _, name := range req.Formats {
		f, err := ParseFormat(name)
		if err != nil {
			return JobRecord{}, err
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		formats = append(formats, string(f))
	}
	req.Formats = formats

	now := w.now()
	record := JobRecord{
		ID:          uuid.NewString(),
		Dataset:     req.Dataset,
		Panel:       req.Panel,
		Cohort:      req.Cohort.Key,
		Formats:     formats,
		RequestedBy: job.RequestedBy,
		Status:      JobQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.jobs[record.ID] = &record
	w.done[record.ID] = make(chan struct{})
	queued := record.copy()
	w.mu.Unlock()

	w.record(ctx, queued, nil)

	var cause error
	select {
	case w.queue <- jobTask{id: record.ID, req: req}:
		return queued, nil
	case <-ctx.Done():
		cause = ctx.Err()
	case <-w.ctx.Done():
		cause = errors.New("prepare worker stopped")
	}
	err := fmt.Errorf("prepare queue full (%d jobs): %w", cap(w.queue), cause)
	w.mu.Lock()
	delete(w.jobs, record.ID)
	delete(w.done, record.ID)
	w.mu.Unlock()
	queued.Status = JobFailed
	queued.Error = err.Error()
	w.record(ctx, queued, map[string]any{"error": err.Error()})
	return JobRecord{}, err
}

// Get returns a snapshot of the job record.
func (w *Worker) Get(id string) (JobRecord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return JobRecord{}, false
	}
	return record.copy(), true
}

// Wait blocks until job id succeeds or fails, or ctx ends.
func (w *Worker) Wait(ctx context.Context, id string) (JobRecord, error) {
	w.mu.RLock()
	done, ok := w.done[id]
	w.mu.RUnlock()
	if !ok {
		return JobRecord{}, fmt.Errorf("prepare job %s not found", id)
	}
	select {
	case <-done:
		record, _ := w.Get(id)
		return record, nil
	case <-ctx.Done():
		return JobRecord{}, ctx.Err()
	}
}

// List returns snapshots of every job, oldest first.
func (w *Worker) List() []JobRecord {
	w.mu.RLock()
	out := make([]JobRecord, 0, len(w.jobs))
	for _, record := range w.jobs {
		out = append(out, record.copy())
	}
	w.mu.RUnlock()
	sortJobs(out)
	return out
}

func (w *Worker) process(task jobTask) {
	w.transition(task.id, func(r *JobRecord) { r.Status = JobRunning }, nil)
	res, err := w.preparer.Prepare(w.ctx, task.req)
	if err != nil {
		w.transition(task.id, func(r *JobRecord) {
			r.Status = JobFailed
			r.Error = err.Error()
			r.Err = err
			r.RunID = res.Run.ID
		}, map[string]any{"error": err.Error()})
		return
	}
	w.transition(task.id, func(r *JobRecord) {
		r.Status = JobSucceeded
		r.RunID = res.Run.ID
		r.Artifacts = append([]string(nil), res.Run.Artifacts...)
	}, map[string]any{"run_id": res.Run.ID})
}

func (w *Worker) transition(id string, mutate func(*JobRecord), md map[string]any) {
	now := w.now()
	w.mu.Lock()
	record, ok := w.jobs[id]
	if !ok {
		w.mu.Unlock()
		return
	}
	mutate(record)
	record.UpdatedAt = now
	terminal := record.Status == JobSucceeded || record.Status == JobFailed
	if terminal {
		record.CompletedAt = &now
	}
	snapshot := record.copy()
	w.mu.Unlock()
	w.record(w.ctx, snapshot, md)
	if terminal {
		w.mu.RLock()
		close(w.done[id])
		w.mu.RUnlock()
	}
}

func (w *Worker) record(ctx context.Context, r JobRecord, md map[string]any) {
	if w.audit == nil {
		return
	}
	w.audit.Record(context.WithoutCancel(ctx), AuditEntry{
		ID:         uuid.NewString(),
		JobID:      r.ID,
		Action:     auditAction,
		Actor:      r.RequestedBy,
		Dataset:    r.Dataset,
		Status:     r.Status,
		Metadata:   md,
		OccurredAt: r.UpdatedAt,
	})
}

// MemoryAuditLog captures audit entries in memory.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Record stores an audit entry.
func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a copy of recorded entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func sortJobs(jobs []JobRecord) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
}
