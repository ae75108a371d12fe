// Package jobmanager owns the lifecycle of Jobs: non-blocking submission,
// linearizable status reads, listing, and cancellation.
package jobmanager

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
	"github.com/smilemakc/codegen-orchestrator/internal/orchestrator"
)

// cancelGrace bounds how long Cancel waits for a job's goroutine to
// observe ctx.Done() and return before giving up on a clean stop, per
// spec.md §4.8's "hierarchical cancellation within 5s".
const cancelGrace = 5 * time.Second

// Runner executes one Job to completion. JobManager wires this to an
// orchestrator.IterationLoop in production; tests substitute a stub.
// maxIterations is the per-job override from spec.md §6's
// POST /orchestrate body; a Runner treats a non-positive value as "use
// the engine-wide default".
type Runner interface {
	Run(ctx context.Context, job *domain.Job, maxIterations int) orchestrator.Outcome
}

// Publisher fans a Job's phase-timeline deltas and terminal status out to
// subscribers, implemented by websocket.Hub in production. JobManager
// treats a nil Publisher as "no subscribers configured" and skips
// notification entirely.
type Publisher interface {
	PublishPhase(jobID string, record domain.PhaseRecord)
	PublishTerminal(jobID string, status string)
}

// JobMetrics is the subset of metrics.Collector a JobManager reports
// terminal-status and iteration-count observations to.
type JobMetrics interface {
	RecordJobTerminal(status domain.JobStatus)
	RecordIterations(n int)
}

// JobManager is the single authoritative in-memory registry of Jobs for
// this process (spec.md §6: "the core keeps no durable state of its
// own" — any Postgres mirror in internal/infrastructure/storage is a
// non-authoritative audit sink, never read back by JobManager).
type JobManager struct {
	mu   sync.RWMutex
	jobs map[string]*entry

	runner  Runner
	pub     Publisher
	metrics JobMetrics
}

type entry struct {
	job    *domain.Job
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a JobManager that executes submitted jobs through runner.
func New(runner Runner) *JobManager {
	return &JobManager{jobs: make(map[string]*entry), runner: runner}
}

// WithPublisher attaches pub so every Job started afterward pushes its
// phase-timeline deltas and terminal status to it. Returns m for chaining
// at construction time.
func (m *JobManager) WithPublisher(pub Publisher) *JobManager {
	m.pub = pub
	return m
}

// WithMetrics attaches a metrics collector observed on every Job
// reaching a terminal status. Returns m for chaining at construction
// time.
func (m *JobManager) WithMetrics(metrics JobMetrics) *JobManager {
	m.metrics = metrics
	return m
}

// Start registers a new Job for prompt and kicks off its execution in a
// background goroutine, returning immediately with the Job's id. Start
// never blocks on generation, validation, or backend calls. maxIterations
// overrides the engine-wide default iteration budget for this job alone
// when positive.
func (m *JobManager) Start(ctx context.Context, prompt string, maxIterations int) (string, error) {
	jobCtx, cancel := context.WithCancel(ctx)
	job := domain.NewJob(prompt, cancel)

	if m.pub != nil {
		jobID := job.ID()
		job.OnPhase(func(record domain.PhaseRecord) {
			m.pub.PublishPhase(jobID, record)
		})
	}

	e := &entry{job: job, cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	m.jobs[job.ID()] = e
	m.mu.Unlock()

	if err := job.Start(); err != nil {
		cancel()
		return "", err
	}

	go func() {
		defer close(e.done)
		defer cancel()
		outcome := m.runner.Run(jobCtx, job, maxIterations)
		if outcome.Err != nil {
			if domain.CodeOf(outcome.Err) == domain.ErrCodeCancelled {
				m.reportTerminal(job)
				return // Cancel already transitioned the job to Cancelled.
			}
			_ = job.Fail(outcome.Err)
			m.reportTerminal(job)
			return
		}
		_ = job.Complete(outcome.Files)
		m.reportTerminal(job)
	}()

	return job.ID(), nil
}

func (m *JobManager) reportTerminal(job *domain.Job) {
	if m.pub != nil {
		m.pub.PublishTerminal(job.ID(), job.Status().String())
	}
	if m.metrics != nil {
		m.metrics.RecordJobTerminal(job.Status())
		m.metrics.RecordIterations(len(job.Attempts()))
	}
}

// Status returns a linearizable snapshot of one Job: every field read
// under the Job's own RWMutex reflects a single consistent point in
// time, never a partially-updated timeline.
func (m *JobManager) Status(id string) (*domain.Job, error) {
	m.mu.RLock()
	e, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.NewDomainError(domain.ErrCodeNotFound, "job not found", nil)
	}
	return e.job, nil
}

// List returns every known Job, most recently created first.
func (m *JobManager) List() []*domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Job, 0, len(m.jobs))
	for _, e := range m.jobs {
		out = append(out, e.job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt().After(out[j].CreatedAt())
	})
	return out
}

// Cancel requests termination of the given job and waits up to
// cancelGrace for its goroutine to observe the cancellation, propagating
// to whatever backend call or sandbox build is in flight. Cancel returns
// as soon as the Job reaches a terminal state or the grace period
// elapses, whichever comes first; it never blocks the caller indefinitely.
func (m *JobManager) Cancel(id string) error {
	m.mu.RLock()
	e, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return domain.NewDomainError(domain.ErrCodeNotFound, "job not found", nil)
	}

	if err := e.job.Cancel(); err != nil {
		return err
	}

	select {
	case <-e.done:
	case <-time.After(cancelGrace):
	}
	return nil
}
