package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job is the aggregate root for one code-generation request. Unlike the
// teacher's event-sourced Execution, a Job does not replay from an event
// log: its phase timeline is itself the durable record, appended to under
// lock and read back verbatim by JobManager.Status.
type Job struct {
	mu sync.RWMutex

	id        string
	prompt    string
	status    JobStatus
	timeline  []PhaseRecord
	attempts  []Attempt
	files     []GeneratedFile
	err       error
	createdAt time.Time
	finishedAt time.Time

	cancel func()
	notify func(PhaseRecord)
}

// NewJob creates a Job in JobStatusQueued, ready for JobManager to start.
func NewJob(prompt string, cancel func()) *Job {
	return &Job{
		id:        uuid.NewString(),
		prompt:    prompt,
		status:    JobStatusQueued,
		createdAt: time.Now(),
		cancel:    cancel,
	}
}

// OnPhase registers fn to be called, outside any internal lock, every
// time a PhaseRecord is opened or closed on this Job's timeline. Used by
// JobManager to fan phase-timeline deltas out to websocket subscribers;
// a Job with no registered notifier behaves exactly as before.
func (j *Job) OnPhase(fn func(PhaseRecord)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.notify = fn
}

func (j *Job) ID() string { return j.id }
func (j *Job) Prompt() string { return j.prompt }

func (j *Job) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Timeline returns a copy of the phase timeline so callers cannot mutate
// Job state through the slice they're handed back.
func (j *Job) Timeline() []PhaseRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]PhaseRecord, len(j.timeline))
	copy(out, j.timeline)
	return out
}

func (j *Job) Attempts() []Attempt {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Attempt, len(j.attempts))
	copy(out, j.attempts)
	return out
}

func (j *Job) Files() []GeneratedFile {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]GeneratedFile, len(j.files))
	copy(out, j.files)
	return out
}

func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

func (j *Job) CreatedAt() time.Time { return j.createdAt }

func (j *Job) FinishedAt() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.finishedAt
}

// Start transitions Queued -> Running. Returns ErrCodeInvalidState if the
// Job is not Queued.
func (j *Job) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != JobStatusQueued {
		return NewDomainError(ErrCodeInvalidState, "job is not queued", nil)
	}
	j.status = JobStatusRunning
	return nil
}

// BeginPhase appends an open PhaseRecord and returns its index so the
// caller can later close it via EndPhase.
func (j *Job) BeginPhase(p Phase) int {
	j.mu.Lock()
	j.timeline = append(j.timeline, PhaseRecord{Phase: p, StartedAt: time.Now()})
	idx := len(j.timeline) - 1
	record, notify := j.timeline[idx], j.notify
	j.mu.Unlock()

	if notify != nil {
		notify(record)
	}
	return idx
}

// EndPhase closes the PhaseRecord at idx with the given model and score.
func (j *Job) EndPhase(idx int, model string, score float64) {
	j.mu.Lock()
	if idx < 0 || idx >= len(j.timeline) {
		j.mu.Unlock()
		return
	}
	j.timeline[idx].FinishedAt = time.Now()
	j.timeline[idx].Model = model
	j.timeline[idx].Score = score
	record, notify := j.timeline[idx], j.notify
	j.mu.Unlock()

	if notify != nil {
		notify(record)
	}
}

// RecordAttempt appends one Attempt to the Job's history.
func (j *Job) RecordAttempt(a Attempt) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts = append(j.attempts, a)
}

// Complete transitions Running -> Completed, storing the accepted files.
func (j *Job) Complete(files []GeneratedFile) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.IsTerminal() {
		return NewDomainError(ErrCodeInvalidState, "job already terminal", nil)
	}
	j.status = JobStatusCompleted
	j.files = files
	j.finishedAt = time.Now()
	return nil
}

// Fail transitions Running -> Failed, storing the terminal cause.
func (j *Job) Fail(err error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.IsTerminal() {
		return NewDomainError(ErrCodeInvalidState, "job already terminal", nil)
	}
	j.status = JobStatusFailed
	j.err = err
	j.finishedAt = time.Now()
	return nil
}

// Cancel transitions to Cancelled from any non-terminal state and invokes
// the Job's cancellation function, which propagates to whatever context
// the iteration loop and any in-flight backend calls are bound to.
func (j *Job) Cancel() error {
	j.mu.Lock()
	if j.status.IsTerminal() {
		j.mu.Unlock()
		return NewDomainError(ErrCodeInvalidState, "job already terminal", nil)
	}
	j.status = JobStatusCancelled
	j.finishedAt = time.Now()
	cancel := j.cancel
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}
