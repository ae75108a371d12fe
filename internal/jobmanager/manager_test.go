package jobmanager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
	"github.com/smilemakc/codegen-orchestrator/internal/orchestrator"
)

type stubRunner struct {
	outcome orchestrator.Outcome
	delay   time.Duration
	blockOn chan struct{}
}

func (r *stubRunner) Run(ctx context.Context, job *domain.Job, maxIterations int) orchestrator.Outcome {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.blockOn != nil {
		<-ctx.Done()
	}
	for _, a := range r.outcome.Attempts {
		job.RecordAttempt(a)
	}
	return r.outcome
}

type recordingPublisher struct {
	mu        sync.Mutex
	phases    []domain.PhaseRecord
	terminals map[string]string
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{terminals: make(map[string]string)}
}

func (p *recordingPublisher) PublishPhase(jobID string, record domain.PhaseRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phases = append(p.phases, record)
}

func (p *recordingPublisher) PublishTerminal(jobID string, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminals[jobID] = status
}

type recordingJobMetrics struct {
	mu         sync.Mutex
	terminals  []domain.JobStatus
	iterations []int
}

func (m *recordingJobMetrics) RecordJobTerminal(status domain.JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminals = append(m.terminals, status)
}

func (m *recordingJobMetrics) RecordIterations(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.iterations = append(m.iterations, n)
}

func waitForTerminal(t *testing.T, mgr *JobManager, id string) *domain.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := mgr.Status(id)
		require.NoError(t, err)
		if job.Status().IsTerminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func TestJobManager_StartCompletesJob(t *testing.T) {
	runner := &stubRunner{outcome: orchestrator.Outcome{Files: []domain.GeneratedFile{{Path: "a.go"}}}}
	mgr := New(runner)

	id, err := mgr.Start(context.Background(), "write something", 0)
	require.NoError(t, err)

	job := waitForTerminal(t, mgr, id)
	assert.Equal(t, domain.JobStatusCompleted, job.Status())
	assert.Equal(t, "a.go", job.Files()[0].Path)
}

func TestJobManager_StartFailsJobOnRunnerError(t *testing.T) {
	runner := &stubRunner{outcome: orchestrator.Outcome{Err: domain.NewDomainError(domain.ErrCodeModelsExhausted, "exhausted", nil)}}
	mgr := New(runner)

	id, err := mgr.Start(context.Background(), "prompt", 0)
	require.NoError(t, err)

	job := waitForTerminal(t, mgr, id)
	assert.Equal(t, domain.JobStatusFailed, job.Status())
	require.Error(t, job.Err())
}

func TestJobManager_StatusUnknownJobIsNotFound(t *testing.T) {
	mgr := New(&stubRunner{})
	_, err := mgr.Status("nonexistent")
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeNotFound, domain.CodeOf(err))
}

func TestJobManager_ListReturnsAllJobs(t *testing.T) {
	runner := &stubRunner{outcome: orchestrator.Outcome{}, delay: 50 * time.Millisecond}
	mgr := New(runner)

	_, err := mgr.Start(context.Background(), "one", 0)
	require.NoError(t, err)
	_, err = mgr.Start(context.Background(), "two", 0)
	require.NoError(t, err)

	assert.Len(t, mgr.List(), 2)
}

func TestJobManager_CancelUnknownJobIsNotFound(t *testing.T) {
	mgr := New(&stubRunner{})
	err := mgr.Cancel("nonexistent")
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeNotFound, domain.CodeOf(err))
}

func TestJobManager_CancelStopsRunningJob(t *testing.T) {
	runner := &stubRunner{blockOn: make(chan struct{})}
	mgr := New(runner)

	id, err := mgr.Start(context.Background(), "prompt", 0)
	require.NoError(t, err)

	require.NoError(t, mgr.Cancel(id))

	job, err := mgr.Status(id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, job.Status())
}

func TestJobManager_PublisherReceivesPhaseAndTerminalNotifications(t *testing.T) {
	runner := &stubRunner{outcome: orchestrator.Outcome{}}
	pub := newRecordingPublisher()
	mgr := New(runner).WithPublisher(pub)

	id, err := mgr.Start(context.Background(), "prompt", 0)
	require.NoError(t, err)
	waitForTerminal(t, mgr, id)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, "completed", pub.terminals[id])
}

func TestJobManager_MetricsReceivesTerminalAndIterationCounts(t *testing.T) {
	runner := &stubRunner{outcome: orchestrator.Outcome{
		Attempts: []domain.Attempt{{Index: 0}, {Index: 1}},
	}}
	metrics := &recordingJobMetrics{}
	mgr := New(runner).WithMetrics(metrics)

	id, err := mgr.Start(context.Background(), "prompt", 0)
	require.NoError(t, err)
	waitForTerminal(t, mgr, id)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	require.Len(t, metrics.terminals, 1)
	assert.Equal(t, domain.JobStatusCompleted, metrics.terminals[0])
	require.Len(t, metrics.iterations, 1)
	assert.Equal(t, 2, metrics.iterations[0])
}
