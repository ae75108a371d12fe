// Package learning records attempt outcomes to the external memory
// service for future prompt recall, asynchronously and best-effort.
package learning

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
)

// MemoryWriter is the write side of the external memory service's
// JSON-RPC surface: persisting one attempt's outcome for later recall.
// Generator.MemoryService (internal/orchestrator) is the read side of
// the same collaborator.
type MemoryWriter interface {
	Record(ctx context.Context, jobID string, attempt domain.Attempt) error
}

// AuditSink optionally mirrors attempt records for operator-facing
// queries. It is never read back by the recorder itself — spec.md §6
// keeps the memory service as the sole source of truth for learning
// state; this is strictly an audit trail.
type AuditSink interface {
	MirrorAttempt(ctx context.Context, jobID string, attempt domain.Attempt) error
}

// Stats summarizes recorded outcomes across jobs, served from an
// in-memory rollup rather than round-tripping to the memory service on
// every query.
type Stats struct {
	TotalAttempts    int
	AcceptedAttempts int
	RejectedAttempts int
	ByModel          map[string]ModelStats
}

// ModelStats rolls up outcomes for a single model.
type ModelStats struct {
	Attempts int
	Accepted int
}

// ModelRank is one model's ranked historical performance for a given
// task type, the signal spec.md §4.3 step 3 asks ModelSelector to
// consult before falling back to plain priority order.
type ModelRank struct {
	Model       string
	SuccessRate float64
	AvgScore    float64
	Samples     int
}

// taskModelStat accumulates per-model outcomes within one task-type
// bucket, the rollup RankedStats reads from.
type taskModelStat struct {
	attempts int
	accepted int
	scoreSum float64
}

// Recorder writes attempt outcomes to the memory service asynchronously
// and maintains an in-process rollup for Stats queries. A failure to
// reach the memory service is logged and otherwise swallowed: recording
// learning data never blocks or fails a Job, per spec.md §4.9.
type Recorder struct {
	writer MemoryWriter
	audit  AuditSink
	log    zerolog.Logger

	mu       sync.Mutex
	stats    Stats
	byTask   map[string]map[string]*taskModelStat
}

// New builds a Recorder. writer may be nil (memory service degraded or
// disabled); audit may be nil (no Postgres mirror configured).
func New(writer MemoryWriter, audit AuditSink, log zerolog.Logger) *Recorder {
	return &Recorder{
		writer: writer,
		audit:  audit,
		log:    log,
		stats:  Stats{ByModel: make(map[string]ModelStats)},
		byTask: make(map[string]map[string]*taskModelStat),
	}
}

// RecordAsync fires off a best-effort write for one Attempt and returns
// immediately; the caller (JobManager's background goroutine) does not
// wait on the memory service round trip.
func (r *Recorder) RecordAsync(jobID string, attempt domain.Attempt) {
	r.rollup(attempt)

	if r.writer == nil && r.audit == nil {
		return
	}

	go func() {
		ctx := context.Background()
		if r.writer != nil {
			if err := r.writer.Record(ctx, jobID, attempt); err != nil {
				r.log.Warn().Err(err).Str("job_id", jobID).Str("model", attempt.Model).
					Msg("memory service unavailable, attempt not recorded for recall")
			}
		}
		if r.audit != nil {
			if err := r.audit.MirrorAttempt(ctx, jobID, attempt); err != nil {
				r.log.Warn().Err(err).Str("job_id", jobID).Msg("audit mirror write failed")
			}
		}
	}()
}

func (r *Recorder) rollup(attempt domain.Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.TotalAttempts++
	switch attempt.Outcome {
	case domain.OutcomeAccepted:
		r.stats.AcceptedAttempts++
	case domain.OutcomeRejected, domain.OutcomeBackendError:
		r.stats.RejectedAttempts++
	}

	ms := r.stats.ByModel[attempt.Model]
	ms.Attempts++
	if attempt.Outcome == domain.OutcomeAccepted {
		ms.Accepted++
	}
	r.stats.ByModel[attempt.Model] = ms

	byModel, ok := r.byTask[attempt.TaskType]
	if !ok {
		byModel = make(map[string]*taskModelStat)
		r.byTask[attempt.TaskType] = byModel
	}
	ts, ok := byModel[attempt.Model]
	if !ok {
		ts = &taskModelStat{}
		byModel[attempt.Model] = ts
	}
	ts.attempts++
	if attempt.Outcome == domain.OutcomeAccepted {
		ts.accepted++
	}
	ts.scoreSum += attempt.Result.Score
}

// RankedStats returns every model with recorded history for taskType,
// ordered by success rate (ties broken by average score), the ranking
// spec.md §4.3 step 3 uses to prefer historically reliable models over
// plain priority order.
func (r *Recorder) RankedStats(taskType string) []ModelRank {
	r.mu.Lock()
	defer r.mu.Unlock()

	byModel := r.byTask[taskType]
	ranks := make([]ModelRank, 0, len(byModel))
	for model, ts := range byModel {
		rank := ModelRank{Model: model, Samples: ts.attempts}
		if ts.attempts > 0 {
			rank.SuccessRate = float64(ts.accepted) / float64(ts.attempts)
			rank.AvgScore = ts.scoreSum / float64(ts.attempts)
		}
		ranks = append(ranks, rank)
	}
	sort.Slice(ranks, func(i, j int) bool {
		if ranks[i].SuccessRate != ranks[j].SuccessRate {
			return ranks[i].SuccessRate > ranks[j].SuccessRate
		}
		return ranks[i].AvgScore > ranks[j].AvgScore
	})
	return ranks
}

// Stats returns a snapshot of the current rollup.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.stats
	out.ByModel = make(map[string]ModelStats, len(r.stats.ByModel))
	for k, v := range r.stats.ByModel {
		out.ByModel[k] = v
	}
	return out
}
