package orchestrator

import (
	"context"
	"time"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
)

// LoopConfig bounds the generate -> validate -> fix iteration, mirroring
// the teacher's EngineConfig (internal/application/executor/engine.go)
// shape: explicit limits and feature toggles rather than magic constants.
type LoopConfig struct {
	MaxIterations int
	Strategy      domain.EnsembleStrategy
	Category      domain.ModelCategory
	// EnsembleSize is how many disjoint models a multi-model strategy
	// asks ModelSelector for per iteration, per spec.md §4.4/§8.5.
	// Ignored by EnsembleSingle and EnsembleSpecialized, which always
	// run exactly one model.
	EnsembleSize int
}

// DefaultLoopConfig mirrors the teacher's DefaultEngineConfig habit of
// giving every knob a sane out-of-the-box value.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations: 5,
		Strategy:      domain.EnsembleSingle,
		Category:      domain.ModelCategoryCode,
		EnsembleSize:  3,
	}
}

// AttemptRecorder is the write side of spec.md §4.9's LearningRecorder,
// narrowed to the one call the loop needs: a fire-and-forget notification
// that one Attempt just reached a terminal outcome for this job. The
// loop never awaits it, matching learning.Recorder.RecordAsync's
// non-blocking contract.
type AttemptRecorder interface {
	RecordAsync(jobID string, attempt domain.Attempt)
}

// MetricsSink is the subset of metrics.Collector the loop reports
// against directly, kept as a narrow interface so orchestrator does not
// import the infrastructure/metrics package.
type MetricsSink interface {
	RecordSelection(model string)
	RecordAttempt(a domain.Attempt)
}

// IterationLoop runs the explicit Plan -> Generate -> Validate -> Fix
// state machine for one Job, grounded in engine.go's three-phase
// ExecuteWorkflow (planExecution -> executeWorkflow -> finalizeExecution)
// but generalized from a DAG-of-nodes execution to a single converging
// retry loop, per spec.md §4.7 and §9's tagged-variant design note.
type IterationLoop struct {
	selector  *ModelSelector
	ensemble  *EnsembleCoordinator
	generator *Generator
	validator *Validator
	recorder  AttemptRecorder
	metrics   MetricsSink
	cfg       LoopConfig
}

// NewIterationLoop wires the loop's collaborators. recorder and metrics
// may both be nil, in which case attempt outcomes are tracked only on
// the Job's own timeline.
func NewIterationLoop(selector *ModelSelector, ensemble *EnsembleCoordinator, generator *Generator, validator *Validator, recorder AttemptRecorder, metrics MetricsSink, cfg LoopConfig) *IterationLoop {
	return &IterationLoop{selector: selector, ensemble: ensemble, generator: generator, validator: validator, recorder: recorder, metrics: metrics, cfg: cfg}
}

// Outcome is the terminal result of Run: either an accepted file set or a
// terminal error, plus the full attempt history (Run has already recorded
// each of those attempts on the Job).
type Outcome struct {
	Files    []domain.GeneratedFile
	Attempts []domain.Attempt
	Err      error
}

// Run drives the loop against job's prompt until a candidate is accepted,
// the iteration budget is exhausted, or ctx is cancelled. maxIterations
// overrides l.cfg.MaxIterations for this job when positive (spec.md §6's
// per-request maxIterations), falling back to the engine-wide default
// otherwise. Run appends each phase transition onto job's timeline and
// records each attempt on job as it finishes.
func (l *IterationLoop) Run(ctx context.Context, job *domain.Job, maxIterations int) Outcome {
	if maxIterations <= 0 {
		maxIterations = l.cfg.MaxIterations
	}
	excluded := make(map[string]bool)
	warm := make(map[string]bool)
	var attempts []domain.Attempt
	var feedback []domain.ValidationIssue
	optimistic := l.cfg.Strategy == domain.EnsembleOptimistic
	taskType := TaskTypeFor(job.Prompt())

	for iter := 0; iter < maxIterations; iter++ {
		select {
		case <-ctx.Done():
			return Outcome{Attempts: attempts, Err: domain.NewDomainError(domain.ErrCodeCancelled, "job cancelled", ctx.Err())}
		default:
		}

		selIdx := job.BeginPhase(domain.PhaseSelecting)
		want := ensembleMemberCount(l.cfg.Strategy, l.cfg.EnsembleSize)
		models, err := l.pickDisjoint(ctx, excluded, l.cfg.Category, job.Prompt(), want)
		if err != nil {
			job.EndPhase(selIdx, "", 0)
			return Outcome{Attempts: attempts, Err: err}
		}
		strategy := degradeStrategy(l.cfg.Strategy, len(models))
		job.EndPhase(selIdx, models[0].Name, 0)
		if l.metrics != nil {
			for _, m := range models {
				l.metrics.RecordSelection(m.Name)
			}
		}

		started := time.Now()
		result, genErr := l.runAttempt(ctx, job, models, strategy, iter, maxIterations, feedback, optimistic, warm)
		attempt := domain.Attempt{
			Index:      iter,
			Model:      models[0].Name,
			TaskType:   taskType,
			Result:     result.Result,
			StartedAt:  started,
			FinishedAt: time.Now(),
			Err:        genErr,
		}

		if genErr != nil {
			attempt.Outcome = domain.OutcomeBackendError
			attempts = append(attempts, attempt)
			job.RecordAttempt(attempt)
			l.recordLearning(job.ID(), attempt)
			for _, m := range models {
				l.selector.RecordFailure(m.Name)
				excluded[m.Name] = true
			}
			if domain.CodeOf(genErr) == domain.ErrCodeCancelled {
				return Outcome{Attempts: attempts, Err: genErr}
			}
			continue
		}

		for _, m := range models {
			l.selector.RecordSuccess(m.Name)
		}

		ensembleUsed := strategy != domain.EnsembleSingle && strategy != domain.EnsembleSpecialized
		if l.validator.Accepted(result.Result, result.Confidence, ensembleUsed, optimistic) {
			attempt.Outcome = domain.OutcomeAccepted
			attempts = append(attempts, attempt)
			job.RecordAttempt(attempt)
			l.recordLearning(job.ID(), attempt)
			return Outcome{Files: result.Files, Attempts: attempts}
		}

		attempt.Outcome = domain.OutcomeRejected
		attempts = append(attempts, attempt)
		job.RecordAttempt(attempt)
		l.recordLearning(job.ID(), attempt)
		feedback = result.Result.Issues
		for _, m := range models {
			excluded[m.Name] = true
		}
	}

	return Outcome{
		Attempts: attempts,
		Err:      domain.NewDomainError(domain.ErrCodeModelsExhausted, "iteration budget exhausted without an accepted result", nil),
	}
}

// ensembleMemberCount reports how many disjoint models strategy wants
// for one iteration: exactly one for single/specialized, otherwise the
// configured ensemble width (at least two, so a multi-model strategy
// always has something to reconcile).
func ensembleMemberCount(strategy domain.EnsembleStrategy, desired int) int {
	switch strategy {
	case domain.EnsembleSingle, domain.EnsembleSpecialized:
		return 1
	default:
		if desired < 2 {
			return 2
		}
		return desired
	}
}

// degradeStrategy steps a multi-model strategy down to single once
// fewer than two disjoint models are actually available, per spec.md
// §4.4's degradation rule; single and specialized are unaffected since
// they never wanted more than one to begin with.
func degradeStrategy(strategy domain.EnsembleStrategy, available int) domain.EnsembleStrategy {
	switch strategy {
	case domain.EnsembleSingle, domain.EnsembleSpecialized:
		return strategy
	default:
		if available < 2 {
			return domain.EnsembleSingle
		}
		return strategy
	}
}

// pickDisjoint selects up to n distinct models for one ensemble attempt,
// consulting the selector repeatedly and accumulating a local exclusion
// set on top of the job's own so no model appears twice in the same
// ensemble (spec.md §8.5). Returns as many as it managed to find, never
// zero; the caller degrades the strategy when that's fewer than asked
// for.
func (l *IterationLoop) pickDisjoint(ctx context.Context, excluded map[string]bool, category domain.ModelCategory, prompt string, n int) ([]domain.Model, error) {
	local := make(map[string]bool, len(excluded)+n)
	for k, v := range excluded {
		local[k] = v
	}

	var models []domain.Model
	var firstErr error
	for len(models) < n {
		selection, err := l.selector.Select(ctx, local, category, prompt)
		if err != nil {
			if len(models) == 0 {
				firstErr = err
			}
			break
		}
		if local[selection.Model.Name] {
			// The selector handed back a model we already picked this
			// round (most likely the primary-model fallback recurring);
			// there's nothing left to diversify with.
			break
		}
		models = append(models, selection.Model)
		local[selection.Model.Name] = true
	}

	if len(models) == 0 {
		return nil, firstErr
	}
	return models, nil
}

type attemptResult struct {
	Files      []domain.GeneratedFile
	Result     domain.ValidationResult
	Confidence float64
}

// runAttempt generates and validates against every model in models under
// strategy, tracking each member's duration and whether it was already
// warm (invoked earlier in this same job) per spec.md §3's attempt
// tuple, then returns the ensemble's reconciled files, score, issues,
// and confidence.
func (l *IterationLoop) runAttempt(ctx context.Context, job *domain.Job, models []domain.Model, strategy domain.EnsembleStrategy, iteration, maxIterations int, feedback []domain.ValidationIssue, optimistic bool, warm map[string]bool) (attemptResult, error) {
	genIdx := job.BeginPhase(domain.PhaseGenerating)
	result, err := l.ensemble.Run(ctx, strategy, models, iteration, maxIterations, func(ctx context.Context, m domain.Model) (domain.AttemptMember, error) {
		start := time.Now()
		wasWarm := warm[m.Name]
		files, err := l.generator.Generate(ctx, m, job.Prompt(), feedback)
		if err != nil {
			return domain.AttemptMember{}, err
		}
		vr, err := l.validator.Validate(ctx, files, optimistic)
		if err != nil {
			return domain.AttemptMember{}, err
		}
		warm[m.Name] = true
		return domain.AttemptMember{
			Model:      m.Name,
			Files:      files,
			Result:     vr,
			Score:      vr.Score,
			IssueCount: len(vr.Issues),
			Duration:   time.Since(start),
			Warm:       wasWarm,
		}, nil
	})
	job.EndPhase(genIdx, models[0].Name, result.Confidence)
	if err != nil {
		return attemptResult{}, err
	}

	valIdx := job.BeginPhase(domain.PhaseValidating)
	agg := domain.ValidationResult{Score: result.Score, Issues: result.Issues}
	job.EndPhase(valIdx, models[0].Name, agg.Score)

	return attemptResult{Files: result.Files, Result: agg, Confidence: result.Confidence}, nil
}

// recordLearning forwards attempt to the learning subsystem and metrics
// collector, whichever are wired; both are no-ops otherwise. Never blocks
// the loop: learning.Recorder's own RecordAsync already hands the
// memory-service round trip to a background goroutine, and the metrics
// collector's calls are themselves non-blocking counter/histogram
// updates.
func (l *IterationLoop) recordLearning(jobID string, attempt domain.Attempt) {
	if l.metrics != nil {
		l.metrics.RecordAttempt(attempt)
	}
	if l.recorder == nil {
		return
	}
	l.recorder.RecordAsync(jobID, attempt)
}
