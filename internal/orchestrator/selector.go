package orchestrator

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
	"github.com/smilemakc/codegen-orchestrator/internal/learning"
)

// breakerRegistry is a keyed set of gobreaker circuit breakers, one per
// model name, following the teacher's CircuitBreakerRegistry pattern
// (internal/application/executor/circuit_breaker.go) but delegating the
// state machine itself to sony/gobreaker instead of the teacher's
// hand-rolled Closed/Open/HalfOpen implementation.
type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newBreakerRegistry() *breakerRegistry {
	return &breakerRegistry{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (r *breakerRegistry) get(model string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[model]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        model,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	r.breakers[model] = cb
	return cb
}

func (r *breakerRegistry) isOpen(model string) bool {
	return r.get(model).State() == gobreaker.StateOpen
}

// LearningStats is the historical-performance signal spec.md §4.3 step 3
// ranks candidates by, narrowed from learning.Recorder so Select can
// prefer models with a track record of success for this task type
// without ModelSelector importing the full recorder surface.
type LearningStats interface {
	RankedStats(taskType string) []learning.ModelRank
}

// CategoryDelegate is the optional LLM-selector delegate spec.md §4.3
// step 3 names: asked to classify a prompt into a ModelCategory when the
// caller hasn't already pinned one down, implemented by
// backend.OpenAIDelegate.SuggestCategory.
type CategoryDelegate interface {
	SuggestCategory(ctx context.Context, prompt string) (domain.ModelCategory, error)
}

// TaskTypeFor derives the coarse task-type bucket spec.md §4.3 uses to
// key LearningStats lookups: validation for a validation-flavored prompt,
// general for an empty prompt, and code_generation for every other
// prompt.
func TaskTypeFor(prompt string) string {
	lower := strings.ToLower(prompt)
	switch {
	case prompt == "":
		return "general"
	case strings.Contains(lower, "valid") || strings.Contains(lower, "review") || strings.Contains(lower, "test"):
		return "validation"
	default:
		return "code_generation"
	}
}

// ModelSelector picks a candidate model for one generation attempt,
// applying the following steps in order, per spec.md §4.3:
//  1. Exclude models already tried for this job (exclusion set).
//  2. Exclude models whose circuit breaker is open.
//  3. Restrict candidates to the category matching the job's inferred
//     task (code, by default, with an optional LLM-delegate override —
//     see WithCategoryDelegate).
//  4. Exclude models that don't fit the current VRAM budget.
//  5. Fall back to the configured primary model if every candidate above
//     was excluded. The returned Selection marks that fallback as
//     counting against the iteration budget unless the engine is running
//     in verbose mode (Open Question 1); IterationLoop does not read the
//     mark and counts every iteration, fallback or not.
type ModelSelector struct {
	registry *ModelRegistry
	budget   *VramBudget
	breakers *breakerRegistry
	stats    LearningStats
	delegate CategoryDelegate

	primaryModel string
	verbose      bool
}

// NewModelSelector builds a selector over the given registry and VRAM
// budget. primaryModel is the configured fallback model (spec.md §6
// Engine.PrimaryModel); verbose exempts the fallback path from counting
// against the iteration budget.
func NewModelSelector(registry *ModelRegistry, budget *VramBudget, primaryModel string, verbose bool) *ModelSelector {
	return &ModelSelector{
		registry:     registry,
		budget:       budget,
		breakers:     newBreakerRegistry(),
		primaryModel: primaryModel,
		verbose:      verbose,
	}
}

// WithLearningStats wires in the success-rate ranking spec.md §4.3 step
// 3 names. Returns s so callers can chain it onto NewModelSelector.
func (s *ModelSelector) WithLearningStats(stats LearningStats) *ModelSelector {
	s.stats = stats
	return s
}

// WithCategoryDelegate wires in the optional LLM category-classification
// delegate from spec.md §4.3 step 3. Returns s so callers can chain it
// onto NewModelSelector.
func (s *ModelSelector) WithCategoryDelegate(delegate CategoryDelegate) *ModelSelector {
	s.delegate = delegate
	return s
}

// Selection is the result of one Select call.
type Selection struct {
	Model domain.Model
	// FallbackCountsAgainstBudget is true when Model is the primary-model
	// fallback and the engine is not running verbose, per Open Question 1.
	FallbackCountsAgainstBudget bool
}

// Select runs the filter chain and returns the chosen model, or a
// *domain.DomainError with ErrCodeRegistryUnavailable (empty registry) or
// ErrCodeNoCandidate / ErrCodeModelsExhausted if nothing is available. ctx and prompt feed steps 3-4 of spec.md §4.3:
// prompt is classified into a task type for the LearningStats lookup,
// and, when category is unset, the optional CategoryDelegate is asked to
// suggest one before falling back to ModelCategoryCode.
func (s *ModelSelector) Select(ctx context.Context, excluded map[string]bool, category domain.ModelCategory, prompt string) (Selection, error) {
	if s.registry.Len() == 0 {
		return Selection{}, domain.NewDomainError(domain.ErrCodeRegistryUnavailable, "model registry is empty", nil)
	}

	effectiveCategory := category
	if effectiveCategory == "" && s.delegate != nil {
		if suggested, err := s.delegate.SuggestCategory(ctx, prompt); err == nil && suggested != "" {
			effectiveCategory = suggested
		}
	}
	if effectiveCategory == "" {
		effectiveCategory = domain.ModelCategoryCode
	}

	candidates := s.registry.ByCategory(effectiveCategory)

	var fitting []domain.Model
	for _, m := range candidates {
		if excluded[m.Name] {
			continue
		}
		if s.breakers.isOpen(m.Name) {
			continue
		}
		if !s.budget.Fits(m) {
			continue
		}
		fitting = append(fitting, m)
	}

	if len(fitting) > 0 {
		if s.stats != nil {
			rankBySuccessRate(fitting, s.stats.RankedStats(TaskTypeFor(prompt)))
		}
		return Selection{Model: fitting[0]}, nil
	}

	// Every category/budget/breaker-filtered candidate was excluded.
	// Fall back to the primary model if it exists, wasn't itself excluded
	// for this job, and its breaker is closed.
	if s.primaryModel != "" && !excluded[s.primaryModel] && !s.breakers.isOpen(s.primaryModel) {
		if m, ok := s.registry.Get(s.primaryModel); ok {
			return Selection{Model: m, FallbackCountsAgainstBudget: !s.verbose}, nil
		}
	}

	if len(excluded) >= s.registry.Len() {
		return Selection{}, domain.NewDomainError(domain.ErrCodeModelsExhausted, "every registered model has been excluded or is unavailable", nil)
	}
	return Selection{}, domain.NewDomainError(domain.ErrCodeNoCandidate, "no candidate model satisfies category, breaker, and VRAM constraints", nil)
}

// rankBySuccessRate stably reorders models by historical success rate,
// highest first; models without recorded history keep their relative
// (priority-ordered) position.
func rankBySuccessRate(models []domain.Model, ranked []learning.ModelRank) {
	rates := make(map[string]float64, len(ranked))
	for _, r := range ranked {
		rates[r.Model] = r.SuccessRate
	}
	sort.SliceStable(models, func(i, j int) bool {
		return rates[models[i].Name] > rates[models[j].Name]
	})
}

// RecordSuccess reports a successful backend call for model, closing its
// breaker toward its normal state.
func (s *ModelSelector) RecordSuccess(model string) {
	_, _ = s.breakers.get(model).Execute(func() (any, error) { return nil, nil })
}

// RecordFailure reports a failed backend call for model, moving its
// breaker a step toward open.
func (s *ModelSelector) RecordFailure(model string) {
	_, _ = s.breakers.get(model).Execute(func() (any, error) { return nil, assertFailure })
}

var assertFailure = domain.NewDomainError(domain.ErrCodeBackendTimeout, "backend call failed", nil)
