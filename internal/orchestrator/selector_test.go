package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
	"github.com/smilemakc/codegen-orchestrator/internal/learning"
)

type stubLearningStats struct {
	byTaskType map[string][]learning.ModelRank
}

func (s *stubLearningStats) RankedStats(taskType string) []learning.ModelRank {
	return s.byTaskType[taskType]
}

type stubCategoryDelegate struct {
	category domain.ModelCategory
	err      error
}

func (s *stubCategoryDelegate) SuggestCategory(ctx context.Context, prompt string) (domain.ModelCategory, error) {
	return s.category, s.err
}

func newTestSelector(t *testing.T, primary string, verbose bool) (*ModelSelector, *ModelRegistry, *VramBudget) {
	t.Helper()
	registry := NewModelRegistry()
	budget := NewVramBudget()
	budget.Refresh([]domain.Device{{Index: 0, TotalVRAM: 16 << 30, UsedVRAM: 0}})
	return NewModelSelector(registry, budget, primary, verbose), registry, budget
}

func TestModelSelector_SelectPicksHighestPriorityFittingCandidate(t *testing.T) {
	sel, registry, _ := newTestSelector(t, "", false)
	registry.Upsert(domain.Model{Name: "coder-small", Category: domain.ModelCategoryCode, Priority: 10, SizeBytes: 1 << 30})
	registry.Upsert(domain.Model{Name: "coder-big", Category: domain.ModelCategoryCode, Priority: 90, SizeBytes: 1 << 30})

	sel2, err := sel.Select(context.Background(), nil, domain.ModelCategoryCode, "write code")
	require.NoError(t, err)
	assert.Equal(t, "coder-big", sel2.Model.Name)
	assert.False(t, sel2.FallbackCountsAgainstBudget)
}

func TestModelSelector_SelectSkipsExcluded(t *testing.T) {
	sel, registry, _ := newTestSelector(t, "", false)
	registry.Upsert(domain.Model{Name: "coder-a", Category: domain.ModelCategoryCode, Priority: 90, SizeBytes: 1 << 30})
	registry.Upsert(domain.Model{Name: "coder-b", Category: domain.ModelCategoryCode, Priority: 10, SizeBytes: 1 << 30})

	selected, err := sel.Select(context.Background(), map[string]bool{"coder-a": true}, domain.ModelCategoryCode, "write code")
	require.NoError(t, err)
	assert.Equal(t, "coder-b", selected.Model.Name)
}

func TestModelSelector_SelectSkipsModelsThatDoNotFitVRAM(t *testing.T) {
	sel, registry, _ := newTestSelector(t, "", false)
	registry.Upsert(domain.Model{Name: "huge", Category: domain.ModelCategoryCode, SizeBytes: 64 << 30})

	_, err := sel.Select(context.Background(), nil, domain.ModelCategoryCode, "write code")
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeNoCandidate, domain.CodeOf(err))
}

func TestModelSelector_SelectFallsBackToPrimary(t *testing.T) {
	sel, registry, _ := newTestSelector(t, "fallback-model", false)
	registry.Upsert(domain.Model{Name: "fallback-model", Category: domain.ModelCategoryGeneral, SizeBytes: 1 << 30})

	selected, err := sel.Select(context.Background(), nil, domain.ModelCategoryCode, "write code")
	require.NoError(t, err)
	assert.Equal(t, "fallback-model", selected.Model.Name)
	assert.True(t, selected.FallbackCountsAgainstBudget)
}

func TestModelSelector_VerboseFallbackDoesNotCountAgainstBudget(t *testing.T) {
	sel, registry, _ := newTestSelector(t, "fallback-model", true)
	registry.Upsert(domain.Model{Name: "fallback-model", Category: domain.ModelCategoryGeneral, SizeBytes: 1 << 30})

	selected, err := sel.Select(context.Background(), nil, domain.ModelCategoryCode, "write code")
	require.NoError(t, err)
	assert.False(t, selected.FallbackCountsAgainstBudget)
}

func TestModelSelector_SelectOnEmptyRegistry(t *testing.T) {
	sel, _, _ := newTestSelector(t, "", false)
	_, err := sel.Select(context.Background(), nil, domain.ModelCategoryCode, "write code")
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeRegistryUnavailable, domain.CodeOf(err))
}

func TestModelSelector_ModelsExhaustedWhenEverythingExcluded(t *testing.T) {
	sel, registry, _ := newTestSelector(t, "", false)
	registry.Upsert(domain.Model{Name: "only-model", Category: domain.ModelCategoryCode, SizeBytes: 1 << 30})

	_, err := sel.Select(context.Background(), map[string]bool{"only-model": true}, domain.ModelCategoryCode, "write code")
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeModelsExhausted, domain.CodeOf(err))
}

func TestModelSelector_RecordFailureOpensBreaker(t *testing.T) {
	sel, registry, _ := newTestSelector(t, "", false)
	registry.Upsert(domain.Model{Name: "flaky", Category: domain.ModelCategoryCode, SizeBytes: 1 << 30})

	for i := 0; i < 3; i++ {
		sel.RecordFailure("flaky")
	}
	assert.True(t, sel.breakers.isOpen("flaky"))

	_, err := sel.Select(context.Background(), nil, domain.ModelCategoryCode, "write code")
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeNoCandidate, domain.CodeOf(err))
}

func TestModelSelector_SelectPrefersHigherSuccessRateOverPriority(t *testing.T) {
	sel, registry, _ := newTestSelector(t, "", false)
	registry.Upsert(domain.Model{Name: "coder-high-priority", Category: domain.ModelCategoryCode, Priority: 90, SizeBytes: 1 << 30})
	registry.Upsert(domain.Model{Name: "coder-reliable", Category: domain.ModelCategoryCode, Priority: 10, SizeBytes: 1 << 30})
	sel.WithLearningStats(&stubLearningStats{byTaskType: map[string][]learning.ModelRank{
		"code_generation": {
			{Model: "coder-reliable", SuccessRate: 0.95, Samples: 20},
			{Model: "coder-high-priority", SuccessRate: 0.2, Samples: 20},
		},
	}})

	selected, err := sel.Select(context.Background(), nil, domain.ModelCategoryCode, "write code")
	require.NoError(t, err)
	assert.Equal(t, "coder-reliable", selected.Model.Name)
}

func TestModelSelector_SelectUsesCategoryDelegateWhenCategoryUnset(t *testing.T) {
	sel, registry, _ := newTestSelector(t, "", false)
	registry.Upsert(domain.Model{Name: "reasoner", Category: domain.ModelCategoryReasoning, SizeBytes: 1 << 30})
	sel.WithCategoryDelegate(&stubCategoryDelegate{category: domain.ModelCategoryReasoning})

	selected, err := sel.Select(context.Background(), nil, "", "think step by step")
	require.NoError(t, err)
	assert.Equal(t, "reasoner", selected.Model.Name)
}

func TestModelSelector_SelectIgnoresDelegateWhenCategoryAlreadySet(t *testing.T) {
	sel, registry, _ := newTestSelector(t, "", false)
	registry.Upsert(domain.Model{Name: "coder", Category: domain.ModelCategoryCode, SizeBytes: 1 << 30})
	sel.WithCategoryDelegate(&stubCategoryDelegate{category: domain.ModelCategoryVision})

	selected, err := sel.Select(context.Background(), nil, domain.ModelCategoryCode, "write code")
	require.NoError(t, err)
	assert.Equal(t, "coder", selected.Model.Name)
}

func TestModelSelector_RecordSuccessKeepsBreakerClosed(t *testing.T) {
	sel, registry, _ := newTestSelector(t, "", false)
	registry.Upsert(domain.Model{Name: "healthy", Category: domain.ModelCategoryCode, SizeBytes: 1 << 30})

	sel.RecordSuccess("healthy")
	assert.False(t, sel.breakers.isOpen("healthy"))
}
