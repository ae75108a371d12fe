// Package orchestrator implements the core generate -> validate -> fix
// engine: model selection, ensemble voting, generation, and validation.
package orchestrator

import (
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
)

// ModelRegistry is the read-many/write-rarely table of models the
// inference backend currently reports. It is refreshed periodically by
// whatever polls GET /api/tags and GET /api/ps, and read on every
// selection decision, so it is backed by a lock-free concurrent map
// rather than a mutex-guarded one, following the teacher's choice of
// xsync for the same read-heavy-table shape.
type ModelRegistry struct {
	models *xsync.MapOf[string, domain.Model]
}

// NewModelRegistry returns an empty registry.
func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{models: xsync.NewMapOf[string, domain.Model]()}
}

// Upsert registers or refreshes a model descriptor, auto-categorizing it
// from its name if the caller did not set Category.
func (r *ModelRegistry) Upsert(m domain.Model) {
	if m.Category == "" {
		m.Category = categorize(m.Name)
	}
	if m.Priority == 0 {
		m.Priority = priorityFor(m.Category)
	}
	m.LastSeenAt = time.Now()
	r.models.Store(m.Name, m)
}

// Remove drops a model the backend no longer reports.
func (r *ModelRegistry) Remove(name string) {
	r.models.Delete(name)
}

// Get returns the model descriptor for name, if registered.
func (r *ModelRegistry) Get(name string) (domain.Model, bool) {
	return r.models.Load(name)
}

// All returns a snapshot of every registered model, highest priority
// first across all categories; models of equal priority come in no
// defined order.
func (r *ModelRegistry) All() []domain.Model {
	out := make([]domain.Model, 0, r.models.Size())
	r.models.Range(func(_ string, m domain.Model) bool {
		out = append(out, m)
		return true
	})
	sortByPriority(out)
	return out
}

// ByCategory returns a snapshot of every registered model in the given
// category, highest priority first.
func (r *ModelRegistry) ByCategory(cat domain.ModelCategory) []domain.Model {
	out := make([]domain.Model, 0)
	r.models.Range(func(_ string, m domain.Model) bool {
		if m.Category == cat {
			out = append(out, m)
		}
		return true
	})
	sortByPriority(out)
	return out
}

// Len reports how many models are registered.
func (r *ModelRegistry) Len() int { return r.models.Size() }

func sortByPriority(models []domain.Model) {
	for i := 1; i < len(models); i++ {
		for j := i; j > 0 && models[j].Priority > models[j-1].Priority; j-- {
			models[j], models[j-1] = models[j-1], models[j]
		}
	}
}

// categorize derives a ModelCategory from substrings commonly found in
// model names served by Ollama-shaped backends.
func categorize(name string) domain.ModelCategory {
	lower := strings.ToLower(name)
	switch {
	case containsAny(lower, "coder", "code", "starcoder", "codellama"):
		return domain.ModelCategoryCode
	case containsAny(lower, "reason", "r1", "o1", "think"):
		return domain.ModelCategoryReasoning
	case containsAny(lower, "vision", "vl", "llava"):
		return domain.ModelCategoryVision
	case containsAny(lower, "embed"):
		return domain.ModelCategoryEmbedding
	default:
		return domain.ModelCategoryGeneral
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// priorityFor gives code models the highest default priority for a
// code-generation workload, reasoning models next, then general, with
// vision and embedding models least likely to be selected for this
// workload.
func priorityFor(cat domain.ModelCategory) int {
	switch cat {
	case domain.ModelCategoryCode:
		return 100
	case domain.ModelCategoryReasoning:
		return 80
	case domain.ModelCategoryGeneral:
		return 50
	case domain.ModelCategoryVision:
		return 20
	case domain.ModelCategoryEmbedding:
		return 10
	default:
		return 0
	}
}
