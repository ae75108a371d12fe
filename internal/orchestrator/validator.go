package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
)

// Rule is one seeded deterministic check the rule layer runs against
// every generated file, compiled once and cached, the way the teacher's
// ConditionEvaluator (internal/application/executor/conditions.go)
// caches compiled expr programs per condition string.
type Rule struct {
	Name      string
	Condition string // expr expression over a fileFacts struct
	Severity  domain.Severity
	Message   string
}

// fileFacts is the evaluation environment exposed to each Rule's
// condition expression.
type fileFacts struct {
	Path       string
	Content    string
	LineCount  int
	HasTODO    bool
	IsEmpty    bool
}

// DefaultRules returns the seeded rule set: an emptiness guard (error)
// and a TODO-marker guard (warning). No null-check or error-handling
// rule is seeded. Operators extend this list through Validator.AddRule.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:      "non-empty",
			Condition: "!IsEmpty",
			Severity:  domain.SeverityError,
			Message:   "generated file is empty",
		},
		{
			Name:      "no-todo-markers",
			Condition: "!HasTODO",
			Severity:  domain.SeverityWarning,
			Message:   "generated file still contains a TODO marker",
		},
	}
}

// LLMReviewer is the optional second validation layer: an LLM pass over
// the generated files that returns additional issues, wired to the same
// InferenceBackend the Generator uses (spec.md §4.6).
type LLMReviewer interface {
	Review(ctx context.Context, files []domain.GeneratedFile) ([]domain.ValidationIssue, error)
}

// ImportChecker statically verifies that files reference only imports
// the project already declares, per spec.md §4.6's import layer.
type ImportChecker interface {
	Check(files []domain.GeneratedFile) []domain.ValidationIssue
}

// SandboxRunner builds the generated files in an external sandboxed
// environment, per spec.md §4.6's build layer and §4.7's edge case for
// Sandbox failures.
type SandboxRunner interface {
	Build(ctx context.Context, files []domain.GeneratedFile) ([]domain.ValidationIssue, error)
}

// Validator runs the rule, LLM, import, and Sandbox layers over a
// candidate file set and produces a single ValidationResult, per
// spec.md §4.6.
type Validator struct {
	mu       sync.RWMutex
	rules    []Rule
	compiled map[string]*vm.Program

	llm     LLMReviewer
	imports ImportChecker
	sandbox SandboxRunner

	minScore              float64
	sandboxFailsAreTerminal bool
}

// NewValidator builds a Validator with the given minimum acceptance
// score (spec.md §6 Engine.MinScore) and collaborators. Any collaborator
// may be nil to skip that layer.
func NewValidator(minScore float64, llm LLMReviewer, imports ImportChecker, sandbox SandboxRunner) *Validator {
	return &Validator{
		rules:    DefaultRules(),
		compiled: make(map[string]*vm.Program),
		llm:      llm,
		imports:  imports,
		sandbox:  sandbox,
		minScore: minScore,
	}
}

// AddRule registers an additional deterministic rule.
func (v *Validator) AddRule(r Rule) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules = append(v.rules, r)
}

// SetSandboxFailuresTerminal implements Open Question 3: when true, a
// Sandbox build failure is treated as a terminal error rather than
// demoted to an issue.
func (v *Validator) SetSandboxFailuresTerminal(terminal bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sandboxFailsAreTerminal = terminal
}

// Validate runs every layer over files and returns the combined result.
// optimistic relaxes the minimum-score gate: an optimistic ensemble
// strategy accepts any result with zero error-severity issues regardless
// of minScore, per spec.md §4.6.
func (v *Validator) Validate(ctx context.Context, files []domain.GeneratedFile, optimistic bool) (domain.ValidationResult, error) {
	var issues []domain.ValidationIssue

	issues = append(issues, v.runRules(files)...)

	if v.imports != nil {
		issues = append(issues, v.imports.Check(files)...)
	}

	if v.llm != nil {
		llmIssues, err := v.llm.Review(ctx, files)
		if err != nil {
			issues = append(issues, domain.ValidationIssue{
				Kind:     domain.IssueKindLLM,
				Severity: domain.SeverityWarning,
				Message:  fmt.Sprintf("llm review unavailable: %v", err),
			})
		} else {
			issues = append(issues, llmIssues...)
		}
	}

	if v.sandbox != nil {
		sandboxIssues, err := v.sandbox.Build(ctx, files)
		if err != nil {
			v.mu.RLock()
			terminal := v.sandboxFailsAreTerminal
			v.mu.RUnlock()
			if terminal {
				return domain.ValidationResult{}, domain.NewDomainError(domain.ErrCodeSandboxFailed, "sandbox build failed", err)
			}
			issues = append(issues, domain.ValidationIssue{
				Kind:     domain.IssueKindSandbox,
				Severity: domain.SeverityError,
				Message:  fmt.Sprintf("sandbox build failed: %v", err),
			})
		} else {
			issues = append(issues, sandboxIssues...)
		}
	}

	score := scoreFrom(issues)
	result := domain.ValidationResult{Score: score, Issues: issues}

	if optimistic && len(result.Errors()) == 0 {
		result.Score = maxScore
		return result, nil
	}
	return result, nil
}

// ensembleConfidenceFloor is spec.md §4.7's minimum reconciliation
// confidence an ensemble strategy's result must clear, on top of the
// usual score and error gates, before it can be accepted.
const ensembleConfidenceFloor = 0.7

// Accepted reports whether result clears acceptance: zero remaining
// error-severity issues, the configured minimum score (skipped for an
// optimistic strategy, which already enforces the zero-errors gate at
// Validate time), and, when the result came from an ensemble strategy,
// a reconciliation confidence of at least ensembleConfidenceFloor, per
// spec.md §4.7.
func (v *Validator) Accepted(result domain.ValidationResult, confidence float64, ensemble, optimistic bool) bool {
	if len(result.Errors()) > 0 {
		return false
	}
	if optimistic {
		return true
	}
	v.mu.RLock()
	minScore := v.minScore
	v.mu.RUnlock()
	if result.Score < minScore {
		return false
	}
	if ensemble && confidence < ensembleConfidenceFloor {
		return false
	}
	return true
}

func (v *Validator) runRules(files []domain.GeneratedFile) []domain.ValidationIssue {
	var issues []domain.ValidationIssue
	for _, f := range files {
		facts := map[string]any{
			"Path":      f.Path,
			"Content":   f.Content,
			"LineCount": strings.Count(f.Content, "\n") + 1,
			"HasTODO":   strings.Contains(f.Content, "TODO"),
			"IsEmpty":   strings.TrimSpace(f.Content) == "",
		}
		for _, r := range v.rules {
			ok, err := v.evalRule(r, facts)
			if err != nil {
				continue
			}
			if !ok {
				issues = append(issues, domain.ValidationIssue{
					Kind:     domain.IssueKindRule,
					Severity: r.Severity,
					Message:  fmt.Sprintf("%s: %s", r.Name, r.Message),
					File:     f.Path,
				})
			}
		}
	}
	return issues
}

func (v *Validator) evalRule(r Rule, facts map[string]any) (bool, error) {
	v.mu.RLock()
	program, cached := v.compiled[r.Condition]
	v.mu.RUnlock()

	if !cached {
		compiled, err := expr.Compile(r.Condition, expr.AsBool())
		if err != nil {
			return false, err
		}
		v.mu.Lock()
		v.compiled[r.Condition] = compiled
		v.mu.Unlock()
		program = compiled
	}

	out, err := expr.Run(program, facts)
	if err != nil {
		return false, err
	}
	result, ok := out.(bool)
	if !ok {
		return false, domain.NewDomainError(domain.ErrCodeValidationFailed, "rule condition did not evaluate to a boolean", nil)
	}
	return result, nil
}

// maxScore is the top of spec.md §3/§8's 0-10 validation score scale.
const maxScore = 10.0

// scoreFrom derives a 0..10 score from the weighted absence of issues: an
// error-severity issue costs more than a warning, and the score floors at
// 0 rather than going negative.
func scoreFrom(issues []domain.ValidationIssue) float64 {
	score := maxScore
	for _, i := range issues {
		switch i.Severity {
		case domain.SeverityError:
			score -= 2.5
		case domain.SeverityWarning:
			score -= 0.5
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}
