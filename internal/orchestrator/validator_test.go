package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
)

type stubLLMReviewer struct {
	issues []domain.ValidationIssue
	err    error
}

func (s *stubLLMReviewer) Review(ctx context.Context, files []domain.GeneratedFile) ([]domain.ValidationIssue, error) {
	return s.issues, s.err
}

type stubImportChecker struct{ issues []domain.ValidationIssue }

func (s *stubImportChecker) Check(files []domain.GeneratedFile) []domain.ValidationIssue {
	return s.issues
}

type stubSandboxRunner struct {
	issues []domain.ValidationIssue
	err    error
}

func (s *stubSandboxRunner) Build(ctx context.Context, files []domain.GeneratedFile) ([]domain.ValidationIssue, error) {
	return s.issues, s.err
}

func TestValidator_ValidateEmptyFileFailsNonEmptyRule(t *testing.T) {
	v := NewValidator(9, nil, nil, nil)
	result, err := v.Validate(context.Background(), []domain.GeneratedFile{{Path: "a.go", Content: "   "}}, false)
	require.NoError(t, err)
	require.Len(t, result.Errors(), 1)
	assert.Contains(t, result.Errors()[0].Message, "non-empty")
}

func TestValidator_ValidateTODOIsWarningOnly(t *testing.T) {
	v := NewValidator(9, nil, nil, nil)
	result, err := v.Validate(context.Background(), []domain.GeneratedFile{{Path: "a.go", Content: "// TODO: finish this\npackage a"}}, false)
	require.NoError(t, err)
	assert.Empty(t, result.Errors())
	assert.Equal(t, 9.5, result.Score)
}

func TestValidator_ValidateCleanFileScoresMax(t *testing.T) {
	v := NewValidator(9, nil, nil, nil)
	result, err := v.Validate(context.Background(), []domain.GeneratedFile{{Path: "a.go", Content: "package a\n"}}, false)
	require.NoError(t, err)
	assert.Equal(t, 10.0, result.Score)
	assert.Empty(t, result.Issues)
}

func TestValidator_LLMReviewerErrorDemotesToWarning(t *testing.T) {
	v := NewValidator(9, &stubLLMReviewer{err: errors.New("llm unreachable")}, nil, nil)
	result, err := v.Validate(context.Background(), []domain.GeneratedFile{{Path: "a.go", Content: "package a\n"}}, false)
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, domain.SeverityWarning, result.Issues[0].Severity)
	assert.Contains(t, result.Issues[0].Message, "llm review unavailable")
}

func TestValidator_ImportCheckerIssuesAreIncluded(t *testing.T) {
	v := NewValidator(9, nil, &stubImportChecker{issues: []domain.ValidationIssue{
		{Kind: domain.IssueKindImport, Severity: domain.SeverityError, Message: "unknown import"},
	}}, nil)
	result, err := v.Validate(context.Background(), []domain.GeneratedFile{{Path: "a.go", Content: "package a\n"}}, false)
	require.NoError(t, err)
	require.Len(t, result.Errors(), 1)
}

func TestValidator_SandboxFailureDemotedToIssueByDefault(t *testing.T) {
	v := NewValidator(9, nil, nil, &stubSandboxRunner{err: errors.New("build failed: exit 1")})
	result, err := v.Validate(context.Background(), []domain.GeneratedFile{{Path: "a.go", Content: "package a\n"}}, false)
	require.NoError(t, err)
	require.Len(t, result.Errors(), 1)
	assert.Contains(t, result.Errors()[0].Message, "sandbox build failed")
}

func TestValidator_SandboxFailureTerminalWhenConfigured(t *testing.T) {
	v := NewValidator(9, nil, nil, &stubSandboxRunner{err: errors.New("build failed")})
	v.SetSandboxFailuresTerminal(true)

	_, err := v.Validate(context.Background(), []domain.GeneratedFile{{Path: "a.go", Content: "package a\n"}}, false)
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeSandboxFailed, domain.CodeOf(err))
}

func TestValidator_OptimisticOverridesScoreWhenNoErrors(t *testing.T) {
	v := NewValidator(9, nil, nil, nil)
	result, err := v.Validate(context.Background(), []domain.GeneratedFile{{Path: "a.go", Content: "// TODO\npackage a"}}, true)
	require.NoError(t, err)
	assert.Equal(t, 10.0, result.Score)
}

func TestValidator_OptimisticDoesNotOverrideWithErrors(t *testing.T) {
	v := NewValidator(9, nil, nil, nil)
	result, err := v.Validate(context.Background(), []domain.GeneratedFile{{Path: "a.go", Content: "   "}}, true)
	require.NoError(t, err)
	assert.Less(t, result.Score, 10.0)
}

func TestValidator_AcceptedNonOptimisticUsesMinScore(t *testing.T) {
	v := NewValidator(9, nil, nil, nil)
	assert.True(t, v.Accepted(domain.ValidationResult{Score: 9.5}, 1.0, false, false))
	assert.False(t, v.Accepted(domain.ValidationResult{Score: 5}, 1.0, false, false))
}

func TestValidator_AcceptedRejectsRemainingErrorsRegardlessOfScore(t *testing.T) {
	v := NewValidator(9, nil, nil, nil)
	result := domain.ValidationResult{Score: 9.9, Issues: []domain.ValidationIssue{{Severity: domain.SeverityError}}}
	assert.False(t, v.Accepted(result, 1.0, false, false))
}

func TestValidator_AcceptedGatesOnConfidenceForEnsembleStrategies(t *testing.T) {
	v := NewValidator(9, nil, nil, nil)
	result := domain.ValidationResult{Score: 9.5}
	assert.False(t, v.Accepted(result, 0.5, true, false))
	assert.True(t, v.Accepted(result, 0.7, true, false))
}

func TestValidator_AcceptedIgnoresConfidenceWhenNotEnsemble(t *testing.T) {
	v := NewValidator(9, nil, nil, nil)
	result := domain.ValidationResult{Score: 9.5}
	assert.True(t, v.Accepted(result, 0.1, false, false))
}

func TestValidator_AcceptedOptimisticIgnoresScore(t *testing.T) {
	v := NewValidator(9, nil, nil, nil)
	assert.True(t, v.Accepted(domain.ValidationResult{Score: 1}, 1.0, false, true))
	assert.False(t, v.Accepted(domain.ValidationResult{
		Score:  9.9,
		Issues: []domain.ValidationIssue{{Severity: domain.SeverityError}},
	}, 1.0, false, true))
}

func TestValidator_AddRuleExtendsDefaults(t *testing.T) {
	v := NewValidator(9, nil, nil, nil)
	v.AddRule(Rule{
		Name:      "max-lines",
		Condition: "LineCount < 3",
		Severity:  domain.SeverityError,
		Message:   "file too long",
	})

	result, err := v.Validate(context.Background(), []domain.GeneratedFile{{Path: "a.go", Content: "a\nb\nc\nd\n"}}, false)
	require.NoError(t, err)
	require.NotEmpty(t, result.Errors())
}

func TestScoreFrom_FloorsAtZero(t *testing.T) {
	issues := make([]domain.ValidationIssue, 10)
	for i := range issues {
		issues[i] = domain.ValidationIssue{Severity: domain.SeverityError}
	}
	assert.Equal(t, 0.0, scoreFrom(issues))
}
