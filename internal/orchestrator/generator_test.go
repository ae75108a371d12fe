package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
)

type stubBackend struct {
	response string
	err      error
	lastCall string
}

func (s *stubBackend) Generate(ctx context.Context, model, prompt string) (string, error) {
	s.lastCall = prompt
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

type stubMemory struct {
	ctx MemoryContext
	err error
}

func (s *stubMemory) Recall(ctx context.Context, prompt string) (MemoryContext, error) {
	return s.ctx, s.err
}

func TestGenerator_GenerateParsesFencedFiles(t *testing.T) {
	backend := &stubBackend{response: "some preamble\n```main.go\npackage main\n```\n"}
	g := NewGenerator(backend, nil)

	files, err := g.Generate(context.Background(), domain.Model{Name: "coder"}, "write hello world", nil)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "main.go", files[0].Path)
	assert.Equal(t, "package main\n", files[0].Content)
}

func TestGenerator_GenerateNoFencesIsParseFailed(t *testing.T) {
	backend := &stubBackend{response: "I refuse to write code today."}
	g := NewGenerator(backend, nil)

	_, err := g.Generate(context.Background(), domain.Model{Name: "coder"}, "prompt", nil)
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeParseFailed, domain.CodeOf(err))
}

func TestGenerator_GenerateWrapsBackendErrorAsRetryable(t *testing.T) {
	backend := &stubBackend{err: errors.New("connection refused")}
	g := NewGenerator(backend, nil)

	_, err := g.Generate(context.Background(), domain.Model{Name: "coder"}, "prompt", nil)
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeBackendTimeout, domain.CodeOf(err))
	assert.True(t, domain.IsRetryable(err))
}

func TestGenerator_ComposeFoldsMemoryAndFeedback(t *testing.T) {
	backend := &stubBackend{response: "```f.go\nx\n```"}
	memory := &stubMemory{ctx: MemoryContext{Snippets: []string{"use context.Context everywhere"}}}
	g := NewGenerator(backend, memory)

	feedback := []domain.ValidationIssue{{Message: "missing error handling"}}
	_, err := g.Generate(context.Background(), domain.Model{Name: "coder"}, "write a handler", feedback)
	require.NoError(t, err)

	assert.Contains(t, backend.lastCall, "use context.Context everywhere")
	assert.Contains(t, backend.lastCall, "missing error handling")
	assert.Contains(t, backend.lastCall, "write a handler")
}

func TestGenerator_ComposeIgnoresMemoryErrors(t *testing.T) {
	backend := &stubBackend{response: "```f.go\nx\n```"}
	memory := &stubMemory{err: errors.New("memory service unreachable")}
	g := NewGenerator(backend, memory)

	_, err := g.Generate(context.Background(), domain.Model{Name: "coder"}, "prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, "prompt", backend.lastCall)
}

func TestParseFences_SkipsUnlabeledFences(t *testing.T) {
	raw := "```\nanonymous block\n```\n```named.txt\nhello\n```"
	files := parseFences(raw)
	require.Len(t, files, 1)
	assert.Equal(t, "named.txt", files[0].Path)
}

func TestParseFences_MultipleFiles(t *testing.T) {
	raw := "```a.go\npackage a\n```\n```b.go\npackage b\n```"
	files := parseFences(raw)
	require.Len(t, files, 2)
	assert.Equal(t, "a.go", files[0].Path)
	assert.Equal(t, "b.go", files[1].Path)
}
