package orchestrator

import (
	"bufio"
	"context"
	"strings"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
)

// InferenceBackend is the pinned Ollama-shaped wire contract the
// Generator calls to produce raw completion text for a model, kept
// separate from the optional OpenAI-compatible selector delegate (see
// backend.OpenAIDelegate) per spec.md §6.
type InferenceBackend interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// MemoryContext is the retrieval result MemoryService.Recall returns:
// prior learning entries relevant to the current prompt, woven into the
// composed prompt ahead of generation.
type MemoryContext struct {
	Snippets []string
}

// MemoryService is the subset of the external memory service's JSON-RPC
// surface the Generator needs: contextual recall before generation.
// LearningRecorder (internal/learning) owns the write side.
type MemoryService interface {
	Recall(ctx context.Context, prompt string) (MemoryContext, error)
}

// Generator composes a prompt, calls the inference backend, and parses
// the response into a GeneratedFile set, per spec.md §4.5.
type Generator struct {
	backend InferenceBackend
	memory  MemoryService
}

// NewGenerator wires a Generator to its backend and memory service.
// memory may be nil, in which case recall is skipped (spec.md §9: the
// memory service degrades to a no-op collaborator, never blocking a job).
func NewGenerator(backend InferenceBackend, memory MemoryService) *Generator {
	return &Generator{backend: backend, memory: memory}
}

// Generate produces one set of GeneratedFiles for model against prompt,
// optionally folding in prior feedback from a rejected attempt.
func (g *Generator) Generate(ctx context.Context, model domain.Model, prompt string, feedback []domain.ValidationIssue) ([]domain.GeneratedFile, error) {
	composed := g.compose(ctx, prompt, feedback)

	raw, err := g.backend.Generate(ctx, model.Name, composed)
	if err != nil {
		return nil, domain.NewRetryableError(domain.ErrCodeBackendTimeout, "inference backend call failed", err)
	}

	files := parseFences(raw)
	if len(files) == 0 {
		return nil, domain.NewDomainError(domain.ErrCodeParseFailed, "backend response contained no fenced code blocks", nil)
	}
	return files, nil
}

func (g *Generator) compose(ctx context.Context, prompt string, feedback []domain.ValidationIssue) string {
	var b strings.Builder
	if g.memory != nil {
		if mc, err := g.memory.Recall(ctx, prompt); err == nil {
			for _, s := range mc.Snippets {
				b.WriteString("# prior learning: ")
				b.WriteString(s)
				b.WriteString("\n")
			}
		}
	}
	if len(feedback) > 0 {
		b.WriteString("# the previous attempt failed validation with:\n")
		for _, issue := range feedback {
			b.WriteString("# - ")
			b.WriteString(issue.Message)
			b.WriteString("\n")
		}
	}
	b.WriteString(prompt)
	return b.String()
}

// parseFences extracts ```path\ncontent``` fenced blocks from raw
// completion text. A fence whose info string is empty is skipped: the
// Generator only accepts files the model explicitly names.
func parseFences(raw string) []domain.GeneratedFile {
	var files []domain.GeneratedFile
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var inFence bool
	var path string
	var content strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if !inFence && strings.HasPrefix(trimmed, "```") {
			info := strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
			if info == "" {
				continue
			}
			path = info
			content.Reset()
			inFence = true
			continue
		}

		if inFence && trimmed == "```" {
			files = append(files, domain.GeneratedFile{Path: path, Content: content.String()})
			inFence = false
			continue
		}

		if inFence {
			content.WriteString(line)
			content.WriteString("\n")
		}
	}

	return files
}
