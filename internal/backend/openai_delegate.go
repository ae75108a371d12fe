package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
	"github.com/smilemakc/codegen-orchestrator/internal/utils"
)

// OpenAIDelegate is the optional LLM review layer and model-selection
// delegate, grounded on the teacher's OpenAICompletionExecutor
// (internal/application/executor/node_executors.go): API key resolution
// order (explicit key, then the OPENAI_API_KEY environment variable),
// request construction, and retryable-error wrapping. It is kept
// separate from the pinned Ollama-shaped InferenceClient per spec.md §6,
// since not every deployment has an OpenAI-compatible endpoint fronting
// its backend.
type OpenAIDelegate struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAIDelegate builds a delegate against apiKey (or, if empty,
// resolved from OPENAI_API_KEY), pointed at baseURL if the deployment
// fronts an OpenAI-compatible endpoint other than api.openai.com.
func NewOpenAIDelegate(apiKey, baseURL, defaultModel string) *OpenAIDelegate {
	key := resolveAPIKey(apiKey)
	cfg := openai.DefaultConfig(key)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	defaultModel = utils.DefaultValue(defaultModel, "gpt-4o")
	return &OpenAIDelegate{client: openai.NewClientWithConfig(cfg), defaultModel: defaultModel}
}

func resolveAPIKey(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		return v
	}
	return ""
}

const reviewSystemPrompt = `You review generated source files for correctness issues.
Respond with a JSON array of objects: {"file": string, "line": int, "severity": "error"|"warning"|"info", "message": string}.
Respond with an empty array if you find nothing worth flagging.`

// Review implements orchestrator.LLMReviewer.
func (d *OpenAIDelegate) Review(ctx context.Context, files []domain.GeneratedFile) ([]domain.ValidationIssue, error) {
	var b strings.Builder
	for _, f := range files {
		fmt.Fprintf(&b, "--- %s ---\n%s\n", f.Path, f.Content)
	}

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       d.defaultModel,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: reviewSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: b.String()},
		},
	})
	if err != nil {
		return nil, domain.NewRetryableError(domain.ErrCodeBackendTimeout, "llm review call failed", err)
	}
	if len(resp.Choices) == 0 {
		return nil, domain.NewDomainError(domain.ErrCodeBackendMalformed, "llm review returned no choices", nil)
	}

	var raw []struct {
		File     string `json:"file"`
		Line     int    `json:"line"`
		Severity string `json:"severity"`
		Message  string `json:"message"`
	}
	content := extractJSONArray(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, domain.NewDomainError(domain.ErrCodeParseFailed, "llm review response was not valid JSON", err)
	}

	issues := make([]domain.ValidationIssue, 0, len(raw))
	for _, r := range raw {
		sev := domain.SeverityInfo
		switch r.Severity {
		case "error":
			sev = domain.SeverityError
		case "warning":
			sev = domain.SeverityWarning
		}
		issues = append(issues, domain.ValidationIssue{
			Kind:     domain.IssueKindLLM,
			Severity: sev,
			Message:  r.Message,
			File:     r.File,
			Line:     r.Line,
		})
	}
	return issues, nil
}

// SuggestCategory implements the optional "LLM selector" delegate named in
// spec.md §4.3 step 3: asking a general-purpose model to name the best
// category for a prompt, when the caller has not already inferred one.
func (d *OpenAIDelegate) SuggestCategory(ctx context.Context, prompt string) (domain.ModelCategory, error) {
	deadline, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	resp, err := d.client.CreateChatCompletion(deadline, openai.ChatCompletionRequest{
		Model:       d.defaultModel,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "Classify the task as exactly one word: code, reasoning, vision, embedding, or general."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", domain.NewRetryableError(domain.ErrCodeBackendTimeout, "llm category suggestion failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.NewDomainError(domain.ErrCodeBackendMalformed, "llm category suggestion returned no choices", nil)
	}

	word := strings.ToLower(strings.TrimSpace(resp.Choices[0].Message.Content))
	switch domain.ModelCategory(word) {
	case domain.ModelCategoryCode, domain.ModelCategoryReasoning, domain.ModelCategoryVision, domain.ModelCategoryEmbedding, domain.ModelCategoryGeneral:
		return domain.ModelCategory(word), nil
	default:
		return domain.ModelCategoryGeneral, nil
	}
}

// extractJSONArray trims any prose or code-fence wrapping a model might
// have added around the JSON array it was asked to return.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end == -1 || end < start {
		return "[]"
	}
	return s[start : end+1]
}
