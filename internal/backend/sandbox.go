package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
)

// SandboxClient implements orchestrator.SandboxRunner against the
// external sandboxed build service named in spec.md §1/§4.7. Its
// internals (container runtime, toolchain selection) are explicitly out
// of scope per spec.md's Non-goals; this client only speaks the
// collaborator-facing shape: submit files, get back a pass/fail plus
// structured issues.
type SandboxClient struct {
	baseURL string
	http    *http.Client
}

// NewSandboxClient builds a client against the sandbox service's
// base URL.
func NewSandboxClient(baseURL string, httpClient *http.Client) *SandboxClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &SandboxClient{baseURL: baseURL, http: httpClient}
}

type sandboxBuildRequest struct {
	Files []sandboxFile `json:"files"`
}

type sandboxFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type sandboxBuildResponse struct {
	Success bool `json:"success"`
	Issues  []struct {
		File     string `json:"file"`
		Line     int    `json:"line"`
		Message  string `json:"message"`
		Severity string `json:"severity"`
	} `json:"issues"`
}

// Build implements orchestrator.SandboxRunner: it submits files for a
// build in the sandboxed environment and translates the response into
// ValidationIssues. A transport-level failure returns a
// *domain.DomainError with ErrCodeSandboxFailed; the caller (Validator)
// decides whether that's terminal per Open Question 3.
func (c *SandboxClient) Build(ctx context.Context, files []domain.GeneratedFile) ([]domain.ValidationIssue, error) {
	reqFiles := make([]sandboxFile, len(files))
	for i, f := range files {
		reqFiles[i] = sandboxFile{Path: f.Path, Content: f.Content}
	}

	body, err := json.Marshal(sandboxBuildRequest{Files: reqFiles})
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrCodeConfiguration, "failed to encode sandbox build request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/build", bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrCodeConfiguration, "failed to build sandbox request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrCodeSandboxFailed, "sandbox service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewDomainError(domain.ErrCodeSandboxFailed, fmt.Sprintf("sandbox service returned status %d", resp.StatusCode), nil)
	}

	var out sandboxBuildResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.NewDomainError(domain.ErrCodeBackendMalformed, "malformed sandbox build response", err)
	}

	issues := make([]domain.ValidationIssue, 0, len(out.Issues))
	for _, i := range out.Issues {
		sev := domain.SeverityError
		switch i.Severity {
		case "warning":
			sev = domain.SeverityWarning
		case "info":
			sev = domain.SeverityInfo
		}
		issues = append(issues, domain.ValidationIssue{
			Kind:     domain.IssueKindSandbox,
			Severity: sev,
			Message:  i.Message,
			File:     i.File,
			Line:     i.Line,
		})
	}

	if !out.Success && len(issues) == 0 {
		issues = append(issues, domain.ValidationIssue{
			Kind:     domain.IssueKindSandbox,
			Severity: domain.SeverityError,
			Message:  "sandbox build failed with no structured issues reported",
		})
	}

	return issues, nil
}
