package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
	"github.com/smilemakc/codegen-orchestrator/internal/orchestrator"
)

// toolRecallAttempt and toolRecordAttempt name the memory service tools
// this client recognizes, invoked through the JSON-RPC "tools/call"
// method per spec.md §6.
const (
	toolRecallAttempt = "recall_attempt_context"
	toolRecordAttempt = "record_attempt"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("memory service error %d: %s", e.Code, e.Message) }

// MemoryClient is a JSON-RPC 2.0 client over the external memory
// service's single /call endpoint, implementing both
// orchestrator.MemoryService (recall) and learning.MemoryWriter (record).
// Per spec.md §9, the memory service is an optional collaborator: a nil
// or unreachable MemoryClient must never block or fail a Job, so every
// method here returns a plain error for the caller to log and ignore
// rather than panicking or retrying indefinitely.
type MemoryClient struct {
	baseURL string
	http    *http.Client
	nextID  atomic.Int64
}

// NewMemoryClient builds a client against baseURL (the memory service's
// JSON-RPC endpoint root, e.g. "http://localhost:8765").
func NewMemoryClient(baseURL string, httpClient *http.Client) *MemoryClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &MemoryClient{baseURL: baseURL, http: httpClient}
}

type toolCallParams struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
}

type recallResult struct {
	Snippets []string `json:"snippets"`
}

// Recall implements orchestrator.MemoryService.
func (c *MemoryClient) Recall(ctx context.Context, prompt string) (orchestrator.MemoryContext, error) {
	var out recallResult
	if err := c.call(ctx, toolRecallAttempt, map[string]any{"prompt": prompt}, &out); err != nil {
		return orchestrator.MemoryContext{}, err
	}
	return orchestrator.MemoryContext{Snippets: out.Snippets}, nil
}

// Record implements learning.MemoryWriter.
func (c *MemoryClient) Record(ctx context.Context, jobID string, attempt domain.Attempt) error {
	return c.call(ctx, toolRecordAttempt, map[string]any{
		"job_id":   jobID,
		"model":    attempt.Model,
		"outcome":  attempt.Outcome,
		"score":    attempt.Result.Score,
		"duration": attempt.Duration().String(),
	}, nil)
}

func (c *MemoryClient) call(ctx context.Context, tool string, args any, out any) error {
	params, err := json.Marshal(toolCallParams{Name: tool, Arguments: args})
	if err != nil {
		return domain.NewDomainError(domain.ErrCodeConfiguration, "failed to encode memory service call", err)
	}

	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  "tools/call",
		Params:  params,
	})
	if err != nil {
		return domain.NewDomainError(domain.ErrCodeConfiguration, "failed to encode rpc envelope", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/call", bytes.NewReader(reqBody))
	if err != nil {
		return domain.NewDomainError(domain.ErrCodeConfiguration, "failed to build memory service request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.NewDomainError(domain.ErrCodeMemoryServiceUnavailable, "memory service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.NewDomainError(domain.ErrCodeMemoryServiceUnavailable, fmt.Sprintf("memory service returned status %d", resp.StatusCode), nil)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return domain.NewDomainError(domain.ErrCodeBackendMalformed, "malformed memory service response", err)
	}
	if rpcResp.Error != nil {
		return domain.NewDomainError(domain.ErrCodeMemoryServiceUnavailable, rpcResp.Error.Error(), nil)
	}
	if out != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return domain.NewDomainError(domain.ErrCodeBackendMalformed, "failed to decode memory service result", err)
		}
	}
	return nil
}
