// Package backend implements the external-collaborator clients named in
// spec.md §6: the pinned inference backend HTTP contract, the memory
// service's JSON-RPC 2.0 surface, and the Sandbox build client.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
)

// idleChunkTimeout bounds how long InferenceClient.Generate waits between
// successive streamed chunks before treating the backend as hung, per
// spec.md §5's idle-chunk timeout for long-running generations.
const idleChunkTimeout = 90 * time.Second

// InferenceClient implements orchestrator.InferenceBackend against the
// pinned Ollama-shaped HTTP contract: GET /api/tags (models), GET /api/ps
// (running, for VRAM accounting), POST /api/generate (completion).
type InferenceClient struct {
	baseURL string
	http    *http.Client
}

// NewInferenceClient builds a client against baseURL (e.g.
// "http://localhost:11434").
func NewInferenceClient(baseURL string, httpClient *http.Client) *InferenceClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return &InferenceClient{baseURL: baseURL, http: httpClient}
}

type tagsResponse struct {
	Models []struct {
		Name       string `json:"name"`
		Size       int64  `json:"size"`
		Details    struct {
			ParameterSize string `json:"parameter_size"`
		} `json:"details"`
	} `json:"models"`
}

// ListModels polls GET /api/tags and returns the currently available
// model descriptors, for ModelRegistry refresh.
func (c *InferenceClient) ListModels(ctx context.Context) ([]domain.Model, error) {
	var out tagsResponse
	if err := c.getJSON(ctx, "/api/tags", &out); err != nil {
		return nil, err
	}
	models := make([]domain.Model, 0, len(out.Models))
	for _, m := range out.Models {
		models = append(models, domain.Model{Name: m.Name, SizeBytes: m.Size})
	}
	return models, nil
}

type runningResponse struct {
	Models []struct {
		Name          string `json:"name"`
		SizeVRAM      int64  `json:"size_vram"`
		Size          int64  `json:"size"`
	} `json:"models"`
}

// ListRunning polls GET /api/ps and returns per-device VRAM usage
// derived from currently loaded models, for VramBudget.Refresh. The
// pinned contract reports only aggregate loaded-model VRAM rather than
// per-device breakdown, so this client always reports the host as a
// single logical device (index 0) with totalVRAM as its capacity.
func (c *InferenceClient) ListRunning(ctx context.Context, totalVRAM int64) ([]domain.Device, error) {
	var out runningResponse
	if err := c.getJSON(ctx, "/api/ps", &out); err != nil {
		return nil, err
	}
	var used int64
	for _, m := range out.Models {
		used += m.SizeVRAM
	}
	return []domain.Device{{Index: 0, Name: "default", TotalVRAM: totalVRAM, UsedVRAM: used}}, nil
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate implements orchestrator.InferenceBackend: it streams
// POST /api/generate and concatenates response chunks, resetting an
// idle-chunk deadline on every chunk received so a backend that stalls
// mid-stream is surfaced as a retryable timeout rather than hanging
// forever.
func (c *InferenceClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Model: model, Prompt: prompt, Stream: true})
	if err != nil {
		return "", domain.NewDomainError(domain.ErrCodeConfiguration, "failed to encode generate request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", domain.NewDomainError(domain.ErrCodeConfiguration, "failed to build generate request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", domain.NewRetryableError(domain.ErrCodeBackendTimeout, "inference backend unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", domain.NewRetryableError(domain.ErrCodeBackendMalformed, fmt.Sprintf("inference backend returned status %d", resp.StatusCode), nil)
	}

	return readStream(ctx, resp.Body)
}

func readStream(ctx context.Context, body io.Reader) (string, error) {
	type result struct {
		text string
		err  error
	}
	chunks := make(chan result)
	go func() {
		defer close(chunks)
		dec := json.NewDecoder(body)
		for {
			var chunk generateChunk
			if err := dec.Decode(&chunk); err != nil {
				if err == io.EOF {
					return
				}
				chunks <- result{err: domain.NewDomainError(domain.ErrCodeBackendMalformed, "malformed generate stream chunk", err)}
				return
			}
			chunks <- result{text: chunk.Response}
			if chunk.Done {
				return
			}
		}
	}()

	var out bytes.Buffer
	timer := time.NewTimer(idleChunkTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", domain.NewDomainError(domain.ErrCodeCancelled, "generation cancelled", ctx.Err())
		case <-timer.C:
			return "", domain.NewRetryableError(domain.ErrCodeBackendTimeout, "no chunk received within idle timeout", nil)
		case r, ok := <-chunks:
			if !ok {
				return out.String(), nil
			}
			if r.err != nil {
				return "", r.err
			}
			out.WriteString(r.text)
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(idleChunkTimeout)
		}
	}
}

func (c *InferenceClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return domain.NewDomainError(domain.ErrCodeConfiguration, "failed to build request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return domain.NewRetryableError(domain.ErrCodeBackendTimeout, "inference backend unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.NewRetryableError(domain.ErrCodeBackendMalformed, fmt.Sprintf("unexpected status %d from %s", resp.StatusCode, path), nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewDomainError(domain.ErrCodeBackendMalformed, "failed to decode response", err)
	}
	return nil
}
