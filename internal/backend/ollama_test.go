package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
)

func TestInferenceClient_ListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models":[{"name":"qwen2.5-coder:7b","size":4000000000}]}`))
	}))
	defer srv.Close()

	c := NewInferenceClient(srv.URL, nil)
	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "qwen2.5-coder:7b", models[0].Name)
	assert.Equal(t, int64(4000000000), models[0].SizeBytes)
}

func TestInferenceClient_ListRunningAggregatesVRAM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ps", r.URL.Path)
		w.Write([]byte(`{"models":[{"name":"a","size_vram":1000},{"name":"b","size_vram":2000}]}`))
	}))
	defer srv.Close()

	c := NewInferenceClient(srv.URL, nil)
	devices, err := c.ListRunning(context.Background(), 8<<30)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, int64(3000), devices[0].UsedVRAM)
	assert.Equal(t, int64(8<<30), devices[0].TotalVRAM)
}

func TestInferenceClient_GenerateConcatenatesStreamChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		w.Write([]byte(`{"response":"package ","done":false}` + "\n"))
		w.Write([]byte(`{"response":"main","done":false}` + "\n"))
		w.Write([]byte(`{"response":"","done":true}` + "\n"))
	}))
	defer srv.Close()

	c := NewInferenceClient(srv.URL, nil)
	out, err := c.Generate(context.Background(), "coder", "write hello world")
	require.NoError(t, err)
	assert.Equal(t, "package main", out)
}

func TestInferenceClient_GenerateNonOKStatusIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewInferenceClient(srv.URL, nil)
	_, err := c.Generate(context.Background(), "coder", "prompt")
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeBackendMalformed, domain.CodeOf(err))
	assert.True(t, domain.IsRetryable(err))
}

func TestInferenceClient_GenerateCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"partial","done":false}` + "\n"))
		flusher, ok := w.(http.Flusher)
		if ok {
			flusher.Flush()
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := NewInferenceClient(srv.URL, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.Generate(ctx, "coder", "prompt")
		assert.Error(t, err)
	}()
	cancel()
	<-done
}

func TestInferenceClient_GetJSONUnreachableIsRetryable(t *testing.T) {
	c := NewInferenceClient("http://127.0.0.1:1", nil)
	_, err := c.ListModels(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}
