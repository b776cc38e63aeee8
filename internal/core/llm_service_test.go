package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newGeminiServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestLLMService(t *testing.T, endpoint string, timeout time.Duration) *LLMService {
	t.Helper()
	svc, err := NewLLMService(context.Background(), "test-key", "", timeout, option.WithEndpoint(endpoint))
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func TestNewLLMServiceRequiresKey(t *testing.T) {
	_, err := NewLLMService(context.Background(), "  ", "", time.Second)
	assert.ErrorIs(t, err, ErrLLMNotConfigured)
}

func TestLLMServiceGenerate(t *testing.T) {
	var gotKey, gotPath string
	srv, _ := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		if gotKey == "" {
			gotKey = r.Header.Get("X-Goog-Api-Key")
		}
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"2019-20\": \"10\"}"}]}}]}`))
	})
	svc := newTestLLMService(t, srv.URL, 5*time.Second)

	out, err := svc.Generate(context.Background(), GenerateRequest{Prompt: "turnover", MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, `{"2019-20": "10"}`, out)
	assert.Equal(t, "test-key", gotKey)
	assert.True(t, strings.HasSuffix(gotPath, ":generateContent"), gotPath)
}

func TestLLMServiceReportsUnavailableWithoutRetrying(t *testing.T) {
	srv, calls := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":503,"message":"The model is overloaded.","status":"UNAVAILABLE"}}`))
	})
	svc := newTestLLMService(t, srv.URL, 30*time.Second)

	start := time.Now()
	_, err := svc.Generate(context.Background(), GenerateRequest{Prompt: "turnover"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationUnavailable)
	assert.Equal(t, int32(1), calls.Load())
	assert.Less(t, time.Since(start), 5*time.Second)

	x := extraction{genErr: err}
	assert.Equal(t, ErrGenerationUnavailable.Error(), x.notice())
}

func TestLLMServiceTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv, _ := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	// The client leaves the request open after its deadline; unblock the
	// handler before srv.Close waits on it.
	t.Cleanup(func() { close(release) })
	svc := newTestLLMService(t, srv.URL, 100*time.Millisecond)

	_, err := svc.Generate(context.Background(), GenerateRequest{Prompt: "turnover"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrGenerationUnavailable)
}

func TestLLMServiceKeepsClientErrors(t *testing.T) {
	srv, calls := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid.","status":"INVALID_ARGUMENT"}}`))
	})
	svc := newTestLLMService(t, srv.URL, 5*time.Second)

	_, err := svc.Generate(context.Background(), GenerateRequest{Prompt: "turnover"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.NotErrorIs(t, err, ErrGenerationUnavailable)
	assert.Contains(t, err.Error(), "API key not valid")
	assert.Equal(t, int32(1), calls.Load())
}
