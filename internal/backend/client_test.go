package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procura.dev/bid-workbench/internal/core"
)

func newTestClient(url string) *Client {
	return NewClient(url, WithRateLimit(0), WithRetries(3, time.Millisecond))
}

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/bids/bid-42/search", r.URL.Path)
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Annual turnover for Abhiraj certified by CA", req.Query)
		assert.Equal(t, 10, req.NResults)
		_, _ = w.Write([]byte(`{"results":[
			{"document_id":"d1","page_no":"4","content":"Turnover 2022-23: 100","semantic_meaning":"turnover","similarity_score":0.91},
			{"document_id":"d1","page_no":12,"content":"CA certificate"}
		]}`))
	}))
	defer srv.Close()

	passages, err := newTestClient(srv.URL).Search(context.Background(), "bid-42", "Annual turnover for Abhiraj certified by CA", 10)
	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.Equal(t, 4, passages[0].PageIndex)
	assert.Equal(t, 5, passages[0].PageNumber())
	require.NotNil(t, passages[0].SimilarityScore)
	assert.InDelta(t, 0.91, *passages[0].SimilarityScore, 1e-9)
	assert.Equal(t, 13, passages[1].PageNumber())
	assert.Nil(t, passages[1].SimilarityScore)
}

func TestSearchFailureIsSearchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Search(context.Background(), "bid-42", "q", 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrSearchFailed))
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/llm/generate", r.URL.Path)
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "cdac", req.Provider)
		assert.Equal(t, "secret", req.APIKey)
		assert.Equal(t, 1024, req.MaxTokens)
		_, _ = w.Write([]byte(`{"response":"{\"2022-23\": 100}"}`))
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL).Generate(context.Background(), core.GenerateRequest{
		Provider: "cdac", APIKey: "secret", Prompt: "p", MaxTokens: 1024,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"2022-23": 100}`, out)
}

func TestGenerateUnavailableIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Generate(context.Background(), core.GenerateRequest{Prompt: "p"})
	assert.ErrorIs(t, err, core.ErrGenerationUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGatewayErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"bid_id":"bid-42","bid_name":"Abhiraj and Shraddha J.V.","tender_id":"T-7"}`))
	}))
	defer srv.Close()

	info, err := newTestClient(srv.URL).GetBid(context.Background(), "bid-42")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "Abhiraj and Shraddha J.V.", info.BidName)
	assert.Equal(t, "T-7", info.TenderID)
}

func TestGetBidNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetBid(context.Background(), "missing")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Status)
}
