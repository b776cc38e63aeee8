// Package backend is the client of the bid document service: semantic
// search over a bid's pages, LLM generation, and bid metadata.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"procura.dev/bid-workbench/internal/core"
	"procura.dev/bid-workbench/internal/store"
)

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: backend returned HTTP %d: %s", e.Op, e.Status, e.Body)
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps requests per second. Zero or less disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetries sets how many times a transient failure is attempted in total.
func WithRetries(attempts int, backoff time.Duration) Option {
	return func(c *Client) {
		if attempts < 1 {
			attempts = 1
		}
		c.attempts = attempts
		c.backoff = backoff
	}
}

// Client implements core.SearchAdapter, core.GenerationAdapter and
// core.BidDirectory over the backend's REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	attempts   int
	backoff    time.Duration
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(10, 10),
		attempts:   3,
		backoff:    500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchRequest struct {
	Query    string `json:"query"`
	NResults int    `json:"n_results"`
}

type searchResult struct {
	DocumentID      string       `json:"document_id"`
	DocumentName    string       `json:"document_name"`
	PageNo          store.PageNo `json:"page_no"`
	Content         string       `json:"content"`
	SemanticMeaning string       `json:"semantic_meaning"`
	SimilarityScore *float64     `json:"similarity_score"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

// Search runs a semantic query over the pages of one bid. Returned
// passages keep the backend's 0-indexed page.
func (c *Client) Search(ctx context.Context, documentID, query string, maxResults int) ([]core.Passage, error) {
	var resp searchResponse
	path := "/bids/" + url.PathEscape(documentID) + "/search"
	if err := c.do(ctx, "search", http.MethodPost, path, searchRequest{Query: query, NResults: maxResults}, &resp); err != nil {
		return nil, eris.Wrap(core.ErrSearchFailed, err.Error())
	}
	passages := make([]core.Passage, 0, len(resp.Results))
	for _, r := range resp.Results {
		passages = append(passages, core.Passage{
			DocumentID:      r.DocumentID,
			DocumentName:    r.DocumentName,
			PageIndex:       int(r.PageNo),
			Content:         r.Content,
			SemanticSummary: r.SemanticMeaning,
			SimilarityScore: r.SimilarityScore,
		})
	}
	return passages, nil
}

type generateRequest struct {
	Provider  string `json:"provider"`
	APIKey    string `json:"api_key"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate asks the backend's LLM endpoint for a completion. HTTP 503 is
// reported as core.ErrGenerationUnavailable.
func (c *Client) Generate(ctx context.Context, req core.GenerateRequest) (string, error) {
	var resp generateResponse
	err := c.do(ctx, "generate", http.MethodPost, "/llm/generate", generateRequest{
		Provider:  req.Provider,
		APIKey:    req.APIKey,
		Prompt:    req.Prompt,
		MaxTokens: req.MaxTokens,
	}, &resp)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Status == http.StatusServiceUnavailable {
			return "", core.ErrGenerationUnavailable
		}
		return "", eris.Wrap(core.ErrGenerationFailed, err.Error())
	}
	return resp.Response, nil
}

// GetBid returns the bid's name and tender.
func (c *Client) GetBid(ctx context.Context, bidID string) (*core.BidInfo, error) {
	var info core.BidInfo
	if err := c.do(ctx, "get bid", http.MethodGet, "/bids/"+url.PathEscape(bidID), nil, &info); err != nil {
		return nil, err
	}
	if info.BidID == "" {
		info.BidID = bidID
	}
	return &info, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return eris.Wrapf(err, "%s: encode request", op)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			wait := c.backoff * time.Duration(1<<(attempt-2))
			zap.L().Debug("retrying backend request", zap.String("op", op), zap.Int("attempt", attempt), zap.Duration("wait", wait))
			select {
			case <-ctx.Done():
				return eris.Wrap(ctx.Err(), op)
			case <-time.After(wait):
			}
		}
		err := c.once(ctx, op, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			break
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, op, method, path string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrapf(err, "%s: rate limiter", op)
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return eris.Wrapf(err, "%s: build request", op)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transportError{err: eris.Wrapf(err, "%s: request failed", op)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrapf(err, "%s: decode response", op)
	}
	return nil
}

type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// retryable reports transient failures: network errors and gateway
// errors. 503 is left to the caller, which shows a retry hint instead.
func retryable(err error) bool {
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == http.StatusBadGateway || se.Status == http.StatusGatewayTimeout
	}
	return false
}
