package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultGeminiModel   = "gemini-1.5-flash-latest"
	defaultGeminiTimeout = time.Minute

	extractionSystemInstruction = "You extract figures from tender bid documents for a procurement evaluation. " +
		"Only report values that appear in the provided excerpts. " +
		"Answer with the requested JSON object and nothing else."
)

// LLMService talks to Gemini directly, for deployments that do not route
// generation through the backend.
type LLMService struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewLLMService builds a Gemini client. Each Generate call is bounded by
// timeout. Extra options (an endpoint, for instance) are passed to the client.
func NewLLMService(ctx context.Context, apiKey, model string, timeout time.Duration, opts ...option.ClientOption) (*LLMService, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrLLMNotConfigured
	}
	if model == "" {
		model = defaultGeminiModel
	}
	if timeout <= 0 {
		timeout = defaultGeminiTimeout
	}

	base, err := htransport.NewTransport(ctx, http.DefaultTransport, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, eris.Wrap(err, "failed to create GenAI transport")
	}
	clientOpts := append([]option.ClientOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Transport: unavailableTransport{base: base}}),
	}, opts...)
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "failed to create GenAI client")
	}
	return &LLMService{client: client, model: model, timeout: timeout}, nil
}

// unavailableTransport fails a request answered with 503 before the client's
// retry policy sees it, so an overloaded model is reported at once.
type unavailableTransport struct {
	base http.RoundTripper
}

func (t unavailableTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		resp.Body.Close()
		return nil, ErrGenerationUnavailable
	}
	return resp, nil
}

// generationError keeps the client's error chain and maps an unavailable
// model to ErrGenerationUnavailable.
func generationError(err error) error {
	if errors.Is(err, ErrGenerationUnavailable) {
		return eris.Wrap(err, "gemini request failed")
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusServiceUnavailable {
		return eris.Wrap(ErrGenerationUnavailable, gerr.Message)
	}
	if st, ok := status.FromError(err); ok && st.Code() == codes.Unavailable {
		return eris.Wrap(ErrGenerationUnavailable, st.Message())
	}
	return eris.Wrap(errors.Join(ErrGenerationFailed, err), "gemini request failed")
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			zap.L().Warn("error closing GenAI client", zap.Error(err))
		} else {
			zap.L().Debug("GenAI client closed")
		}
	}
}

// Generate implements GenerationAdapter. The request's API key is ignored;
// the client was built with its own.
func (s *LLMService) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	model := s.client.GenerativeModel(s.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(extractionSystemInstruction)},
	}

	temp := float32(0)
	maxTokens := int32(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temp,
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", generationError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", eris.Wrap(ErrGenerationFailed, "gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		} else {
			zap.L().Debug("gemini response part was not text", zap.String("type", fmt.Sprintf("%T", part)))
		}
	}
	if text.Len() == 0 {
		return "", eris.Wrap(ErrGenerationFailed, "gemini returned an empty response")
	}
	return text.String(), nil
}
