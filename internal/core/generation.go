package core

import (
	"context"
	"strings"
)

const ProviderGemini = "gemini"

// GenerationRouter sends Gemini requests to a direct client when one is
// configured and everything else to the backend's generation endpoint.
type GenerationRouter struct {
	Direct  GenerationAdapter
	Backend GenerationAdapter
}

func (r *GenerationRouter) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if strings.EqualFold(req.Provider, ProviderGemini) && r.Direct != nil {
		return r.Direct.Generate(ctx, req)
	}
	if r.Backend == nil {
		return "", ErrLLMNotConfigured
	}
	return r.Backend.Generate(ctx, req)
}
