package core

import (
	"context"

	"procura.dev/bid-workbench/internal/store"
)

// SearchAdapter runs a retrieval query against one bid document. Returned
// passages carry the backend's 0-indexed page.
type SearchAdapter interface {
	Search(ctx context.Context, documentID, query string, maxResults int) ([]Passage, error)
}

type GenerateRequest struct {
	Provider  string
	APIKey    string
	Prompt    string
	MaxTokens int
}

// GenerationAdapter produces text for a prompt. An HTTP 503 from the
// provider is reported as ErrGenerationUnavailable.
type GenerationAdapter interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// PersistenceAdapter loads and replaces the whole evaluation document of
// one bid.
type PersistenceAdapter interface {
	Load(ctx context.Context) (*store.Document, error)
	Save(ctx context.Context, doc *store.Document) error
}

// PageSource returns the text layer of a 1-indexed page of the bid document.
type PageSource interface {
	PageText(ctx context.Context, page int) (string, error)
}

// BidInfo is what the backend knows about a bid.
type BidInfo struct {
	BidID    string `json:"bid_id"`
	BidName  string `json:"bid_name"`
	TenderID string `json:"tender_id"`
}

// BidDirectory looks bids up in the backend.
type BidDirectory interface {
	GetBid(ctx context.Context, bidID string) (*BidInfo, error)
}

// LLMSettings selects the provider used for extraction prompts.
type LLMSettings struct {
	Provider  string
	APIKey    string
	MaxTokens int
}
