package store

import (
	"context"

	"github.com/rotisserie/eris"
)

var (
	// ErrDocumentNotFound is returned by Load when a bid has never been saved.
	ErrDocumentNotFound = eris.New("evaluation document not found")
	// ErrMalformedDocument is returned by Load when the stored body is not a document.
	ErrMalformedDocument = eris.New("evaluation document is malformed")
)

// DocumentStore persists one evaluation document per bid with
// last-writer-wins semantics.
type DocumentStore interface {
	Load(ctx context.Context, bidID string) (*Document, error)
	Save(ctx context.Context, doc *Document) error
	Reset(ctx context.Context, bidID string) error
	ListBids(ctx context.Context) ([]string, error)
	Close() error
}

// Open builds the store selected by driver: "sqlite" uses databaseURL,
// "file" keeps one JSON document per bid under dataDir.
func Open(driver, databaseURL, dataDir string) (DocumentStore, error) {
	switch driver {
	case "", "sqlite":
		s, err := NewSQLiteStore(databaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "file":
		s, err := NewFileStore(dataDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("unknown store driver %q", driver)
	}
}

// BidDocument binds a DocumentStore to a single bid.
type BidDocument struct {
	store DocumentStore
	bidID string
}

func ForBid(ds DocumentStore, bidID string) *BidDocument {
	return &BidDocument{store: ds, bidID: bidID}
}

func (b *BidDocument) Load(ctx context.Context) (*Document, error) {
	return b.store.Load(ctx, b.bidID)
}

func (b *BidDocument) Save(ctx context.Context, doc *Document) error {
	if doc.BidID == "" {
		doc.BidID = b.bidID
	}
	if doc.BidID != b.bidID {
		return eris.Errorf("document for bid %q cannot be saved under bid %q", doc.BidID, b.bidID)
	}
	return b.store.Save(ctx, doc)
}
