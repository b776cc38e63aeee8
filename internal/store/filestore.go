package store

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FileStore keeps each bid's document as <dir>/<bid>.json, the layout the
// evaluation pages originally read from disk.
type FileStore struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "failed to create data dir %s", dir)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(bidID string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, bidID)
	return filepath.Join(s.dir, safe+".json")
}

func (s *FileStore) Load(ctx context.Context, bidID string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := os.ReadFile(s.path(bidID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrDocumentNotFound
		}
		return nil, eris.Wrapf(err, "failed to read document for bid %s", bidID)
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		zap.L().Warn("evaluation data file is not valid JSON",
			zap.String("bid_id", bidID), zap.Error(err))
		return nil, eris.Wrapf(ErrMalformedDocument, "bid %s: %v", bidID, err)
	}
	if doc.BidID == "" {
		doc.BidID = bidID
	}
	return &doc, nil
}

// Save writes to a temporary file and renames it over the previous
// document.
func (s *FileStore) Save(ctx context.Context, doc *Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc.BidID == "" {
		return eris.New("document has no bid id")
	}
	now := s.now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return eris.Wrap(err, "failed to marshal document")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".evaluation-*.json")
	if err != nil {
		return eris.Wrap(err, "failed to create temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return eris.Wrap(err, "failed to write temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return eris.Wrap(err, "failed to close temp file")
	}
	if err := os.Rename(tmpName, s.path(doc.BidID)); err != nil {
		os.Remove(tmpName)
		return eris.Wrapf(err, "failed to replace document for bid %s", doc.BidID)
	}
	return nil
}

func (s *FileStore) Reset(ctx context.Context, bidID string) error {
	fresh := NewDocument(bidID)
	current, err := s.Load(ctx, bidID)
	switch {
	case err == nil:
		fresh.TenderID = current.TenderID
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrMalformedDocument):
	default:
		return err
	}
	return s.Save(ctx, fresh)
}

func (s *FileStore) ListBids(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, eris.Wrap(err, "failed to list data dir")
	}
	type stamped struct {
		id  string
		mod time.Time
	}
	var found []stamped
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, stamped{id: strings.TrimSuffix(name, ".json"), mod: info.ModTime()})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].mod.After(found[j].mod) })

	ids := make([]string, 0, len(found))
	for _, f := range found {
		ids = append(ids, f.id)
	}
	return ids, nil
}
