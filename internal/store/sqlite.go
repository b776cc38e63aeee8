package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, eris.Wrap(err, "failed to open database")
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "failed to ping database")
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, now: time.Now}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "failed to initialize schema")
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS evaluation_documents (
        bid_id TEXT PRIMARY KEY,
        body TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context, bidID string) (*Document, error) {
	var body string
	err := s.db.QueryRowContext(ctx, "SELECT body FROM evaluation_documents WHERE bid_id = ?", bidID).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, eris.Wrapf(err, "failed to query document for bid %s", bidID)
	}

	var doc Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		zap.L().Warn("stored evaluation document is not valid JSON",
			zap.String("bid_id", bidID), zap.Error(err))
		return nil, eris.Wrapf(ErrMalformedDocument, "bid %s: %v", bidID, err)
	}
	if doc.BidID == "" {
		doc.BidID = bidID
	}
	return &doc, nil
}

// Save replaces the stored body in one statement, so readers see either
// the previous document or this one.
func (s *SQLiteStore) Save(ctx context.Context, doc *Document) error {
	if doc.BidID == "" {
		return eris.New("document has no bid id")
	}
	now := s.now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	body, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "failed to marshal document")
	}

	stmt, err := s.db.PrepareContext(ctx, `
        INSERT INTO evaluation_documents (bid_id, body, created_at, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(bid_id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`)
	if err != nil {
		return eris.Wrap(err, "failed to prepare document upsert")
	}
	defer stmt.Close()

	if _, err = stmt.ExecContext(ctx, doc.BidID, string(body), doc.CreatedAt, doc.UpdatedAt); err != nil {
		return eris.Wrapf(err, "failed to save document for bid %s", doc.BidID)
	}
	return nil
}

// Reset replaces a bid's document with an empty one, keeping the tender id.
func (s *SQLiteStore) Reset(ctx context.Context, bidID string) error {
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

// ListBids returns the ids of all stored documents, most recently updated first.
func (s *SQLiteStore) ListBids(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT bid_id FROM evaluation_documents ORDER BY updated_at DESC")
	if err != nil {
		return nil, eris.Wrap(err, "failed to query documents")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "failed to scan document row")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
