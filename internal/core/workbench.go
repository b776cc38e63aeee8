package core

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"procura.dev/bid-workbench/internal/store"
)

// WorkbenchConfig holds what every session of the workbench shares. Bids,
// Generation and Pages are optional.
type WorkbenchConfig struct {
	Store      store.DocumentStore
	Search     SearchAdapter
	Generation GenerationAdapter
	Bids       BidDirectory
	// Pages returns the page source of a bid's document, or nil.
	Pages      func(bidID string) PageSource
	Catalogue  Catalogue
	Roster     Roster
	LLM        LLMSettings
	MaxResults int
	Now        func() time.Time
}

// Workbench hands out one loaded evaluation session per bid.
type Workbench struct {
	cfg      WorkbenchConfig
	mu       sync.Mutex
	sessions map[string]*Session
	loading  singleflight.Group
}

func NewWorkbench(cfg WorkbenchConfig) *Workbench {
	if cfg.Catalogue == nil {
		cfg.Catalogue = DefaultCatalogue()
	}
	if len(cfg.Roster.Partners) == 0 {
		cfg.Roster = DefaultRoster()
	}
	return &Workbench{cfg: cfg, sessions: map[string]*Session{}}
}

const sessionLoadTimeout = 30 * time.Second

// Session returns the bid's session, creating and loading it on first use.
// Concurrent first calls for the same bid share one load, which is not tied
// to any single caller's cancellation.
func (w *Workbench) Session(ctx context.Context, bidID string) (*Session, error) {
	bidID = strings.TrimSpace(bidID)
	if bidID == "" {
		return nil, eris.New("bid id is required")
	}
	w.mu.Lock()
	if s, ok := w.sessions[bidID]; ok {
		w.mu.Unlock()
		return s, nil
	}
	w.mu.Unlock()

	ch := w.loading.DoChan(bidID, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sessionLoadTimeout)
		defer cancel()
		s := w.newSession(loadCtx, bidID)
		if err := s.Load(loadCtx); err != nil {
			return nil, err
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		if existing, ok := w.sessions[bidID]; ok {
			return existing, nil
		}
		w.sessions[bidID] = s
		return s, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *Workbench) newSession(ctx context.Context, bidID string) *Session {
	roster := w.cfg.Roster
	var tenderID string
	if w.cfg.Bids != nil {
		info, err := w.cfg.Bids.GetBid(ctx, bidID)
		if err != nil {
			zap.L().Warn("bid lookup failed, using the default roster", zap.String("bid_id", bidID), zap.Error(err))
		} else if info != nil {
			roster = RosterFromBidName(info.BidName, roster)
			tenderID = info.TenderID
		}
	}
	var pages PageSource
	if w.cfg.Pages != nil {
		pages = w.cfg.Pages(bidID)
	}
	return NewSession(SessionConfig{
		BidID:       bidID,
		TenderID:    tenderID,
		DocumentID:  bidID,
		Catalogue:   w.cfg.Catalogue,
		Roster:      roster,
		Persistence: store.ForBid(w.cfg.Store, bidID),
		Search:      w.cfg.Search,
		Generation:  w.cfg.Generation,
		Pages:       pages,
		LLM:         w.cfg.LLM,
		MaxResults:  w.cfg.MaxResults,
		Now:         w.cfg.Now,
	})
}

// Reset clears a bid's evaluation, loaded or not.
func (w *Workbench) Reset(ctx context.Context, bidID string) error {
	w.mu.Lock()
	s, ok := w.sessions[bidID]
	w.mu.Unlock()
	if ok {
		return s.Reset(ctx)
	}
	return w.cfg.Store.Reset(ctx, bidID)
}

// Forget drops the in-memory session of a bid after saving it.
func (w *Workbench) Forget(ctx context.Context, bidID string) error {
	w.mu.Lock()
	s, ok := w.sessions[bidID]
	delete(w.sessions, bidID)
	w.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Save(ctx)
}

// SaveAll saves every loaded session, returning the first error.
func (w *Workbench) SaveAll(ctx context.Context) error {
	w.mu.Lock()
	sessions := make([]*Session, 0, len(w.sessions))
	for _, s := range w.sessions {
		sessions = append(sessions, s)
	}
	w.mu.Unlock()

	var first error
	for _, s := range sessions {
		if err := s.Save(ctx); err != nil {
			zap.L().Error("failed to save session", zap.String("bid_id", s.BidID()), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (w *Workbench) ListBids(ctx context.Context) ([]string, error) {
	return w.cfg.Store.ListBids(ctx)
}

// Document loads a bid's stored document without opening a session.
func (w *Workbench) Document(ctx context.Context, bidID string) (*store.Document, error) {
	w.mu.Lock()
	s, ok := w.sessions[bidID]
	w.mu.Unlock()
	if ok {
		return s.Document(), nil
	}
	return w.cfg.Store.Load(ctx, bidID)
}

func (w *Workbench) Catalogue() Catalogue { return w.cfg.Catalogue }
func (w *Workbench) Roster() Roster       { return w.cfg.Roster }
