package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"procura.dev/bid-workbench/internal/store"
)

// LoadState tracks where a session is in its lifecycle.
type LoadState int

const (
	StateUninitialized LoadState = iota
	StateLoading
	StateEmpty
	StateInitializing
	StateReady
)

func (s LoadState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateEmpty:
		return "empty"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

func (s LoadState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

const defaultMaxResults = 10

// SessionConfig wires a session to its collaborators. Generation and Pages
// are optional.
type SessionConfig struct {
	BidID       string
	TenderID    string
	DocumentID  string
	Catalogue   Catalogue
	Roster      Roster
	Persistence PersistenceAdapter
	Search      SearchAdapter
	Generation  GenerationAdapter
	Pages       PageSource
	LLM         LLMSettings
	MaxResults  int
	Now         func() time.Time
}

// Session is the evaluation state of one bid: every partner's cells,
// bookmarks and chat, the combined tables, and the reviewer's cursor.
type Session struct {
	mu sync.Mutex

	bidID      string
	tenderID   string
	documentID string
	catalogue  Catalogue
	roster     Roster
	persist    PersistenceAdapter
	search     SearchAdapter
	generation GenerationAdapter
	pages      PageSource
	llm        LLMSettings
	maxResults int
	now        func() time.Time
	createdAt  time.Time

	state     LoadState
	cells     map[scopeKey]*CellStore
	engine    *AggregationEngine
	bookmarks *BookmarkSet
	chat      *ConversationLog

	// Records without a partner scope are written back as they were read.
	unscopedBookmarks []store.BookmarkRecord
	unscopedMessages  []store.ChatMessageRecord

	activeCriterion string
	activePartner   PartnerID
	activePage      int

	initialized map[scopeKey]bool
	// epoch changes whenever the active context changes. Async work
	// captures it and drops its result if it moved.
	epoch uint64
	view  *View

	saveMu    sync.Mutex
	revision  uint64
	persisted uint64
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Catalogue == nil {
		cfg.Catalogue = DefaultCatalogue()
	}
	if len(cfg.Roster.Partners) == 0 {
		cfg.Roster = DefaultRoster()
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultMaxResults
	}
	if cfg.DocumentID == "" {
		cfg.DocumentID = cfg.BidID
	}
	s := &Session{
		bidID:      cfg.BidID,
		tenderID:   cfg.TenderID,
		documentID: cfg.DocumentID,
		catalogue:  cfg.Catalogue,
		roster:     cfg.Roster,
		persist:    cfg.Persistence,
		search:     cfg.Search,
		generation: cfg.Generation,
		pages:      cfg.Pages,
		llm:        cfg.LLM,
		maxResults: cfg.MaxResults,
		now:        cfg.Now,
	}
	s.resetStores()
	return s
}

func (s *Session) resetStores() {
	s.cells = map[scopeKey]*CellStore{}
	s.engine = NewAggregationEngine(s.catalogue, s.roster, cellSourceFunc(s.cellsLocked), s.now)
	s.bookmarks = NewBookmarkSet(s.now)
	s.chat = NewConversationLog(s.now)
	s.unscopedBookmarks = nil
	s.unscopedMessages = nil
	s.initialized = map[scopeKey]bool{}
	s.view = nil
	ids := s.catalogue.IDs()
	if len(ids) > 0 {
		s.activeCriterion = ids[0]
	}
	if parts := s.roster.Individuals(); len(parts) > 0 {
		s.activePartner = parts[0]
	}
	s.activePage = 1
}

type cellSourceFunc func(criterionID string, p PartnerID) *CellStore

func (f cellSourceFunc) Cells(criterionID string, p PartnerID) *CellStore { return f(criterionID, p) }

// cellsLocked returns the store of a scope, creating it empty. Callers hold mu.
func (s *Session) cellsLocked(criterionID string, p PartnerID) *CellStore {
	k := scopeOf(criterionID, p)
	cs, ok := s.cells[k]
	if !ok {
		cs = NewCellStore(s.now)
		s.cells[k] = cs
	}
	return cs
}

func (s *Session) BidID() string  { return s.bidID }
func (s *Session) Roster() Roster { return s.roster }

func (s *Session) Catalogue() Catalogue { return s.catalogue }

func (s *Session) State() LoadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Load reads the saved document and restores every store and the cursor.
// A missing or malformed document starts the session empty. Other
// persistence errors are returned and leave the session unloaded so the
// caller can retry without overwriting what is stored.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateLoading
	s.mu.Unlock()

	doc, err := s.persist.Load(ctx)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDocumentNotFound):
			doc = nil
		case errors.Is(err, store.ErrMalformedDocument):
			zap.L().Warn("ignoring malformed evaluation document", zap.String("bid_id", s.bidID), zap.Error(err))
			doc = nil
		default:
			s.mu.Lock()
			s.state = StateUninitialized
			s.mu.Unlock()
			return eris.Wrapf(err, "load evaluation for bid %s", s.bidID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetStores()
	if doc != nil {
		if doc.TenderID != "" {
			s.tenderID = doc.TenderID
		}
		s.createdAt = doc.CreatedAt
		s.decodeDocument(doc)
		s.restoreCursor(doc)
	}
	for _, id := range s.catalogue.IDs() {
		if _, err := s.engine.Recompute(id); err != nil {
			return err
		}
	}
	s.epoch++
	s.state = s.scopeStateLocked()
	zap.L().Debug("evaluation session loaded",
		zap.String("bid_id", s.bidID),
		zap.String("criterion", s.activeCriterion),
		zap.Stringer("partner", s.activePartner),
		zap.Stringer("state", s.state),
	)
	return nil
}

func (s *Session) restoreCursor(doc *store.Document) {
	if _, err := s.catalogue.Get(doc.CurrentSelectedCriteria); err == nil {
		s.activeCriterion = doc.CurrentSelectedCriteria
	}
	if p, err := s.roster.Parse(doc.CurrentSelectedBidder); err == nil {
		s.activePartner = p
	}
	if doc.CurrentPdfPage >= 1 {
		s.activePage = doc.CurrentPdfPage
	}
}

func (s *Session) scopeEmptyLocked(criterionID string, p PartnerID) bool {
	if p.IsCombined() {
		return false
	}
	cs, ok := s.cells[scopeOf(criterionID, p)]
	return (!ok || cs.Len() == 0) && s.chat.Len(criterionID, p) == 0
}

func (s *Session) scopeStateLocked() LoadState {
	if s.scopeEmptyLocked(s.activeCriterion, s.activePartner) {
		return StateEmpty
	}
	return StateReady
}

func (s *Session) requireLoadedLocked() error {
	switch s.state {
	case StateUninitialized, StateLoading:
		return ErrNotLoaded
	}
	return nil
}

// SelectCriterion makes a criterion active.
func (s *Session) SelectCriterion(criterionID string) (*View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoadedLocked(); err != nil {
		return nil, err
	}
	if _, err := s.catalogue.Get(criterionID); err != nil {
		return nil, err
	}
	s.activeCriterion = criterionID
	s.switchContextLocked()
	return s.viewLocked(), nil
}

// SelectPartner makes a partner (or the combined entity) active. The view
// cache is dropped and rebuilt from that partner's entries only.
func (s *Session) SelectPartner(p PartnerID) (*View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoadedLocked(); err != nil {
		return nil, err
	}
	if !s.roster.Has(p) {
		return nil, eris.Wrapf(ErrUnknownPartner, "partner %q", p.Name())
	}
	s.activePartner = p
	s.switchContextLocked()
	return s.viewLocked(), nil
}

func (s *Session) switchContextLocked() {
	s.epoch++
	s.view = nil
	if s.state != StateInitializing {
		s.state = s.scopeStateLocked()
	}
}

// SetPdfPage moves the document cursor.
func (s *Session) SetPdfPage(page int) error {
	if page < 1 {
		return ErrInvalidPage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoadedLocked(); err != nil {
		return err
	}
	s.activePage = page
	if s.view != nil {
		s.view.PdfPage = page
	}
	return nil
}

// Cursor returns the active criterion, partner and page.
func (s *Session) Cursor() (string, PartnerID, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeCriterion, s.activePartner, s.activePage
}

// EditCell sets a cell of an individual partner as a reviewer edit.
func (s *Session) EditCell(criterionID string, p PartnerID, cellKey, value string, page int) (Cell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritableLocked(criterionID, p); err != nil {
		return Cell{}, err
	}
	cells := s.cellsLocked(criterionID, p)
	cells.Set(cellKey, value, page, ModifiedByUser)
	if err := s.afterCellChangeLocked(criterionID); err != nil {
		return Cell{}, err
	}
	c, _ := cells.Get(cellKey)
	return c, nil
}

// SetCellApproval marks a single cell approved or not.
func (s *Session) SetCellApproval(criterionID string, p PartnerID, cellKey string, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritableLocked(criterionID, p); err != nil {
		return err
	}
	if !s.cellsLocked(criterionID, p).SetApproved(cellKey, approved) {
		return eris.Wrapf(ErrUnknownField, "no cell %q to approve", cellKey)
	}
	s.view = nil
	return nil
}

// SetRowApproval approves or un-approves every yearly cell of the criterion at once.
func (s *Session) SetRowApproval(criterionID string, p PartnerID, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritableLocked(criterionID, p); err != nil {
		return err
	}
	crit, _ := s.catalogue.Get(criterionID)
	s.cellsLocked(criterionID, p).SetRowApproved(crit.RowKey(), approved)
	s.view = nil
	return nil
}

// EditCombinedContribution routes an edit made on the combined view to the
// partner that owns the value.
func (s *Session) EditCombinedContribution(criterionID, fieldKey string, p PartnerID, value string, page int) (CombinedTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoadedLocked(); err != nil {
		return CombinedTable{}, err
	}
	t, err := s.engine.ApplyEditOnCombinedView(criterionID, fieldKey, p, value, page)
	if err != nil {
		return CombinedTable{}, err
	}
	s.view = nil
	s.refreshStateLocked()
	return t, nil
}

func (s *Session) EditMultiplier(criterionID, year, value string, page int) (CombinedTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoadedLocked(); err != nil {
		return CombinedTable{}, err
	}
	t, err := s.engine.ApplyMultiplierEdit(criterionID, year, value, page)
	if err != nil {
		return CombinedTable{}, err
	}
	s.view = nil
	return t, nil
}

// CombinedTable recomputes and returns the combined table of a criterion.
func (s *Session) CombinedTable(criterionID string) (CombinedTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Recompute(criterionID)
}

// AddBookmark, RemoveBookmark and ToggleBookmark act on the active scope.
func (s *Session) AddBookmark(page int) ([]int, error) {
	return s.bookmarkOp(page, func(c string, p PartnerID) { s.bookmarks.Add(c, p, page) })
}

func (s *Session) RemoveBookmark(page int) ([]int, error) {
	return s.bookmarkOp(page, func(c string, p PartnerID) { s.bookmarks.Remove(c, p, page) })
}

func (s *Session) ToggleBookmark(page int) ([]int, error) {
	return s.bookmarkOp(page, func(c string, p PartnerID) { s.bookmarks.Toggle(c, p, page) })
}

func (s *Session) bookmarkOp(page int, op func(string, PartnerID)) ([]int, error) {
	if page < 1 {
		return nil, ErrInvalidPage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritableLocked(s.activeCriterion, s.activePartner); err != nil {
		return nil, err
	}
	op(s.activeCriterion, s.activePartner)
	s.view = nil
	return s.bookmarks.ListFor(s.activeCriterion, s.activePartner), nil
}

func (s *Session) checkWritableLocked(criterionID string, p PartnerID) error {
	if err := s.requireLoadedLocked(); err != nil {
		return err
	}
	if _, err := s.catalogue.Get(criterionID); err != nil {
		return err
	}
	if p.IsCombined() {
		return ErrCombinedReadOnly
	}
	if !s.roster.Has(p) {
		return eris.Wrapf(ErrUnknownPartner, "partner %q", p.Name())
	}
	return nil
}

func (s *Session) afterCellChangeLocked(criterionID string) error {
	if _, err := s.engine.Recompute(criterionID); err != nil {
		return err
	}
	s.view = nil
	s.refreshStateLocked()
	return nil
}

func (s *Session) refreshStateLocked() {
	if s.state == StateEmpty {
		s.state = s.scopeStateLocked()
	}
}

// Save writes the whole evaluation document. Concurrent saves are
// serialised and a snapshot older than one already written is skipped,
// so the stored document is never older than the newest completed save.
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	if err := s.requireLoadedLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	doc, rev := s.snapshotLocked()
	s.mu.Unlock()
	return s.persistSnapshot(ctx, doc, rev)
}

func (s *Session) snapshotLocked() (*store.Document, uint64) {
	s.revision++
	return s.encodeDocument(), s.revision
}

func (s *Session) persistSnapshot(ctx context.Context, doc *store.Document, rev uint64) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if rev <= s.persisted {
		return nil
	}
	if err := s.persist.Save(ctx, doc); err != nil {
		return eris.Wrapf(err, "save evaluation for bid %s", s.bidID)
	}
	s.persisted = rev
	s.mu.Lock()
	if s.createdAt.IsZero() {
		s.createdAt = doc.CreatedAt
	}
	s.mu.Unlock()
	return nil
}

// Reset discards every evaluation value of the bid and saves an empty
// document in its place.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	if err := s.requireLoadedLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.resetStores()
	s.epoch++
	s.state = s.scopeStateLocked()
	doc, rev := s.snapshotLocked()
	s.mu.Unlock()
	return s.persistSnapshot(ctx, doc, rev)
}

// Document returns the document a save would write now.
func (s *Session) Document() *store.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encodeDocument()
}
