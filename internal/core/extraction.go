package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxTokens = 1024
	// maxContextPages bounds how many result pages are read into a prompt.
	maxContextPages = 5
	notAvailable    = "N/A"
)

// QueryOptions controls RunQuery. Generate asks the LLM to fill the cells
// from the search results; Force lets generated values replace reviewer edits.
type QueryOptions struct {
	Generate bool
	Force    bool
}

// QueryResult reports what a query changed. Discarded is set when the
// reviewer moved to another criterion or partner before the adapters
// answered; nothing was applied in that case.
type QueryResult struct {
	Messages  []Message       `json:"messages"`
	Bookmarks []int           `json:"bookmarks"`
	Cells     map[string]Cell `json:"cells,omitempty"`
	Notice    string          `json:"notice,omitempty"`
	Discarded bool            `json:"discarded"`
}

// extraction is the outcome of the adapter calls, computed without the
// session lock held.
type extraction struct {
	query     string
	passages  []Passage
	searchErr error
	values    map[string]string
	attempted bool
	genErr    error
}

func (x extraction) notice() string {
	switch {
	case x.searchErr != nil:
		return "Error searching documents. Please try again."
	case errors.Is(x.genErr, ErrGenerationUnavailable):
		return ErrGenerationUnavailable.Error()
	case errors.Is(x.genErr, ErrMalformedGeneration):
		return "Could not read the extracted values from the model response."
	case x.genErr != nil:
		return "Value extraction failed; existing values were kept."
	}
	return ""
}

func (x extraction) assistantContent() string {
	if x.searchErr != nil {
		return x.query + ".\n\nError searching documents. Please try again."
	}
	return fmt.Sprintf("%s.\n\nFound %d relevant result(s) from the bid document.", x.query, len(x.passages))
}

// EnsureInitialized runs the default query for a scope that has neither
// cells nor chat yet: it records the exchange, bookmarks the partner's
// baseline pages and the result pages, and fills the cells from the
// generated values. It runs at most once per scope per session.
func (s *Session) EnsureInitialized(ctx context.Context, criterionID string, p PartnerID) (*QueryResult, error) {
	s.mu.Lock()
	if err := s.requireLoadedLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	crit, err := s.catalogue.Get(criterionID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if p.IsCombined() {
		s.mu.Unlock()
		return &QueryResult{}, nil
	}
	if !s.roster.Has(p) {
		s.mu.Unlock()
		return nil, eris.Wrapf(ErrUnknownPartner, "partner %q", p.Name())
	}
	k := scopeOf(criterionID, p)
	if s.initialized[k] || !s.scopeEmptyLocked(criterionID, p) {
		s.initialized[k] = true
		s.mu.Unlock()
		return &QueryResult{}, nil
	}
	s.initialized[k] = true
	active := s.activeCriterion == criterionID && s.activePartner == p
	if active {
		s.state = StateInitializing
	}
	epoch := s.epoch
	s.mu.Unlock()

	zap.L().Info("initializing evaluation scope",
		zap.String("bid_id", s.bidID),
		zap.String("criterion", criterionID),
		zap.Stringer("partner", p),
	)
	x := s.extract(ctx, crit, p, crit.Query(s.roster.DisplayName(p)), true)

	s.mu.Lock()
	if s.epoch != epoch {
		// Load, Reset or a context switch happened meanwhile.
		delete(s.initialized, k)
		if active && s.state == StateInitializing {
			s.state = s.scopeStateLocked()
		}
		s.mu.Unlock()
		zap.L().Debug("discarding stale initialization", zap.String("criterion", criterionID), zap.Stringer("partner", p))
		return &QueryResult{Discarded: true}, nil
	}
	res := s.applyLocked(crit, p, x, false, true)
	if active {
		s.state = s.scopeStateLocked()
	}
	doc, rev := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.persistSnapshot(ctx, doc, rev); err != nil {
		zap.L().Error("failed to save after initialization", zap.String("bid_id", s.bidID), zap.Error(err))
		res.Notice = joinNotice(res.Notice, "Changes could not be saved.")
	}
	return res, nil
}

// RunQuery searches the bid document for the active individual partner.
// An empty query runs the criterion's default query.
func (s *Session) RunQuery(ctx context.Context, query string, opts QueryOptions) (*QueryResult, error) {
	s.mu.Lock()
	if err := s.requireLoadedLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	criterionID, p := s.activeCriterion, s.activePartner
	if err := s.checkWritableLocked(criterionID, p); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	crit, _ := s.catalogue.Get(criterionID)
	epoch := s.epoch
	s.mu.Unlock()

	query = strings.TrimSpace(query)
	if query == "" {
		query = crit.Query(s.roster.DisplayName(p))
	}
	x := s.extract(ctx, crit, p, query, opts.Generate)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		zap.L().Debug("discarding stale query result", zap.String("criterion", criterionID), zap.Stringer("partner", p))
		return &QueryResult{Discarded: true}, nil
	}
	res := s.applyLocked(crit, p, x, opts.Force, false)
	s.initialized[scopeOf(criterionID, p)] = true
	s.refreshStateLocked()
	doc, rev := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.persistSnapshot(ctx, doc, rev); err != nil {
		zap.L().Error("failed to save after query", zap.String("bid_id", s.bidID), zap.Error(err))
		res.Notice = joinNotice(res.Notice, "Changes could not be saved.")
	}
	return res, nil
}

// applyLocked records an extraction in the order message, bookmarks, cells.
func (s *Session) applyLocked(crit Criterion, p PartnerID, x extraction, force, seedBaseline bool) *QueryResult {
	res := &QueryResult{Notice: x.notice()}

	userMsg, _ := s.chat.Append(crit.ID, p, Message{Role: RoleUser, Content: x.query})
	assistant, _ := s.chat.Append(crit.ID, p, Message{
		Role:          RoleAssistant,
		Content:       x.assistantContent(),
		SearchResults: x.passages,
	})
	res.Messages = []Message{userMsg, assistant}

	var pages []int
	if seedBaseline {
		pages = append(pages, s.roster.BaselinePages(p)...)
	}
	pages = append(pages, PromotePassagesToBookmarks(assistant)...)
	for _, pg := range pages {
		s.bookmarks.Add(crit.ID, p, pg)
	}

	cells := s.cellsLocked(crit.ID, p)
	page := s.sourcePage(p, x.passages)
	res.Cells = map[string]Cell{}
	write := func(key, value string) {
		if cells.SetFromGeneration(key, value, page, force) {
			c, _ := cells.Get(key)
			res.Cells[key] = c
		}
	}
	switch {
	case x.attempted && x.genErr == nil:
		for _, year := range crit.Years {
			key := crit.CellKey(year)
			if v, ok := x.values[year]; ok {
				write(key, v)
			} else if _, exists := cells.Get(key); !exists {
				write(key, notAvailable)
			}
		}
	case x.attempted && !errors.Is(x.genErr, ErrMalformedGeneration):
		// The adapter failed outright: fill only what is still blank.
		for _, year := range crit.Years {
			if _, exists := cells.Get(crit.CellKey(year)); !exists {
				write(crit.CellKey(year), notAvailable)
			}
		}
	}
	if len(res.Cells) > 0 {
		if _, err := s.engine.Recompute(crit.ID); err != nil {
			zap.L().Warn("recompute after extraction failed", zap.Error(err))
		}
	}
	res.Bookmarks = s.bookmarks.ListFor(crit.ID, p)
	s.view = nil
	return res
}

// sourcePage is the page a generated cell cites: the best search hit,
// else the partner's first baseline page.
func (s *Session) sourcePage(p PartnerID, passages []Passage) int {
	if len(passages) > 0 {
		return normalizePage(passages[0].PageNumber())
	}
	if base := s.roster.BaselinePages(p); len(base) > 0 {
		return base[0]
	}
	return 1
}

// extract calls the search and generation adapters. It must be called
// without the session lock.
func (s *Session) extract(ctx context.Context, crit Criterion, p PartnerID, query string, generate bool) extraction {
	x := extraction{query: query}
	passages, err := s.search.Search(ctx, s.documentID, query, s.maxResults)
	if err != nil {
		zap.L().Warn("search failed", zap.String("bid_id", s.bidID), zap.String("query", query), zap.Error(err))
		x.searchErr = eris.Wrap(err, ErrSearchFailed.Error())
		return x
	}
	x.passages = passages
	if !generate || s.generation == nil {
		return x
	}

	x.attempted = true
	maxTokens := s.llm.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	prompt := buildExtractionPrompt(crit, s.roster.DisplayName(p), s.promptContext(ctx, passages))
	text, err := s.generation.Generate(ctx, GenerateRequest{
		Provider:  s.llm.Provider,
		APIKey:    s.llm.APIKey,
		Prompt:    prompt,
		MaxTokens: maxTokens,
	})
	if err != nil {
		zap.L().Warn("generation failed", zap.String("bid_id", s.bidID), zap.Error(err))
		x.genErr = err
		return x
	}
	values, err := ParseGeneratedValues(text, crit)
	if err != nil {
		zap.L().Warn("unparseable generation", zap.String("bid_id", s.bidID), zap.Error(err))
		x.genErr = err
		return x
	}
	x.values = values
	return x
}

// promptContext prefers the text layer of the result pages and falls back
// to the passages themselves.
func (s *Session) promptContext(ctx context.Context, passages []Passage) string {
	if s.pages != nil {
		var pages []int
		seen := map[int]bool{}
		for _, ps := range passages {
			pg := ps.PageNumber()
			if pg < 1 || seen[pg] {
				continue
			}
			seen[pg] = true
			pages = append(pages, pg)
			if len(pages) == maxContextPages {
				break
			}
		}

		var mu sync.Mutex
		texts := map[int]string{}
		g, gctx := errgroup.WithContext(ctx)
		for _, pg := range pages {
			pg := pg
			g.Go(func() error {
				text, err := s.pages.PageText(gctx, pg)
				if err != nil {
					zap.L().Debug("page text unavailable", zap.Int("page", pg), zap.Error(err))
					return nil
				}
				if strings.TrimSpace(text) == "" {
					return nil
				}
				mu.Lock()
				texts[pg] = text
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if len(texts) > 0 {
			sort.Ints(pages)
			var b strings.Builder
			for _, pg := range pages {
				if t, ok := texts[pg]; ok {
					fmt.Fprintf(&b, "[Page %d]\n%s\n\n", pg, strings.TrimSpace(t))
				}
			}
			return strings.TrimSpace(b.String())
		}
	}

	var b strings.Builder
	for _, ps := range passages {
		fmt.Fprintf(&b, "[Page %d]\n%s\n\n", ps.PageNumber(), strings.TrimSpace(ps.Content))
	}
	return strings.TrimSpace(b.String())
}

func buildExtractionPrompt(crit Criterion, partner, context string) string {
	if context == "" {
		context = "(no matching passages were found)"
	}
	return fmt.Sprintf("Extract the %s of %s for the financial years %s from the bid document excerpts below.\n"+
		"Respond with a single JSON object whose keys are exactly those years and whose values are the amounts as plain numbers "+
		"without currency symbols or separators. Use null for any year the excerpts do not state.\n\n"+
		"--- CONTEXT START ---\n%s\n--- CONTEXT END ---",
		strings.ToLower(crit.Title), partner, strings.Join(crit.Years, ", "), context)
}

var jsonObject = regexp.MustCompile(`\{[\s\S]*\}`)

// ParseGeneratedValues reads the first JSON object out of a model response
// and returns the stated value per year. Keys may be plain years or cell
// keys; years given as null or not at all are omitted.
func ParseGeneratedValues(text string, crit Criterion) (map[string]string, error) {
	raw := jsonObject.FindString(text)
	if raw == "" {
		return nil, ErrMalformedGeneration
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, eris.Wrap(ErrMalformedGeneration, err.Error())
	}

	values := map[string]string{}
	for key, v := range obj {
		year := key
		if y, ok := crit.YearOf(key); ok {
			year = y
		}
		if !crit.hasYear(year) {
			continue
		}
		switch val := v.(type) {
		case nil:
		case float64:
			values[year] = strconv.FormatFloat(val, 'f', -1, 64)
		case string:
			if s := strings.TrimSpace(val); s != "" && !strings.EqualFold(s, "null") {
				values[year] = s
			}
		default:
			return nil, eris.Wrapf(ErrMalformedGeneration, "year %s has a %T value", year, v)
		}
	}
	return values, nil
}

func (c Criterion) hasYear(year string) bool {
	for _, y := range c.Years {
		if y == year {
			return true
		}
	}
	return false
}

func joinNotice(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}
