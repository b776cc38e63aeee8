package core

import (
	"fmt"
	"sort"
	"strings"

	"procura.dev/bid-workbench/internal/store"
)

// decodeDocument fills the session's stores from a saved document. Tables,
// bookmarks and messages of partners missing from the roster are kept so
// that saving again does not drop them, as are records with no bidder.
func (s *Session) decodeDocument(doc *store.Document) {
	for criterionID, crit := range doc.Criteria {
		prefix := "table-" + criterionID + "-"
		for tableID, table := range crit.Metadata.Tables {
			name, ok := strings.CutPrefix(tableID, prefix)
			if !ok || name == "" {
				continue
			}
			if name == CombinedLabel {
				s.decodeMultipliers(criterionID, table)
				continue
			}
			cells := s.cellsLocked(criterionID, Individual(name))
			for key, rec := range table.Cells {
				cells.restore(key, Cell{
					Value:      rec.Value,
					PageNumber: rec.PageNumber,
					Provenance: Provenance{
						ModifiedBy: ParseModifiedBy(rec.Metadata.ModifiedBy),
						ModifiedAt: rec.Metadata.ModifiedAt,
					},
					Approved: rec.IsApproved,
				})
			}
			for _, row := range table.ApprovedRows {
				cells.SetRowApproved(row, true)
			}
		}
	}

	for _, bm := range doc.BookmarkedPages {
		p := Individual(bm.BidderName)
		switch {
		case bm.BidderName == CombinedLabel:
			p = Combined()
		case p.Name() == "":
			// Predates partner scoping.
			s.unscopedBookmarks = append(s.unscopedBookmarks, bm)
			continue
		}
		s.bookmarks.restore(BookmarkEntry{
			CriterionID: bm.CriteriaKey,
			Partner:     p,
			PageNumber:  bm.PageNumber,
			CreatedAt:   bm.CreatedAt,
		})
	}

	for _, rec := range doc.ChatMessages {
		if strings.TrimSpace(rec.BidderName) == "" || rec.BidderName == CombinedLabel {
			s.unscopedMessages = append(s.unscopedMessages, rec)
			continue
		}
		msg := Message{
			ID:        rec.MessageID,
			Role:      Role(rec.Role),
			Content:   rec.Content,
			Timestamp: rec.CreatedAt,
		}
		for _, p := range rec.SearchResults {
			msg.SearchResults = append(msg.SearchResults, Passage{
				DocumentID:      p.DocumentID,
				DocumentName:    p.DocumentName,
				PageIndex:       int(p.PageNo),
				Content:         p.Content,
				SemanticSummary: p.SemanticMeaning,
				SimilarityScore: p.SimilarityScore,
			})
		}
		// Append cannot fail for an individual partner.
		_, _ = s.chat.Append(rec.CriteriaKey, Individual(rec.BidderName), msg)
	}
}

func (s *Session) decodeMultipliers(criterionID string, table store.TableRecord) {
	for key, rec := range table.Cells {
		year, ok := strings.CutPrefix(key, "multiplyingFactor-")
		if !ok {
			continue
		}
		s.engine.restoreMultiplier(criterionID, year, Multiplier{
			Value:      rec.Value,
			PageNumber: rec.PageNumber,
			Provenance: Provenance{
				ModifiedBy: ParseModifiedBy(rec.Metadata.ModifiedBy),
				ModifiedAt: rec.Metadata.ModifiedAt,
			},
		})
	}
}

// encodeDocument serialises every store of the session, not only the
// active partner's.
func (s *Session) encodeDocument() *store.Document {
	doc := store.NewDocument(s.bidID)
	doc.TenderID = s.tenderID
	doc.CreatedAt = s.createdAt
	doc.CurrentSelectedCriteria = s.activeCriterion
	doc.CurrentSelectedBidder = s.activePartner.Name()
	doc.CurrentPdfPage = s.activePage

	table := func(criterionID, tableID string) *store.TableRecord {
		crit, ok := doc.Criteria[criterionID]
		if !ok {
			crit = store.CriterionRecord{Metadata: store.CriterionMetadata{Tables: map[string]store.TableRecord{}}}
		}
		t, ok := crit.Metadata.Tables[tableID]
		if !ok {
			t = store.TableRecord{Cells: map[string]store.CellRecord{}}
		}
		crit.Metadata.Tables[tableID] = t
		doc.Criteria[criterionID] = crit
		return &t
	}
	put := func(criterionID, tableID string, t *store.TableRecord) {
		doc.Criteria[criterionID].Metadata.Tables[tableID] = *t
	}

	for _, k := range s.sortedScopes() {
		cells := s.cells[k]
		if cells.Len() == 0 && len(cells.ApprovedRows()) == 0 {
			continue
		}
		p := Individual(k.partner)
		tableID := TableID(k.criterionID, p)
		t := table(k.criterionID, tableID)
		for key, c := range cells.Snapshot() {
			t.Cells[key] = store.CellRecord{
				Value:      c.Value,
				PageNumber: c.PageNumber,
				Metadata: store.CellMetadata{
					ModifiedBy: string(c.Provenance.ModifiedBy),
					ModifiedAt: c.Provenance.ModifiedAt,
				},
				IsApproved: c.Approved,
			}
		}
		t.ApprovedRows = cells.ApprovedRows()
		if len(t.ApprovedRows) == 0 {
			t.ApprovedRows = nil
		}
		put(k.criterionID, tableID, t)
	}

	for criterionID := range s.engine.multipliers {
		stored := s.engine.StoredMultipliers(criterionID)
		if len(stored) == 0 {
			continue
		}
		tableID := TableID(criterionID, Combined())
		t := table(criterionID, tableID)
		for year, m := range stored {
			t.Cells[MultiplierKey(year)] = store.CellRecord{
				Value:      m.Value,
				PageNumber: m.PageNumber,
				Metadata: store.CellMetadata{
					ModifiedBy: string(m.Provenance.ModifiedBy),
					ModifiedAt: m.Provenance.ModifiedAt,
				},
			}
		}
		put(criterionID, tableID, t)
	}

	for _, bm := range s.bookmarks.Entries() {
		doc.BookmarkedPages = append(doc.BookmarkedPages, store.BookmarkRecord{
			BookmarkID:      fmt.Sprintf("bm-%s-%s-%d", bm.CriterionID, bm.Partner.Name(), bm.PageNumber),
			BidEvaluationID: s.bidID,
			CriteriaKey:     bm.CriterionID,
			BidderName:      bm.Partner.Name(),
			PageNumber:      bm.PageNumber,
			CreatedAt:       bm.CreatedAt,
		})
	}

	doc.BookmarkedPages = append(doc.BookmarkedPages, s.unscopedBookmarks...)

	for _, msg := range s.chat.All() {
		// Messages are filed under the scope they were created in; anything
		// untagged is not persisted.
		if msg.CriterionID == "" || !msg.Partner.IsIndividual() {
			continue
		}
		rec := store.ChatMessageRecord{
			MessageID:     msg.ID,
			Role:          string(msg.Role),
			Content:       msg.Content,
			CriteriaKey:   msg.CriterionID,
			BidderName:    msg.Partner.Name(),
			CreatedAt:     msg.Timestamp,
			SearchResults: []store.PassageRecord{},
		}
		for _, p := range msg.SearchResults {
			rec.SearchResults = append(rec.SearchResults, store.PassageRecord{
				DocumentID:      p.DocumentID,
				DocumentName:    p.DocumentName,
				PageNo:          store.PageNo(p.PageIndex),
				Content:         p.Content,
				SemanticMeaning: p.SemanticSummary,
				SimilarityScore: p.SimilarityScore,
			})
		}
		doc.ChatMessages = append(doc.ChatMessages, rec)
	}
	doc.ChatMessages = append(doc.ChatMessages, s.unscopedMessages...)
	return doc
}

func (s *Session) sortedScopes() []scopeKey {
	keys := make([]scopeKey, 0, len(s.cells))
	for k := range s.cells {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].criterionID != keys[j].criterionID {
			return keys[i].criterionID < keys[j].criterionID
		}
		return keys[i].partner < keys[j].partner
	})
	return keys
}
