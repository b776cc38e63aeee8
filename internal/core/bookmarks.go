package core

import (
	"sort"
	"time"
)

// BookmarkEntry is one bookmarked page of the bid document.
type BookmarkEntry struct {
	CriterionID string
	Partner     PartnerID
	PageNumber  int
	CreatedAt   time.Time
}

type bookmarkKey struct {
	criterionID string
	partner     string
	page        int
}

// BookmarkSet holds bookmarked pages per (criterion, partner). Only
// individual partners can add or remove bookmarks; the combined view reads
// the union. Pages saved under the combined label are restored read-only.
type BookmarkSet struct {
	entries map[bookmarkKey]time.Time
	now     func() time.Time
}

func NewBookmarkSet(now func() time.Time) *BookmarkSet {
	if now == nil {
		now = time.Now
	}
	return &BookmarkSet{entries: map[bookmarkKey]time.Time{}, now: now}
}

func keyFor(criterionID string, p PartnerID, page int) bookmarkKey {
	return bookmarkKey{criterionID: criterionID, partner: p.Name(), page: page}
}

// Add inserts a page and reports whether it was new. Writes against the
// combined entity or pages below 1 are ignored.
func (b *BookmarkSet) Add(criterionID string, p PartnerID, page int) bool {
	if !p.IsIndividual() || page < 1 {
		return false
	}
	k := keyFor(criterionID, p, page)
	if _, ok := b.entries[k]; ok {
		return false
	}
	b.entries[k] = b.now()
	return true
}

func (b *BookmarkSet) restore(e BookmarkEntry) {
	if e.Partner.IsZero() || e.PageNumber < 1 {
		return
	}
	k := keyFor(e.CriterionID, e.Partner, e.PageNumber)
	if _, ok := b.entries[k]; ok {
		return
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = b.now()
	}
	b.entries[k] = created
}

// Remove deletes a page and reports whether it was present.
func (b *BookmarkSet) Remove(criterionID string, p PartnerID, page int) bool {
	k := keyFor(criterionID, p, page)
	if _, ok := b.entries[k]; !ok || !p.IsIndividual() {
		return false
	}
	delete(b.entries, k)
	return true
}

// Toggle flips a page and returns whether it is bookmarked afterwards.
func (b *BookmarkSet) Toggle(criterionID string, p PartnerID, page int) bool {
	if b.Contains(criterionID, p, page) {
		b.Remove(criterionID, p, page)
		return false
	}
	return b.Add(criterionID, p, page)
}

func (b *BookmarkSet) Contains(criterionID string, p PartnerID, page int) bool {
	_, ok := b.entries[keyFor(criterionID, p, page)]
	return ok
}

// ListFor returns a partner's pages for a criterion in ascending order.
func (b *BookmarkSet) ListFor(criterionID string, p PartnerID) []int {
	pages := []int{}
	for k := range b.entries {
		if k.criterionID == criterionID && k.partner == p.Name() {
			pages = append(pages, k.page)
		}
	}
	sort.Ints(pages)
	return pages
}

// ListCombined returns the ascending union of the listed partners' pages
// and the pages saved under the combined label.
func (b *BookmarkSet) ListCombined(criterionID string, partners []PartnerID) []int {
	seen := map[int]bool{}
	pages := []int{}
	for _, p := range append(partners[:len(partners):len(partners)], Combined()) {
		for _, pg := range b.ListFor(criterionID, p) {
			if !seen[pg] {
				seen[pg] = true
				pages = append(pages, pg)
			}
		}
	}
	sort.Ints(pages)
	return pages
}

// Entries returns every bookmark ordered by criterion, partner, page.
func (b *BookmarkSet) Entries() []BookmarkEntry {
	out := make([]BookmarkEntry, 0, len(b.entries))
	for k, created := range b.entries {
		p := Individual(k.partner)
		if k.partner == CombinedLabel {
			p = Combined()
		}
		out = append(out, BookmarkEntry{
			CriterionID: k.criterionID,
			Partner:     p,
			PageNumber:  k.page,
			CreatedAt:   created,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CriterionID != out[j].CriterionID {
			return out[i].CriterionID < out[j].CriterionID
		}
		if out[i].Partner.Name() != out[j].Partner.Name() {
			return out[i].Partner.Name() < out[j].Partner.Name()
		}
		return out[i].PageNumber < out[j].PageNumber
	})
	return out
}

func (b *BookmarkSet) Len() int { return len(b.entries) }
