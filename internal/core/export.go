package core

import "time"

// PartnerRow is one year of a partner's table.
type PartnerRow struct {
	Year       string
	CellKey    string
	Value      string
	PageNumber int
	ModifiedBy ModifiedBy
	ModifiedAt time.Time
	Approved   bool
}

type PartnerTable struct {
	CriterionID string
	Title       string
	Partner     PartnerID
	Rows        []PartnerRow
}

// Export is a read-only copy of the whole evaluation, laid out for reports.
type Export struct {
	BidID     string
	TenderID  string
	Partners  []PartnerTable
	Combined  []CombinedTable
	Titles    map[string]string
	Bookmarks []BookmarkEntry
}

// Export copies every partner table, every combined table and every
// bookmark of the session.
func (s *Session) Export() (*Export, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoadedLocked(); err != nil {
		return nil, err
	}
	out := &Export{BidID: s.bidID, TenderID: s.tenderID, Titles: map[string]string{}}
	for _, id := range s.catalogue.IDs() {
		crit, _ := s.catalogue.Get(id)
		out.Titles[id] = crit.Title
		for _, p := range s.roster.Individuals() {
			cells := s.cellsLocked(id, p)
			t := PartnerTable{CriterionID: id, Title: crit.Title, Partner: p}
			for _, year := range crit.Years {
				key := crit.CellKey(year)
				row := PartnerRow{Year: year, CellKey: key, Approved: cells.IsApproved(key, crit.RowKey())}
				if c, ok := cells.Get(key); ok {
					row.Value = c.Value
					row.PageNumber = c.PageNumber
					row.ModifiedBy = c.Provenance.ModifiedBy
					row.ModifiedAt = c.Provenance.ModifiedAt
				}
				t.Rows = append(t.Rows, row)
			}
			out.Partners = append(out.Partners, t)
		}
		table, err := s.engine.Recompute(id)
		if err != nil {
			return nil, err
		}
		out.Combined = append(out.Combined, table)
	}
	out.Bookmarks = s.bookmarks.Entries()
	return out, nil
}
