package core

// View is what the reviewer sees for the active (criterion, partner). An
// individual partner's view carries its own cells, chat and bookmarks; the
// combined view carries the combined table and the union of bookmarks, and
// never a chat.
type View struct {
	CriterionID string          `json:"criterion_id"`
	Partner     PartnerID       `json:"partner"`
	State       LoadState       `json:"state"`
	PdfPage     int             `json:"pdf_page"`
	Cells       map[string]Cell `json:"cells,omitempty"`
	RowApproved bool            `json:"row_approved"`
	Combined    *CombinedTable  `json:"combined,omitempty"`
	Bookmarks   []int           `json:"bookmarks"`
	Messages    []Message       `json:"messages"`
}

// View returns the cached view of the active scope, rebuilding it when the
// cursor or any store changed since it was built.
func (s *Session) View() (*View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoadedLocked(); err != nil {
		return nil, err
	}
	return s.viewLocked(), nil
}

func (s *Session) viewLocked() *View {
	if s.view != nil {
		return s.copyView(s.view)
	}
	v := &View{
		CriterionID: s.activeCriterion,
		Partner:     s.activePartner,
		State:       s.state,
		PdfPage:     s.activePage,
		Messages:    []Message{},
	}
	if s.activePartner.IsCombined() {
		if t, err := s.engine.Recompute(s.activeCriterion); err == nil {
			v.Combined = &t
		}
		v.Bookmarks = s.bookmarks.ListCombined(s.activeCriterion, s.roster.Individuals())
	} else {
		cells := s.cellsLocked(s.activeCriterion, s.activePartner)
		v.Cells = cells.Snapshot()
		if crit, err := s.catalogue.Get(s.activeCriterion); err == nil {
			v.RowApproved = cells.RowApproved(crit.RowKey())
		}
		v.Messages = s.chat.ListFor(s.activeCriterion, s.activePartner)
		v.Bookmarks = s.bookmarks.ListFor(s.activeCriterion, s.activePartner)
	}
	s.view = v
	return s.copyView(v)
}

func (s *Session) copyView(v *View) *View {
	out := *v
	out.State = s.state
	out.PdfPage = s.activePage
	if v.Cells != nil {
		out.Cells = make(map[string]Cell, len(v.Cells))
		for k, c := range v.Cells {
			out.Cells[k] = c
		}
	}
	out.Bookmarks = append([]int{}, v.Bookmarks...)
	out.Messages = append([]Message{}, v.Messages...)
	return &out
}
