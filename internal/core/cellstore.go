package core

import (
	"sort"
	"strings"
	"time"
)

// ModifiedBy records who last set a cell.
type ModifiedBy string

const (
	ModifiedByAI   ModifiedBy = "AI"
	ModifiedByUser ModifiedBy = "User"
)

// ParseModifiedBy accepts the spellings found in saved documents ("AI",
// "user", "User"). Anything that is not AI is treated as a human edit.
func ParseModifiedBy(s string) ModifiedBy {
	if strings.EqualFold(strings.TrimSpace(s), string(ModifiedByAI)) {
		return ModifiedByAI
	}
	return ModifiedByUser
}

type Provenance struct {
	ModifiedBy ModifiedBy `json:"modified_by"`
	ModifiedAt time.Time  `json:"modified_at"`
}

// Cell is one extracted datum and where it came from.
type Cell struct {
	Value      string     `json:"value"`
	PageNumber int        `json:"page_number"`
	Provenance Provenance `json:"provenance"`
	Approved   bool       `json:"approved"`
}

// CellStore holds the cells of one (criterion, partner) table.
type CellStore struct {
	cells        map[string]Cell
	approvedRows map[string]bool
	now          func() time.Time
}

func NewCellStore(now func() time.Time) *CellStore {
	if now == nil {
		now = time.Now
	}
	return &CellStore{
		cells:        map[string]Cell{},
		approvedRows: map[string]bool{},
		now:          now,
	}
}

// Get returns the cell and whether it exists.
func (s *CellStore) Get(cellKey string) (Cell, bool) {
	c, ok := s.cells[cellKey]
	return c, ok
}

// Set overwrites a cell. Pages below 1 are stored as 1.
func (s *CellStore) Set(cellKey, value string, pageNumber int, by ModifiedBy) {
	prev := s.cells[cellKey]
	s.cells[cellKey] = Cell{
		Value:      value,
		PageNumber: normalizePage(pageNumber),
		Provenance: Provenance{ModifiedBy: by, ModifiedAt: s.now()},
		Approved:   prev.Approved,
	}
}

// SetFromGeneration stores a generated value unless a reviewer has already
// edited the cell. force overrides that guard. It reports whether the cell
// was written.
func (s *CellStore) SetFromGeneration(cellKey, value string, pageNumber int, force bool) bool {
	if prev, ok := s.cells[cellKey]; ok && prev.Provenance.ModifiedBy == ModifiedByUser && !force {
		return false
	}
	s.Set(cellKey, value, pageNumber, ModifiedByAI)
	return true
}

// restore puts back a persisted cell as-is.
func (s *CellStore) restore(cellKey string, c Cell) {
	c.PageNumber = normalizePage(c.PageNumber)
	s.cells[cellKey] = c
}

func (s *CellStore) SetApproved(cellKey string, approved bool) bool {
	c, ok := s.cells[cellKey]
	if !ok {
		return false
	}
	c.Approved = approved
	s.cells[cellKey] = c
	return true
}

func (s *CellStore) SetRowApproved(rowKey string, approved bool) {
	if approved {
		s.approvedRows[rowKey] = true
		return
	}
	delete(s.approvedRows, rowKey)
}

func (s *CellStore) RowApproved(rowKey string) bool {
	return s.approvedRows[rowKey]
}

// IsApproved reports whether the cell, or the row it belongs to, is approved.
func (s *CellStore) IsApproved(cellKey, rowKey string) bool {
	if s.approvedRows[rowKey] {
		return true
	}
	return s.cells[cellKey].Approved
}

func (s *CellStore) ApprovedRows() []string {
	rows := make([]string, 0, len(s.approvedRows))
	for r := range s.approvedRows {
		rows = append(rows, r)
	}
	sort.Strings(rows)
	return rows
}

func (s *CellStore) Len() int { return len(s.cells) }

// Keys returns the cell keys in ascending order.
func (s *CellStore) Keys() []string {
	keys := make([]string, 0, len(s.cells))
	for k := range s.cells {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot copies the cells out of the store.
func (s *CellStore) Snapshot() map[string]Cell {
	out := make(map[string]Cell, len(s.cells))
	for k, v := range s.cells {
		out[k] = v
	}
	return out
}

func normalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}
