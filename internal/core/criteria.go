package core

import (
	"fmt"
	"sort"
	"strings"
)

// Criterion describes one evaluation criterion: which yearly fields are
// extracted per partner and how the combined figure is weighted.
type Criterion struct {
	ID                 string
	Title              string
	FieldPrefix        string
	Years              []string
	DefaultMultipliers map[string]string
	// QueryTemplate takes the partner's display name.
	QueryTemplate string
	// CombinedPage is the page cited by the combined table's multipliers.
	CombinedPage int
}

// CellKey is the per-partner cell identifier for a year, e.g. "turnover-2022-23".
func (c Criterion) CellKey(year string) string {
	return c.FieldPrefix + "-" + year
}

// YearOf reverses CellKey. ok is false for keys of other fields.
func (c Criterion) YearOf(cellKey string) (string, bool) {
	year, ok := strings.CutPrefix(cellKey, c.FieldPrefix+"-")
	if !ok {
		return "", false
	}
	for _, y := range c.Years {
		if y == year {
			return year, true
		}
	}
	return "", false
}

// RowKey identifies the whole row of yearly cells for approvals.
func (c Criterion) RowKey() string {
	return c.FieldPrefix + "-row"
}

func (c Criterion) DefaultMultiplier(year string) string {
	if m, ok := c.DefaultMultipliers[year]; ok {
		return m
	}
	return "1.00"
}

func (c Criterion) Query(partnerName string) string {
	return fmt.Sprintf(c.QueryTemplate, partnerName)
}

// TableID names a partner's table inside the persisted document.
func TableID(criterionID string, p PartnerID) string {
	return "table-" + criterionID + "-" + p.Name()
}

// MultiplierKey is the cell key used to persist a year's multiplier in the
// combined table.
func MultiplierKey(year string) string {
	return "multiplyingFactor-" + year
}

// Catalogue is the set of criteria a bid is evaluated against.
type Catalogue map[string]Criterion

// DefaultCatalogue holds the annual turnover criterion.
func DefaultCatalogue() Catalogue {
	return Catalogue{
		"1": {
			ID:          "1",
			Title:       "Annual Turnover",
			FieldPrefix: "turnover",
			Years:       []string{"2019-20", "2020-21", "2021-22", "2022-23", "2023-24"},
			DefaultMultipliers: map[string]string{
				"2019-20": "1.50",
				"2020-21": "1.40",
				"2021-22": "1.30",
				"2022-23": "1.20",
				"2023-24": "1.10",
			},
			QueryTemplate: "Annual turnover for %s certified by CA",
			CombinedPage:  111,
		},
	}
}

func (c Catalogue) Get(id string) (Criterion, error) {
	crit, ok := c[id]
	if !ok {
		return Criterion{}, ErrUnknownCriterion
	}
	return crit, nil
}

// IDs returns criterion ids in ascending order.
func (c Catalogue) IDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
