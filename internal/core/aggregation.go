package core

import (
	"time"

	"github.com/rotisserie/eris"

	"procura.dev/bid-workbench/internal/utils"
)

// Multiplier is the weighting applied to a year's combined total. It is
// the only combined-table field stored in its own right.
type Multiplier struct {
	Value      string     `json:"value"`
	PageNumber int        `json:"page_number"`
	Provenance Provenance `json:"provenance"`
}

// CombinedRow is one year of the combined table.
type CombinedRow struct {
	Year string `json:"year"`
	// Contributions holds each partner's raw cell value, keyed by partner name.
	Contributions  map[string]string `json:"contributions"`
	Aggregate      string            `json:"aggregate"`
	Multiplier     string            `json:"multiplier"`
	MultiplierPage int               `json:"multiplier_page"`
	DerivedValue   string            `json:"derived_value"`
}

// Display returns a partner's contribution as shown in the table: "-" when
// it is missing or not a number.
func (r CombinedRow) Display(partner string) string {
	return utils.DisplayAmount(r.Contributions[partner])
}

// CombinedTable is the joint-venture roll-up of one criterion. It is a
// projection of the partner cell stores and is never edited directly.
type CombinedTable struct {
	CriterionID string        `json:"criterion_id"`
	Partners    []string      `json:"partners"`
	Rows        []CombinedRow `json:"rows"`
}

func (t CombinedTable) Row(year string) (CombinedRow, bool) {
	for _, r := range t.Rows {
		if r.Year == year {
			return r, true
		}
	}
	return CombinedRow{}, false
}

// Equal compares two tables field for field.
func (t CombinedTable) Equal(o CombinedTable) bool {
	if t.CriterionID != o.CriterionID || len(t.Rows) != len(o.Rows) || len(t.Partners) != len(o.Partners) {
		return false
	}
	for i := range t.Partners {
		if t.Partners[i] != o.Partners[i] {
			return false
		}
	}
	for i := range t.Rows {
		a, b := t.Rows[i], o.Rows[i]
		if a.Year != b.Year || a.Aggregate != b.Aggregate || a.Multiplier != b.Multiplier ||
			a.MultiplierPage != b.MultiplierPage || a.DerivedValue != b.DerivedValue ||
			len(a.Contributions) != len(b.Contributions) {
			return false
		}
		for k, v := range a.Contributions {
			if bv, ok := b.Contributions[k]; !ok || bv != v {
				return false
			}
		}
	}
	return true
}

// ComputeCombined derives the combined table from the partners' cells and
// the multipliers in effect. Missing or non-numeric contributions count as 0.
func ComputeCombined(crit Criterion, partners []PartnerID, cells func(PartnerID) *CellStore, multiplier func(year string) Multiplier) CombinedTable {
	table := CombinedTable{CriterionID: crit.ID}
	for _, p := range partners {
		table.Partners = append(table.Partners, p.Name())
	}

	for _, year := range crit.Years {
		key := crit.CellKey(year)
		row := CombinedRow{Year: year, Contributions: make(map[string]string, len(partners))}

		var total float64
		for _, p := range partners {
			var value string
			if store := cells(p); store != nil {
				if c, ok := store.Get(key); ok {
					value = c.Value
				}
			}
			row.Contributions[p.Name()] = value
			total += utils.AmountOrZero(value)
		}

		// The aggregate is rounded before weighting, as the tables display it.
		row.Aggregate = utils.FormatAmount(total)
		m := multiplier(year)
		row.Multiplier = m.Value
		row.MultiplierPage = m.PageNumber
		row.DerivedValue = utils.FormatAmount(utils.AmountOrZero(row.Aggregate) * utils.AmountOrZero(m.Value))
		table.Rows = append(table.Rows, row)
	}
	return table
}

// CellSource hands out the cell store of a (criterion, partner) pair,
// creating it on first use.
type CellSource interface {
	Cells(criterionID string, p PartnerID) *CellStore
}

// AggregationEngine keeps the combined table of each criterion in step with
// the partner cell stores. Edits made on the combined view are written
// through to the owning partner's store and the table is recomputed.
type AggregationEngine struct {
	catalogue   Catalogue
	roster      Roster
	source      CellSource
	multipliers map[string]map[string]Multiplier
	tables      map[string]CombinedTable
	writes      int
	now         func() time.Time
}

func NewAggregationEngine(catalogue Catalogue, roster Roster, source CellSource, now func() time.Time) *AggregationEngine {
	if now == nil {
		now = time.Now
	}
	return &AggregationEngine{
		catalogue:   catalogue,
		roster:      roster,
		source:      source,
		multipliers: map[string]map[string]Multiplier{},
		tables:      map[string]CombinedTable{},
		now:         now,
	}
}

// Multiplier returns the stored multiplier for a year, or the criterion's
// default when none was ever set.
func (e *AggregationEngine) Multiplier(crit Criterion, year string) Multiplier {
	if m, ok := e.multipliers[crit.ID][year]; ok {
		return m
	}
	return Multiplier{
		Value:      crit.DefaultMultiplier(year),
		PageNumber: crit.CombinedPage,
		Provenance: Provenance{ModifiedBy: ModifiedByAI},
	}
}

// StoredMultipliers returns the multipliers that were set explicitly or
// loaded from a saved document.
func (e *AggregationEngine) StoredMultipliers(criterionID string) map[string]Multiplier {
	out := make(map[string]Multiplier, len(e.multipliers[criterionID]))
	for y, m := range e.multipliers[criterionID] {
		out[y] = m
	}
	return out
}

func (e *AggregationEngine) restoreMultiplier(criterionID, year string, m Multiplier) {
	if e.multipliers[criterionID] == nil {
		e.multipliers[criterionID] = map[string]Multiplier{}
	}
	m.PageNumber = normalizePage(m.PageNumber)
	e.multipliers[criterionID][year] = m
}

// Recompute rebuilds the combined table of a criterion. The cached table is
// only replaced when something changed.
func (e *AggregationEngine) Recompute(criterionID string) (CombinedTable, error) {
	crit, err := e.catalogue.Get(criterionID)
	if err != nil {
		return CombinedTable{}, err
	}
	table := ComputeCombined(crit, e.roster.Individuals(),
		func(p PartnerID) *CellStore { return e.source.Cells(criterionID, p) },
		func(year string) Multiplier { return e.Multiplier(crit, year) },
	)
	if prev, ok := e.tables[criterionID]; ok && prev.Equal(table) {
		return prev, nil
	}
	e.tables[criterionID] = table
	e.writes++
	return table, nil
}

// ApplyEditOnCombinedView writes a contribution edited on the combined view
// into that partner's cell store, as a reviewer edit, and recomputes.
// fieldKey is a year ("2022-23") or the full cell key ("turnover-2022-23").
func (e *AggregationEngine) ApplyEditOnCombinedView(criterionID, fieldKey string, partner PartnerID, newValue string, newPage int) (CombinedTable, error) {
	crit, err := e.catalogue.Get(criterionID)
	if err != nil {
		return CombinedTable{}, err
	}
	year, err := resolveYear(crit, fieldKey)
	if err != nil {
		return CombinedTable{}, err
	}
	if partner.IsCombined() {
		return CombinedTable{}, eris.Wrap(ErrCombinedReadOnly, "combined contributions belong to a partner")
	}
	if !e.roster.Has(partner) {
		return CombinedTable{}, eris.Wrapf(ErrUnknownPartner, "partner %q", partner.Name())
	}
	e.source.Cells(criterionID, partner).Set(crit.CellKey(year), newValue, newPage, ModifiedByUser)
	return e.Recompute(criterionID)
}

// ApplyMultiplierEdit changes a year's multiplier and its page reference.
// Partner stores are not touched.
func (e *AggregationEngine) ApplyMultiplierEdit(criterionID, year, newMultiplier string, newPage int) (CombinedTable, error) {
	crit, err := e.catalogue.Get(criterionID)
	if err != nil {
		return CombinedTable{}, err
	}
	year, err = resolveYear(crit, year)
	if err != nil {
		return CombinedTable{}, err
	}
	if _, ok := utils.ParseAmount(newMultiplier); !ok {
		return CombinedTable{}, eris.Wrapf(ErrInvalidMultiplier, "%q", newMultiplier)
	}
	e.restoreMultiplier(criterionID, year, Multiplier{
		Value:      newMultiplier,
		PageNumber: newPage,
		Provenance: Provenance{ModifiedBy: ModifiedByUser, ModifiedAt: e.now()},
	})
	return e.Recompute(criterionID)
}

// Table returns the last computed table of a criterion.
func (e *AggregationEngine) Table(criterionID string) (CombinedTable, bool) {
	t, ok := e.tables[criterionID]
	return t, ok
}

// Writes counts how many times a recompute actually replaced a table.
func (e *AggregationEngine) Writes() int { return e.writes }

func resolveYear(crit Criterion, fieldKey string) (string, error) {
	if year, ok := crit.YearOf(fieldKey); ok {
		return year, nil
	}
	for _, y := range crit.Years {
		if y == fieldKey {
			return y, nil
		}
	}
	return "", eris.Wrapf(ErrUnknownField, "criterion %s has no field %q", crit.ID, fieldKey)
}
