package core

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

// CombinedLabel is how the joint-venture view is named on the wire.
const CombinedLabel = "J.V."

type partnerKind uint8

const (
	individualPartner partnerKind = iota + 1
	combinedPartner
)

// PartnerID identifies either one contributing partner or the combined
// (joint-venture) entity. The zero value is not a valid partner.
type PartnerID struct {
	kind partnerKind
	name string
}

// Individual returns the id of a contributing partner.
func Individual(name string) PartnerID {
	return PartnerID{kind: individualPartner, name: strings.TrimSpace(name)}
}

// Combined returns the id of the combined entity.
func Combined() PartnerID {
	return PartnerID{kind: combinedPartner, name: CombinedLabel}
}

func (p PartnerID) IsCombined() bool   { return p.kind == combinedPartner }
func (p PartnerID) IsIndividual() bool { return p.kind == individualPartner }
func (p PartnerID) IsZero() bool       { return p.kind == 0 }

// Name is the wire name: the partner's name, or CombinedLabel.
func (p PartnerID) Name() string { return p.name }

func (p PartnerID) String() string {
	if p.IsZero() {
		return "<none>"
	}
	return p.name
}

// PartnerProfile is a contributing partner and the pages of the bid
// document that always belong in its bookmark tray.
type PartnerProfile struct {
	Name          string `mapstructure:"name" json:"name"`
	BaselinePages []int  `mapstructure:"baseline_pages" json:"baseline_pages"`
}

// Roster is the ordered list of contributing partners of one bid.
type Roster struct {
	Partners []PartnerProfile `json:"partners"`
}

// DefaultRoster is the partner line-up used when a bid name carries no
// partner names of its own.
func DefaultRoster() Roster {
	return Roster{Partners: []PartnerProfile{
		{Name: "Abhiraj", BaselinePages: []int{111}},
		{Name: "Shraddha", BaselinePages: []int{336}},
		{Name: "Shankar", BaselinePages: []int{808}},
	}}
}

var jointVentureName = regexp.MustCompile(`(?i)([A-Z][a-z]+)\s*(?:and|&)\s*([A-Z][a-z]+)`)

// RosterFromBidName renames the first two partners of base after the two
// names in a joint-venture bid title ("Abhiraj and Shraddha J.V."). Other
// bid names leave base unchanged.
func RosterFromBidName(bidName string, base Roster) Roster {
	out := Roster{Partners: make([]PartnerProfile, len(base.Partners))}
	copy(out.Partners, base.Partners)
	if !strings.Contains(bidName, "J.V") && !strings.Contains(strings.ToLower(bidName), "joint venture") {
		return out
	}
	m := jointVentureName.FindStringSubmatch(bidName)
	if m == nil || len(out.Partners) < 2 {
		return out
	}
	out.Partners[0].Name = m[1]
	out.Partners[1].Name = m[2]
	return out
}

// Individuals returns the ids of all contributing partners in roster order.
func (r Roster) Individuals() []PartnerID {
	ids := make([]PartnerID, 0, len(r.Partners))
	for _, p := range r.Partners {
		ids = append(ids, Individual(p.Name))
	}
	return ids
}

// All returns the contributing partners followed by the combined entity.
func (r Roster) All() []PartnerID {
	return append(r.Individuals(), Combined())
}

// Parse resolves a wire name. Names match case-insensitively.
func (r Roster) Parse(name string) (PartnerID, error) {
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, CombinedLabel) || strings.EqualFold(name, "JV") || strings.EqualFold(name, "Joint Venture") {
		return Combined(), nil
	}
	for _, p := range r.Partners {
		if strings.EqualFold(p.Name, name) {
			return Individual(p.Name), nil
		}
	}
	return PartnerID{}, ErrUnknownPartner
}

func (r Roster) Has(p PartnerID) bool {
	if p.IsCombined() {
		return true
	}
	_, ok := r.profile(p)
	return ok
}

func (r Roster) profile(p PartnerID) (PartnerProfile, bool) {
	for _, prof := range r.Partners {
		if prof.Name == p.Name() {
			return prof, true
		}
	}
	return PartnerProfile{}, false
}

// BaselinePages returns the pages seeded into a partner's bookmarks on
// first use. The combined entity's baseline is the union of all partners'.
func (r Roster) BaselinePages(p PartnerID) []int {
	if p.IsCombined() {
		seen := map[int]bool{}
		var pages []int
		for _, prof := range r.Partners {
			for _, pg := range prof.BaselinePages {
				if !seen[pg] {
					seen[pg] = true
					pages = append(pages, pg)
				}
			}
		}
		sort.Ints(pages)
		return pages
	}
	prof, ok := r.profile(p)
	if !ok {
		return nil
	}
	pages := append([]int(nil), prof.BaselinePages...)
	sort.Ints(pages)
	return pages
}

// DisplayName is the name used in prompts and queries.
func (r Roster) DisplayName(p PartnerID) string {
	if p.IsCombined() {
		return "Joint Venture"
	}
	return p.Name()
}

func (p PartnerID) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.name)
}

// UnmarshalJSON reads a wire name without a roster: CombinedLabel is the
// combined entity, any other non-empty name an individual partner.
func (p *PartnerID) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch {
	case name == "":
		*p = PartnerID{}
	case name == CombinedLabel:
		*p = Combined()
	default:
		*p = Individual(name)
	}
	return nil
}
