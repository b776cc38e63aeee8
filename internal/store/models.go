package store

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Document is the persisted evaluation record of one bid. It is always
// written in full; the store keeps the last version it was given.
type Document struct {
	BidID                   string                     `json:"bid_id"`
	TenderID                string                     `json:"tender_id,omitempty"`
	Criteria                map[string]CriterionRecord `json:"criterias"`
	BookmarkedPages         []BookmarkRecord           `json:"bookmarked_pages"`
	ChatMessages            []ChatMessageRecord        `json:"chat_messages"`
	CurrentSelectedCriteria string                     `json:"current_selected_criteria"`
	CurrentSelectedBidder   string                     `json:"current_selected_bidder"`
	CurrentPdfPage          int                        `json:"current_pdf_page"`
	CreatedAt               time.Time                  `json:"created_at"`
	UpdatedAt               time.Time                  `json:"updated_at"`
}

type CriterionRecord struct {
	Metadata CriterionMetadata `json:"metadata"`
}

type CriterionMetadata struct {
	Tables map[string]TableRecord `json:"tables"`
}

type TableRecord struct {
	Cells        map[string]CellRecord `json:"cells"`
	ApprovedRows []string              `json:"approved_rows,omitempty"`
}

type CellRecord struct {
	Value      string       `json:"value"`
	PageNumber int          `json:"page_number"`
	Metadata   CellMetadata `json:"metadata"`
	IsApproved bool         `json:"is_approved,omitempty"`
}

type CellMetadata struct {
	ModifiedBy string    `json:"modified_by"`
	ModifiedAt time.Time `json:"modified_at"`
}

type BookmarkRecord struct {
	BookmarkID      string    `json:"bookmark_id"`
	BidEvaluationID string    `json:"bid_evaluation_id"`
	CriteriaKey     string    `json:"criteria_key"`
	BidderName      string    `json:"bidder_name"`
	PageNumber      int       `json:"page_number"`
	CreatedAt       time.Time `json:"created_at"`
}

type ChatMessageRecord struct {
	MessageID     string          `json:"message_id"`
	Role          string          `json:"role"`
	Content       string          `json:"content"`
	CriteriaKey   string          `json:"criteria_key"`
	BidderName    string          `json:"bidder_name"`
	CreatedAt     time.Time       `json:"created_at"`
	SearchResults []PassageRecord `json:"searchResults"`
}

// PassageRecord keeps the search backend's field names. PageNo is the
// backend's 0-indexed page.
type PassageRecord struct {
	DocumentID      string   `json:"document_id"`
	DocumentName    string   `json:"document_name,omitempty"`
	PageNo          PageNo   `json:"page_no"`
	Content         string   `json:"content"`
	SemanticMeaning string   `json:"semantic_meaning"`
	SimilarityScore *float64 `json:"similarity_score,omitempty"`
}

// PageNo accepts both "4" and 4 on the wire. The search backend sends
// strings, older data files contain numbers.
type PageNo int

func (p *PageNo) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == `""` {
		*p = 0
		return nil
	}
	raw = strings.Trim(raw, `"`)
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return eris.Wrapf(err, "page_no %q is not an integer", raw)
	}
	*p = PageNo(n)
	return nil
}

// UnmarshalJSON decodes a document leniently: a criterion entry that does
// not decode (bad JSON, or a JSON string that does not hold a criterion
// object) is dropped instead of failing the whole document.
func (d *Document) UnmarshalJSON(data []byte) error {
	type plain Document
	var aux struct {
		plain
		Criteria map[string]json.RawMessage `json:"criterias"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*d = Document(aux.plain)
	d.Criteria = make(map[string]CriterionRecord, len(aux.Criteria))
	for id, raw := range aux.Criteria {
		rec, err := decodeCriterion(raw)
		if err != nil {
			zap.L().Warn("dropping malformed criterion blob",
				zap.String("bid_id", d.BidID),
				zap.String("criterion", id),
				zap.Error(err),
			)
			continue
		}
		d.Criteria[id] = rec
	}
	return nil
}

func decodeCriterion(raw json.RawMessage) (CriterionRecord, error) {
	var rec CriterionRecord
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, `"`) {
		var blob string
		if err := json.Unmarshal(raw, &blob); err != nil {
			return rec, err
		}
		raw = json.RawMessage(blob)
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// NewDocument returns an empty document for a bid.
func NewDocument(bidID string) *Document {
	return &Document{
		BidID:           bidID,
		Criteria:        map[string]CriterionRecord{},
		BookmarkedPages: []BookmarkRecord{},
		ChatMessages:    []ChatMessageRecord{},
		CurrentPdfPage:  1,
	}
}
