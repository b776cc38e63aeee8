package core

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Passage is one search hit attached to an assistant message. PageIndex is
// the search backend's 0-indexed page; reviewers and bookmarks use
// PageNumber, which is one higher.
type Passage struct {
	DocumentID      string   `json:"document_id"`
	DocumentName    string   `json:"document_name,omitempty"`
	PageIndex       int      `json:"page_index"`
	Content         string   `json:"content"`
	SemanticSummary string   `json:"semantic_summary"`
	SimilarityScore *float64 `json:"similarity_score,omitempty"`
}

// PageNumber is the 1-indexed page shown to reviewers.
func (p Passage) PageNumber() int { return p.PageIndex + 1 }

// PageIndexFor converts a 1-indexed page back to the search backend's index.
func PageIndexFor(pageNumber int) int { return pageNumber - 1 }

// Message is one chat turn. CriterionID and Partner are set when the
// message is appended and decide where it is persisted.
type Message struct {
	ID            string    `json:"id"`
	Role          Role      `json:"role"`
	Content       string    `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
	SearchResults []Passage `json:"search_results,omitempty"`
	CriterionID   string    `json:"criterion_id"`
	Partner       PartnerID `json:"partner"`
}

type scopeKey struct {
	criterionID string
	partner     string
}

func scopeOf(criterionID string, p PartnerID) scopeKey {
	return scopeKey{criterionID: criterionID, partner: p.Name()}
}

// ConversationLog keeps the chat transcript of each (criterion, partner).
type ConversationLog struct {
	logs map[scopeKey][]Message
	now  func() time.Time
}

func NewConversationLog(now func() time.Time) *ConversationLog {
	if now == nil {
		now = time.Now
	}
	return &ConversationLog{logs: map[scopeKey][]Message{}, now: now}
}

// Append tags msg with its scope, fills in a missing id or timestamp, and
// stores it. The combined entity has no chat of its own.
func (l *ConversationLog) Append(criterionID string, p PartnerID, msg Message) (Message, error) {
	if !p.IsIndividual() {
		return Message{}, ErrCombinedReadOnly
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = l.now()
	}
	msg.CriterionID = criterionID
	msg.Partner = p
	k := scopeOf(criterionID, p)
	l.logs[k] = append(l.logs[k], msg)
	return msg, nil
}

// ListFor returns the transcript in the order messages were appended.
func (l *ConversationLog) ListFor(criterionID string, p PartnerID) []Message {
	msgs := l.logs[scopeOf(criterionID, p)]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

func (l *ConversationLog) Len(criterionID string, p PartnerID) int {
	return len(l.logs[scopeOf(criterionID, p)])
}

// All returns every message grouped by criterion then partner, each group
// in chronological order.
func (l *ConversationLog) All() []Message {
	keys := make([]scopeKey, 0, len(l.logs))
	for k := range l.logs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].criterionID != keys[j].criterionID {
			return keys[i].criterionID < keys[j].criterionID
		}
		return keys[i].partner < keys[j].partner
	})
	var out []Message
	for _, k := range keys {
		out = append(out, l.logs[k]...)
	}
	return out
}

// PromotePassagesToBookmarks returns the distinct 1-indexed pages cited by
// a message's search results, ascending.
func PromotePassagesToBookmarks(msg Message) []int {
	seen := map[int]bool{}
	var pages []int
	for _, p := range msg.SearchResults {
		pg := p.PageNumber()
		if pg < 1 || seen[pg] {
			continue
		}
		seen[pg] = true
		pages = append(pages, pg)
	}
	sort.Ints(pages)
	return pages
}
