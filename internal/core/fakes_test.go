package core

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"procura.dev/bid-workbench/internal/store"
)

// fakeSearch returns canned passages and records every call. block, when
// set, is waited on before answering.
type fakeSearch struct {
	mu       sync.Mutex
	passages []Passage
	err      error
	calls    []string
	block    chan struct{}
	started  chan struct{}
}

func (f *fakeSearch) Search(ctx context.Context, documentID, query string, maxResults int) ([]Passage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, query)
	block, started := f.block, f.started
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, f.err
	}
	return append([]Passage(nil), f.passages...), nil
}

func (f *fakeSearch) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeGeneration struct {
	mu       sync.Mutex
	response string
	err      error
	prompts  []string
}

func (f *fakeGeneration) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, req.Prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

// memoryPersistence keeps the saved document as JSON so every load goes
// through the same decoding as a real store.
type memoryPersistence struct {
	mu      sync.Mutex
	body    []byte
	loadErr error
	saveErr error
	saves   int
}

func (m *memoryPersistence) Load(ctx context.Context) (*store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.body == nil {
		return nil, store.ErrDocumentNotFound
	}
	var doc store.Document
	if err := json.Unmarshal(m.body, &doc); err != nil {
		return nil, store.ErrMalformedDocument
	}
	return &doc, nil
}

func (m *memoryPersistence) Save(ctx context.Context, doc *store.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	m.body = body
	m.saves++
	return nil
}

func (m *memoryPersistence) saved() *store.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.body == nil {
		return nil
	}
	var doc store.Document
	if err := json.Unmarshal(m.body, &doc); err != nil {
		return nil
	}
	return &doc
}

type fakePages map[int]string

func (f fakePages) PageText(ctx context.Context, page int) (string, error) {
	if t, ok := f[page]; ok {
		return t, nil
	}
	return "", context.DeadlineExceeded
}

var testEpoch = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

// steppingClock advances one second on every reading.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := testEpoch
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func score(v float64) *float64 { return &v }

var (
	abhiraj  = Individual("Abhiraj")
	shraddha = Individual("Shraddha")
	shankar  = Individual("Shankar")
)
