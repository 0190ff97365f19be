package foreach

import (
	"context"
	"sync"
)

// Checkpointer persists the continuation token of a run so it can be resumed
type Checkpointer interface {
	// LoadCheckpoint returns the saved token for the run. ok is false if there is none.
	LoadCheckpoint(ctx context.Context, runID string) (token string, ok bool, err error)
	// SaveCheckpoint saves the token for the run
	SaveCheckpoint(ctx context.Context, runID string, token string) error
	// ClearCheckpoint removes the saved token for the run
	ClearCheckpoint(ctx context.Context, runID string) error
}

// MemoryCheckpointer keeps checkpoints in memory
type MemoryCheckpointer struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewMemoryCheckpointer creates an empty in-memory checkpointer
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{tokens: map[string]string{}}
}

func (m *MemoryCheckpointer) LoadCheckpoint(ctx context.Context, runID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, ok := m.tokens[runID]
	return token, ok, nil
}

func (m *MemoryCheckpointer) SaveCheckpoint(ctx context.Context, runID string, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[runID] = token
	return nil
}

func (m *MemoryCheckpointer) ClearCheckpoint(ctx context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, runID)
	return nil
}

type pageState struct {
	seq          int
	count        int
	done         int
	continuation string
}

// pageTracker finds the continuation token after the last page whose documents, and the documents of
// every earlier page, have all produced a result. Pages are registered in read order.
type pageTracker struct {
	mu      sync.Mutex
	pending []*pageState
	bySeq   map[int]*pageState
}

func newPageTracker() *pageTracker {
	return &pageTracker{bySeq: map[int]*pageState{}}
}

func (p *pageTracker) register(item *Item) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.bySeq[item.Page]; ok {
		return
	}
	state := &pageState{seq: item.Page, count: item.Count, continuation: item.Continuation}
	p.bySeq[item.Page] = state
	p.pending = append(p.pending, state)
}

// complete records a result for the page and returns the new checkpoint if it advanced
func (p *pageTracker) complete(seq int) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if state, ok := p.bySeq[seq]; ok {
		state.done++
	}
	var (
		token    string
		advanced bool
	)
	for len(p.pending) > 0 && p.pending[0].done >= p.pending[0].count {
		token = p.pending[0].continuation
		advanced = true
		delete(p.bySeq, p.pending[0].seq)
		p.pending = p.pending[1:]
	}
	return token, advanced
}
