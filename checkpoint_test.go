package foreach

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageTracker(t *testing.T) {
	register := func(p *pageTracker, seq, count int, continuation string) {
		for i := 0; i < count; i++ {
			p.register(&Item{Page: seq, Index: i, Count: count, Continuation: continuation})
		}
	}
	t.Run("advances in page order", func(t *testing.T) {
		p := newPageTracker()
		register(p, 0, 2, "a")
		register(p, 1, 1, "b")
		register(p, 2, 2, "")

		_, advanced := p.complete(1)
		assert.False(t, advanced, "page 0 is still pending")
		_, advanced = p.complete(0)
		assert.False(t, advanced)
		token, advanced := p.complete(0)
		assert.True(t, advanced)
		assert.Equal(t, "b", token, "pages 0 and 1 complete together")
		_, advanced = p.complete(2)
		assert.False(t, advanced)
		token, advanced = p.complete(2)
		assert.True(t, advanced)
		assert.Equal(t, "", token)
	})
	t.Run("unknown pages are ignored", func(t *testing.T) {
		p := newPageTracker()
		_, advanced := p.complete(7)
		assert.False(t, advanced)
	})
}

func TestMemoryCheckpointer(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryCheckpointer()
	_, ok, err := m.LoadCheckpoint(ctx, "run")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, m.SaveCheckpoint(ctx, "run", "token"))
	token, ok, err := m.LoadCheckpoint(ctx, "run")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "token", token)
	require.NoError(t, m.ClearCheckpoint(ctx, "run"))
	_, ok, _ = m.LoadCheckpoint(ctx, "run")
	assert.False(t, ok)
}

func TestKeyLock(t *testing.T) {
	k := newKeyLock()
	ctx := context.Background()
	require.NoError(t, k.acquire(ctx, "a"))
	require.NoError(t, k.acquire(ctx, "b"))

	acquired := make(chan struct{})
	go func() {
		_ = k.acquire(ctx, "a")
		close(acquired)
	}()
	select {
	case <-acquired:
		t.Fatal("acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}
	k.release("a")
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("released key was not acquired")
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, k.acquire(cctx, "b"), context.Canceled)
}

func TestSummary(t *testing.T) {
	s := newSummary("run")
	assert.Equal(t, 1, s.add(RunResult{ID: "1", Kind: Delete, Success: true, Attempts: 1}))
	s.add(RunResult{ID: "2", Kind: Replace, Success: true, Attempts: 2})
	s.add(RunResult{ID: "3", Kind: Log, Success: true})
	s.add(RunResult{ID: "4", Kind: NoOp, Success: true})
	assert.Equal(t, 5, s.add(RunResult{ID: "5", Kind: Delete, Err: &MutationFailedError{ID: "5", Kind: Delete, Attempts: 1}}))
	s.setCheckpoint("token")
	s.finish(false, false)

	assert.Equal(t, []string{"5"}, s.FailedIDs())
	tags := s.Tags()
	assert.Equal(t, 5, tags["processed"])
	assert.Equal(t, 1, tags["deleted"])
	assert.Equal(t, 1, tags["failed"])

	bits, err := json.Marshal(s)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(bits, &decoded))
	assert.Equal(t, "run", decoded["runId"])
	assert.EqualValues(t, 5, decoded["processed"])
	assert.Equal(t, "token", decoded["checkpoint"])
	assert.NotEmpty(t, decoded["elapsed"])
	failures := decoded["failures"].([]any)
	require.Len(t, failures, 1)
	failure := failures[0].(map[string]any)
	assert.Equal(t, "delete", failure["kind"])
	assert.Contains(t, failure["error"], "delete 5 failed")
}
