package actions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeactions/internal/lsp"
)

func receive(t *testing.T, ch chan ResultSet) ResultSet {
	t.Helper()
	select {
	case rs := <-ch:
		return rs
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
		return nil
	}
}

func TestCacheCoalescesIdenticalRequests(t *testing.T) {
	s := newSession("ts", `[{"title":"Fix"}]`)
	s.hold = make(chan struct{})
	cache := NewCache(NewCoordinator(fakeRegistry{s}, nil))
	defer cache.Close()
	doc := testDoc()

	first, firstCh := waitHandler()
	second, secondCh := waitHandler()

	cache.Request(doc, at(0, 4), first)
	cache.Request(doc, at(0, 4), second)

	// The second caller sees the pending snapshot at once.
	assert.Empty(t, receive(t, secondCh))

	close(s.hold)
	assert.Equal(t, ResultSet{"ts": {{Title: "Fix"}}}, receive(t, firstCh))
	assert.Len(t, s.requests(lsp.MethodCodeAction), 1)

	// A hit after completion replays the results.
	third, thirdCh := waitHandler()
	cache.Request(doc, at(0, 4), third)
	assert.Equal(t, ResultSet{"ts": {{Title: "Fix"}}}, receive(t, thirdCh))
	assert.Len(t, s.requests(lsp.MethodCodeAction), 1)
}

func TestCacheNewKeyReplacesEntry(t *testing.T) {
	s := newSession("ts", `[]`)
	cache := NewCache(NewCoordinator(fakeRegistry{s}, nil))
	defer cache.Close()
	doc := testDoc()

	h, ch := waitHandler()
	cache.Request(doc, at(0, 1), h)
	receive(t, ch)

	cache.Request(doc, at(0, 2), h)
	receive(t, ch)
	key, ok := cache.Key()
	require.True(t, ok)
	assert.Equal(t, lsp.Position{Line: 0, Character: 2}, key.Position)

	// Moving back does not revive the old entry.
	cache.Request(doc, at(0, 1), h)
	receive(t, ch)

	// A new revision at the same position is a different intent.
	doc.revision++
	cache.Request(doc, at(0, 1), h)
	receive(t, ch)

	// Whole-document requests have their own key.
	cache.Request(doc, nil, h)
	receive(t, ch)

	assert.Len(t, s.requests(lsp.MethodCodeAction), 5)
}

func TestCacheInvalidateAndClose(t *testing.T) {
	s := newSession("ts", `[]`)
	s.hold = make(chan struct{})
	cache := NewCache(NewCoordinator(fakeRegistry{s}, nil))
	doc := testDoc()

	h, ch := waitHandler()
	cache.Request(doc, at(0, 1), h)

	cache.Invalidate()
	_, ok := cache.Key()
	assert.False(t, ok)

	// Closing cancels the request in flight; its collector still completes.
	cache.Close()
	assert.Equal(t, ResultSet{"ts": {}}, receive(t, ch))

	cache.Request(doc, at(0, 1), h)
	select {
	case <-ch:
		t.Fatal("closed cache must not answer")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestKeyFor(t *testing.T) {
	doc := testDoc()
	assert.Equal(t, RequestKey{URI: doc.uri, Revision: 3, Whole: true}, KeyFor(doc, nil))
	assert.Equal(t,
		RequestKey{URI: doc.uri, Revision: 3, Position: lsp.Position{Line: 1, Character: 1}},
		KeyFor(doc, at(1, 1)))
	assert.NotEqual(t, KeyFor(doc, nil), KeyFor(doc, at(0, 0)))
}
