package actions

import (
	"context"
	"sync"

	"github.com/dshills/codeactions/internal/lsp"
)

// Cache remembers the most recent non-blocking dispatch of one document
// view. A request with the same key as the remembered one replays its
// current results instead of dispatching again; any other key replaces it.
type Cache struct {
	mu          sync.Mutex
	coordinator *Coordinator
	entry       *cacheEntry
	closed      bool

	ctx    context.Context
	cancel context.CancelFunc
}

// cacheEntry is stored before dispatch so concurrent requests with the
// same key coalesce; collector is filled in once Dispatch returns.
type cacheEntry struct {
	key       RequestKey
	collector *Collector
}

// NewCache creates a cache dispatching through coordinator.
func NewCache(coordinator *Coordinator) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		coordinator: coordinator,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Request asks for actions at pos, or for the whole document when pos is
// nil. On a hit the remembered collector's current snapshot is passed to
// handler at once, which is empty while that dispatch is still pending. On
// a miss the previous entry is dropped and a new dispatch delivers to
// handler when it completes.
func (c *Cache) Request(doc Document, pos *lsp.Position, handler Handler) {
	key := KeyFor(doc, pos)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.entry != nil && c.entry.key == key {
		collector := c.entry.collector
		c.mu.Unlock()

		results := ResultSet{}
		if collector != nil {
			results = collector.Results()
		}
		if handler != nil {
			handler(results)
		}
		return
	}
	entry := &cacheEntry{key: key}
	c.entry = entry
	ctx := c.ctx
	c.mu.Unlock()

	collector := c.coordinator.Dispatch(ctx, doc, pos, NonBlocking, nil, handler)

	c.mu.Lock()
	if c.entry == entry {
		entry.collector = collector
	}
	c.mu.Unlock()
}

// Key returns the key of the remembered request.
func (c *Cache) Key() (RequestKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil {
		return RequestKey{}, false
	}
	return c.entry.key, true
}

// Invalidate forgets the remembered request. Responses still in flight for
// it are recorded by its collector but no longer replayed.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entry = nil
	c.mu.Unlock()
}

// Close drops the remembered request and cancels requests in flight.
// Later calls to Request do nothing.
func (c *Cache) Close() {
	c.mu.Lock()
	c.entry = nil
	c.closed = true
	c.mu.Unlock()
	c.cancel()
}
