package actions

import (
	"sync"
	"time"

	"github.com/dshills/codeactions/internal/lsp"
)

// Indicator shows or hides the lightbulb next to a position.
type Indicator interface {
	Show(pos lsp.Position)
	Hide()
}

// Bulb shows an indicator where actions are available, after the cursor
// has rested for the configured delay.
type Bulb struct {
	mu        sync.Mutex
	doc       Document
	cache     *Cache
	indicator Indicator
	delay     time.Duration

	selection *lsp.Position
	timer     *time.Timer
	closed    bool
}

// NewBulb creates a lightbulb for doc requesting through cache.
func NewBulb(doc Document, cache *Cache, indicator Indicator, opts ...Option) *Bulb {
	o := buildOptions(opts)
	return &Bulb{
		doc:       doc,
		cache:     cache,
		indicator: indicator,
		delay:     o.delay,
	}
}

// SelectionChanged hides the indicator and, when the selection moved,
// schedules a request for the new position.
func (b *Bulb) SelectionChanged(pos lsp.Position) {
	b.indicator.Hide()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if b.selection != nil && *b.selection == pos {
		return
	}
	b.selection = &pos

	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.delay, func() { b.fire(pos) })
}

func (b *Bulb) fire(pos lsp.Position) {
	if !b.current(pos) {
		return
	}

	b.cache.Request(b.doc, &pos, func(rs ResultSet) {
		if rs.Count() > 0 && b.current(pos) {
			b.indicator.Show(pos)
		}
	})
}

func (b *Bulb) current(pos lsp.Position) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed && b.selection != nil && *b.selection == pos
}

// Close stops any pending request and hides the indicator.
func (b *Bulb) Close() {
	b.mu.Lock()
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()

	b.indicator.Hide()
}
