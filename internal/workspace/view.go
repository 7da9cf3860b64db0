package workspace

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/codeactions/internal/actions"
	"github.com/dshills/codeactions/internal/document"
	"github.com/dshills/codeactions/internal/lsp"
)

// View is one open document together with its action cache and, when
// enabled, its lightbulb and menu.
type View struct {
	ws    *Workspace
	buf   *document.Buffer
	cache *actions.Cache
	bulb  *actions.Bulb
	menu  *actions.Menu

	mu        sync.Mutex
	overrides map[string]bool
	closed    bool
}

func newView(w *Workspace, buf *document.Buffer) *View {
	v := &View{
		ws:    w,
		buf:   buf,
		cache: actions.NewCache(w.coordinator),
	}

	settings := w.Settings()
	if settings.ShowCodeActionsBulb && w.indicators != nil {
		v.bulb = actions.NewBulb(buf, v.cache, w.indicators(buf),
			actions.WithDelay(settings.BulbDelay()),
			actions.WithLogger(w.logger))
	}
	if w.presenter != nil {
		v.menu = actions.NewMenu(v.cache, w.applier, w.sessions, w.presenter)
	}
	return v
}

// Buffer returns the document.
func (v *View) Buffer() *document.Buffer {
	return v.buf
}

// Cache returns the view's result cache.
func (v *View) Cache() *actions.Cache {
	return v.cache
}

// HasBulb reports whether the view shows a lightbulb.
func (v *View) HasBulb() bool {
	return v.bulb != nil
}

// SetOnSaveOverrides sets per-view on-save kinds, merged over the global ones.
func (v *View) SetOnSaveOverrides(overrides map[string]bool) {
	v.mu.Lock()
	v.overrides = overrides
	v.mu.Unlock()
}

// OnSaveKinds returns the kinds run before this view is saved.
func (v *View) OnSaveKinds() []lsp.CodeActionKind {
	v.mu.Lock()
	overrides := v.overrides
	v.mu.Unlock()
	return actions.EnabledKinds(v.ws.Settings().CodeActionsOnSave, overrides)
}

// SelectionChanged forwards a cursor move to the lightbulb.
func (v *View) SelectionChanged(pos lsp.Position) {
	if v.bulb != nil {
		v.bulb.SelectionChanged(pos)
	}
}

// Request asks for the actions at pos, or for the whole document when
// pos is nil, through the view's cache.
func (v *View) Request(pos *lsp.Position, handler actions.Handler) {
	v.cache.Request(v.buf, pos, handler)
}

// ShowMenu presents the actions at pos. It does nothing without a presenter.
func (v *View) ShowMenu(ctx context.Context, pos lsp.Position) {
	if v.menu != nil {
		v.menu.Show(ctx, v.buf, pos)
	}
}

// BeforeSave runs the on-save actions without writing the file.
func (v *View) BeforeSave(ctx context.Context) actions.SaveReport {
	return v.ws.saveHook.BeforeSave(ctx, v.buf, v.OnSaveKinds())
}

// Save runs the on-save actions and writes the document.
func (v *View) Save(ctx context.Context) (actions.SaveReport, error) {
	report := v.BeforeSave(ctx)
	if err := v.buf.Save(); err != nil {
		return report, fmt.Errorf("save %s: %w", v.buf.Path(), err)
	}
	return report, nil
}

// Close stops the lightbulb, drops the cache and closes the document.
func (v *View) Close(ctx context.Context) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()

	if v.bulb != nil {
		v.bulb.Close()
	}
	v.cache.Close()
	v.ws.closeDocument(ctx, v.buf)
}
