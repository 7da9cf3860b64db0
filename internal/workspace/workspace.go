// Package workspace wires language server sessions, open documents and
// the code action machinery together.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/codeactions/internal/actions"
	"github.com/dshills/codeactions/internal/config"
	"github.com/dshills/codeactions/internal/diagnostics"
	"github.com/dshills/codeactions/internal/document"
	"github.com/dshills/codeactions/internal/logging"
	"github.com/dshills/codeactions/internal/lsp"
	"github.com/dshills/codeactions/internal/plugin"
)

// notifyTimeout bounds document sync notifications.
const notifyTimeout = 2 * time.Second

// IndicatorFunc creates the lightbulb indicator of a newly opened view.
type IndicatorFunc func(buf *document.Buffer) actions.Indicator

// Option configures a Workspace.
type Option func(*Workspace)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(w *Workspace) { w.logger = logger }
}

// WithPlugins sets the plugin registry whose descriptors become sessions.
// The default is plugin.Default().
func WithPlugins(r *plugin.Registry) Option {
	return func(w *Workspace) { w.plugins = r }
}

// WithWorkspaceFolders sets the folders sent to servers on initialize.
func WithWorkspaceFolders(folders []lsp.WorkspaceFolder) Option {
	return func(w *Workspace) { w.folders = folders }
}

// WithIndicators enables lightbulbs on new views, drawn by indicators.
func WithIndicators(fn IndicatorFunc) Option {
	return func(w *Workspace) { w.indicators = fn }
}

// WithPresenter enables the actions menu on new views.
func WithPresenter(p actions.Presenter) Option {
	return func(w *Workspace) { w.presenter = p }
}

// Workspace owns the sessions and the open documents.
type Workspace struct {
	settingsMu sync.RWMutex
	settings   *config.Settings

	logger     *logging.Logger
	plugins    *plugin.Registry
	folders    []lsp.WorkspaceFolder
	indicators IndicatorFunc
	presenter  actions.Presenter

	manager     *lsp.Manager
	store       *document.Store
	diagnostics *diagnostics.Registry
	sessions    sessionRegistry
	coordinator *actions.Coordinator
	applier     *actions.Applier
	saveHook    *actions.SaveHook

	mu    sync.Mutex
	views map[lsp.DocumentURI]*View

	// syncMu serializes document sync so servers see revisions in order.
	syncMu sync.Mutex
	synced map[lsp.DocumentURI]int

	// published holds a channel per document, closed once any session
	// has published diagnostics for it.
	publishedMu sync.Mutex
	published   map[lsp.DocumentURI]chan struct{}

	watchMu sync.Mutex
	watcher *config.Watcher
}

// New creates a workspace. Sessions are created by Start.
func New(settings *config.Settings, opts ...Option) *Workspace {
	if settings == nil {
		settings = config.Defaults()
	}

	w := &Workspace{
		settings:  settings,
		logger:    logging.Nop(),
		plugins:   plugin.Default(),
		store:     document.NewStore(),
		views:     make(map[lsp.DocumentURI]*View),
		synced:    make(map[lsp.DocumentURI]int),
		published: make(map[lsp.DocumentURI]chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.WithComponent("workspace")

	w.diagnostics = diagnostics.NewRegistry(
		diagnostics.WithMinSeverity(diagnostics.ParseSeverity(settings.MinDiagnosticSeverity)),
		diagnostics.WithChangeHandler(w.diagnosticsChanged),
	)
	w.applier = actions.NewApplier(w.store, actions.WithLogger(w.logger))
	w.manager = lsp.NewManager(
		lsp.WithLogger(w.logger),
		lsp.WithWorkspaceFolders(w.folders),
		lsp.WithDiagnosticsHandler(w.diagnostics.Update),
		lsp.WithApplyEditHandler(w.applyEdit),
		lsp.WithExitHandler(w.sessionExited),
	)
	w.sessions = sessionRegistry{manager: w.manager}
	w.coordinator = actions.NewCoordinator(w.sessions, w.diagnostics,
		actions.WithLogger(w.logger),
		actions.WithTimeout(settings.RequestTimeout()),
	)
	w.saveHook = actions.NewSaveHook(w.coordinator, w.applier, w.sessions, w,
		actions.WithLogger(w.logger))

	w.store.OnChange(w.documentChanged)
	return w
}

// Start registers a session for every plugin and configured server and
// starts them. Configured servers take precedence over plugins with the
// same name. Sessions that fail to start are left out; the error reports
// them and any plugin file that failed to load.
func (w *Workspace) Start(ctx context.Context) error {
	settings := w.Settings()
	var errs []error

	for _, path := range settings.Plugins {
		if _, err := w.plugins.LoadLua(path); err != nil {
			w.logger.Warn("plugin %s: %v", path, err)
			errs = append(errs, err)
		}
	}

	for _, d := range w.plugins.All() {
		if _, configured := settings.Servers[d.Name]; configured {
			continue
		}
		cfg := d.ServerConfig()
		cfg.Timeout = settings.RequestTimeout()
		w.manager.Register(d.Name, cfg)
	}

	for _, name := range settings.ServerNames() {
		s := settings.Servers[name]
		w.manager.Register(name, lsp.ServerConfig{
			Command:      s.Command,
			Args:         s.Args,
			Env:          s.Env,
			LanguageIDs:  s.Languages,
			FilePatterns: s.FilePatterns,
			Timeout:      settings.RequestTimeout(),
		})
	}

	if err := w.manager.StartAll(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Shutdown stops watching settings, closes every view and stops every
// session.
func (w *Workspace) Shutdown(ctx context.Context) error {
	w.watchMu.Lock()
	watcher := w.watcher
	w.watcher = nil
	w.watchMu.Unlock()

	var errs []error
	if watcher != nil {
		errs = append(errs, watcher.Close())
	}

	for _, uri := range w.store.Documents() {
		if v, ok := w.View(uri); ok {
			v.Close(ctx)
		}
	}
	errs = append(errs, w.manager.ShutdownAll(ctx))
	return errors.Join(errs...)
}

// WatchSettings reloads the settings from path whenever the file changes.
// A file that fails to load is logged and the current settings are kept.
// Watching stops at Shutdown.
func (w *Workspace) WatchSettings(path string, opts ...config.WatchOption) error {
	watcher, err := config.Watch(path, func(s *config.Settings, err error) {
		if err != nil {
			w.logger.Warn("reload %s: %v", path, err)
			return
		}
		w.logger.Info("settings reloaded from %s", path)
		w.SetSettings(s)
	}, opts...)
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	w.watchMu.Lock()
	previous := w.watcher
	w.watcher = watcher
	w.watchMu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}
	return nil
}

// Settings returns the current settings.
func (w *Workspace) Settings() *config.Settings {
	w.settingsMu.RLock()
	defer w.settingsMu.RUnlock()
	return w.settings
}

// SetSettings replaces the settings, as after a reload. On-save kinds take
// effect at the next save; lightbulb settings apply to views opened later.
func (w *Workspace) SetSettings(s *config.Settings) {
	w.settingsMu.Lock()
	w.settings = s
	w.settingsMu.Unlock()

	w.logger.SetLevel(logging.ParseLevel(s.LogLevel))
	w.diagnostics.SetMinSeverity(diagnostics.ParseSeverity(s.MinDiagnosticSeverity))
}

// WaitDiagnostics blocks until some session has published diagnostics for
// uri, or ctx ends. It reports whether diagnostics arrived.
func (w *Workspace) WaitDiagnostics(ctx context.Context, uri lsp.DocumentURI) bool {
	select {
	case <-w.publishedChan(uri):
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *Workspace) publishedChan(uri lsp.DocumentURI) chan struct{} {
	w.publishedMu.Lock()
	defer w.publishedMu.Unlock()
	return w.publishedLocked(uri)
}

func (w *Workspace) publishedLocked(uri lsp.DocumentURI) chan struct{} {
	ch, ok := w.published[uri]
	if !ok {
		ch = make(chan struct{})
		w.published[uri] = ch
	}
	return ch
}

func (w *Workspace) diagnosticsChanged(uri lsp.DocumentURI) {
	w.publishedMu.Lock()
	defer w.publishedMu.Unlock()

	ch := w.publishedLocked(uri)
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// sessionExited drops what a lost session published so its diagnostics no
// longer scope requests.
func (w *Workspace) sessionExited(name string, err error) {
	w.logger.Warn("session %s lost: %v", name, err)
	w.diagnostics.ClearServer(name)
}

// Manager returns the session manager.
func (w *Workspace) Manager() *lsp.Manager {
	return w.manager
}

// Store returns the document store.
func (w *Workspace) Store() *document.Store {
	return w.store
}

// Diagnostics returns the diagnostics registry.
func (w *Workspace) Diagnostics() *diagnostics.Registry {
	return w.diagnostics
}

// Coordinator returns the request coordinator.
func (w *Workspace) Coordinator() *actions.Coordinator {
	return w.coordinator
}

// Applier returns the edit applier.
func (w *Workspace) Applier() *actions.Applier {
	return w.applier
}

// Sessions returns the sessions registry used for dispatch.
func (w *Workspace) Sessions() actions.SessionRegistry {
	return w.sessions
}

// View returns the open view of uri.
func (w *Workspace) View(uri lsp.DocumentURI) (*View, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.views[uri]
	return v, ok
}

// Open opens a document, announces it to the sessions serving it and
// returns its view.
func (w *Workspace) Open(ctx context.Context, path, languageID, content string) (*View, error) {
	if languageID == "" {
		languageID = lsp.DetectLanguageID(path)
	}

	buf, err := w.store.Open(path, languageID, content)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	w.syncMu.Lock()
	content, revision := buf.Snapshot()
	for _, s := range w.manager.SessionsFor(path) {
		if !s.IsConnected() {
			continue
		}
		nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		if err := s.OpenDocument(nctx, buf.URI(), languageID, revision, content); err != nil {
			w.logger.Debug("didOpen %s to %s: %v", buf.URI(), s.Name(), err)
		}
		cancel()
	}
	w.synced[buf.URI()] = revision
	w.syncMu.Unlock()

	v := newView(w, buf)

	w.mu.Lock()
	w.views[buf.URI()] = v
	w.mu.Unlock()

	w.logger.Debug("opened %s at revision %d", buf.URI(), revision)
	return v, nil
}

// Flush sends the live content of uri to its sessions if they have not
// seen the current revision yet.
func (w *Workspace) Flush(uri lsp.DocumentURI) {
	buf, ok := w.store.Get(uri)
	if !ok {
		return
	}
	content, revision := buf.Snapshot()
	w.sync(buf, revision, content)
}

func (w *Workspace) documentChanged(buf *document.Buffer, revision int, content string) {
	w.sync(buf, revision, content)
}

// sync sends a full-content change carrying revision as the version.
func (w *Workspace) sync(buf *document.Buffer, revision int, content string) {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()

	if last, ok := w.synced[buf.URI()]; !ok || revision <= last {
		return
	}
	w.synced[buf.URI()] = revision

	for _, s := range w.manager.SessionsFor(buf.Path()) {
		if !s.IsDocumentOpen(buf.URI()) {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		if err := s.ChangeDocument(ctx, buf.URI(), revision, content); err != nil {
			w.logger.Debug("didChange %s to %s: %v", buf.URI(), s.Name(), err)
		}
		cancel()
	}
}

// applyEdit answers workspace/applyEdit requests from servers.
func (w *Workspace) applyEdit(_ context.Context, server string, edit lsp.WorkspaceEdit) bool {
	result := w.applier.ApplyEdit(edit)
	if !result.AllApplied() {
		w.logger.Info("edit from %s: %d stale, %d failed", server, len(result.Stale), len(result.Failed))
	}
	return result.AllApplied()
}

// closeDocument tears down the per-document state of uri.
func (w *Workspace) closeDocument(ctx context.Context, buf *document.Buffer) {
	w.mu.Lock()
	delete(w.views, buf.URI())
	w.mu.Unlock()

	w.publishedMu.Lock()
	delete(w.published, buf.URI())
	w.publishedMu.Unlock()

	w.syncMu.Lock()
	delete(w.synced, buf.URI())
	for _, s := range w.manager.SessionsFor(buf.Path()) {
		if !s.IsDocumentOpen(buf.URI()) {
			continue
		}
		nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		if err := s.CloseDocument(nctx, buf.URI()); err != nil {
			w.logger.Debug("didClose %s to %s: %v", buf.URI(), s.Name(), err)
		}
		cancel()
	}
	w.syncMu.Unlock()

	w.diagnostics.ClearDocument(buf.URI())
	if err := w.store.Close(buf.URI()); err != nil {
		w.logger.Debug("close %s: %v", buf.URI(), err)
	}
}

// sessionRegistry exposes the manager's sessions to the coordinator.
type sessionRegistry struct {
	manager *lsp.Manager
}

func (r sessionRegistry) SessionsFor(doc actions.Document, _ *lsp.Position) []actions.Session {
	servers := r.manager.SessionsFor(lsp.URIToFilePath(doc.URI()))
	out := make([]actions.Session, 0, len(servers))
	for _, s := range servers {
		out = append(out, s)
	}
	return out
}
