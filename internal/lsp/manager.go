package lsp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/codeactions/internal/logging"
)

// Manager owns the language server sessions of one workspace. Sessions are
// keyed by configuration name, and a file may be served by several of them.
type Manager struct {
	mu      sync.RWMutex
	servers map[string]*Server
	order   []string

	workspaceFolders []WorkspaceFolder
	logger           *logging.Logger

	diagHandler      DiagnosticsHandler
	applyEditHandler ApplyEditHandler
	exitHandler      ExitHandler

	done     chan struct{}
	doneOnce sync.Once
}

// ExitHandler observes a session that ended outside of a shutdown. err is
// the session's last error.
type ExitHandler func(server string, err error)

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger handed to every session.
func WithLogger(logger *logging.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithDiagnosticsHandler forwards diagnostics published by any session.
func WithDiagnosticsHandler(h DiagnosticsHandler) ManagerOption {
	return func(m *Manager) {
		m.diagHandler = h
	}
}

// WithApplyEditHandler answers workspace/applyEdit requests from any session.
func WithApplyEditHandler(h ApplyEditHandler) ManagerOption {
	return func(m *Manager) {
		m.applyEditHandler = h
	}
}

// WithExitHandler is called once for every session whose process exits or
// whose stream closes before ShutdownAll.
func WithExitHandler(h ExitHandler) ManagerOption {
	return func(m *Manager) {
		m.exitHandler = h
	}
}

// WithWorkspaceFolders sets the folders sent during initialize.
func WithWorkspaceFolders(folders []WorkspaceFolder) ManagerOption {
	return func(m *Manager) {
		m.workspaceFolders = folders
	}
}

// NewManager creates a new session manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		servers: make(map[string]*Server),
		logger:  logging.Nop(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a session under name. The session is not started.
func (m *Manager) Register(name string, config ServerConfig) *Server {
	server := NewServer(name, config, m.logger)
	m.Add(server)
	return server
}

// Add adds an already constructed session, replacing any with the same name.
func (m *Manager) Add(server *Server) {
	if m.diagHandler != nil {
		server.OnDiagnostics(m.diagHandler)
	}
	if m.applyEditHandler != nil {
		server.OnApplyEdit(m.applyEditHandler)
	}
	if m.exitHandler != nil {
		go m.watchExit(server)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.servers[server.Name()]; !exists {
		m.order = append(m.order, server.Name())
		sort.Strings(m.order)
	}
	m.servers[server.Name()] = server
}

func (m *Manager) watchExit(server *Server) {
	select {
	case err := <-server.ExitChannel():
		if last := server.LastError(); last != nil {
			err = last
		}
		m.logger.Warn("session %s ended: %v", server.Name(), err)
		m.exitHandler(server.Name(), err)
	case <-m.done:
	}
}

// Session returns the session registered under name.
func (m *Manager) Session(name string) (*Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	server, ok := m.servers[name]
	if !ok {
		return nil, &ServerError{Server: name, Err: ErrNoServer}
	}
	return server, nil
}

// Sessions returns all sessions in name order.
func (m *Manager) Sessions() []*Server {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Server, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.servers[name])
	}
	return out
}

// SessionsFor returns the sessions configured for path, in name order.
func (m *Manager) SessionsFor(path string) []*Server {
	var out []*Server
	for _, server := range m.Sessions() {
		if server.MatchesFile(path) {
			out = append(out, server)
		}
	}
	return out
}

// StartAll starts every stopped session concurrently. A session that fails
// to start is logged and left in the error state; the returned error joins
// all failures.
func (m *Manager) StartAll(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)

	for _, server := range m.Sessions() {
		if server.Status() != ServerStatusStopped || server.config.Command == "" {
			continue
		}
		g.Go(func() error {
			if err := server.Start(ctx, m.workspaceFolders); err != nil {
				m.logger.Warn("start %s: %v", server.Name(), err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// ShutdownAll shuts down every session concurrently. Exits after this
// point are not reported.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	m.doneOnce.Do(func() { close(m.done) })

	g, ctx := errgroup.WithContext(ctx)
	for _, server := range m.Sessions() {
		g.Go(func() error {
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("shutdown %s: %w", server.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// WorkspaceFolders returns the folders sent during initialize.
func (m *Manager) WorkspaceFolders() []WorkspaceFolder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.workspaceFolders
}
