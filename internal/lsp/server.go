package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dshills/codeactions/internal/logging"
)

// ServerStatus indicates the current state of a server.
type ServerStatus int

const (
	ServerStatusStopped ServerStatus = iota
	ServerStatusStarting
	ServerStatusInitializing
	ServerStatusReady
	ServerStatusShuttingDown
	ServerStatusError
)

// String returns a human-readable status name.
func (s ServerStatus) String() string {
	switch s {
	case ServerStatusStopped:
		return "stopped"
	case ServerStatusStarting:
		return "starting"
	case ServerStatusInitializing:
		return "initializing"
	case ServerStatusReady:
		return "ready"
	case ServerStatusShuttingDown:
		return "shutting down"
	case ServerStatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ServerConfig defines how to start a language server.
type ServerConfig struct {
	// Command is the executable to run.
	Command string

	// Args are command-line arguments.
	Args []string

	// Env are additional environment variables.
	Env map[string]string

	// WorkDir is the working directory (defaults to workspace root).
	WorkDir string

	// InitializationOptions are sent during initialize.
	InitializationOptions any

	// FilePatterns that this server handles (e.g., "*.go").
	FilePatterns []string

	// LanguageIDs that this server handles (e.g., "go").
	LanguageIDs []string

	// Timeout for requests (default: 10s).
	Timeout time.Duration
}

// DiagnosticsHandler receives diagnostics published by a named server.
type DiagnosticsHandler func(server string, uri DocumentURI, diagnostics []Diagnostic)

// ApplyEditHandler applies a workspace edit requested by a named server
// and reports whether it was applied.
type ApplyEditHandler func(ctx context.Context, server string, edit WorkspaceEdit) bool

// Server is one connected language server session. Its name is the
// configuration name and identifies it among the sessions of a workspace.
type Server struct {
	mu sync.Mutex

	name   string
	config ServerConfig
	logger *logging.Logger

	cmd       *exec.Cmd
	transport *Transport

	status       atomic.Int32
	capsMu       sync.RWMutex
	capabilities json.RawMessage
	serverInfo   *InitializeServerInfo

	errMu     sync.Mutex
	lastError error

	// Versions of documents opened on this server.
	documents   map[DocumentURI]int
	documentsMu sync.RWMutex

	diagHandler      DiagnosticsHandler
	applyEditHandler ApplyEditHandler
	handlersMu       sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	exitCh chan error
}

// NewServer creates a new server instance (not yet started).
func NewServer(name string, config ServerConfig, logger *logging.Logger) *Server {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}

	s := &Server{
		name:      name,
		config:    config,
		logger:    logger.WithField("server", name),
		documents: make(map[DocumentURI]int),
		exitCh:    make(chan error, 1),
	}
	s.status.Store(int32(ServerStatusStopped))
	return s
}

// Start launches the language server process and performs the initialize handshake.
func (s *Server) Start(ctx context.Context, workspaceFolders []WorkspaceFolder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status() != ServerStatusStopped {
		return fmt.Errorf("server %s already started", s.name)
	}
	s.status.Store(int32(ServerStatusStarting))
	s.ctx, s.cancel = context.WithCancel(ctx)

	stdin, stdout, err := s.startProcess(workspaceFolders)
	if err != nil {
		s.fail(err)
		return &ServerError{Server: s.name, Err: err}
	}

	return s.handshake(NewTransport(stdout, stdin, stdin), workspaceFolders)
}

// Connect performs the initialize handshake over an already established
// stream, such as a socket or an in-process pipe.
func (s *Server) Connect(ctx context.Context, conn io.ReadWriteCloser, workspaceFolders []WorkspaceFolder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status() != ServerStatusStopped {
		return fmt.Errorf("server %s already started", s.name)
	}
	s.status.Store(int32(ServerStatusStarting))
	s.ctx, s.cancel = context.WithCancel(ctx)

	return s.handshake(NewTransport(conn, conn, conn), workspaceFolders)
}

// handshake must be called with s.mu held.
func (s *Server) handshake(transport *Transport, workspaceFolders []WorkspaceFolder) error {
	s.transport = transport
	s.registerHandlers()
	s.transport.Start(s.ctx)
	go s.watchTransport(transport)

	s.status.Store(int32(ServerStatusInitializing))
	if err := s.initialize(s.ctx, workspaceFolders); err != nil {
		s.fail(err)
		s.stopProcess()
		return &ServerError{Server: s.name, Err: fmt.Errorf("initialize: %w", err)}
	}

	s.status.Store(int32(ServerStatusReady))
	s.logger.Info("session ready")
	return nil
}

func (s *Server) fail(err error) {
	s.status.Store(int32(ServerStatusError))
	s.setLastError(err)
	s.logger.Error("session failed: %v", err)
}

func (s *Server) setLastError(err error) {
	s.errMu.Lock()
	s.lastError = err
	s.errMu.Unlock()
}

// watchTransport moves a ready session to the error state when its stream
// ends without a shutdown, and reports the exit.
func (s *Server) watchTransport(transport *Transport) {
	<-transport.Done()

	if !s.status.CompareAndSwap(int32(ServerStatusReady), int32(ServerStatusError)) &&
		!s.status.CompareAndSwap(int32(ServerStatusInitializing), int32(ServerStatusError)) {
		return
	}
	s.setLastError(ErrConnectionLost)
	s.logger.Warn("connection lost")
	s.reportExit(ErrConnectionLost)
}

// reportExit delivers the first exit of the session to ExitChannel.
func (s *Server) reportExit(err error) {
	select {
	case s.exitCh <- err:
	default:
	}
}

func (s *Server) startProcess(workspaceFolders []WorkspaceFolder) (io.WriteCloser, io.ReadCloser, error) {
	cmd := exec.CommandContext(s.ctx, s.config.Command, s.config.Args...)

	cmd.Env = os.Environ()
	for k, v := range s.config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	if s.config.WorkDir != "" {
		cmd.Dir = s.config.WorkDir
	} else if len(workspaceFolders) > 0 {
		cmd.Dir = URIToFilePath(workspaceFolders[0].URI)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, nil, fmt.Errorf("start process: %w", err)
	}

	s.cmd = cmd
	go s.monitorProcess()

	return stdin, stdout, nil
}

func (s *Server) monitorProcess() {
	err := s.cmd.Wait()
	if s.status.CompareAndSwap(int32(ServerStatusReady), int32(ServerStatusError)) {
		s.logger.Warn("server process exited: %v", err)
	}
	if err != nil {
		s.setLastError(err)
	}
	s.reportExit(err)
}

func (s *Server) stopProcess() {
	if s.transport != nil {
		s.transport.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

func (s *Server) initialize(ctx context.Context, workspaceFolders []WorkspaceFolder) error {
	var rootURI DocumentURI
	if len(workspaceFolders) > 0 {
		rootURI = workspaceFolders[0].URI
	}

	params := InitializeParams{
		ProcessID:             os.Getpid(),
		RootURI:               rootURI,
		Capabilities:          DefaultClientCapabilities(),
		InitializationOptions: s.config.InitializationOptions,
		WorkspaceFolders:      workspaceFolders,
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	var result InitializeResult
	if err := s.transport.Call(ctx, "initialize", params, &result); err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	s.capsMu.Lock()
	s.capabilities = result.Capabilities
	s.serverInfo = result.ServerInfo
	s.capsMu.Unlock()

	if err := s.transport.Notify(ctx, "initialized", InitializedParams{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	return nil
}

func (s *Server) registerHandlers() {
	s.transport.OnNotification("textDocument/publishDiagnostics", func(method string, params json.RawMessage) {
		var p PublishDiagnosticsParams
		if err := json.Unmarshal(params, &p); err != nil {
			s.logger.Debug("malformed diagnostics: %v", err)
			return
		}

		s.handlersMu.RLock()
		handler := s.diagHandler
		s.handlersMu.RUnlock()

		if handler != nil {
			handler(s.name, p.URI, p.Diagnostics)
		}
	})

	s.transport.OnNotification("window/logMessage", func(method string, params json.RawMessage) {
		s.logger.Debug("%s", gjson.GetBytes(params, "message").String())
	})

	s.transport.OnRequest("workspace/applyEdit", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			Edit WorkspaceEdit `json:"edit"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode applyEdit: %w", err)
		}

		s.handlersMu.RLock()
		handler := s.applyEditHandler
		s.handlersMu.RUnlock()

		applied := handler != nil && handler(ctx, s.name, p.Edit)
		return map[string]bool{"applied": applied}, nil
	})
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.Status()
	if status == ServerStatusStopped || status == ServerStatusShuttingDown {
		return nil
	}

	s.status.Store(int32(ServerStatusShuttingDown))

	if s.transport != nil && !s.transport.IsClosed() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		_ = s.transport.Call(shutdownCtx, "shutdown", nil, nil)
		_ = s.transport.Notify(shutdownCtx, "exit", nil)
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.stopProcess()

	s.status.Store(int32(ServerStatusStopped))
	s.logger.Info("session stopped")
	return nil
}

// Name returns the configuration name of the session.
func (s *Server) Name() string {
	return s.name
}

// Status returns the current server status.
func (s *Server) Status() ServerStatus {
	return ServerStatus(s.status.Load())
}

// IsConnected reports whether the session can accept requests.
func (s *Server) IsConnected() bool {
	return s.Status() == ServerStatusReady && s.transport != nil && !s.transport.IsClosed()
}

// HasCapability reports whether the server advertised the named capability.
// The name is a path into the capabilities object, e.g. "codeActionProvider"
// or "codeActionProvider.resolveProvider". An explicit false or null counts
// as absent; an object counts as present.
func (s *Server) HasCapability(name string) bool {
	s.capsMu.RLock()
	caps := s.capabilities
	s.capsMu.RUnlock()

	r := gjson.GetBytes(caps, name)
	return r.Exists() && r.Type != gjson.Null && r.Type != gjson.False
}

// CodeActionKinds returns the code action kinds the server declared, if any.
func (s *Server) CodeActionKinds() []CodeActionKind {
	s.capsMu.RLock()
	caps := s.capabilities
	s.capsMu.RUnlock()

	var kinds []CodeActionKind
	gjson.GetBytes(caps, "codeActionProvider.codeActionKinds").ForEach(func(_, v gjson.Result) bool {
		kinds = append(kinds, CodeActionKind(v.String()))
		return true
	})
	return kinds
}

// InitializeServerInfo returns information about the server from initialization.
func (s *Server) InitializeServerInfo() *InitializeServerInfo {
	s.capsMu.RLock()
	defer s.capsMu.RUnlock()
	return s.serverInfo
}

// LastError returns the last error that occurred.
func (s *Server) LastError() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastError
}

// ExitChannel receives once when the session ends: its process exits or
// its stream closes outside of Shutdown.
func (s *Server) ExitChannel() <-chan error {
	return s.exitCh
}

// OnDiagnostics registers a handler for diagnostic notifications.
func (s *Server) OnDiagnostics(handler DiagnosticsHandler) {
	s.handlersMu.Lock()
	s.diagHandler = handler
	s.handlersMu.Unlock()
}

// OnApplyEdit registers a handler for workspace/applyEdit requests.
func (s *Server) OnApplyEdit(handler ApplyEditHandler) {
	s.handlersMu.Lock()
	s.applyEditHandler = handler
	s.handlersMu.Unlock()
}

// --- Requests ---

// Execute sends a request and blocks until the response arrives; the
// handler runs on the calling goroutine before Execute returns.
func (s *Server) Execute(ctx context.Context, method string, params any, handler ResponseHandler) {
	if !s.IsConnected() {
		if handler != nil {
			handler(nil, ErrServerNotReady)
		}
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	var raw json.RawMessage
	err := s.transport.Call(ctx, method, params, &raw)
	if handler != nil {
		handler(raw, err)
	}
}

// Request sends a request and returns immediately. The handler runs later
// on another goroutine.
func (s *Server) Request(ctx context.Context, method string, params any, handler ResponseHandler) {
	if !s.IsConnected() {
		if handler != nil {
			go handler(nil, ErrServerNotReady)
		}
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	s.transport.CallAsync(ctx, method, params, func(raw json.RawMessage, err error) {
		cancel()
		if handler != nil {
			handler(raw, err)
		}
	})
}

// --- Document Synchronization ---

// OpenDocument notifies the server that a document was opened at the given version.
func (s *Server) OpenDocument(ctx context.Context, uri DocumentURI, languageID string, version int, content string) error {
	if !s.IsConnected() {
		return ErrServerNotReady
	}

	s.documentsMu.Lock()
	if _, exists := s.documents[uri]; exists {
		s.documentsMu.Unlock()
		return ErrDocumentAlreadyOpen
	}
	s.documents[uri] = version
	s.documentsMu.Unlock()

	return s.transport.Notify(ctx, "textDocument/didOpen", DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        uri,
			LanguageID: languageID,
			Version:    version,
			Text:       content,
		},
	})
}

// ChangeDocument sends the full new content of a document at the given version.
func (s *Server) ChangeDocument(ctx context.Context, uri DocumentURI, version int, content string) error {
	if !s.IsConnected() {
		return ErrServerNotReady
	}

	s.documentsMu.Lock()
	if _, exists := s.documents[uri]; !exists {
		s.documentsMu.Unlock()
		return ErrDocumentNotOpen
	}
	s.documents[uri] = version
	s.documentsMu.Unlock()

	return s.transport.Notify(ctx, "textDocument/didChange", DidChangeTextDocumentParams{
		TextDocument: VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: TextDocumentIdentifier{URI: uri},
			Version:                version,
		},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: content}},
	})
}

// CloseDocument notifies the server that a document was closed.
func (s *Server) CloseDocument(ctx context.Context, uri DocumentURI) error {
	if !s.IsConnected() {
		return ErrServerNotReady
	}

	s.documentsMu.Lock()
	if _, exists := s.documents[uri]; !exists {
		s.documentsMu.Unlock()
		return ErrDocumentNotOpen
	}
	delete(s.documents, uri)
	s.documentsMu.Unlock()

	return s.transport.Notify(ctx, "textDocument/didClose", DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	})
}

// IsDocumentOpen returns true if the document is open on this server.
func (s *Server) IsDocumentOpen(uri DocumentURI) bool {
	s.documentsMu.RLock()
	_, exists := s.documents[uri]
	s.documentsMu.RUnlock()
	return exists
}

// MatchesFile returns true if this server handles the given file.
func (s *Server) MatchesFile(path string) bool {
	langID := DetectLanguageID(path)
	for _, id := range s.config.LanguageIDs {
		if id == langID {
			return true
		}
	}

	base := filepath.Base(path)
	for _, pattern := range s.config.FilePatterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}

	return false
}
