// Package lsptest runs an in-process language server for tests.
package lsptest

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"

	"github.com/dshills/codeactions/internal/lsp"
)

// HandlerFunc answers one request sent by the client.
type HandlerFunc func(params json.RawMessage) (any, error)

// Message is a request or notification received from the client.
type Message struct {
	Method string
	Params json.RawMessage
}

// Server is a scripted language server on one end of an in-memory pipe.
type Server struct {
	transport *lsp.Transport
	client    net.Conn

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	received []Message
	notify   chan struct{}
}

// New creates a server advertising capabilities in its initialize result.
func New(capabilities map[string]any) *Server {
	serverEnd, clientEnd := net.Pipe()

	s := &Server{
		transport: lsp.NewTransport(serverEnd, serverEnd, serverEnd),
		client:    clientEnd,
		handlers:  make(map[string]HandlerFunc),
		notify:    make(chan struct{}, 1),
	}

	s.Handle("initialize", func(json.RawMessage) (any, error) {
		return map[string]any{
			"capabilities": capabilities,
			"serverInfo":   map[string]string{"name": "lsptest"},
		}, nil
	})
	s.Handle("shutdown", func(json.RawMessage) (any, error) {
		return nil, nil
	})

	s.transport.OnNotification("*", func(method string, params json.RawMessage) {
		s.record(method, params)
	})

	return s
}

// Conn returns the client end of the pipe, for lsp.Server.Connect.
func (s *Server) Conn() io.ReadWriteCloser {
	return s.client
}

// Start begins serving until ctx ends or Close is called.
func (s *Server) Start(ctx context.Context) {
	s.transport.Start(ctx)
}

// Close stops the server.
func (s *Server) Close() error {
	return s.transport.Close()
}

// Handle sets the handler for method, replacing any previous one.
func (s *Server) Handle(method string, fn HandlerFunc) {
	s.mu.Lock()
	s.handlers[method] = fn
	s.mu.Unlock()

	s.transport.OnRequest(method, func(_ context.Context, params json.RawMessage) (any, error) {
		s.record(method, params)

		s.mu.Lock()
		h := s.handlers[method]
		s.mu.Unlock()
		return h(params)
	})
}

// Notify sends a notification to the client.
func (s *Server) Notify(ctx context.Context, method string, params any) error {
	return s.transport.Notify(ctx, method, params)
}

// Call sends a request to the client and decodes its result into result.
func (s *Server) Call(ctx context.Context, method string, params, result any) error {
	return s.transport.Call(ctx, method, params, result)
}

// Received returns the messages of method received so far, oldest first.
func (s *Server) Received(method string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Message
	for _, m := range s.received {
		if m.Method == method {
			out = append(out, m)
		}
	}
	return out
}

// Wait blocks until a message of method has been received or ctx ends.
func (s *Server) Wait(ctx context.Context, method string) bool {
	for {
		if len(s.Received(method)) > 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-s.notify:
		}
	}
}

func (s *Server) record(method string, params json.RawMessage) {
	s.mu.Lock()
	s.received = append(s.received, Message{Method: method, Params: params})
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}
