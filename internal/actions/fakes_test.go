package actions

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dshills/codeactions/internal/lsp"
)

type fakeDoc struct {
	uri      lsp.DocumentURI
	revision int
	content  string
}

func (d *fakeDoc) URI() lsp.DocumentURI   { return d.uri }
func (d *fakeDoc) Revision() int          { return d.revision }
func (d *fakeDoc) EntireRange() lsp.Range { return lsp.EntireContentRange(d.content) }

// fakeSession answers code action requests with a canned response.
type fakeSession struct {
	name      string
	connected bool
	caps      map[string]bool

	// respond produces the answer; nil answers with an empty list.
	respond func(method string, params any) (json.RawMessage, error)
	// deferred makes Execute answer from another goroutine after returning.
	deferred bool
	// hold, when set, delays answers of Request until closed.
	hold chan struct{}

	mu   sync.Mutex
	sent []sentRequest
}

type sentRequest struct {
	method string
	params any
}

func newSession(name string, response string) *fakeSession {
	return &fakeSession{
		name:      name,
		connected: true,
		caps:      map[string]bool{lsp.CapabilityCodeAction: true},
		respond: func(string, any) (json.RawMessage, error) {
			return json.RawMessage(response), nil
		},
	}
}

func (s *fakeSession) Name() string                   { return s.name }
func (s *fakeSession) IsConnected() bool              { return s.connected }
func (s *fakeSession) HasCapability(name string) bool { return s.caps[name] }

func (s *fakeSession) answer(method string, params any) (json.RawMessage, error) {
	s.mu.Lock()
	s.sent = append(s.sent, sentRequest{method: method, params: params})
	s.mu.Unlock()

	if s.respond == nil {
		return json.RawMessage("[]"), nil
	}
	return s.respond(method, params)
}

func (s *fakeSession) Execute(ctx context.Context, method string, params any, handler lsp.ResponseHandler) {
	if s.deferred {
		go func() {
			raw, err := s.answer(method, params)
			handler(raw, err)
		}()
		return
	}
	raw, err := s.answer(method, params)
	handler(raw, err)
}

func (s *fakeSession) Request(ctx context.Context, method string, params any, handler lsp.ResponseHandler) {
	go func() {
		if s.hold != nil {
			select {
			case <-s.hold:
			case <-ctx.Done():
				handler(nil, ctx.Err())
				return
			}
		}
		raw, err := s.answer(method, params)
		handler(raw, err)
	}()
}

func (s *fakeSession) requests(method string) []sentRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []sentRequest
	for _, r := range s.sent {
		if r.method == method {
			out = append(out, r)
		}
	}
	return out
}

func (s *fakeSession) codeActionParams() []lsp.CodeActionParams {
	var out []lsp.CodeActionParams
	for _, r := range s.requests(lsp.MethodCodeAction) {
		out = append(out, r.params.(lsp.CodeActionParams))
	}
	return out
}

type fakeRegistry []Session

func (r fakeRegistry) SessionsFor(Document, *lsp.Position) []Session { return r }

type fakeDiagnostics map[string][]lsp.Diagnostic

func (f fakeDiagnostics) DiagnosticsAt(_ lsp.DocumentURI, pos lsp.Position) map[string][]lsp.Diagnostic {
	out := make(map[string][]lsp.Diagnostic)
	for name, diags := range f {
		for _, d := range diags {
			if lsp.IsPositionInRange(pos, d.Range) {
				out[name] = append(out[name], d)
			}
		}
	}
	return out
}

// waitHandler returns a handler and a channel receiving its deliveries.
func waitHandler() (Handler, chan ResultSet) {
	ch := make(chan ResultSet, 4)
	return func(rs ResultSet) { ch <- rs }, ch
}
