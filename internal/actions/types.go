package actions

import (
	"context"

	"github.com/dshills/codeactions/internal/lsp"
)

// ActionResult is one remediation proposed by a respondent.
//
// A bare command (the response item was itself a Command) carries
// CommandName and Arguments. Any other result carries an optional Edit
// and an optional structured Command, applied in that order.
type ActionResult struct {
	Title string
	Kind  lsp.CodeActionKind

	Edit    *lsp.WorkspaceEdit
	Command *lsp.Command

	CommandName string
	Arguments   []any
}

// IsBareCommand reports whether the result is a command with nothing else.
func (r ActionResult) IsBareCommand() bool {
	return r.CommandName != ""
}

// ResultSet maps respondent names to their results in response order.
type ResultSet map[string][]ActionResult

// Count returns the total number of results across respondents.
func (rs ResultSet) Count() int {
	n := 0
	for _, results := range rs {
		n += len(results)
	}
	return n
}

// Handler receives a delivered result set.
type Handler func(ResultSet)

// Mode selects how a dispatch sends its requests.
type Mode int

const (
	// NonBlocking sends every request and returns; the collector completes
	// once all respondents have reported.
	NonBlocking Mode = iota
	// Blocking asks respondents one at a time, waiting for each response
	// before the next send, and delivers before returning.
	Blocking
)

// String returns the mode name.
func (m Mode) String() string {
	if m == Blocking {
		return "blocking"
	}
	return "nonblocking"
}

// RequestKey identifies requests that address the same intent.
type RequestKey struct {
	URI      lsp.DocumentURI
	Revision int
	Position lsp.Position
	Whole    bool
}

// KeyFor builds the key for a request at pos, or for the whole document when pos is nil.
func KeyFor(doc Document, pos *lsp.Position) RequestKey {
	key := RequestKey{URI: doc.URI(), Revision: doc.Revision()}
	if pos == nil {
		key.Whole = true
	} else {
		key.Position = *pos
	}
	return key
}

// --- Collaborators ---

// Document is the view of a document the core dispatches against.
type Document interface {
	URI() lsp.DocumentURI
	Revision() int
	EntireRange() lsp.Range
}

// Session is one connected analysis server. *lsp.Server satisfies it.
type Session interface {
	Name() string
	IsConnected() bool
	HasCapability(name string) bool

	// Execute sends a request and runs handler before returning.
	Execute(ctx context.Context, method string, params any, handler lsp.ResponseHandler)
	// Request sends a request and runs handler later on another goroutine.
	Request(ctx context.Context, method string, params any, handler lsp.ResponseHandler)
}

// SessionRegistry enumerates the sessions serving a document, in a fixed order.
type SessionRegistry interface {
	SessionsFor(doc Document, pos *lsp.Position) []Session
}

// DiagnosticsSource supplies diagnostics per respondent that overlap a point.
type DiagnosticsSource interface {
	DiagnosticsAt(uri lsp.DocumentURI, pos lsp.Position) map[string][]lsp.Diagnostic
}

// DocumentEditor mutates live documents under an optimistic revision check.
type DocumentEditor interface {
	// Revision returns the live revision of an open document.
	Revision(uri lsp.DocumentURI) (int, bool)
	// ApplyEdits applies edits expressed against the current content. When
	// expected is non-nil the editor must fail if the live revision differs.
	ApplyEdits(uri lsp.DocumentURI, expected *int, edits []lsp.TextEdit) error
}
