// Package diagnostics stores the diagnostics each session publishes, per
// document, and answers which of them touch a point.
package diagnostics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dshills/codeactions/internal/lsp"
)

// Registry holds the latest diagnostics per document and per session.
type Registry struct {
	mu          sync.RWMutex
	byDocument  map[lsp.DocumentURI]map[string][]lsp.Diagnostic
	minSeverity lsp.DiagnosticSeverity
	onChange    func(uri lsp.DocumentURI)
}

// Option configures the registry.
type Option func(*Registry)

// WithMinSeverity drops diagnostics less severe than severity. Diagnostics
// without a severity are always kept.
func WithMinSeverity(severity lsp.DiagnosticSeverity) Option {
	return func(r *Registry) {
		r.minSeverity = severity
	}
}

// WithChangeHandler sets a callback run after a document's diagnostics change.
func WithChangeHandler(fn func(uri lsp.DocumentURI)) Option {
	return func(r *Registry) {
		r.onChange = fn
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{byDocument: make(map[lsp.DocumentURI]map[string][]lsp.Diagnostic)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetMinSeverity changes the severity threshold for later updates. Zero
// keeps everything.
func (r *Registry) SetMinSeverity(severity lsp.DiagnosticSeverity) {
	r.mu.Lock()
	r.minSeverity = severity
	r.mu.Unlock()
}

// Update replaces the diagnostics server published for uri. Its signature
// matches lsp.DiagnosticsHandler.
func (r *Registry) Update(server string, uri lsp.DocumentURI, diagnostics []lsp.Diagnostic) {
	r.mu.RLock()
	threshold := r.minSeverity
	r.mu.RUnlock()

	kept := make([]lsp.Diagnostic, 0, len(diagnostics))
	for _, d := range diagnostics {
		if threshold == 0 || d.Severity == 0 || d.Severity <= threshold {
			kept = append(kept, d)
		}
	}

	r.mu.Lock()
	servers := r.byDocument[uri]
	if len(kept) == 0 {
		delete(servers, server)
		if len(servers) == 0 {
			delete(r.byDocument, uri)
		}
	} else {
		if servers == nil {
			servers = make(map[string][]lsp.Diagnostic)
			r.byDocument[uri] = servers
		}
		servers[server] = kept
	}
	onChange := r.onChange
	r.mu.Unlock()

	if onChange != nil {
		onChange(uri)
	}
}

// DiagnosticsFor returns the diagnostics of uri keyed by session.
func (r *Registry) DiagnosticsFor(uri lsp.DocumentURI) map[string][]lsp.Diagnostic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]lsp.Diagnostic, len(r.byDocument[uri]))
	for server, diags := range r.byDocument[uri] {
		out[server] = diags
	}
	return out
}

// DiagnosticsAt returns the diagnostics of uri overlapping pos, keyed by session.
func (r *Registry) DiagnosticsAt(uri lsp.DocumentURI, pos lsp.Position) map[string][]lsp.Diagnostic {
	return FilterByPoint(r.DiagnosticsFor(uri), pos)
}

// ClearDocument forgets the diagnostics of uri.
func (r *Registry) ClearDocument(uri lsp.DocumentURI) {
	r.mu.Lock()
	delete(r.byDocument, uri)
	r.mu.Unlock()
}

// ClearServer forgets everything server published.
func (r *Registry) ClearServer(server string) {
	r.mu.Lock()
	var changed []lsp.DocumentURI
	for uri, servers := range r.byDocument {
		if _, ok := servers[server]; !ok {
			continue
		}
		delete(servers, server)
		if len(servers) == 0 {
			delete(r.byDocument, uri)
		}
		changed = append(changed, uri)
	}
	onChange := r.onChange
	r.mu.Unlock()

	if onChange != nil {
		for _, uri := range changed {
			onChange(uri)
		}
	}
}

// Summary counts diagnostics by severity.
type Summary struct {
	Errors   int
	Warnings int
	Infos    int
	Hints    int
}

// Summary counts the diagnostics of uri across sessions.
func (r *Registry) Summary(uri lsp.DocumentURI) Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s Summary
	for _, diags := range r.byDocument[uri] {
		for _, d := range diags {
			switch d.Severity {
			case lsp.DiagnosticSeverityError:
				s.Errors++
			case lsp.DiagnosticSeverityWarning:
				s.Warnings++
			case lsp.DiagnosticSeverityInformation:
				s.Infos++
			case lsp.DiagnosticSeverityHint:
				s.Hints++
			}
		}
	}
	return s
}

// FilterByPoint keeps the diagnostics whose range contains pos, both ends
// inclusive. Sessions left with none are omitted.
func FilterByPoint(bySession map[string][]lsp.Diagnostic, pos lsp.Position) map[string][]lsp.Diagnostic {
	out := make(map[string][]lsp.Diagnostic)
	for server, diags := range bySession {
		var hits []lsp.Diagnostic
		for _, d := range diags {
			if lsp.IsPositionInRange(pos, d.Range) {
				hits = append(hits, d)
			}
		}
		if len(hits) > 0 {
			out[server] = hits
		}
	}
	return out
}

// Sessions returns the session names of a diagnostics map, sorted.
func Sessions(bySession map[string][]lsp.Diagnostic) []string {
	names := make([]string, 0, len(bySession))
	for name := range bySession {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseSeverity maps a severity name to its value. Unknown names and the
// empty string map to zero.
func ParseSeverity(name string) lsp.DiagnosticSeverity {
	switch strings.ToLower(name) {
	case "error":
		return lsp.DiagnosticSeverityError
	case "warning":
		return lsp.DiagnosticSeverityWarning
	case "information", "info":
		return lsp.DiagnosticSeverityInformation
	case "hint":
		return lsp.DiagnosticSeverityHint
	default:
		return 0
	}
}

// SeverityIcon returns a single character for severity.
func SeverityIcon(severity lsp.DiagnosticSeverity) string {
	switch severity {
	case lsp.DiagnosticSeverityError:
		return "E"
	case lsp.DiagnosticSeverityWarning:
		return "W"
	case lsp.DiagnosticSeverityInformation:
		return "I"
	case lsp.DiagnosticSeverityHint:
		return "H"
	default:
		return "?"
	}
}

// Format renders a diagnostic on one line.
func Format(d lsp.Diagnostic) string {
	var sb strings.Builder

	sb.WriteString(SeverityIcon(d.Severity))
	sb.WriteString(" ")
	if d.Source != "" {
		sb.WriteString("[")
		sb.WriteString(d.Source)
		sb.WriteString("] ")
	}
	sb.WriteString(d.Message)

	if d.Code != nil {
		sb.WriteString(" (")
		switch v := d.Code.(type) {
		case string:
			sb.WriteString(v)
		case float64:
			sb.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		default:
			sb.WriteString(fmt.Sprint(v))
		}
		sb.WriteString(")")
	}
	return sb.String()
}

// FormatWithLocation renders a diagnostic prefixed by path:line:col, one-based.
func FormatWithLocation(path string, d lsp.Diagnostic) string {
	return fmt.Sprintf("%s:%d:%d: %s", path, d.Range.Start.Line+1, d.Range.Start.Character+1, Format(d))
}
