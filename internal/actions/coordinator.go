package actions

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dshills/codeactions/internal/lsp"
)

// Coordinator fans a code action request out to the sessions serving a
// document and collects their answers.
type Coordinator struct {
	sessions    SessionRegistry
	diagnostics DiagnosticsSource
	opts        options
}

// NewCoordinator creates a coordinator. diagnostics may be nil.
func NewCoordinator(sessions SessionRegistry, diagnostics DiagnosticsSource, opts ...Option) *Coordinator {
	return &Coordinator{
		sessions:    sessions,
		diagnostics: diagnostics,
		opts:        buildOptions(opts),
	}
}

// Dispatch asks every eligible session for actions at pos, or for the whole
// document when pos is nil, and returns the collector gathering the answers.
//
// Sessions that are disconnected or do not advertise code actions are
// skipped and never waited on. When kinds is non-empty it is sent as a hint
// and enforced again on the results.
//
// In Blocking mode each session is asked in turn and its response awaited
// before the next send; onComplete has run by the time Dispatch returns. In
// NonBlocking mode Dispatch returns at once and onComplete runs after the
// last session reports, on that session's goroutine.
func (c *Coordinator) Dispatch(ctx context.Context, doc Document, pos *lsp.Position, mode Mode, kinds []lsp.CodeActionKind, onComplete Handler) *Collector {
	var collector *Collector
	if mode == Blocking {
		collector = NewSyncCollector(kinds, onComplete, WithLogger(c.opts.logger))
	} else {
		collector = NewAsyncCollector(kinds, onComplete, WithLogger(c.opts.logger))
	}
	log := collector.logger.WithField("uri", doc.URI())

	var diags map[string][]lsp.Diagnostic
	if pos != nil && c.diagnostics != nil {
		diags = c.diagnostics.DiagnosticsAt(doc.URI(), *pos)
	}

	seen := make(map[string]bool)
	for _, session := range c.sessions.SessionsFor(doc, pos) {
		name := session.Name()
		if seen[name] {
			continue
		}
		if !session.IsConnected() || !session.HasCapability(lsp.CapabilityCodeAction) {
			log.Debug("skipping %s: not participating", name)
			continue
		}
		seen[name] = true

		params := requestParams(doc, pos, diags[name], kinds)
		report := collector.Register(name)
		handler := c.responseHandler(collector, name, report)

		if mode == Blocking {
			c.sendAndWait(ctx, session, params, handler, report)
		} else {
			session.Request(ctx, lsp.MethodCodeAction, params, handler)
		}
	}

	log.Debug("%s dispatch sent to %d sessions", mode, len(seen))

	if mode == Blocking {
		collector.Deliver()
	} else {
		collector.Seal()
	}
	return collector
}

// sendAndWait sends one blocking request and waits until its reporter has
// run. A session that does not answer within the timeout is recorded as
// having no actions.
func (c *Coordinator) sendAndWait(ctx context.Context, session Session, params lsp.CodeActionParams, handler lsp.ResponseHandler, report Reporter) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.timeout)
	defer cancel()

	done := make(chan struct{})
	var once sync.Once
	session.Execute(ctx, lsp.MethodCodeAction, params, func(raw json.RawMessage, err error) {
		handler(raw, err)
		once.Do(func() { close(done) })
	})

	select {
	case <-done:
	case <-ctx.Done():
		c.opts.logger.Warn("%s did not answer: %v", session.Name(), ctx.Err())
		report(nil)
	}
}

// responseHandler turns a raw session response into a reporter call. Every
// outcome reports, so the collector never waits on a failed session.
func (c *Coordinator) responseHandler(collector *Collector, name string, report Reporter) lsp.ResponseHandler {
	return func(raw json.RawMessage, err error) {
		if err != nil {
			collector.logger.Debug("%s: request failed: %v", name, err)
			report(nil)
			return
		}

		results, skipped, err := ParseResponse(raw)
		if err != nil {
			collector.logger.Warn("%s: %v", name, err)
		}
		if skipped > 0 {
			collector.logger.Debug("%s: skipped %d malformed actions", name, skipped)
		}
		report(results)
	}
}

// ScopeRange returns the range a request covers: the whole document when
// pos is nil, else the first diagnostic overlapping pos, else the caret.
func ScopeRange(doc Document, pos *lsp.Position, diagnostics []lsp.Diagnostic) lsp.Range {
	switch {
	case pos == nil:
		return doc.EntireRange()
	case len(diagnostics) > 0:
		return diagnostics[0].Range
	default:
		return lsp.PointRange(*pos)
	}
}

func requestParams(doc Document, pos *lsp.Position, diagnostics []lsp.Diagnostic, kinds []lsp.CodeActionKind) lsp.CodeActionParams {
	sent := []lsp.Diagnostic{}
	if pos != nil {
		sent = append(sent, diagnostics...)
	}

	params := lsp.CodeActionParams{
		TextDocument: lsp.TextDocumentIdentifier{URI: doc.URI()},
		Range:        ScopeRange(doc, pos, diagnostics),
		Context:      lsp.CodeActionContext{Diagnostics: sent},
	}
	if len(kinds) > 0 {
		params.Context.Only = append([]lsp.CodeActionKind(nil), kinds...)
	}
	return params
}
