package actions

import (
	"context"
	"sort"

	"github.com/dshills/codeactions/internal/lsp"
)

// Flusher pushes pending document changes to the sessions before a request.
type Flusher interface {
	Flush(uri lsp.DocumentURI)
}

// SaveReport summarizes one on-save pass.
type SaveReport struct {
	Actions int
	Applied []lsp.DocumentURI
	Stale   []lsp.DocumentURI
}

// SaveHook runs the actions of selected kinds right before a document is saved.
type SaveHook struct {
	coordinator *Coordinator
	applier     *Applier
	sessions    SessionRegistry
	flusher     Flusher
	opts        options
}

// NewSaveHook creates a save hook. flusher may be nil.
func NewSaveHook(coordinator *Coordinator, applier *Applier, sessions SessionRegistry, flusher Flusher, opts ...Option) *SaveHook {
	return &SaveHook{
		coordinator: coordinator,
		applier:     applier,
		sessions:    sessions,
		flusher:     flusher,
		opts:        buildOptions(opts),
	}
}

// BeforeSave asks every session for whole-document actions of kinds and
// applies them, respondent by respondent in name order. It returns once
// all of them have been carried out. With no kinds it does nothing.
func (h *SaveHook) BeforeSave(ctx context.Context, doc Document, kinds []lsp.CodeActionKind) SaveReport {
	var report SaveReport
	if len(kinds) == 0 {
		return report
	}

	if h.flusher != nil {
		h.flusher.Flush(doc.URI())
	}

	var delivered ResultSet
	h.coordinator.Dispatch(ctx, doc, nil, Blocking, kinds, func(rs ResultSet) {
		delivered = rs
	})

	byName := make(map[string]Session)
	for _, s := range h.sessions.SessionsFor(doc, nil) {
		byName[s.Name()] = s
	}

	names := make([]string, 0, len(delivered))
	for name := range delivered {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, r := range delivered[name] {
			res := h.applier.Run(ctx, byName[name], r)
			report.Actions++
			report.Applied = append(report.Applied, res.Applied...)
			report.Stale = append(report.Stale, res.Stale...)
		}
	}

	h.opts.logger.Debug("on-save %s: %d actions, %d stale", doc.URI(), report.Actions, len(report.Stale))
	return report
}

// EnabledKinds merges on-save settings, view values taking precedence, and
// returns the enabled kinds sorted.
func EnabledKinds(global, view map[string]bool) []lsp.CodeActionKind {
	merged := make(map[string]bool, len(global)+len(view))
	for k, v := range global {
		merged[k] = v
	}
	for k, v := range view {
		merged[k] = v
	}

	var kinds []lsp.CodeActionKind
	for k, enabled := range merged {
		if enabled {
			kinds = append(kinds, lsp.CodeActionKind(k))
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
