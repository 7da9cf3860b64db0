package actions

import (
	"context"
	"fmt"
	"sort"

	"github.com/dshills/codeactions/internal/lsp"
)

// NoActionsMessage is shown when a menu request finds nothing.
const NoActionsMessage = "No actions available"

// MenuItem is one entry of the actions menu.
type MenuItem struct {
	Respondent string
	Result     ActionResult
}

// Label renders the entry as shown to the user.
func (m MenuItem) Label() string {
	return FormatAction(m.Result)
}

// Flatten orders a result set for display: respondents by name, results
// in response order.
func Flatten(rs ResultSet) []MenuItem {
	names := make([]string, 0, len(rs))
	for name := range rs {
		names = append(names, name)
	}
	sort.Strings(names)

	var items []MenuItem
	for _, name := range names {
		for _, r := range rs[name] {
			items = append(items, MenuItem{Respondent: name, Result: r})
		}
	}
	return items
}

// Presenter displays the menu.
type Presenter interface {
	// ShowMessage displays a status message.
	ShowMessage(msg string)
	// Choose offers labels and calls done with the chosen index, or a
	// negative index when dismissed.
	Choose(labels []string, done func(index int))
}

// Menu requests the actions at a position and runs the one the user picks.
type Menu struct {
	cache     *Cache
	applier   *Applier
	sessions  SessionRegistry
	presenter Presenter
}

// NewMenu creates a menu.
func NewMenu(cache *Cache, applier *Applier, sessions SessionRegistry, presenter Presenter) *Menu {
	return &Menu{
		cache:     cache,
		applier:   applier,
		sessions:  sessions,
		presenter: presenter,
	}
}

// Show requests the actions at pos and presents them. Nothing is presented
// if a request for another position or revision replaced this one first.
func (m *Menu) Show(ctx context.Context, doc Document, pos lsp.Position) {
	key := KeyFor(doc, &pos)
	m.cache.Request(doc, &pos, func(rs ResultSet) {
		if current, ok := m.cache.Key(); !ok || current != key {
			return
		}

		items := Flatten(rs)
		if len(items) == 0 {
			m.presenter.ShowMessage(NoActionsMessage)
			return
		}

		labels := make([]string, len(items))
		for i, item := range items {
			labels[i] = item.Label()
		}

		m.presenter.Choose(labels, func(index int) {
			if index < 0 || index >= len(items) {
				return
			}
			item := items[index]
			m.applier.Run(ctx, m.session(doc, item.Respondent), item.Result)
		})
	})
}

func (m *Menu) session(doc Document, name string) Session {
	for _, s := range m.sessions.SessionsFor(doc, nil) {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// KindString returns a human-readable name for a code action kind.
func KindString(kind lsp.CodeActionKind) string {
	switch kind {
	case lsp.CodeActionKindQuickFix:
		return "Quick Fix"
	case lsp.CodeActionKindRefactor:
		return "Refactor"
	case lsp.CodeActionKindRefactorExtract:
		return "Extract"
	case lsp.CodeActionKindRefactorInline:
		return "Inline"
	case lsp.CodeActionKindRefactorRewrite:
		return "Rewrite"
	case lsp.CodeActionKindSource:
		return "Source"
	case lsp.CodeActionKindSourceOrganizeImports:
		return "Organize Imports"
	case lsp.CodeActionKindSourceFixAll:
		return "Fix All"
	case "":
		return "Action"
	default:
		return string(kind)
	}
}

// FormatAction renders a result for display.
func FormatAction(r ActionResult) string {
	if r.IsBareCommand() {
		return fmt.Sprintf("[Command] %s", r.Title)
	}
	return fmt.Sprintf("[%s] %s", KindString(r.Kind), r.Title)
}
