package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeactions/internal/actions"
	"github.com/dshills/codeactions/internal/config"
	"github.com/dshills/codeactions/internal/document"
	"github.com/dshills/codeactions/internal/lsp"
	"github.com/dshills/codeactions/internal/lsp/lsptest"
	"github.com/dshills/codeactions/internal/plugin"
)

// attach connects a scripted server serving *.ts files to ws.
func attach(t *testing.T, ws *Workspace, name string) *lsptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	fake := lsptest.New(map[string]any{"codeActionProvider": true})
	fake.Start(ctx)

	server := lsp.NewServer(name, lsp.ServerConfig{
		FilePatterns: []string{"*.ts"},
		Timeout:      2 * time.Second,
	}, nil)
	require.NoError(t, server.Connect(ctx, fake.Conn(), nil))
	ws.Manager().Add(server)

	t.Cleanup(func() {
		_ = server.Shutdown(context.Background())
		fake.Close()
		cancel()
	})
	return fake
}

func waitFor(t *testing.T, fake *lsptest.Server, method string, n int) []lsptest.Message {
	t.Helper()
	require.Eventually(t, func() bool { return len(fake.Received(method)) >= n },
		2*time.Second, 5*time.Millisecond, "waiting for %d %s", n, method)
	return fake.Received(method)
}

func TestDocumentSync(t *testing.T) {
	ws := New(config.Defaults(), WithPlugins(plugin.NewRegistry()))
	fake := attach(t, ws, "tsserver")
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "a.ts")
	view, err := ws.Open(ctx, path, "", "let a")
	require.NoError(t, err)

	opened := waitFor(t, fake, "textDocument/didOpen", 1)
	var open lsp.DidOpenTextDocumentParams
	require.NoError(t, json.Unmarshal(opened[0].Params, &open))
	assert.Equal(t, 1, open.TextDocument.Version)
	assert.Equal(t, "typescript", open.TextDocument.LanguageID)
	assert.Equal(t, "let a", open.TextDocument.Text)

	view.Buffer().SetContent("let ab")

	changed := waitFor(t, fake, "textDocument/didChange", 1)
	var change lsp.DidChangeTextDocumentParams
	require.NoError(t, json.Unmarshal(changed[0].Params, &change))
	assert.Equal(t, 2, change.TextDocument.Version)
	assert.Equal(t, "let ab", change.ContentChanges[0].Text)

	// Flushing an already synced revision sends nothing.
	ws.Flush(view.Buffer().URI())

	view.Close(ctx)
	waitFor(t, fake, "textDocument/didClose", 1)
	assert.Len(t, fake.Received("textDocument/didChange"), 1)

	_, ok := ws.View(view.Buffer().URI())
	assert.False(t, ok)
	_, ok = ws.Store().Get(view.Buffer().URI())
	assert.False(t, ok)
}

func TestDiagnosticsAndServerEdits(t *testing.T) {
	ws := New(config.Defaults(), WithPlugins(plugin.NewRegistry()))
	fake := attach(t, ws, "eslint")
	ctx := context.Background()

	view, err := ws.Open(ctx, filepath.Join(t.TempDir(), "b.ts"), "typescript", "const x = 1")
	require.NoError(t, err)
	uri := view.Buffer().URI()

	require.NoError(t, fake.Notify(ctx, "textDocument/publishDiagnostics", lsp.PublishDiagnosticsParams{
		URI: uri,
		Diagnostics: []lsp.Diagnostic{{
			Message: "Missing semicolon",
			Range:   lsp.PointRange(lsp.Position{Character: 11}),
		}},
	}))
	require.Eventually(t, func() bool { return len(ws.Diagnostics().DiagnosticsFor(uri)["eslint"]) == 1 },
		2*time.Second, 5*time.Millisecond)

	var result struct {
		Applied bool `json:"applied"`
	}
	version := view.Buffer().Revision()
	edit := map[string]any{"edit": map[string]any{"documentChanges": []any{map[string]any{
		"textDocument": map[string]any{"uri": uri, "version": version},
		"edits": []lsp.TextEdit{{
			Range:   lsp.PointRange(lsp.Position{Character: 11}),
			NewText: ";",
		}},
	}}}}
	require.NoError(t, fake.Call(ctx, "workspace/applyEdit", edit, &result))
	assert.True(t, result.Applied)
	assert.Equal(t, "const x = 1;", view.Buffer().Content())

	// The same edit again targets a revision that is no longer live.
	require.NoError(t, fake.Call(ctx, "workspace/applyEdit", edit, &result))
	assert.False(t, result.Applied)
	assert.Equal(t, "const x = 1;", view.Buffer().Content())

	view.Close(ctx)
	assert.Empty(t, ws.Diagnostics().DiagnosticsFor(uri))
}

func TestSaveRunsOnSaveActions(t *testing.T) {
	settings := config.Defaults()
	settings.CodeActionsOnSave = map[string]bool{"source.fixAll": true}

	ws := New(settings, WithPlugins(plugin.NewRegistry()))
	fake := attach(t, ws, "eslint")
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "c.ts")
	view, err := ws.Open(ctx, path, "typescript", "")
	require.NoError(t, err)
	view.Buffer().Insert(lsp.Position{}, "const x = 1")
	uri := view.Buffer().URI()
	waitFor(t, fake, "textDocument/didChange", 1)

	fake.Handle(lsp.MethodCodeAction, func(params json.RawMessage) (any, error) {
		var p lsp.CodeActionParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		if len(p.Context.Only) != 1 || p.Context.Only[0] != lsp.CodeActionKindSourceFixAll {
			return []any{}, nil
		}
		// Answer against the revision the server last saw.
		msgs := fake.Received("textDocument/didChange")
		var last lsp.DidChangeTextDocumentParams
		if err := json.Unmarshal(msgs[len(msgs)-1].Params, &last); err != nil {
			return nil, err
		}
		return json.RawMessage(fmt.Sprintf(`[{"title":"Fix all","kind":"source.fixAll","edit":{"documentChanges":[{
			"textDocument":{"uri":%q,"version":%d},
			"edits":[{"range":{"start":{"line":0,"character":11},"end":{"line":0,"character":11}},"newText":";"}]}]}}]`,
			uri, last.TextDocument.Version)), nil
	})

	report, err := view.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Actions)
	assert.Equal(t, []lsp.DocumentURI{uri}, report.Applied)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "const x = 1;", string(data))

	// A view override turns the kind off.
	view.SetOnSaveOverrides(map[string]bool{"source.fixAll": false})
	assert.Empty(t, view.OnSaveKinds())
	report, err = view.Save(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Actions)
}

type recordingIndicator struct {
	mu    sync.Mutex
	shown []lsp.Position
}

func (r *recordingIndicator) Show(pos lsp.Position) {
	r.mu.Lock()
	r.shown = append(r.shown, pos)
	r.mu.Unlock()
}

func (r *recordingIndicator) Hide() {}

func (r *recordingIndicator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shown)
}

func TestViewBulb(t *testing.T) {
	settings := config.Defaults()
	settings.BulbDelayMS = 5

	ind := &recordingIndicator{}
	ws := New(settings,
		WithPlugins(plugin.NewRegistry()),
		WithIndicators(func(*document.Buffer) actions.Indicator { return ind }))
	fake := attach(t, ws, "tsserver")
	fake.Handle(lsp.MethodCodeAction, func(json.RawMessage) (any, error) {
		return []map[string]string{{"title": "Extract", "kind": "refactor.extract"}}, nil
	})

	view, err := ws.Open(context.Background(), filepath.Join(t.TempDir(), "d.ts"), "", "let a = 1")
	require.NoError(t, err)
	defer view.Close(context.Background())
	require.True(t, view.HasBulb())

	view.SelectionChanged(lsp.Position{Character: 4})
	require.Eventually(t, func() bool { return ind.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Disabled bulbs are not created.
	settings2 := config.Defaults()
	settings2.ShowCodeActionsBulb = false
	ws.SetSettings(settings2)
	other, err := ws.Open(context.Background(), filepath.Join(t.TempDir(), "e.ts"), "", "")
	require.NoError(t, err)
	defer other.Close(context.Background())
	assert.False(t, other.HasBulb())
}

func TestRequestWithoutSessions(t *testing.T) {
	ws := New(config.Defaults(), WithPlugins(plugin.NewRegistry()))
	view, err := ws.Open(context.Background(), "/tmp/none.txt", "", "x")
	require.NoError(t, err)
	defer view.Close(context.Background())

	got := make(chan actions.ResultSet, 1)
	view.Request(nil, func(rs actions.ResultSet) { got <- rs })

	select {
	case rs := <-got:
		assert.Empty(t, rs)
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
	}
}

func TestStartRegistersPluginsAndServers(t *testing.T) {
	dir := t.TempDir()
	pluginFile := filepath.Join(dir, "eslint.lua")
	require.NoError(t, os.WriteFile(pluginFile, []byte(`
register { name = "eslint", command = "/nonexistent/eslint-ls", languages = { "javascript" } }
register { name = "gopls", command = "/nonexistent/from-plugin" }
`), 0o644))

	settings := config.Defaults()
	settings.Plugins = []string{pluginFile, filepath.Join(dir, "missing.lua")}
	settings.Servers = map[string]config.ServerSettings{
		"gopls": {Command: "/nonexistent/gopls", Languages: []string{"go"}},
	}

	ws := New(settings, WithPlugins(plugin.NewRegistry()))
	err := ws.Start(context.Background())
	require.Error(t, err, "missing plugin file and unlaunchable servers are reported")

	var names []string
	for _, s := range ws.Manager().Sessions() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"eslint", "gopls"}, names)

	gopls, err := ws.Manager().Session("gopls")
	require.NoError(t, err)
	assert.True(t, gopls.MatchesFile("main.go"), "configured server wins over plugin")
	assert.False(t, gopls.IsConnected())

	require.NoError(t, ws.Shutdown(context.Background()))
}

// firstChoice picks the first entry it is offered.
type firstChoice struct {
	mu     sync.Mutex
	labels []string
}

func (p *firstChoice) ShowMessage(string) {}

func (p *firstChoice) Choose(labels []string, done func(int)) {
	p.mu.Lock()
	p.labels = labels
	p.mu.Unlock()
	done(0)
}

func TestViewMenuAppliesChoice(t *testing.T) {
	presenter := &firstChoice{}
	ws := New(config.Defaults(), WithPlugins(plugin.NewRegistry()), WithPresenter(presenter))
	fake := attach(t, ws, "tsserver")

	path := filepath.Join(t.TempDir(), "m.ts")
	uri := lsp.FilePathToURI(path)
	fake.Handle(lsp.MethodCodeAction, func(json.RawMessage) (any, error) {
		return []map[string]any{{
			"title": "Add semicolon",
			"kind":  "quickfix",
			"edit": map[string]any{"changes": map[string]any{
				string(uri): []lsp.TextEdit{{
					Range:   lsp.PointRange(lsp.Position{Character: 5}),
					NewText: ";",
				}},
			}},
		}}, nil
	})

	view, err := ws.Open(context.Background(), path, "", "let a")
	require.NoError(t, err)
	defer view.Close(context.Background())

	view.ShowMenu(context.Background(), lsp.Position{Character: 2})
	require.Eventually(t, func() bool { return view.Buffer().Content() == "let a;" },
		2*time.Second, 5*time.Millisecond)

	presenter.mu.Lock()
	defer presenter.mu.Unlock()
	assert.Equal(t, []string{"[Quick Fix] Add semicolon"}, presenter.labels)
}

func TestLostSessionStopsResponding(t *testing.T) {
	ws := New(config.Defaults(), WithPlugins(plugin.NewRegistry()))
	fake := attach(t, ws, "tsserver")
	ctx := context.Background()

	view, err := ws.Open(ctx, filepath.Join(t.TempDir(), "lost.ts"), "", "let a")
	require.NoError(t, err)
	defer view.Close(ctx)
	uri := view.Buffer().URI()

	require.NoError(t, fake.Notify(ctx, "textDocument/publishDiagnostics", lsp.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []lsp.Diagnostic{{Message: "unused", Range: lsp.PointRange(lsp.Position{})}},
	}))
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.True(t, ws.WaitDiagnostics(waitCtx, uri))
	require.Len(t, ws.Diagnostics().DiagnosticsFor(uri), 1)

	server, err := ws.Manager().Session("tsserver")
	require.NoError(t, err)
	fake.Close()

	require.Eventually(t, func() bool { return !server.IsConnected() }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(ws.Diagnostics().DiagnosticsFor(uri)) == 0 },
		2*time.Second, 5*time.Millisecond, "diagnostics of a lost session are dropped")

	var rs actions.ResultSet
	ws.Coordinator().Dispatch(ctx, view.Buffer(), &lsp.Position{}, actions.Blocking, nil,
		func(got actions.ResultSet) { rs = got })
	assert.NotNil(t, rs)
	assert.NotContains(t, rs, "tsserver")
}

func TestWaitDiagnosticsTimesOut(t *testing.T) {
	ws := New(config.Defaults(), WithPlugins(plugin.NewRegistry()))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, ws.WaitDiagnostics(ctx, "file:///quiet.ts"))
}

func TestWatchSettingsReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte("[code_actions_on_save]\n\"source.fixAll\" = true\n"), 0o644))

	settings, err := config.Load(path)
	require.NoError(t, err)
	ws := New(settings, WithPlugins(plugin.NewRegistry()))
	require.NoError(t, ws.WatchSettings(path, config.WithDebounce(20*time.Millisecond)))
	defer ws.Shutdown(context.Background())

	view, err := ws.Open(context.Background(), filepath.Join(t.TempDir(), "w.ts"), "", "")
	require.NoError(t, err)
	assert.Equal(t, []lsp.CodeActionKind{lsp.CodeActionKindSourceFixAll}, view.OnSaveKinds())

	require.NoError(t, os.WriteFile(path, []byte(
		"min_diagnostic_severity = \"error\"\n[code_actions_on_save]\n\"source.organizeImports\" = true\n"), 0o644))

	require.Eventually(t, func() bool {
		kinds := view.OnSaveKinds()
		return len(kinds) == 1 && kinds[0] == lsp.CodeActionKindSourceOrganizeImports
	}, 5*time.Second, 10*time.Millisecond)

	// The new severity threshold applies to later updates.
	uri := view.Buffer().URI()
	ws.Diagnostics().Update("tsserver", uri, []lsp.Diagnostic{
		{Message: "hint", Severity: lsp.DiagnosticSeverityHint},
	})
	assert.Empty(t, ws.Diagnostics().DiagnosticsFor(uri))
}
