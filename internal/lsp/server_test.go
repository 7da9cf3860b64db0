package lsp_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dshills/codeactions/internal/lsp"
	"github.com/dshills/codeactions/internal/lsp/lsptest"
)

func connect(t *testing.T, name string, caps map[string]any) (*lsp.Server, *lsptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	fake := lsptest.New(caps)
	fake.Start(ctx)

	server := lsp.NewServer(name, lsp.ServerConfig{Timeout: 2 * time.Second}, nil)
	if err := server.Connect(ctx, fake.Conn(), nil); err != nil {
		cancel()
		t.Fatalf("Connect() error = %v", err)
	}

	t.Cleanup(func() {
		_ = server.Shutdown(context.Background())
		fake.Close()
		cancel()
	})
	return server, fake
}

func TestServer_ConnectHandshake(t *testing.T) {
	server, fake := connect(t, "fake", map[string]any{
		"codeActionProvider": map[string]any{
			"codeActionKinds": []string{"quickfix", "source.fixAll"},
		},
		"executeCommandProvider": false,
	})

	if !server.IsConnected() {
		t.Fatal("expected session to be connected")
	}
	if server.Status() != lsp.ServerStatusReady {
		t.Errorf("Status() = %v, want ready", server.Status())
	}
	if !server.HasCapability(lsp.CapabilityCodeAction) {
		t.Error("expected codeActionProvider capability")
	}
	if server.HasCapability(lsp.CapabilityExecuteCommand) {
		t.Error("explicit false must count as absent")
	}
	if server.HasCapability("renameProvider") {
		t.Error("missing capability reported present")
	}

	kinds := server.CodeActionKinds()
	if len(kinds) != 2 || kinds[1] != lsp.CodeActionKindSourceFixAll {
		t.Errorf("CodeActionKinds() = %v", kinds)
	}
	if info := server.InitializeServerInfo(); info == nil || info.Name != "lsptest" {
		t.Errorf("InitializeServerInfo() = %+v", info)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !fake.Wait(ctx, "initialized") {
		t.Error("initialized notification not sent")
	}
}

func TestServer_ExecuteBlocks(t *testing.T) {
	server, fake := connect(t, "fake", map[string]any{"codeActionProvider": true})
	fake.Handle(lsp.MethodCodeAction, func(json.RawMessage) (any, error) {
		return []map[string]string{{"title": "Fix"}}, nil
	})

	var got string
	server.Execute(context.Background(), lsp.MethodCodeAction, nil, func(raw json.RawMessage, err error) {
		if err != nil {
			t.Errorf("handler error = %v", err)
		}
		got = string(raw)
	})

	if got != `[{"title":"Fix"}]` {
		t.Errorf("Execute result = %q", got)
	}
}

func TestServer_RequestIsAsync(t *testing.T) {
	server, fake := connect(t, "fake", map[string]any{"codeActionProvider": true})
	release := make(chan struct{})
	fake.Handle(lsp.MethodCodeAction, func(json.RawMessage) (any, error) {
		<-release
		return []any{}, nil
	})

	done := make(chan struct{})
	server.Request(context.Background(), lsp.MethodCodeAction, nil, func(raw json.RawMessage, err error) {
		close(done)
	})

	select {
	case <-done:
		t.Fatal("Request handler ran before the server answered")
	default:
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Request handler never ran")
	}
}

func TestServer_RequestWhenNotConnected(t *testing.T) {
	server := lsp.NewServer("idle", lsp.ServerConfig{}, nil)

	done := make(chan error, 1)
	server.Request(context.Background(), lsp.MethodCodeAction, nil, func(raw json.RawMessage, err error) {
		done <- err
	})

	select {
	case err := <-done:
		if !errors.Is(err, lsp.ErrServerNotReady) {
			t.Errorf("err = %v, want ErrServerNotReady", err)
		}
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
}

func TestServer_DocumentSync(t *testing.T) {
	server, fake := connect(t, "fake", nil)
	ctx := context.Background()
	uri := lsp.FilePathToURI("/tmp/main.go")

	if err := server.OpenDocument(ctx, uri, "go", 1, "package main"); err != nil {
		t.Fatalf("OpenDocument() error = %v", err)
	}
	if err := server.OpenDocument(ctx, uri, "go", 1, "package main"); !errors.Is(err, lsp.ErrDocumentAlreadyOpen) {
		t.Errorf("second OpenDocument() error = %v", err)
	}
	if err := server.ChangeDocument(ctx, uri, 2, "package main\n"); err != nil {
		t.Fatalf("ChangeDocument() error = %v", err)
	}
	if !server.IsDocumentOpen(uri) {
		t.Error("expected document to be open")
	}
	if err := server.CloseDocument(ctx, uri); err != nil {
		t.Fatalf("CloseDocument() error = %v", err)
	}
	if err := server.ChangeDocument(ctx, uri, 3, ""); !errors.Is(err, lsp.ErrDocumentNotOpen) {
		t.Errorf("ChangeDocument() after close error = %v", err)
	}

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for _, method := range []string{"textDocument/didOpen", "textDocument/didChange", "textDocument/didClose"} {
		if !fake.Wait(wctx, method) {
			t.Errorf("%s not received", method)
		}
	}

	var change lsp.DidChangeTextDocumentParams
	if err := json.Unmarshal(fake.Received("textDocument/didChange")[0].Params, &change); err != nil {
		t.Fatal(err)
	}
	if change.TextDocument.Version != 2 || change.ContentChanges[0].Text != "package main\n" {
		t.Errorf("unexpected didChange: %+v", change)
	}
}

func TestServer_ApplyEditRequest(t *testing.T) {
	server, fake := connect(t, "fake", nil)

	got := make(chan string, 1)
	server.OnApplyEdit(func(ctx context.Context, name string, edit lsp.WorkspaceEdit) bool {
		got <- name
		return len(edit.Changes) == 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var result struct {
		Applied bool `json:"applied"`
	}
	params := map[string]any{
		"edit": lsp.WorkspaceEdit{Changes: map[lsp.DocumentURI][]lsp.TextEdit{
			"file:///a.go": {{NewText: "x"}},
		}},
	}
	if err := fake.Call(ctx, "workspace/applyEdit", params, &result); err != nil {
		t.Fatalf("applyEdit error = %v", err)
	}
	if !result.Applied {
		t.Error("expected applied = true")
	}
	if name := <-got; name != "fake" {
		t.Errorf("handler saw server %q", name)
	}
}

func TestServer_PublishDiagnostics(t *testing.T) {
	server, fake := connect(t, "fake", nil)

	got := make(chan []lsp.Diagnostic, 1)
	server.OnDiagnostics(func(name string, uri lsp.DocumentURI, diags []lsp.Diagnostic) {
		got <- diags
	})

	_ = fake.Notify(context.Background(), "textDocument/publishDiagnostics", lsp.PublishDiagnosticsParams{
		URI:         "file:///a.go",
		Diagnostics: []lsp.Diagnostic{{Message: "unused"}},
	})

	select {
	case diags := <-got:
		if len(diags) != 1 || diags[0].Message != "unused" {
			t.Errorf("diagnostics = %+v", diags)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("diagnostics not delivered")
	}
}

func TestServer_Shutdown(t *testing.T) {
	server, fake := connect(t, "fake", nil)

	if err := server.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if server.IsConnected() {
		t.Error("session still connected after Shutdown")
	}
	if len(fake.Received("shutdown")) != 1 {
		t.Error("shutdown request not received")
	}
}

func TestServer_PeerCloseDisconnects(t *testing.T) {
	server, fake := connect(t, "fake", map[string]any{"codeActionProvider": true})

	fake.Close()

	select {
	case err := <-server.ExitChannel():
		if !errors.Is(err, lsp.ErrConnectionLost) {
			t.Errorf("exit error = %v, want ErrConnectionLost", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("exit not reported after peer closed")
	}

	if server.IsConnected() {
		t.Error("session still connected after peer closed")
	}
	if server.Status() != lsp.ServerStatusError {
		t.Errorf("Status() = %v, want error", server.Status())
	}
	if !errors.Is(server.LastError(), lsp.ErrConnectionLost) {
		t.Errorf("LastError() = %v", server.LastError())
	}
}

func TestServer_ShutdownDoesNotReportExit(t *testing.T) {
	server, _ := connect(t, "fake", nil)

	if err := server.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	select {
	case err := <-server.ExitChannel():
		t.Errorf("unexpected exit after Shutdown: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}
