package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dshills/codeactions/internal/config"
	"github.com/dshills/codeactions/internal/logging"
	"github.com/dshills/codeactions/internal/lsp"
	"github.com/dshills/codeactions/internal/workspace"
)

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "codeactions.toml"
	}
	return filepath.Join(dir, "codeactions", "settings.toml")
}

// isTerminal reports whether f is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// useColor resolves the --color flag for stdout.
func useColor(cmd *cobra.Command) bool {
	flag, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return false
	}
	return flag == "on" || (flag == "auto" && isTerminal(os.Stdout))
}

// session is a started workspace and what is needed to tear it down.
type session struct {
	ws     *workspace.Workspace
	logger *logging.Logger
}

// startWorkspace loads settings, starts the servers and returns the workspace.
func startWorkspace(cmd *cobra.Command) (*session, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	settings, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Root().PersistentFlags().GetString("log-level"); level != "" {
		settings.LogLevel = level
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(settings.LogLevel)
	logCfg.File = settings.LogFile
	logCfg.Color = isTerminal(os.Stderr)
	logger := logging.New(logCfg)

	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	ws := workspace.New(settings,
		workspace.WithLogger(logger),
		workspace.WithWorkspaceFolders([]lsp.WorkspaceFolder{{
			URI:  lsp.FilePathToURI(cwd),
			Name: filepath.Base(cwd),
		}}),
	)
	if err := ws.Start(cmd.Context()); err != nil {
		logger.Warn("%v", err)
	}
	if len(ws.Manager().Sessions()) == 0 {
		_ = logger.Close()
		return nil, fmt.Errorf("no language servers configured in %s", path)
	}

	return &session{ws: ws, logger: logger}, nil
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.ws.Shutdown(ctx); err != nil {
		s.logger.Warn("shutdown: %v", err)
	}
	_ = s.logger.Close()
}

// settle waits until a server has published diagnostics for view, which
// means it has analyzed the file, or until the --settle bound passes.
func (s *session) settle(cmd *cobra.Command, view *workspace.View) {
	bound, _ := cmd.Root().PersistentFlags().GetDuration("settle")
	if bound <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), bound)
	defer cancel()
	if !s.ws.WaitDiagnostics(ctx, view.Buffer().URI()) {
		s.logger.Debug("no diagnostics for %s within %s", view.Buffer().Path(), bound)
	}
}

// uniquePaths returns the absolute form of paths without repeats, keeping
// the first occurrence's order.
func uniquePaths(paths []string) ([]string, error) {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		out = append(out, abs)
	}
	return out, nil
}

// openFile reads path and opens it in the workspace.
func (s *session) openFile(ctx context.Context, path string) (*workspace.View, string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, "", err
	}
	content := string(data)
	view, err := s.ws.Open(ctx, abs, "", content)
	if err != nil {
		return nil, "", err
	}
	return view, content, nil
}
