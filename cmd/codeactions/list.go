package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/codeactions/internal/actions"
	"github.com/dshills/codeactions/internal/lsp"
)

var listCmd = &cobra.Command{
	Use:   "list FILE",
	Short: "List the code actions available at a position",
	Long: `Opens FILE, asks every matching language server for code actions at
the given line and column (zero-based), and prints them by server.`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

func init() {
	listCmd.Flags().Int("line", 0, "zero-based line")
	listCmd.Flags().Int("col", 0, "zero-based UTF-16 column")
	listCmd.Flags().Bool("whole", false, "request actions for the whole document")
	listCmd.Flags().StringSlice("kind", nil, "only show actions of these kinds")
	listCmd.Flags().Duration("wait", 10*time.Second, "how long to wait for servers")
}

func runList(cmd *cobra.Command, args []string) error {
	s, err := startWorkspace(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	ctx := cmd.Context()
	view, _, err := s.openFile(ctx, args[0])
	if err != nil {
		return err
	}
	defer view.Close(ctx)
	s.settle(cmd, view)

	var pos *lsp.Position
	if whole, _ := cmd.Flags().GetBool("whole"); !whole {
		line, _ := cmd.Flags().GetInt("line")
		col, _ := cmd.Flags().GetInt("col")
		pos = &lsp.Position{Line: line, Character: col}
	}

	done := make(chan actions.ResultSet, 1)
	view.Request(pos, func(rs actions.ResultSet) { done <- rs })

	wait, _ := cmd.Flags().GetDuration("wait")
	select {
	case rs := <-done:
		kinds, _ := cmd.Flags().GetStringSlice("kind")
		colored := useColor(cmd)
		if pos != nil {
			writeDiagnostics(cmd.OutOrStdout(), args[0], s.ws.Diagnostics().DiagnosticsAt(view.Buffer().URI(), *pos), colored)
		}
		writeResults(cmd.OutOrStdout(), filterSet(rs, toKinds(kinds)), colored)
		return nil
	case <-time.After(wait):
		return fmt.Errorf("servers did not answer within %s", wait)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func toKinds(names []string) []lsp.CodeActionKind {
	kinds := make([]lsp.CodeActionKind, 0, len(names))
	for _, n := range names {
		kinds = append(kinds, lsp.CodeActionKind(n))
	}
	return kinds
}

// filterSet keeps the results of every respondent that match kinds.
func filterSet(rs actions.ResultSet, kinds []lsp.CodeActionKind) actions.ResultSet {
	out := make(actions.ResultSet, len(rs))
	for name, results := range rs {
		out[name] = actions.FilterByKind(results, kinds)
	}
	return out
}
