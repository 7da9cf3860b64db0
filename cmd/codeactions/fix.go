package main

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/codeactions/internal/diagnostics"
)

var fixCmd = &cobra.Command{
	Use:   "fix FILE...",
	Short: "Run on-save code actions on files",
	Long: `Opens each FILE, runs the code actions enabled for saving (from the
settings, or --kind), and writes the result back.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFix,
}

func init() {
	fixCmd.Flags().StringSlice("kind", nil, "code action kinds to run, overriding code_actions_on_save")
	fixCmd.Flags().Bool("diff", false, "print a diff of every changed file")
	fixCmd.Flags().Bool("dry-run", false, "do not write files")
	fixCmd.Flags().IntP("jobs", "j", 4, "files processed concurrently")
}

// fixResult is the outcome for one file.
type fixResult struct {
	path    string
	before  string
	after   string
	actions int
	stale   int
	summary diagnostics.Summary
}

func runFix(cmd *cobra.Command, args []string) error {
	s, err := startWorkspace(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	kinds, _ := cmd.Flags().GetStringSlice("kind")
	showDiff, _ := cmd.Flags().GetBool("diff")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	jobs, _ := cmd.Flags().GetInt("jobs")
	colored := useColor(cmd)

	paths, err := uniquePaths(args)
	if err != nil {
		return err
	}

	var (
		outMu sync.Mutex
		out   = cmd.OutOrStdout()
	)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(max(jobs, 1))

	for _, path := range paths {
		g.Go(func() error {
			view, before, err := s.openFile(ctx, path)
			if err != nil {
				return err
			}
			defer view.Close(ctx)
			s.settle(cmd, view)

			if len(kinds) > 0 {
				overrides := make(map[string]bool, len(kinds))
				for _, k := range kinds {
					overrides[k] = true
				}
				view.SetOnSaveOverrides(overrides)
			}

			report := view.BeforeSave(ctx)
			res := fixResult{
				path:    path,
				before:  before,
				after:   view.Buffer().Content(),
				actions: report.Actions,
				stale:   len(report.Stale),
				summary: s.ws.Diagnostics().Summary(view.Buffer().URI()),
			}

			if !dryRun && res.after != res.before {
				if err := os.WriteFile(view.Buffer().Path(), []byte(res.after), 0o644); err != nil {
					return fmt.Errorf("write %s: %w", path, err)
				}
			}

			var buf bytes.Buffer
			writeFixSummary(&buf, res, showDiff, colored)
			outMu.Lock()
			_, _ = out.Write(buf.Bytes())
			outMu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func writeFixSummary(buf *bytes.Buffer, res fixResult, showDiff, colored bool) {
	switch {
	case res.after == res.before:
		fmt.Fprintf(buf, "%s: unchanged (%d actions)\n", res.path, res.actions)
	default:
		fmt.Fprintf(buf, "%s: fixed (%d actions)\n", res.path, res.actions)
	}
	if res.summary.Errors+res.summary.Warnings > 0 {
		fmt.Fprintf(buf, "%s: %d errors, %d warnings reported\n", res.path, res.summary.Errors, res.summary.Warnings)
	}
	if res.stale > 0 {
		fmt.Fprintf(buf, "%s: %d edits skipped, document changed meanwhile\n", res.path, res.stale)
	}
	if showDiff {
		buf.WriteString(unifiedDiff(res.path, res.before, res.after, colored))
	}
}
