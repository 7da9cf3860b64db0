package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/dshills/codeactions/internal/actions"
	"github.com/dshills/codeactions/internal/diagnostics"
	"github.com/dshills/codeactions/internal/lsp"
)

func palette(enabled bool, attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if enabled {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

// writeResults prints a result set grouped by respondent.
func writeResults(w io.Writer, rs actions.ResultSet, useColor bool) {
	items := actions.Flatten(rs)
	if len(items) == 0 {
		fmt.Fprintln(w, actions.NoActionsMessage)
		return
	}

	header := palette(useColor, color.FgCyan, color.Bold)
	kind := palette(useColor, color.FgYellow)

	current := ""
	n := 0
	for _, item := range items {
		if item.Respondent != current {
			current = item.Respondent
			header.Fprintf(w, "%s\n", current)
		}
		n++
		label := item.Result.Title
		tag := actions.KindString(item.Result.Kind)
		if item.Result.IsBareCommand() {
			tag = "Command"
		}
		fmt.Fprintf(w, "  %2d. %s %s\n", n, kind.Sprintf("[%s]", tag), label)
	}
}

// writeDiagnostics prints the diagnostics of path grouped by session.
func writeDiagnostics(w io.Writer, path string, bySession map[string][]lsp.Diagnostic, useColor bool) {
	errColor := palette(useColor, color.FgRed)
	warnColor := palette(useColor, color.FgYellow)

	for _, name := range diagnostics.Sessions(bySession) {
		for _, d := range bySession[name] {
			line := diagnostics.FormatWithLocation(path, d)
			switch d.Severity {
			case lsp.DiagnosticSeverityError:
				line = errColor.Sprint(line)
			case lsp.DiagnosticSeverityWarning:
				line = warnColor.Sprint(line)
			}
			fmt.Fprintf(w, "%s (%s)\n", line, name)
		}
	}
}

// unifiedDiff renders the line changes between before and after.
func unifiedDiff(name, before, after string, useColor bool) string {
	if before == after {
		return ""
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	del := palette(useColor, color.FgRed)
	ins := palette(useColor, color.FgGreen)

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s\n+++ %s\n", name, name)
	for _, d := range diffs {
		for _, line := range splitLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffDelete:
				sb.WriteString(del.Sprintf("-%s", line))
			case diffmatchpatch.DiffInsert:
				sb.WriteString(ins.Sprintf("+%s", line))
			default:
				sb.WriteString(" " + line)
			}
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// splitLines splits text into lines without their newline; a trailing
// newline does not produce an empty last line.
func splitLines(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}
