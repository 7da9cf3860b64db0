package actions

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/dshills/codeactions/internal/document"
	"github.com/dshills/codeactions/internal/lsp"
)

// Classification says how a chosen result is carried out.
type Classification int

const (
	// CommandOnly results are a bare command sent to the server.
	CommandOnly Classification = iota
	// EditThenMaybeCommand results apply their edit, if any, and then
	// send their command, if any.
	EditThenMaybeCommand
)

// String returns the classification name.
func (c Classification) String() string {
	if c == CommandOnly {
		return "command"
	}
	return "edit+command"
}

// Classify decides how a result is carried out.
func Classify(r ActionResult) Classification {
	if r.IsBareCommand() {
		return CommandOnly
	}
	return EditThenMaybeCommand
}

// ApplyEditResult describes what happened to each document of a workspace edit.
type ApplyEditResult struct {
	// Applied lists documents whose edits were applied.
	Applied []lsp.DocumentURI

	// Stale lists documents whose declared revision no longer matched.
	// None of their edits were applied.
	Stale []lsp.DocumentURI

	// Failed holds documents that could not be edited for other reasons,
	// such as not being open.
	Failed map[lsp.DocumentURI]error

	// Skipped counts entries that are not text edits, like file renames.
	Skipped int
}

// AllApplied reports whether every targeted document was edited.
func (r *ApplyEditResult) AllApplied() bool {
	return len(r.Stale) == 0 && len(r.Failed) == 0
}

// Applier carries out chosen results against live documents and sessions.
type Applier struct {
	editor DocumentEditor
	opts   options
}

// NewApplier creates an applier writing through editor.
func NewApplier(editor DocumentEditor, opts ...Option) *Applier {
	return &Applier{editor: editor, opts: buildOptions(opts)}
}

// Run carries out r. session is the respondent that proposed it and
// receives any command; it may be nil when r has no command.
func (a *Applier) Run(ctx context.Context, session Session, r ActionResult) *ApplyEditResult {
	if Classify(r) == CommandOnly {
		a.ApplyCommand(ctx, session, lsp.Command{
			Title:     r.Title,
			Command:   r.CommandName,
			Arguments: r.Arguments,
		})
		return &ApplyEditResult{}
	}

	result := &ApplyEditResult{}
	if r.Edit != nil {
		result = a.ApplyEdit(*r.Edit)
	}
	if r.Command != nil {
		a.ApplyCommand(ctx, session, *r.Command)
	}
	return result
}

// documentEdits is the batch of edits for one document.
type documentEdits struct {
	uri      lsp.DocumentURI
	declared *int
	edits    []lsp.TextEdit
}

// ApplyEdit applies a workspace edit document by document. A document
// whose declared revision differs from its live revision keeps its
// content; other documents are still edited.
func (a *Applier) ApplyEdit(edit lsp.WorkspaceEdit) *ApplyEditResult {
	batches, skipped := a.editBatches(edit)
	result := &ApplyEditResult{Skipped: skipped}

	for _, b := range batches {
		if b.declared != nil {
			live, open := a.editor.Revision(b.uri)
			if open && live != *b.declared {
				a.opts.logger.Debug("stale edit for %s: declared %d, live %d", b.uri, *b.declared, live)
				result.Stale = append(result.Stale, b.uri)
				continue
			}
		}

		err := a.editor.ApplyEdits(b.uri, b.declared, b.edits)
		switch {
		case err == nil:
			result.Applied = append(result.Applied, b.uri)
		case errors.Is(err, document.ErrStaleRevision):
			a.opts.logger.Debug("stale edit for %s: %v", b.uri, err)
			result.Stale = append(result.Stale, b.uri)
		default:
			a.opts.logger.Warn("edit %s: %v", b.uri, err)
			if result.Failed == nil {
				result.Failed = make(map[lsp.DocumentURI]error)
			}
			result.Failed[b.uri] = err
		}
	}
	return result
}

// ApplyCommand asks session to execute cmd and discards the answer.
func (a *Applier) ApplyCommand(ctx context.Context, session Session, cmd lsp.Command) {
	if session == nil || !session.IsConnected() {
		a.opts.logger.Debug("dropping command %s: session unavailable", cmd.Command)
		return
	}

	params := lsp.ExecuteCommandParams{Command: cmd.Command, Arguments: cmd.Arguments}
	session.Execute(ctx, lsp.MethodExecuteCommand, params, func(_ json.RawMessage, err error) {
		if err != nil {
			a.opts.logger.Debug("command %s: %v", cmd.Command, err)
		}
	})
}

// editBatches splits a workspace edit into per-document batches.
// documentChanges wins over changes when both are present. Entries of
// changes carry no declared revision.
func (a *Applier) editBatches(edit lsp.WorkspaceEdit) ([]documentEdits, int) {
	var (
		batches []documentEdits
		skipped int
	)

	if len(edit.DocumentChanges) > 0 {
		for _, raw := range edit.DocumentChanges {
			entry := gjson.ParseBytes(raw)
			if !entry.Get("textDocument").IsObject() || !entry.Get("edits").IsArray() {
				a.opts.logger.Debug("ignoring %s resource operation", entry.Get("kind").String())
				skipped++
				continue
			}

			var tde lsp.TextDocumentEdit
			if err := json.Unmarshal(raw, &tde); err != nil {
				a.opts.logger.Warn("malformed document edit: %v", err)
				skipped++
				continue
			}
			batches = append(batches, documentEdits{
				uri:      tde.TextDocument.URI,
				declared: tde.TextDocument.Version,
				edits:    tde.Edits,
			})
		}
		return batches, skipped
	}

	uris := make([]lsp.DocumentURI, 0, len(edit.Changes))
	for uri := range edit.Changes {
		uris = append(uris, uri)
	}
	sort.Slice(uris, func(i, j int) bool { return uris[i] < uris[j] })

	for _, uri := range uris {
		batches = append(batches, documentEdits{uri: uri, edits: edit.Changes[uri]})
	}
	return batches, skipped
}
