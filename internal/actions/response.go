package actions

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/dshills/codeactions/internal/lsp"
)

// ParseResponse decodes a textDocument/codeAction result. A null or empty
// result yields no actions. Items that are not objects or lack a string
// title are skipped; the returned count says how many.
func ParseResponse(raw []byte) ([]ActionResult, int, error) {
	if len(raw) == 0 {
		return nil, 0, nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, 0, fmt.Errorf("invalid code action response")
	}

	res := gjson.ParseBytes(raw)
	switch {
	case res.Type == gjson.Null:
		return nil, 0, nil
	case !res.IsArray():
		return nil, 0, fmt.Errorf("code action response is %s, not an array", res.Type)
	}

	var (
		out     []ActionResult
		skipped int
	)
	res.ForEach(func(_, item gjson.Result) bool {
		r, ok := parseItem(item)
		if !ok {
			skipped++
			return true
		}
		out = append(out, r)
		return true
	})
	return out, skipped, nil
}

func parseItem(item gjson.Result) (ActionResult, bool) {
	if !item.IsObject() {
		return ActionResult{}, false
	}
	title := item.Get("title")
	if title.Type != gjson.String {
		return ActionResult{}, false
	}

	r := ActionResult{
		Title: title.String(),
		Kind:  lsp.CodeActionKind(item.Get("kind").String()),
	}

	cmd := item.Get("command")
	if cmd.Type == gjson.String {
		if cmd.String() == "" {
			return ActionResult{}, false
		}
		r.CommandName = cmd.String()
		if args := item.Get("arguments"); args.IsArray() {
			if err := json.Unmarshal([]byte(args.Raw), &r.Arguments); err != nil {
				return ActionResult{}, false
			}
		}
		return r, true
	}

	if edit := item.Get("edit"); edit.IsObject() {
		var we lsp.WorkspaceEdit
		if err := json.Unmarshal([]byte(edit.Raw), &we); err != nil {
			return ActionResult{}, false
		}
		r.Edit = &we
	}
	if cmd.IsObject() {
		var c lsp.Command
		if err := json.Unmarshal([]byte(cmd.Raw), &c); err != nil {
			return ActionResult{}, false
		}
		r.Command = &c
	}
	return r, true
}
