// Package actions asks language servers which code actions apply at a
// point of a document and carries out the one chosen.
//
// A Coordinator sends one textDocument/codeAction request per eligible
// session and wires each answer into a Collector, which hands the merged
// ResultSet to a handler exactly once. A Cache sits in front of the
// coordinator for interactive use and coalesces repeated requests for an
// unchanged document position. An Applier applies a chosen result's edit
// document by document, refusing edits whose declared revision is no
// longer the live one, and forwards its command to the proposing session.
//
// SaveHook, Bulb and Menu build the on-save pass, the lightbulb and the
// actions menu on top of these.
package actions
