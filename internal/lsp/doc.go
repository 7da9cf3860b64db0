// Package lsp provides the Language Server Protocol sessions used by the
// code action core.
//
// It covers the JSON-RPC transport, the initialize handshake, document
// synchronization and the few protocol shapes code actions need. Parsing of
// code action responses lives with their consumers; this package hands back
// raw results.
//
// # Architecture
//
//   - Manager: the named sessions of one workspace
//   - Server: a single session, started as a process or over a stream
//   - Transport: JSON-RPC 2.0 with Content-Length framing
//
// # Requests
//
// A Server offers two request styles. Execute blocks until the response
// arrives and runs the handler on the calling goroutine. Request returns
// immediately and runs the handler later on another goroutine:
//
//	server.Request(ctx, lsp.MethodCodeAction, params, func(raw json.RawMessage, err error) {
//	    // raw is the result array, or null
//	})
//
// Servers may ask for edits with workspace/applyEdit; register an
// ApplyEditHandler to answer them.
//
// # Thread Safety
//
// Manager, Server and Transport are safe for concurrent use.
package lsp
