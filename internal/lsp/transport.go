package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Transport handles JSON-RPC 2.0 communication over stdio.
// It implements the LSP base protocol with Content-Length headers.
type Transport struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer

	mu              sync.Mutex
	writeMu         sync.Mutex
	nextID          atomic.Int64
	pending         map[int64]chan *Response
	handlers        map[string]NotificationHandler
	requestHandlers map[string]RequestHandler

	closed atomic.Bool
	done   chan struct{}
}

// NotificationHandler handles incoming notifications from the server.
type NotificationHandler func(method string, params json.RawMessage)

// RequestHandler answers a request initiated by the server, such as
// workspace/applyEdit. The returned value is sent back as the result.
type RequestHandler func(ctx context.Context, params json.RawMessage) (any, error)

// ResponseHandler receives the raw result of an asynchronous call.
// Exactly one of result and err is meaningful.
type ResponseHandler func(result json.RawMessage, err error)

// Request represents a JSON-RPC request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response represents a JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// incoming is used to parse notifications and server-initiated requests.
type incoming struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// reply answers a server-initiated request. The ID is echoed verbatim
// because servers may use string identifiers.
type reply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
}

// NewTransport creates a new transport over the given connection.
func NewTransport(r io.Reader, w io.Writer, c io.Closer) *Transport {
	return &Transport{
		reader:          bufio.NewReaderSize(r, 64*1024),
		writer:          w,
		closer:          c,
		pending:         make(map[int64]chan *Response),
		handlers:        make(map[string]NotificationHandler),
		requestHandlers: make(map[string]RequestHandler),
		done:            make(chan struct{}),
	}
}

// Start begins reading messages from the connection in a goroutine.
func (t *Transport) Start(ctx context.Context) {
	go t.readLoop(ctx)
}

// Close closes the transport and releases resources.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}

	close(t.done)

	// Waiters observe t.done; channels are not closed to avoid racing handleResponse.
	t.mu.Lock()
	t.pending = make(map[int64]chan *Response)
	t.mu.Unlock()

	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// Call sends a request and waits for a response.
func (t *Transport) Call(ctx context.Context, method string, params any, result any) error {
	if t.closed.Load() {
		return ErrShutdown
	}

	id := t.nextID.Add(1)
	ch := make(chan *Response, 1)

	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	req := &Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
	if err := t.send(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return ErrShutdown
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	}
}

// CallAsync sends a request and returns immediately. The handler runs on
// its own goroutine once the response arrives, the context ends, or the
// transport closes.
func (t *Transport) CallAsync(ctx context.Context, method string, params any, handler ResponseHandler) {
	go func() {
		var raw json.RawMessage
		err := t.Call(ctx, method, params, &raw)
		if handler != nil {
			handler(raw, err)
		}
	}()
}

// Notify sends a notification (no response expected).
func (t *Transport) Notify(ctx context.Context, method string, params any) error {
	if t.closed.Load() {
		return ErrShutdown
	}

	return t.send(&Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	})
}

// OnNotification registers a handler for server notifications.
// The method "*" registers a fallback handler.
func (t *Transport) OnNotification(method string, handler NotificationHandler) {
	t.mu.Lock()
	t.handlers[method] = handler
	t.mu.Unlock()
}

// OnRequest registers a handler for requests initiated by the server.
func (t *Transport) OnRequest(method string, handler RequestHandler) {
	t.mu.Lock()
	t.requestHandlers[method] = handler
	t.mu.Unlock()
}

// send writes a message with LSP content-length header.
func (t *Transport) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := io.WriteString(t.writer, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}

	return nil
}

func (t *Transport) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		msg, err := t.readMessage()
		if err != nil {
			if errors.Is(err, errMalformedFrame) {
				continue
			}
			// The stream is gone; closing releases waiting callers and
			// marks the transport closed for its owner.
			_ = t.Close()
			return
		}

		t.dispatch(ctx, msg)
	}
}

// errMalformedFrame marks a message whose framing was unreadable while the
// stream itself is still healthy.
var errMalformedFrame = errors.New("malformed frame")

// readMessage reads a single LSP message.
func (t *Transport) readMessage() (json.RawMessage, error) {
	var contentLength int
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(name), "content-length") {
			if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				contentLength = n
			}
		}
	}

	if contentLength <= 0 {
		return nil, fmt.Errorf("%w: missing Content-Length header", errMalformedFrame)
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return body, nil
}

// dispatch routes a message to the appropriate handler.
func (t *Transport) dispatch(ctx context.Context, data json.RawMessage) {
	var probe struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Error  *RPCError       `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return
	}

	switch {
	case probe.ID != nil && probe.Method == "" && (probe.Result != nil || probe.Error != nil):
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return
		}
		t.handleResponse(&resp)
	case probe.Method != "":
		var msg incoming
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		if msg.ID != nil {
			go t.handleRequest(ctx, &msg)
			return
		}
		t.handleNotification(&msg)
	}
}

// handleResponse routes a response to its waiting caller.
func (t *Transport) handleResponse(resp *Response) {
	if t.closed.Load() {
		return
	}

	t.mu.Lock()
	ch, ok := t.pending[resp.ID]
	if ok {
		delete(t.pending, resp.ID)
	}
	t.mu.Unlock()

	if ok {
		select {
		case ch <- resp:
		default:
		}
	}
}

func (t *Transport) handleNotification(msg *incoming) {
	t.mu.Lock()
	handler, ok := t.handlers[msg.Method]
	if !ok {
		handler, ok = t.handlers["*"]
	}
	t.mu.Unlock()

	if ok && handler != nil {
		// Handlers must not block the read loop.
		go handler(msg.Method, msg.Params)
	}
}

func (t *Transport) handleRequest(ctx context.Context, msg *incoming) {
	t.mu.Lock()
	handler, ok := t.requestHandlers[msg.Method]
	t.mu.Unlock()

	out := reply{JSONRPC: "2.0", ID: msg.ID}
	if !ok || handler == nil {
		out.Error = &RPCError{Code: CodeMethodNotFound, Message: "method not supported: " + msg.Method}
	} else if result, err := handler(ctx, msg.Params); err != nil {
		out.Error = &RPCError{Code: CodeRequestFailed, Message: err.Error()}
	} else {
		out.Result = result
	}

	_ = t.send(&out)
}

// Done returns a channel closed when the transport closes, either
// explicitly or because the stream ended.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// IsClosed returns true if the transport has been closed.
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}
