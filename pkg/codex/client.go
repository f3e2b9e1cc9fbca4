package codex

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentdeck/agentdeck/internal/common/logger"
	"go.uber.org/zap"
)

// DefaultCallTimeout bounds a single RPC when no per-call timeout is given.
// Agent turns can run for many minutes, so this is deliberately long;
// callers needing short timeouts must supply one explicitly.
const DefaultCallTimeout = time.Hour

// Client handles Codex JSON-RPC communication over stdin/stdout streams.
// Outbound calls are assigned monotonically increasing ids and framed as one
// line of JSON per message. Malformed incoming lines are logged and dropped.
type Client struct {
	stdin  io.Writer
	stdout io.Reader

	requestID atomic.Int64
	pending   map[int64]chan *Response
	mu        sync.Mutex

	onNotification func(method string, params json.RawMessage)
	onRequest      func(id interface{}, method string, params json.RawMessage)
	onDisconnect   func(err error)

	defaultTimeout time.Duration

	logger *logger.Logger
	done   chan struct{}

	failOnce sync.Once
	failed   chan struct{}
	failErr  error
}

// NewClient creates a new Codex JSON-RPC client over the given pipes.
func NewClient(stdin io.Writer, stdout io.Reader, log *logger.Logger) *Client {
	return &Client{
		stdin:          stdin,
		stdout:         stdout,
		pending:        make(map[int64]chan *Response),
		defaultTimeout: DefaultCallTimeout,
		logger:         log.WithFields(zap.String("component", "codex-client")),
		done:           make(chan struct{}),
		failed:         make(chan struct{}),
	}
}

// SetDefaultTimeout overrides the default per-call timeout.
func (c *Client) SetDefaultTimeout(d time.Duration) {
	if d > 0 {
		c.defaultTimeout = d
	}
}

// SetNotificationHandler sets the handler for incoming notifications.
func (c *Client) SetNotificationHandler(handler func(method string, params json.RawMessage)) {
	c.onNotification = handler
}

// SetRequestHandler sets the handler for incoming requests from the agent
// (approval prompts and similar server-initiated calls).
func (c *Client) SetRequestHandler(handler func(id interface{}, method string, params json.RawMessage)) {
	c.onRequest = handler
}

// SetDisconnectHandler sets the handler invoked once when the read loop
// terminates or Fail is called. The client never reconnects on its own.
func (c *Client) SetDisconnectHandler(handler func(err error)) {
	c.onDisconnect = handler
}

// Connected reports whether the connection is still usable.
func (c *Client) Connected() bool {
	select {
	case <-c.failed:
		return false
	case <-c.done:
		return false
	default:
		return true
	}
}

// SendResponse sends a response to an agent-initiated request.
func (c *Client) SendResponse(id interface{}, result interface{}, respErr *Error) error {
	var resultJSON json.RawMessage
	if result != nil && respErr == nil {
		var marshalErr error
		resultJSON, marshalErr = json.Marshal(result)
		if marshalErr != nil {
			return fmt.Errorf("failed to marshal result: %w", marshalErr)
		}
	}
	resp := &Response{ID: id, Result: resultJSON, Error: respErr}
	return c.send(resp)
}

// Start begins reading messages from stdout.
func (c *Client) Start(ctx context.Context) {
	go c.readLoop(ctx)
}

// Stop stops the client. Pending calls settle with ErrClientClosed.
func (c *Client) Stop() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// Fail marks the connection as broken, failing every pending call with a
// ConnectionError wrapping err. Called by the process manager on subprocess
// exit or spawn error; safe to call more than once.
func (c *Client) Fail(err error) {
	c.failOnce.Do(func() {
		c.failErr = err
		close(c.failed)
		if c.onDisconnect != nil {
			c.onDisconnect(err)
		}
	})
}

// CallOption adjusts a single Call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithTimeout bounds this call with the given deadline instead of the
// client default.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// Call sends a request and waits for its response, the call timeout, the
// caller's cancellation, or connection failure, whichever comes first.
// Cancellation settles the call with ErrAborted; it does not by itself kill
// the subprocess.
func (c *Client) Call(ctx context.Context, method string, params interface{}, opts ...CallOption) (*Response, error) {
	options := callOptions{timeout: c.defaultTimeout}
	for _, opt := range opts {
		opt(&options)
	}

	id := c.requestID.Add(1)

	var paramsJSON json.RawMessage
	if params != nil {
		var err error
		paramsJSON, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
	}

	req := &Request{ID: id, Method: method, Params: paramsJSON}

	respCh := make(chan *Response, 1)
	c.mu.Lock()
	c.pending[id] = respCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(req); err != nil {
		return nil, &ConnectionError{Err: err}
	}

	timer := time.NewTimer(options.timeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		return resp, nil
	case <-timer.C:
		return nil, &TimeoutError{Method: method, Timeout: options.timeout}
	case <-ctx.Done():
		return nil, fmt.Errorf("call %s: %w", method, ErrAborted)
	case <-c.failed:
		return nil, &ConnectionError{Err: c.failErr}
	case <-c.done:
		return nil, ErrClientClosed
	}
}

// Notify sends a notification (no response expected).
func (c *Client) Notify(method string, params interface{}) error {
	var paramsJSON json.RawMessage
	if params != nil {
		var err error
		paramsJSON, err = json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
	}
	notif := &Notification{Method: method, Params: paramsJSON}
	return c.send(notif)
}

func (c *Client) send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	data = append(data, '\n')
	c.mu.Lock()
	_, err = c.stdin.Write(data)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	c.logger.Debug("codex: sent message", zap.String("data", string(data)))
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	scanner := bufio.NewScanner(c.stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 16*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg struct {
			ID     interface{}     `json:"id"`
			Method string          `json:"method"`
			Result json.RawMessage `json:"result"`
			Error  *Error          `json:"error"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(line, &msg); err != nil {
			c.logger.Warn("dropping malformed message", zap.Error(err), zap.ByteString("line", line))
			continue
		}

		hasID := msg.ID != nil
		hasMethod := msg.Method != ""
		hasResult := msg.Result != nil
		hasError := msg.Error != nil

		switch {
		case hasID && hasMethod:
			c.handleRequest(msg.ID, msg.Method, msg.Params)
		case hasID && (hasResult || hasError):
			c.handleResponse(&Response{ID: msg.ID, Result: msg.Result, Error: msg.Error})
		case hasMethod:
			c.handleNotification(msg.Method, msg.Params)
		default:
			c.logger.Warn("dropping message with neither method nor result", zap.ByteString("line", line))
		}
	}

	err := scanner.Err()
	if err != nil {
		c.logger.Error("read loop error", zap.Error(err))
		c.Fail(err)
		return
	}
	// EOF: the subprocess closed its stdout, almost always because it died.
	select {
	case <-c.done:
	default:
		c.Fail(io.EOF)
	}
}

func (c *Client) handleResponse(resp *Response) {
	id, ok := normalizeID(resp.ID)
	if !ok {
		c.logger.Warn("received response with non-numeric id", zap.Any("id", resp.ID))
		return
	}
	c.mu.Lock()
	ch, found := c.pending[id]
	c.mu.Unlock()
	if found {
		ch <- resp
	} else {
		c.logger.Warn("received response for unknown request", zap.Any("id", resp.ID))
	}
}

func normalizeID(id interface{}) (int64, bool) {
	switch v := id.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
	}
	return 0, false
}

func (c *Client) handleNotification(method string, params json.RawMessage) {
	if c.onNotification != nil {
		c.onNotification(method, params)
	}
}

func (c *Client) handleRequest(id interface{}, method string, params json.RawMessage) {
	if c.onRequest != nil {
		c.onRequest(id, method, params)
		return
	}
	c.logger.Warn("received request but no handler registered", zap.String("method", method))
	if err := c.SendResponse(id, nil, &Error{Code: MethodNotFound, Message: "Method not found"}); err != nil {
		c.logger.Warn("failed to send method not found response", zap.Error(err))
	}
}
