// Package cdp talks to a JavaScript runtime over the Chrome DevTools
// Protocol. It provides the runtime driver and the condition evaluator used
// by the exception pause service.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

var ErrClosed = errors.New("cdp: connection closed")

// Error is an error reported by the runtime in reply to a call.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("cdp error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

type Event struct {
	Method string
	Params json.RawMessage
}

type request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

type Conn struct {
	t           Transport
	log         zerolog.Logger
	callTimeout time.Duration

	nextID atomic.Int64
	wmu    sync.Mutex

	mu      sync.Mutex
	closed  bool
	pending map[int64]chan *response
	subs    map[string][]chan Event
}

type Option func(*Conn)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Conn) { c.log = l }
}

// WithCallTimeout bounds every call made on the connection.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Conn) { c.callTimeout = d }
}

func NewConn(t Transport, opts ...Option) *Conn {
	c := &Conn{
		t:       t,
		log:     zerolog.Nop(),
		pending: make(map[int64]chan *response),
		subs:    make(map[string][]chan Event),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe returns a channel receiving the events named method. Events
// nobody subscribed to are dropped. The channel is closed when the
// connection shuts down.
func (c *Conn) Subscribe(method string, buf int) <-chan Event {
	ch := make(chan Event, buf)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch
	}
	c.subs[method] = append(c.subs[method], ch)
	return ch
}

// Run reads messages until the transport fails or ctx is done.
func (c *Conn) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.t.Close() })
	defer stop()
	defer c.shutdown()

	for {
		b, err := c.t.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.dispatch(ctx, b)
	}
}

func (c *Conn) dispatch(ctx context.Context, b []byte) {
	head := gjson.GetManyBytes(b, "id", "method")
	if head[0].Exists() {
		var resp response
		if err := json.Unmarshal(b, &resp); err != nil {
			c.log.Warn().Err(err).Msg("malformed response")
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if !ok {
			c.log.Debug().Int64("id", resp.ID).Msg("response without caller")
			return
		}
		ch <- &resp
		return
	}

	method := head[1].String()
	if method == "" {
		c.log.Warn().Bytes("message", b).Msg("unknown message")
		return
	}
	c.mu.Lock()
	subs := c.subs[method]
	c.mu.Unlock()

	ev := Event{Method: method, Params: json.RawMessage(gjson.GetBytes(b, "params").Raw)}
	for _, ch := range subs {
		select {
		case ch <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	for method, subs := range c.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(c.subs, method)
	}
}

// Call invokes method with params and decodes the reply into result, which
// may be nil.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	req := request{ID: c.nextID.Add(1), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return errors.Wrapf(err, "encode %s", method)
		}
		req.Params = raw
	}
	b, err := json.Marshal(req)
	if err != nil {
		return errors.Wrapf(err, "encode %s", method)
	}

	ch := make(chan *response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	c.wmu.Lock()
	err = c.t.WriteMessage(b)
	c.wmu.Unlock()
	if err != nil {
		return errors.Wrapf(err, "send %s", method)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrClosed
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result == nil || len(resp.Result) == 0 {
			return nil
		}
		return errors.Wrapf(json.Unmarshal(resp.Result, result), "decode %s", method)
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), method)
	}
}

// Close closes the transport, which ends Run.
func (c *Conn) Close() error {
	return c.t.Close()
}
