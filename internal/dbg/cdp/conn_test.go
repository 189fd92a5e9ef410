package cdp

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockTransport struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (t *mockTransport) ReadMessage() ([]byte, error) {
	select {
	case b := <-t.in:
		return b, nil
	case <-t.closed:
		return nil, io.EOF
	}
}

func (t *mockTransport) WriteMessage(b []byte) error {
	select {
	case t.out <- b:
		return nil
	case <-t.closed:
		return io.ErrClosedPipe
	}
}

func (t *mockTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

// mockRuntime answers calls written to a mockTransport. A nil response from
// handle leaves the call unanswered.
type mockRuntime struct {
	t      *mockTransport
	handle func(req request) *response

	mu    sync.Mutex
	calls []request
}

func (r *mockRuntime) serve() {
	for {
		select {
		case b := <-r.t.out:
			var req request
			if err := json.Unmarshal(b, &req); err != nil {
				panic(err)
			}
			r.mu.Lock()
			r.calls = append(r.calls, req)
			r.mu.Unlock()

			resp := r.handle(req)
			if resp == nil {
				continue
			}
			resp.ID = req.ID
			b, _ = json.Marshal(resp)
			r.t.in <- b
		case <-r.t.closed:
			return
		}
	}
}

func (r *mockRuntime) emit(method string, params string) {
	b, _ := json.Marshal(struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}{method, json.RawMessage(params)})
	r.t.in <- b
}

func (r *mockRuntime) methods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []string
	for _, c := range r.calls {
		res = append(res, c.Method)
	}
	return res
}

func (r *mockRuntime) call(i int) request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[i]
}

func result(v string) *response {
	return &response{Result: json.RawMessage(v)}
}

func startRuntime(t *testing.T, handle func(req request) *response, opts ...Option) (*Conn, *mockRuntime) {
	mt := newMockTransport()
	rt := &mockRuntime{t: mt, handle: handle}
	c := NewConn(mt, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	go rt.serve()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c, rt
}

func TestCall(t *testing.T) {
	c, rt := startRuntime(t, func(req request) *response {
		return result(`{"answer":42}`)
	})

	var res struct {
		Answer int `json:"answer"`
	}
	params := map[string]string{"expression": "6*7"}
	require.NoError(t, c.Call(context.Background(), "Runtime.evaluate", params, &res))
	assert.Equal(t, 42, res.Answer)
	assert.Equal(t, "Runtime.evaluate", rt.call(0).Method)
	assert.JSONEq(t, `{"expression":"6*7"}`, string(rt.call(0).Params))

	require.NoError(t, c.Call(context.Background(), "Debugger.enable", nil, nil))
	assert.Empty(t, rt.call(1).Params)
	assert.NotEqual(t, rt.call(0).ID, rt.call(1).ID)
}

func TestCallError(t *testing.T) {
	c, _ := startRuntime(t, func(req request) *response {
		return &response{Error: &Error{Code: -32601, Message: "'Foo.bar' wasn't found"}}
	})

	err := c.Call(context.Background(), "Foo.bar", nil, nil)
	var cdpErr *Error
	require.ErrorAs(t, err, &cdpErr)
	assert.Equal(t, -32601, cdpErr.Code)
	assert.Contains(t, err.Error(), "wasn't found")
}

func TestCallTimeout(t *testing.T) {
	c, _ := startRuntime(t, func(req request) *response { return nil }, WithCallTimeout(20*time.Millisecond))

	err := c.Call(context.Background(), "Debugger.resume", nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallAfterClose(t *testing.T) {
	mt := newMockTransport()
	c := NewConn(mt)
	done := make(chan error)
	go func() { done <- c.Run(context.Background()) }()

	paused := c.Subscribe("Debugger.paused", 1)
	require.NoError(t, c.Close())
	assert.ErrorIs(t, <-done, io.EOF)

	_, ok := <-paused
	assert.False(t, ok)
	assert.ErrorIs(t, c.Call(context.Background(), "Debugger.resume", nil, nil), ErrClosed)

	_, ok = <-c.Subscribe("Debugger.paused", 1)
	assert.False(t, ok)
}

func TestPendingCallFailsOnShutdown(t *testing.T) {
	c, rt := startRuntime(t, func(req request) *response { return nil })

	errc := make(chan error)
	go func() { errc <- c.Call(context.Background(), "Debugger.resume", nil, nil) }()
	require.Eventually(t, func() bool { return len(rt.methods()) == 1 }, time.Second, time.Millisecond)

	c.Close()
	assert.ErrorIs(t, <-errc, ErrClosed)
}

func TestEventsRouteToSubscribers(t *testing.T) {
	c, rt := startRuntime(t, func(req request) *response { return result(`{}`) })
	paused := c.Subscribe("Debugger.paused", 2)

	rt.emit("Debugger.scriptParsed", `{"scriptId":"1","url":"file:///a.js"}`)
	rt.emit("Debugger.paused", `{"reason":"other","callFrames":[]}`)

	select {
	case ev := <-paused:
		assert.Equal(t, "Debugger.paused", ev.Method)
		assert.JSONEq(t, `{"reason":"other","callFrames":[]}`, string(ev.Params))
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}
