package cdp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gni.dev/jsdbg/internal/dbg"
)

func TestDriverCommands(t *testing.T) {
	c, rt := startRuntime(t, func(req request) *response { return result(`{}`) })
	d := NewDriver(c)
	ctx := context.Background()

	require.NoError(t, d.Enable(ctx))
	require.NoError(t, d.SetPauseOnExceptions(ctx, dbg.PauseUncaught))
	require.NoError(t, d.SetPauseOnExceptions(ctx, dbg.PauseAll))
	require.NoError(t, d.SetPauseOnExceptions(ctx, dbg.PauseNone))
	require.NoError(t, d.Resume(ctx))

	assert.Equal(t, []string{
		"Debugger.enable",
		"Debugger.setPauseOnExceptions",
		"Debugger.setPauseOnExceptions",
		"Debugger.setPauseOnExceptions",
		"Debugger.resume",
	}, rt.methods())
	assert.JSONEq(t, `{"state":"uncaught"}`, string(rt.call(1).Params))
	assert.JSONEq(t, `{"state":"all"}`, string(rt.call(2).Params))
	assert.JSONEq(t, `{"state":"none"}`, string(rt.call(3).Params))
}

var pausedTests = []struct {
	params string
	want   dbg.PausedEvent
}{
	{
		params: `{"reason":"exception","data":{"type":"object","className":"TypeError","objectId":"1.2","uncaught":true},
			"callFrames":[{"callFrameId":"cf0","functionName":"f","url":"file:///a.js"},{"callFrameId":"cf1","functionName":"","url":"file:///b.js"}]}`,
		want: dbg.PausedEvent{
			Reason:   "exception",
			Uncaught: true,
			CallFrames: []dbg.CallFrame{
				{ID: "cf0", URL: "file:///a.js", FunctionName: "f"},
				{ID: "cf1", URL: "file:///b.js"},
			},
		},
	},
	{
		params: `{"reason":"exception","data":{"type":"string","value":"boom","uncaught":false},"callFrames":[]}`,
		want:   dbg.PausedEvent{Reason: "exception"},
	},
	{
		params: `{"reason":"promiseRejection","data":{"type":"object","uncaught":true},"callFrames":[{"callFrameId":"cf0","url":"node:internal/x"}]}`,
		want: dbg.PausedEvent{
			Reason:     "exception",
			Uncaught:   true,
			CallFrames: []dbg.CallFrame{{ID: "cf0", URL: "node:internal/x"}},
		},
	},
	{
		params: `{"reason":"other","callFrames":[{"callFrameId":"cf0","url":"file:///a.js"}]}`,
		want: dbg.PausedEvent{
			Reason:     "other",
			CallFrames: []dbg.CallFrame{{ID: "cf0", URL: "file:///a.js"}},
		},
	},
}

func TestDriverNextPause(t *testing.T) {
	c, rt := startRuntime(t, func(req request) *response { return result(`{}`) })
	d := NewDriver(c)

	for i, test := range pausedTests {
		rt.emit("Debugger.paused", test.params)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		ev, err := d.NextPause(ctx)
		cancel()
		require.NoError(t, err, "test #%d", i)

		assert.Equal(t, test.want.Reason, ev.Reason, "test #%d", i)
		assert.Equal(t, test.want.Uncaught, ev.Uncaught, "test #%d", i)
		assert.Equal(t, test.want.CallFrames, ev.CallFrames, "test #%d", i)
	}
}

func TestDriverNextPauseEnds(t *testing.T) {
	c, _ := startRuntime(t, func(req request) *response { return result(`{}`) })
	d := NewDriver(c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.NextPause(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, d.Detach())
	_, err = d.NextPause(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
