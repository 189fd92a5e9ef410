package cdp

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"gni.dev/jsdbg/internal/dbg"
)

// Driver drives the Debugger domain of a runtime.
type Driver struct {
	c      *Conn
	paused <-chan Event
}

func NewDriver(c *Conn) *Driver {
	return &Driver{
		c: c,
		// The runtime reports at most one pause at a time.
		paused: c.Subscribe("Debugger.paused", 1),
	}
}

func (d *Driver) Run(ctx context.Context) error {
	return d.c.Run(ctx)
}

func (d *Driver) Enable(ctx context.Context) error {
	return d.c.Call(ctx, "Debugger.enable", struct{}{}, nil)
}

func (d *Driver) SetPauseOnExceptions(ctx context.Context, mode dbg.PauseMode) error {
	params := struct {
		State string `json:"state"`
	}{mode.String()}
	return d.c.Call(ctx, "Debugger.setPauseOnExceptions", params, nil)
}

func (d *Driver) NextPause(ctx context.Context) (dbg.PausedEvent, error) {
	select {
	case ev, ok := <-d.paused:
		if !ok {
			return dbg.PausedEvent{}, ErrClosed
		}
		return parsePaused(ev.Params)
	case <-ctx.Done():
		return dbg.PausedEvent{}, ctx.Err()
	}
}

func (d *Driver) Resume(ctx context.Context) error {
	return d.c.Call(ctx, "Debugger.resume", struct{}{}, nil)
}

func (d *Driver) Detach() error {
	return d.c.Close()
}

type pausedParams struct {
	Reason     string          `json:"reason"`
	Data       json.RawMessage `json:"data,omitempty"`
	CallFrames []struct {
		CallFrameID  string `json:"callFrameId"`
		FunctionName string `json:"functionName"`
		URL          string `json:"url"`
	} `json:"callFrames"`
}

func parsePaused(raw json.RawMessage) (dbg.PausedEvent, error) {
	var p pausedParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return dbg.PausedEvent{}, errors.Wrap(err, "decode Debugger.paused")
	}
	// Rejected promises are thrown values as far as pausing is concerned.
	if p.Reason == "promiseRejection" {
		p.Reason = dbg.ReasonException
	}
	ev := dbg.PausedEvent{
		Reason:   p.Reason,
		Uncaught: gjson.GetBytes(p.Data, "uncaught").Bool(),
		Data:     p.Data,
	}
	for _, f := range p.CallFrames {
		ev.CallFrames = append(ev.CallFrames, dbg.CallFrame{
			ID:           f.CallFrameID,
			URL:          f.URL,
			FunctionName: f.FunctionName,
		})
	}
	return ev, nil
}
