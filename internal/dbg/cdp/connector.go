package cdp

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"gni.dev/jsdbg/internal/dbg"
)

// Connector attaches to runtimes over websocket inspector endpoints.
type Connector struct {
	// Evaluator, if set, is bound to every new connection.
	Evaluator   *Evaluator
	CallTimeout time.Duration
	Log         zerolog.Logger
}

func (c *Connector) Connect(ctx context.Context, url string) (dbg.Debugger, error) {
	t, err := Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	conn := NewConn(t,
		WithCallTimeout(c.CallTimeout),
		WithLogger(c.Log.With().Str("runtime", url).Logger()),
	)
	if c.Evaluator != nil {
		c.Evaluator.Bind(conn)
	}
	return NewDriver(conn), nil
}
