package cdp

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"

	"github.com/pkg/errors"
	"golang.org/x/net/websocket"
)

const defaultOrigin = "http://localhost/"

// Transport carries whole protocol messages.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(b []byte) error
	Close() error
}

type wsTransport struct {
	ws *websocket.Conn
}

// Dial opens a websocket transport to the inspector endpoint. Cancelling ctx
// aborts both the dial and the handshake.
func Dial(ctx context.Context, endpoint string) (Transport, error) {
	config, err := websocket.NewConfig(endpoint, defaultOrigin)
	if err != nil {
		return nil, errors.Wrapf(err, "inspector url %s", endpoint)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", hostPort(config.Location))
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", endpoint)
	}
	if config.Location.Scheme == "wss" {
		conn = tls.Client(conn, &tls.Config{ServerName: config.Location.Hostname()})
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	ws, err := websocket.NewClient(config, conn)
	if !stop() {
		conn.Close()
		return nil, errors.Wrapf(ctx.Err(), "handshake %s", endpoint)
	}
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "handshake %s", endpoint)
	}
	return &wsTransport{ws: ws}, nil
}

func hostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "wss" {
		return net.JoinHostPort(u.Hostname(), "443")
	}
	return net.JoinHostPort(u.Hostname(), "80")
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	var b []byte
	if err := websocket.Message.Receive(t.ws, &b); err != nil {
		return nil, err
	}
	return b, nil
}

func (t *wsTransport) WriteMessage(b []byte) error {
	// The inspector only accepts text frames.
	return websocket.Message.Send(t.ws, string(b))
}

func (t *wsTransport) Close() error {
	return t.ws.Close()
}
