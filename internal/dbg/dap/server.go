package dap

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/pkg/errors"
)

type Server struct {
	port int
	cfg  Config
}

func NewServer(port int, cfg Config) *Server {
	return &Server{port, cfg}
}

// Run accepts clients one at a time until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", s.port))
	if err != nil {
		return err
	}
	defer listen.Close()
	stop := context.AfterFunc(ctx, func() { listen.Close() })
	defer stop()

	s.cfg.Log.Info().Stringer("addr", listen.Addr()).Msg("listening")
	for {
		conn, err := listen.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := s.serve(ctx, conn); err != nil {
			s.cfg.Log.Error().Err(err).Stringer("remote", conn.RemoteAddr()).Msg("session failed")
		}
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sess, err := NewSession(conn, s.cfg)
	if err != nil {
		return errors.Wrap(err, "new session")
	}
	err = sess.Serve(ctx)
	if err == io.EOF || ctx.Err() != nil {
		return nil
	}
	return err
}
