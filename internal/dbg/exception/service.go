// Package exception decides whether the runtime stays paused on thrown
// exceptions and keeps the runtime's pause-on-exceptions state in sync with
// the exception filters requested by the client.
package exception

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"gni.dev/jsdbg/internal/dbg"
)

// errorBinding is the identifier conditions use to refer to the thrown value.
const errorBinding = "error"

// Predicate evaluates a compiled condition against a paused frame.
type Predicate func(ctx context.Context, frameID string, data json.RawMessage) (bool, error)

type Compiler interface {
	// Compile prepares source for repeated evaluation. The pause data is
	// bound to the identifier named by binding, if any.
	Compile(ctx context.Context, source, binding string) (Predicate, error)
}

type ScriptFilter interface {
	IsSkipped(url string) bool
}

type Driver interface {
	SetPauseOnExceptions(ctx context.Context, mode dbg.PauseMode) error
}

// pauseState is either nonePause or *activePause.
type pauseState interface {
	mode() dbg.PauseMode
}

type nonePause struct{}

func (nonePause) mode() dbg.PauseMode { return dbg.PauseNone }

type activePause struct {
	pause dbg.PauseMode
	// A nil condition pauses unconditionally.
	caught   Predicate
	uncaught Predicate
}

func (p *activePause) mode() dbg.PauseMode { return p.pause }

type Service struct {
	compiler Compiler
	filter   ScriptFilter
	log      zerolog.Logger
	shared   bool

	mu     sync.RWMutex
	state  pauseState
	driver Driver
}

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithSharedConditions makes every conditional bucket evaluate the
// conditions of the whole request rather than only its own.
func WithSharedConditions(shared bool) Option {
	return func(s *Service) { s.shared = shared }
}

func NewService(compiler Compiler, filter ScriptFilter, opts ...Option) *Service {
	s := &Service{
		compiler: compiler,
		filter:   filter,
		log:      zerolog.Nop(),
		state:    nonePause{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mode returns the currently configured pause mode.
func (s *Service) Mode() dbg.PauseMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.mode()
}

// Configure replaces the pause configuration with the one described by req
// and pushes the resulting mode to the attached driver. A condition that
// fails to compile rejects the whole request and leaves the previous
// configuration in place. A driver failure is returned, but the new
// configuration stays installed.
func (s *Service) Configure(ctx context.Context, req FilterRequest) error {
	p := planFilters(req, s.shared)
	next, err := s.compile(ctx, p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.state = next
	driver := s.driver
	s.mu.Unlock()

	s.log.Debug().
		Stringer("mode", p.mode).
		Bool("caughtCondition", p.caught != "").
		Bool("uncaughtCondition", p.uncaught != "").
		Msg("exception filters configured")

	if driver == nil {
		return nil
	}
	return errors.Wrap(driver.SetPauseOnExceptions(ctx, p.mode), "set pause on exceptions")
}

func (s *Service) compile(ctx context.Context, p plan) (pauseState, error) {
	if p.mode == dbg.PauseNone {
		return nonePause{}, nil
	}
	st := &activePause{pause: p.mode}
	var err error
	if st.caught, err = s.compileCondition(ctx, p.caught); err != nil {
		return nil, err
	}
	if st.uncaught, err = s.compileCondition(ctx, p.uncaught); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Service) compileCondition(ctx context.Context, source string) (Predicate, error) {
	if source == "" {
		return nil, nil
	}
	pred, err := s.compiler.Compile(ctx, source, errorBinding)
	if err != nil {
		return nil, &CompileError{Source: source, Err: err}
	}
	return pred, nil
}

// Attach records the driver that future configuration changes are pushed to
// and pushes the current mode to it. The runtime's debugging domain must
// already be enabled.
func (s *Service) Attach(ctx context.Context, d Driver) error {
	s.mu.Lock()
	s.driver = d
	mode := s.state.mode()
	s.mu.Unlock()

	if mode == dbg.PauseNone {
		return nil
	}
	return errors.Wrap(d.SetPauseOnExceptions(ctx, mode), "set pause on exceptions")
}

// Detach forgets the attached driver.
func (s *Service) Detach() {
	s.mu.Lock()
	s.driver = nil
	s.mu.Unlock()
}

// ShouldPause reports whether the runtime should stay paused for ev. The
// configuration in effect when the call starts is used throughout, even if
// it is replaced while a condition is being evaluated.
func (s *Service) ShouldPause(ctx context.Context, ev dbg.PausedEvent) bool {
	s.mu.RLock()
	st := s.state
	s.mu.RUnlock()

	if ev.Reason != dbg.ReasonException {
		return false
	}
	switch st := st.(type) {
	case nonePause:
		return false
	case *activePause:
		return s.judge(ctx, st, ev)
	}
	return false
}

func (s *Service) judge(ctx context.Context, st *activePause, ev dbg.PausedEvent) bool {
	top, hasFrame := ev.TopFrame()

	// Uncaught exceptions surface even when thrown from skipped scripts.
	if !ev.Uncaught && hasFrame && s.filter.IsSkipped(top.URL) {
		s.log.Debug().Str("url", top.URL).Msg("caught exception in skipped script")
		return false
	}

	cond := st.caught
	if ev.Uncaught {
		cond = st.uncaught
	}
	if cond == nil {
		return true
	}

	ok, err := cond(ctx, top.ID, ev.Data)
	if err != nil {
		s.log.Warn().Err(err).Bool("uncaught", ev.Uncaught).Msg("exception condition failed, pausing")
		return true
	}
	return ok
}
