package dap

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"gni.dev/jsdbg/internal/dbg"
	"gni.dev/jsdbg/internal/dbg/cdp"
	"gni.dev/jsdbg/internal/dbg/exception"
	"gni.dev/jsdbg/internal/dbg/skip"
)

// JavaScript runtimes are single threaded as far as the client is concerned.
const threadID = 1

var exceptionFilters = []map[string]interface{}{
	{
		"filter":               exception.FilterAll,
		"label":                "Caught Exceptions",
		"description":          "Breaks on all throw errors, even if they're caught later.",
		"default":              false,
		"supportsCondition":    true,
		"conditionDescription": `error.name == "MyError"`,
	},
	{
		"filter":               exception.FilterUncaught,
		"label":                "Uncaught Exceptions",
		"description":          "Breaks only on errors or promise rejections that are not handled.",
		"default":              false,
		"supportsCondition":    true,
		"conditionDescription": `error.name == "MyError"`,
	},
}

// Connector attaches to a runtime.
type Connector interface {
	Connect(ctx context.Context, url string) (dbg.Debugger, error)
}

type Config struct {
	SkipFiles        []string
	SharedConditions bool
	CallTimeout      time.Duration
	Log              zerolog.Logger
	// Connector defaults to a Chrome DevTools Protocol connector.
	Connector Connector
}

type Session struct {
	rw       io.ReadWriter
	handlers map[string]func(context.Context, *request)
	log      zerolog.Logger

	svc       *exception.Service
	skip      *skip.Filter
	connector Connector
	eg        *errgroup.Group

	wmu sync.Mutex
	seq int

	mu       sync.Mutex
	debugger dbg.Debugger
	closed   bool
}

func NewSession(rw io.ReadWriter, cfg Config) (*Session, error) {
	filter, err := skip.New(cfg.SkipFiles, skip.WithLogger(cfg.Log))
	if err != nil {
		return nil, err
	}
	eval := cdp.NewEvaluator(cfg.Log)
	connector := cfg.Connector
	if connector == nil {
		connector = &cdp.Connector{Evaluator: eval, CallTimeout: cfg.CallTimeout, Log: cfg.Log}
	}

	s := &Session{
		rw:        rw,
		log:       cfg.Log,
		skip:      filter,
		connector: connector,
		svc: exception.NewService(eval, filter,
			exception.WithLogger(cfg.Log.With().Str("component", "exception").Logger()),
			exception.WithSharedConditions(cfg.SharedConditions),
		),
	}
	s.handlers = map[string]func(context.Context, *request){
		"initialize":              s.onInitialize,
		"attach":                  s.onAttach,
		"setExceptionBreakpoints": s.onSetExceptionBreakpoints,
		"configurationDone":       s.onConfigurationDone,
		"continue":                s.onContinue,
		"toggleSkipFileStatus":    s.onToggleSkipFileStatus,
		"disconnect":              s.onDisconnect,
	}
	return s, nil
}

// Serve handles requests until the client disconnects, in which case io.EOF
// is returned, or until ctx is done.
func (s *Session) Serve(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	s.eg = eg
	eg.Go(func() error {
		defer s.teardown()
		return s.serve(ctx)
	})
	return eg.Wait()
}

// read feeds incoming messages to msgs. A reader such as stdin cannot be
// interrupted, so read may outlive the session blocked on it.
func (s *Session) read(ctx context.Context, msgs chan<- message, errc chan<- error) {
	r := bufio.NewReader(s.rw)
	for {
		m, err := readMessage(r)
		if err != nil {
			errc <- err
			return
		}
		select {
		case msgs <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) serve(ctx context.Context) error {
	msgs := make(chan message)
	errc := make(chan error, 1)
	go s.read(ctx, msgs, errc)

	for {
		var m message
		select {
		case m = <-msgs:
		case err := <-errc:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
		req, ok := m.(*request)
		if !ok {
			s.replyErr(m, processingErr, "only requests are allowed", false)
			return io.EOF
		}

		fn, ok := s.handlers[req.Command]
		if !ok {
			s.replyErr(m, processingErr, "unknown command", false)
			continue
		}
		fn(ctx, req)
		if req.Command == "disconnect" {
			return io.EOF
		}
	}
}

func (s *Session) teardown() {
	s.svc.Detach()

	s.mu.Lock()
	d := s.debugger
	s.debugger = nil
	s.closed = true
	s.mu.Unlock()

	if d != nil {
		if err := d.Detach(); err != nil {
			s.log.Warn().Err(err).Msg("detach runtime")
		}
	}
}

func (s *Session) attached() dbg.Debugger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debugger
}

func (s *Session) onInitialize(ctx context.Context, req *request) {
	resp := map[string]interface{}{
		"supportsConfigurationDoneRequest": true,
		"supportsExceptionFilterOptions":   true,
		"supportsConditionalBreakpoints":   true,
		"exceptionBreakpointFilters":       exceptionFilters,
	}
	s.reply(newResponse(req, resp))
	s.reply(newEvent("initialized", nil))
}

type attachArguments struct {
	CDPURL           string `json:"cdpUrl"`
	WebSocketAddress string `json:"websocketAddress"`
}

func (s *Session) onAttach(ctx context.Context, req *request) {
	var args attachArguments
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		s.replyErr(req, parseErr, err.Error(), false)
		return
	}
	url := args.CDPURL
	if url == "" {
		url = args.WebSocketAddress
	}
	if url == "" {
		s.replyErr(req, attachErr, "cdpUrl is required", true)
		return
	}
	if err := s.attach(ctx, url); err != nil {
		s.log.Warn().Err(err).Str("url", url).Msg("attach")
		s.replyErr(req, attachErr, err.Error(), true)
		return
	}
	s.reply(newResponse(req, nil))
}

func (s *Session) attach(ctx context.Context, url string) error {
	s.mu.Lock()
	if s.debugger != nil {
		s.mu.Unlock()
		return errors.New("already attached")
	}
	d, err := s.connector.Connect(ctx, url)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.debugger = d
	s.mu.Unlock()

	s.eg.Go(func() error {
		s.runDebugger(ctx, d)
		return nil
	})
	if err := d.Enable(ctx); err != nil {
		s.detach(d)
		return errors.Wrap(err, "enable debugger")
	}
	// The mode is pushed only once the debugging domain is enabled.
	if err := s.svc.Attach(ctx, d); err != nil {
		s.detach(d)
		return err
	}
	s.eg.Go(func() error {
		s.pumpPauses(ctx, d)
		return nil
	})
	s.log.Info().Str("url", url).Stringer("mode", s.svc.Mode()).Msg("attached")
	return nil
}

func (s *Session) detach(d dbg.Debugger) {
	s.svc.Detach()
	s.mu.Lock()
	if s.debugger == d {
		s.debugger = nil
	}
	s.mu.Unlock()
	if err := d.Detach(); err != nil {
		s.log.Warn().Err(err).Msg("detach runtime")
	}
}

func (s *Session) runDebugger(ctx context.Context, d dbg.Debugger) {
	err := d.Run(ctx)
	s.log.Info().Err(err).Msg("runtime disconnected")

	s.mu.Lock()
	closed := s.closed
	current := s.debugger == d
	s.mu.Unlock()
	if closed || !current {
		return
	}
	// Forget the runtime so the session can attach again.
	s.detach(d)
	s.reply(newEvent("terminated", nil))
}

func (s *Session) pumpPauses(ctx context.Context, d dbg.Debugger) {
	for {
		ev, err := d.NextPause(ctx)
		if err != nil {
			return
		}
		s.handlePause(ctx, d, ev)
	}
}

func (s *Session) handlePause(ctx context.Context, d dbg.Debugger, ev dbg.PausedEvent) {
	body := map[string]interface{}{
		"threadId":          threadID,
		"allThreadsStopped": true,
	}
	if ev.Reason != dbg.ReasonException {
		body["reason"] = stoppedReason(ev.Reason)
		s.reply(newEvent("stopped", body))
		return
	}

	if !s.svc.ShouldPause(ctx, ev) {
		if err := d.Resume(ctx); err != nil {
			s.log.Warn().Err(err).Msg("resume after exception")
		}
		return
	}
	body["reason"] = "exception"
	if desc := gjson.GetBytes(ev.Data, "description").String(); desc != "" {
		body["description"] = desc
		body["text"] = desc
	}
	s.reply(newEvent("stopped", body))
}

func stoppedReason(reason string) string {
	if reason == "step" {
		return "step"
	}
	return "pause"
}

func (s *Session) onSetExceptionBreakpoints(ctx context.Context, req *request) {
	var args exception.FilterRequest
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		s.replyErr(req, parseErr, err.Error(), false)
		return
	}
	if err := s.svc.Configure(ctx, args); err != nil {
		s.log.Warn().Err(err).Msg("set exception breakpoints")
		s.replyErr(req, setExceptionBreakpointsErr, err.Error(), true)
		return
	}

	n := len(args.Filters) + len(args.FilterOptions)
	bps := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		bps = append(bps, map[string]interface{}{"verified": true})
	}
	s.reply(newResponse(req, map[string]interface{}{"breakpoints": bps}))
}

func (s *Session) onConfigurationDone(ctx context.Context, req *request) {
	s.reply(newResponse(req, nil))
}

func (s *Session) onContinue(ctx context.Context, req *request) {
	d := s.attached()
	if d == nil {
		s.replyErr(req, notAttachedErr, "continue requires an attached runtime", false)
		return
	}
	if err := d.Resume(ctx); err != nil {
		s.replyErr(req, processingErr, err.Error(), false)
		return
	}
	s.reply(newResponse(req, map[string]interface{}{"allThreadsContinued": true}))
}

type toggleSkipFileStatusArguments struct {
	Resource string `json:"resource"`
}

func (s *Session) onToggleSkipFileStatus(ctx context.Context, req *request) {
	var args toggleSkipFileStatusArguments
	if err := json.Unmarshal(req.Arguments, &args); err != nil || args.Resource == "" {
		s.replyErr(req, parseErr, "resource is required", false)
		return
	}
	skipped := s.skip.Toggle(args.Resource)
	s.reply(newResponse(req, map[string]interface{}{"skipped": skipped}))
}

func (s *Session) onDisconnect(ctx context.Context, req *request) {
	s.reply(newResponse(req, nil))
}

func (s *Session) reply(m message) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.seq++
	m.setSeq(s.seq)
	if err := writeMessage(s.rw, m); err != nil {
		s.log.Error().Err(err).Msg("write message")
	}
}

func (s *Session) replyErr(incoming message, e dapError, details string, show bool) {
	cmd := "unknown"
	req, ok := incoming.(*request)
	if ok {
		cmd = req.Command
	}
	s.reply(newErrResponse(incoming, int(e), cmd, e.String(), details, show))
}
