package dbg

import (
	"context"
	"encoding/json"
	"fmt"
)

// PauseMode is the pause-on-exceptions state understood by the runtime.
type PauseMode int

const (
	PauseNone PauseMode = iota
	PauseAll
	PauseUncaught
)

var pauseModeNames = []string{"none", "all", "uncaught"}

func (m PauseMode) String() string {
	if m < 0 || int(m) >= len(pauseModeNames) {
		return fmt.Sprintf("PauseMode(%d)", m)
	}
	return pauseModeNames[m]
}

// ReasonException is the pause reason reported for thrown exceptions.
const ReasonException = "exception"

type CallFrame struct {
	ID           string
	URL          string
	FunctionName string
}

type PausedEvent struct {
	Reason     string
	Uncaught   bool
	CallFrames []CallFrame
	// Data is the auxiliary pause data as delivered by the runtime. For
	// exceptions it describes the thrown value.
	Data json.RawMessage
}

// TopFrame returns the innermost call frame, if any.
func (e *PausedEvent) TopFrame() (CallFrame, bool) {
	if len(e.CallFrames) == 0 {
		return CallFrame{}, false
	}
	return e.CallFrames[0], true
}

type Debugger interface {
	// Run services the runtime connection until it is closed.
	Run(ctx context.Context) error
	// Enable the debugging domain of the runtime.
	Enable(ctx context.Context) error
	// SetPauseOnExceptions changes the runtime's pause-on-exceptions state.
	SetPauseOnExceptions(ctx context.Context, mode PauseMode) error
	// NextPause blocks until the runtime pauses.
	NextPause(ctx context.Context) (PausedEvent, error)
	// Resume execution.
	Resume(ctx context.Context) error
	// Detach from the runtime.
	Detach() error
}
