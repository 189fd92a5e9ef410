package dap

import "fmt"

type dapError int

const (
	processingErr dapError = iota
	parseErr
	attachErr
	setExceptionBreakpointsErr
	notAttachedErr
)

var dapErrorMessages = []string{
	"Processing error",
	"Parse error",
	"Failed to attach",
	"Failed to set exception breakpoints",
	"No runtime attached",
}

func (e dapError) String() string {
	if e < 0 || int(e) >= len(dapErrorMessages) {
		return fmt.Sprintf("dapError(%d)", e)
	}
	return dapErrorMessages[e]
}
