package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"gni.dev/jsdbg/internal/dbg/exception"
)

// hoistedGlobal holds the pause data while a condition is evaluated.
const hoistedGlobal = "__jsdbgHoisted"

var errNotAttached = errors.New("cdp: no runtime attached")

type remoteObject struct {
	Type                string          `json:"type"`
	Subtype             string          `json:"subtype,omitempty"`
	Value               json.RawMessage `json:"value,omitempty"`
	UnserializableValue string          `json:"unserializableValue,omitempty"`
	Description         string          `json:"description,omitempty"`
}

// truthy applies JavaScript's ToBoolean to a value returned by value.
func (o *remoteObject) truthy() bool {
	switch o.Type {
	case "undefined":
		return false
	case "object":
		return o.Subtype != "null"
	case "boolean":
		return gjson.ParseBytes(o.Value).Bool()
	case "number":
		if o.UnserializableValue != "" {
			return o.UnserializableValue != "NaN" && o.UnserializableValue != "-0"
		}
		return gjson.ParseBytes(o.Value).Float() != 0
	case "string":
		return gjson.ParseBytes(o.Value).String() != ""
	case "bigint":
		return o.UnserializableValue != "0n"
	}
	return true
}

type exceptionDetails struct {
	Text      string        `json:"text"`
	Exception *remoteObject `json:"exception,omitempty"`
}

func (d *exceptionDetails) String() string {
	if d.Exception != nil && d.Exception.Description != "" {
		return d.Exception.Description
	}
	return d.Text
}

type evaluateOnCallFrameParams struct {
	CallFrameID   string `json:"callFrameId"`
	Expression    string `json:"expression"`
	Silent        bool   `json:"silent,omitempty"`
	ReturnByValue bool   `json:"returnByValue,omitempty"`
}

type callFunctionOnParams struct {
	ObjectID            string `json:"objectId"`
	FunctionDeclaration string `json:"functionDeclaration"`
	Silent              bool   `json:"silent,omitempty"`
}

type evaluateParams struct {
	Expression string `json:"expression"`
	Silent     bool   `json:"silent,omitempty"`
}

type evaluateResult struct {
	Result           remoteObject      `json:"result"`
	ExceptionDetails *exceptionDetails `json:"exceptionDetails,omitempty"`
}

// Evaluator compiles exception conditions and evaluates them on paused call
// frames of the bound runtime. Compilation is a local syntax check so that
// conditions can be configured before a runtime is attached.
type Evaluator struct {
	log zerolog.Logger

	mu sync.RWMutex
	c  *Conn
}

func NewEvaluator(l zerolog.Logger) *Evaluator {
	return &Evaluator{log: l}
}

// Bind makes c the connection predicates are evaluated on.
func (e *Evaluator) Bind(c *Conn) {
	e.mu.Lock()
	e.c = c
	e.mu.Unlock()
}

func (e *Evaluator) conn() *Conn {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.c
}

func (e *Evaluator) Compile(ctx context.Context, source, binding string) (exception.Predicate, error) {
	if err := checkSyntax(source); err != nil {
		return nil, err
	}
	return func(ctx context.Context, frameID string, data json.RawMessage) (bool, error) {
		return e.invoke(ctx, source, binding, frameID, data)
	}, nil
}

func checkSyntax(source string) error {
	res := api.Transform("("+source+"\n)", api.TransformOptions{
		Loader:   api.LoaderJS,
		LogLevel: api.LogLevelSilent,
	})
	if len(res.Errors) > 0 {
		return errors.New(res.Errors[0].Text)
	}
	return nil
}

func (e *Evaluator) invoke(ctx context.Context, source, binding, frameID string, data json.RawMessage) (bool, error) {
	c := e.conn()
	if c == nil {
		return false, errNotAttached
	}

	expr := "(" + source + "\n)"
	if binding != "" {
		arg, release, err := e.hoist(ctx, c, data)
		if err != nil {
			return false, err
		}
		defer release()
		expr = fmt.Sprintf("(function(%s) { return (%s\n); }).call(this, %s)", binding, source, arg)
	}

	var res evaluateResult
	params := evaluateOnCallFrameParams{
		CallFrameID:   frameID,
		Expression:    expr,
		Silent:        true,
		ReturnByValue: true,
	}
	if err := c.Call(ctx, "Debugger.evaluateOnCallFrame", params, &res); err != nil {
		return false, err
	}
	if res.ExceptionDetails != nil {
		return false, errors.Errorf("condition threw: %s", res.ExceptionDetails)
	}
	return res.Result.truthy(), nil
}

// hoist returns an expression yielding the pause data inside the evaluated
// frame and a func releasing whatever was stashed in the runtime for it.
func (e *Evaluator) hoist(ctx context.Context, c *Conn, data json.RawMessage) (string, func(), error) {
	noop := func() {}

	if objectID := gjson.GetBytes(data, "objectId").String(); objectID != "" {
		params := callFunctionOnParams{
			ObjectID:            objectID,
			FunctionDeclaration: "function() { globalThis." + hoistedGlobal + " = this; }",
			Silent:              true,
		}
		if err := c.Call(ctx, "Runtime.callFunctionOn", params, nil); err != nil {
			return "", noop, errors.Wrap(err, "bind pause data")
		}
		release := func() {
			params := evaluateParams{Expression: "delete globalThis." + hoistedGlobal, Silent: true}
			if err := c.Call(context.WithoutCancel(ctx), "Runtime.evaluate", params, nil); err != nil {
				e.log.Debug().Err(err).Msg("failed to release pause data")
			}
		}
		return "globalThis." + hoistedGlobal, release, nil
	}
	if v := gjson.GetBytes(data, "unserializableValue"); v.String() != "" {
		return v.String(), noop, nil
	}
	if v := gjson.GetBytes(data, "value"); v.Exists() {
		return v.Raw, noop, nil
	}
	return "undefined", noop, nil
}
