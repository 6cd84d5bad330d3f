// Package pagescript runs a fixed set of embedded in-page functions against a
// page. Every function is invoked through Runtime.callFunctionOn with its
// inputs passed as JSON call arguments, so caller data never becomes script text.
package pagescript

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
	"github.com/google/uuid"
	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/webpilot/internal/browser/browsererr"
	"github.com/xkilldash9x/webpilot/internal/browser/cdpconn"
)

//go:embed scripts/*.js
var scripts embed.FS

// Func is one embedded in-page function.
type Func struct {
	name   string
	source string
}

// Name is the script's file name without extension.
func (f Func) Name() string { return f.name }

// Source is the function declaration sent to the page.
func (f Func) Source() string { return f.source }

func load(name string) Func {
	b, err := scripts.ReadFile("scripts/" + name + ".js")
	if err != nil {
		panic(fmt.Sprintf("pagescript: missing embedded script %s: %v", name, err))
	}
	return Func{name: name, source: string(b)}
}

var (
	// Click(selector) bool
	Click = load("click")
	// TypeText(selector, text) bool
	TypeText = load("typeText")
	// Hover(selector) *Point, nil when nothing matches.
	Hover = load("hover")
	// ScrollBy(dx, dy) Point, the resulting scroll offset.
	ScrollBy = load("scrollBy")
	// ScrollTo(x, y) Point; a null coordinate keeps the current offset.
	ScrollTo = load("scrollTo")
	// ScrollIntoView(selector) bool
	ScrollIntoView = load("scrollIntoView")
	// SelectOption(selector, by, value) bool where by is value, label or index.
	SelectOption = load("selectOption")
	// Focus(selector) bool
	Focus = load("focus")
	// OuterHTML(selector) *string; an empty selector returns the whole document.
	OuterHTML = load("outerHTML")
	// QuerySelectorExists(selector) bool
	QuerySelectorExists = load("querySelectorExists")
	// ElementAtPoint(pageX, pageY, action, text) PointResult
	ElementAtPoint = load("elementAtPoint")
	// ScanInteractive(max, textLimit) returns the visible interactive elements.
	ScanInteractive = load("scanInteractive")
	// DrawMarkers(elements) int
	DrawMarkers = load("drawMarkers")
	// RemoveMarkers() bool
	RemoveMarkers = load("removeMarkers")
	// InstallConsoleHook() bool, false when already installed.
	InstallConsoleHook = load("installConsoleHook")
)

// Actions accepted by ElementAtPoint.
const (
	ActionProbe = "probe"
	ActionClick = "click"
	ActionType  = "type"
)

// Point is a coordinate pair in CSS pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PointResult is what ElementAtPoint reports about the element it hit.
type PointResult struct {
	Found    bool   `json:"found"`
	Tag      string `json:"tag"`
	Rejected bool   `json:"rejected"`
}

// DefaultTimeout bounds a call when the context carries no deadline.
const DefaultTimeout = 20 * time.Second

const releaseTimeout = 2 * time.Second

// ScriptError is an exception thrown by page code.
type ScriptError struct {
	Func   string
	Text   string
	Line   int64
	Column int64
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s threw at %d:%d: %s", e.Func, e.Line, e.Column, e.Text)
}

func newScriptError(name string, d *runtime.ExceptionDetails) *ScriptError {
	text := d.Text
	if d.Exception != nil && d.Exception.Description != "" {
		text = d.Exception.Description
	}
	return &ScriptError{Func: name, Text: text, Line: d.LineNumber, Column: d.ColumnNumber}
}

// Runner executes scripts over a protocol executor.
type Runner struct {
	exec cdp.Executor
}

// NewRunner returns a runner bound to exec.
func NewRunner(exec cdp.Executor) *Runner {
	return &Runner{exec: exec}
}

// Call invokes fn with args and decodes its JSON result into res, which may
// be nil. An undefined result leaves res untouched.
func (r *Runner) Call(ctx context.Context, fn Func, res any, args ...any) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	ex := cdpconn.WithConn(ctx, r.exec)

	callArgs := make([]*runtime.CallArgument, 0, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return browsererr.Validation(fn.name, "argument %d: %v", i, err)
		}
		callArgs = append(callArgs, &runtime.CallArgument{Value: b})
	}

	// Functions are bound to globalThis; the object group is released after
	// the call so the handle does not pin the global object's wrapper.
	group := "webpilot-" + uuid.NewString()
	var global runtime.EvaluateReturns
	if err := cdp.Execute(ex, runtime.CommandEvaluate, runtime.Evaluate("globalThis").WithObjectGroup(group), &global); err != nil {
		return protocolErr(fn.name, err)
	}
	defer func() {
		rctx, rcancel := context.WithTimeout(cdpconn.Detach(ctx), releaseTimeout)
		defer rcancel()
		_ = runtime.ReleaseObjectGroup(group).Do(cdpconn.WithConn(rctx, r.exec))
	}()
	if global.Result == nil || global.Result.ObjectID == "" {
		return browsererr.Protocol(fn.name, errors.New("no handle to the global object"))
	}

	params := runtime.CallFunctionOn(fn.source).
		WithObjectID(global.Result.ObjectID).
		WithArguments(callArgs).
		WithReturnByValue(true).
		WithAwaitPromise(true)
	var ret runtime.CallFunctionOnReturns
	if err := cdp.Execute(ex, runtime.CommandCallFunctionOn, params, &ret); err != nil {
		return protocolErr(fn.name, err)
	}
	if ret.ExceptionDetails != nil {
		return browsererr.Protocol(fn.name, newScriptError(fn.name, ret.ExceptionDetails))
	}
	return decode(fn.name, ret.Result, res)
}

// Evaluate runs caller supplied code in the page and returns its JSON value.
// Undefined results come back as JSON null.
func (r *Runner) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	params := runtime.Evaluate(expression).
		WithReturnByValue(true).
		WithAwaitPromise(true).
		WithUserGesture(true)
	var ret runtime.EvaluateReturns
	if err := cdp.Execute(cdpconn.WithConn(ctx, r.exec), runtime.CommandEvaluate, params, &ret); err != nil {
		return nil, protocolErr("evaluate", err)
	}
	if ret.ExceptionDetails != nil {
		return nil, browsererr.Protocol("evaluate", newScriptError("evaluate", ret.ExceptionDetails))
	}
	if ret.Result == nil || len(ret.Result.Value) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(ret.Result.Value), nil
}

func decode(name string, obj *runtime.RemoteObject, res any) error {
	if res == nil || obj == nil || len(obj.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal([]byte(obj.Value), res); err != nil {
		return browsererr.Protocol(name, fmt.Errorf("decoding result %s: %w", string(obj.Value), err))
	}
	return nil
}

func protocolErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return browsererr.New(op, browsererr.ErrTimeout, err)
	}
	if errors.Is(err, browsererr.ErrProtocol) {
		return err
	}
	return browsererr.Protocol(op, err)
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultTimeout)
}
