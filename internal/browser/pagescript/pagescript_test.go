package pagescript

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/webpilot/internal/browser/browsererr"
	"github.com/xkilldash9x/webpilot/internal/mocks"
)

// newPage returns a connection whose globalThis evaluation yields a handle and
// whose callFunctionOn answers with result.
func newPage(t *testing.T, result string) *mocks.FakeConn {
	t.Helper()
	conn := mocks.NewFakeConn("page-1")
	conn.Handle(runtime.CommandEvaluate, func(params, res any) error {
		p := params.(*runtime.EvaluateParams)
		if p.Expression == "globalThis" {
			res.(*runtime.EvaluateReturns).Result = &runtime.RemoteObject{ObjectID: "global-1"}
		}
		return nil
	})
	conn.Handle(runtime.CommandCallFunctionOn, func(_, res any) error {
		if result != "" {
			res.(*runtime.CallFunctionOnReturns).Result = &runtime.RemoteObject{Type: "object", Value: []byte(result)}
		}
		return nil
	})
	return conn
}

func TestEmbeddedScripts(t *testing.T) {
	all := []Func{
		Click, TypeText, Hover, ScrollBy, ScrollTo, ScrollIntoView, SelectOption, Focus, OuterHTML,
		QuerySelectorExists, ElementAtPoint, ScanInteractive, DrawMarkers, RemoveMarkers, InstallConsoleHook,
	}
	for _, fn := range all {
		t.Run(fn.Name(), func(t *testing.T) {
			assert.True(t, strings.HasPrefix(fn.Source(), "function ("), "scripts are anonymous function declarations")
			assert.NotContains(t, fn.Source(), "eval(")
		})
	}
}

func TestRunner_Call(t *testing.T) {
	ctx := context.Background()

	t.Run("PassesArgumentsAsJSON", func(t *testing.T) {
		conn := newPage(t, `true`)
		r := NewRunner(conn)

		var ok bool
		selector := `a[title="it's \"quoted\""]`
		require.NoError(t, r.Call(ctx, TypeText, &ok, selector, "hello"))
		assert.True(t, ok)

		calls := conn.Calls(runtime.CommandCallFunctionOn)
		require.Len(t, calls, 1)
		p := calls[0].(*runtime.CallFunctionOnParams)
		assert.Equal(t, TypeText.Source(), p.FunctionDeclaration)
		assert.Equal(t, runtime.RemoteObjectID("global-1"), p.ObjectID)
		assert.True(t, p.ReturnByValue)
		assert.True(t, p.AwaitPromise)
		require.Len(t, p.Arguments, 2)
		assert.JSONEq(t, `"a[title=\"it's \\\"quoted\\\"\"]"`, string(p.Arguments[0].Value))
		assert.JSONEq(t, `"hello"`, string(p.Arguments[1].Value))
		assert.NotContains(t, p.FunctionDeclaration, selector)
	})

	t.Run("DecodesStructuredResult", func(t *testing.T) {
		conn := newPage(t, `{"found":true,"tag":"button"}`)
		var got PointResult

		require.NoError(t, NewRunner(conn).Call(ctx, ElementAtPoint, &got, 10.0, 20.0, ActionClick, ""))

		assert.Equal(t, PointResult{Found: true, Tag: "button"}, got)
	})

	t.Run("UndefinedLeavesResultUntouched", func(t *testing.T) {
		conn := newPage(t, "")
		got := "unchanged"

		require.NoError(t, NewRunner(conn).Call(ctx, RemoveMarkers, &got))

		assert.Equal(t, "unchanged", got)
	})

	t.Run("ReleasesObjectGroup", func(t *testing.T) {
		conn := newPage(t, `1`)

		require.NoError(t, NewRunner(conn).Call(ctx, DrawMarkers, nil, []int{}))

		evals := conn.Calls(runtime.CommandEvaluate)
		releases := conn.Calls(runtime.CommandReleaseObjectGroup)
		require.Len(t, evals, 1)
		require.Len(t, releases, 1)
		assert.Equal(t, evals[0].(*runtime.EvaluateParams).ObjectGroup, releases[0].(*runtime.ReleaseObjectGroupParams).ObjectGroup)
		assert.True(t, strings.HasPrefix(releases[0].(*runtime.ReleaseObjectGroupParams).ObjectGroup, "webpilot-"))
	})

	t.Run("ExceptionIsProtocolError", func(t *testing.T) {
		conn := newPage(t, "")
		conn.Handle(runtime.CommandCallFunctionOn, func(_, res any) error {
			res.(*runtime.CallFunctionOnReturns).ExceptionDetails = &runtime.ExceptionDetails{
				Text:       "Uncaught",
				LineNumber: 3,
				Exception:  &runtime.RemoteObject{Description: "SyntaxError: ':hover(' is not a valid selector"},
			}
			return nil
		})

		err := NewRunner(conn).Call(ctx, Click, nil, ":hover(")

		assert.ErrorIs(t, err, browsererr.ErrProtocol)
		var se *ScriptError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "click", se.Func)
		assert.Contains(t, se.Text, "not a valid selector")
		assert.Len(t, conn.Calls(runtime.CommandReleaseObjectGroup), 1)
	})

	t.Run("TransportFailure", func(t *testing.T) {
		conn := newPage(t, "")
		conn.Fail(runtime.CommandEvaluate, errors.New("websocket closed"))

		err := NewRunner(conn).Call(ctx, Focus, nil, "#q")

		assert.ErrorIs(t, err, browsererr.ErrProtocol)
		assert.Empty(t, conn.Calls(runtime.CommandCallFunctionOn))
	})

	t.Run("DeadlineIsTimeout", func(t *testing.T) {
		conn := newPage(t, "")
		conn.Fail(runtime.CommandCallFunctionOn, context.DeadlineExceeded)
		tctx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		err := NewRunner(conn).Call(tctx, QuerySelectorExists, nil, "#late")

		assert.ErrorIs(t, err, browsererr.ErrTimeout)
	})

	t.Run("BadResultPayload", func(t *testing.T) {
		conn := newPage(t, `"text"`)
		var n int

		err := NewRunner(conn).Call(ctx, DrawMarkers, &n, nil)

		assert.ErrorIs(t, err, browsererr.ErrProtocol)
	})
}

func TestRunner_Evaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("ReturnsValue", func(t *testing.T) {
		conn := mocks.NewFakeConn("page-1")
		conn.Handle(runtime.CommandEvaluate, func(_, res any) error {
			res.(*runtime.EvaluateReturns).Result = &runtime.RemoteObject{Type: "number", Value: []byte(`42`)}
			return nil
		})

		raw, err := NewRunner(conn).Evaluate(ctx, "6*7")

		require.NoError(t, err)
		assert.JSONEq(t, `42`, string(raw))
		p := conn.Calls(runtime.CommandEvaluate)[0].(*runtime.EvaluateParams)
		assert.Equal(t, "6*7", p.Expression)
		assert.True(t, p.AwaitPromise)
	})

	t.Run("UndefinedIsNull", func(t *testing.T) {
		conn := mocks.NewFakeConn("page-1")
		conn.Handle(runtime.CommandEvaluate, func(_, res any) error {
			res.(*runtime.EvaluateReturns).Result = &runtime.RemoteObject{Type: "undefined"}
			return nil
		})

		raw, err := NewRunner(conn).Evaluate(ctx, "void 0")

		require.NoError(t, err)
		assert.Equal(t, "null", string(raw))
	})

	t.Run("ThrownErrorIsFailure", func(t *testing.T) {
		conn := mocks.NewFakeConn("page-1")
		conn.Handle(runtime.CommandEvaluate, func(_, res any) error {
			res.(*runtime.EvaluateReturns).ExceptionDetails = &runtime.ExceptionDetails{
				Text:      "Uncaught",
				Exception: &runtime.RemoteObject{Description: "Error: x"},
			}
			return nil
		})

		raw, err := NewRunner(conn).Evaluate(ctx, "throw new Error('x')")

		assert.Nil(t, raw)
		assert.ErrorIs(t, err, browsererr.ErrProtocol)
		assert.ErrorContains(t, err, "Error: x")
	})
}
