package surface

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	cdpemulation "github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/webpilot/internal/browser/browsererr"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/mocks"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"example.com", "https://example.com", false},
		{"  example.com/path?q=1 ", "https://example.com/path?q=1", false},
		{"http://localhost:3000", "http://localhost:3000", false},
		{"HTTPS://Example.com", "HTTPS://Example.com", false},
		{"about:blank", "about:blank", false},
		{"file:///tmp/index.html", "file:///tmp/index.html", false},
		{"data:text/html,<p>hi</p>", "data:text/html,<p>hi</p>", false},
		{"", "", true},
		{"   ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeURL(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, browsererr.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSurface_Start(t *testing.T) {
	h := newHarness(t, harnessOpts{mutate: func(c *config.Config) { c.SurfaceCfg.DefaultURL = "example.com" }})

	require.NoError(t, h.surface.Start(t.Context()))

	methods := h.page.Methods()
	for _, m := range []string{page.CommandEnable, runtime.CommandEnable, log.CommandEnable, inspector.CommandEnable, network.CommandEnable} {
		assert.Contains(t, methods, m)
	}
	assert.True(t, h.surface.Capture().Active(), "capture starts with the surface")
	assert.Equal(t, "https://example.com", h.surface.CurrentURL())
	assert.Equal(t, StateLoaded, h.surface.State())
}

func TestSurface_StartFailsWhenPageDomainUnavailable(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.page.Fail(page.CommandEnable, errors.New("target closed"))

	err := h.surface.Start(t.Context())

	assert.ErrorIs(t, err, browsererr.ErrProtocol)
}

func TestSurface_Navigate(t *testing.T) {
	t.Run("Loaded", func(t *testing.T) {
		h := started(t, harnessOpts{}, "")

		require.NoError(t, h.surface.Navigate(t.Context(), "example.com/a"))

		assert.Equal(t, "https://example.com/a", h.surface.CurrentURL())
		assert.Equal(t, StateLoaded, h.surface.State())
		assert.False(t, h.surface.Loading())
	})

	t.Run("ExplicitFailure", func(t *testing.T) {
		h := started(t, harnessOpts{}, "")
		h.page.setErrorText("net::ERR_NAME_NOT_RESOLVED")

		err := h.surface.Navigate(t.Context(), "nowhere.invalid")

		assert.ErrorIs(t, err, browsererr.ErrProtocol)
		assert.ErrorContains(t, err, "ERR_NAME_NOT_RESOLVED")
		var op *browsererr.OpError
		require.ErrorAs(t, err, &op)
		assert.Equal(t, "https://nowhere.invalid", op.URL)
		assert.Equal(t, StateFailed, h.surface.State())
	})

	t.Run("TimeoutWithoutLoadIsSuccess", func(t *testing.T) {
		h := started(t, harnessOpts{mutate: func(c *config.Config) {
			c.SurfaceCfg.NavigationTimeout = 30 * time.Millisecond
		}}, "")
		h.page.setNoLoad(true)

		start := time.Now()
		err := h.surface.Navigate(t.Context(), "https://slow.test")

		assert.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
		assert.Equal(t, "https://slow.test", h.surface.CurrentURL())
	})

	t.Run("TransportErrorIsFailure", func(t *testing.T) {
		h := started(t, harnessOpts{}, "")
		h.page.Fail(page.CommandNavigate, errors.New("websocket: close 1006"))

		err := h.surface.Navigate(t.Context(), "https://example.com")

		assert.ErrorIs(t, err, browsererr.ErrProtocol)
	})

	t.Run("InvalidURL", func(t *testing.T) {
		h := started(t, harnessOpts{}, "")

		err := h.surface.Navigate(t.Context(), "")

		assert.ErrorIs(t, err, browsererr.ErrValidation)
		assert.Empty(t, h.page.Calls(page.CommandNavigate))
	})
}

func TestSurface_ReadinessGate(t *testing.T) {
	t.Run("NoPageFailsFast", func(t *testing.T) {
		h := started(t, harnessOpts{}, "")

		err := h.surface.Click(t.Context(), "#go")

		assert.ErrorIs(t, err, browsererr.ErrProtocol)
		assert.ErrorIs(t, err, errNoPage)
		assert.Empty(t, h.page.callsOf("click"))
	})

	t.Run("WaitsForLoad", func(t *testing.T) {
		h := started(t, harnessOpts{}, "https://example.com")
		h.page.answer("click", `true`)
		h.page.Emit(&page.EventFrameStartedLoading{FrameID: "main"})
		require.True(t, h.surface.Loading())

		done := make(chan error, 1)
		go func() { done <- h.surface.Click(context.Background(), "#go") }()

		assert.Never(t, func() bool { return len(done) > 0 }, 30*time.Millisecond, 5*time.Millisecond)
		h.page.Emit(&page.EventLoadEventFired{})
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("click did not proceed after load")
		}
	})

	t.Run("BoundedWait", func(t *testing.T) {
		h := started(t, harnessOpts{mutate: func(c *config.Config) {
			c.SurfaceCfg.ReadinessTimeout = 20 * time.Millisecond
		}}, "https://example.com")
		h.page.Emit(&page.EventFrameStartedLoading{FrameID: "main"})

		err := h.surface.Click(t.Context(), "#go")

		assert.ErrorIs(t, err, browsererr.ErrTimeout)
	})

	t.Run("IgnoresChildFrames", func(t *testing.T) {
		h := started(t, harnessOpts{}, "https://example.com")

		h.page.Emit(&page.EventFrameStartedLoading{FrameID: "ad-frame"})

		assert.False(t, h.surface.Loading())
	})
}

func TestSurface_NavigationInvalidatesIndex(t *testing.T) {
	h := started(t, harnessOpts{}, "https://example.com")
	h.page.answer("scanInteractive", `[{"index":1,"tag":"a","text":"Home","selector":"#home","rect":{"x":0,"y":0,"width":10,"height":10}}]`)
	h.page.Handle(page.CommandCaptureScreenshot, func(_, res any) error {
		res.(*page.CaptureScreenshotReturns).Data = base64.StdEncoding.EncodeToString([]byte("png"))
		return nil
	})

	_, err := h.surface.Annotate(t.Context())
	require.NoError(t, err)
	require.Len(t, h.surface.AnnotatedElements(), 1)

	h.page.Emit(&page.EventNavigatedWithinDocument{FrameID: "main", URL: "https://example.com/#section"})
	assert.Len(t, h.surface.AnnotatedElements(), 1, "in-page navigation keeps the index")
	assert.Equal(t, "https://example.com/#section", h.surface.CurrentURL())

	h.page.Emit(&page.EventFrameNavigated{Frame: &cdp.Frame{ID: "child", ParentID: "main", URL: "https://ads.test"}})
	assert.Len(t, h.surface.AnnotatedElements(), 1, "child frames do not count")

	require.NoError(t, h.surface.Navigate(t.Context(), "https://example.com/next"))
	assert.Empty(t, h.surface.AnnotatedElements())

	err = h.surface.ClickIndex(t.Context(), 1)
	assert.ErrorIs(t, err, browsererr.ErrElementNotFound)
	assert.Empty(t, h.page.callsOf("elementAtPoint"))
}

func TestSurface_Console(t *testing.T) {
	h := started(t, harnessOpts{mutate: func(c *config.Config) { c.SurfaceCfg.ConsoleCapacity = 3 }}, "")

	h.page.Emit(&runtime.EventConsoleAPICalled{Type: runtime.APITypeLog, Args: []*runtime.RemoteObject{
		{Type: "string", Value: []byte(`"hello"`)},
		{Type: "object", Value: []byte(`{"a":1}`)},
	}})
	h.page.Emit(&runtime.EventConsoleAPICalled{Type: runtime.APITypeWarning, Args: []*runtime.RemoteObject{
		{Type: "object", Description: "HTMLDivElement"},
	}})
	h.page.Emit(&log.EventEntryAdded{Entry: &log.Entry{Level: log.LevelError, Text: "Failed to load resource"}})

	assert.Equal(t, []string{
		`[info] hello {"a":1}`,
		`[warning] HTMLDivElement`,
		`[error] Failed to load resource`,
	}, h.surface.ConsoleLogs())

	h.page.Emit(&runtime.EventExceptionThrown{ExceptionDetails: &runtime.ExceptionDetails{
		Text:      "Uncaught",
		Exception: &runtime.RemoteObject{Description: "TypeError: x is undefined"},
	}})
	h.page.Emit(&runtime.EventConsoleAPICalled{Type: runtime.APITypeDebug, Args: []*runtime.RemoteObject{
		{Type: "number", Value: []byte(`42`)},
	}})

	assert.Equal(t, []string{
		`[error] Failed to load resource`,
		`[error] TypeError: x is undefined`,
		`[verbose] 42`,
	}, h.surface.ConsoleLogs(), "buffer keeps the newest lines")

	h.surface.ClearConsoleLogs()
	assert.Empty(t, h.surface.ConsoleLogs())
}

func TestSurface_ConsoleHookInstalledOnLoad(t *testing.T) {
	h := started(t, harnessOpts{}, "")
	h.page.answer("installConsoleHook", `true`)

	require.NoError(t, h.surface.Navigate(t.Context(), "https://example.com"))

	assert.Eventually(t, func() bool { return len(h.page.callsOf("installConsoleHook")) == 1 }, time.Second, 5*time.Millisecond)
}

func TestSurface_CrashRecovery(t *testing.T) {
	t.Run("ReloadsLastURL", func(t *testing.T) {
		clock := mocks.NewManualClock(time.Unix(0, 0))
		h := started(t, harnessOpts{clock: clock}, "https://example.com/app")
		require.NoError(t, h.surface.SetUserAgent(t.Context(), "CustomUA"))
		h.page.Emit(&runtime.EventConsoleAPICalled{Type: runtime.APITypeLog, Args: []*runtime.RemoteObject{{Value: []byte(`"before"`)}}})
		navigations := len(h.page.Calls(page.CommandNavigate))

		h.page.Emit(&inspector.EventTargetCrashed{})

		assert.Equal(t, StateCrashed, h.surface.State())
		assert.Empty(t, h.surface.ConsoleLogs())
		err := h.surface.Click(t.Context(), "#go")
		assert.ErrorIs(t, err, errCrashed, "callers fail fast while recovering")

		require.Eventually(t, func() bool { return clock.Pending() == 2 }, time.Second, time.Millisecond)
		clock.Advance(time.Second)

		require.Eventually(t, func() bool { return h.surface.State() == StateLoaded }, time.Second, time.Millisecond)
		calls := h.page.Calls(page.CommandNavigate)
		require.Len(t, calls, navigations+1)
		assert.Equal(t, "https://example.com/app", calls[len(calls)-1].(*page.NavigateParams).URL)
		uas := h.page.Calls(cdpemulation.CommandSetUserAgentOverride)
		require.Len(t, uas, 2, "user agent reapplied after the crash")
		assert.Equal(t, "CustomUA", uas[1].(*cdpemulation.SetUserAgentOverrideParams).UserAgent)
	})

	t.Run("DefaultURLWithoutHistory", func(t *testing.T) {
		clock := mocks.NewManualClock(time.Unix(0, 0))
		h := started(t, harnessOpts{clock: clock}, "")
		h.surface.cfg.DefaultURL = "https://home.test"

		h.page.Emit(&inspector.EventTargetCrashed{})
		require.Eventually(t, func() bool { return clock.Pending() == 2 }, time.Second, time.Millisecond)
		clock.Advance(time.Second)

		require.Eventually(t, func() bool { return h.surface.CurrentURL() == "https://home.test" }, time.Second, time.Millisecond)
	})

	t.Run("RetriesFailedReload", func(t *testing.T) {
		clock := mocks.NewManualClock(time.Unix(0, 0))
		h := started(t, harnessOpts{clock: clock}, "https://example.com")
		h.page.setErrorText("net::ERR_CONNECTION_RESET")

		h.page.Emit(&inspector.EventTargetCrashed{})
		require.Eventually(t, func() bool { return clock.Pending() == 2 }, time.Second, time.Millisecond)
		clock.Advance(time.Second)
		require.Eventually(t, func() bool { return clock.Pending() == 2 }, time.Second, time.Millisecond)
		h.page.setErrorText("")
		clock.Advance(time.Second)

		require.Eventually(t, func() bool { return h.surface.State() == StateLoaded }, time.Second, time.Millisecond)
	})

	t.Run("CrashLoopSuspendsRecovery", func(t *testing.T) {
		clock := mocks.NewManualClock(time.Unix(0, 0))
		h := started(t, harnessOpts{clock: clock, mutate: func(c *config.Config) {
			c.SurfaceCfg.CrashRecovery.MaxPerHour = 1
		}}, "https://example.com")

		h.page.Emit(&inspector.EventTargetCrashed{})
		require.Eventually(t, func() bool { return clock.Pending() == 2 }, time.Second, time.Millisecond)
		clock.Advance(time.Second)
		require.Eventually(t, func() bool { return h.surface.State() == StateLoaded }, time.Second, time.Millisecond)

		h.page.Emit(&inspector.EventTargetCrashed{})

		assert.Never(t, func() bool { return clock.Pending() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
		assert.Equal(t, StateCrashed, h.surface.State())
		assert.Equal(t, 1, h.logs.FilterMessage("Crash recovery suspended; the renderer is crashing repeatedly.").Len())
	})
}

func TestSurface_TargetGone(t *testing.T) {
	h := started(t, harnessOpts{}, "https://example.com")

	h.page.Close()

	assert.Eventually(t, func() bool { return !h.surface.Alive() }, time.Second, time.Millisecond)
	_, err := h.surface.Bind(t.Context())
	assert.ErrorIs(t, err, browsererr.ErrSurfaceDestroyed)
	assert.ErrorIs(t, h.surface.Click(t.Context(), "#a"), browsererr.ErrSurfaceDestroyed)
	assert.ErrorIs(t, h.surface.Navigate(t.Context(), "https://example.com"), browsererr.ErrSurfaceDestroyed)
}

func TestSurface_History(t *testing.T) {
	history := func(current int64) func(_, res any) error {
		return func(_, res any) error {
			r := res.(*page.GetNavigationHistoryReturns)
			r.CurrentIndex = current
			r.Entries = []*page.NavigationEntry{{ID: 10, URL: "https://a.test"}, {ID: 11, URL: "https://b.test"}}
			return nil
		}
	}

	t.Run("BackAtStartFails", func(t *testing.T) {
		h := started(t, harnessOpts{}, "https://a.test")
		h.page.Handle(page.CommandGetNavigationHistory, history(0))

		err := h.surface.GoBack(t.Context())

		assert.ErrorIs(t, err, browsererr.ErrValidation)
		assert.Empty(t, h.page.Calls(page.CommandNavigateToHistoryEntry))
	})

	t.Run("BackAndForward", func(t *testing.T) {
		h := started(t, harnessOpts{}, "https://b.test")
		h.page.Handle(page.CommandGetNavigationHistory, history(1))

		require.NoError(t, h.surface.GoBack(t.Context()))
		assert.ErrorIs(t, h.surface.GoForward(t.Context()), browsererr.ErrValidation)

		calls := h.page.Calls(page.CommandNavigateToHistoryEntry)
		require.Len(t, calls, 1)
		assert.Equal(t, int64(10), calls[0].(*page.NavigateToHistoryEntryParams).EntryID)
	})
}

func TestSurface_Reload(t *testing.T) {
	h := started(t, harnessOpts{}, "https://example.com")

	require.NoError(t, h.surface.Reload(t.Context()))

	assert.Len(t, h.page.Calls(page.CommandReload), 1)
	assert.True(t, h.surface.Loading())
	h.page.Emit(&page.EventLoadEventFired{})
	assert.Equal(t, StateLoaded, h.surface.State())
}

func TestSurface_DeviceMode(t *testing.T) {
	h := started(t, harnessOpts{}, "https://example.com")

	require.NoError(t, h.surface.SetDeviceMode(t.Context(), "iphone"))

	assert.Equal(t, "iphone", h.surface.DeviceMode())
	assert.Len(t, h.surface.DevicePresets(), 4)
	assert.Eventually(t, h.surface.Capture().Active, time.Second, time.Millisecond, "capture resumes after the switch")
	assert.Len(t, h.page.Calls(page.CommandReload), 1)

	err := h.surface.SetDeviceMode(t.Context(), "toaster")
	assert.ErrorIs(t, err, browsererr.ErrValidation)
}

func TestSurface_DeviceModeFailureKeepsCapturing(t *testing.T) {
	h := started(t, harnessOpts{}, "https://example.com")
	h.page.Fail(cdpemulation.CommandSetDeviceMetricsOverride, errors.New("Emulation.setDeviceMetricsOverride failed"))

	require.Error(t, h.surface.SetDeviceMode(t.Context(), "iphone"))
	require.Eventually(t, h.surface.Capture().Active, time.Second, time.Millisecond)

	h.page.Emit(&network.EventRequestWillBeSent{
		RequestID: "after-switch",
		Request:   &network.Request{URL: "https://example.com/after", Method: "GET"},
		Type:      network.ResourceTypeFetch,
	})

	reqs := h.surface.NetworkRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "https://example.com/after", reqs[0].URL)
}

func TestSurface_NetworkRequests(t *testing.T) {
	h := started(t, harnessOpts{}, "https://example.com")

	h.page.Emit(&network.EventRequestWillBeSent{
		RequestID: "r1",
		Request:   &network.Request{URL: "https://example.com/api", Method: "GET"},
		Type:      network.ResourceTypeFetch,
	})

	require.Len(t, h.surface.NetworkRequests(), 1)
	assert.Equal(t, "https://example.com/api", h.surface.NetworkRequests()[0].URL)

	h.surface.ClearNetworkRequests()
	assert.Empty(t, h.surface.NetworkRequests())
}

func TestSurface_PressKeyDispatchesKeyEvents(t *testing.T) {
	h := started(t, harnessOpts{}, "https://example.com")
	h.page.answer("focus", `true`)

	require.NoError(t, h.surface.PressKey(t.Context(), "Enter", "#q"))

	require.Len(t, h.page.callsOf("focus"), 1)
	events := h.page.Calls(input.CommandDispatchKeyEvent)
	require.GreaterOrEqual(t, len(events), 2)
	first := events[0].(*input.DispatchKeyEventParams)
	last := events[len(events)-1].(*input.DispatchKeyEventParams)
	assert.Equal(t, "Enter", first.Key)
	assert.Equal(t, input.KeyUp, last.Type)
}
