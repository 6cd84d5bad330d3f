package surface

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/browser/pagescript"
)

const hookTimeout = 5 * time.Second

// handleEvent runs on the connection's reader goroutine and must not block
// or issue commands itself.
func (s *Surface) handleEvent(ev any) {
	switch e := ev.(type) {
	case *page.EventFrameStartedLoading:
		s.mu.Lock()
		if s.isMainFrameLocked(e.FrameID) && s.state != StateCrashed {
			s.beginLoadingLocked()
		}
		s.mu.Unlock()

	case *page.EventFrameNavigated:
		if e.Frame == nil || e.Frame.ParentID != "" {
			return
		}
		url := e.Frame.URL + e.Frame.URLFragment
		s.mu.Lock()
		s.mainFrame = e.Frame.ID
		s.committedURL = url
		s.mu.Unlock()
		// Full navigation replaces the document; indices of the old one are meaningless.
		s.index.Invalidate()
		s.logger.Debug("Main frame navigated.", zap.String("url", url))

	case *page.EventNavigatedWithinDocument:
		s.mu.Lock()
		if s.isMainFrameLocked(e.FrameID) {
			s.committedURL = e.URL
		}
		s.mu.Unlock()

	case *page.EventLoadEventFired:
		s.mu.Lock()
		loaded := s.state == StateLoading || s.state == StateIdle
		if loaded {
			s.settleLocked(StateLoaded)
		}
		s.mu.Unlock()
		if loaded {
			s.spawn(s.installConsoleHook)
		}

	case *page.EventFrameStoppedLoading:
		s.mu.Lock()
		if s.isMainFrameLocked(e.FrameID) && s.state == StateLoading {
			s.settleLocked(StateLoaded)
		}
		s.mu.Unlock()

	case *inspector.EventTargetCrashed:
		s.onCrash()

	case *runtime.EventConsoleAPICalled:
		s.console.Add(consoleLevel(e.Type), consoleText(e.Args))

	case *runtime.EventExceptionThrown:
		if d := e.ExceptionDetails; d != nil {
			text := d.Text
			if d.Exception != nil && d.Exception.Description != "" {
				text = d.Exception.Description
			}
			s.console.Add("error", text)
		}

	case *log.EventEntryAdded:
		if e.Entry != nil {
			s.console.Add(string(e.Entry.Level), e.Entry.Text)
		}
	}
}

func (s *Surface) isMainFrameLocked(id cdp.FrameID) bool {
	return s.mainFrame == "" || s.mainFrame == id
}

func (s *Surface) installConsoleHook() {
	ctx, cancel := context.WithTimeout(s.lifetime, hookTimeout)
	defer cancel()
	var installed bool
	if err := s.scripts.Call(ctx, pagescript.InstallConsoleHook, &installed); err != nil {
		s.logger.Debug("Console hook not installed.", zap.Error(err))
		return
	}
	if installed {
		s.logger.Debug("Console hook installed.", zap.String("url", s.CurrentURL()))
	}
}
