package surface

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	cdpemulation "github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/browser/browsererr"
	"github.com/xkilldash9x/webpilot/internal/browser/cdpconn"
)

var (
	errNoPage     = errors.New("no page has been loaded")
	errCrashed    = errors.New("renderer crashed; recovery in progress")
	errNoHistory  = errors.New("no history entry in that direction")
	errLoadFailed = errors.New("page failed to load")
)

var passthroughSchemes = []string{"http://", "https://", "about:", "file:", "data:", "chrome:", "view-source:"}

// NormalizeURL adds https:// to scheme-less input such as "example.com".
func NormalizeURL(raw string) (string, error) {
	u := strings.TrimSpace(raw)
	if u == "" {
		return "", browsererr.Validation("navigate", "empty url")
	}
	lower := strings.ToLower(u)
	for _, p := range passthroughSchemes {
		if strings.HasPrefix(lower, p) {
			return u, nil
		}
	}
	u = "https://" + u
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "", browsererr.Validation("navigate", "invalid url %q", raw)
	}
	return u, nil
}

// Navigate loads rawURL. It returns nil once the page loads or when the
// navigation timeout passes without a load signal, and an error only when
// the load explicitly fails.
func (s *Surface) Navigate(ctx context.Context, rawURL string) error {
	target, err := NormalizeURL(rawURL)
	if err != nil {
		return err
	}
	if !s.Alive() {
		return browsererr.New("navigate", browsererr.ErrSurfaceDestroyed, nil).WithURL(target)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()
	ctx, stop := cdpconn.CombineContext(ctx, s.lifetime)
	defer stop()
	return s.load(ctx, target)
}

func (s *Surface) load(ctx context.Context, target string) error {
	s.mu.Lock()
	settled := s.beginLoadingLocked()
	before := s.committedURL
	s.mu.Unlock()

	var ret page.NavigateReturns
	err := cdp.Execute(cdpconn.WithConn(ctx, s.conn), page.CommandNavigate, page.Navigate(target), &ret)
	switch {
	case err != nil && s.lifetime.Err() != nil:
		return s.navError(browsererr.ErrSurfaceDestroyed, target, err)
	case err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		s.logger.Warn("Navigation did not commit before the timeout; continuing.", zap.String("url", target))
		return nil
	case err != nil:
		s.settle(StateFailed)
		return s.navError(browsererr.ErrProtocol, target, err)
	case ret.ErrorText != "":
		s.settle(StateFailed)
		return s.navError(browsererr.ErrProtocol, target, errors.New(ret.ErrorText))
	}

	s.mu.Lock()
	if s.committedURL == before {
		s.committedURL = target
	}
	s.mu.Unlock()

	if ret.LoaderID == "" {
		// Same-document navigation; no load event follows.
		s.settle(StateLoaded)
		return nil
	}

	select {
	case <-settled:
		switch s.State() {
		case StateFailed:
			return s.navError(browsererr.ErrProtocol, target, errLoadFailed)
		case StateCrashed:
			return s.navError(browsererr.ErrProtocol, target, errCrashed)
		}
		s.logger.Debug("Page loaded.", zap.String("url", target))
		return nil
	case <-ctx.Done():
		if s.lifetime.Err() != nil {
			return s.navError(browsererr.ErrSurfaceDestroyed, target, nil)
		}
		s.logger.Info("No load signal before the navigation timeout; treating page as loaded.", zap.String("url", target))
		return nil
	}
}

func (s *Surface) navError(kind error, target string, cause error) error {
	err := browsererr.New("navigate", kind, cause).WithURL(target)
	s.logger.Warn("Navigation failed.", zap.String("url", target), zap.Error(err))
	return err
}

// Reload reloads the current page without waiting for it to load.
func (s *Surface) Reload(ctx context.Context) error {
	if !s.Alive() {
		return browsererr.New("reload", browsererr.ErrSurfaceDestroyed, nil)
	}
	s.mu.Lock()
	s.beginLoadingLocked()
	s.mu.Unlock()
	if err := page.Reload().Do(cdpconn.WithConn(ctx, s.conn)); err != nil {
		s.settle(StateFailed)
		return browsererr.Protocol("reload", err)
	}
	return nil
}

// GoBack moves one entry back in history.
func (s *Surface) GoBack(ctx context.Context) error { return s.history(ctx, "goBack", -1) }

// GoForward moves one entry forward in history.
func (s *Surface) GoForward(ctx context.Context) error { return s.history(ctx, "goForward", 1) }

func (s *Surface) history(ctx context.Context, op string, delta int) error {
	if !s.Alive() {
		return browsererr.New(op, browsererr.ErrSurfaceDestroyed, nil)
	}
	ex := cdpconn.WithConn(ctx, s.conn)
	var h page.GetNavigationHistoryReturns
	if err := cdp.Execute(ex, page.CommandGetNavigationHistory, page.GetNavigationHistory(), &h); err != nil {
		return browsererr.Protocol(op, err)
	}
	i := int(h.CurrentIndex) + delta
	if i < 0 || i >= len(h.Entries) || h.Entries[i] == nil {
		return browsererr.New(op, browsererr.ErrValidation, errNoHistory)
	}

	s.mu.Lock()
	s.beginLoadingLocked()
	s.mu.Unlock()
	if err := page.NavigateToHistoryEntry(h.Entries[i].ID).Do(ex); err != nil {
		s.settle(StateFailed)
		return browsererr.Protocol(op, err)
	}
	return nil
}

// SetUserAgent changes the user agent the page's requests carry. It is
// reapplied after crash recovery.
func (s *Surface) SetUserAgent(ctx context.Context, ua string) error {
	s.mu.Lock()
	s.userAgent = ua
	s.mu.Unlock()
	return s.applyUserAgent(ctx, ua)
}

func (s *Surface) applyUserAgent(ctx context.Context, ua string) error {
	if err := cdpemulation.SetUserAgentOverride(ua).Do(cdpconn.WithConn(ctx, s.conn)); err != nil {
		return browsererr.Protocol("setUserAgent", err)
	}
	return nil
}

// ready is the gate every scripting call passes. It fails fast without a
// page or during crash recovery, and waits a bounded time for an in-flight
// navigation to settle.
func (s *Surface) ready(ctx context.Context, op string) error {
	s.mu.Lock()
	closed, st, current, settled := s.closed, s.state, s.committedURL, s.settled
	s.mu.Unlock()

	if closed || !s.Alive() {
		return browsererr.New(op, browsererr.ErrSurfaceDestroyed, nil)
	}
	if st == StateCrashed {
		return browsererr.New(op, browsererr.ErrProtocol, errCrashed)
	}
	if current == "" {
		return browsererr.New(op, browsererr.ErrProtocol, errNoPage)
	}
	if st != StateLoading || settled == nil {
		return nil
	}

	select {
	case <-settled:
	case <-s.clock.After(s.cfg.ReadinessTimeout):
		return browsererr.New(op, browsererr.ErrTimeout, errors.New("page still loading")).WithURL(current)
	case <-ctx.Done():
		return browsererr.New(op, browsererr.ErrTimeout, ctx.Err()).WithURL(current)
	case <-s.lifetime.Done():
		return browsererr.New(op, browsererr.ErrSurfaceDestroyed, nil)
	}
	if s.State() == StateCrashed {
		return browsererr.New(op, browsererr.ErrProtocol, errCrashed)
	}
	return nil
}
