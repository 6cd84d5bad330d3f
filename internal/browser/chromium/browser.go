package chromium

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/browser/cdpconn"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// Browser is a running browser process with one tab, the content surface.
type Browser struct {
	logger      *zap.Logger
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	conn        *tabConn
	closeOnce   sync.Once
}

// Launch starts the browser and waits for its first tab. The launch is
// bounded by ctx and cfg.StartupTimeout.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Browser, error) {
	logger = logger.Named("chromium")
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), execOptions(cfg)...)

	sugar := logger.Sugar()
	ctxOpts := []chromedp.ContextOption{
		chromedp.WithLogf(sugar.Infof),
		chromedp.WithErrorf(sugar.Warnf),
	}
	if cfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(sugar.Debugf))
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, ctxOpts...)

	startCtx := ctx
	if cfg.StartupTimeout > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(ctx, cfg.StartupTimeout)
		defer cancel()
	}

	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()
	select {
	case err := <-started:
		if err != nil {
			tabCancel()
			allocCancel()
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
	case <-startCtx.Done():
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("browser did not start: %w", startCtx.Err())
	}

	c := chromedp.FromContext(tabCtx)
	if c == nil || c.Target == nil {
		tabCancel()
		allocCancel()
		return nil, errors.New("browser started without a page target")
	}

	b := &Browser{
		logger:      logger,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		conn:        newTabConn(tabCtx, c.Target),
	}
	logger.Info("Browser started.",
		zap.String("target_id", string(c.Target.TargetID)),
		zap.Bool("headless", cfg.Headless))
	return b, nil
}

// Conn returns the connection of the content surface tab.
func (b *Browser) Conn() cdpconn.Conn { return b.conn }

// Close shuts the browser down, waiting at most until ctx is done for a
// graceful exit before killing the process.
func (b *Browser) Close(ctx context.Context) error {
	var err error
	b.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(b.tabCtx) }()
		select {
		case err = <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
		b.tabCancel()
		b.allocCancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Warn("Browser did not close cleanly.", zap.Error(err))
			return
		}
		err = nil
		b.logger.Info("Browser closed.")
	})
	return err
}

// tabConn adapts a chromedp target to cdpconn.Conn. Listeners hang off
// derived contexts so removing one never cancels the tab itself.
type tabConn struct {
	ctx    context.Context
	target *chromedp.Target

	done     chan struct{}
	doneOnce sync.Once
}

var _ cdpconn.Conn = (*tabConn)(nil)

func newTabConn(ctx context.Context, t *chromedp.Target) *tabConn {
	c := &tabConn{ctx: ctx, target: t, done: make(chan struct{})}
	chromedp.ListenBrowser(ctx, func(ev any) {
		if targetGone(ev, t) {
			c.markDone()
		}
	})
	context.AfterFunc(ctx, c.markDone)
	return c
}

// targetGone reports whether a browser event ends t.
func targetGone(ev any, t *chromedp.Target) bool {
	switch e := ev.(type) {
	case *target.EventTargetDestroyed:
		return e.TargetID == t.TargetID
	case *target.EventDetachedFromTarget:
		return e.SessionID == t.SessionID
	}
	return false
}

func (c *tabConn) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *tabConn) Execute(ctx context.Context, method string, params, res any) error {
	select {
	case <-c.done:
		return fmt.Errorf("%s: target %s is gone", method, c.target.TargetID)
	default:
	}
	return c.target.Execute(ctx, method, params, res)
}

func (c *tabConn) Listen(fn func(ev any)) func() {
	ctx, cancel := context.WithCancel(c.ctx)
	chromedp.ListenTarget(ctx, fn)
	return cancel
}

func (c *tabConn) Done() <-chan struct{} { return c.done }

func (c *tabConn) ID() target.ID { return c.target.TargetID }
