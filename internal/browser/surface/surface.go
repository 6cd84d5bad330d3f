// Package surface owns the single content surface: its navigation state,
// console buffer, crash recovery and script dispatch. It composes the debug
// session, network capture, device emulation and annotation index that all
// operate on the same page target.
package surface

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/webpilot/internal/browser/annotate"
	"github.com/xkilldash9x/webpilot/internal/browser/browsererr"
	"github.com/xkilldash9x/webpilot/internal/browser/cdpconn"
	"github.com/xkilldash9x/webpilot/internal/browser/debugger"
	"github.com/xkilldash9x/webpilot/internal/browser/emulation"
	"github.com/xkilldash9x/webpilot/internal/browser/netcapture"
	"github.com/xkilldash9x/webpilot/internal/browser/pagescript"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/retry"
)

// Options carries test seams.
type Options struct {
	Clock retry.Clock
	// Now stamps network exchanges; defaults to time.Now.
	Now func() time.Time
}

// Surface is the automated content surface.
type Surface struct {
	logger  *zap.Logger
	cfg     config.SurfaceConfig
	conn    cdpconn.Conn
	clock   retry.Clock
	limiter *rate.Limiter
	scripts *pagescript.Runner
	console *consoleBuffer

	session   *debugger.Session
	capture   *netcapture.Capture
	emulation *emulation.Controller
	index     *annotate.Index

	lifetime   context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	stopListen func()

	mu           sync.Mutex
	state        NavState
	settled      chan struct{}
	mainFrame    cdp.FrameID
	committedURL string
	userAgent    string
	closed       bool
}

// New wires a surface around the page connection. Start must be called
// before the surface is used.
func New(logger *zap.Logger, conn cdpconn.Conn, cfg config.Interface, catalog *emulation.Catalog, opts Options) *Surface {
	if opts.Clock == nil {
		opts.Clock = retry.RealClock()
	}
	sc := cfg.Surface()
	perHour := sc.CrashRecovery.MaxPerHour
	if perHour <= 0 {
		perHour = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Surface{
		logger:   logger.Named("surface"),
		cfg:      sc,
		conn:     conn,
		clock:    opts.Clock,
		limiter:  rate.NewLimiter(rate.Every(time.Hour/time.Duration(perHour)), perHour),
		scripts:  pagescript.NewRunner(conn),
		console:  newConsoleBuffer(sc.ConsoleCapacity),
		lifetime: ctx,
		cancel:   cancel,
	}

	cc := cfg.Capture()
	s.session = debugger.New(logger, s, debugger.Options{
		Reattach: retry.Policy{Delay: cc.ReattachDelay, Attempts: cc.ReattachAttempts},
		Clock:    opts.Clock,
	})
	s.capture = netcapture.New(logger, s.session, netcapture.Options{
		RetentionCap: cc.RetentionCap,
		DisplayCap:   cc.DisplayCap,
		BodyCap:      cc.BodyCap,
		Debounce:     cc.Debounce,
		BodyTimeout:  cc.BodyFetchTimeout,
		Now:          opts.Now,
	})
	s.emulation = emulation.NewController(logger, catalog, s.session, s.capture, s, emulation.Options{
		Settle: cfg.Emulation().SettleDelay,
		Clock:  opts.Clock,
	})
	ac := cfg.Annotation()
	s.index = annotate.New(logger, s.scripts, s, annotate.Options{
		MaxElements: ac.MaxElements,
		TextLimit:   ac.TextLimit,
	})
	return s
}

// Start enables the page domains, starts network capture and loads the
// default URL. A failed initial load is logged, not returned.
func (s *Surface) Start(ctx context.Context) error {
	s.stopListen = s.conn.Listen(s.handleEvent)

	ex := cdpconn.WithConn(ctx, s.conn)
	if err := page.Enable().Do(ex); err != nil {
		return browsererr.Protocol("page.enable", err)
	}
	if err := runtime.Enable().Do(ex); err != nil {
		return browsererr.Protocol("runtime.enable", err)
	}
	if err := log.Enable().Do(ex); err != nil {
		return browsererr.Protocol("log.enable", err)
	}
	if err := inspector.Enable().Do(ex); err != nil {
		return browsererr.Protocol("inspector.enable", err)
	}

	var tree page.GetFrameTreeReturns
	if err := cdp.Execute(ex, page.CommandGetFrameTree, page.GetFrameTree(), &tree); err != nil {
		return browsererr.Protocol("page.getFrameTree", err)
	}
	if tree.FrameTree != nil && tree.FrameTree.Frame != nil {
		s.mu.Lock()
		s.mainFrame = tree.FrameTree.Frame.ID
		s.mu.Unlock()
	}

	s.spawn(s.watchTarget)

	if err := s.capture.AttachTo(ctx, s); err != nil {
		s.logger.Warn("Network capture unavailable at startup.", zap.Error(err))
	}
	if s.cfg.DefaultURL != "" {
		if err := s.Navigate(ctx, s.cfg.DefaultURL); err != nil {
			s.logger.Warn("Initial navigation failed.", zap.String("url", s.cfg.DefaultURL), zap.Error(err))
		}
	}
	s.logger.Info("Content surface started.", zap.String("target_id", string(s.conn.ID())))
	return nil
}

func (s *Surface) watchTarget() {
	select {
	case <-s.conn.Done():
		s.mu.Lock()
		s.settleLocked(StateFailed)
		s.mu.Unlock()
		s.logger.Error("Content surface target is gone.")
	case <-s.lifetime.Done():
	}
}

// spawn runs fn on a tracked goroutine unless the surface is closed.
func (s *Surface) spawn(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Close stops capture, the debug session and background work. The page
// target itself belongs to the browser.
func (s *Surface) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.settleLocked(s.state)
	s.mu.Unlock()

	s.cancel()
	s.capture.Close()
	s.session.Close()
	if s.stopListen != nil {
		s.stopListen()
	}
	s.wg.Wait()
	s.logger.Debug("Content surface closed.")
}

// Bind implements cdpconn.Binder for the debug session.
func (s *Surface) Bind(context.Context) (cdpconn.Conn, error) {
	if !s.Alive() {
		return nil, browsererr.New("bind", browsererr.ErrSurfaceDestroyed, nil)
	}
	return s.conn, nil
}

// Alive reports whether the surface can still be driven.
func (s *Surface) Alive() bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return false
	}
	select {
	case <-s.conn.Done():
		return false
	default:
		return true
	}
}

// Loading reports whether a navigation is in flight.
func (s *Surface) Loading() bool {
	return s.State() == StateLoading
}

// State returns the navigation state.
func (s *Surface) State() NavState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentURL returns the last committed URL, "" before the first commit.
func (s *Surface) CurrentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committedURL
}

// Capture returns the network capture.
func (s *Surface) Capture() *netcapture.Capture { return s.capture }

// Emulation returns the device emulation controller.
func (s *Surface) Emulation() *emulation.Controller { return s.emulation }

// Index returns the annotation index.
func (s *Surface) Index() *annotate.Index { return s.index }

// Session returns the shared debug session.
func (s *Surface) Session() *debugger.Session { return s.session }
