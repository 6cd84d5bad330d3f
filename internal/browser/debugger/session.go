// Package debugger owns the DevTools protocol session used by network capture
// and device emulation. The session is a logical attachment over a surface's
// connection: attaching subscribes to the target's event stream, detaching
// drops the subscription without touching the page itself.
package debugger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/inspector"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/webpilot/internal/browser/browsererr"
	"github.com/xkilldash9x/webpilot/internal/browser/cdpconn"
	"github.com/xkilldash9x/webpilot/internal/retry"
)

const (
	// ReasonTargetClosed is reported when the target connection ends.
	ReasonTargetClosed = "target_closed"
	// ReasonRenderProcessGone is reported when the renderer crashes.
	ReasonRenderProcessGone = "render_process_gone"
	// ReasonExplicit is passed to detach hooks for caller initiated detaches.
	ReasonExplicit = "explicit"
)

var (
	// ErrNotAttached is wrapped into protocol errors issued while detached.
	ErrNotAttached = errors.New("debug session not attached")

	errSurfaceGone    = errors.New("surface no longer exists")
	errSurfaceLoading = errors.New("surface is loading")

	transientReasons = []string{
		"target_closed",
		"target closed",
		"render_widget_host_destroyed",
		"render process gone",
		"render_process_gone",
		"canceled_by_user",
	}
)

// IsTransient reports whether a detach reason warrants reattaching.
func IsTransient(reason string) bool {
	r := strings.ToLower(reason)
	for _, t := range transientReasons {
		if strings.Contains(r, t) {
			return true
		}
	}
	return false
}

// Host exposes the surface state consulted before an automatic reattach.
type Host interface {
	Alive() bool
	Loading() bool
}

// Options tunes reattachment.
type Options struct {
	Reattach retry.Policy
	Clock    retry.Clock
}

type subscriber struct {
	id int
	fn func(ev any)
}

// Session is the single protocol session shared by the browser components.
// Exactly one owner may hold it at a time; see Claim.
type Session struct {
	logger *zap.Logger
	host   Host
	clock  retry.Clock
	policy retry.Policy
	group  singleflight.Group

	lifetime context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu         sync.Mutex
	binder     cdpconn.Binder
	conn       cdpconn.Conn
	stopListen func()
	stopWatch  context.CancelFunc
	generation uint64
	owner      string
	claimSeq   uint64
	subs       []subscriber
	nextSub    int
	onDetach   []func(reason string)
	onReattach []func(ctx context.Context)
}

// New returns a detached session. host may be nil, in which case automatic
// reattachment is attempted unconditionally.
func New(logger *zap.Logger, host Host, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = retry.RealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		logger:   logger.Named("debugger"),
		host:     host,
		clock:    opts.Clock,
		policy:   opts.Reattach,
		lifetime: ctx,
		cancel:   cancel,
	}
}

// Attach binds the session to the surface behind b. It is idempotent for
// the same surface and detaches first when handed a different one. Failures
// are logged and returned; callers treat the session as unusable.
func (s *Session) Attach(ctx context.Context, b cdpconn.Binder) error {
	_, err, _ := s.group.Do("attach", func() (any, error) {
		return nil, s.attach(ctx, b)
	})
	if err != nil {
		s.logger.Warn("Failed to attach debug session.", zap.Error(err))
	}
	return err
}

func (s *Session) attach(ctx context.Context, b cdpconn.Binder) error {
	if s.lifetime.Err() != nil {
		return browsererr.Protocol("attach", errors.New("debug session closed"))
	}
	conn, err := b.Bind(ctx)
	if err != nil {
		return browsererr.Protocol("attach", err)
	}

	s.mu.Lock()
	var hooks []func(string)
	if s.conn != nil {
		if s.conn.ID() == conn.ID() {
			s.binder = b
			s.mu.Unlock()
			return nil
		}
		hooks = s.detachLocked()
	}
	s.bindLocked(b, conn)
	s.mu.Unlock()

	for _, h := range hooks {
		h(ReasonExplicit)
	}
	s.logger.Debug("Debug session attached.", zap.String("target_id", string(conn.ID())))
	return nil
}

func (s *Session) bindLocked(b cdpconn.Binder, conn cdpconn.Conn) {
	s.generation++
	gen := s.generation
	s.binder = b
	s.conn = conn
	s.stopListen = conn.Listen(func(ev any) { s.dispatch(gen, ev) })

	watchCtx, stop := context.WithCancel(s.lifetime)
	s.stopWatch = stop
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-conn.Done():
			s.unexpectedDetach(gen, ReasonTargetClosed)
		case <-watchCtx.Done():
		}
	}()
}

// detachLocked drops the binding and returns the detach hooks to run once
// the lock is released.
func (s *Session) detachLocked() []func(string) {
	if s.conn == nil {
		return nil
	}
	s.stopListen()
	s.stopWatch()
	s.conn = nil
	s.stopListen = nil
	s.stopWatch = nil
	s.owner = ""
	s.generation++
	hooks := make([]func(string), len(s.onDetach))
	copy(hooks, s.onDetach)
	return hooks
}

func (s *Session) dispatch(gen uint64, ev any) {
	switch e := ev.(type) {
	case *inspector.EventDetached:
		s.unexpectedDetach(gen, string(e.Reason))
		return
	case *inspector.EventTargetCrashed:
		s.unexpectedDetach(gen, ReasonRenderProcessGone)
		return
	}

	s.mu.Lock()
	if gen != s.generation || s.conn == nil {
		s.mu.Unlock()
		return
	}
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(ev)
	}
}

func (s *Session) unexpectedDetach(gen uint64, reason string) {
	s.mu.Lock()
	if gen != s.generation || s.conn == nil {
		s.mu.Unlock()
		return
	}
	binder := s.binder
	hooks := s.detachLocked()
	s.mu.Unlock()

	s.logger.Warn("Debug session detached unexpectedly.", zap.String("reason", reason))
	for _, h := range hooks {
		h(reason)
	}
	if IsTransient(reason) {
		s.scheduleReattach(binder)
	}
}

func (s *Session) scheduleReattach(b cdpconn.Binder) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := retry.Do(s.lifetime, s.clock, s.policy, func(ctx context.Context, attempt int) error {
			if s.host != nil && !s.host.Alive() {
				return retry.Permanent(errSurfaceGone)
			}
			if s.host != nil && s.host.Loading() {
				return errSurfaceLoading
			}
			return s.Attach(ctx, b)
		})
		if err != nil {
			if s.lifetime.Err() == nil {
				s.logger.Info("Debug session not reattached.", zap.Error(err))
			}
			return
		}

		s.mu.Lock()
		hooks := make([]func(context.Context), len(s.onReattach))
		copy(hooks, s.onReattach)
		s.mu.Unlock()
		for _, h := range hooks {
			h(s.lifetime)
		}
		s.logger.Info("Debug session reattached.")
	}()
}

// Detach stops forwarding events and clears any claim. It never fails.
func (s *Session) Detach() {
	s.mu.Lock()
	hooks := s.detachLocked()
	s.mu.Unlock()
	for _, h := range hooks {
		h(ReasonExplicit)
	}
}

// Attached reports whether the session is bound to a live connection.
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Execute sends a raw protocol command. The session satisfies cdp.Executor
// so typed cdproto commands run against it through cdpconn.WithConn.
func (s *Session) Execute(ctx context.Context, method string, params, res any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return browsererr.Protocol(method, ErrNotAttached)
	}
	if err := conn.Execute(ctx, method, params, res); err != nil {
		return browsererr.Protocol(method, err)
	}
	return nil
}

// Subscribe registers fn for every protocol event in emission order.
func (s *Session) Subscribe(fn func(ev any)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// OnDetach registers a hook run after every detach. Hooks must not block.
func (s *Session) OnDetach(fn func(reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDetach = append(s.onDetach, fn)
}

// OnReattach registers a hook run after an automatic reattach succeeds.
func (s *Session) OnReattach(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReattach = append(s.onReattach, fn)
}

// Claim makes owner the exclusive holder of the session. It fails while
// another owner holds it. The returned release is idempotent and only
// clears this claim.
func (s *Session) Claim(owner string) (release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, browsererr.Protocol("claim", ErrNotAttached)
	}
	if s.owner != "" && s.owner != owner {
		return nil, browsererr.Protocol("claim", fmt.Errorf("session held by %s", s.owner))
	}
	s.owner = owner
	s.claimSeq++
	seq := s.claimSeq

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.claimSeq == seq && s.owner == owner {
				s.owner = ""
			}
		})
	}, nil
}

// Owner returns the current holder, or "" when unclaimed.
func (s *Session) Owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// Close detaches, cancels pending reattachment and waits for background work.
func (s *Session) Close() {
	s.cancel()
	s.Detach()
	s.wg.Wait()
}
