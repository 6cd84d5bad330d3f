// Package netcapture records the page's HTTP exchanges from the shared debug
// session into a bounded, pruned table and publishes debounced snapshots.
package netcapture

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/browser/cdpconn"
)

// Owner is the claim name used on the debug session.
const Owner = "network-capture"

// Exchange is one request/response pair as seen by the capture.
type Exchange struct {
	ID              string            `json:"id"`
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	Status          int64             `json:"status"`
	StatusText      string            `json:"statusText"`
	Type            string            `json:"type"`
	MimeType        string            `json:"mimeType,omitempty"`
	StartTime       int64             `json:"startTime"`
	EndTime         *int64            `json:"endTime,omitempty"`
	Duration        *int64            `json:"duration,omitempty"`
	RequestHeaders  map[string]string `json:"requestHeaders"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	RequestBody     *string           `json:"requestBody,omitempty"`
	ResponseBody    *string           `json:"responseBody,omitempty"`
	ResponseSize    int64             `json:"responseSize,omitempty"`
	Error           string            `json:"error,omitempty"`

	seq uint64
}

// Session is the subset of the debug session the capture drives.
type Session interface {
	cdp.Executor
	Attach(ctx context.Context, b cdpconn.Binder) error
	Detach()
	Attached() bool
	Claim(owner string) (release func(), err error)
	Subscribe(fn func(ev any)) (unsubscribe func())
	OnDetach(fn func(reason string))
	OnReattach(fn func(ctx context.Context))
}

// Options bounds the table and tunes publication.
type Options struct {
	RetentionCap int
	DisplayCap   int
	BodyCap      int
	Debounce     time.Duration
	BodyTimeout  time.Duration
	Now          func() time.Time
}

func (o *Options) applyDefaults() {
	if o.RetentionCap <= 0 {
		o.RetentionCap = 200
	}
	if o.DisplayCap <= 0 {
		o.DisplayCap = 100
	}
	if o.BodyCap <= 0 {
		o.BodyCap = 10 * 1024
	}
	if o.BodyTimeout <= 0 {
		o.BodyTimeout = 10 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Capture is the network capture component.
type Capture struct {
	logger  *zap.Logger
	session Session
	opts    Options

	lifetime context.Context
	cancel   context.CancelFunc
	fetches  sync.WaitGroup

	mu          sync.Mutex
	table       map[network.RequestID]*Exchange
	seq         uint64
	capturing   bool
	release     func()
	unsubscribe func()
	observers   []func([]Exchange)
	timer       *time.Timer
}

// New returns an idle capture bound to session.
func New(logger *zap.Logger, session Session, opts Options) *Capture {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Capture{
		logger:   logger.Named("netcapture"),
		session:  session,
		opts:     opts,
		lifetime: ctx,
		cancel:   cancel,
		table:    make(map[network.RequestID]*Exchange),
	}
	session.OnDetach(c.sessionDetached)
	session.OnReattach(c.sessionReattached)
	return c
}

// AttachTo attaches the debug session to the surface, claims it and enables
// the network domain. Calling it while already capturing is a no-op.
func (c *Capture) AttachTo(ctx context.Context, b cdpconn.Binder) error {
	c.mu.Lock()
	if c.capturing && c.release != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.session.Attach(ctx, b); err != nil {
		return err
	}
	return c.start(ctx)
}

func (c *Capture) start(ctx context.Context) error {
	release, err := c.session.Claim(Owner)
	if err != nil {
		return err
	}
	enable := network.Enable().WithMaxPostDataSize(int64(c.opts.BodyCap))
	if err := enable.Do(cdpconn.WithConn(ctx, c.session)); err != nil {
		release()
		return err
	}

	c.mu.Lock()
	c.capturing = true
	c.release = release
	if c.unsubscribe == nil {
		c.unsubscribe = c.session.Subscribe(c.handleEvent)
	}
	c.mu.Unlock()
	c.logger.Debug("Network capture started.")
	return nil
}

// Detach stops capture, releases the claim and detaches the session. The
// captured table is kept.
func (c *Capture) Detach() {
	c.mu.Lock()
	if !c.capturing {
		c.mu.Unlock()
		return
	}
	c.capturing = false
	release := c.release
	unsubscribe := c.unsubscribe
	c.release, c.unsubscribe = nil, nil
	c.mu.Unlock()

	if release != nil && c.session.Attached() {
		ctx, cancel := context.WithTimeout(c.lifetime, 2*time.Second)
		if err := network.Disable().Do(cdpconn.WithConn(ctx, c.session)); err != nil {
			c.logger.Debug("Failed to disable network domain.", zap.Error(err))
		}
		cancel()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	if release != nil {
		release()
	}
	c.session.Detach()
	c.fetches.Wait()
	c.logger.Debug("Network capture stopped.")
}

// Active reports whether the capture currently owns the session, or is
// waiting to reclaim it after an unexpected detach.
func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing
}

func (c *Capture) sessionDetached(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.release = nil
}

func (c *Capture) sessionReattached(ctx context.Context) {
	c.mu.Lock()
	resume := c.capturing && c.release == nil
	c.mu.Unlock()
	if !resume {
		return
	}
	if err := c.start(ctx); err != nil {
		c.logger.Warn("Failed to resume network capture after reattach.", zap.Error(err))
	}
}

// Clear empties the table and publishes an empty snapshot immediately.
func (c *Capture) Clear() {
	c.mu.Lock()
	c.table = make(map[network.RequestID]*Exchange)
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	c.publish()
}

// Snapshot returns up to the display cap of exchanges, newest first.
func (c *Capture) Snapshot() []Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Capture) snapshotLocked() []Exchange {
	out := make([]Exchange, 0, len(c.table))
	for _, ex := range c.table {
		out = append(out, *ex)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime > out[j].StartTime
		}
		return out[i].seq > out[j].seq
	})
	if len(out) > c.opts.DisplayCap {
		out = out[:c.opts.DisplayCap]
	}
	return out
}

// Len reports the number of retained exchanges.
func (c *Capture) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.table)
}

// OnUpdate registers an observer of table changes.
func (c *Capture) OnUpdate(fn func([]Exchange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// notify schedules a debounced publication.
func (c *Capture) notify() {
	c.mu.Lock()
	if c.opts.Debounce <= 0 {
		c.mu.Unlock()
		c.publish()
		return
	}
	if c.timer != nil {
		c.timer.Reset(c.opts.Debounce)
	} else {
		c.timer = time.AfterFunc(c.opts.Debounce, func() {
			c.mu.Lock()
			c.timer = nil
			c.mu.Unlock()
			c.publish()
		})
	}
	c.mu.Unlock()
}

func (c *Capture) publish() {
	c.mu.Lock()
	snap := c.snapshotLocked()
	observers := make([]func([]Exchange), len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()
	for _, fn := range observers {
		fn(snap)
	}
}

// Wait blocks until in-flight body fetches finish.
func (c *Capture) Wait() {
	c.fetches.Wait()
}

// Close stops capture and cancels outstanding body fetches.
func (c *Capture) Close() {
	c.Detach()
	c.cancel()
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	c.fetches.Wait()
}
