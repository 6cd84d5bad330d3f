// Package cdpconn defines the seam between the browser components and a live
// DevTools protocol connection to a single page target.
package cdpconn

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
)

// Conn is a live protocol connection to one page target. It executes
// commands (so typed cdproto commands can run against it through
// cdp.WithExecutor) and delivers the target's events in emission order.
type Conn interface {
	cdp.Executor

	// Listen registers fn for every event of the target. Events are delivered
	// on the connection's reader goroutine; fn must not block or issue
	// commands synchronously. The returned func removes the listener.
	Listen(fn func(ev any)) (stop func())

	// Done is closed once the target is gone.
	Done() <-chan struct{}

	// ID identifies the target the connection is bound to.
	ID() target.ID
}

// Binder hands out the connection of the content surface it represents.
type Binder interface {
	Bind(ctx context.Context) (Conn, error)
}

// WithConn returns a context that routes typed cdproto commands to ex.
func WithConn(ctx context.Context, ex cdp.Executor) context.Context {
	return cdp.WithExecutor(ctx, ex)
}

// CombineContext returns a context carrying the values of primary that is
// cancelled when either primary or secondary is done.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                       { return nil }
func (valueOnlyContext) Err() error                                  { return nil }

// Detach returns a context with the values of ctx but none of its
// cancellation. Used for cleanup that has to outlive the caller.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
