package mocks

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/target"
	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/webpilot/internal/browser/cdpconn"
)

// Call records one command executed against a FakeConn.
type Call struct {
	Method string
	Params any
}

// FakeConn is an in-memory cdpconn.Conn. Commands are answered by per-method
// handlers (unhandled commands succeed with an empty result) and events are
// pushed to listeners synchronously with Emit.
type FakeConn struct {
	id target.ID

	mu        sync.Mutex
	handlers  map[string]func(params, res any) error
	calls     []Call
	listeners []fakeListener
	nextID    int
	done      chan struct{}
	closeOnce sync.Once
}

type fakeListener struct {
	id int
	fn func(ev any)
}

var _ cdpconn.Conn = (*FakeConn)(nil)

// NewFakeConn returns a connection to a fake target with the given id.
func NewFakeConn(id target.ID) *FakeConn {
	return &FakeConn{
		id:       id,
		handlers: make(map[string]func(params, res any) error),
		done:     make(chan struct{}),
	}
}

func (f *FakeConn) Execute(ctx context.Context, method string, params, res any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.calls = append(f.calls, Call{Method: method, Params: params})
	h := f.handlers[method]
	f.mu.Unlock()
	if h == nil {
		return nil
	}
	return h(params, res)
}

// Handle installs a handler for method. The handler may fill res directly.
func (f *FakeConn) Handle(method string, h func(params, res any) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

// Respond answers method with a JSON payload decoded into the result.
func (f *FakeConn) Respond(method, payload string) {
	f.Handle(method, func(_, res any) error {
		if res == nil {
			return nil
		}
		return json.UnmarshalFromString(payload, res)
	})
}

// Fail makes every call to method return err.
func (f *FakeConn) Fail(method string, err error) {
	f.Handle(method, func(_, _ any) error { return err })
}

func (f *FakeConn) Listen(fn func(ev any)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.listeners = append(f.listeners, fakeListener{id: id, fn: fn})
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, l := range f.listeners {
			if l.id == id {
				f.listeners = append(f.listeners[:i], f.listeners[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers ev to every listener in registration order.
func (f *FakeConn) Emit(ev any) {
	f.mu.Lock()
	ls := make([]fakeListener, len(f.listeners))
	copy(ls, f.listeners)
	f.mu.Unlock()
	for _, l := range ls {
		l.fn(ev)
	}
}

// ListenerCount reports the number of registered listeners.
func (f *FakeConn) ListenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *FakeConn) Done() <-chan struct{} { return f.done }

// Close simulates the target going away.
func (f *FakeConn) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func (f *FakeConn) ID() target.ID { return f.id }

// Calls returns the params of every call to method, in order.
func (f *FakeConn) Calls(method string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c.Params)
		}
	}
	return out
}

// Methods returns the executed method names in order.
func (f *FakeConn) Methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Method
	}
	return out
}

// ResetCalls forgets recorded calls.
func (f *FakeConn) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// FakeBinder binds to a fixed FakeConn, or fails with Err.
type FakeBinder struct {
	mu   sync.Mutex
	Conn *FakeConn
	Err  error
}

func (b *FakeBinder) Bind(context.Context) (cdpconn.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return nil, b.Err
	}
	return b.Conn, nil
}

// SetErr changes the error returned by Bind.
func (b *FakeBinder) SetErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Err = err
}
