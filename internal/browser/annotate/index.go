// Package annotate builds the numbered index of interactive elements used for
// coordinate based interaction, together with a screenshot showing the numbers.
package annotate

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/browser/browsererr"
	"github.com/xkilldash9x/webpilot/internal/browser/pagescript"
)

// Rect is a bounding box in page coordinates at scan time.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the rect.
func (r Rect) Center() (x, y float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Element is one interactive element of an annotation pass.
type Element struct {
	Index     int    `json:"index"`
	Tag       string `json:"tag"`
	InputType string `json:"inputType,omitempty"`
	Text      string `json:"text"`
	Selector  string `json:"selector"`
	Rect      Rect   `json:"rect"`
}

// Result is the outcome of Annotate.
type Result struct {
	PassID     string    `json:"passId"`
	Screenshot string    `json:"screenshot"`
	Elements   []Element `json:"elements"`
}

// Scripter runs embedded page functions.
type Scripter interface {
	Call(ctx context.Context, fn pagescript.Func, res any, args ...any) error
}

// Capturer takes a PNG of the visible page.
type Capturer interface {
	CaptureScreenshot(ctx context.Context) ([]byte, error)
}

// Options bounds a pass.
type Options struct {
	MaxElements int
	TextLimit   int
}

// Index caches the elements of the latest annotation pass until the page
// navigates away.
type Index struct {
	logger   *zap.Logger
	scripts  Scripter
	capturer Capturer
	opts     Options

	passMu     sync.Mutex
	mu         sync.RWMutex
	generation uint64
	passID     string
	elements   []Element
}

// New returns an empty index.
func New(logger *zap.Logger, scripts Scripter, capturer Capturer, opts Options) *Index {
	if opts.MaxElements <= 0 {
		opts.MaxElements = 50
	}
	if opts.TextLimit <= 0 {
		opts.TextLimit = 50
	}
	return &Index{
		logger:   logger.Named("annotate"),
		scripts:  scripts,
		capturer: capturer,
		opts:     opts,
	}
}

// Annotate scans the page, draws numbered markers, captures the page and
// removes the markers again. The scanned elements become the current index
// unless the page navigated while the pass was running.
func (x *Index) Annotate(ctx context.Context) (Result, error) {
	x.passMu.Lock()
	defer x.passMu.Unlock()

	x.mu.RLock()
	gen := x.generation
	x.mu.RUnlock()

	if err := x.scripts.Call(ctx, pagescript.RemoveMarkers, nil); err != nil {
		x.logger.Debug("Failed to remove stale markers.", zap.Error(err))
	}

	var scanned []Element
	if err := x.scripts.Call(ctx, pagescript.ScanInteractive, &scanned, x.opts.MaxElements, x.opts.TextLimit); err != nil {
		return Result{}, err
	}
	elements := renumber(scanned, x.opts.MaxElements)

	if err := x.scripts.Call(ctx, pagescript.DrawMarkers, nil, elements); err != nil {
		x.removeMarkers(ctx)
		return Result{}, err
	}
	img, err := x.capturer.CaptureScreenshot(ctx)
	x.removeMarkers(ctx)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		PassID:     uuid.NewString(),
		Screenshot: base64.StdEncoding.EncodeToString(img),
		Elements:   elements,
	}

	x.mu.Lock()
	if x.generation == gen {
		x.passID = res.PassID
		x.elements = elements
	} else {
		x.logger.Debug("Page navigated during annotation; result not cached.", zap.String("pass_id", res.PassID))
	}
	x.mu.Unlock()

	x.logger.Debug("Annotation pass complete.", zap.String("pass_id", res.PassID), zap.Int("elements", len(elements)))
	return res, nil
}

func (x *Index) removeMarkers(ctx context.Context) {
	if err := x.scripts.Call(ctx, pagescript.RemoveMarkers, nil); err != nil {
		x.logger.Warn("Failed to remove annotation markers.", zap.Error(err))
	}
}

// renumber enforces dense 1-based indices in scan order and the element cap.
func renumber(in []Element, limit int) []Element {
	if len(in) > limit {
		in = in[:limit]
	}
	out := make([]Element, len(in))
	for i, e := range in {
		e.Index = i + 1
		out[i] = e
	}
	return out
}

// Resolve returns the element with the given index from the current pass.
func (x *Index) Resolve(index int) (Element, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.passID == "" {
		return Element{}, browsererr.New("resolve", browsererr.ErrElementNotFound, errNoPass)
	}
	if index < 1 || index > len(x.elements) {
		return Element{}, browsererr.New("resolve", browsererr.ErrElementNotFound, indexError(index, len(x.elements)))
	}
	return x.elements[index-1], nil
}

// Elements returns a copy of the current index.
func (x *Index) Elements() []Element {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Element, len(x.elements))
	copy(out, x.elements)
	return out
}

// PassID identifies the current pass, "" when there is none.
func (x *Index) PassID() string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.passID
}

// Invalidate drops the cached index. Called on full navigation and crashes.
func (x *Index) Invalidate() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.generation++
	x.passID = ""
	x.elements = nil
}
