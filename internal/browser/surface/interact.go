package surface

import (
	"context"
	"encoding/base64"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp/kb"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/browser/annotate"
	"github.com/xkilldash9x/webpilot/internal/browser/browsererr"
	"github.com/xkilldash9x/webpilot/internal/browser/cdpconn"
	"github.com/xkilldash9x/webpilot/internal/browser/emulation"
	"github.com/xkilldash9x/webpilot/internal/browser/netcapture"
	"github.com/xkilldash9x/webpilot/internal/browser/pagescript"
)

const (
	defaultScrollPx = 300
	pollInterval    = 100 * time.Millisecond
)

// ScrollOptions selects one of three scroll modes: bring Selector into view,
// scroll to the X/Y offset, or scroll by Amount pixels in Direction.
type ScrollOptions struct {
	Selector  string
	X, Y      *float64
	Direction string
	Amount    float64
}

// SelectBy picks an option by value, label or position; the first set field wins.
type SelectBy struct {
	Value *string
	Label *string
	Index *int
}

// namedKeys maps key names accepted by PressKey onto keyboard runes.
var namedKeys = map[string]string{
	"Enter":      kb.Enter,
	"Tab":        kb.Tab,
	"Escape":     kb.Escape,
	"Backspace":  kb.Backspace,
	"Delete":     kb.Delete,
	"ArrowUp":    kb.ArrowUp,
	"ArrowDown":  kb.ArrowDown,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
	"Home":       kb.Home,
	"End":        kb.End,
	"PageUp":     kb.PageUp,
	"PageDown":   kb.PageDown,
	"Space":      " ",
}

// run passes the readiness gate and calls fn, logging failures with the
// script snippet, the page URL and the target of the operation.
func (s *Surface) run(ctx context.Context, op string, fn pagescript.Func, res any, target zap.Field, args ...any) error {
	if err := s.ready(ctx, op); err != nil {
		return err
	}
	if err := s.scripts.Call(ctx, fn, res, args...); err != nil {
		s.scriptFailed(op, fn.Source(), err, target)
		return err
	}
	return nil
}

func (s *Surface) scriptFailed(op, snippet string, err error, fields ...zap.Field) {
	fields = append(fields,
		zap.String("op", op),
		zap.String("url", s.CurrentURL()),
		zap.String("snippet", truncate(snippet, s.cfg.ScriptLogLimit)),
		zap.Error(err),
	)
	s.logger.Warn("Page script failed.", fields...)
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func (s *Surface) notFound(op, selector string) error {
	return browsererr.New(op, browsererr.ErrElementNotFound, nil).WithSelector(selector).WithURL(s.CurrentURL())
}

func requireSelector(op, selector string) error {
	if selector == "" {
		return browsererr.Validation(op, "missing selector")
	}
	return nil
}

// Click clicks the first element matching selector.
func (s *Surface) Click(ctx context.Context, selector string) error {
	if err := requireSelector("click", selector); err != nil {
		return err
	}
	var ok bool
	if err := s.run(ctx, "click", pagescript.Click, &ok, zap.String("selector", selector), selector); err != nil {
		return err
	}
	if !ok {
		return s.notFound("click", selector)
	}
	return nil
}

// Type replaces the value of the element matching selector with text.
func (s *Surface) Type(ctx context.Context, selector, text string) error {
	if err := requireSelector("type", selector); err != nil {
		return err
	}
	var ok bool
	if err := s.run(ctx, "type", pagescript.TypeText, &ok, zap.String("selector", selector), selector, text); err != nil {
		return err
	}
	if !ok {
		return s.notFound("type", selector)
	}
	return nil
}

// Hover moves the pointer over the element matching selector.
func (s *Surface) Hover(ctx context.Context, selector string) error {
	if err := requireSelector("hover", selector); err != nil {
		return err
	}
	var pt *pagescript.Point
	if err := s.run(ctx, "hover", pagescript.Hover, &pt, zap.String("selector", selector), selector); err != nil {
		return err
	}
	if pt == nil {
		return s.notFound("hover", selector)
	}
	if err := input.DispatchMouseEvent(input.MouseMoved, pt.X, pt.Y).Do(cdpconn.WithConn(ctx, s.conn)); err != nil {
		return browsererr.New("hover", browsererr.ErrProtocol, err).WithSelector(selector).WithPoint(pt.X, pt.Y)
	}
	return nil
}

// Scroll scrolls the page. With no options it scrolls down by the default amount.
func (s *Surface) Scroll(ctx context.Context, opts ScrollOptions) error {
	switch {
	case opts.Selector != "":
		var ok bool
		if err := s.run(ctx, "scroll", pagescript.ScrollIntoView, &ok, zap.String("selector", opts.Selector), opts.Selector); err != nil {
			return err
		}
		if !ok {
			return s.notFound("scroll", opts.Selector)
		}
		return nil

	case opts.X != nil || opts.Y != nil:
		return s.run(ctx, "scroll", pagescript.ScrollTo, nil, zap.Skip(), opts.X, opts.Y)
	}

	amount := opts.Amount
	if amount <= 0 {
		amount = defaultScrollPx
	}
	var dx, dy float64
	switch opts.Direction {
	case "", "down":
		dy = amount
	case "up":
		dy = -amount
	case "right":
		dx = amount
	case "left":
		dx = -amount
	default:
		return browsererr.Validation("scroll", "unknown direction %q", opts.Direction)
	}
	return s.run(ctx, "scroll", pagescript.ScrollBy, nil, zap.String("direction", opts.Direction), dx, dy)
}

// SelectOption picks an option of the <select> matching selector.
func (s *Surface) SelectOption(ctx context.Context, selector string, by SelectBy) error {
	if err := requireSelector("selectOption", selector); err != nil {
		return err
	}
	var mode, value string
	switch {
	case by.Value != nil:
		mode, value = "value", *by.Value
	case by.Label != nil:
		mode, value = "label", *by.Label
	case by.Index != nil:
		mode, value = "index", strconv.Itoa(*by.Index)
	default:
		return browsererr.Validation("selectOption", "one of value, label or index is required")
	}
	var ok bool
	if err := s.run(ctx, "selectOption", pagescript.SelectOption, &ok, zap.String("selector", selector), selector, mode, value); err != nil {
		return err
	}
	if !ok {
		return s.notFound("selectOption", selector)
	}
	return nil
}

// PressKey dispatches a key press, focusing selector first when given. Key
// is a single character or one of the names in namedKeys.
func (s *Surface) PressKey(ctx context.Context, key, selector string) error {
	r, err := keyRune(key)
	if err != nil {
		return err
	}
	if selector != "" {
		var focused bool
		if err := s.run(ctx, "pressKey", pagescript.Focus, &focused, zap.String("selector", selector), selector); err != nil {
			return err
		}
		if !focused {
			return s.notFound("pressKey", selector)
		}
	} else if err := s.ready(ctx, "pressKey"); err != nil {
		return err
	}

	ex := cdpconn.WithConn(ctx, s.conn)
	for _, ev := range kb.Encode(r) {
		if err := ev.Do(ex); err != nil {
			return browsererr.Protocol("pressKey", err)
		}
	}
	return nil
}

func keyRune(key string) (rune, error) {
	if name, ok := namedKeys[key]; ok {
		r, _ := utf8.DecodeRuneInString(name)
		return r, nil
	}
	if utf8.RuneCountInString(key) == 1 {
		r, _ := utf8.DecodeRuneInString(key)
		return r, nil
	}
	return 0, browsererr.Validation("pressKey", "unsupported key %q", key)
}

// GetDOM returns the outer HTML of selector, or of the whole document when
// selector is empty.
func (s *Surface) GetDOM(ctx context.Context, selector string) (string, error) {
	var html *string
	if err := s.run(ctx, "getDOM", pagescript.OuterHTML, &html, zap.String("selector", selector), selector); err != nil {
		return "", err
	}
	if html == nil {
		return "", s.notFound("getDOM", selector)
	}
	return *html, nil
}

// WaitForSelector polls until selector matches or timeout passes.
func (s *Surface) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if err := requireSelector("waitForSelector", selector); err != nil {
		return err
	}
	if err := s.ready(ctx, "waitForSelector"); err != nil {
		return err
	}
	deadline := s.clock.After(timeout)
	for {
		var found bool
		if err := s.scripts.Call(ctx, pagescript.QuerySelectorExists, &found, selector); err != nil {
			// The page may be mid-navigation; keep polling.
			s.logger.Debug("Selector probe failed.", zap.String("selector", selector), zap.Error(err))
		}
		if found {
			return nil
		}
		select {
		case <-deadline:
			return browsererr.New("waitForSelector", browsererr.ErrTimeout, nil).WithSelector(selector).WithURL(s.CurrentURL())
		case <-ctx.Done():
			return browsererr.New("waitForSelector", browsererr.ErrTimeout, ctx.Err()).WithSelector(selector)
		case <-s.lifetime.Done():
			return browsererr.New("waitForSelector", browsererr.ErrSurfaceDestroyed, nil)
		case <-s.clock.After(pollInterval):
		}
	}
}

// Wait sleeps for d.
func (s *Surface) Wait(ctx context.Context, d time.Duration) error {
	select {
	case <-s.clock.After(d):
		return nil
	case <-ctx.Done():
		return browsererr.New("wait", browsererr.ErrTimeout, ctx.Err())
	case <-s.lifetime.Done():
		return browsererr.New("wait", browsererr.ErrSurfaceDestroyed, nil)
	}
}

// CaptureScreenshot returns a PNG of the viewport. It skips the readiness
// gate so the annotation pass can use it mid-operation.
func (s *Surface) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	img, err := page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(cdpconn.WithConn(ctx, s.conn))
	if err != nil {
		return nil, browsererr.Protocol("screenshot", err)
	}
	return img, nil
}

// Screenshot returns the viewport as base64 PNG.
func (s *Surface) Screenshot(ctx context.Context) (string, error) {
	if err := s.ready(ctx, "screenshot"); err != nil {
		return "", err
	}
	img, err := s.CaptureScreenshot(ctx)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(img), nil
}

// Evaluate runs code in the page and returns its JSON value.
func (s *Surface) Evaluate(ctx context.Context, code string) (json.RawMessage, error) {
	if code == "" {
		return nil, browsererr.Validation("evaluate", "missing code")
	}
	if err := s.ready(ctx, "evaluate"); err != nil {
		return nil, err
	}
	raw, err := s.scripts.Evaluate(ctx, code)
	if err != nil {
		s.scriptFailed("evaluate", code, err)
		return nil, err
	}
	return raw, nil
}

// Annotate runs an annotation pass.
func (s *Surface) Annotate(ctx context.Context) (annotate.Result, error) {
	if err := s.ready(ctx, "annotate"); err != nil {
		return annotate.Result{}, err
	}
	return s.index.Annotate(ctx)
}

// AnnotatedElements returns the current annotation index.
func (s *Surface) AnnotatedElements() []annotate.Element {
	return s.index.Elements()
}

// ClickIndex clicks whatever element is now at the center of the cached
// rect of annotated element index.
func (s *Surface) ClickIndex(ctx context.Context, index int) error {
	_, err := s.atIndex(ctx, "clickIndex", index, pagescript.ActionClick, "")
	return err
}

// TypeIndex types text into the element at the center of annotated element
// index. The element found there must accept text.
func (s *Surface) TypeIndex(ctx context.Context, index int, text string) error {
	res, err := s.atIndex(ctx, "typeIndex", index, pagescript.ActionType, text)
	if err != nil {
		return err
	}
	if res.Rejected {
		return browsererr.Validation("typeIndex", "element [%d] is a <%s>, not a text field", index, res.Tag)
	}
	return nil
}

func (s *Surface) atIndex(ctx context.Context, op string, index int, action, text string) (pagescript.PointResult, error) {
	el, err := s.index.Resolve(index)
	if err != nil {
		return pagescript.PointResult{}, err
	}
	x, y := el.Rect.Center()
	var res pagescript.PointResult
	if err := s.run(ctx, op, pagescript.ElementAtPoint, &res, zap.Float64s("point", []float64{x, y}), x, y, action, text); err != nil {
		return res, err
	}
	if !res.Found {
		return res, browsererr.New(op, browsererr.ErrElementNotFound, nil).WithPoint(x, y).WithURL(s.CurrentURL())
	}
	return res, nil
}

// ConsoleLogs returns the buffered console lines, oldest first.
func (s *Surface) ConsoleLogs() []string { return s.console.Lines() }

// ClearConsoleLogs empties the console buffer.
func (s *Surface) ClearConsoleLogs() { s.console.Clear() }

// NetworkRequests returns the capture snapshot, newest first.
func (s *Surface) NetworkRequests() []netcapture.Exchange { return s.capture.Snapshot() }

// ClearNetworkRequests empties the capture table.
func (s *Surface) ClearNetworkRequests() { s.capture.Clear() }

// SetDeviceMode switches device emulation to the preset id.
func (s *Surface) SetDeviceMode(ctx context.Context, id string) error {
	if !s.Alive() {
		return browsererr.New("setDeviceMode", browsererr.ErrSurfaceDestroyed, nil)
	}
	return s.emulation.SetMode(ctx, id)
}

// DeviceMode returns the active preset id.
func (s *Surface) DeviceMode() string { return s.emulation.Mode() }

// DevicePresets returns the preset table.
func (s *Surface) DevicePresets() []emulation.Preset { return s.emulation.Presets() }
