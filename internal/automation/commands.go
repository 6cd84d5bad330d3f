package automation

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/webpilot/internal/browser/browsererr"
	"github.com/xkilldash9x/webpilot/internal/browser/surface"
)

// -- Navigation --

func (f *Facade) handleNavigate(ctx context.Context, args map[string]any) (any, error) {
	a, err := decodeArgs[navigateArgs]("navigate", args)
	if err != nil {
		return nil, err
	}
	if a.URL == "" {
		return nil, browsererr.Validation("navigate", "missing url")
	}
	if err := f.surface.Navigate(ctx, a.URL); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Navigated to %s", f.surface.CurrentURL()), nil
}

func (f *Facade) handleCurrentURL(context.Context, map[string]any) (any, error) {
	return f.surface.CurrentURL(), nil
}

func (f *Facade) handleGoBack(ctx context.Context, _ map[string]any) (any, error) {
	if err := f.surface.GoBack(ctx); err != nil {
		return nil, err
	}
	return "Went back", nil
}

func (f *Facade) handleGoForward(ctx context.Context, _ map[string]any) (any, error) {
	if err := f.surface.GoForward(ctx); err != nil {
		return nil, err
	}
	return "Went forward", nil
}

func (f *Facade) handleReload(ctx context.Context, _ map[string]any) (any, error) {
	if err := f.surface.Reload(ctx); err != nil {
		return nil, err
	}
	return "Reloaded", nil
}

// -- Interaction --

// handleClick accepts either a selector or an annotation index.
func (f *Facade) handleClick(ctx context.Context, args map[string]any) (any, error) {
	a, err := decodeArgs[targetArgs]("click", args)
	if err != nil {
		return nil, err
	}
	if a.Selector == "" && a.Index != nil {
		return f.clickIndex(ctx, *a.Index)
	}
	if a.Selector == "" {
		return nil, browsererr.Validation("click", "missing selector or index")
	}
	if err := f.surface.Click(ctx, a.Selector); err != nil {
		return nil, err
	}
	return "Clicked", nil
}

func (f *Facade) handleType(ctx context.Context, args map[string]any) (any, error) {
	a, err := decodeArgs[targetArgs]("type", args)
	if err != nil {
		return nil, err
	}
	if a.Text == nil {
		return nil, browsererr.Validation("type", "missing text")
	}
	if a.Selector == "" && a.Index != nil {
		return f.typeIndex(ctx, *a.Index, *a.Text)
	}
	if a.Selector == "" {
		return nil, browsererr.Validation("type", "missing selector or index")
	}
	if err := f.surface.Type(ctx, a.Selector, *a.Text); err != nil {
		return nil, err
	}
	return "Typed", nil
}

func (f *Facade) handleHover(ctx context.Context, args map[string]any) (any, error) {
	a, err := decodeArgs[selectorArgs]("hover", args)
	if err != nil {
		return nil, err
	}
	if err := f.surface.Hover(ctx, a.Selector); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Hovered: %s", a.Selector), nil
}

func (f *Facade) handleScroll(ctx context.Context, args map[string]any) (any, error) {
	a, err := decodeArgs[scrollArgs]("scroll", args)
	if err != nil {
		return nil, err
	}
	amount := a.Amount
	if amount <= 0 {
		amount = f.cfg.DefaultScrollPx
	}
	opts := surface.ScrollOptions{
		Selector:  a.Selector,
		X:         a.X,
		Y:         a.Y,
		Direction: a.Direction,
		Amount:    amount,
	}
	if err := f.surface.Scroll(ctx, opts); err != nil {
		return nil, err
	}
	return "Scrolled", nil
}

func (f *Facade) handleSelectOption(ctx context.Context, args map[string]any) (any, error) {
	a, err := decodeArgs[selectArgs]("selectOption", args)
	if err != nil {
		return nil, err
	}
	by := surface.SelectBy{Value: a.Value, Label: a.Label, Index: a.Index}
	if err := f.surface.SelectOption(ctx, a.Selector, by); err != nil {
		return nil, err
	}
	return "Option selected", nil
}

func (f *Facade) handlePressKey(ctx context.Context, args map[string]any) (any, error) {
	a, err := decodeArgs[keyArgs]("pressKey", args)
	if err != nil {
		return nil, err
	}
	if a.Key == "" {
		return nil, browsererr.Validation("pressKey", "missing key")
	}
	if err := f.surface.PressKey(ctx, a.Key, a.Selector); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Pressed: %s", a.Key), nil
}

func (f *Facade) handleGetDOM(ctx context.Context, args map[string]any) (any, error) {
	a, err := decodeArgs[selectorArgs]("getDOM", args)
	if err != nil {
		return nil, err
	}
	return f.surface.GetDOM(ctx, a.Selector)
}

func (f *Facade) handleWaitForSelector(ctx context.Context, args map[string]any) (any, error) {
	a, err := decodeArgs[waitSelectorArgs]("waitForSelector", args)
	if err != nil {
		return nil, err
	}
	timeout := boundedMillis(a.Timeout, defaultWaitSelector, f.cfg.WaitSelectorMax)
	if err := f.surface.WaitForSelector(ctx, a.Selector, timeout); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Found: %s", a.Selector), nil
}

func (f *Facade) handleWait(ctx context.Context, args map[string]any) (any, error) {
	a, err := decodeArgs[waitArgs]("wait", args)
	if err != nil {
		return nil, err
	}
	d := boundedMillis(a.MS, defaultWait, f.cfg.WaitMax)
	if err := f.surface.Wait(ctx, d); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Waited %dms", d.Milliseconds()), nil
}

func (f *Facade) handleScreenshot(ctx context.Context, _ map[string]any) (any, error) {
	return f.surface.Screenshot(ctx)
}

func (f *Facade) handleEvaluate(ctx context.Context, args map[string]any) (any, error) {
	a, err := decodeArgs[codeArgs]("evaluate", args)
	if err != nil {
		return nil, err
	}
	return f.surface.Evaluate(ctx, a.Code)
}

// -- Annotation --

func (f *Facade) handleAnnotate(ctx context.Context, _ map[string]any) (any, error) {
	return f.surface.Annotate(ctx)
}

func (f *Facade) handleAnnotatedElements(context.Context, map[string]any) (any, error) {
	return f.surface.AnnotatedElements(), nil
}

func (f *Facade) handleClickIndex(ctx context.Context, args map[string]any) (any, error) {
	a, err := decodeArgs[targetArgs]("clickIndex", args)
	if err != nil {
		return nil, err
	}
	if a.Index == nil {
		return nil, browsererr.Validation("clickIndex", "missing index")
	}
	return f.clickIndex(ctx, *a.Index)
}

func (f *Facade) handleTypeIndex(ctx context.Context, args map[string]any) (any, error) {
	a, err := decodeArgs[targetArgs]("typeIndex", args)
	if err != nil {
		return nil, err
	}
	if a.Index == nil || a.Text == nil {
		return nil, browsererr.Validation("typeIndex", "missing index or text")
	}
	return f.typeIndex(ctx, *a.Index, *a.Text)
}

func (f *Facade) clickIndex(ctx context.Context, index int) (any, error) {
	if err := f.surface.ClickIndex(ctx, index); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Clicked element [%d]", index), nil
}

func (f *Facade) typeIndex(ctx context.Context, index int, text string) (any, error) {
	if err := f.surface.TypeIndex(ctx, index, text); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Typed into element [%d]", index), nil
}

// -- Observation --

func (f *Facade) handleConsoleLogs(context.Context, map[string]any) (any, error) {
	return f.surface.ConsoleLogs(), nil
}

func (f *Facade) handleClearConsoleLogs(context.Context, map[string]any) (any, error) {
	f.surface.ClearConsoleLogs()
	return "Console logs cleared", nil
}

func (f *Facade) handleNetworkRequests(context.Context, map[string]any) (any, error) {
	return f.surface.NetworkRequests(), nil
}

func (f *Facade) handleClearNetworkRequests(context.Context, map[string]any) (any, error) {
	f.surface.ClearNetworkRequests()
	return "Network requests cleared", nil
}

// -- Device emulation --

func (f *Facade) handleSetDeviceMode(ctx context.Context, args map[string]any) (any, error) {
	a, err := decodeArgs[deviceArgs]("setDeviceMode", args)
	if err != nil {
		return nil, err
	}
	if a.DeviceID == "" {
		return nil, browsererr.Validation("setDeviceMode", "missing deviceId")
	}
	if err := f.surface.SetDeviceMode(ctx, a.DeviceID); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Device mode set to: %s", a.DeviceID), nil
}

func (f *Facade) handleDeviceMode(context.Context, map[string]any) (any, error) {
	return f.surface.DeviceMode(), nil
}

func (f *Facade) handleDevicePresets(context.Context, map[string]any) (any, error) {
	return f.surface.DevicePresets(), nil
}
