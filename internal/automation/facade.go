// Package automation exposes the content surface as a set of named commands.
// Every command yields a Response; failures never escape as errors or panics.
package automation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/config"
)

const (
	defaultWaitSelector = 5 * time.Second
	defaultWait         = time.Second
)

// Handler runs one command and returns its success payload.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Facade dispatches commands onto a Surface.
type Facade struct {
	logger   *zap.Logger
	surface  Surface
	cfg      config.AutomationConfig
	handlers map[string]Handler
}

// New returns a facade over s.
func New(logger *zap.Logger, s Surface, cfg config.Interface) *Facade {
	f := &Facade{
		logger:   logger.Named("automation"),
		surface:  s,
		cfg:      cfg.Automation(),
		handlers: make(map[string]Handler),
	}
	f.registerHandlers()
	return f
}

func (f *Facade) registerHandlers() {
	f.handlers["navigate"] = f.handleNavigate
	f.handlers["getCurrentURL"] = f.handleCurrentURL
	f.handlers["goBack"] = f.handleGoBack
	f.handlers["goForward"] = f.handleGoForward
	f.handlers["reload"] = f.handleReload

	f.handlers["click"] = f.handleClick
	f.handlers["type"] = f.handleType
	f.handlers["typeText"] = f.handleType
	f.handlers["hover"] = f.handleHover
	f.handlers["scroll"] = f.handleScroll
	f.handlers["selectOption"] = f.handleSelectOption
	f.handlers["pressKey"] = f.handlePressKey
	f.handlers["getDOM"] = f.handleGetDOM
	f.handlers["waitForSelector"] = f.handleWaitForSelector
	f.handlers["wait"] = f.handleWait
	f.handlers["screenshot"] = f.handleScreenshot
	f.handlers["evaluate"] = f.handleEvaluate
	f.handlers["evaluateJS"] = f.handleEvaluate

	f.handlers["annotate"] = f.handleAnnotate
	f.handlers["getAnnotatedElements"] = f.handleAnnotatedElements
	f.handlers["clickIndex"] = f.handleClickIndex
	f.handlers["typeIndex"] = f.handleTypeIndex

	f.handlers["getConsoleLogs"] = f.handleConsoleLogs
	f.handlers["clearConsoleLogs"] = f.handleClearConsoleLogs
	f.handlers["getNetworkRequests"] = f.handleNetworkRequests
	f.handlers["clearNetworkRequests"] = f.handleClearNetworkRequests

	f.handlers["setDeviceMode"] = f.handleSetDeviceMode
	f.handlers["getDeviceMode"] = f.handleDeviceMode
	f.handlers["getDevicePresets"] = f.handleDevicePresets
}

// Commands lists the command names the facade understands.
func (f *Facade) Commands() []string {
	names := make([]string, 0, len(f.handlers))
	for name := range f.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs cmd under the command timeout. A command without an id is
// assigned one so the response can still be correlated.
func (f *Facade) Dispatch(ctx context.Context, cmd Command) (resp Response) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	resp.ID = cmd.ID
	logger := f.logger.With(zap.String("cmd", cmd.Cmd), zap.String("id", cmd.ID))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Command panicked.", zap.Any("panic", r), zap.Stack("stack"))
			resp = Response{ID: cmd.ID, Error: fmt.Sprintf("command failed: %v", r)}
		}
	}()

	h, ok := f.handlers[cmd.Cmd]
	if !ok {
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Cmd)
		return resp
	}

	if f.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.CommandTimeout)
		defer cancel()
	}

	start := time.Now()
	data, err := h(ctx, cmd.Args)
	if err != nil {
		logger.Warn("Command failed.", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		resp.Error = err.Error()
		return resp
	}
	logger.Debug("Command completed.", zap.Duration("elapsed", time.Since(start)))
	resp.Success = true
	resp.Data = data
	return resp
}

// boundedMillis converts a millisecond argument into a duration, applying
// def for non-positive input and clamping to limit when one is set.
func boundedMillis(ms float64, def, limit time.Duration) time.Duration {
	d := def
	if ms > 0 {
		d = time.Duration(ms * float64(time.Millisecond))
	}
	if limit > 0 && d > limit {
		d = limit
	}
	return d
}
