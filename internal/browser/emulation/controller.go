// Package emulation switches the content surface between device presets
// through the shared debug session.
package emulation

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	cdpemulation "github.com/chromedp/cdproto/emulation"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/browser/browsererr"
	"github.com/xkilldash9x/webpilot/internal/browser/cdpconn"
	"github.com/xkilldash9x/webpilot/internal/retry"
)

// Owner is the claim name used on the debug session.
const Owner = "device-emulation"

// Session is the subset of the debug session used for overrides.
type Session interface {
	cdp.Executor
	Attach(ctx context.Context, b cdpconn.Binder) error
	Claim(owner string) (release func(), err error)
}

// Capture is the network capture that has to yield the session.
type Capture interface {
	Active() bool
	Detach()
	AttachTo(ctx context.Context, b cdpconn.Binder) error
}

// Surface is the content surface being emulated.
type Surface interface {
	cdpconn.Binder
	SetUserAgent(ctx context.Context, ua string) error
	Reload(ctx context.Context) error
}

// Options tunes the controller.
type Options struct {
	// Settle is how long capture waits before reattaching after a switch.
	Settle time.Duration
	Clock  retry.Clock
}

// Controller applies device presets. Switches are serialized.
type Controller struct {
	logger  *zap.Logger
	catalog *Catalog
	session Session
	capture Capture
	surface Surface
	settle  time.Duration
	clock   retry.Clock

	switchMu sync.Mutex
	mu       sync.RWMutex
	mode     string
}

// NewController returns a controller in desktop mode.
func NewController(logger *zap.Logger, catalog *Catalog, session Session, capture Capture, surface Surface, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = retry.RealClock()
	}
	return &Controller{
		logger:  logger.Named("emulation"),
		catalog: catalog,
		session: session,
		capture: capture,
		surface: surface,
		settle:  opts.Settle,
		clock:   opts.Clock,
		mode:    DesktopID,
	}
}

// SetMode switches to the preset with the given id. Network capture is
// paused for the duration of the switch and always resumed afterwards,
// whether or not the switch succeeded.
func (c *Controller) SetMode(ctx context.Context, id string) error {
	preset, ok := c.catalog.Lookup(id)
	if !ok {
		return browsererr.Validation("setDeviceMode", "unknown device preset %q", id)
	}

	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	if c.capture.Active() {
		c.capture.Detach()
		defer c.resumeCapture(ctx)
	}

	if err := c.session.Attach(ctx, c.surface); err != nil {
		return err
	}
	release, err := c.session.Claim(Owner)
	if err != nil {
		return err
	}
	defer release()

	if err := c.apply(ctx, preset); err != nil {
		c.logger.Warn("Device mode switch failed.", zap.String("preset", id), zap.Error(err))
		return err
	}

	c.mu.Lock()
	c.mode = preset.ID
	c.mu.Unlock()
	c.logger.Info("Device mode set.", zap.String("preset", preset.ID))
	return nil
}

func (c *Controller) apply(ctx context.Context, p Preset) error {
	ex := cdpconn.WithConn(ctx, c.session)

	if p.ID == DesktopID {
		if err := cdpemulation.ClearDeviceMetricsOverride().Do(ex); err != nil {
			return err
		}
		if err := cdpemulation.SetTouchEmulationEnabled(false).Do(ex); err != nil {
			return err
		}
	} else {
		if err := cdpemulation.SetDeviceMetricsOverride(p.Width, p.Height, p.DeviceScaleFactor, p.Mobile).Do(ex); err != nil {
			return err
		}
		touch := cdpemulation.SetTouchEmulationEnabled(p.Touch)
		if p.Touch {
			touch = touch.WithMaxTouchPoints(p.MaxTouchPoints)
		}
		if err := touch.Do(ex); err != nil {
			return err
		}
	}
	if err := cdpemulation.SetUserAgentOverride(p.UserAgent).Do(ex); err != nil {
		return err
	}

	if err := c.surface.SetUserAgent(ctx, p.UserAgent); err != nil {
		return err
	}
	return c.surface.Reload(ctx)
}

func (c *Controller) resumeCapture(ctx context.Context) {
	ctx, cancel := context.WithTimeout(cdpconn.Detach(ctx), c.settle+10*time.Second)
	defer cancel()

	select {
	case <-c.clock.After(c.settle):
	case <-ctx.Done():
	}
	if err := c.capture.AttachTo(ctx, c.surface); err != nil {
		c.logger.Warn("Failed to resume network capture after device switch.", zap.Error(err))
	}
}

// Mode returns the id of the active preset.
func (c *Controller) Mode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// Presets returns the preset table.
func (c *Controller) Presets() []Preset {
	return c.catalog.All()
}
