package emulation

import (
	"fmt"

	"github.com/xkilldash9x/webpilot/internal/config"
)

// DesktopID names the preset that removes every override.
const DesktopID = "desktop"

// Preset is a named bundle of viewport, user agent and touch parameters.
type Preset struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Width             int64   `json:"width"`
	Height            int64   `json:"height"`
	DeviceScaleFactor float64 `json:"deviceScaleFactor"`
	UserAgent         string  `json:"userAgent"`
	Touch             bool    `json:"touch"`
	Mobile            bool    `json:"mobile"`
	MaxTouchPoints    int64   `json:"-"`
}

const (
	desktopUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	iphoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1"
	pixelUA   = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Mobile Safari/537.36"
	ipadUA    = "Mozilla/5.0 (iPad; CPU OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1"
)

// DefaultPresets is the built-in table used when the configuration names none.
func DefaultPresets() []Preset {
	return []Preset{
		{ID: DesktopID, Name: "Desktop", Width: 1280, Height: 800, DeviceScaleFactor: 1, UserAgent: desktopUA},
		{ID: "iphone", Name: "iPhone 15 Pro", Width: 393, Height: 852, DeviceScaleFactor: 3, UserAgent: iphoneUA, Touch: true, Mobile: true, MaxTouchPoints: 5},
		{ID: "pixel", Name: "Pixel 8", Width: 412, Height: 915, DeviceScaleFactor: 2.625, UserAgent: pixelUA, Touch: true, Mobile: true, MaxTouchPoints: 5},
		{ID: "ipad", Name: "iPad Air", Width: 820, Height: 1180, DeviceScaleFactor: 2, UserAgent: ipadUA, Touch: true, Mobile: true, MaxTouchPoints: 5},
	}
}

// PresetsFromConfig converts configured presets, falling back to the
// built-in table when none are configured.
func PresetsFromConfig(cfg []config.DevicePresetConfig) []Preset {
	if len(cfg) == 0 {
		return DefaultPresets()
	}
	out := make([]Preset, 0, len(cfg))
	for _, p := range cfg {
		out = append(out, Preset{
			ID:                p.ID,
			Name:              p.Name,
			Width:             p.Width,
			Height:            p.Height,
			DeviceScaleFactor: p.DeviceScaleFactor,
			UserAgent:         p.UserAgent,
			Touch:             p.Touch,
			Mobile:            p.Mobile,
			MaxTouchPoints:    p.MaxTouchPoints,
		})
	}
	return out
}

// Catalog is the immutable preset table.
type Catalog struct {
	presets []Preset
	byID    map[string]int
}

// NewCatalog validates presets and indexes them by id. A desktop preset is required.
func NewCatalog(presets []Preset) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]int, len(presets))}
	for _, p := range presets {
		if p.ID == "" {
			return nil, fmt.Errorf("device preset %q has no id", p.Name)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate device preset %q", p.ID)
		}
		if p.ID != DesktopID && (p.Width <= 0 || p.Height <= 0) {
			return nil, fmt.Errorf("device preset %q needs a positive viewport", p.ID)
		}
		if p.UserAgent == "" {
			return nil, fmt.Errorf("device preset %q has no user agent", p.ID)
		}
		if p.DeviceScaleFactor <= 0 {
			p.DeviceScaleFactor = 1
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		if p.Touch && p.MaxTouchPoints <= 0 {
			p.MaxTouchPoints = 5
		}
		c.byID[p.ID] = len(c.presets)
		c.presets = append(c.presets, p)
	}
	if _, ok := c.byID[DesktopID]; !ok {
		return nil, fmt.Errorf("device preset table must contain %q", DesktopID)
	}
	return c, nil
}

// Lookup returns the preset with the given id.
func (c *Catalog) Lookup(id string) (Preset, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Preset{}, false
	}
	return c.presets[i], true
}

// All returns the presets in declaration order.
func (c *Catalog) All() []Preset {
	out := make([]Preset, len(c.presets))
	copy(out, c.presets)
	return out
}

// Desktop returns the desktop preset.
func (c *Catalog) Desktop() Preset {
	p, _ := c.Lookup(DesktopID)
	return p
}
