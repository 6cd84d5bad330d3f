package automation

import (
	"context"
	"time"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/webpilot/internal/browser/annotate"
	"github.com/xkilldash9x/webpilot/internal/browser/emulation"
	"github.com/xkilldash9x/webpilot/internal/browser/netcapture"
	"github.com/xkilldash9x/webpilot/internal/browser/surface"
)

// Command is one request from the external command channel.
type Command struct {
	ID   string         `json:"id"`
	Cmd  string         `json:"cmd"`
	Args map[string]any `json:"args,omitempty"`
}

// Response answers exactly one Command. Error carries a human readable
// diagnostic whenever Success is false.
type Response struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Surface is the content surface the facade drives. It is satisfied by
// *surface.Surface.
type Surface interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL() string
	GoBack(ctx context.Context) error
	GoForward(ctx context.Context) error
	Reload(ctx context.Context) error

	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Hover(ctx context.Context, selector string) error
	Scroll(ctx context.Context, opts surface.ScrollOptions) error
	SelectOption(ctx context.Context, selector string, by surface.SelectBy) error
	PressKey(ctx context.Context, key, selector string) error
	GetDOM(ctx context.Context, selector string) (string, error)
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	Wait(ctx context.Context, d time.Duration) error
	Screenshot(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, code string) (json.RawMessage, error)

	Annotate(ctx context.Context) (annotate.Result, error)
	AnnotatedElements() []annotate.Element
	ClickIndex(ctx context.Context, index int) error
	TypeIndex(ctx context.Context, index int, text string) error

	ConsoleLogs() []string
	ClearConsoleLogs()
	NetworkRequests() []netcapture.Exchange
	ClearNetworkRequests()

	SetDeviceMode(ctx context.Context, id string) error
	DeviceMode() string
	DevicePresets() []emulation.Preset
}

var _ Surface = (*surface.Surface)(nil)
