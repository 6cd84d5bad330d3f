package automation

import (
	"context"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/webpilot/internal/browser/annotate"
	"github.com/xkilldash9x/webpilot/internal/browser/emulation"
	"github.com/xkilldash9x/webpilot/internal/browser/netcapture"
	"github.com/xkilldash9x/webpilot/internal/browser/surface"
)

type mockSurface struct {
	mock.Mock
}

var _ Surface = (*mockSurface)(nil)

func (m *mockSurface) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *mockSurface) CurrentURL() string { return m.Called().String(0) }

func (m *mockSurface) GoBack(ctx context.Context) error    { return m.Called(ctx).Error(0) }
func (m *mockSurface) GoForward(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockSurface) Reload(ctx context.Context) error    { return m.Called(ctx).Error(0) }

func (m *mockSurface) Click(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}

func (m *mockSurface) Type(ctx context.Context, selector, text string) error {
	return m.Called(ctx, selector, text).Error(0)
}

func (m *mockSurface) Hover(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}

func (m *mockSurface) Scroll(ctx context.Context, opts surface.ScrollOptions) error {
	return m.Called(ctx, opts).Error(0)
}

func (m *mockSurface) SelectOption(ctx context.Context, selector string, by surface.SelectBy) error {
	return m.Called(ctx, selector, by).Error(0)
}

func (m *mockSurface) PressKey(ctx context.Context, key, selector string) error {
	return m.Called(ctx, key, selector).Error(0)
}

func (m *mockSurface) GetDOM(ctx context.Context, selector string) (string, error) {
	args := m.Called(ctx, selector)
	return args.String(0), args.Error(1)
}

func (m *mockSurface) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	return m.Called(ctx, selector, timeout).Error(0)
}

func (m *mockSurface) Wait(ctx context.Context, d time.Duration) error {
	return m.Called(ctx, d).Error(0)
}

func (m *mockSurface) Screenshot(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockSurface) Evaluate(ctx context.Context, code string) (json.RawMessage, error) {
	args := m.Called(ctx, code)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

func (m *mockSurface) Annotate(ctx context.Context) (annotate.Result, error) {
	args := m.Called(ctx)
	return args.Get(0).(annotate.Result), args.Error(1)
}

func (m *mockSurface) AnnotatedElements() []annotate.Element {
	els, _ := m.Called().Get(0).([]annotate.Element)
	return els
}

func (m *mockSurface) ClickIndex(ctx context.Context, index int) error {
	return m.Called(ctx, index).Error(0)
}

func (m *mockSurface) TypeIndex(ctx context.Context, index int, text string) error {
	return m.Called(ctx, index, text).Error(0)
}

func (m *mockSurface) ConsoleLogs() []string {
	lines, _ := m.Called().Get(0).([]string)
	return lines
}

func (m *mockSurface) ClearConsoleLogs() { m.Called() }

func (m *mockSurface) NetworkRequests() []netcapture.Exchange {
	ex, _ := m.Called().Get(0).([]netcapture.Exchange)
	return ex
}

func (m *mockSurface) ClearNetworkRequests() { m.Called() }

func (m *mockSurface) SetDeviceMode(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockSurface) DeviceMode() string { return m.Called().String(0) }

func (m *mockSurface) DevicePresets() []emulation.Preset {
	p, _ := m.Called().Get(0).([]emulation.Preset)
	return p
}
