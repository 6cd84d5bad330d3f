package automation

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func decodeResponses(t *testing.T, out string) []Response {
	t.Helper()
	var resps []Response
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var r Response
		require.NoError(t, codec.UnmarshalFromString(line, &r))
		resps = append(resps, r)
	}
	return resps
}

func TestServe_OneResponsePerLine(t *testing.T) {
	f, s := newFacade(t)
	s.On("CurrentURL").Return("https://example.com")
	s.On("Click", mock.Anything, "#go").Return(nil)

	in := strings.Join([]string{
		`{"id":"a","cmd":"getCurrentURL"}`,
		``,
		`{"id":"b","cmd":"click","args":{"selector":"#go"}}`,
		`not json`,
		`{"id":"c","cmd":"fly"}`,
	}, "\n")
	var out bytes.Buffer

	require.NoError(t, f.Serve(context.Background(), strings.NewReader(in), &out))

	got := decodeResponses(t, out.String())
	want := []Response{
		{ID: "a", Success: true, Data: "https://example.com"},
		{ID: "b", Success: true, Data: "Clicked"},
		{ID: "unknown"},
		{ID: "c", Error: "unknown command: fly"},
	}
	require.Len(t, got, len(want))
	got[2].Error = ""
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("responses mismatch (-want +got):\n%s", diff)
	}
}

func TestServe_ParseErrorIsReported(t *testing.T) {
	f, _ := newFacade(t)
	var out bytes.Buffer

	require.NoError(t, f.Serve(context.Background(), strings.NewReader("{\"id\":"), &out))

	got := decodeResponses(t, out.String())
	require.Len(t, got, 1)
	assert.Equal(t, "unknown", got[0].ID)
	assert.Contains(t, got[0].Error, "parse error")
}

func TestServe_OverlongLineIsSkipped(t *testing.T) {
	orig := maxLineBytes
	maxLineBytes = 64
	t.Cleanup(func() { maxLineBytes = orig })

	f, s := newFacade(t)
	s.On("CurrentURL").Return("https://example.com")

	in := strings.Join([]string{
		`{"id":"big","cmd":"type","args":{"text":"` + strings.Repeat("x", 200<<10) + `"}}`,
		`{"id":"a","cmd":"getCurrentURL"}`,
		strings.Repeat(" ", 10) + `{"id":"b","cmd":"getCurrentURL"}`,
	}, "\r\n")
	var out bytes.Buffer

	require.NoError(t, f.Serve(context.Background(), strings.NewReader(in), &out))

	want := []Response{
		{ID: "unknown", Error: "command exceeds 64 bytes"},
		{ID: "a", Success: true, Data: "https://example.com"},
		{ID: "b", Success: true, Data: "https://example.com"},
	}
	if diff := cmp.Diff(want, decodeResponses(t, out.String())); diff != "" {
		t.Errorf("responses mismatch (-want +got):\n%s", diff)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	f, _ := newFacade(t)
	r, w := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.Serve(ctx, r, io.Discard) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("serve did not stop")
	}
	// Unblocks the reader goroutine.
	require.NoError(t, w.Close())
}
