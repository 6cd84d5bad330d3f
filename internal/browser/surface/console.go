package surface

import (
	"strings"
	"sync"

	"github.com/chromedp/cdproto/runtime"
	json "github.com/json-iterator/go"
)

const defaultConsoleCapacity = 100

// consoleBuffer keeps the most recent console lines, oldest first.
type consoleBuffer struct {
	mu    sync.Mutex
	lines []string
	head  int
	size  int
}

func newConsoleBuffer(capacity int) *consoleBuffer {
	if capacity <= 0 {
		capacity = defaultConsoleCapacity
	}
	return &consoleBuffer{lines: make([]string, capacity)}
}

func (b *consoleBuffer) Add(level, msg string) {
	line := "[" + level + "] " + msg

	b.mu.Lock()
	defer b.mu.Unlock()
	c := len(b.lines)
	if b.size < c {
		b.lines[(b.head+b.size)%c] = line
		b.size++
		return
	}
	b.lines[b.head] = line
	b.head = (b.head + 1) % c
}

func (b *consoleBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, b.size)
	for i := range out {
		out[i] = b.lines[(b.head+i)%len(b.lines)]
	}
	return out
}

func (b *consoleBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.lines)
	b.head, b.size = 0, 0
}

// consoleLevel maps console API call types onto the four buffer levels.
func consoleLevel(t runtime.APIType) string {
	switch t {
	case runtime.APITypeDebug, runtime.APITypeTrace:
		return "verbose"
	case runtime.APITypeWarning:
		return "warning"
	case runtime.APITypeError, runtime.APITypeAssert:
		return "error"
	default:
		return "info"
	}
}

// consoleText renders console arguments the way devtools prints them on one line.
func consoleText(args []*runtime.RemoteObject) string {
	var b strings.Builder
	for i, arg := range args {
		if i > 0 {
			b.WriteByte(' ')
		}
		if arg == nil {
			continue
		}
		var v any
		switch {
		case len(arg.Value) > 0 && json.Unmarshal([]byte(arg.Value), &v) == nil:
			if s, ok := v.(string); ok {
				b.WriteString(s)
			} else {
				b.Write(arg.Value)
			}
		case arg.UnserializableValue != "":
			b.WriteString(string(arg.UnserializableValue))
		case arg.Description != "":
			b.WriteString(arg.Description)
		default:
			b.WriteString("[" + string(arg.Type) + "]")
		}
	}
	return b.String()
}
