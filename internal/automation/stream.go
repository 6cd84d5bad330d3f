package automation

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// maxLineBytes bounds a single command line. Longer lines are answered with
// an error and skipped.
var maxLineBytes = 8 << 20

type inbound struct {
	line    []byte
	tooLong bool
}

// Serve reads newline delimited JSON commands from r and writes one JSON
// response per line to w. Commands run one at a time in arrival order.
// It returns nil when r is exhausted and ctx.Err() when ctx ends first.
func (f *Facade) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	limit := maxLineBytes
	lines := make(chan inbound)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		br := bufio.NewReaderSize(r, 64*1024)
		for {
			line, tooLong, err := readLine(br, limit)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
				}
				return
			}
			line = bytes.TrimSpace(line)
			if len(line) == 0 && !tooLong {
				continue
			}
			select {
			case lines <- inbound{line: line, tooLong: tooLong}:
			case <-ctx.Done():
				return
			}
		}
	}()

	enc := codec.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return fmt.Errorf("reading commands: %w", err)
				default:
				}
				return nil
			}
			var resp Response
			if in.tooLong {
				f.logger.Warn("Command line too long, skipping.", zap.Int("limit", limit))
				resp = Response{ID: "unknown", Error: fmt.Sprintf("command exceeds %d bytes", limit)}
			} else {
				resp = f.handleLine(ctx, in.line)
			}
			if err := enc.Encode(resp); err != nil {
				return fmt.Errorf("writing response: %w", err)
			}
		}
	}
}

// readLine returns the next line without its terminator. A line longer than
// limit is consumed through its newline and reported as tooLong with no data.
// A final line without a newline is returned with a nil error.
func readLine(br *bufio.Reader, limit int) ([]byte, bool, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			line = append(line, chunk...)
			if len(bytes.TrimRight(line, "\r\n")) > limit {
				tooLong, line = true, nil
			}
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && (len(line) > 0 || tooLong):
			return bytes.TrimRight(line, "\r\n"), tooLong, nil
		case err != nil:
			return nil, false, err
		}
		return bytes.TrimRight(line, "\r\n"), tooLong, nil
	}
}

func (f *Facade) handleLine(ctx context.Context, line []byte) Response {
	var cmd Command
	if err := codec.Unmarshal(line, &cmd); err != nil {
		f.logger.Warn("Malformed command.", zap.ByteString("line", truncateBytes(line, 200)), zap.Error(err))
		return Response{ID: "unknown", Error: fmt.Sprintf("parse error: %v", err)}
	}
	return f.Dispatch(ctx, cmd)
}

func truncateBytes(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
