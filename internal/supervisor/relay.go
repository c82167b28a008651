package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// Relay copies r to sink one line at a time. Lines are forwarded verbatim,
// including their newline; a final unterminated line is forwarded as is.
// When r is exhausted (or can no longer be read) the liveness is cleared and
// the number of forwarded lines is returned.
//
// A failing sink does not stop the relay: the stream is still drained so the
// child never blocks on a full pipe, and the first write error is returned.
func Relay(r io.Reader, sink io.Writer, live *Liveness) (int, error) {
	defer live.Clear()

	br := bufio.NewReader(r)
	lines := 0
	var werr error
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			lines++
			if _, e := sink.Write(line); e != nil && werr == nil {
				werr = fmt.Errorf("write: %w", e)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return lines, werr
			}
			if werr == nil {
				werr = fmt.Errorf("read: %w", err)
			}
			return lines, werr
		}
	}
}
