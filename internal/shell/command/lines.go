package command

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// lineWriter splits a byte stream into lines for a callback. Writers that
// share mu never interleave callbacks.
type lineWriter struct {
	mu  *sync.Mutex
	fn  func(string)
	buf bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	if w.fn == nil {
		return len(p), nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Incomplete line; keep it for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.fn(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

// Flush emits a trailing partial line.
func (w *lineWriter) Flush() {
	if w.fn == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.fn(strings.TrimRight(w.buf.String(), "\r"))
		w.buf.Reset()
	}
}

func multiWriter(buf io.Writer, lines *lineWriter) io.Writer {
	if lines.fn == nil {
		return buf
	}
	return io.MultiWriter(buf, lines)
}
