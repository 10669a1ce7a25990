package runner

import (
	"bytes"
	"sync"
)

// captureBuffer collects a command's combined stdout/stderr. Both
// streams are wired to the same captureBuffer, and os/exec reads them
// on separate goroutines when they're distinct io.Writers pointing at
// shared state, so writes need a lock.
type captureBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func newCaptureBuffer() *captureBuffer {
	return &captureBuffer{}
}

func (c *captureBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *captureBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}
