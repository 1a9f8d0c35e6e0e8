package runner

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
)

// capture keeps up to limit bytes of a stream and logs every complete line.
type capture struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool

	logger  *slog.Logger
	stream  string
	pending []byte
}

func newCapture(limit int64, logger *slog.Logger, stream string) *capture {
	return &capture{limit: int(limit), logger: logger, stream: stream}
}

func (c *capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
			c.truncated = true
		} else {
			c.buf.Write(p)
		}
	} else if len(p) > 0 {
		c.truncated = true
	}

	c.pending = append(c.pending, p...)
	for {
		i := bytes.IndexByte(c.pending, '\n')
		if i < 0 {
			break
		}
		c.logPieces(c.pending[:i])
		c.pending = c.pending[i+1:]
	}
	// An unterminated line is logged as soon as it reaches the bound.
	for len(c.pending) >= maxLineBytes {
		c.logLine(c.pending[:maxLineBytes])
		c.pending = c.pending[maxLineBytes:]
	}
	return len(p), nil
}

// flush logs a trailing line that had no newline.
func (c *capture) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) > 0 {
		c.logPieces(c.pending)
		c.pending = nil
	}
}

// logPieces logs line in chunks of at most maxLineBytes.
func (c *capture) logPieces(line []byte) {
	for len(line) > maxLineBytes {
		c.logLine(line[:maxLineBytes])
		line = line[maxLineBytes:]
	}
	c.logLine(line)
}

func (c *capture) logLine(line []byte) {
	text := strings.TrimRight(string(line), "\r")
	if text == "" {
		return
	}
	c.logger.Info("test output", "stream", c.stream, "line", text)
}

func (c *capture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func (c *capture) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncated
}
