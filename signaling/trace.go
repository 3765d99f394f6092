package signaling

import (
	"bytes"
	"sync"

	"github.com/smallnest/ringbuffer"
)

const (
	traceIn  = '<'
	traceOut = '>'
)

// frameTrace keeps the most recent frames in a fixed-size ring, one line per
// frame. Older lines are evicted whole.
type frameTrace struct {
	mu   sync.Mutex
	size int
	rb   *ringbuffer.RingBuffer
}

func newFrameTrace(size int) *frameTrace {
	if size <= 0 {
		return nil
	}
	return &frameTrace{
		size: size,
		rb:   ringbuffer.New(size),
	}
}

func (t *frameTrace) record(dir byte, data []byte) {
	if t == nil {
		return
	}

	line := make([]byte, 0, len(data)+3)
	line = append(line, dir, ' ')
	line = append(line, bytes.TrimSpace(data)...)
	line = append(line, '\n')
	if len(line) > t.size {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rb.Free() < len(line) {
		kept := t.drainLocked()
		for len(kept) > 0 && t.size-len(kept) < len(line) {
			i := bytes.IndexByte(kept, '\n')
			if i < 0 {
				kept = nil
				break
			}
			kept = kept[i+1:]
		}
		_, _ = t.rb.Write(kept)
	}
	_, _ = t.rb.Write(line)
}

// drainLocked empties the ring and returns its content.
func (t *frameTrace) drainLocked() []byte {
	n := t.rb.Length()
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	_, _ = t.rb.Read(buf)
	t.rb.Reset()
	return buf
}

func (t *frameTrace) lines() []string {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	buf := t.drainLocked()
	_, _ = t.rb.Write(buf)
	t.mu.Unlock()

	var out []string
	for _, l := range bytes.Split(bytes.TrimSuffix(buf, []byte{'\n'}), []byte{'\n'}) {
		if len(l) > 0 {
			out = append(out, string(l))
		}
	}
	return out
}

// Trace returns the most recent frames exchanged with the server, oldest
// first. Outgoing frames are prefixed with ">" and incoming ones with "<".
// Outgoing requests are recorded as id and method only, never their params.
func (c *Client) Trace() []string {
	return c.trace.lines()
}
