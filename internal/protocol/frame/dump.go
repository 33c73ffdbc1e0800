package frame

import (
	"fmt"
	"io"
	"sync"
)

type Direction byte

const (
	Read  Direction = 'R'
	Write Direction = 'W'
)

func (d Direction) String() string {
	switch d {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "unknown"
	}
}

// Dump is a best-effort diagnostic sink that records every frame payload.
//
// The dump format is:
//
//	R|W:PayloadSize\nPayload\n\n
//
// Write errors are ignored. Records after Close are dropped.
type Dump struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool

	// Filter can be nil. If nil, dump all frames.
	Filter func(dir Direction, payload []byte) bool
}

func NewDump(w io.Writer) *Dump {
	return &Dump{w: w}
}

func (d *Dump) Record(dir Direction, payload []byte) {
	if d == nil {
		return
	}
	if d.Filter != nil && !d.Filter(dir, payload) {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.w == nil {
		return
	}
	fmt.Fprintf(d.w, "%c:%d\n", byte(dir), len(payload))
	d.w.Write(payload)
	io.WriteString(d.w, "\n\n")
}

// Close marks the dump closed and closes the underlying writer when it is an
// io.Closer. Only the first call closes.
func (d *Dump) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if c, ok := d.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
