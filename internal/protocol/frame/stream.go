package frame

import (
	"bufio"
	"io"
	"sync"
	"sync/atomic"
)

type Statistics struct {
	ReadCount    int64
	ReadBytes    int64
	WrittenCount int64
	WrittenBytes int64
}

// Stream carries frames over a byte stream pair, normally the plugin's stdin
// and stdout.
//
// Read is meant for a single reader goroutine. Write may be called
// concurrently; each frame is written and flushed under a lock.
type Stream struct {
	r      *bufio.Reader
	wmu    sync.Mutex
	w      *bufio.Writer
	limits Limits
	dump   *Dump

	readCount    atomic.Int64
	readBytes    atomic.Int64
	writtenCount atomic.Int64
	writtenBytes atomic.Int64
}

// NewStream wraps r and w. dump may be nil.
func NewStream(r io.Reader, w io.Writer, limits Limits, dump *Dump) *Stream {
	return &Stream{
		r:      bufio.NewReader(r),
		w:      bufio.NewWriter(w),
		limits: limits,
		dump:   dump,
	}
}

func (s *Stream) Read() ([]byte, error) {
	payload, err := ReadFrame(s.r, s.limits)
	if err != nil {
		return nil, err
	}
	s.readCount.Add(1)
	s.readBytes.Add(int64(len(payload)))
	s.dump.Record(Read, payload)
	return payload, nil
}

func (s *Stream) Write(payload []byte) error {
	s.wmu.Lock()
	err := WriteFrame(s.w, payload, s.limits)
	s.wmu.Unlock()
	if err != nil {
		return err
	}
	s.writtenCount.Add(1)
	s.writtenBytes.Add(int64(len(payload)))
	s.dump.Record(Write, payload)
	return nil
}

func (s *Stream) Limits() Limits {
	return s.limits
}

func (s *Stream) Statistics() Statistics {
	return Statistics{
		ReadCount:    s.readCount.Load(),
		ReadBytes:    s.readBytes.Load(),
		WrittenCount: s.writtenCount.Load(),
		WrittenBytes: s.writtenBytes.Load(),
	}
}
