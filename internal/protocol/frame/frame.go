package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
)

const Delimiter byte = ':'

var (
	ErrNoFrame         = errors.New("frame: no length delimiter within header cap")
	ErrInvalidLength   = errors.New("frame: invalid length prefix")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrTruncated       = errors.New("frame: stream ended inside frame")
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxLengthDigits int
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxLengthDigits: 20,
		MaxPayloadBytes: 32 * 1024 * 1024,
	}
}

// ReadFrame reads one "<len>:<payload>" frame.
//
// io.EOF is returned only when the stream ends before any header byte. The
// header may hold up to MaxLengthDigits bytes before the delimiter; when the
// next byte is still not a delimiter the consumed bytes are discarded and
// ErrNoFrame is returned. The stream stays usable.
func ReadFrame(r *bufio.Reader, limits Limits) ([]byte, error) {
	if err := skipSpace(r); err != nil {
		return nil, err
	}

	hdr := make([]byte, 0, limits.MaxLengthDigits)
	for {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: header %q", ErrTruncated, hdr)
			}
			return nil, err
		}
		if b == Delimiter {
			break
		}
		if len(hdr) >= limits.MaxLengthDigits {
			return nil, fmt.Errorf("%w: %q", ErrNoFrame, append(hdr, b))
		}
		hdr = append(hdr, b)
	}

	n, err := strconv.ParseUint(string(hdr), 10, 63)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLength, hdr)
	}
	if n > uint64(limits.MaxPayloadBytes) {
		return nil, fmt.Errorf("%w: %d", ErrPayloadTooLarge, n)
	}

	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: want %d bytes", ErrTruncated, n)
			}
			return nil, err
		}
	}
	return payload, nil
}

// WriteFrame writes one frame and flushes w when it buffers.
func WriteFrame(w io.Writer, payload []byte, limits Limits) error {
	if len(payload) > limits.MaxPayloadBytes {
		return fmt.Errorf("%w: %d", ErrPayloadTooLarge, len(payload))
	}
	hdr := strconv.AppendInt(make([]byte, 0, 24), int64(len(payload)), 10)
	hdr = append(hdr, Delimiter)
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	if f, ok := w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// skipSpace drops whitespace between frames, e.g. a newline after a frame
// pasted by hand into a terminal.
func skipSpace(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return r.UnreadByte()
	}
}
