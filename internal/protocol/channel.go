package protocol

import (
	"fmt"
	"io"
)

// Shape tells a FrameReader which wire shape to expect for the next frame.
// The two frame shapes are not self-describing (both begin with a 4-byte
// big-endian integer), so the caller — who knows the protocol state —
// must say what it is waiting for.
type Shape int

const (
	ShapeString Shape = iota
	ShapeProgress
)

// FrameReader buffers bytes read from a connection and only consumes them
// once a full frame can be decoded. A read that does not complete a frame
// leaves the buffer exactly as it was (speculative decode with rollback) —
// the channel never drops unparsed bytes.
type FrameReader struct {
	buf []byte
}

func NewFrameReader() *FrameReader { return &FrameReader{} }

// Feed appends newly-read bytes to the internal buffer.
func (r *FrameReader) Feed(b []byte) {
	r.buf = append(r.buf, b...)
}

// TryDecode attempts to pull one frame of the given shape off the front of
// the buffer. It returns (frame, true, nil) if a full frame was available,
// (zero, false, nil) if more bytes are needed, or a non-nil error if the
// buffered prefix can never decode (ErrUndecodable) — callers must treat
// that as a protocol error and move their state machine to Error.
func (r *FrameReader) TryDecode(shape Shape) (Frame, bool, error) {
	switch shape {
	case ShapeString:
		s, n, err := DecodeString(r.buf)
		if err == ErrIncomplete {
			return Frame{}, false, nil
		}
		if err != nil {
			return Frame{}, false, err
		}
		r.buf = r.buf[n:]
		return StringFrame(s), true, nil
	case ShapeProgress:
		f, n, err := DecodeProgress(r.buf)
		if err == ErrIncomplete {
			return Frame{}, false, nil
		}
		if err != nil {
			return Frame{}, false, err
		}
		r.buf = r.buf[n:]
		return f, true, nil
	default:
		return Frame{}, false, fmt.Errorf("protocol: unknown shape %d", shape)
	}
}

// Pending reports how many undecoded bytes remain buffered.
func (r *FrameReader) Pending() int { return len(r.buf) }

// ReadStringBlocking reads exactly one string frame from r, blocking until
// it is fully available. Used by callers that genuinely want synchronous
// semantics (e.g. the client's synchronous handshake in §4.3) layered on
// top of the same non-dropping framing rules. It reads one byte at a time
// so no byte past the end of the frame is taken from r.
func ReadStringBlocking(r io.Reader) (string, error) {
	fr := NewFrameReader()
	chunk := make([]byte, 1)
	for {
		if f, ok, err := fr.TryDecode(ShapeString); err != nil {
			return "", err
		} else if ok {
			return f.String, nil
		}
		n, err := r.Read(chunk)
		if n > 0 {
			fr.Feed(chunk[:n])
		}
		if err != nil {
			if n == 0 {
				return "", fmt.Errorf("protocol: read string frame: %w", err)
			}
		}
	}
}

// WriteString writes one string frame to w.
func WriteString(w io.Writer, s string) error {
	b, err := EncodeString(s)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// WriteProgress writes one progress frame to w.
func WriteProgress(w io.Writer, kind Kind, now, total int64) error {
	_, err := w.Write(EncodeProgress(kind, now, total))
	return err
}
