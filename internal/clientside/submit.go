package clientside

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rpi-imager/helper/internal/protocol"
)

// ProgressFunc receives each progress frame observed while a command is
// in flight; frames may arrive before the completion token but never
// after it.
type ProgressFunc func(protocol.Frame)

// ErrTimeout is returned by SubmitCommand when the operation exceeds its
// timeout. The client abandons the operation; the helper may continue
// running and is shut down on the next client exit.
var ErrTimeout = errors.New("clientside: operation timed out")

// inboxFrame tags a decoded frame with which wire shape produced it, so
// SubmitCommand's reader goroutine can hand both shapes through one
// channel without the consumer needing to guess.
type inboxFrame struct {
	isStatus bool
	status   string
	progress protocol.Frame
	err      error
}

// SubmitCommand writes a command string frame and then waits for either
// SUCCESS or FAILURE, invoking onProgress for every progress frame seen
// in between, honoring the connection's configured timeout. Cancellation
// is not supported: the call returns only on completion token, timeout,
// or a read/write error.
func (c *Connection) SubmitCommand(rw io.ReadWriter, command string, onProgress ProgressFunc) (success bool, err error) {
	if err := c.RequireConnectedForSubmit(); err != nil {
		return false, err
	}
	c.BeginOperation()

	if err := protocol.WriteString(rw, command); err != nil {
		c.OnSocketError(err)
		return false, fmt.Errorf("clientside: write command: %w", err)
	}

	inbox := make(chan inboxFrame, 16)
	stop := make(chan struct{})
	defer close(stop)
	go c.drainInbox(rw, inbox, stop)

	deadline := time.After(c.timeout)
	for {
		select {
		case f := <-inbox:
			if f.err != nil {
				c.OnSocketError(f.err)
				return false, fmt.Errorf("clientside: read reply: %w", f.err)
			}
			if !f.isStatus {
				if onProgress != nil {
					onProgress(f.progress)
				}
				continue
			}
			c.CompleteOperation()
			switch f.status {
			case protocol.TokenSuccess:
				return true, nil
			case protocol.TokenFailure:
				return false, nil
			default:
				c.OnSocketError(fmt.Errorf("unexpected status token %q", f.status))
				return false, fmt.Errorf("clientside: unexpected status token %q", f.status)
			}
		case <-deadline:
			return false, ErrTimeout
		}
	}
}

// drainInbox reads frames off rw and pushes them to inbox until told to
// stop or a read error occurs. It distinguishes progress frames (which
// always decode to exactly 20 bytes and start with a recognizable small
// kind value) from string status frames using the same framing rules the
// helper uses to send them: a status frame is always one of the two fixed
// tokens, so the reader first tries the progress shape and falls back to
// string.
func (c *Connection) drainInbox(r io.Reader, inbox chan<- inboxFrame, stop <-chan struct{}) {
	fr := protocol.NewFrameReader()
	chunk := make([]byte, 4096)
	for {
		select {
		case <-stop:
			return
		default:
		}
		for {
			if pf, ok, _ := tryDecodeProgress(fr); ok {
				inbox <- inboxFrame{isStatus: false, progress: pf}
				continue
			}
			if sf, ok, derr := fr.TryDecode(protocol.ShapeString); ok {
				inbox <- inboxFrame{isStatus: true, status: sf.String}
				continue
			} else if derr != nil {
				inbox <- inboxFrame{err: derr}
				return
			}
			break
		}
		n, err := r.Read(chunk)
		if n > 0 {
			fr.Feed(chunk[:n])
		}
		if err != nil {
			inbox <- inboxFrame{err: err}
			return
		}
	}
}

// tryDecodeProgress tries to decode the buffered bytes as a progress
// frame. Fewer than 20 buffered bytes (e.g. an 18-byte SUCCESS/FAILURE
// frame) are left untouched. A successful decode consumes 20 bytes before
// the kind is checked, so a kind outside {1,2,3} is reported as an error
// rather than rolled back.
func tryDecodeProgress(fr *protocol.FrameReader) (protocol.Frame, bool, error) {
	f, ok, err := fr.TryDecode(protocol.ShapeProgress)
	if !ok || err != nil {
		return protocol.Frame{}, false, err
	}
	switch f.Kind {
	case protocol.KindDownload, protocol.KindVerify, protocol.KindWrite:
		return f, true, nil
	default:
		return protocol.Frame{}, false, fmt.Errorf("clientside: implausible progress kind %d", f.Kind)
	}
}
