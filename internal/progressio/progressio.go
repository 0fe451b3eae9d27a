// Package progressio implements the helper's progress emitter: a
// throttled writer of progress frames to the pipe that suppresses
// consecutive duplicates and treats flush failures as best-effort
// (logged, not fatal).
package progressio

import (
	"io"
	"log/slog"
	"time"

	"github.com/rpi-imager/helper/internal/protocol"
)

// Flusher is satisfied by connections that can be explicitly flushed
// (e.g. a buffered writer over a pipe).
type Flusher interface {
	Flush() error
}

// Reporter emits progress frames onto w. The frame write itself is a plain
// write to w; only the follow-up flush wait is bounded (500ms).
type Reporter struct {
	w      io.Writer
	logger *slog.Logger

	lastKey protocol.DuplicateKey
	hasLast bool
}

func New(w io.Writer, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{w: w, logger: logger}
}

// Emit writes one progress frame unless it is an exact (kind, now)
// duplicate of the previously sent frame. It attempts to flush afterward
// and waits up to 500ms for that flush to complete, logging (not
// failing) on timeout or error.
func (r *Reporter) Emit(kind protocol.Kind, now, total int64) error {
	key := protocol.KeyOf(kind, now)
	if r.hasLast && key == r.lastKey {
		return nil
	}
	r.lastKey = key
	r.hasLast = true

	if err := protocol.WriteProgress(r.w, kind, now, total); err != nil {
		return err
	}
	r.flushBestEffort()
	return nil
}

func (r *Reporter) flushBestEffort() {
	f, ok := r.w.(Flusher)
	if !ok {
		return
	}
	done := make(chan error, 1)
	go func() { done <- f.Flush() }()
	select {
	case err := <-done:
		if err != nil {
			r.logger.Warn("progress flush failed", "error", err)
		}
	case <-time.After(500 * time.Millisecond):
		r.logger.Warn("progress flush did not complete within 500ms")
	}
}
