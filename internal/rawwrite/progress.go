package rawwrite

import "github.com/rpi-imager/helper/internal/protocol"

// progressReporter applies the duplicate-suppression rule (a frame with
// identical (kind, now) to the most recent send is not transmitted) to
// the raw writer's own progress callback, independent of
// internal/progressio's wire-level reporter (which applies the same rule
// again on the helper's outbound channel — suppressing twice is harmless
// and keeps this package usable standalone).
type progressReporter struct {
	onProgress func(protocol.Frame)
	lastKey    protocol.DuplicateKey
	hasLast    bool
}

func newProgressReporter(onProgress func(protocol.Frame)) *progressReporter {
	return &progressReporter{onProgress: onProgress}
}

func (r *progressReporter) emit(kind protocol.Kind, now, total int64) {
	if r.onProgress == nil {
		return
	}
	key := protocol.KeyOf(kind, now)
	if r.hasLast && key == r.lastKey {
		return
	}
	r.lastKey = key
	r.hasLast = true
	r.onProgress(protocol.ProgressFrame(kind, now, total))
}
