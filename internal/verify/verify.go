// Package verify implements VERIFY: it re-reads the device in source
// order (offset 0..512, then 512..total) so the digest is comparable
// with the writer's source-order hash regardless of the MBR-last write
// order, and a mismatch means the device content differs.
package verify

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/rpi-imager/helper/internal/device"
	"github.com/rpi-imager/helper/internal/protocol"
)

const chunkSize = 10 << 20 // 10 MiB

// Options wires progress emission.
type Options struct {
	OnProgress func(protocol.Frame)
	ChunkSize  int64
}

func (o Options) chunkSize() int64 {
	if o.ChunkSize > 0 {
		return o.ChunkSize
	}
	return chunkSize
}

// Digest re-reads the first total bytes of dev in source order and
// returns the resulting SHA-256 digest. total is the source's byte count
// (bytes_total from the write job). With an MBR held back (mbrOffset=512)
// the read is split into 0..mbrOffset and mbrOffset..total; for the
// short-source sequential-fallback case (mbrOffset=0) it is one range.
func Digest(dev io.ReaderAt, total int64, mbrOffset int64, opts Options) ([]byte, error) {
	h := sha256.New()
	reported := newDupFilter(opts.OnProgress)

	reported.emit(protocol.KindVerify, 0, total)

	var read int64
	if mbrOffset > 0 {
		// offset 0 .. 512
		if err := copyRange(dev, h, 0, mbrOffset, opts.chunkSize(), &read, total, reported); err != nil {
			return nil, fmt.Errorf("verify: reading mbr range: %w", err)
		}
		// offset 512 .. bytes_total
		if err := copyRange(dev, h, mbrOffset, total-mbrOffset, opts.chunkSize(), &read, total, reported); err != nil {
			return nil, fmt.Errorf("verify: reading body range: %w", err)
		}
	} else {
		if err := copyRange(dev, h, 0, total, opts.chunkSize(), &read, total, reported); err != nil {
			return nil, fmt.Errorf("verify: reading sequential range: %w", err)
		}
	}

	reported.emit(protocol.KindVerify, total, total)
	return h.Sum(nil), nil
}

func copyRange(dev io.ReaderAt, h io.Writer, start, length, chunk int64, read *int64, total int64, reported *dupFilter) error {
	buf := make([]byte, chunk)
	remaining := length
	off := start
	for remaining > 0 {
		n := chunk
		if n > remaining {
			n = remaining
		}
		got, err := dev.ReadAt(buf[:n], off)
		if got > 0 {
			h.Write(buf[:got])
			*read += int64(got)
			reported.emit(protocol.KindVerify, *read, total)
		}
		if err != nil && err != io.EOF {
			return err
		}
		if int64(got) < n {
			return fmt.Errorf("short read at offset %d: got %d want %d", off, got, n)
		}
		off += int64(got)
		remaining -= int64(got)
	}
	return nil
}

// Equal reports whether two digests match byte for byte.
func Equal(a, b []byte) bool { return bytes.Equal(a, b) }

type dupFilter struct {
	onProgress func(protocol.Frame)
	lastKey    protocol.DuplicateKey
	has        bool
}

func newDupFilter(f func(protocol.Frame)) *dupFilter { return &dupFilter{onProgress: f} }

func (d *dupFilter) emit(kind protocol.Kind, now, total int64) {
	if d.onProgress == nil {
		return
	}
	key := protocol.KeyOf(kind, now)
	if d.has && key == d.lastKey {
		return
	}
	d.lastKey = key
	d.has = true
	d.onProgress(protocol.ProgressFrame(kind, now, total))
}

// VerifyJob is the inputs the dispatcher hands to Digest: the device to
// re-read, the bytes_total recorded at write time, and whether an MBR was
// held back (mbrOffset=512) or the sequential fallback was used
// (mbrOffset=0).
type VerifyJob struct {
	Device     device.Raw
	Total      int64
	MBROffset  int64
	SourceHash []byte // the writer's stored source_hash
}

// Run performs VERIFY end to end: re-read, compute the digest, and compare
// against the writer's stored hash. If expectedHash is non-empty it is
// also compared: both must match for success.
func Run(job VerifyJob, expectedHash []byte, opts Options) (bool, []byte, error) {
	got, err := Digest(job.Device, job.Total, job.MBROffset, opts)
	if err != nil {
		return false, nil, err
	}
	if !Equal(got, job.SourceHash) {
		return false, got, nil
	}
	if len(expectedHash) > 0 && !Equal(got, expectedHash) {
		return false, got, nil
	}
	return true, got, nil
}
