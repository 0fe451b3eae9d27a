// Package rawwrite implements the raw disk writer: volume locking,
// aligned streaming writes with the source's partition table (MBR)
// written last, flush, unlock, and partition rescan.
package rawwrite

import (
	"crypto/sha256"
	"hash"
	"log/slog"

	"github.com/rpi-imager/helper/internal/device"
)

// Job tracks one WRITE command's progress.
type Job struct {
	DevicePath  string
	SourcePath  string
	BytesTotal  int64
	BytesWritten int64

	RollingHash hash.Hash
	MBRBlock    []byte
	DriveNumber int

	Target device.Target
	Logger *slog.Logger
}

func newJob(devicePath, sourcePath string, logger *slog.Logger) *Job {
	return &Job{
		DevicePath:  devicePath,
		SourcePath:  sourcePath,
		RollingHash: sha256.New(),
		Target:      device.ParseTarget(devicePath),
		Logger:      logger,
	}
}

// SourceHash returns the digest of everything hashed so far, without
// finalizing the underlying hash.Hash (callers may keep accumulating).
func (j *Job) SourceHash() []byte {
	return j.RollingHash.Sum(nil)
}
