//go:build !windows

package main

import (
	"fmt"
	"log/slog"

	"github.com/rpi-imager/helper/internal/device"
)

// newPlatformHooks on non-Windows build hosts returns hooks whose
// openDevice always fails, since raw-disk access requires Windows; the
// other hooks are no-ops.
func newPlatformHooks(logger *slog.Logger) platformHooks {
	return platformHooks{
		prepare: func(t device.Target) ([]string, error) { return nil, nil },
		openDevice: func(t device.Target) (device.Raw, error) {
			return nil, fmt.Errorf("open device: raw disk access requires Windows (path=%s)", t.Path)
		},
		sectorSize:    func(t device.Target) int { return 4096 },
		controlIOCTLs: func(d device.Raw) []string { return nil },
		bringOnline:   func(t device.Target) []string { return nil },
		unlockFallback: func(t device.Target) {
			logger.Debug("unlock fallback skipped: not running on Windows")
		},
	}
}
