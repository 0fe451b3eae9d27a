package main

import "github.com/rpi-imager/helper/internal/device"

// platformHooks wires the OS-specific steps of a raw write/format into
// the platform-independent internal/rawwrite.Options, built per-GOOS in
// platform_windows.go/platform_stub.go.
type platformHooks struct {
	prepare        func(device.Target) ([]string, error)
	openDevice     func(device.Target) (device.Raw, error)
	sectorSize     func(device.Target) int
	controlIOCTLs  func(device.Raw) []string
	bringOnline    func(device.Target) []string
	unlockFallback func(device.Target)
}
