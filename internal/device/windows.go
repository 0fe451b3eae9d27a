//go:build windows

package device

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// IOCTL/FSCTL codes and flags driving raw physical-drive/volume access:
// allow-extended-DASD, lock, dismount, and unlock.
const (
	fsctlLockVolume       = 0x90018
	fsctlDismountVolume   = 0x90020
	fsctlUnlockVolume     = 0x9001c
	fileFlagWriteThrough  = 0x80000000
	ioctlAllowExtendedDASD = 0x90083 // FSCTL_ALLOW_EXTENDED_DASD_IO
)

// WinRaw wraps a Windows HANDLE as a Raw device.
type WinRaw struct {
	h windows.Handle
}

// Handle exposes the underlying HANDLE so callers can issue the
// lock/dismount/unlock IOCTLs that take a raw windows.Handle rather than
// a Raw reader/writer.
func (w *WinRaw) Handle() windows.Handle { return w.h }

func (w *WinRaw) ReadAt(p []byte, off int64) (int, error) {
	var ov windows.Overlapped
	ov.Offset = uint32(off)
	ov.OffsetHigh = uint32(off >> 32)
	var n uint32
	err := windows.ReadFile(w.h, p, &n, &ov)
	if err != nil {
		return int(n), fmt.Errorf("device: ReadFile at %d: %w", off, err)
	}
	return int(n), nil
}

func (w *WinRaw) WriteAt(p []byte, off int64) (int, error) {
	var ov windows.Overlapped
	ov.Offset = uint32(off)
	ov.OffsetHigh = uint32(off >> 32)
	var n uint32
	err := windows.WriteFile(w.h, p, &n, &ov)
	if err != nil {
		return int(n), fmt.Errorf("device: WriteFile at %d: %w", off, err)
	}
	return int(n), nil
}

func (w *WinRaw) Flush() error {
	return windows.FlushFileBuffers(w.h)
}

func (w *WinRaw) Close() error {
	return windows.CloseHandle(w.h)
}

// OpenSequence opens a device trying, in order: (a) shared read+write, no
// buffering; (b) exclusive, no buffering; (c) normal attributes. Each
// attempt's error is returned to the caller for logging; the caller
// sleeps 2s between attempts.
func OpenSequence(path string, attempt int) (Raw, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}
	var share uint32
	var flags uint32 = windows.FILE_FLAG_NO_BUFFERING
	switch attempt {
	case 0:
		share = windows.FILE_SHARE_READ | windows.FILE_SHARE_WRITE
	case 1:
		share = 0
	default:
		share = 0
		flags = windows.FILE_ATTRIBUTE_NORMAL
	}
	h, err := windows.CreateFile(p, windows.GENERIC_READ|windows.GENERIC_WRITE, share, nil, windows.OPEN_EXISTING, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("device: open %s (attempt %d): %w", path, attempt, err)
	}
	return &WinRaw{h: h}, nil
}

// OpenVolumeExclusive opens a drive-letter volume with the given share
// mode and optional WRITE_THROUGH. Nothing calls it at present: the
// helper's WRITE path opens drive-letter targets through OpenSequence
// like any other device, so they get neither exclusive access nor
// WRITE_THROUGH.
func OpenVolumeExclusive(path string, share uint32, writeThrough bool) (Raw, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}
	var flags uint32
	if writeThrough {
		flags = fileFlagWriteThrough
	}
	h, err := windows.CreateFile(p, windows.GENERIC_READ|windows.GENERIC_WRITE, share, nil, windows.OPEN_EXISTING, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("device: open volume %s: %w", path, err)
	}
	return &WinRaw{h: h}, nil
}

// LockAndDismount issues FSCTL_ALLOW_EXTENDED_DASD_IO, then
// FSCTL_LOCK_VOLUME, then FSCTL_DISMOUNT_VOLUME on a volume handle.
// Failures are warnings, not fatal.
func LockAndDismount(h windows.Handle) []string {
	var warnings []string
	var bytesReturned uint32
	if err := windows.DeviceIoControl(h, ioctlAllowExtendedDASD, nil, 0, nil, 0, &bytesReturned, nil); err != nil {
		warnings = append(warnings, fmt.Sprintf("allow extended DASD I/O: %v", err))
	}
	if err := windows.DeviceIoControl(h, fsctlLockVolume, nil, 0, nil, 0, &bytesReturned, nil); err != nil {
		warnings = append(warnings, fmt.Sprintf("lock volume: %v (retrying once)", err))
		if err2 := windows.DeviceIoControl(h, fsctlLockVolume, nil, 0, nil, 0, &bytesReturned, nil); err2 != nil {
			warnings = append(warnings, fmt.Sprintf("lock volume retry: %v", err2))
		}
	}
	if err := windows.DeviceIoControl(h, fsctlDismountVolume, nil, 0, nil, 0, &bytesReturned, nil); err != nil {
		warnings = append(warnings, fmt.Sprintf("dismount volume: %v", err))
	}
	return warnings
}

// Unlock issues FSCTL_UNLOCK_VOLUME on a best-effort basis.
func Unlock(h windows.Handle) error {
	var bytesReturned uint32
	return windows.DeviceIoControl(h, fsctlUnlockVolume, nil, 0, nil, 0, &bytesReturned, nil)
}

// SectorSize probes the physical sector size via GetDiskFreeSpaceW's
// lpBytesPerSector out-parameter, defaulting to 4096 on failure.
func SectorSize(root string) int {
	k32 := windows.NewLazySystemDLL("kernel32.dll")
	proc := k32.NewProc("GetDiskFreeSpaceW")
	p, err := windows.UTF16PtrFromString(root)
	if err != nil {
		return 4096
	}
	var sectorsPerCluster, bytesPerSector, freeClusters, totalClusters uint32
	r, _, _ := proc.Call(
		uintptr(unsafe.Pointer(p)),
		uintptr(unsafe.Pointer(&sectorsPerCluster)),
		uintptr(unsafe.Pointer(&bytesPerSector)),
		uintptr(unsafe.Pointer(&freeClusters)),
		uintptr(unsafe.Pointer(&totalClusters)),
	)
	if r == 0 || bytesPerSector == 0 {
		return 4096
	}
	return int(bytesPerSector)
}

// UsedDriveLetters returns every drive letter currently mounted (e.g.
// "C:", "D:"), queried via GetLogicalDrives' bitmask return value (bit 0
// is A:, bit 25 is Z:). FORMAT consults this to pick an unused letter
// for a physical-drive target, which has none of its own.
func UsedDriveLetters() []string {
	k32 := windows.NewLazySystemDLL("kernel32.dll")
	proc := k32.NewProc("GetLogicalDrives")
	r, _, _ := proc.Call()
	mask := uint32(r)

	var out []string
	for i := 0; i < 26; i++ {
		if mask&(1<<uint(i)) != 0 {
			out = append(out, string(rune('A'+i))+":")
		}
	}
	return out
}
