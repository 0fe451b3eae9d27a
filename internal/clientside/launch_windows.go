//go:build windows

package clientside

import (
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	seeMaskNoCloseProcess = 0x00000040
	swHide                = 0
)

var (
	modshell32          = windows.NewLazySystemDLL("shell32.dll")
	procShellExecuteExW = modshell32.NewProc("ShellExecuteExW")
)

// shellExecuteInfo mirrors SHELLEXECUTEINFOW's layout on amd64: Go's
// natural field alignment matches the C struct's for these field sizes.
type shellExecuteInfo struct {
	cbSize         uint32
	fMask          uint32
	hwnd           uintptr
	lpVerb         *uint16
	lpFile         *uint16
	lpParameters   *uint16
	lpDirectory    *uint16
	nShow          int32
	hInstApp       uintptr
	lpIDList       uintptr
	lpClass        *uint16
	hkeyClass      uintptr
	dwHotKey       uint32
	hIconOrMonitor uintptr
	hProcess       uintptr
}

// windowsProcessHandle adapts a raw process HANDLE to ProcessHandle.
type windowsProcessHandle struct {
	h windows.Handle
}

func (p *windowsProcessHandle) Wait() error {
	_, err := windows.WaitForSingleObject(p.h, windows.INFINITE)
	if err != nil {
		return err
	}
	var code uint32
	if err := windows.GetExitCodeProcess(p.h, &code); err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("clientside: helper exited with code %d", code)
	}
	return nil
}

func (p *windowsProcessHandle) Kill() error {
	return windows.TerminateProcess(p.h, 1)
}

// LaunchElevatedHelper spawns helperPath elevated via ShellExecuteEx's
// "runas" verb, classifying the failure outcomes the UAC prompt can
// report distinctly.
func LaunchElevatedHelper(helperPath string, args []string) (ProcessHandle, error) {
	verb, err := windows.UTF16PtrFromString("runas")
	if err != nil {
		return nil, err
	}
	file, err := windows.UTF16PtrFromString(helperPath)
	if err != nil {
		return nil, err
	}
	params, err := windows.UTF16PtrFromString(quoteArgs(args))
	if err != nil {
		return nil, err
	}

	info := shellExecuteInfo{
		fMask:        seeMaskNoCloseProcess,
		lpVerb:       verb,
		lpFile:       file,
		lpParameters: params,
		nShow:        swHide,
	}
	info.cbSize = uint32(unsafe.Sizeof(info))

	r, _, callErr := procShellExecuteExW.Call(uintptr(unsafe.Pointer(&info)))
	if r == 0 {
		return nil, classifyLaunchError(callErr)
	}
	return &windowsProcessHandle{h: windows.Handle(info.hProcess)}, nil
}

func classifyLaunchError(err error) error {
	switch err {
	case windows.ERROR_CANCELLED:
		return &ElevationError{Kind: ElevationCancelled, Err: err}
	case windows.ERROR_FILE_NOT_FOUND:
		return &ElevationError{Kind: ElevationFileNotFound, Err: err}
	case windows.ERROR_PATH_NOT_FOUND:
		return &ElevationError{Kind: ElevationPathNotFound, Err: err}
	case windows.ERROR_ACCESS_DENIED:
		return &ElevationError{Kind: ElevationAccessDenied, Err: err}
	default:
		return &ElevationError{Kind: ElevationOther, Err: err}
	}
}

// quoteArgs joins args into a single command-line string, escaping any
// embedded double quotes so each argument survives as one token.
func quoteArgs(args []string) string {
	var b strings.Builder
	for i, a := range args {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(a, `"`, `\"`))
		b.WriteByte('"')
	}
	return b.String()
}
