//go:build windows

package transport

import (
	"context"
	"fmt"
	"io"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	pipeAccessDuplex   = 0x00000003
	pipeTypeByte       = 0x00000000
	pipeWait           = 0x00000000
	pipeUnlimitedInsts = 255
	pipeBufSize        = 64 * 1024
)

func pipePath(name string) string {
	return `\\.\pipe\` + name
}

// pipeConn wraps a named-pipe handle as a Conn.
type pipeConn struct {
	h windows.Handle
}

func (c *pipeConn) Read(p []byte) (int, error) {
	var n uint32
	err := windows.ReadFile(c.h, p, &n, nil)
	if err != nil {
		if err == windows.ERROR_BROKEN_PIPE {
			return int(n), io.EOF
		}
		return int(n), fmt.Errorf("transport: pipe read: %w", err)
	}
	return int(n), nil
}

func (c *pipeConn) Write(p []byte) (int, error) {
	var n uint32
	err := windows.WriteFile(c.h, p, &n, nil)
	if err != nil {
		return int(n), fmt.Errorf("transport: pipe write: %w", err)
	}
	return int(n), nil
}

func (c *pipeConn) Close() error {
	return windows.CloseHandle(c.h)
}

// pipeListener serves one named pipe instance at a time: the helper
// accepts exactly one client connection per run.
type pipeListener struct {
	name string
}

// Listen returns a named pipe server endpoint; it only records the name.
// Each Accept creates the pipe instance and waits for a client.
// CreateNamedPipe and ConnectNamedPipe are called directly via syscall:
// no wrapper library, raw handle ownership.
func Listen(e Endpoint) (Listener, error) {
	return &pipeListener{name: e.Name}, nil
}

func (l *pipeListener) Accept(ctx context.Context) (Conn, error) {
	path := pipePath(l.name)
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, fmt.Errorf("transport: pipe name: %w", err)
	}

	h, err := createNamedPipe(pathPtr)
	if err != nil {
		return nil, fmt.Errorf("transport: CreateNamedPipe: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- connectNamedPipe(h)
	}()

	select {
	case err := <-done:
		if err != nil {
			windows.CloseHandle(h)
			return nil, fmt.Errorf("transport: ConnectNamedPipe: %w", err)
		}
		return &pipeConn{h: h}, nil
	case <-ctx.Done():
		windows.CloseHandle(h)
		return nil, ctx.Err()
	}
}

func (l *pipeListener) Close() error { return nil }

var (
	modkernel32          = windows.NewLazySystemDLL("kernel32.dll")
	procCreateNamedPipeW = modkernel32.NewProc("CreateNamedPipeW")
	procConnectNamedPipe = modkernel32.NewProc("ConnectNamedPipe")
)

func createNamedPipe(name *uint16) (windows.Handle, error) {
	// World (Everyone) access, so an unelevated client can open the
	// elevated helper's pipe.
	sd, err := windows.SecurityDescriptorFromString("D:(A;;GA;;;WD)")
	if err != nil {
		return 0, err
	}
	sa := windows.SecurityAttributes{SecurityDescriptor: sd}
	sa.Length = uint32(unsafe.Sizeof(sa))
	r, _, err := procCreateNamedPipeW.Call(
		uintptr(unsafe.Pointer(name)),
		uintptr(pipeAccessDuplex),
		uintptr(pipeTypeByte|pipeWait),
		uintptr(1),
		uintptr(pipeBufSize),
		uintptr(pipeBufSize),
		uintptr(0),
		uintptr(unsafe.Pointer(&sa)),
	)
	h := windows.Handle(r)
	if h == windows.InvalidHandle {
		return 0, err
	}
	return h, nil
}

func connectNamedPipe(h windows.Handle) error {
	r, _, err := procConnectNamedPipe.Call(uintptr(h), 0)
	if r == 0 {
		if err == windows.ERROR_PIPE_CONNECTED {
			return nil
		}
		return err
	}
	return nil
}

// Dial connects to an existing named pipe as the client side (used by
// the GUI client and by cmd/rpi-imager-client-demo).
func Dial(ctx context.Context, e Endpoint) (Conn, error) {
	path := pipePath(e.Name)
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}
	h, err := windows.CreateFile(
		pathPtr,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0,
		nil,
		windows.OPEN_EXISTING,
		0,
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("transport: dial pipe %s: %w", path, err)
	}
	return &pipeConn{h: h}, nil
}
