//go:build !windows

package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

func socketPath(name string) string {
	return filepath.Join(os.TempDir(), name+".sock")
}

type socketListener struct {
	ln net.Listener
}

// Listen creates a Unix-domain-socket listener in place of a Windows
// named pipe, for development and CI on non-Windows build hosts. The
// path is removed first since net.Listen("unix", ...) fails if a stale
// socket file is left behind by a previous crashed run.
func Listen(e Endpoint) (Listener, error) {
	path := socketPath(e.Name)
	os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", path, err)
	}
	return &socketListener{ln: ln}, nil
}

func (l *socketListener) Accept(ctx context.Context) (Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		c, err := l.ln.Accept()
		done <- result{c, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return r.conn, nil
	case <-ctx.Done():
		l.ln.Close()
		return nil, ctx.Err()
	}
}

func (l *socketListener) Close() error {
	return l.ln.Close()
}

// Dial connects to the Unix-domain socket created by Listen.
func Dial(ctx context.Context, e Endpoint) (Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath(e.Name))
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", e.Name, err)
	}
	return conn, nil
}
