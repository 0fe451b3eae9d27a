package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/rpi-imager/helper/internal/config"
	"github.com/rpi-imager/helper/internal/dispatch"
	"github.com/rpi-imager/helper/internal/helperside"
	"github.com/rpi-imager/helper/internal/progressio"
	"github.com/rpi-imager/helper/internal/protocol"
	"github.com/rpi-imager/helper/internal/transport"
)

// server runs the daemon's accept-one-client command loop: exactly one
// client connection for the lifetime of the process, ending on
// SHUTDOWN or disconnect.
type server struct {
	cfg    *config.HelperConfig
	logger *slog.Logger
}

func newServer(cfg *config.HelperConfig, logger *slog.Logger) *server {
	return &server{cfg: cfg, logger: logger}
}

func (s *server) Serve(ctx context.Context) error {
	ln, err := transport.Listen(transport.Endpoint{Name: s.cfg.Socket})
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	defer ln.Close()

	s.logger.Info("helper listening", "socket", s.cfg.Socket)
	conn, err := ln.Accept(ctx)
	if err != nil {
		return fmt.Errorf("server: accept: %w", err)
	}
	defer conn.Close()

	return s.serveClient(ctx, conn)
}

func (s *server) serveClient(ctx context.Context, conn transport.Conn) error {
	hs := helperside.NewConnection(s.cfg.Socket, s.logger)
	if err := hs.OnClientConnected(); err != nil {
		return err
	}

	if err := hs.OnSendHello(); err != nil {
		return err
	}
	if err := protocol.WriteString(conn, protocol.TokenHello); err != nil {
		hs.OnException(err)
		return fmt.Errorf("server: write HELLO: %w", err)
	}
	if err := hs.OnHelloWritten(); err != nil {
		return err
	}

	readyToken, err := protocol.ReadStringBlocking(conn)
	if err != nil {
		hs.OnException(err)
		return fmt.Errorf("server: read READY: %w", err)
	}
	if err := hs.OnReadyReceived(readyToken, s.cfg.HandshakeTimeout); err != nil {
		return err
	}

	reporter := progressio.New(conn, s.logger)
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()

	handlers := dispatch.Handlers{
		Format: func(drive string) (bool, error) {
			return handleFormat(drive, s.logger)
		},
		Write: func(drive, source string) (bool, error) {
			return handleWrite(drive, source, s.logger, func(f protocol.Frame) {
				reporter.Emit(f.Kind, f.Now, f.Total)
			})
		},
		Customize: func(drive, cfg64, cmdline64, firstrun64, cloudinit64, cinet64, fmt64 string) (bool, error) {
			return handleCustomize(drive, cfg64, cmdline64, firstrun64, cloudinit64, cinet64, fmt64, s.logger)
		},
		Verify: func(drive, source, expectedHash64 string) (bool, error) {
			return handleVerify(drive, source, expectedHash64, s.logger, func(f protocol.Frame) {
				reporter.Emit(f.Kind, f.Now, f.Total)
			})
		},
		Shutdown: func() (bool, error) {
			return handleShutdown(cancel)
		},
	}

	for {
		select {
		case <-dctx.Done():
			return nil
		default:
		}

		line, err := protocol.ReadStringBlocking(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("client disconnected")
				return nil
			}
			hs.OnException(err)
			return fmt.Errorf("server: read command: %w", err)
		}

		if err := hs.OnCommandReceived(line); err != nil {
			s.logger.Warn("command rejected", "error", err)
			continue
		}

		ok, derr := dispatch.Dispatch(line, handlers)
		if derr != nil {
			s.logger.Warn("command failed", "command", line, "error", derr)
		}

		token := protocol.TokenSuccess
		if !ok {
			token = protocol.TokenFailure
		}
		if err := protocol.WriteString(conn, token); err != nil {
			hs.OnException(err)
			return fmt.Errorf("server: write status: %w", err)
		}
		if err := hs.OnCommandCompleted(); err != nil {
			return err
		}

		if dctx.Err() != nil {
			return nil
		}
	}
}
