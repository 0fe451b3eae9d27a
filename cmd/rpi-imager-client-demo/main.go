// Command rpi-imager-client-demo exercises the helper's protocol end to
// end from the unprivileged side: optionally launch the elevated helper,
// connect, complete the handshake, submit one command, and render its
// progress.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rpi-imager/helper/internal/clientside"
	"github.com/rpi-imager/helper/internal/config"
	"github.com/rpi-imager/helper/internal/protocol"
	"github.com/rpi-imager/helper/internal/rpilog"
	"github.com/rpi-imager/helper/internal/transport"
	"github.com/rpi-imager/helper/retrodfrg"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		socketName string
		configPath string
		command    string
		noUI       bool
		launch     bool
		helperPath string
	)
	flag.StringVar(&socketName, "socket", "", "pipe/socket name override")
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.StringVar(&command, "command", "", `command line to submit, e.g. FORMAT "X:"`)
	flag.BoolVar(&noUI, "no-ui", false, "print progress to stdout instead of drawing a terminal UI")
	flag.BoolVar(&launch, "launch", false, "spawn the helper elevated before connecting")
	flag.StringVar(&helperPath, "helper-path", "rpi-imager-helper.exe", "path to the helper binary, used with -launch")
	flag.Parse()

	if command == "" {
		fmt.Fprintln(os.Stderr, "rpi-imager-client-demo: -command is required")
		return 2
	}

	cfg, err := config.LoadClientConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rpi-imager-client-demo:", err)
		return 2
	}
	if socketName != "" {
		cfg.Socket = socketName
	}
	logger := rpilog.New(cfg.Logging.Level, cfg.Logging.Format)

	cs := clientside.NewConnection(cfg.OperationTimeout, logger)
	if launch {
		args := []string{"--daemon", "--socket", cfg.Socket}
		if err := cs.EnsureRunning(clientside.LaunchElevatedHelper, helperPath, args); err != nil {
			var elev *clientside.ElevationError
			if errors.As(err, &elev) && elev.Expected() {
				logger.Info("user cancelled the elevation prompt")
				return 0
			}
			logger.Error("could not launch helper elevated", "error", err)
			return 1
		}
	}

	if err := runDemo(cs, cfg, logger, command, noUI); err != nil {
		logger.Error("demo failed", "error", err)
		return 1
	}
	return 0
}

func runDemo(cs *clientside.Connection, cfg *config.ClientConfig, logger *slog.Logger, command string, noUI bool) error {
	conn, err := connectWithRetry(cfg, logger)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	if err := completeHandshake(cs, conn); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	var ui *retrodfrg.SessionUI
	if !noUI {
		ui, err = retrodfrg.NewSessionUI(command, "ctrl-c stops the display; the command still runs to completion")
		if err != nil {
			logger.Warn("terminal UI unavailable, falling back to stdout", "error", err)
			ui = nil
		}
	}
	if ui != nil {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			ui.RequestCancel()
		}()
		defer signal.Stop(sigCh)
		defer ui.Close()

		ui.MarkConnected()
		ui.MarkHandshakeComplete()
	}

	cancelled := false
	onProgress := func(f protocol.Frame) {
		if ui != nil && ui.Cancelled() {
			cancelled = true
			return
		}
		if ui != nil {
			ui.ReportProgress(f.Kind.String(), f.Now, f.Total)
		} else {
			fmt.Printf("%s: %d / %d\n", f.Kind, f.Now, f.Total)
		}
	}

	ok, err := cs.SubmitCommand(conn, command, onProgress)
	if cancelled {
		return fmt.Errorf("command cancelled by user")
	}
	if err != nil {
		return err
	}
	if ui != nil {
		ui.ShowResult(ok)
		time.Sleep(1500 * time.Millisecond)
	} else if ok {
		fmt.Println("result: SUCCESS")
	} else {
		fmt.Println("result: FAILURE")
	}
	if !ok {
		return fmt.Errorf("command reported FAILURE")
	}
	return nil
}

// connectWithRetry polls for the helper's pipe, waiting ConnectPollDelay
// between each of ConnectPollCount attempts before giving up.
func connectWithRetry(cfg *config.ClientConfig, logger *slog.Logger) (transport.Conn, error) {
	ep := transport.Endpoint{Name: cfg.Socket}
	var lastErr error
	for attempt := 0; attempt < cfg.ConnectPollCount; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		conn, err := transport.Dial(ctx, ep)
		cancel()
		if err == nil {
			return conn, nil
		}
		lastErr = err
		logger.Debug("connect attempt failed", "attempt", attempt, "error", err)
		time.Sleep(cfg.ConnectPollDelay)
	}
	return nil, fmt.Errorf("could not connect after %d attempts: %w", cfg.ConnectPollCount, lastErr)
}

// completeHandshake drives the client-side state machine through the
// synchronous HELLO/READY exchange.
func completeHandshake(cs *clientside.Connection, conn transport.Conn) error {
	if cs.State() == clientside.Disconnected {
		// No -launch: the helper was started separately.
		cs.OnBeginConnecting(nil)
	}
	if err := cs.OnPipeConnected(); err != nil {
		return err
	}
	hello, err := protocol.ReadStringBlocking(conn)
	if err != nil {
		cs.OnSocketError(err)
		return fmt.Errorf("read HELLO: %w", err)
	}
	if err := cs.OnHelloReceived(hello); err != nil {
		return err
	}
	if err := protocol.WriteString(conn, protocol.TokenReady); err != nil {
		cs.OnSocketError(err)
		return fmt.Errorf("write READY: %w", err)
	}
	return cs.OnReadyWritten()
}
