// Command rpi-imager-helper is the privileged disk-writer helper: an
// elevated process the GUI client launches, either as a one-shot
// FORMAT/WRITE invocation or as a long-running daemon that serves
// FORMAT/WRITE/CUSTOMIZE/VERIFY/SHUTDOWN over a named pipe.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rpi-imager/helper/internal/config"
	"github.com/rpi-imager/helper/internal/rpilog"
)

// Exit codes returned by a one-shot (non-daemon) invocation.
const (
	exitSuccess     = 0
	exitFailed      = 1
	exitArgError    = 2
	exitNoOperation = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		formatDrive string
		writeDrive  string
		source      string
		socketName  string
		daemon      bool
		configPath  string
	)

	root := &cobra.Command{
		Use:   "rpi-imager-helper",
		Short: "Privileged disk-writer helper for the Raspberry Pi Imaging tool",
	}
	root.Flags().StringVarP(&formatDrive, "format", "f", "", "format the given drive as FAT32")
	root.Flags().StringVarP(&writeDrive, "write", "w", "", "write an image to the given drive")
	root.Flags().StringVarP(&source, "source", "s", "", "source image path for --write")
	root.Flags().StringVar(&socketName, "socket", "", "pipe/socket name override")
	root.Flags().BoolVar(&daemon, "daemon", false, "run as a long-lived command server")
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")

	exitCode := exitNoOperation
	root.RunE = func(_ *cobra.Command, _ []string) error {
		cfg, err := config.LoadHelperConfig(configPath)
		if err != nil {
			exitCode = exitArgError
			return err
		}
		if socketName != "" {
			cfg.Socket = socketName
		}
		logger := rpilog.New(cfg.Logging.Level, cfg.Logging.Format)
		slog.SetDefault(logger)

		switch {
		case daemon:
			exitCode = runDaemon(cfg, logger)
			return nil
		case formatDrive != "":
			exitCode = runFormatOnce(formatDrive, logger)
			return nil
		case writeDrive != "":
			if source == "" {
				exitCode = exitArgError
				return fmt.Errorf("--write requires --source")
			}
			exitCode = runWriteOnce(writeDrive, source, logger)
			return nil
		default:
			exitCode = exitNoOperation
			return root.Help()
		}
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rpi-imager-helper:", err)
		if exitCode == exitSuccess {
			exitCode = exitArgError
		}
	}
	return exitCode
}

func runFormatOnce(drive string, logger *slog.Logger) int {
	logger.Info("format requested", "drive", drive)
	ok, err := handleFormat(drive, logger)
	return statusToExit(ok, err, logger)
}

func runWriteOnce(drive, source string, logger *slog.Logger) int {
	logger.Info("write requested", "drive", drive, "source", source)
	ok, err := handleWrite(drive, source, logger, nil)
	return statusToExit(ok, err, logger)
}

func statusToExit(ok bool, err error, logger *slog.Logger) int {
	if err != nil {
		logger.Error("operation failed", "error", err)
		return exitFailed
	}
	if !ok {
		return exitFailed
	}
	return exitSuccess
}

func runDaemon(cfg *config.HelperConfig, logger *slog.Logger) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalPath, err := writeSignalFile(cfg, logger)
	if err != nil {
		logger.Warn("could not write daemon signal file", "error", err)
	} else {
		defer os.Remove(signalPath)
	}

	srv := newServer(cfg, logger)
	if err := srv.Serve(ctx); err != nil {
		logger.Error("daemon exited with error", "error", err)
		return exitFailed
	}
	return exitSuccess
}

func writeSignalFile(cfg *config.HelperConfig, logger *slog.Logger) (string, error) {
	path := cfg.SignalFilePath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = home + string(os.PathSeparator) + "Documents" + string(os.PathSeparator) + "rpi-imager-helper-running.txt"
	}
	content := fmt.Sprintf("socket=%s\npid=%d\nstarted=%s\n", cfg.Socket, os.Getpid(), time.Now().Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	logger.Debug("wrote daemon signal file", "path", path)
	return path, nil
}
