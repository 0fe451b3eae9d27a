// Package config loads the helper's and the client's YAML configuration,
// following the load-then-validate-with-defaults idiom the reference
// fleet's own config packages use (read file, yaml.Unmarshal, apply
// defaults for zero-valued fields, validate).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults matching the protocol's fixed constants.
const (
	DefaultPipeName          = "rpihelperlocalsocket"
	DefaultHandshakeTimeout  = 5 * time.Second
	DefaultHandshakeDeadline = 10 * time.Second
	DefaultOperationTimeout  = 300 * time.Second
	DefaultConnectPollCount  = 50
	DefaultConnectPollDelay  = 100 * time.Millisecond
)

// HelperConfig is the daemon/one-shot helper's configuration.
type HelperConfig struct {
	Socket  string        `yaml:"socket"`
	Logging LoggingConfig `yaml:"logging"`

	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	HandshakeDeadline time.Duration `yaml:"handshake_deadline"`

	// SignalFilePath overrides where the daemon-mode signal file is
	// written; empty means the default under the user's Documents folder.
	SignalFilePath string `yaml:"signal_file_path"`
}

// ClientConfig is the GUI client helper-connector's configuration.
type ClientConfig struct {
	Socket  string        `yaml:"socket"`
	Logging LoggingConfig `yaml:"logging"`

	OperationTimeout time.Duration `yaml:"operation_timeout"`
	ConnectPollCount int           `yaml:"connect_poll_count"`
	ConnectPollDelay time.Duration `yaml:"connect_poll_delay"`
}

// LoggingConfig selects the logger's level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaultLogging() LoggingConfig {
	return LoggingConfig{Level: "info", Format: "text"}
}

// LoadHelperConfig reads path and applies defaults for any zero-valued
// field. A missing path is not an error: the zero-value config with
// defaults applied is returned, matching the helper's CLI-first usage
// where a config file is optional.
func LoadHelperConfig(path string) (*HelperConfig, error) {
	var cfg HelperConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading helper config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing helper config: %w", err)
		}
	}
	if cfg.Socket == "" {
		cfg.Socket = DefaultPipeName
	}
	if cfg.Logging.Level == "" && cfg.Logging.Format == "" {
		cfg.Logging = defaultLogging()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.HandshakeDeadline <= 0 {
		cfg.HandshakeDeadline = DefaultHandshakeDeadline
	}
	return &cfg, nil
}

// LoadClientConfig mirrors LoadHelperConfig for the client side.
func LoadClientConfig(path string) (*ClientConfig, error) {
	var cfg ClientConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading client config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing client config: %w", err)
		}
	}
	if cfg.Socket == "" {
		cfg.Socket = DefaultPipeName
	}
	if cfg.Logging.Level == "" && cfg.Logging.Format == "" {
		cfg.Logging = defaultLogging()
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}
	if cfg.ConnectPollCount <= 0 {
		cfg.ConnectPollCount = DefaultConnectPollCount
	}
	if cfg.ConnectPollDelay <= 0 {
		cfg.ConnectPollDelay = DefaultConnectPollDelay
	}
	return &cfg, nil
}
