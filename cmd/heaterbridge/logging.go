package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/heaterbridge/pkg/config"
)

// configureLogger builds the logger from the config, letting --log-level take
// precedence over log_level.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	levelStr, _ := cmd.Flags().GetString("log-level")
	if levelStr != "" {
		switch levelStr {
		case "debug", "info", "warn", "error":
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", levelStr)
		}
		cfg.LogLevel = levelStr
	}

	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	logger.WithField("level", logger.GetLevel().String()).Debug("Logger configured")
	return logger, nil
}

// loadConfig reads and validates the file named by --config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// reconfigureLevel applies a reloaded log_level to an existing logger.
func reconfigureLevel(logger *logrus.Logger, cfg *config.Config) {
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
}
