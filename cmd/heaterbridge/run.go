package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/heaterbridge/internal/device"
	"github.com/srg/heaterbridge/internal/lifecycle"
	"github.com/srg/heaterbridge/internal/session"
	"github.com/srg/heaterbridge/internal/sink"
	"github.com/srg/heaterbridge/pkg/config"
)

// shutdownGrace bounds teardown on top of the configured settle delay.
const shutdownGrace = 15 * time.Second

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the heater and publish its status",
	Long: `Connect to the configured heater, poll it and publish every status frame
to the enabled sinks until interrupted.

SIGHUP reloads the configuration file and restarts the heater session.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	b, err := newBridge(cfg, logger)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, append([]os.Signal{os.Interrupt, syscall.SIGTERM}, reloadSignals()...)...)
	defer signal.Stop(sigCh)

	reload := func() (*config.Config, error) {
		return loadConfig(cmd)
	}
	return b.run(cmd.Context(), sigCh, reload)
}

// bridge wires one adapter and one sink to a guarded heater session.
type bridge struct {
	cfg     *config.Config
	logger  *logrus.Logger
	adapter device.Adapter
	sink    sink.Sink
	guard   *lifecycle.Guard
}

func newBridge(cfg *config.Config, logger *logrus.Logger) (*bridge, error) {
	adapter, err := adapterFactory(cfg.Transport.Backend, logger)
	if err != nil {
		return nil, err
	}
	out, err := sinkFactory(cfg, logger)
	if err != nil {
		_ = adapter.Close()
		return nil, err
	}

	b := &bridge{
		cfg:     cfg,
		logger:  logger,
		adapter: adapter,
		sink:    out,
	}
	b.guard = lifecycle.New(b.sessionFactory(cfg), lifecycle.Options{
		MaxAttempts: cfg.Reconnect.MaxAttempts,
		MaxBackoff:  cfg.MaxBackoff(),
		Logger:      logger,
	})
	return b, nil
}

func (b *bridge) sessionFactory(cfg *config.Config) lifecycle.Factory {
	opts := session.Options{
		Address:        cfg.MAC,
		HeaterInstance: cfg.HeaterInstance,
		PollInterval:   cfg.PollInterval(),
		ConnectTimeout: cfg.ConnectTimeout(),
		StopSettle:     cfg.StopSettle(),
		NotifyBuffer:   cfg.Transport.NotifyBuffer,
		Logger:         b.logger,
	}
	return func() lifecycle.Runner {
		return session.New(b.adapter, b.sink, opts)
	}
}

// run starts the session and serves signals until the context ends, a stop
// signal arrives or the session is gone for good.
func (b *bridge) run(ctx context.Context, signals <-chan os.Signal, reload func() (*config.Config, error)) (err error) {
	defer func() {
		if cerr := b.shutdown(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	b.logger.WithFields(logrus.Fields{
		"address":  b.cfg.MAC,
		"instance": b.cfg.HeaterInstance,
		"config":   b.cfg.Source,
	}).Info("Starting heater bridge")
	if err := b.guard.Start(ctx); err != nil {
		return fmt.Errorf("failed to start heater session: %w", err)
	}

	for {
		changed := b.guard.Changed()
		if b.guard.Phase() == lifecycle.Idle {
			return ErrConnectionLost
		}

		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		case sig := <-signals:
			if !slices.Contains(reloadSignals(), sig) {
				b.logger.WithField("signal", sig.String()).Info("Received signal, shutting down")
				return nil
			}
			if err := b.reload(ctx, reload); err != nil {
				return err
			}
		}
	}
}

// reload re-reads the config and restarts the session with it. A config that
// fails to load keeps the current session running.
func (b *bridge) reload(ctx context.Context, reload func() (*config.Config, error)) error {
	cfg, err := reload()
	if err != nil {
		b.logger.WithField("error", err).Error("Config reload failed, keeping current session")
		return nil
	}
	if cfg.Transport.Backend != b.cfg.Transport.Backend || cfg.Sinks != b.cfg.Sinks {
		b.logger.Warn("Transport and sink changes take effect on the next process start")
	}

	reconfigureLevel(b.logger, cfg)
	b.cfg = cfg
	if err := b.guard.Restart(ctx, b.sessionFactory(cfg)); err != nil {
		return fmt.Errorf("failed to restart heater session: %w", err)
	}
	return nil
}

func (b *bridge) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.StopSettle()+shutdownGrace)
	defer cancel()

	var errs []error
	if err := b.guard.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := b.sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close sinks: %w", err))
	}
	if err := b.adapter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close adapter: %w", err))
	}
	b.logger.Info("Heater bridge stopped")
	return errors.Join(errs...)
}
