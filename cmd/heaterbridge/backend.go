package main

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/srg/heaterbridge/internal/device"
	goble "github.com/srg/heaterbridge/internal/device/go-ble"
	"github.com/srg/heaterbridge/internal/device/tinygo"
	"github.com/srg/heaterbridge/internal/sink"
	"github.com/srg/heaterbridge/pkg/config"
)

// adapterFactory and sinkFactory can be overridden in tests
var (
	adapterFactory = newAdapter
	sinkFactory    = newSinks
)

// resolveBackend maps "auto" to the backend that needs no extra privileges on
// the current platform: CoreBluetooth through go-ble on macOS, BlueZ through
// tinygo elsewhere.
func resolveBackend(backend string) string {
	if backend != config.BackendAuto {
		return backend
	}
	if runtime.GOOS == "darwin" {
		return config.BackendGoBLE
	}
	return config.BackendTinyGo
}

func newAdapter(backend string, logger *logrus.Logger) (device.Adapter, error) {
	switch resolved := resolveBackend(backend); resolved {
	case config.BackendGoBLE:
		return goble.NewAdapter(logger), nil
	case config.BackendTinyGo:
		return tinygo.NewAdapter(logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", device.ErrUnsupported, resolved)
	}
}

// newSinks builds every enabled sink. At least one sink is always returned so
// decoded frames are never silently discarded.
func newSinks(cfg *config.Config, logger *logrus.Logger) (sink.Sink, error) {
	var sinks sink.Multi

	if cfg.Sinks.SignalK.Enabled {
		sinks = append(sinks, sink.NewSignalK(sink.SignalKConfig{
			URL:   cfg.Sinks.SignalK.URL,
			Token: cfg.Sinks.SignalK.Token,
		}, logger))
	}
	if cfg.Sinks.Influx.Enabled {
		in, err := sink.NewInflux(sink.InfluxConfig{
			Host:        cfg.Sinks.Influx.Host,
			Token:       cfg.Sinks.Influx.Token,
			Database:    cfg.Sinks.Influx.Database,
			Measurement: cfg.Sinks.Influx.Measurement,
		}, cfg.HeaterInstance, logger)
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		sinks = append(sinks, in)
	}
	if cfg.Sinks.Log.Enabled || len(sinks) == 0 {
		sinks = append(sinks, sink.NewLog(logger))
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}
