package sink

import (
	"context"
	"fmt"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
	"github.com/sirupsen/logrus"
	"github.com/srg/heaterbridge/internal/telemetry"
)

const DefaultMeasurement = "diesel_heater"

// InfluxConfig holds InfluxDB v3 connection settings.
type InfluxConfig struct {
	Host        string
	Token       string
	Database    string
	Measurement string
}

// Influx writes one point per update. Every value becomes a field keyed by its
// full path; the heater instance and the update source are tags.
type Influx struct {
	client      *influxdb3.Client
	measurement string
	instance    string
	logger      *logrus.Logger
}

func NewInflux(cfg InfluxConfig, instance string, logger *logrus.Logger) (*Influx, error) {
	if logger == nil {
		logger = logrus.New()
	}
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     cfg.Host,
		Token:    cfg.Token,
		Database: cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create InfluxDB client: %w", err)
	}

	measurement := cfg.Measurement
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	return &Influx{
		client:      client,
		measurement: measurement,
		instance:    instance,
		logger:      logger,
	}, nil
}

func (s *Influx) Publish(ctx context.Context, update telemetry.Update) error {
	if len(update.Values) == 0 {
		return nil
	}

	fields := make(map[string]any, len(update.Values))
	for _, v := range update.Values {
		fields[v.Path] = v.Value
	}
	point := influxdb3.NewPoint(
		s.measurement,
		map[string]string{
			"instance": s.instance,
			"source":   update.Source,
		},
		fields,
		update.Timestamp,
	)

	if err := s.client.WritePoints(ctx, []*influxdb3.Point{point}); err != nil {
		return fmt.Errorf("influx: write point: %w", err)
	}
	s.logger.WithField("fields", len(fields)).Debug("Wrote heater point")
	return nil
}

func (s *Influx) Close() error {
	return s.client.Close()
}
