package sink

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/srg/heaterbridge/internal/telemetry"
)

// Log writes every update as a single structured log entry.
type Log struct {
	logger *logrus.Logger
	level  logrus.Level
}

// NewLog creates a log sink emitting at info level.
func NewLog(logger *logrus.Logger) *Log {
	if logger == nil {
		logger = logrus.New()
	}
	return &Log{logger: logger, level: logrus.InfoLevel}
}

func (l *Log) Publish(_ context.Context, update telemetry.Update) error {
	fields := make(logrus.Fields, len(update.Values)+1)
	fields["source"] = update.Source
	for _, v := range update.Values {
		fields[v.Path] = v.Value
	}
	l.logger.WithFields(fields).WithTime(update.Timestamp).Log(l.level, "Heater status")
	return nil
}

func (l *Log) Close() error {
	return nil
}
