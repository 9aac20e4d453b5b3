package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/heaterbridge/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "heaterbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "heater", cfg.HeaterInstance)
	assert.Equal(t, 10.0, cfg.PollFrequency)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, BackendAuto, cfg.Transport.Backend)
	assert.Equal(t, 60*time.Second, cfg.ConnectTimeout())
	assert.Equal(t, 10*time.Second, cfg.StopSettle())
	assert.Equal(t, 16, cfg.Transport.NotifyBuffer)
	assert.Equal(t, 0, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.MaxBackoff())
	assert.True(t, cfg.Sinks.Log.Enabled)
	assert.False(t, cfg.Sinks.SignalK.Enabled)
	assert.Equal(t, "ws://localhost:3000/signalk/v1/stream?subscribe=none", cfg.Sinks.SignalK.URL)
	assert.Equal(t, "diesel_heater", cfg.Sinks.Influx.Measurement)
	assert.Empty(t, cfg.MAC)
}

func TestLoad_ExampleFile(t *testing.T) {
	content, err := testutils.LoadFixture("configs/heaterbridge.example.yaml")
	require.NoError(t, err)
	path := writeConfig(t, content)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Source)
	assert.Equal(t, "cabin", cfg.HeaterInstance)
	assert.Equal(t, 5*time.Second, cfg.PollInterval())
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.MAC)
	assert.Equal(t, BackendGoBLE, cfg.Transport.Backend)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout())
	assert.Equal(t, 32, cfg.Transport.NotifyBuffer)
	assert.Equal(t, 5, cfg.Reconnect.MaxAttempts)
	assert.True(t, cfg.Sinks.SignalK.Enabled)
	assert.Equal(t, "boat", cfg.Sinks.Influx.Database)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "mac: \"11:22:33:44:55:66\"\ntransport:\n  stop_settle: 0\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "11:22:33:44:55:66", cfg.MAC)
	assert.Equal(t, time.Duration(0), cfg.StopSettle())
	assert.Equal(t, 10.0, cfg.PollFrequency)
	assert.Equal(t, 60, cfg.Transport.ConnectTimeout)
	assert.True(t, cfg.Sinks.Log.Enabled)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "mac: \"11:22:33:44:55:66\"\npoll_frequency: 20\n")
	t.Setenv("HEATER_POLL_FREQUENCY", "3")
	t.Setenv("HEATER_SINKS_SIGNALK_ENABLED", "true")
	t.Setenv("HEATER_SINKS_SIGNALK_TOKEN", "jwt")
	t.Setenv("HEATER_TRANSPORT_BACKEND", "tinygo")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3.0, cfg.PollFrequency)
	assert.True(t, cfg.Sinks.SignalK.Enabled)
	assert.Equal(t, "jwt", cfg.Sinks.SignalK.Token)
	assert.Equal(t, BackendTinyGo, cfg.Transport.Backend)
}

func TestLoad_FractionalPollFrequency(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"2.5", 2500 * time.Millisecond},
		{"0.5", 500 * time.Millisecond},
		{"3", 3 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, "mac: \"11:22:33:44:55:66\"\npoll_frequency: "+tt.value+"\n"))
			require.NoError(t, err)

			assert.Equal(t, tt.want, cfg.PollInterval())
			assert.NoError(t, cfg.Validate())
		})
	}

	t.Setenv("HEATER_POLL_FREQUENCY", "0.25")
	cfg, err := Load(writeConfig(t, "mac: \"11:22:33:44:55:66\"\n"))
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config file")

	_, err = Load(writeConfig(t, "mac: [unterminated\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "poll_frequency: often\n"))
	assert.ErrorContains(t, err, "parsing config")
}

func TestLoad_SearchPathWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("HEATER_MAC", "11:22:33:44:55:66")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Source)
	assert.Equal(t, "11:22:33:44:55:66", cfg.MAC)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.MAC = "AA:BB:CC:DD:EE:FF"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults with mac", mutate: func(*Config) {}},
		{name: "corebluetooth uuid", mutate: func(c *Config) { c.MAC = "5B2A4E34-1B9C-4B0E-9F3A-7E1D2C3B4A59" }},
		{name: "missing mac", mutate: func(c *Config) { c.MAC = "" }, wantErr: "mac must not be empty"},
		{name: "bad mac", mutate: func(c *Config) { c.MAC = "heater" }, wantErr: "mac must be a MAC address"},
		{name: "dotted instance", mutate: func(c *Config) { c.HeaterInstance = "a.b" }, wantErr: "heater_instance"},
		{name: "zero poll", mutate: func(c *Config) { c.PollFrequency = 0 }, wantErr: "poll_frequency must be > 0"},
		{name: "fractional poll", mutate: func(c *Config) { c.PollFrequency = 0.5 }},
		{name: "bad level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "log_level"},
		{name: "bad backend", mutate: func(c *Config) { c.Transport.Backend = "bluez" }, wantErr: "transport.backend"},
		{name: "zero timeout", mutate: func(c *Config) { c.Transport.ConnectTimeout = 0 }, wantErr: "transport.connect_timeout"},
		{name: "negative settle", mutate: func(c *Config) { c.Transport.StopSettle = -1 }, wantErr: "transport.stop_settle"},
		{name: "zero buffer", mutate: func(c *Config) { c.Transport.NotifyBuffer = 0 }, wantErr: "transport.notify_buffer"},
		{name: "negative attempts", mutate: func(c *Config) { c.Reconnect.MaxAttempts = -1 }, wantErr: "reconnect.max_attempts"},
		{name: "zero backoff", mutate: func(c *Config) { c.Reconnect.MaxBackoff = 0 }, wantErr: "reconnect.max_backoff"},
		{
			name: "signalk http url",
			mutate: func(c *Config) {
				c.Sinks.SignalK.Enabled = true
				c.Sinks.SignalK.URL = "http://localhost:3000"
			},
			wantErr: "sinks.signalk.url",
		},
		{
			name:   "signalk disabled ignores url",
			mutate: func(c *Config) { c.Sinks.SignalK.URL = "" },
		},
		{
			name:    "influx incomplete",
			mutate:  func(c *Config) { c.Sinks.Influx.Enabled = true },
			wantErr: "sinks.influx.host must not be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_ValidateReportsEverything(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollFrequency = -1
	cfg.Sinks.Influx.Enabled = true

	err := cfg.Validate()
	assert.ErrorContains(t, err, "mac must not be empty")
	assert.ErrorContains(t, err, "poll_frequency")
	assert.ErrorContains(t, err, "sinks.influx.database")
	assert.ErrorContains(t, err, "sinks.influx.token")
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"nonsense", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := (&Config{LogLevel: tt.level}).NewLogger()

			assert.Equal(t, tt.want, logger.GetLevel())
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestWriteDefault_LoadsBack(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDefault(&buf, "AA:BB:CC:DD:EE:FF"))
	assert.Contains(t, buf.String(), "# heaterbridge configuration")
	assert.Contains(t, buf.String(), "poll_frequency: 10")

	cfg, err := Load(writeConfig(t, buf.String()))
	require.NoError(t, err)

	want := DefaultConfig()
	want.MAC = "AA:BB:CC:DD:EE:FF"
	want.Source = cfg.Source
	assert.Equal(t, want, cfg)
	assert.NoError(t, cfg.Validate())
}
