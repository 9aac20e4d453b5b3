package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. HEATER_POLL_FREQUENCY or
// HEATER_SINKS_SIGNALK_URL.
const EnvPrefix = "HEATER"

// Backend names
const (
	BackendAuto   = "auto"
	BackendGoBLE  = "go-ble"
	BackendTinyGo = "tinygo"
)

// Config holds application configuration
type Config struct {
	HeaterInstance string          `mapstructure:"heater_instance" yaml:"heater_instance" default:"heater"`
	PollFrequency  float64         `mapstructure:"poll_frequency" yaml:"poll_frequency" default:"10"`
	MAC            string          `mapstructure:"mac" yaml:"mac"`
	LogLevel       string          `mapstructure:"log_level" yaml:"log_level" default:"info"`
	Transport      TransportConfig `mapstructure:"transport" yaml:"transport"`
	Reconnect      ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
	Sinks          SinksConfig     `mapstructure:"sinks" yaml:"sinks"`

	// Source is the file the configuration was read from, if any.
	Source string `mapstructure:"-" yaml:"-"`
}

type TransportConfig struct {
	Backend        string `mapstructure:"backend" yaml:"backend" default:"auto"`
	ConnectTimeout int    `mapstructure:"connect_timeout" yaml:"connect_timeout" default:"60"`
	StopSettle     int    `mapstructure:"stop_settle" yaml:"stop_settle" default:"10"`
	NotifyBuffer   int    `mapstructure:"notify_buffer" yaml:"notify_buffer" default:"16"`
}

type ReconnectConfig struct {
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts" default:"0"`
	MaxBackoff  int `mapstructure:"max_backoff" yaml:"max_backoff" default:"60"`
}

type SinksConfig struct {
	Log     LogSinkConfig     `mapstructure:"log" yaml:"log"`
	SignalK SignalKSinkConfig `mapstructure:"signalk" yaml:"signalk"`
	Influx  InfluxSinkConfig  `mapstructure:"influx" yaml:"influx"`
}

type LogSinkConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" default:"true"`
}

type SignalKSinkConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" default:"false"`
	URL     string `mapstructure:"url" yaml:"url" default:"ws://localhost:3000/signalk/v1/stream?subscribe=none"`
	Token   string `mapstructure:"token" yaml:"token"`
}

type InfluxSinkConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" default:"false"`
	Host        string `mapstructure:"host" yaml:"host"`
	Token       string `mapstructure:"token" yaml:"token"`
	Database    string `mapstructure:"database" yaml:"database"`
	Measurement string `mapstructure:"measurement" yaml:"measurement" default:"diesel_heater"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads the configuration. An empty path searches the working directory,
// ~/.config/heaterbridge and /etc/heaterbridge for heaterbridge.yaml; finding
// nothing there is not an error. Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// defaults go in as a base layer so every key is known to the env lookup
	base, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(base)); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		v.SetConfigName("heaterbridge")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/heaterbridge")
		v.AddConfigPath("/etc/heaterbridge")
		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Source = v.ConfigFileUsed()
	return cfg, nil
}

// Validate checks the config for invalid values and reports all of them.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.MAC == "" {
		add("mac must not be empty")
	} else if !ValidAddress(c.MAC) {
		add("mac must be a MAC address or a CoreBluetooth UUID, got %q", c.MAC)
	}
	if c.HeaterInstance == "" || strings.ContainsAny(c.HeaterInstance, ". \t") {
		add("heater_instance must be a single path segment, got %q", c.HeaterInstance)
	}
	if c.PollFrequency <= 0 {
		add("poll_frequency must be > 0")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		add("log_level: %v", err)
	}

	switch c.Transport.Backend {
	case BackendAuto, BackendGoBLE, BackendTinyGo:
	default:
		add("transport.backend must be %q, %q or %q, got %q", BackendAuto, BackendGoBLE, BackendTinyGo, c.Transport.Backend)
	}
	if c.Transport.ConnectTimeout <= 0 {
		add("transport.connect_timeout must be > 0")
	}
	if c.Transport.StopSettle < 0 {
		add("transport.stop_settle must be >= 0")
	}
	if c.Transport.NotifyBuffer <= 0 {
		add("transport.notify_buffer must be > 0")
	}

	if c.Reconnect.MaxAttempts < 0 {
		add("reconnect.max_attempts must be >= 0")
	}
	if c.Reconnect.MaxBackoff <= 0 {
		add("reconnect.max_backoff must be > 0")
	}

	if sk := c.Sinks.SignalK; sk.Enabled {
		u, err := url.Parse(sk.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			add("sinks.signalk.url must be a ws:// or wss:// URL, got %q", sk.URL)
		}
	}
	if in := c.Sinks.Influx; in.Enabled {
		if in.Host == "" {
			add("sinks.influx.host must not be empty")
		}
		if in.Database == "" {
			add("sinks.influx.database must not be empty")
		}
		if in.Token == "" {
			add("sinks.influx.token must not be empty")
		}
	}

	return errors.Join(errs...)
}

// ValidAddress accepts a MAC address or, for CoreBluetooth, a peripheral UUID.
func ValidAddress(addr string) bool {
	if _, err := net.ParseMAC(addr); err == nil {
		return true
	}
	_, err := uuid.Parse(addr)
	return err == nil
}

// PollInterval converts poll_frequency, which may be fractional, to a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollFrequency * float64(time.Second))
}

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Transport.ConnectTimeout) * time.Second
}

func (c *Config) StopSettle() time.Duration {
	return time.Duration(c.Transport.StopSettle) * time.Second
}

func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.Reconnect.MaxBackoff) * time.Second
}

// NewLogger creates a configured logger instance. An unparsable level falls
// back to info.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

const defaultHeader = `# heaterbridge configuration
# Every key can be overridden with an environment variable, e.g.
# HEATER_MAC, HEATER_POLL_FREQUENCY, HEATER_SINKS_SIGNALK_ENABLED.
`

// WriteDefault writes a commented default configuration with the given MAC.
func WriteDefault(w io.Writer, mac string) error {
	cfg := DefaultConfig()
	cfg.MAC = mac

	if _, err := io.WriteString(w, defaultHeader); err != nil {
		return err
	}
	return Write(w, cfg)
}

// Write encodes cfg as YAML.
func Write(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}
