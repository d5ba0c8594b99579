package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/geeknik/rtl-sdr-analyzer/internal/detection"
	"github.com/geeknik/rtl-sdr-analyzer/internal/publish"
	"github.com/geeknik/rtl-sdr-analyzer/internal/sdr"
	"github.com/geeknik/rtl-sdr-analyzer/internal/sdr/rtltcp"
	"github.com/geeknik/rtl-sdr-analyzer/internal/waterfall"
)

// Config represents the main application configuration
type Config struct {
	Settings Settings       `yaml:"settings"`
	RTLTCP   RTLTCPConfig   `yaml:"rtlTcp"`
	Receiver ReceiverConfig `yaml:"receiver"`
	Detector DetectorConfig `yaml:"detector"`
	Display  DisplayConfig  `yaml:"display"`
	Storage  StorageConfig  `yaml:"storage"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel slog.Level `yaml:"logLevel"`
}

// RTLTCPConfig is the address of the rtl_tcp server
type RTLTCPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ReceiverConfig is the band the receiver is tuned to
type ReceiverConfig struct {
	Frequency  float64 `yaml:"frequency"`  // Hz
	SampleRate float64 `yaml:"sampleRate"` // Hz
	FFTSize    int     `yaml:"fftSize"`
}

// DetectorConfig represents the anomaly detection thresholds
type DetectorConfig struct {
	PowerThreshold     float64  `yaml:"powerThreshold"`     // dB
	BandwidthThreshold float64  `yaml:"bandwidthThreshold"` // Hz
	ZScoreThreshold    float64  `yaml:"zScoreThreshold"`
	DetectionWindow    int      `yaml:"detectionWindow"` // frames
	MinDuration        Duration `yaml:"minDuration"`
	TestMode           bool     `yaml:"testMode"`
	DedupEpisodes      bool     `yaml:"dedupEpisodes"`
}

// DisplayConfig controls the processing cadence and the waterfall snapshots
type DisplayConfig struct {
	WaterfallLength  int      `yaml:"waterfallLength"`
	UpdateInterval   Duration `yaml:"updateInterval"`
	SnapshotPath     string   `yaml:"snapshotPath"` // No snapshots when empty
	SnapshotInterval Duration `yaml:"snapshotInterval"`
	Theme            string   `yaml:"theme"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DataDirectory string `yaml:"dataDirectory"`
}

// MetricsConfig represents the Prometheus exporter settings
type MetricsConfig struct {
	Listen string `yaml:"listen"` // e.g. ":9100", disabled when empty
}

// MQTTConfig represents the event publishing settings
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"clientID"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
	Retain   bool   `yaml:"retain"`
}

// Duration is a time.Duration read from YAML as a Go duration string
// ("100ms") or as a number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}

	switch value.ShortTag() {
	case "!!int", "!!float":
		secs, err := strconv.ParseFloat(value.Value, 64)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}

	v, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// NewConfig returns the configuration of the reference deployment.
func NewConfig() *Config {
	return &Config{
		Settings: Settings{LogLevel: slog.LevelInfo},
		RTLTCP: RTLTCPConfig{
			Host: "192.168.31.34",
			Port: 1234,
		},
		Receiver: ReceiverConfig{
			Frequency:  915e6,
			SampleRate: 2.048e6,
			FFTSize:    2048,
		},
		Detector: DetectorConfig{
			PowerThreshold:     -70,
			BandwidthThreshold: 0.1e6,
			ZScoreThreshold:    1.5,
			DetectionWindow:    5,
			MinDuration:        Duration(100 * time.Millisecond),
		},
		Display: DisplayConfig{
			WaterfallLength:  50,
			UpdateInterval:   Duration(time.Millisecond),
			SnapshotInterval: Duration(10 * time.Second),
			Theme:            string(waterfall.DefaultTheme),
		},
		Storage: StorageConfig{
			DataDirectory: "data",
		},
		MQTT: MQTTConfig{
			Topic: "rtl-sdr-analyzer/events",
		},
	}
}

// LoadConfig decodes the YAML file at path over the defaults. An empty path
// returns the defaults.
func LoadConfig(path string) (*Config, error) {
	c := NewConfig()
	if path == "" {
		return c, c.Validate()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	if err = c.decode(f); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decoding config: %w", err)
	}
	return nil
}

// Validate checks the configuration before anything is started.
func (c *Config) Validate() error {
	if _, err := waterfall.ParseTheme(c.Display.Theme); err != nil {
		return err
	}
	if err := c.ClientConfig().Validate(); err != nil {
		return err
	}
	if err := c.DetectionConfig().Validate(); err != nil {
		return err
	}

	switch {
	case c.Display.WaterfallLength <= 0:
		return fmt.Errorf("invalid waterfall length: %d", c.Display.WaterfallLength)
	case c.Display.UpdateInterval <= 0:
		return errors.New("update interval must be positive")
	case c.Display.SnapshotPath != "" && c.Display.SnapshotInterval <= 0:
		return errors.New("snapshot interval must be positive")
	case c.Storage.Enabled && c.Storage.DataDirectory == "":
		return errors.New("storage data directory is required")
	}

	if c.MQTT.Enabled {
		if err := c.PublishConfig().Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Redacted returns a copy without credentials, suitable for logging and
// for storing with the session.
func (c *Config) Redacted() Config {
	r := *c
	if r.MQTT.Password != "" {
		r.MQTT.Password = "***"
	}
	return r
}

func (c *Config) Params() sdr.Params {
	return sdr.Params{
		CenterFreq: c.Receiver.Frequency,
		SampleRate: c.Receiver.SampleRate,
		FFTSize:    c.Receiver.FFTSize,
	}
}

func (c *Config) ClientConfig() rtltcp.Config {
	return rtltcp.Config{
		Host:   c.RTLTCP.Host,
		Port:   c.RTLTCP.Port,
		Params: c.Params(),
	}
}

func (c *Config) DetectionConfig() detection.Config {
	return detection.Config{
		PowerThreshold:     c.Detector.PowerThreshold,
		BandwidthThreshold: c.Detector.BandwidthThreshold,
		ZScoreThreshold:    c.Detector.ZScoreThreshold,
		DetectionWindow:    c.Detector.DetectionWindow,
		MinDuration:        time.Duration(c.Detector.MinDuration),
		TestMode:           c.Detector.TestMode,
		DedupEpisodes:      c.Detector.DedupEpisodes,
	}
}

func (c *Config) PublishConfig() publish.Config {
	return publish.Config{
		Broker:   c.MQTT.Broker,
		Topic:    c.MQTT.Topic,
		ClientID: c.MQTT.ClientID,
		Username: c.MQTT.Username,
		Password: c.MQTT.Password,
		QoS:      c.MQTT.QoS,
		Retain:   c.MQTT.Retain,
	}
}
