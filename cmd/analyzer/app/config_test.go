package app

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	c, err := LoadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.RTLTCP.Host != "192.168.31.34" || c.RTLTCP.Port != 1234 {
		t.Errorf("unexpected rtl_tcp address %s:%d", c.RTLTCP.Host, c.RTLTCP.Port)
	}
	if c.Receiver.Frequency != 915e6 || c.Receiver.SampleRate != 2.048e6 || c.Receiver.FFTSize != 2048 {
		t.Errorf("unexpected receiver config %+v", c.Receiver)
	}

	d := c.DetectionConfig()
	if d.PowerThreshold != -70 || d.BandwidthThreshold != 0.1e6 || d.ZScoreThreshold != 1.5 ||
		d.DetectionWindow != 5 || d.MinDuration != 100*time.Millisecond || d.TestMode || d.DedupEpisodes {
		t.Errorf("unexpected detection config %+v", d)
	}

	if c.Display.WaterfallLength != 50 || time.Duration(c.Display.UpdateInterval) != time.Millisecond {
		t.Errorf("unexpected display config %+v", c.Display)
	}
	if c.Settings.LogLevel != slog.LevelInfo {
		t.Errorf("unexpected log level %s", c.Settings.LogLevel)
	}
}

func TestLoadConfig_MergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
settings:
  logLevel: debug
receiver:
  frequency: 433.92e6
detector:
  minDuration: 250ms
  dedupEpisodes: true
display:
  updateInterval: 0.01
  theme: thermal
mqtt:
  broker: tcp://localhost:1883
  password: secret
`)

	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.Settings.LogLevel != slog.LevelDebug {
		t.Errorf("expected debug log level, got %s", c.Settings.LogLevel)
	}
	if c.Receiver.Frequency != 433.92e6 {
		t.Errorf("expected frequency 433.92e6, got %f", c.Receiver.Frequency)
	}
	if c.Receiver.SampleRate != 2.048e6 || c.Receiver.FFTSize != 2048 {
		t.Errorf("expected default sample rate and FFT size, got %+v", c.Receiver)
	}
	if time.Duration(c.Detector.MinDuration) != 250*time.Millisecond || !c.Detector.DedupEpisodes {
		t.Errorf("unexpected detector config %+v", c.Detector)
	}
	if c.Detector.ZScoreThreshold != 1.5 {
		t.Errorf("expected default z-score threshold, got %f", c.Detector.ZScoreThreshold)
	}
	if time.Duration(c.Display.UpdateInterval) != 10*time.Millisecond {
		t.Errorf("expected update interval 10ms, got %s", time.Duration(c.Display.UpdateInterval))
	}
	if c.MQTT.Topic != "rtl-sdr-analyzer/events" {
		t.Errorf("expected default topic, got %q", c.MQTT.Topic)
	}

	if r := c.Redacted(); r.MQTT.Password != "***" || c.MQTT.Password != "secret" {
		t.Errorf("expected only the copy to be redacted, got %q and %q", r.MQTT.Password, c.MQTT.Password)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"unknown field", "receiver:\n  gain: 10\n"},
		{"bad duration", "detector:\n  minDuration: soon\n"},
		{"bad log level", "settings:\n  logLevel: loud\n"},
		{"invalid value", "receiver:\n  fftSize: 0\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tc.content)); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(c *Config)
		errMsg string
	}{
		{"valid", func(c *Config) {}, ""},
		{"port", func(c *Config) { c.RTLTCP.Port = 70000 }, "port"},
		{"host", func(c *Config) { c.RTLTCP.Host = "" }, "host"},
		{"fft size", func(c *Config) { c.Receiver.FFTSize = -1 }, "FFT size"},
		{"sample rate", func(c *Config) { c.Receiver.SampleRate = 0 }, "sample rate"},
		{"window", func(c *Config) { c.Detector.DetectionWindow = 0 }, "detection window"},
		{"theme", func(c *Config) { c.Display.Theme = "neon" }, "theme"},
		{"waterfall", func(c *Config) { c.Display.WaterfallLength = 0 }, "waterfall length"},
		{"update interval", func(c *Config) { c.Display.UpdateInterval = 0 }, "update interval"},
		{"snapshot interval", func(c *Config) {
			c.Display.SnapshotPath = "waterfall.png"
			c.Display.SnapshotInterval = 0
		}, "snapshot interval"},
		{"storage", func(c *Config) {
			c.Storage.Enabled = true
			c.Storage.DataDirectory = ""
		}, "data directory"},
		{"mqtt", func(c *Config) { c.MQTT.Enabled = true }, "broker"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewConfig()
			tc.modify(c)

			err := c.Validate()
			if tc.errMsg == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.errMsg) {
				t.Errorf("expected error containing %q, got %v", tc.errMsg, err)
			}
		})
	}
}

func TestDuration_MarshalYAML(t *testing.T) {
	out, err := yaml.Marshal(struct {
		D Duration `yaml:"d"`
	}{Duration(1500 * time.Millisecond)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "d: 1.5s\n" {
		t.Errorf("unexpected output %q", out)
	}
}
