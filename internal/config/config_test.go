package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zsiec/blackbox/internal/playback"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blackbox.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Playback != playback.DefaultConfig() {
		t.Errorf("Playback = %+v, want defaults %+v", c.Playback, playback.DefaultConfig())
	}
	if c.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want INFO", c.LogLevel)
	}
	if c.MetricsAddr != "" || c.ImpactThreshold != 2.5 {
		t.Errorf("MetricsAddr=%q ImpactThreshold=%v", c.MetricsAddr, c.ImpactThreshold)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
playback:
  drift_threshold: 30ms
  tick_interval: 8ms
buffer:
  capacity: 60
watchdog:
  stall_timeout: 5s
  max_recoveries: 1
log:
  level: debug
metrics:
  addr: ":9100"
`)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	p := c.Playback
	if p.DriftThreshold != 30*time.Millisecond || p.TickInterval != 8*time.Millisecond {
		t.Errorf("durations = %v %v", p.DriftThreshold, p.TickInterval)
	}
	if p.BufferCapacity != 60 || p.StallTimeout != 5*time.Second || p.MaxRecoveries != 1 {
		t.Errorf("Playback = %+v", p)
	}
	// Keys absent from the file keep their defaults.
	if p.SkipTolerance != playback.DefaultConfig().SkipTolerance {
		t.Errorf("SkipTolerance = %v, want default", p.SkipTolerance)
	}
	if c.LogLevel != slog.LevelDebug || c.MetricsAddr != ":9100" {
		t.Errorf("LogLevel=%v MetricsAddr=%q", c.LogLevel, c.MetricsAddr)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "buffer:\n  capacity: 60\n")
	t.Setenv("BLACKBOX_BUFFER_CAPACITY", "90")
	t.Setenv("BLACKBOX_WATCHDOG_STALL_TIMEOUT", "750ms")

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Playback.BufferCapacity != 90 {
		t.Errorf("BufferCapacity = %d, want 90 from env", c.Playback.BufferCapacity)
	}
	if c.Playback.StallTimeout != 750*time.Millisecond {
		t.Errorf("StallTimeout = %v, want 750ms from env", c.Playback.StallTimeout)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
	if _, err := Load(writeFile(t, "buffer:\n  capacity: 0\n")); err == nil {
		t.Error("expected validation error for zero capacity")
	}
	if _, err := Load(writeFile(t, "log:\n  level: loud\n")); err == nil {
		t.Error("expected error for unknown log level")
	}
}

func TestLoadRejectsZeroThatWouldBeDefaulted(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"max recoveries", "watchdog:\n  max_recoveries: 0\n"},
		{"skip tolerance", "buffer:\n  skip_tolerance: 0s\n"},
		{"stall timeout", "watchdog:\n  stall_timeout: 0s\n"},
		{"prime timeout", "playback:\n  prime_timeout: 0s\n"},
	}
	for _, tt := range tests {
		if _, err := Load(writeFile(t, tt.body)); err == nil {
			t.Errorf("%s: expected validation error for zero", tt.name)
		}
	}

	// A negative stall timeout is the explicit way to disable the watchdog.
	c, err := Load(writeFile(t, "watchdog:\n  stall_timeout: -1s\n"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Playback.StallTimeout != -time.Second {
		t.Errorf("StallTimeout = %v, want -1s", c.Playback.StallTimeout)
	}
}
