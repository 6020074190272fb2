package main

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zsiec/blackbox/internal/manifest"
	"github.com/zsiec/blackbox/internal/snapshot"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInitThenSensors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	if _, err := execute(t, "init", path, "--duration", "10s"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := execute(t, "init", path); err == nil {
		t.Error("second init without --force should fail")
	}
	if _, err := execute(t, "init", path, "--force", "--duration", "10s"); err != nil {
		t.Errorf("init --force: %v", err)
	}

	m, err := manifest.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if m.Duration != 10*time.Second || len(m.Channels) != 4 {
		t.Errorf("manifest duration=%v channels=%d", m.Duration, len(m.Channels))
	}

	out, err := execute(t, "sensors", path, "--step", "5s")
	if err != nil {
		t.Fatalf("sensors: %v", err)
	}
	for _, want := range []string{"TIME", "00:00", "00:05", "00:10", "1 impact(s) above 2.5g"} {
		if !strings.Contains(out, want) {
			t.Errorf("sensors output missing %q:\n%s", want, out)
		}
	}
}

func TestSensorsRejectsBadStep(t *testing.T) {
	if _, err := execute(t, "sensors", "--demo", "5s", "--step", "0s"); err == nil {
		t.Error("expected error for zero step")
	}
}

func TestPlayDemoToEnd(t *testing.T) {
	snaps := filepath.Join(t.TempDir(), "run.bin")
	out, err := execute(t, "play", "--demo", "2s", "--speed", "8",
		"--status-interval", "50ms", "--snapshots", snaps, "--snapshot-interval", "20ms")
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if !strings.Contains(out, "stopped at 00:02 of 00:02") {
		t.Errorf("summary missing end position:\n%s", out)
	}
	if !strings.Contains(out, "front") {
		t.Errorf("summary missing channel stats:\n%s", out)
	}

	f, err := os.Open(snaps)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var n int
	var last time.Duration
	for {
		s, err := snapshot.Read(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("snapshot %d: %v", n, err)
		}
		if s.CurrentTime < last {
			t.Errorf("snapshot %d time %v went backwards from %v", n, s.CurrentTime, last)
		}
		if len(s.Channels) != 4 {
			t.Errorf("snapshot %d has %d channels, want 4", n, len(s.Channels))
		}
		last = s.CurrentTime
		n++
	}
	if n == 0 {
		t.Error("no snapshots recorded")
	}
}

func TestPlayRejectsBadSpeed(t *testing.T) {
	if _, err := execute(t, "play", "--demo", "1s", "--speed", "0"); err == nil {
		t.Error("expected error for zero speed")
	}
}

func TestPlayLimit(t *testing.T) {
	start := time.Now()
	out, err := execute(t, "play", "--demo", "30s", "--for", "200ms", "--status-interval", "0")
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("play --for 200ms took %v", elapsed)
	}
	if !strings.Contains(out, "stopped at 00:00 of 00:30") {
		t.Errorf("summary = %q", out)
	}
}

func TestConfigFlagErrors(t *testing.T) {
	if _, err := execute(t, "sensors", "--config", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
	if _, err := execute(t, "sensors", "--demo", "2s", "--log-level", "loud"); err == nil {
		t.Error("expected error for unknown log level")
	}
}
