package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testLogger struct{ t *testing.T }

func (l testLogger) Debug(msg string, args ...any) { l.t.Logf("DEBUG %s %v", msg, args) }
func (l testLogger) Info(msg string, args ...any)  { l.t.Logf("INFO %s %v", msg, args) }
func (l testLogger) Warn(msg string, args ...any)  { l.t.Logf("WARN %s %v", msg, args) }
func (l testLogger) Error(msg string, args ...any) { l.t.Logf("ERROR %s %v", msg, args) }

func TestWatcherReloadsOnWrite(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	write := func(deviceID string) {
		t.Helper()
		content := "site:\n  id: test-site\ndatabase:\n  path: /tmp/test.db\ndevices:\n" +
			"  - id: " + deviceID + "\n    transport: tcp\n    address: 10.0.40.20\n" +
			"    port: 4001\n    dialect: text_matrix\n"
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	write("matrix-a")

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) { reloaded <- cfg }, testLogger{t})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Give the watcher a moment to install before mutating the file.
	time.Sleep(100 * time.Millisecond)
	write("matrix-b")

	select {
	case cfg := <-reloaded:
		if len(cfg.Devices) != 1 || cfg.Devices[0].ID != "matrix-b" {
			t.Errorf("reloaded devices = %+v, want matrix-b", cfg.Devices)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config change never reported")
	}
}

func TestWatcherIgnoresInvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(path,
		[]byte("site:\n  id: test-site\ndatabase:\n  path: /tmp/test.db\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) { reloaded <- cfg }, testLogger{t})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	// Broken YAML must not reach the callback.
	if err := os.WriteFile(path, []byte("site: [broken"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		t.Errorf("invalid config reached the callback: %+v", cfg)
	case <-time.After(time.Second):
	}
}
