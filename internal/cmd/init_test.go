package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/taskforge/taskforge/internal/config"
)

func runInit(t *testing.T, coordDir string) string {
	t.Helper()
	cmd := newInitCommand()
	cmd.Flags().String("coord-dir", "", "")
	cmd.Flags().Set("coord-dir", coordDir)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	if err := cmd.RunE(cmd, nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	return buf.String()
}

func TestInitCreatesCoordDirAndConfig(t *testing.T) {
	coordDir := filepath.Join(t.TempDir(), ".taskforge")
	out := runInit(t, coordDir)

	if _, err := os.Stat(coordDir); err != nil {
		t.Fatalf("coord dir not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(coordDir, "worktrees")); err != nil {
		t.Fatalf("worktrees dir not created: %v", err)
	}

	configPath := filepath.Join(coordDir, "config.yaml")
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	if !strings.Contains(out, "initialized coordination directory") {
		t.Errorf("expected confirmation message, got: %s", out)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		t.Fatalf("loading written config: %v", err)
	}
	want := config.DefaultConfig()
	if cfg.MaxWorkers != want.MaxWorkers || cfg.Timeout != want.Timeout || cfg.LogLevel != want.LogLevel {
		t.Errorf("written config doesn't round-trip defaults: got %+v, want %+v", cfg, want)
	}
}

func TestInitLeavesExistingConfigInPlace(t *testing.T) {
	coordDir := filepath.Join(t.TempDir(), ".taskforge")
	if err := os.MkdirAll(coordDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	configPath := filepath.Join(coordDir, "config.yaml")
	custom := []byte("max_workers: 99\ntimeout: 1h\nlog_level: debug\n")
	if err := os.WriteFile(configPath, custom, 0o644); err != nil {
		t.Fatalf("seeding config: %v", err)
	}

	out := runInit(t, coordDir)
	if !strings.Contains(out, "already exists") {
		t.Errorf("expected an already-exists message, got: %s", out)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("reading config: %v", err)
	}
	if string(data) != string(custom) {
		t.Errorf("existing config was overwritten: got %s", data)
	}
}
