package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("AGD_CONFIG_DIR", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 3460 {
		t.Fatalf("Port = %d, want 3460", cfg.Port)
	}
	if cfg.Model != DefaultModel {
		t.Fatalf("Model = %q", cfg.Model)
	}
	if cfg.MaxLoopIterations <= 0 {
		t.Fatal("MaxLoopIterations not defaulted")
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: 4000\ncontrol_token: filetoken\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("AG_PORT", "5000")
	t.Setenv("AG_CONTROL_TOKEN", "envtoken")
	t.Setenv("GEMINI_API_KEY", "envkey")
	t.Setenv("WORKSPACE_PATH", "/tmp/ws")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 5000 {
		t.Fatalf("Port = %d, want 5000", cfg.Port)
	}
	if cfg.ControlToken != "envtoken" {
		t.Fatalf("ControlToken = %q", cfg.ControlToken)
	}
	if cfg.GeminiAPIKey != "envkey" {
		t.Fatalf("GeminiAPIKey = %q", cfg.GeminiAPIKey)
	}
	if cfg.WorkspaceRoot != "/tmp/ws" {
		t.Fatalf("WorkspaceRoot = %q", cfg.WorkspaceRoot)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("AG_PORT", "")
	t.Setenv("AG_CONTROL_TOKEN", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("WORKSPACE_PATH", "")

	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := Config{GeminiAPIKey: "k", Port: 4100, Model: "gemini-3-flash-preview"}
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.GeminiAPIKey != "k" || loaded.Port != 4100 {
		t.Fatalf("round trip lost values: %+v", loaded)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: 99999\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("AG_PORT", "")
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted an out-of-range port")
	}
}
