package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// yamlSafePath converts a filesystem path to a YAML-safe representation.
// On Windows, backslashes in double-quoted YAML strings are interpreted as
// escape sequences (e.g. \U -> Unicode escape), causing parse errors.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func TestLoad_DefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

database:
  type: sqlite
  sqlite:
    path: "` + yamlSafePath(tmpDir) + `/canvas.db"

server:
  port: 4000
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("Expected server port 4000, got %d", cfg.Server.Port)
	}
	if len(cfg.Media.Formats) != 1 || cfg.Media.Formats[0] != "webm" {
		t.Errorf("Expected default formats [webm], got %v", cfg.Media.Formats)
	}
	if cfg.Media.FFmpegPath != "ffmpeg" {
		t.Errorf("Expected default ffmpeg path 'ffmpeg', got %q", cfg.Media.FFmpegPath)
	}
	if !cfg.Cleanup.IsEnabled() {
		t.Error("Expected cleanup enabled by default")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level INFO, got %q", cfg.Logging.Level)
	}
	if cfg.Database.SQLite.Path == "" {
		t.Error("Expected a default sqlite path")
	}
}

func TestLoad_LogLevelNormalized(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	configContent := `
logging:
  level: "debug"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level DEBUG, got %q", cfg.Logging.Level)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("CORS_ORIGINS", "https://one.example,https://two.example")

	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 8081 {
		t.Errorf("Expected PORT override 8081, got %d", cfg.Server.Port)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[0] != "https://one.example" {
		t.Errorf("Expected CORS_ORIGINS override, got %v", cfg.Server.CORSOrigins)
	}
}

func TestLoad_DurationStrings(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	configContent := `
shutdown_timeout: "45s"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.ShutdownTimeout != 45*time.Second {
		t.Errorf("Expected 45s shutdown timeout, got %v", cfg.ShutdownTimeout)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "LOUD"
	if err := Validate(cfg); err == nil {
		t.Error("Expected validation error for invalid log level")
	}
}

func TestValidate_InvalidFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Media.Formats = []string{"avi"}
	if err := Validate(cfg); err == nil {
		t.Error("Expected validation error for unsupported transcode format")
	}
}

func TestValidate_OddDimensions(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Media.MaxWidth = 1919
	if err := Validate(cfg); err == nil {
		t.Error("Expected validation error for odd max width")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "out", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Server.Port = 3333
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to reload saved config: %v", err)
	}
	if loaded.Server.Port != 3333 {
		t.Errorf("Expected round-tripped port 3333, got %d", loaded.Server.Port)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat config: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600 permissions, got %v", info.Mode().Perm())
	}
}
