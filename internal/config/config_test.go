package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if !cfg.Worker.RequeueOnStart {
		t.Error("Worker.RequeueOnStart should default to true")
	}
	if cfg.Audio.BytesPerMs != 32 {
		t.Errorf("Audio.BytesPerMs = %d, want 32", cfg.Audio.BytesPerMs)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	content := `
server:
  port: 9001
files:
  upload_dir: /tmp/segs
  retention: 2h
database:
  driver: postgres
  dsn: "host=localhost user=asr dbname=asr"
worker:
  count: 3
  requeue_on_start: false
engine:
  kind: http
  url: http://127.0.0.1:9000/transcribe
  concurrent: true
log_level: debug
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("Server.Port = %d, want 9001", cfg.Server.Port)
	}
	if cfg.Files.Retention != 2*time.Hour {
		t.Errorf("Files.Retention = %v, want 2h", cfg.Files.Retention)
	}
	if cfg.Worker.Count != 3 {
		t.Errorf("Worker.Count = %d, want 3", cfg.Worker.Count)
	}
	if cfg.Worker.RequeueOnStart {
		t.Error("Worker.RequeueOnStart should be false")
	}
	if cfg.Engine.Kind != "http" || !cfg.Engine.Concurrent {
		t.Errorf("Engine = %+v, want concurrent http engine", cfg.Engine)
	}
	if len(cfg.Files.AllowedExtensions) == 0 {
		t.Error("AllowedExtensions should fall back to defaults")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not-a-map"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected yaml parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"zero workers", func(c *Config) { c.Worker.Count = 0 }},
		{"http without url", func(c *Config) { c.Engine.Kind = "http"; c.Engine.URL = "" }},
		{"unknown engine", func(c *Config) { c.Engine.Kind = "grpc" }},
		{"extension without dot", func(c *Config) { c.Files.AllowedExtensions = []string{"wav"} }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
