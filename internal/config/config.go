package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Port           int   `yaml:"port"`
		MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	} `yaml:"server"`
	Files struct {
		AllowedExtensions []string      `yaml:"allowed_extensions"`
		UploadDir         string        `yaml:"upload_dir"`
		Retention         time.Duration `yaml:"retention"`
	} `yaml:"files"`
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	Queue struct {
		Size int `yaml:"size"`
	} `yaml:"queue"`
	Worker struct {
		Count          int  `yaml:"count"`
		RequeueOnStart bool `yaml:"requeue_on_start"`
	} `yaml:"worker"`
	Engine EngineConfig `yaml:"engine"`
	Audio  struct {
		BytesPerMs int64 `yaml:"bytes_per_ms"`
	} `yaml:"audio"`

	LogLevel string `yaml:"log_level"`
}

type EngineConfig struct {
	Kind       string        `yaml:"kind"` // "exec" or "http"
	Command    string        `yaml:"command"`
	Args       []string      `yaml:"args"`
	URL        string        `yaml:"url"`
	Concurrent bool          `yaml:"concurrent"`
	EagerInit  bool          `yaml:"eager_init"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.Worker.RequeueOnStart = true
	cfg.Engine.EagerInit = true
	cfg.applyDefaults()
	return &cfg
}

// LoadConfig reads path; a missing file yields Default().
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 512 * 1024 * 1024
	}
	if len(c.Files.AllowedExtensions) == 0 {
		c.Files.AllowedExtensions = []string{".wav", ".mp3", ".m4a", ".flac", ".ogg", ".pcm"}
	}
	if c.Files.UploadDir == "" {
		c.Files.UploadDir = "uploads"
	}
	if c.Files.Retention == 0 {
		c.Files.Retention = 24 * time.Hour
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "segscribe.db"
	}
	if c.Queue.Size == 0 {
		c.Queue.Size = 128
	}
	if c.Worker.Count == 0 {
		c.Worker.Count = 1
	}
	if c.Engine.Kind == "" {
		c.Engine.Kind = "exec"
	}
	if c.Engine.Kind == "exec" && c.Engine.Command == "" {
		c.Engine.Command = "python3"
		if len(c.Engine.Args) == 0 {
			c.Engine.Args = []string{"asr_worker.py"}
		}
	}
	if c.Engine.Timeout == 0 {
		c.Engine.Timeout = 30 * time.Minute
	}
	if c.Audio.BytesPerMs == 0 {
		c.Audio.BytesPerMs = 32 // 16 kHz mono s16le
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Server.MaxUploadBytes < 0 {
		return fmt.Errorf("server.max_upload_bytes must be >= 0")
	}
	for _, ext := range c.Files.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("files.allowed_extensions entries must start with a dot, got %q", ext)
		}
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be \"sqlite\" or \"postgres\", got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must not be empty")
	}
	if c.Queue.Size < 1 {
		return fmt.Errorf("queue.size must be > 0")
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("worker.count must be > 0")
	}
	switch c.Engine.Kind {
	case "exec":
		if c.Engine.Command == "" {
			return fmt.Errorf("engine.command must not be empty for exec engine")
		}
	case "http":
		if c.Engine.URL == "" {
			return fmt.Errorf("engine.url must not be empty for http engine")
		}
	default:
		return fmt.Errorf("engine.kind must be \"exec\" or \"http\", got %q", c.Engine.Kind)
	}
	if c.Audio.BytesPerMs < 1 {
		return fmt.Errorf("audio.bytes_per_ms must be > 0")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}
	return nil
}
