package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Engine    EngineConfig              `yaml:"engine"`
	Sandbox   SandboxConfig             `yaml:"sandbox"`
	Languages map[string]LanguageConfig `yaml:"languages"`
	Database  DatabaseConfig            `yaml:"database"`
	Events    EventsConfig              `yaml:"events"`
	Metrics   MetricsConfig             `yaml:"metrics"`
	Security  SecurityConfig            `yaml:"security"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

// EngineConfig controls per-room admission, queueing and result retention.
type EngineConfig struct {
	MaxConcurrentExecutions int           `yaml:"max_concurrent_executions"`
	MaxQueueSize            int           `yaml:"max_queue_size"`
	ExecutionTimeout        time.Duration `yaml:"execution_timeout"`
	CleanupInterval         time.Duration `yaml:"cleanup_interval"`
	RetentionWindow         time.Duration `yaml:"retention_window"`
}

type SandboxConfig struct {
	ContainerdSocket string `yaml:"containerd_socket"`
	Namespace        string `yaml:"namespace"`
	Backend          string `yaml:"backend"` // "auto" (default), "containerd", or "docker"
}

// LanguageConfig carries the resource ceilings and size policy for one
// supported language. Static configuration; nothing mutates it at runtime.
type LanguageConfig struct {
	MemoryMB       int64         `yaml:"memory_mb"`
	CPUQuota       int64         `yaml:"cpu_quota"` // 1024 = 1 CPU core
	PidsLimit      int64         `yaml:"pids_limit"`
	MaxCodeBytes   int           `yaml:"max_code_bytes"`
	MaxInputBytes  int           `yaml:"max_input_bytes"`
	MaxOutputLines int           `yaml:"max_output_lines"`
	Timeout        time.Duration `yaml:"timeout"` // 0 falls back to engine.execution_timeout
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// EventsConfig controls the optional NATS bridge for room events.
// The in-process bus is always active; NATS is additive.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	BufferSize    int    `yaml:"buffer_size"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type SecurityConfig struct {
	APIKeyHeader   string   `yaml:"api_key_header"`
	AllowedKeys    []string `yaml:"allowed_keys"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// A partial language entry zeroes the fields it omits; fill those
	// back in so overriding one limit does not drop the others.
	for name, lc := range cfg.Languages {
		cfg.Languages[name] = lc.withDefaults()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    65 * time.Second, // > execution timeout + overhead
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  1 << 20, // 1MB
		},
		Engine: EngineConfig{
			MaxConcurrentExecutions: 3,
			MaxQueueSize:            10,
			ExecutionTimeout:        30 * time.Second,
			CleanupInterval:         60 * time.Second,
			RetentionWindow:         24 * time.Hour,
		},
		Sandbox: SandboxConfig{
			ContainerdSocket: "/run/containerd/containerd.sock",
			Namespace:        "collabquest",
			Backend:          "auto",
		},
		Languages: map[string]LanguageConfig{
			"python":     DefaultLanguage(),
			"javascript": DefaultLanguage(),
			"go":         DefaultLanguage(),
			"bash":       DefaultLanguage(),
		},
		Database: DatabaseConfig{
			DSN:             "",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Events: EventsConfig{
			NATSURL:       "",
			SubjectPrefix: "room",
			BufferSize:    64,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Security: SecurityConfig{
			APIKeyHeader:   "X-API-Key",
			RateLimitRPS:   100,
			RateLimitBurst: 200,
		},
	}
}

// DefaultLanguage returns the limits applied to languages that have no
// explicit configuration entry.
func DefaultLanguage() LanguageConfig {
	return LanguageConfig{
		MemoryMB:       256,
		CPUQuota:       512, // 0.5 CPU
		PidsLimit:      50,
		MaxCodeBytes:   50 * 1024,
		MaxInputBytes:  1024,
		MaxOutputLines: 1000,
	}
}

func (lc LanguageConfig) withDefaults() LanguageConfig {
	def := DefaultLanguage()
	if lc.MemoryMB == 0 {
		lc.MemoryMB = def.MemoryMB
	}
	if lc.CPUQuota == 0 {
		lc.CPUQuota = def.CPUQuota
	}
	if lc.PidsLimit == 0 {
		lc.PidsLimit = def.PidsLimit
	}
	if lc.MaxCodeBytes == 0 {
		lc.MaxCodeBytes = def.MaxCodeBytes
	}
	if lc.MaxInputBytes == 0 {
		lc.MaxInputBytes = def.MaxInputBytes
	}
	if lc.MaxOutputLines == 0 {
		lc.MaxOutputLines = def.MaxOutputLines
	}
	return lc
}

// Language returns the configuration for a language, falling back to
// defaults for names without an explicit entry.
func (c *Config) Language(name string) LanguageConfig {
	if lc, ok := c.Languages[name]; ok {
		return lc
	}
	return DefaultLanguage()
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Engine.MaxConcurrentExecutions < 1 {
		return fmt.Errorf("engine.max_concurrent_executions must be >= 1")
	}
	if c.Engine.MaxQueueSize < 1 {
		return fmt.Errorf("engine.max_queue_size must be >= 1")
	}
	if c.Engine.ExecutionTimeout < time.Second {
		return fmt.Errorf("engine.execution_timeout must be >= 1s, got %s", c.Engine.ExecutionTimeout)
	}
	if c.Engine.CleanupInterval < time.Second {
		return fmt.Errorf("engine.cleanup_interval must be >= 1s, got %s", c.Engine.CleanupInterval)
	}
	if c.Engine.RetentionWindow < c.Engine.CleanupInterval {
		return fmt.Errorf("engine.retention_window (%s) must be >= cleanup_interval (%s)",
			c.Engine.RetentionWindow, c.Engine.CleanupInterval)
	}
	switch c.Sandbox.Backend {
	case "", "auto", "containerd", "docker":
	default:
		return fmt.Errorf("sandbox.backend must be auto, containerd, or docker, got %q", c.Sandbox.Backend)
	}
	for name, lc := range c.Languages {
		if lc.MemoryMB < 16 {
			return fmt.Errorf("languages.%s.memory_mb must be >= 16", name)
		}
		if lc.MaxCodeBytes < 1 {
			return fmt.Errorf("languages.%s.max_code_bytes must be >= 1", name)
		}
		if lc.MaxOutputLines < 1 {
			return fmt.Errorf("languages.%s.max_output_lines must be >= 1", name)
		}
		if lc.Timeout < 0 {
			return fmt.Errorf("languages.%s.timeout must not be negative", name)
		}
	}
	if c.Events.BufferSize < 1 {
		return fmt.Errorf("events.buffer_size must be >= 1")
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable, connections to Postgres are unencrypted")
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
