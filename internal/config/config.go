package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EngineKindHTTP     = "http"
	EngineKindTemporal = "temporal"

	NumberingSQL   = "sql"
	NumberingRedis = "redis"
)

// Config models casedata.yml.
type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Server struct {
		Addr               string `yaml:"addr"`
		BasePath           string `yaml:"base_path"`
		JWTSecret          string `yaml:"jwt_secret"`
		AllowLegacyHeaders bool   `yaml:"allow_legacy_headers"`
	} `yaml:"server"`
	Logging struct {
		Mode string `yaml:"mode"`
	} `yaml:"logging"`
	Tracing struct {
		Enabled     bool   `yaml:"enabled"`
		ServiceName string `yaml:"service_name"`
		// OTLPEndpoint switches export from stdout to OTLP over HTTP, e.g. otel-collector:4318.
		OTLPEndpoint string `yaml:"otlp_endpoint"`
		OTLPInsecure bool   `yaml:"otlp_insecure"`
	} `yaml:"tracing"`
	Retry      RetryConfig `yaml:"retry"`
	Dispatcher struct {
		QueueSize int `yaml:"queue_size"`
	} `yaml:"dispatcher"`
	Numbering NumberingConfig `yaml:"numbering"`
	CaseTypes []string        `yaml:"case_types"`
	Process   ProcessConfig   `yaml:"process"`
}

type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts"`
	InitialBackoffMS int `yaml:"initial_backoff_ms"`
	MaxBackoffMS     int `yaml:"max_backoff_ms"`
}

func (r RetryConfig) InitialBackoff() time.Duration {
	return time.Duration(r.InitialBackoffMS) * time.Millisecond
}

func (r RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffMS) * time.Millisecond
}

type NumberingConfig struct {
	Backend   string            `yaml:"backend"`
	RedisAddr string            `yaml:"redis_addr"`
	Prefixes  map[string]string `yaml:"prefixes"`
}

// Prefix returns the errand number prefix for a namespace.
func (n NumberingConfig) Prefix(namespace string) string {
	if p, ok := n.Prefixes[namespace]; ok && strings.TrimSpace(p) != "" {
		return strings.TrimSpace(p)
	}
	if p, ok := n.Prefixes["default"]; ok && strings.TrimSpace(p) != "" {
		return strings.TrimSpace(p)
	}
	return "ERR"
}

type ProcessConfig struct {
	// EngineClientID is the client identity the workflow engine uses when it calls back.
	EngineClientID string         `yaml:"engine_client_id"`
	Engines        []EngineConfig `yaml:"engines"`
}

type EngineConfig struct {
	Name           string   `yaml:"name"`
	Kind           string   `yaml:"kind"`
	Namespaces     []string `yaml:"namespaces"`
	BaseURL        string   `yaml:"base_url"`
	APIKey         string   `yaml:"api_key"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`

	Address           string `yaml:"address"`
	TemporalNamespace string `yaml:"temporal_namespace"`
	TaskQueue         string `yaml:"task_queue"`
	Workflow          string `yaml:"workflow"`
}

func (e EngineConfig) Timeout() time.Duration {
	if e.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with casedata config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config.retry.max_attempts must be >= 1")
	}
	if c.Retry.InitialBackoffMS < 0 || c.Retry.MaxBackoffMS < 0 {
		return fmt.Errorf("config.retry backoff must not be negative")
	}
	if c.Dispatcher.QueueSize < 1 {
		return fmt.Errorf("config.dispatcher.queue_size must be >= 1")
	}
	switch c.Numbering.Backend {
	case NumberingSQL:
	case NumberingRedis:
		if strings.TrimSpace(c.Numbering.RedisAddr) == "" {
			return fmt.Errorf("config.numbering.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config.numbering.backend must be 'sql' or 'redis'")
	}
	if len(c.CaseTypes) == 0 {
		return fmt.Errorf("config.case_types is required")
	}
	if strings.TrimSpace(c.Process.EngineClientID) == "" {
		return fmt.Errorf("config.process.engine_client_id is required")
	}
	names := map[string]struct{}{}
	for i, eng := range c.Process.Engines {
		if eng.Name == "" {
			return fmt.Errorf("config.process.engines[%d].name is required", i)
		}
		if _, dup := names[eng.Name]; dup {
			return fmt.Errorf("process engine %s defined twice", eng.Name)
		}
		names[eng.Name] = struct{}{}
		if len(eng.Namespaces) == 0 {
			return fmt.Errorf("process engine %s has no namespaces", eng.Name)
		}
		for _, ns := range eng.Namespaces {
			if strings.TrimSpace(ns) == "" {
				return fmt.Errorf("process engine %s has an empty namespace", eng.Name)
			}
		}
		switch eng.Kind {
		case EngineKindHTTP:
			if eng.BaseURL == "" {
				return fmt.Errorf("process engine %s: base_url is required", eng.Name)
			}
		case EngineKindTemporal:
			if eng.Address == "" || eng.TaskQueue == "" || eng.Workflow == "" {
				return fmt.Errorf("process engine %s: address, task_queue and workflow are required", eng.Name)
			}
		default:
			return fmt.Errorf("process engine %s: unknown kind %q", eng.Name, eng.Kind)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "casedata.yml")
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing sections keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `database:
  path: .casedata/casedata.db

server:
  addr: ":8080"
  base_path: /api
  jwt_secret: ""
  allow_legacy_headers: false

logging:
  mode: development

tracing:
  enabled: false
  service_name: casedata
  otlp_endpoint: ""
  otlp_insecure: false

retry:
  max_attempts: 5
  initial_backoff_ms: 10
  max_backoff_ms: 200

dispatcher:
  queue_size: 1024

numbering:
  backend: sql
  prefixes:
    default: ERR

case_types:
  - PARKING_PERMIT
  - PARKING_PERMIT_RENEWAL
  - LOST_PARKING_PERMIT
  - ANMALAN_ATTEFALL
  - NYBYGGNAD_ANSOKAN_OM_BYGGLOV
  - MEX_LEAVE_LAND
  - MEX_BUY_LAND_FROM_THE_MUNICIPALITY
  - MEX_OTHER

process:
  engine_client_id: process-engine
  engines: []
`
