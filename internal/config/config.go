// Package config loads modelgate's configuration from environment
// variables with functional-option overrides: defaults first,
// environment next, functional options highest priority, then a final
// Validate pass.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrInvalidConfig wraps every Validate failure so callers can match
// the class with errors.Is without parsing messages.
var ErrInvalidConfig = errors.New("invalid configuration")

// ModelConfig describes one OpenAI-compatible chat endpoint.
type ModelConfig struct {
	Model   string
	BaseURL string
	APIKey  string
}

// ExecutorConfig bounds the worker pool and task lifetime.
type ExecutorConfig struct {
	NumWorkers int
	Lifetime   time.Duration
	Expiration time.Duration
}

// OSSConfig addresses the Aliyun-OSS-compatible bucket.
type OSSConfig struct {
	Prefix          string
	Bucket          string
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
}

// Config is the full set of sections this gateway needs to run.
type Config struct {
	Port int

	RedisURL       string
	RedisNamespace string

	Executor ExecutorConfig
	OSS      OSSConfig

	// Models is keyed by role: "text" and "multimodal" are the two
	// roles routing dispatches between. Additional entries are built
	// into the registry but never routed to; the request-time ?model=
	// override is passed as a model name to the routed client instead.
	Models map[string]ModelConfig

	LogLevel string
}

// DefaultConfig returns the baseline configuration before environment
// variables or options are applied.
func DefaultConfig() *Config {
	return &Config{
		Port:           8080,
		RedisURL:       "redis://127.0.0.1:6379/0",
		RedisNamespace: "modelgate",
		Executor: ExecutorConfig{
			NumWorkers: 4,
			Lifetime:   30 * time.Second,
			Expiration: 24 * time.Hour,
		},
		Models:   map[string]ModelConfig{},
		LogLevel: "info",
	}
}

// Option mutates a Config after defaults and environment variables have
// been applied; see New.
type Option func(*Config) error

// WithPort overrides the HTTP listen port.
func WithPort(port int) Option {
	return func(c *Config) error {
		c.Port = port
		return nil
	}
}

// WithModel registers or replaces a named model configuration.
func WithModel(role string, model ModelConfig) Option {
	return func(c *Config) error {
		c.Models[role] = model
		return nil
	}
}

// New builds a Config: defaults, then environment, then opts, then
// validation.
func New(opts ...Option) (*Config, error) {
	c := DefaultConfig()
	c.loadFromEnv()

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("apply config option: %w", err)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("MODELGATE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := os.Getenv("MODELGATE_REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("MODELGATE_REDIS_NAMESPACE"); v != "" {
		c.RedisNamespace = v
	}
	if v := os.Getenv("MODELGATE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	if v := os.Getenv("MODELGATE_EXECUTOR_NUM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Executor.NumWorkers = n
		}
	}
	if v := os.Getenv("MODELGATE_EXECUTOR_LIFETIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Executor.Lifetime = d
		}
	}
	if v := os.Getenv("MODELGATE_EXECUTOR_EXPIRATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Executor.Expiration = d
		}
	}

	if v := os.Getenv("MODELGATE_OSS_PREFIX"); v != "" {
		c.OSS.Prefix = v
	}
	if v := os.Getenv("MODELGATE_OSS_BUCKET"); v != "" {
		c.OSS.Bucket = v
	}
	if v := os.Getenv("MODELGATE_OSS_ENDPOINT"); v != "" {
		c.OSS.Endpoint = v
	}
	if v := os.Getenv("MODELGATE_OSS_ACCESS_KEY_ID"); v != "" {
		c.OSS.AccessKeyID = v
	}
	if v := os.Getenv("MODELGATE_OSS_ACCESS_KEY_SECRET"); v != "" {
		c.OSS.AccessKeySecret = v
	}

	for _, role := range []string{"text", "multimodal"} {
		prefix := "MODELGATE_MODEL_" + upper(role) + "_"
		model := c.Models[role]
		changed := false
		if v := os.Getenv(prefix + "MODEL"); v != "" {
			model.Model = v
			changed = true
		}
		if v := os.Getenv(prefix + "BASE_URL"); v != "" {
			model.BaseURL = v
			changed = true
		}
		if v := os.Getenv(prefix + "API_KEY"); v != "" {
			model.APIKey = v
			changed = true
		}
		if changed {
			if c.Models == nil {
				c.Models = map[string]ModelConfig{}
			}
			c.Models[role] = model
		}
	}
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}

// Validate rejects configurations the rest of the system cannot act on.
func (c *Config) Validate() error {
	if c.Executor.NumWorkers <= 0 {
		return fmt.Errorf("%w: executor.num_workers must be positive, got %d", ErrInvalidConfig, c.Executor.NumWorkers)
	}
	if c.Executor.Lifetime <= 0 {
		return fmt.Errorf("%w: executor.lifetime must be positive, got %s", ErrInvalidConfig, c.Executor.Lifetime)
	}
	if c.Executor.Expiration <= 0 {
		return fmt.Errorf("%w: executor.expiration must be positive, got %s", ErrInvalidConfig, c.Executor.Expiration)
	}
	for _, role := range []string{"text", "multimodal"} {
		if _, ok := c.Models[role]; !ok {
			return fmt.Errorf("%w: missing model configuration for role %q", ErrInvalidConfig, role)
		}
	}
	return nil
}
