package config

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codyaverett/mcp-agent/internal/gateway"
	"github.com/codyaverett/mcp-agent/internal/infer"
	"github.com/codyaverett/mcp-agent/internal/observe"
	"github.com/codyaverett/mcp-agent/internal/provider"
	"github.com/codyaverett/mcp-agent/internal/scheduler"
)

// DefaultBackend is the backend command used when none is configured.
const DefaultBackend = "deno run --allow-all src/cli.ts"

type Config struct {
	Backend      BackendConfig      `yaml:"backend"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Inference    InferenceConfig    `yaml:"inference"`
	Observe      ObserveConfig      `yaml:"observe"`
	Journal      JournalConfig      `yaml:"journal"`
	Schedule     ScheduleConfig     `yaml:"schedule"`
}

type BackendConfig struct {
	// Command is a command line, a ws:// or wss:// URL, or grpc://host:port.
	Command        string            `yaml:"command"`
	Dir            string            `yaml:"dir"`
	Env            map[string]string `yaml:"env"`
	Timeout        time.Duration     `yaml:"timeout"`
	MaxOutputBytes int               `yaml:"max_output_bytes"`
}

type OrchestratorConfig struct {
	Transactional     bool `yaml:"transactional"`
	TrustBackendOrder bool `yaml:"trust_backend_order"`
	// Concurrency bounds parallel runs in run-file mode.
	Concurrency int `yaml:"concurrency"`
}

type InferenceConfig struct {
	Strategy        string                    `yaml:"strategy"`
	Rules           []infer.RuleConfig        `yaml:"rules"`
	DisableBuiltins bool                      `yaml:"disable_builtins"`
	LuaScript       string                    `yaml:"lua_script"`
	Model           string                    `yaml:"model"`
	FallbackModels  []string                  `yaml:"fallback_models"`
	// Timeout bounds each lua or model inference call.
	Timeout         time.Duration             `yaml:"timeout"`
	Providers       map[string]ProviderConfig `yaml:"providers"`
}

type ProviderConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	API     string        `yaml:"api"`
	Timeout time.Duration `yaml:"timeout"`
}

type ObserveConfig struct {
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Redis   RedisConfig   `yaml:"redis"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	// Addr is the listen address of the /metrics endpoint; empty disables it.
	Addr string `yaml:"addr"`
}

type RedisConfig struct {
	// Addr enables the Redis event stream when set.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

type JournalConfig struct {
	// Driver is "sqlite" or "postgres". The journal is off while DSN is empty.
	Driver    string        `yaml:"driver"`
	DSN       string        `yaml:"dsn"`
	Retention time.Duration `yaml:"retention"`
}

type ScheduleConfig struct {
	Jobs []scheduler.Job `yaml:"jobs"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandEnvFields expands ${VAR} in the fields that commonly carry secrets
// or host-specific values.
func expandEnvFields(cfg *Config) {
	cfg.Backend.Command = expandEnv(cfg.Backend.Command)
	cfg.Backend.Dir = expandEnv(cfg.Backend.Dir)
	for k, v := range cfg.Backend.Env {
		cfg.Backend.Env[k] = expandEnv(v)
	}
	for name, p := range cfg.Inference.Providers {
		p.BaseURL = expandEnv(p.BaseURL)
		p.APIKey = expandEnv(p.APIKey)
		cfg.Inference.Providers[name] = p
	}
	cfg.Inference.LuaScript = expandEnv(cfg.Inference.LuaScript)
	cfg.Observe.Redis.Addr = expandEnv(cfg.Observe.Redis.Addr)
	cfg.Observe.Redis.Password = expandEnv(cfg.Observe.Redis.Password)
	cfg.Journal.DSN = expandEnv(cfg.Journal.DSN)
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes data, expands environment references and applies
// defaults. It does not validate; call Validate once overrides are in.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	expandEnvFields(&cfg)
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Backend.Command == "" {
		c.Backend.Command = DefaultBackend
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = gateway.DefaultTimeout
	}
	if c.Backend.MaxOutputBytes == 0 {
		c.Backend.MaxOutputBytes = gateway.DefaultMaxOutputBytes
	}
	if c.Orchestrator.Concurrency == 0 {
		c.Orchestrator.Concurrency = 4
	}
	if c.Inference.Strategy == "" {
		c.Inference.Strategy = infer.StrategyRules
	}
	if c.Inference.Timeout == 0 {
		c.Inference.Timeout = 30 * time.Second
	}
	if c.Observe.Log.Level == "" {
		c.Observe.Log.Level = "info"
	}
	if c.Observe.Log.Format == "" {
		c.Observe.Log.Format = "console"
	}
	if c.Observe.Redis.Stream == "" {
		c.Observe.Redis.Stream = "mcpagent:events"
	}
	if c.Observe.Redis.MaxLen == 0 {
		c.Observe.Redis.MaxLen = 10000
	}
	if c.Journal.Driver == "" {
		c.Journal.Driver = "sqlite"
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.Command) == "" {
		return fmt.Errorf("backend.command is required")
	}
	if c.Backend.Timeout < 0 {
		return fmt.Errorf("backend.timeout must not be negative")
	}
	if c.Backend.MaxOutputBytes < 0 {
		return fmt.Errorf("backend.max_output_bytes must not be negative")
	}
	if c.Orchestrator.Concurrency < 1 {
		return fmt.Errorf("orchestrator.concurrency must be at least 1")
	}

	switch c.Inference.Strategy {
	case infer.StrategyRules:
	case infer.StrategyLua:
		if c.Inference.LuaScript == "" {
			return fmt.Errorf("inference.lua_script is required for the lua strategy")
		}
	case infer.StrategyModel:
		ref, err := provider.ParseModelRef(c.Inference.Model)
		if err != nil {
			return fmt.Errorf("inference.model: %w", err)
		}
		if _, ok := c.Inference.Providers[ref.Provider()]; !ok {
			return fmt.Errorf("inference.model %q: provider %q is not configured", c.Inference.Model, ref.Provider())
		}
		for _, f := range c.Inference.FallbackModels {
			fref, err := provider.ParseModelRef(f)
			if err != nil {
				return fmt.Errorf("inference.fallback_models: %w", err)
			}
			if _, ok := c.Inference.Providers[fref.Provider()]; !ok {
				return fmt.Errorf("inference.fallback_models %q: provider %q is not configured", f, fref.Provider())
			}
		}
	default:
		return fmt.Errorf("inference.strategy %q is not one of %s, %s, %s",
			c.Inference.Strategy, infer.StrategyRules, infer.StrategyLua, infer.StrategyModel)
	}

	if _, err := observe.NewLogger(io.Discard, c.Observe.Log.Level, c.Observe.Log.Format); err != nil {
		return fmt.Errorf("observe.log: %w", err)
	}

	switch c.Journal.Driver {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("journal.driver %q is not sqlite or postgres", c.Journal.Driver)
	}
	if c.Journal.Retention < 0 {
		return fmt.Errorf("journal.retention must not be negative")
	}

	seen := make(map[string]bool, len(c.Schedule.Jobs))
	for _, j := range c.Schedule.Jobs {
		if err := j.Validate(); err != nil {
			return fmt.Errorf("schedule: %w", err)
		}
		if seen[j.Name] {
			return fmt.Errorf("schedule: duplicate job %q", j.Name)
		}
		seen[j.Name] = true
	}
	return nil
}

// Gateway returns the gateway settings.
func (c *Config) Gateway() gateway.Config {
	env := make([]string, 0, len(c.Backend.Env))
	for k, v := range c.Backend.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return gateway.Config{
		Backend:        c.Backend.Command,
		Dir:            c.Backend.Dir,
		Env:            env,
		Timeout:        c.Backend.Timeout,
		MaxOutputBytes: c.Backend.MaxOutputBytes,
	}
}

// Infer returns the inference settings, with providers ordered by ID.
func (c *Config) Infer() infer.Config {
	ids := make([]string, 0, len(c.Inference.Providers))
	for id := range c.Inference.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	providers := make([]provider.ProviderConfig, 0, len(ids))
	for _, id := range ids {
		p := c.Inference.Providers[id]
		providers = append(providers, provider.ProviderConfig{
			ID:      id,
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			API:     p.API,
			Timeout: p.Timeout,
		})
	}
	return infer.Config{
		Strategy:        c.Inference.Strategy,
		Rules:           c.Inference.Rules,
		DisableBuiltins: c.Inference.DisableBuiltins,
		LuaScript:       c.Inference.LuaScript,
		Model:           c.Inference.Model,
		Fallbacks:       c.Inference.FallbackModels,
		Providers:       providers,
		Timeout:         c.Inference.Timeout,
	}
}

func (c *Config) RedisOptions() observe.RedisOptions {
	return observe.RedisOptions{Stream: c.Observe.Redis.Stream, MaxLen: c.Observe.Redis.MaxLen}
}
