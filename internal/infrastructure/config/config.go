package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level application configuration, loaded via viper with
// nested mapstructure-tagged structs, following the teacher's
// config.go layering pattern (defaults -> config file -> environment).
type Config struct {
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Provider ProviderConfig `mapstructure:"provider"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	MCP      MCPConfig      `mapstructure:"mcp"`
	Plugins  PluginsConfig  `mapstructure:"plugins"`
}

// GatewayConfig configures the public HTTP/WebSocket boundary (spec §6).
type GatewayConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	Secret string `mapstructure:"secret"` // shared-secret gate
}

// DatabaseConfig selects the gorm dialector.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

// ProviderConfig configures the default LLM provider adaptor and its
// retry policy (spec §4.4, §6 env inputs: LLM_RETRY_MAX/_BACKOFF_MS/
// _MAX_BACKOFF_MS/_JITTER_RATIO/_STATUS_CODES).
type ProviderConfig struct {
	Type    string `mapstructure:"type"` // openai (default)
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`

	RetryMax         int     `mapstructure:"retry_max"`
	RetryBackoffMS   int64   `mapstructure:"retry_backoff_ms"`
	RetryMaxBackoffMS int64  `mapstructure:"retry_max_backoff_ms"`
	RetryJitterRatio float64 `mapstructure:"retry_jitter_ratio"`
	RetryStatusCodes []int   `mapstructure:"retry_status_codes"`

	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerRecovery  time.Duration `mapstructure:"circuit_breaker_recovery"`
}

// AgentConfig configures the step loop (spec §4.6).
type AgentConfig struct {
	IterationLimit    int           `mapstructure:"iteration_limit"` // 0 = unlimited
	MaxParallelTools  int           `mapstructure:"max_parallel_tools"`
	ToolTimeout       time.Duration `mapstructure:"tool_timeout"`
	SnapshotThreshold int           `mapstructure:"snapshot_threshold"` // events since last snapshot
	ForkTokenTTL      time.Duration `mapstructure:"fork_token_ttl"`
	HITLTools         []string      `mapstructure:"hitl_tools"`
}

// ScheduleConfig configures the schedule engine's executor loop.
type ScheduleConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// MCPConfig lists the externally configured remote tool servers.
type MCPConfig struct {
	Servers []MCPServerConfig `mapstructure:"servers"`
}

type MCPServerConfig struct {
	ID      string `mapstructure:"id"`
	Name    string `mapstructure:"name"`
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// PluginsConfig configures the hot-reloadable plugin directory.
type PluginsConfig struct {
	Dir       string `mapstructure:"dir"`
	HotReload bool   `mapstructure:"hot_reload"`
}

// Load reads config.yaml (if present) layered under defaults, then applies
// environment-variable overrides with prefix RUNTIME_.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".agentforge"))
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("RUNTIME")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 8080)
	v.SetDefault("gateway.secret", "")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "runtime.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("provider.type", "openai")
	v.SetDefault("provider.base_url", "https://api.openai.com/v1")
	v.SetDefault("provider.model", "gpt-4o-mini")
	v.SetDefault("provider.retry_max", 3)
	v.SetDefault("provider.retry_backoff_ms", 500)
	v.SetDefault("provider.retry_max_backoff_ms", 8000)
	v.SetDefault("provider.retry_jitter_ratio", 0.2)
	v.SetDefault("provider.retry_status_codes", []int{429, 500, 502, 503, 504})
	v.SetDefault("provider.circuit_breaker_threshold", 5)
	v.SetDefault("provider.circuit_breaker_recovery", "30s")

	v.SetDefault("agent.iteration_limit", 200)
	v.SetDefault("agent.max_parallel_tools", 25)
	v.SetDefault("agent.tool_timeout", "60s")
	v.SetDefault("agent.snapshot_threshold", 100)
	v.SetDefault("agent.fork_token_ttl", "60s")

	v.SetDefault("schedule.poll_interval", "1m")

	v.SetDefault("plugins.dir", "./plugins")
	v.SetDefault("plugins.hot_reload", true)
}
