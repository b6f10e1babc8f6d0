package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"

	"github.com/zapdesk/inbox-bridge/internal/biz/usecase"
)

// Config represents application configuration
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Buffer     BufferConfig     `koanf:"buffer"`
	Processor  ProcessorConfig  `koanf:"processor"`
	Gateway    GatewayConfig    `koanf:"gateway"`
	LLM        LLMConfig        `koanf:"llm"`
	Auth       AuthConfig       `koanf:"auth"`
	AMQP       AMQPConfig       `koanf:"amqp"`
	Automation AutomationConfig `koanf:"automation"`
	Inbox      InboxConfig      `koanf:"inbox"`
	Tracing    TracingConfig    `koanf:"tracing"`
	Log        LogConfig        `koanf:"log"`
	MCP        MCPConfig        `koanf:"mcp"`

	// Debug mode
	Debug bool `koanf:"debug"`
}

// ServerConfig contains HTTP API configuration
type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// DatabaseConfig selects the SQL backend
type DatabaseConfig struct {
	Driver string `koanf:"driver"` // sqlite or pgx
	DSN    string `koanf:"dsn"`    // file path for sqlite, URL for postgres
}

// BufferConfig contains debounce configuration
type BufferConfig struct {
	DebounceSeconds int `koanf:"debounce_seconds"`
	CleanupHours    int `koanf:"cleanup_hours"`
}

// ProcessorConfig contains drain loop configuration
type ProcessorConfig struct {
	BatchSize       int    `koanf:"batch_size"`
	IntervalSeconds int    `koanf:"interval_seconds"`
	Schedule        string `koanf:"schedule"` // cron expression, overrides the interval
	ReclaimMinutes  int    `koanf:"reclaim_minutes"`
	HistoryLimit    int    `koanf:"history_limit"`
}

// GatewayConfig contains UAZAPI configuration
type GatewayConfig struct {
	BaseURL       string  `koanf:"base_url"`
	Token         string  `koanf:"token"`
	RatePerSecond float64 `koanf:"rate_per_second"`
}

// LLMConfig contains the OpenAI-compatible endpoint used by native agents (optional)
type LLMConfig struct {
	APIKey              string `koanf:"api_key"`
	BaseURL             string `koanf:"base_url"`
	Model               string `koanf:"model"`
	AgentTimeoutSeconds int    `koanf:"agent_timeout_seconds"`
}

// AuthConfig contains service token configuration
type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
}

// AMQPConfig contains broker configuration (optional)
type AMQPConfig struct {
	URL      string `koanf:"url"`
	Exchange string `koanf:"exchange"`
	Queue    string `koanf:"queue"`
	Consume  bool   `koanf:"consume"`
}

// AutomationConfig contains trigger engine configuration
type AutomationConfig struct {
	Timezone string `koanf:"timezone"`
	SeedFile string `koanf:"seed_file"`
}

// InboxConfig contains defaults for new conversations
type InboxConfig struct {
	AIDefault bool `koanf:"ai_default"`
}

// TracingConfig contains OTLP exporter configuration (optional)
type TracingConfig struct {
	Endpoint    string `koanf:"endpoint"`
	ServiceName string `koanf:"service_name"`
}

// LogConfig contains logger configuration
type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

// MCPConfig contains the bridge endpoint used by the MCP server
type MCPConfig struct {
	BridgeURL   string `koanf:"bridge_url"`
	BridgeToken string `koanf:"bridge_token"`
}

// envKeys maps flat environment variable names to config keys
var envKeys = map[string]string{
	"SERVER_ADDR":                 "server.addr",
	"DATABASE_DRIVER":             "database.driver",
	"DATABASE_URL":                "database.dsn",
	"BUFFER_DEBOUNCE_SECONDS":     "buffer.debounce_seconds",
	"BUFFER_CLEANUP_HOURS":        "buffer.cleanup_hours",
	"PROCESSOR_BATCH_SIZE":        "processor.batch_size",
	"PROCESSOR_INTERVAL_SECONDS":  "processor.interval_seconds",
	"PROCESSOR_SCHEDULE":          "processor.schedule",
	"PROCESSOR_RECLAIM_MINUTES":   "processor.reclaim_minutes",
	"PROCESSOR_HISTORY_LIMIT":     "processor.history_limit",
	"UAZAPI_BASE_URL":             "gateway.base_url",
	"UAZAPI_TOKEN":                "gateway.token",
	"UAZAPI_RATE_PER_SECOND":      "gateway.rate_per_second",
	"OPENAI_API_KEY":              "llm.api_key",
	"OPENAI_BASE_URL":             "llm.base_url",
	"OPENAI_MODEL":                "llm.model",
	"AGENT_TIMEOUT_SECONDS":       "llm.agent_timeout_seconds",
	"JWT_SECRET":                  "auth.jwt_secret",
	"AMQP_URL":                    "amqp.url",
	"AMQP_EXCHANGE":               "amqp.exchange",
	"AMQP_QUEUE":                  "amqp.queue",
	"AMQP_CONSUME":                "amqp.consume",
	"AUTOMATION_TIMEZONE":         "automation.timezone",
	"SEED_FILE":                   "automation.seed_file",
	"INBOX_AI_DEFAULT":            "inbox.ai_default",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "tracing.endpoint",
	"OTEL_SERVICE_NAME":           "tracing.service_name",
	"LOG_LEVEL":                   "log.level",
	"LOG_PRETTY":                  "log.pretty",
	"DEBUG":                       "debug",
	"BRIDGE_URL":                  "mcp.bridge_url",
	"BRIDGE_TOKEN":                "mcp.bridge_token",
}

func defaults() map[string]interface{} {
	homeDir, _ := os.UserHomeDir()
	return map[string]interface{}{
		"server.addr":                 ":8080",
		"database.driver":             "sqlite",
		"database.dsn":                filepath.Join(homeDir, ".inbox-bridge", "inbox.db"),
		"buffer.debounce_seconds":     30,
		"buffer.cleanup_hours":        24,
		"processor.batch_size":        5,
		"processor.interval_seconds":  10,
		"processor.reclaim_minutes":   10,
		"processor.history_limit":     20,
		"gateway.rate_per_second":     5.0,
		"llm.agent_timeout_seconds":   60,
		"amqp.exchange":               "inbox.events",
		"amqp.queue":                  "inbox.automation",
		"automation.timezone":         "UTC",
		"inbox.ai_default":            true,
		"tracing.service_name":        "inbox-bridge",
		"log.level":                   "info",
		"mcp.bridge_url":              "http://127.0.0.1:8080",
	}
}

// Load reads .env, defaults, an optional TOML file and the environment, in
// increasing precedence. An empty configPath falls back to CONFIG_FILE and
// then to the default locations.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Str("component", "config").Msg("No .env file found, using environment variables")
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath == "" {
		configPath = os.Getenv("CONFIG_FILE")
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		for _, path := range []string{"./inbox-bridge.toml", "$HOME/.inbox-bridge.toml"} {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					log.Debug().Str("component", "config").Str("path", path).Msg("Loaded config file")
					break
				}
			}
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	return &cfg, nil
}

// ToBufferConfig converts to usecase buffer configuration
func (c *Config) ToBufferConfig() usecase.BufferConfig {
	cfg := usecase.DefaultBufferConfig()
	if c.Buffer.DebounceSeconds >= 0 {
		cfg.DebounceWindow = time.Duration(c.Buffer.DebounceSeconds) * time.Second
	}
	if c.Buffer.CleanupHours > 0 {
		cfg.CleanupAge = time.Duration(c.Buffer.CleanupHours) * time.Hour
	}
	if c.Processor.ReclaimMinutes > 0 {
		cfg.ReclaimAfter = time.Duration(c.Processor.ReclaimMinutes) * time.Minute
	}
	return cfg
}

// ToProcessorConfig converts to usecase processor configuration
func (c *Config) ToProcessorConfig() usecase.ProcessorConfig {
	cfg := usecase.DefaultProcessorConfig()
	if c.Processor.BatchSize > 0 {
		cfg.BatchSize = c.Processor.BatchSize
	}
	if c.Processor.HistoryLimit > 0 {
		cfg.HistoryLimit = c.Processor.HistoryLimit
	}
	return cfg
}

// Interval returns the processor poll interval
func (c *ProcessorConfig) Interval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

// AgentTimeout returns the per-invocation agent timeout, 60s when unset
func (c *LLMConfig) AgentTimeout() time.Duration {
	if c.AgentTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.AgentTimeoutSeconds) * time.Second
}

// Location returns the automation time zone, UTC when unset
func (c *AutomationConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "pgx", "postgres":
	default:
		return &ConfigError{Field: "DATABASE_DRIVER", Message: "must be sqlite or pgx"}
	}
	if c.Database.DSN == "" {
		return &ConfigError{Field: "DATABASE_URL", Message: "required"}
	}
	if c.Gateway.BaseURL == "" {
		return &ConfigError{Field: "UAZAPI_BASE_URL", Message: "required"}
	}
	if c.Buffer.DebounceSeconds < 0 {
		return &ConfigError{Field: "BUFFER_DEBOUNCE_SECONDS", Message: "must not be negative"}
	}
	if c.Processor.BatchSize <= 0 {
		return &ConfigError{Field: "PROCESSOR_BATCH_SIZE", Message: "must be positive"}
	}
	if c.Processor.Schedule != "" && !gronx.New().IsValid(c.Processor.Schedule) {
		return &ConfigError{Field: "PROCESSOR_SCHEDULE", Message: "invalid cron expression"}
	}
	if _, err := c.Automation.Location(); err != nil {
		return &ConfigError{Field: "AUTOMATION_TIMEZONE", Message: err.Error()}
	}
	if c.AMQP.Consume && c.AMQP.URL == "" {
		return &ConfigError{Field: "AMQP_URL", Message: "required when AMQP_CONSUME is set"}
	}
	return c.CheckReclaimWindow(0)
}

// CheckReclaimWindow fails when the reclaim window could fail a buffer that is
// still replying with an agent whose response delay reaches maxResponseDelay
func (c *Config) CheckReclaimWindow(maxResponseDelay time.Duration) error {
	need := usecase.MaxBufferProcessing(c.LLM.AgentTimeout(), maxResponseDelay)
	if reclaim := c.ToBufferConfig().ReclaimAfter; reclaim < need {
		return &ConfigError{
			Field:   "PROCESSOR_RECLAIM_MINUTES",
			Message: fmt.Sprintf("%s is shorter than the %s one buffer may take to reply", reclaim, need),
		}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
