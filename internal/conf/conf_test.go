package conf

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for key := range envKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv("CONFIG_FILE", "")
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Expected driver sqlite, got %s", cfg.Database.Driver)
	}
	if cfg.Buffer.DebounceSeconds != 30 {
		t.Errorf("Expected debounce 30, got %d", cfg.Buffer.DebounceSeconds)
	}
	if cfg.Processor.BatchSize != 5 {
		t.Errorf("Expected batch size 5, got %d", cfg.Processor.BatchSize)
	}
	if !cfg.Inbox.AIDefault {
		t.Error("Expected AI to be enabled for new conversations by default")
	}

	bufCfg := cfg.ToBufferConfig()
	if bufCfg.DebounceWindow != 30*time.Second {
		t.Errorf("Expected 30s window, got %v", bufCfg.DebounceWindow)
	}
	if bufCfg.ReclaimAfter != 10*time.Minute {
		t.Errorf("Expected 10m reclaim, got %v", bufCfg.ReclaimAfter)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "inbox-bridge.toml")
	content := `
[buffer]
debounce_seconds = 12

[processor]
batch_size = 9
schedule = "*/2 * * * *"

[gateway]
base_url = "https://file.example.com"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("UAZAPI_BASE_URL", "https://env.example.com")
	t.Setenv("PROCESSOR_BATCH_SIZE", "3")
	t.Setenv("AMQP_CONSUME", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Buffer.DebounceSeconds != 12 {
		t.Errorf("Expected debounce from file, got %d", cfg.Buffer.DebounceSeconds)
	}
	if cfg.Gateway.BaseURL != "https://env.example.com" {
		t.Errorf("Expected env to override file, got %s", cfg.Gateway.BaseURL)
	}
	if cfg.Processor.BatchSize != 3 {
		t.Errorf("Expected batch size 3, got %d", cfg.Processor.BatchSize)
	}
	if cfg.Processor.Schedule != "*/2 * * * *" {
		t.Errorf("Expected schedule from file, got %q", cfg.Processor.Schedule)
	}
	if !cfg.AMQP.Consume {
		t.Error("Expected AMQP_CONSUME=true to be parsed")
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolate(t)

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database:   DatabaseConfig{Driver: "sqlite", DSN: "/tmp/inbox.db"},
			Gateway:    GatewayConfig{BaseURL: "https://gw.example.com"},
			Processor:  ProcessorConfig{BatchSize: 5},
			Automation: AutomationConfig{Timezone: "America/Sao_Paulo"},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "DATABASE_DRIVER"},
		{"no gateway", func(c *Config) { c.Gateway.BaseURL = "" }, "UAZAPI_BASE_URL"},
		{"zero batch", func(c *Config) { c.Processor.BatchSize = 0 }, "PROCESSOR_BATCH_SIZE"},
		{"bad cron", func(c *Config) { c.Processor.Schedule = "every minute" }, "PROCESSOR_SCHEDULE"},
		{"bad timezone", func(c *Config) { c.Automation.Timezone = "Mars/Olympus" }, "AUTOMATION_TIMEZONE"},
		{"consume without url", func(c *Config) { c.AMQP.Consume = true }, "AMQP_URL"},
		{"reclaim shorter than a reply", func(c *Config) { c.Processor.ReclaimMinutes = 1 }, "PROCESSOR_RECLAIM_MINUTES"},
		{"reclaim covers a reply", func(c *Config) { c.Processor.ReclaimMinutes = 2 }, ""},
		{"reclaim shorter than slow agent", func(c *Config) {
			c.Processor.ReclaimMinutes = 5
			c.LLM.AgentTimeoutSeconds = 300
		}, "PROCESSOR_RECLAIM_MINUTES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.field == "" {
				if err != nil {
					t.Fatalf("Expected valid config, got %v", err)
				}
				return
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, cfgErr.Field)
			}
		})
	}
}

func TestCheckReclaimWindow(t *testing.T) {
	cfg := &Config{Processor: ProcessorConfig{ReclaimMinutes: 2}}

	// 60s agent timeout + 8s typing + 30s send leaves 22s of response delay
	if err := cfg.CheckReclaimWindow(20 * time.Second); err != nil {
		t.Errorf("Expected 20s delay to fit, got %v", err)
	}
	err := cfg.CheckReclaimWindow(30 * time.Second)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "PROCESSOR_RECLAIM_MINUTES" {
		t.Errorf("Expected reclaim window error, got %v", err)
	}
}

func TestLocation(t *testing.T) {
	c := AutomationConfig{}
	loc, err := c.Location()
	if err != nil || loc != time.UTC {
		t.Errorf("Expected UTC for empty timezone, got %v (%v)", loc, err)
	}
}
