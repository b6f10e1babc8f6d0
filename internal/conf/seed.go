package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
)

// SeedConfig is the YAML file that provisions instances, agents and automation
type SeedConfig struct {
	Instances []InstanceSeed           `yaml:"instances"`
	Agents    []AgentSeed              `yaml:"agents"`
	Rules     []*domain.AutomationRule `yaml:"rules"`
	Macros    []*domain.Macro          `yaml:"macros"`
}

// InstanceSeed describes a gateway account
type InstanceSeed struct {
	ID             string `yaml:"id"`
	Key            string `yaml:"key"`
	Name           string `yaml:"name"`
	Token          string `yaml:"token"`
	DefaultAgentID string `yaml:"default_agent"`
}

// AgentSeed describes an AI responder
type AgentSeed struct {
	ID               string `yaml:"id"`
	Name             string `yaml:"name"`
	Kind             string `yaml:"kind"`
	WebhookURL       string `yaml:"webhook_url"`
	SystemPrompt     string `yaml:"system_prompt"`
	Model            string `yaml:"model"`
	DelayMinSeconds  int    `yaml:"response_delay_min"`
	DelayMaxSeconds  int    `yaml:"response_delay_max"`
	TypingSimulation bool   `yaml:"typing_simulation"`
	Active           *bool  `yaml:"active"`
}

// LoadSeedConfig loads the seed file. A missing file at a default location is
// not an error and yields an empty seed.
func LoadSeedConfig(seedPath string) (*SeedConfig, error) {
	paths := []string{seedPath}
	if seedPath == "" {
		paths = []string{
			"configs/seed.yaml",
			"/etc/inbox-bridge/seed.yaml",
		}
		if execPath, err := os.Executable(); err == nil {
			paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "seed.yaml"))
		}
	}

	var data []byte
	var loadedPath string
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err == nil {
			data, loadedPath = b, p
			break
		}
		if seedPath != "" {
			return nil, fmt.Errorf("failed to read seed file: %w", err)
		}
	}

	if data == nil {
		log.Debug().Str("component", "config").Msg("No seed.yaml found, skipping seed")
		return &SeedConfig{}, nil
	}

	log.Info().Str("component", "config").Str("path", loadedPath).Msg("Loading seed file")

	var seed SeedConfig
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if err := seed.validate(); err != nil {
		return nil, err
	}
	seed.fillDefaults()
	return &seed, nil
}

func (s *SeedConfig) validate() error {
	for i, inst := range s.Instances {
		if inst.ID == "" || inst.Key == "" {
			return &ConfigError{Field: fmt.Sprintf("instances[%d]", i), Message: "id and key are required"}
		}
	}
	for i, a := range s.Agents {
		if a.ID == "" {
			return &ConfigError{Field: fmt.Sprintf("agents[%d]", i), Message: "id is required"}
		}
		if domain.AgentKind(a.Kind) != domain.AgentKindNative && a.WebhookURL == "" {
			return &ConfigError{Field: fmt.Sprintf("agents[%d].webhook_url", i), Message: "required for webhook agents"}
		}
	}
	for i, r := range s.Rules {
		if r.ID == "" {
			return &ConfigError{Field: fmt.Sprintf("rules[%d]", i), Message: "id is required"}
		}
		if !r.EventType.IsValid() {
			return &ConfigError{Field: fmt.Sprintf("rules[%d].event_type", i), Message: "unknown event " + string(r.EventType)}
		}
	}
	for i, m := range s.Macros {
		if m.ID == "" {
			return &ConfigError{Field: fmt.Sprintf("macros[%d]", i), Message: "id is required"}
		}
	}
	return nil
}

// fillDefaults fills in default values for empty fields
func (s *SeedConfig) fillDefaults() {
	for i := range s.Agents {
		if s.Agents[i].Kind == "" {
			s.Agents[i].Kind = string(domain.AgentKindWebhook)
		}
		if s.Agents[i].Name == "" {
			s.Agents[i].Name = s.Agents[i].ID
		}
	}
	for i, r := range s.Rules {
		if r.Name == "" {
			r.Name = r.ID
		}
		if r.Position == 0 {
			r.Position = i + 1
		}
	}
}

// DomainInstances converts seeded instances
func (s *SeedConfig) DomainInstances() []*domain.Instance {
	out := make([]*domain.Instance, 0, len(s.Instances))
	for _, inst := range s.Instances {
		out = append(out, &domain.Instance{
			ID:             inst.ID,
			InstanceKey:    inst.Key,
			Name:           inst.Name,
			Token:          inst.Token,
			DefaultAgentID: inst.DefaultAgentID,
		})
	}
	return out
}

// MaxResponseDelay returns the largest response delay among seeded agents
func (s *SeedConfig) MaxResponseDelay() time.Duration {
	longest := 0
	for _, a := range s.Agents {
		longest = max(longest, a.DelayMinSeconds, a.DelayMaxSeconds)
	}
	return time.Duration(longest) * time.Second
}

// DomainAgents converts seeded agents; agents are active unless disabled
func (s *SeedConfig) DomainAgents() []*domain.Agent {
	out := make([]*domain.Agent, 0, len(s.Agents))
	for _, a := range s.Agents {
		active := a.Active == nil || *a.Active
		out = append(out, &domain.Agent{
			ID:                      a.ID,
			Name:                    a.Name,
			Kind:                    domain.AgentKind(a.Kind),
			WebhookURL:              a.WebhookURL,
			SystemPrompt:            a.SystemPrompt,
			Model:                   a.Model,
			ResponseDelayMinSeconds: a.DelayMinSeconds,
			ResponseDelayMaxSeconds: a.DelayMaxSeconds,
			TypingSimulation:        a.TypingSimulation,
			IsActive:                active,
		})
	}
	return out
}
