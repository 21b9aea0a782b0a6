package config

import (
	"fmt"
	"os"

	"github.com/JaimeStill/steward/internal/traces"
)

const EnvAgentType = "STEWARD_AGENT_TYPE"

// AgentConfig identifies the agent an agent-tools process serves. Proposals
// and context written through the tools are attributed to this agent.
type AgentConfig struct {
	Type string `toml:"type"`
}

// AgentType returns Type as a traces.AgentType.
func (c *AgentConfig) AgentType() traces.AgentType {
	return traces.AgentType(c.Type)
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *AgentConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *AgentConfig) Merge(overlay *AgentConfig) {
	if overlay.Type != "" {
		c.Type = overlay.Type
	}
}

func (c *AgentConfig) loadDefaults() {
	if c.Type == "" {
		c.Type = string(traces.AgentIntake)
	}
}

func (c *AgentConfig) loadEnv() {
	if v := os.Getenv(EnvAgentType); v != "" {
		c.Type = v
	}
}

func (c *AgentConfig) validate() error {
	if !c.AgentType().Valid() {
		return fmt.Errorf("unknown agent type %q", c.Type)
	}
	return nil
}
