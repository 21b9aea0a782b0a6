package auth

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds bearer token verification settings. When Enabled is false the
// caller identity is read from ActorHeader, which assumes a trusted gateway.
type Config struct {
	Enabled       bool   `toml:"enabled"`
	Issuer        string `toml:"issuer"`
	ClientID      string `toml:"client_id"`
	UsernameClaim string `toml:"username_claim"`
	ActorHeader   string `toml:"actor_header"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Enabled       string
	Issuer        string
	ClientID      string
	UsernameClaim string
	ActorHeader   string
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Enabled {
		c.Enabled = true
	}
	if overlay.Issuer != "" {
		c.Issuer = overlay.Issuer
	}
	if overlay.ClientID != "" {
		c.ClientID = overlay.ClientID
	}
	if overlay.UsernameClaim != "" {
		c.UsernameClaim = overlay.UsernameClaim
	}
	if overlay.ActorHeader != "" {
		c.ActorHeader = overlay.ActorHeader
	}
}

func (c *Config) loadDefaults() {
	if c.UsernameClaim == "" {
		c.UsernameClaim = "preferred_username"
	}
	if c.ActorHeader == "" {
		c.ActorHeader = "X-Steward-Actor"
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Enabled != "" {
		if v := os.Getenv(env.Enabled); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				c.Enabled = b
			}
		}
	}
	if env.Issuer != "" {
		if v := os.Getenv(env.Issuer); v != "" {
			c.Issuer = v
		}
	}
	if env.ClientID != "" {
		if v := os.Getenv(env.ClientID); v != "" {
			c.ClientID = v
		}
	}
	if env.UsernameClaim != "" {
		if v := os.Getenv(env.UsernameClaim); v != "" {
			c.UsernameClaim = v
		}
	}
	if env.ActorHeader != "" {
		if v := os.Getenv(env.ActorHeader); v != "" {
			c.ActorHeader = v
		}
	}
}

func (c *Config) validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Issuer == "" {
		return fmt.Errorf("issuer required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client_id required")
	}
	return nil
}
