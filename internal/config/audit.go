package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
)

const EnvAuditExtraEventTypes = "STEWARD_AUDIT_EXTRA_EVENT_TYPES"

// AuditConfig extends the audit event registry. Extra event types are
// registered at startup alongside the built-in kernel types.
type AuditConfig struct {
	ExtraEventTypes []string `toml:"extra_event_types"`
}

// Finalize applies environment variable overrides and validation.
func (c *AuditConfig) Finalize() error {
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *AuditConfig) Merge(overlay *AuditConfig) {
	if len(overlay.ExtraEventTypes) > 0 {
		c.ExtraEventTypes = overlay.ExtraEventTypes
	}
}

func (c *AuditConfig) loadEnv() {
	if v := os.Getenv(EnvAuditExtraEventTypes); v != "" {
		c.ExtraEventTypes = nil
		for t := range strings.SplitSeq(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				c.ExtraEventTypes = append(c.ExtraEventTypes, t)
			}
		}
	}
}

func (c *AuditConfig) validate() error {
	for i, t := range c.ExtraEventTypes {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("extra_event_types[%d] is empty", i)
		}
		if slices.Contains(c.ExtraEventTypes[:i], t) {
			return fmt.Errorf("extra_event_types: duplicate %q", t)
		}
	}
	return nil
}
