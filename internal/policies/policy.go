// Package policies stores versioned rule definitions. Each policy has at most
// one active version; evaluations always reference a specific version.
package policies

import (
	"time"

	"github.com/google/uuid"
)

// VersionStatus is a policy version lifecycle state.
type VersionStatus string

const (
	VersionDraft   VersionStatus = "draft"
	VersionActive  VersionStatus = "active"
	VersionRetired VersionStatus = "retired"
)

// Policy groups the versions of one rule for a pack's signal types.
type Policy struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Pack        string    `json:"pack"`
	SignalTypes []string  `json:"signal_types"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	Versions    []Version `json:"versions,omitempty"`
}

// Version is one immutable revision of a policy's rule.
type Version struct {
	ID          uuid.UUID     `json:"id"`
	PolicyID    uuid.UUID     `json:"policy_id"`
	Version     int           `json:"version"`
	Rule        Rule          `json:"rule"`
	Status      VersionStatus `json:"status"`
	Notes       string        `json:"notes"`
	CreatedBy   string        `json:"created_by"`
	CreatedAt   time.Time     `json:"created_at"`
	ActivatedAt *time.Time    `json:"activated_at"`
}

// CreateCommand creates a policy. A non-nil Rule also creates version 1 as a draft.
type CreateCommand struct {
	Name        string   `json:"name"`
	Pack        string   `json:"pack"`
	SignalTypes []string `json:"signal_types"`
	Description string   `json:"description"`
	CreatedBy   string   `json:"created_by"`
	Rule        *Rule    `json:"rule,omitempty"`
}

// VersionCommand drafts a new version of an existing policy.
type VersionCommand struct {
	PolicyID  uuid.UUID `json:"policy_id"`
	Rule      Rule      `json:"rule"`
	Notes     string    `json:"notes"`
	CreatedBy string    `json:"created_by"`
}
