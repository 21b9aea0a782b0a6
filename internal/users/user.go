// Package users manages the people who decide and review. Roles gate who may
// approve hard overrides and approval queue items.
package users

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Role is a user's privilege level.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleDecider  Role = "decider"
	RoleApprover Role = "approver"
	RoleAdmin    Role = "admin"
)

var roles = []Role{RoleViewer, RoleDecider, RoleApprover, RoleAdmin}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return slices.Contains(roles, r)
}

// Roles allowed to review approval items and approve hard overrides.
var ReviewerRoles = []Role{RoleApprover, RoleAdmin}

// Roles allowed to record decisions.
var DeciderRoles = []Role{RoleDecider, RoleApprover, RoleAdmin}

// User is a human principal.
type User struct {
	ID          uuid.UUID  `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name"`
	Role        Role       `json:"role"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at"`
}

// CreateCommand carries the fields for a new user.
type CreateCommand struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// UpdateCommand changes a user's role or active flag. Nil fields are unchanged.
type UpdateCommand struct {
	Role     *Role `json:"role,omitempty"`
	IsActive *bool `json:"is_active,omitempty"`
}
