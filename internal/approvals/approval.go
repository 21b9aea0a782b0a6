// Package approvals gates agent-proposed writes behind human review. A
// proposal enters the queue pending and moves exactly once to approved or
// rejected; approval commits the underlying write in the same transaction
// as the status change.
package approvals

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// ActionType names the kind of write a proposal carries.
type ActionType string

const (
	ActionSignal      ActionType = "signal"
	ActionPolicyDraft ActionType = "policy_draft"
	ActionDecision    ActionType = "decision"
	ActionDismiss     ActionType = "dismiss"
	// ActionContext is exempt from review; context commits directly through
	// the exceptions system and is never queued.
	ActionContext ActionType = "context"
)

var actionTypes = []ActionType{ActionSignal, ActionPolicyDraft, ActionDecision, ActionDismiss, ActionContext}

// Valid reports whether a is a known action type.
func (a ActionType) Valid() bool {
	return slices.Contains(actionTypes, a)
}

// Status is a queue item's review state. Approved and rejected are terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Item is a queued proposal.
type Item struct {
	ID          uuid.UUID       `json:"id"`
	ActionType  ActionType      `json:"action_type"`
	Payload     json.RawMessage `json:"payload"`
	ProposedBy  string          `json:"proposed_by"`
	ProposedAt  time.Time       `json:"proposed_at"`
	Status      Status          `json:"status"`
	ReviewedBy  *string         `json:"reviewed_by"`
	ReviewedAt  *time.Time      `json:"reviewed_at"`
	ReviewNotes *string         `json:"review_notes"`
	ResultID    *uuid.UUID      `json:"result_id"`
	TraceID     *uuid.UUID      `json:"trace_id"`
	Summary     string          `json:"summary"`
	Confidence  *float64        `json:"confidence"`
}

// ProposeCommand enqueues a proposal. ProposedBy identifies the agent.
type ProposeCommand struct {
	ActionType ActionType     `json:"action_type"`
	Payload    map[string]any `json:"payload"`
	ProposedBy string         `json:"proposed_by"`
	TraceID    *uuid.UUID     `json:"trace_id,omitempty"`
	Summary    string         `json:"summary"`
	Confidence *float64       `json:"confidence,omitempty"`
}

// ReviewCommand approves or rejects a pending item.
type ReviewCommand struct {
	ReviewedBy string `json:"reviewed_by"`
	Notes      string `json:"notes"`
}
