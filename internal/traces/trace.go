// Package traces records agent executions. A trace is opened when an agent
// starts, collects its tool calls while running, and is sealed exactly once
// as completed or failed. Approval queue items point back at the trace that
// produced them.
package traces

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// AgentType names the kind of agent that ran.
type AgentType string

const (
	AgentIntake      AgentType = "intake"
	AgentNarrative   AgentType = "narrative"
	AgentPolicyDraft AgentType = "policy_draft"
)

var agentTypes = []AgentType{AgentIntake, AgentNarrative, AgentPolicyDraft}

// Valid reports whether t is a known agent type.
func (t AgentType) Valid() bool {
	return slices.Contains(agentTypes, t)
}

// Status is a trace lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Trace is one agent execution.
type Trace struct {
	ID            uuid.UUID  `json:"id"`
	AgentType     AgentType  `json:"agent_type"`
	SessionID     string     `json:"session_id"`
	Status        Status     `json:"status"`
	InputSummary  string     `json:"input_summary"`
	OutputSummary string     `json:"output_summary"`
	ToolCalls     []ToolCall `json:"tool_calls"`
	ErrorMessage  *string    `json:"error_message"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`
	DurationMS    *int64     `json:"duration_ms"`
}

// ToolCall is one tool invocation made by a running agent.
type ToolCall struct {
	Name       string          `json:"name"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     string          `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	CalledAt   time.Time       `json:"called_at"`
}

// StartCommand opens a trace.
type StartCommand struct {
	AgentType    AgentType `json:"agent_type"`
	SessionID    string    `json:"session_id"`
	InputSummary string    `json:"input_summary"`
}

// ToolCallCommand records a tool call. Input must be JSON serialisable.
type ToolCallCommand struct {
	Name       string         `json:"name"`
	Input      map[string]any `json:"input,omitempty"`
	Output     string         `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

// Proposal is an approval queue item produced during a trace.
type Proposal struct {
	ID         uuid.UUID  `json:"id"`
	ActionType string     `json:"action_type"`
	Status     string     `json:"status"`
	Summary    string     `json:"summary"`
	ResultID   *uuid.UUID `json:"result_id"`
	ProposedAt time.Time  `json:"proposed_at"`
}

// Detail is a trace together with the proposals it produced and their outcomes.
type Detail struct {
	Trace     *Trace     `json:"trace"`
	Proposals []Proposal `json:"proposals"`
}

// Actor is the audit actor recorded for events about an agent execution.
func Actor(t AgentType) string {
	return "agent:" + string(t)
}
