package audit

import (
	"fmt"
	"regexp"
	"slices"
)

// EventType names an audit event kind. The set is open: deployments may add
// kinds through NewRegistry, paired with an ALTER TYPE audit_event_type ADD VALUE migration.
type EventType string

const (
	SignalIngested         EventType = "signal_ingested"
	ExceptionRaised        EventType = "exception_raised"
	ExceptionMerged        EventType = "exception_merged"
	ExceptionResolved      EventType = "exception_resolved"
	ExceptionDismissed     EventType = "exception_dismissed"
	ExceptionContextAdded  EventType = "exception_context_added"
	EvaluationRecorded     EventType = "evaluation_recorded"
	DecisionRecorded       EventType = "decision_recorded"
	HardOverrideApproved   EventType = "hard_override_approved"
	PolicyCreated          EventType = "policy_created"
	PolicyVersionCreated   EventType = "policy_version_created"
	PolicyVersionActivated EventType = "policy_version_activated"
	ApprovalProposed       EventType = "approval_proposed"
	ApprovalApproved       EventType = "approval_approved"
	ApprovalRejected       EventType = "approval_rejected"
	AgentStarted           EventType = "agent_started"
	AgentToolCalled        EventType = "agent_tool_called"
	AgentCompleted         EventType = "agent_completed"
	AgentFailed            EventType = "agent_failed"
	UserCreated            EventType = "user_created"
	UserUpdated            EventType = "user_updated"
)

var builtin = []EventType{
	SignalIngested,
	ExceptionRaised,
	ExceptionMerged,
	ExceptionResolved,
	ExceptionDismissed,
	ExceptionContextAdded,
	EvaluationRecorded,
	DecisionRecorded,
	HardOverrideApproved,
	PolicyCreated,
	PolicyVersionCreated,
	PolicyVersionActivated,
	ApprovalProposed,
	ApprovalApproved,
	ApprovalRejected,
	AgentStarted,
	AgentToolCalled,
	AgentCompleted,
	AgentFailed,
	UserCreated,
	UserUpdated,
}

var typePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Registry is the immutable set of accepted event types.
type Registry struct {
	known map[EventType]struct{}
}

// NewRegistry returns a registry holding the built-in kinds plus extra.
func NewRegistry(extra ...EventType) (*Registry, error) {
	r := &Registry{known: make(map[EventType]struct{}, len(builtin)+len(extra))}
	for _, t := range builtin {
		r.known[t] = struct{}{}
	}
	for _, t := range extra {
		if !typePattern.MatchString(string(t)) {
			return nil, fmt.Errorf("%w: %q is not a valid identifier", ErrUnknownEventType, t)
		}
		r.known[t] = struct{}{}
	}
	return r, nil
}

// Validate reports whether t is registered.
func (r *Registry) Validate(t EventType) error {
	if _, ok := r.known[t]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, t)
	}
	return nil
}

// Types lists registered kinds, sorted.
func (r *Registry) Types() []EventType {
	types := make([]EventType, 0, len(r.known))
	for t := range r.known {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
