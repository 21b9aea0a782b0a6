// Package evaluations runs policy rules against exceptions. Evaluation is
// idempotent per (input hash, replay namespace): identical inputs in the same
// namespace always return the first recorded evaluation.
package evaluations

import (
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/internal/exceptions"
	"github.com/JaimeStill/steward/internal/policies"
	"github.com/JaimeStill/steward/pkg/canonical"
)

// DefaultNamespace holds production evaluations.
const DefaultNamespace = "production"

// Evaluation is a recorded rule outcome.
type Evaluation struct {
	ID              uuid.UUID          `json:"id"`
	ExceptionID     uuid.UUID          `json:"exception_id"`
	PolicyVersionID uuid.UUID          `json:"policy_version_id"`
	InputHash       string             `json:"input_hash"`
	Namespace       string             `json:"replay_namespace"`
	Result          policies.Result    `json:"result"`
	Details         []policies.Outcome `json:"details"`
	EvaluatedAt     time.Time          `json:"evaluated_at"`
}

// EvaluateCommand selects the exception and policy version to evaluate.
// Without PolicyVersionID the active version of the exception's policy is used.
type EvaluateCommand struct {
	ExceptionID     uuid.UUID      `json:"exception_id"`
	PolicyVersionID *uuid.UUID     `json:"policy_version_id,omitempty"`
	Namespace       string         `json:"replay_namespace,omitempty"`
	ReplayContext   map[string]any `json:"replay_context,omitempty"`
	Actor           string         `json:"actor,omitempty"`
}

// EvaluateResult reports the evaluation and whether this call recorded it.
type EvaluateResult struct {
	Evaluation *Evaluation `json:"evaluation"`
	Created    bool        `json:"created"`
}

// Snapshot is the exception state an evaluation covers. Timestamps are
// excluded so that only changes in evidence alter the input hash.
func Snapshot(e *exceptions.Exception) map[string]any {
	dims := make(map[string]any, len(e.Dimensions))
	for k, v := range e.Dimensions {
		dims[k] = v
	}

	ctx := e.Context
	if ctx == nil {
		ctx = map[string]any{}
	}

	var policyID any
	if e.PolicyID != nil {
		policyID = e.PolicyID.String()
	}

	return map[string]any{
		"id":               e.ID.String(),
		"fingerprint":      e.Fingerprint,
		"signal_type":      e.SignalType,
		"pack":             e.Pack,
		"dimensions":       dims,
		"severity":         string(e.Severity),
		"status":           string(e.Status),
		"occurrence_count": e.OccurrenceCount,
		"context":          ctx,
		"policy_id":        policyID,
	}
}

// InputHash digests everything that determines an evaluation's result.
func InputHash(snapshot map[string]any, v *policies.Version, replay map[string]any) (string, error) {
	if replay == nil {
		replay = map[string]any{}
	}
	return canonical.Hash(map[string]any{
		"exception": snapshot,
		"policy_version": map[string]any{
			"id":      v.ID.String(),
			"version": v.Version,
			"rule":    v.Rule,
		},
		"replay_context": replay,
	})
}
