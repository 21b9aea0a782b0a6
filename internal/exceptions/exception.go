// Package exceptions owns the durable issues that signals raise. The
// Deduplicator merges signals sharing a fingerprint into the single open
// exception for it, or opens a new one.
package exceptions

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/internal/fingerprint"
	"github.com/JaimeStill/steward/internal/packs"
)

// Status is an exception lifecycle state.
type Status string

const (
	StatusOpen      Status = "open"
	StatusResolved  Status = "resolved"
	StatusDismissed Status = "dismissed"
)

// Severity is ordered low < medium < high < critical, matching the
// exception_severity enum declaration order.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return slices.Contains(severities, s)
}

// Rank returns the position of s in severity order, or -1 if unknown.
func (s Severity) Rank() int {
	return slices.Index(severities, s)
}

// Context kinds stored in exception_contexts.
const (
	KindContext         = "context"
	KindDecisionContext = "decision_context"
)

// Exception is an open or closed issue identified by its fingerprint.
type Exception struct {
	ID              uuid.UUID         `json:"id"`
	Fingerprint     string            `json:"fingerprint"`
	SignalType      string            `json:"signal_type"`
	Pack            string            `json:"pack"`
	Dimensions      map[string]string `json:"dimensions"`
	Title           string            `json:"title"`
	Severity        Severity          `json:"severity"`
	Status          Status            `json:"status"`
	PolicyID        *uuid.UUID        `json:"policy_id"`
	Context         map[string]any    `json:"context"`
	OccurrenceCount int               `json:"occurrence_count"`
	FirstSignalID   uuid.UUID         `json:"first_signal_id"`
	LastSignalID    uuid.UUID         `json:"last_signal_id"`
	RaisedAt        time.Time         `json:"raised_at"`
	LastSeenAt      time.Time         `json:"last_seen_at"`
	ClosedAt        *time.Time        `json:"closed_at"`
	ClosedBy        *string           `json:"closed_by"`
}

// DeduplicateCommand carries a freshly stored signal and its fingerprint.
type DeduplicateCommand struct {
	SignalID   uuid.UUID
	Payload    map[string]any
	ObservedAt time.Time
	Key        fingerprint.Key
	Actor      string
}

// DedupResult reports the exception a signal was merged into and whether
// the exception was created by this call.
type DedupResult struct {
	Exception *Exception `json:"exception"`
	Created   bool       `json:"created"`
}

// Context is an enrichment note attached to an exception.
type Context struct {
	ID          uuid.UUID       `json:"id"`
	ExceptionID uuid.UUID       `json:"exception_id"`
	Kind        string          `json:"kind"`
	Content     json.RawMessage `json:"content"`
	AddedBy     string          `json:"added_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AddContextCommand appends context to an exception. Content must be a JSON object.
type AddContextCommand struct {
	ExceptionID uuid.UUID      `json:"exception_id"`
	Kind        string         `json:"kind"`
	Content     map[string]any `json:"content"`
	AddedBy     string         `json:"added_by"`
}

// SignalSummary is a signal linked to an exception.
type SignalSummary struct {
	ID          uuid.UUID       `json:"id"`
	SignalType  string          `json:"signal_type"`
	Source      string          `json:"source"`
	Payload     json.RawMessage `json:"payload"`
	Reliability float64         `json:"reliability"`
	ObservedAt  time.Time       `json:"observed_at"`
	LinkedAt    time.Time       `json:"linked_at"`
}

// EvaluationSummary is an evaluation recorded against an exception.
type EvaluationSummary struct {
	ID              uuid.UUID `json:"id"`
	PolicyVersionID uuid.UUID `json:"policy_version_id"`
	Namespace       string    `json:"replay_namespace"`
	Result          string    `json:"result"`
	EvaluatedAt     time.Time `json:"evaluated_at"`
}

// DecisionSummary is a decision recorded against an exception.
type DecisionSummary struct {
	ID             uuid.UUID `json:"id"`
	DecisionType   string    `json:"decision_type"`
	ChosenOptionID string    `json:"chosen_option_id"`
	DecidedBy      string    `json:"decided_by"`
	DecidedAt      time.Time `json:"decided_at"`
}

// Detail is an exception together with everything recorded against it.
// Options are the pack's decision options in declaration order.
type Detail struct {
	Exception   *Exception          `json:"exception"`
	Signals     []SignalSummary     `json:"signals"`
	Contexts    []Context           `json:"contexts"`
	Evaluations []EvaluationSummary `json:"evaluations"`
	Decisions   []DecisionSummary   `json:"decisions"`
	Options     []packs.Option      `json:"options"`
}

// Title renders "<Signal Type>: k=v, ..." with dimensions in key order.
func Title(signalType string, dims map[string]string) string {
	words := strings.Split(signalType, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	label := strings.Join(words, " ")

	if len(dims) == 0 {
		return label
	}

	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + dims[k]
	}
	return label + ": " + strings.Join(parts, ", ")
}

// SeverityOf reads a valid severity from the payload, defaulting to medium.
func SeverityOf(payload map[string]any) Severity {
	if s, ok := payload["severity"].(string); ok {
		sev := Severity(strings.ToLower(strings.TrimSpace(s)))
		if sev.Valid() {
			return sev
		}
	}
	return SeverityMedium
}
