// Package decisions is the append-only ledger of human decisions. A decision
// is written once together with its evidence pack and never updated; the
// decisions and evidence_packs tables reject UPDATE, DELETE and TRUNCATE.
package decisions

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DecisionType distinguishes policy-following decisions from overrides.
type DecisionType string

const (
	TypeStandard     DecisionType = "standard"
	TypeHardOverride DecisionType = "hard_override"
)

// Valid reports whether t is a known decision type.
func (t DecisionType) Valid() bool {
	return t == TypeStandard || t == TypeHardOverride
}

// Decision is a committed ledger entry.
type Decision struct {
	ID             uuid.UUID    `json:"id"`
	ExceptionID    uuid.UUID    `json:"exception_id"`
	DecisionType   DecisionType `json:"decision_type"`
	IsHardOverride bool         `json:"is_hard_override"`
	ChosenOptionID string       `json:"chosen_option_id"`
	Rationale      string       `json:"rationale"`
	Assumptions    []string     `json:"assumptions"`
	DecidedBy      string       `json:"decided_by"`
	DecidedAt      time.Time    `json:"decided_at"`
	ApprovedBy     *string      `json:"approved_by"`
	ApprovedAt     *time.Time   `json:"approved_at"`
	ApprovalNotes  *string      `json:"approval_notes"`
}

// EvidenceItem is one piece of supporting evidence. Kind is free-form
// (signal, evaluation, context, attachment, note); Reference names the
// source record or blob key.
type EvidenceItem struct {
	Kind       string         `json:"kind"`
	Reference  string         `json:"reference,omitempty"`
	Summary    string         `json:"summary,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Attachment *Attachment    `json:"attachment,omitempty"`
}

// EvidencePack is the sealed evidence recorded with a decision.
type EvidencePack struct {
	ID          uuid.UUID       `json:"id"`
	DecisionID  uuid.UUID       `json:"decision_id"`
	Items       json.RawMessage `json:"items"`
	ContentHash string          `json:"content_hash"`
	ArchiveKey  *string         `json:"archive_key"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Attachment describes an uploaded evidence file in blob storage.
type Attachment struct {
	Key         string `json:"key"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	SHA256      string `json:"sha256"`
	PageCount   *int   `json:"page_count,omitempty"`
}

// RecordCommand carries a decision to commit. Hard overrides require
// ApprovedBy and ApprovedAt naming an active approver other than the decider,
// at a time that is not in the future.
type RecordCommand struct {
	ExceptionID    uuid.UUID      `json:"exception_id"`
	DecisionType   DecisionType   `json:"decision_type"`
	ChosenOptionID string         `json:"chosen_option_id"`
	Rationale      string         `json:"rationale"`
	Assumptions    []string       `json:"assumptions"`
	DecidedBy      string         `json:"decided_by"`
	ApprovedBy     *string        `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time     `json:"approved_at,omitempty"`
	ApprovalNotes  *string        `json:"approval_notes,omitempty"`
	Evidence       []EvidenceItem `json:"evidence"`
}

// RecordResult is the committed decision and its evidence pack.
type RecordResult struct {
	Decision     *Decision     `json:"decision"`
	EvidencePack *EvidencePack `json:"evidence_pack"`
}

// UploadCommand carries an attachment upload.
type UploadCommand struct {
	Data        []byte
	Filename    string
	ContentType string
	PageCount   *int
}
