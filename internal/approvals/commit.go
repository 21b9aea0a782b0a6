package approvals

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/internal/exceptions"
	"github.com/JaimeStill/steward/internal/policies"
	"github.com/JaimeStill/steward/internal/signals"
	"github.com/JaimeStill/steward/pkg/repository"
)

// Committer validates proposals of one action type and, on approval, performs
// the underlying write inside the review transaction. Commit returns the id of
// the entity it created or changed.
type Committer interface {
	Validate(payload json.RawMessage, proposedBy string) error
	Commit(ctx context.Context, q repository.Querier, item *Item, reviewer string) (uuid.UUID, error)
}

// Committers maps each reviewable action type to its committer.
type Committers map[ActionType]Committer

// SignalIngestor is the signal ingestion path used for approved signal proposals.
type SignalIngestor interface {
	IngestTx(ctx context.Context, q repository.Querier, cmd signals.IngestCommand, actor string) (*signals.IngestResult, error)
}

// PolicyDrafter is the policy versioning path used for approved policy drafts.
type PolicyDrafter interface {
	CreateVersionTx(ctx context.Context, q repository.Querier, cmd policies.VersionCommand) (*policies.Version, error)
}

// ExceptionWriter is the exception path used for approved decision context and dismissals.
type ExceptionWriter interface {
	AddContextTx(ctx context.Context, q repository.Querier, cmd exceptions.AddContextCommand) (*exceptions.Context, error)
	DismissTx(ctx context.Context, q repository.Querier, id uuid.UUID, actor, reason string) (*exceptions.Exception, error)
}

// NewCommitters wires every reviewable action type to the system that owns its write.
func NewCommitters(ingestor SignalIngestor, drafter PolicyDrafter, writer ExceptionWriter) Committers {
	return Committers{
		ActionSignal:      signalCommitter{ingestor: ingestor},
		ActionPolicyDraft: policyCommitter{drafter: drafter},
		ActionDecision:    decisionContextCommitter{writer: writer},
		ActionDismiss:     dismissCommitter{writer: writer},
	}
}

// reserved keys of a signal proposal. Every other top-level key is signal
// payload unless an explicit "payload" object is given.
var signalReserved = []string{"signal_type", "source", "reliability", "observed_at", "payload"}

// SignalCommand converts a signal proposal payload into an ingest command. The
// source defaults to the proposing agent.
func SignalCommand(payload json.RawMessage, proposedBy string) (signals.IngestCommand, error) {
	var (
		raw map[string]any
		cmd signals.IngestCommand
	)
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return cmd, fmt.Errorf("%w: %w", ErrInvalidProposal, err)
	}

	cmd.SignalType, _ = raw["signal_type"].(string)
	cmd.Source, _ = raw["source"].(string)
	if cmd.Source == "" {
		cmd.Source = proposedBy
	}

	if v, ok := raw["reliability"]; ok {
		n, ok := v.(json.Number)
		if !ok {
			return cmd, fmt.Errorf("%w: reliability must be a number", ErrInvalidProposal)
		}
		f, err := n.Float64()
		if err != nil {
			return cmd, fmt.Errorf("%w: reliability must be a number", ErrInvalidProposal)
		}
		cmd.Reliability = &f
	}

	if v, ok := raw["observed_at"]; ok {
		s, _ := v.(string)
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return cmd, fmt.Errorf("%w: observed_at must be RFC 3339", ErrInvalidProposal)
		}
		cmd.ObservedAt = &ts
	}

	if nested, ok := raw["payload"]; ok {
		m, ok := nested.(map[string]any)
		if !ok {
			return cmd, fmt.Errorf("%w: payload must be an object", ErrInvalidProposal)
		}
		cmd.Payload = m
	} else {
		cmd.Payload = make(map[string]any, len(raw))
		for k, v := range raw {
			cmd.Payload[k] = v
		}
		for _, k := range signalReserved {
			delete(cmd.Payload, k)
		}
	}

	if strings.TrimSpace(cmd.SignalType) == "" {
		return cmd, fmt.Errorf("%w: signal_type required", ErrInvalidProposal)
	}
	return cmd, nil
}

type signalCommitter struct {
	ingestor SignalIngestor
}

func (c signalCommitter) Validate(payload json.RawMessage, proposedBy string) error {
	_, err := SignalCommand(payload, proposedBy)
	return err
}

func (c signalCommitter) Commit(ctx context.Context, q repository.Querier, item *Item, reviewer string) (uuid.UUID, error) {
	cmd, err := SignalCommand(item.Payload, item.ProposedBy)
	if err != nil {
		return uuid.Nil, err
	}

	res, err := c.ingestor.IngestTx(ctx, q, cmd, reviewer)
	if err != nil {
		return uuid.Nil, err
	}
	return res.Signal.ID, nil
}

// PolicyDraftProposal drafts a new version of an existing policy.
type PolicyDraftProposal struct {
	PolicyID uuid.UUID     `json:"policy_id"`
	Rule     policies.Rule `json:"rule"`
	Notes    string        `json:"notes"`
}

type policyCommitter struct {
	drafter PolicyDrafter
}

func (c policyCommitter) decode(payload json.RawMessage) (PolicyDraftProposal, error) {
	var p PolicyDraftProposal
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, fmt.Errorf("%w: %w", ErrInvalidProposal, err)
	}
	if p.PolicyID == uuid.Nil {
		return p, fmt.Errorf("%w: policy_id required", ErrInvalidProposal)
	}
	if err := p.Rule.Validate(); err != nil {
		return p, fmt.Errorf("%w: %w", ErrInvalidProposal, err)
	}
	return p, nil
}

func (c policyCommitter) Validate(payload json.RawMessage, _ string) error {
	_, err := c.decode(payload)
	return err
}

func (c policyCommitter) Commit(ctx context.Context, q repository.Querier, item *Item, _ string) (uuid.UUID, error) {
	p, err := c.decode(item.Payload)
	if err != nil {
		return uuid.Nil, err
	}

	v, err := c.drafter.CreateVersionTx(ctx, q, policies.VersionCommand{
		PolicyID:  p.PolicyID,
		Rule:      p.Rule,
		Notes:     p.Notes,
		CreatedBy: item.ProposedBy,
	})
	if err != nil {
		return uuid.Nil, err
	}
	return v.ID, nil
}

// DecisionContextProposal attaches agent-prepared context for a pending decision.
type DecisionContextProposal struct {
	ExceptionID uuid.UUID      `json:"exception_id"`
	Content     map[string]any `json:"content"`
}

type decisionContextCommitter struct {
	writer ExceptionWriter
}

func (c decisionContextCommitter) decode(payload json.RawMessage) (DecisionContextProposal, error) {
	var p DecisionContextProposal
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, fmt.Errorf("%w: %w", ErrInvalidProposal, err)
	}
	if p.ExceptionID == uuid.Nil {
		return p, fmt.Errorf("%w: exception_id required", ErrInvalidProposal)
	}
	if len(p.Content) == 0 {
		return p, fmt.Errorf("%w: content required", ErrInvalidProposal)
	}
	return p, nil
}

func (c decisionContextCommitter) Validate(payload json.RawMessage, _ string) error {
	_, err := c.decode(payload)
	return err
}

func (c decisionContextCommitter) Commit(ctx context.Context, q repository.Querier, item *Item, _ string) (uuid.UUID, error) {
	p, err := c.decode(item.Payload)
	if err != nil {
		return uuid.Nil, err
	}

	ec, err := c.writer.AddContextTx(ctx, q, exceptions.AddContextCommand{
		ExceptionID: p.ExceptionID,
		Kind:        exceptions.KindDecisionContext,
		Content:     p.Content,
		AddedBy:     item.ProposedBy,
	})
	if err != nil {
		return uuid.Nil, err
	}
	return ec.ID, nil
}

// DismissProposal closes an open exception as dismissed.
type DismissProposal struct {
	ExceptionID uuid.UUID `json:"exception_id"`
	Reason      string    `json:"reason"`
}

type dismissCommitter struct {
	writer ExceptionWriter
}

func (c dismissCommitter) decode(payload json.RawMessage) (DismissProposal, error) {
	var p DismissProposal
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, fmt.Errorf("%w: %w", ErrInvalidProposal, err)
	}
	if p.ExceptionID == uuid.Nil {
		return p, fmt.Errorf("%w: exception_id required", ErrInvalidProposal)
	}
	if strings.TrimSpace(p.Reason) == "" {
		return p, fmt.Errorf("%w: reason required", ErrInvalidProposal)
	}
	return p, nil
}

func (c dismissCommitter) Validate(payload json.RawMessage, _ string) error {
	_, err := c.decode(payload)
	return err
}

func (c dismissCommitter) Commit(ctx context.Context, q repository.Querier, item *Item, reviewer string) (uuid.UUID, error) {
	p, err := c.decode(item.Payload)
	if err != nil {
		return uuid.Nil, err
	}

	e, err := c.writer.DismissTx(ctx, q, p.ExceptionID, reviewer, p.Reason)
	if err != nil {
		return uuid.Nil, err
	}
	return e.ID, nil
}
