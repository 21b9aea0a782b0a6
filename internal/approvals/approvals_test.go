package approvals_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/steward/internal/approvals"
	"github.com/JaimeStill/steward/internal/audit"
	"github.com/JaimeStill/steward/internal/exceptions"
	"github.com/JaimeStill/steward/internal/fingerprint"
	"github.com/JaimeStill/steward/internal/packs"
	"github.com/JaimeStill/steward/internal/policies"
	"github.com/JaimeStill/steward/internal/signals"
	"github.com/JaimeStill/steward/internal/testdb"
	"github.com/JaimeStill/steward/internal/traces"
	"github.com/JaimeStill/steward/internal/users"
	"github.com/JaimeStill/steward/pkg/pagination"
)

var testDB *sql.DB

func TestMain(m *testing.M) {
	os.Exit(testdb.Run(m, &testDB))
}

type fixture struct {
	sys      approvals.System
	signals  signals.System
	excs     exceptions.System
	policies policies.System
	traces   traces.System
	users    users.System
	auditor  audit.System
	approver string
	viewer   string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	testdb.Require(t, testDB)

	registry, err := audit.NewRegistry()
	require.NoError(t, err)

	reg := packs.Builtin()
	log := testdb.Logger()
	page := testdb.Pagination()

	auditor := audit.New(testDB, registry, log, page)
	excs := exceptions.New(testDB, reg, auditor, nil, log, page)
	usrs := users.New(testDB, auditor, log, page)
	sigs := signals.New(testDB, fingerprint.New(reg), excs, auditor, nil, log, page)
	pols := policies.New(testDB, auditor, log)

	f := fixture{
		sys:      approvals.New(testDB, approvals.NewCommitters(sigs, pols, excs), usrs, auditor, nil, log, page),
		signals:  sigs,
		excs:     excs,
		policies: pols,
		traces:   traces.New(testDB, auditor, nil, log, page),
		users:    usrs,
		auditor:  auditor,
	}

	f.approver = f.user(t, users.RoleApprover)
	f.viewer = f.user(t, users.RoleViewer)
	return f
}

func (f fixture) user(t *testing.T, role users.Role) string {
	t.Helper()
	name := string(role) + "-" + uuid.NewString()[:8]
	_, err := f.users.Create(context.Background(), users.CreateCommand{Username: name, DisplayName: name, Role: role}, "admin")
	require.NoError(t, err)
	return name
}

// breach proposes a covenant_breach signal with a unique covenant name.
func (f fixture) breach(t *testing.T) *approvals.Item {
	t.Helper()
	item, err := f.sys.Propose(context.Background(), approvals.ProposeCommand{
		ActionType: approvals.ActionSignal,
		ProposedBy: traces.Actor(traces.AgentIntake),
		Summary:    "leverage covenant breached",
		Payload: map[string]any{
			"signal_type":   "covenant_breach",
			"covenant_name": "leverage-" + uuid.NewString()[:8],
			"facility":      "revolver",
			"severity":      "high",
		},
	})
	require.NoError(t, err)
	return item
}

// raise ingests a covenant_breach signal directly and returns its exception.
func (f fixture) raise(t *testing.T) *exceptions.Exception {
	t.Helper()
	res, err := f.signals.Ingest(context.Background(), signals.IngestCommand{
		SignalType: "covenant_breach",
		Source:     "covenant-monitor",
		Payload: map[string]any{
			"covenant_name": "interest-cover-" + uuid.NewString()[:8],
			"facility":      "term-loan",
		},
	}, "")
	require.NoError(t, err)
	return res.Exception
}

func (f fixture) events(t *testing.T, subject string, et audit.EventType) []audit.Event {
	t.Helper()
	s := string(et)
	result, err := f.auditor.List(context.Background(), pagination.PageRequest{}, audit.Filters{SubjectID: &subject, EventType: &s})
	require.NoError(t, err)
	return result.Data
}

func ptr[T any](v T) *T { return &v }

func TestProposeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		cmd  approvals.ProposeCommand
		want error
	}{
		{
			name: "context is exempt",
			cmd: approvals.ProposeCommand{
				ActionType: approvals.ActionContext,
				ProposedBy: "agent:narrative",
				Payload:    map[string]any{"note": "x"},
			},
			want: approvals.ErrExempt,
		},
		{
			name: "unknown action",
			cmd: approvals.ProposeCommand{
				ActionType: "purge",
				ProposedBy: "agent:intake",
				Payload:    map[string]any{},
			},
			want: approvals.ErrInvalidProposal,
		},
		{
			name: "missing proposer",
			cmd: approvals.ProposeCommand{
				ActionType: approvals.ActionSignal,
				Payload:    map[string]any{"signal_type": "covenant_breach"},
			},
			want: approvals.ErrInvalidProposal,
		},
		{
			name: "missing payload",
			cmd: approvals.ProposeCommand{
				ActionType: approvals.ActionSignal,
				ProposedBy: "agent:intake",
			},
			want: approvals.ErrInvalidProposal,
		},
		{
			name: "confidence out of range",
			cmd: approvals.ProposeCommand{
				ActionType: approvals.ActionSignal,
				ProposedBy: "agent:intake",
				Payload:    map[string]any{"signal_type": "covenant_breach"},
				Confidence: ptr(1.5),
			},
			want: approvals.ErrInvalidProposal,
		},
		{
			name: "signal without type",
			cmd: approvals.ProposeCommand{
				ActionType: approvals.ActionSignal,
				ProposedBy: "agent:intake",
				Payload:    map[string]any{"facility": "revolver"},
			},
			want: approvals.ErrInvalidProposal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.sys.Propose(ctx, tt.cmd)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestProposeQueuesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trace, err := f.traces.Start(ctx, traces.StartCommand{AgentType: traces.AgentIntake, InputSummary: "covenant feed"})
	require.NoError(t, err)

	item, err := f.sys.Propose(ctx, approvals.ProposeCommand{
		ActionType: approvals.ActionSignal,
		ProposedBy: traces.Actor(traces.AgentIntake),
		TraceID:    &trace.ID,
		Summary:    "  breach detected  ",
		Confidence: ptr(0.9),
		Payload:    map[string]any{"signal_type": "covenant_breach", "covenant_name": "dscr", "facility": "abl"},
	})
	require.NoError(t, err)

	assert.Equal(t, approvals.StatusPending, item.Status)
	assert.Equal(t, "breach detected", item.Summary)
	assert.Nil(t, item.ReviewedBy)
	assert.Nil(t, item.ResultID)
	require.NotNil(t, item.TraceID)
	assert.Equal(t, trace.ID, *item.TraceID)
	assert.JSONEq(t, `{"covenant_name":"dscr","facility":"abl","signal_type":"covenant_breach"}`, string(item.Payload))

	assert.Len(t, f.events(t, item.ID.String(), audit.ApprovalProposed), 1)

	detail, err := f.traces.Find(ctx, trace.ID)
	require.NoError(t, err)
	require.Len(t, detail.Proposals, 1)
	assert.Equal(t, item.ID, detail.Proposals[0].ID)

	pending := string(approvals.StatusPending)
	result, err := f.sys.List(ctx, pagination.PageRequest{}, approvals.Filters{Status: &pending, TraceID: &trace.ID})
	require.NoError(t, err)
	require.Equal(t, 1, result.Total)
	assert.Equal(t, item.ID, result.Data[0].ID)
}

func TestApproveSignalCreatesExceptionAndAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	covenant := "X-" + uuid.NewString()[:8]
	facility := "Y"

	item, err := f.sys.Propose(ctx, approvals.ProposeCommand{
		ActionType: approvals.ActionSignal,
		ProposedBy: traces.Actor(traces.AgentIntake),
		Payload: map[string]any{
			"signal_type":   "covenant_breach",
			"covenant_name": covenant,
			"facility":      facility,
		},
	})
	require.NoError(t, err)

	approved, err := f.sys.Approve(ctx, item.ID, approvals.ReviewCommand{ReviewedBy: f.approver, Notes: "confirmed with lender"})
	require.NoError(t, err)

	assert.Equal(t, approvals.StatusApproved, approved.Status)
	require.NotNil(t, approved.ReviewedBy)
	assert.Equal(t, f.approver, *approved.ReviewedBy)
	require.NotNil(t, approved.ReviewNotes)
	assert.Equal(t, "confirmed with lender", *approved.ReviewNotes)
	require.NotNil(t, approved.ResultID)

	sig, err := f.signals.Find(ctx, *approved.ResultID)
	require.NoError(t, err)
	assert.Equal(t, "covenant_breach", sig.SignalType)
	assert.Equal(t, "agent:intake", sig.Source)
	assert.JSONEq(t, `{"covenant_name":"`+covenant+`","facility":"Y"}`, string(sig.Payload))

	var excID uuid.UUID
	err = testDB.QueryRowContext(ctx, "SELECT exception_id FROM exception_signals WHERE signal_id = $1", sig.ID).Scan(&excID)
	require.NoError(t, err)

	exc, err := f.excs.Find(ctx, excID)
	require.NoError(t, err)

	want, err := fingerprint.Compute("covenant_breach", map[string]string{"covenant_name": covenant, "facility": facility})
	require.NoError(t, err)
	assert.Equal(t, want, exc.Fingerprint)
	assert.Equal(t, exceptions.StatusOpen, exc.Status)
	assert.Equal(t, 1, exc.OccurrenceCount)

	events := f.events(t, item.ID.String(), audit.ApprovalApproved)
	require.Len(t, events, 1)
	assert.Equal(t, f.approver, events[0].Actor)
}

func TestRejectWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.breach(t)

	rejected, err := f.sys.Reject(ctx, item.ID, approvals.ReviewCommand{ReviewedBy: f.approver})
	require.NoError(t, err)

	assert.Equal(t, approvals.StatusRejected, rejected.Status)
	assert.Nil(t, rejected.ResultID)
	assert.Nil(t, rejected.ReviewNotes)

	var n int
	err = testDB.QueryRowContext(ctx,
		"SELECT count(*) FROM signals WHERE signal_type = 'covenant_breach' AND payload->>'covenant_name' = ($1::jsonb)->>'covenant_name'",
		string(item.Payload),
	).Scan(&n)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Len(t, f.events(t, item.ID.String(), audit.ApprovalRejected), 1)
}

func TestReviewIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.breach(t)

	_, err := f.sys.Approve(ctx, item.ID, approvals.ReviewCommand{ReviewedBy: f.approver})
	require.NoError(t, err)

	_, err = f.sys.Approve(ctx, item.ID, approvals.ReviewCommand{ReviewedBy: f.approver})
	assert.ErrorIs(t, err, approvals.ErrInvalidTransition)

	_, err = f.sys.Reject(ctx, item.ID, approvals.ReviewCommand{ReviewedBy: f.approver})
	assert.ErrorIs(t, err, approvals.ErrInvalidTransition)

	_, err = f.sys.Approve(ctx, uuid.New(), approvals.ReviewCommand{ReviewedBy: f.approver})
	assert.ErrorIs(t, err, approvals.ErrNotFound)
}

func TestConcurrentReviewHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.breach(t)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []approvals.Status
	)

	review := func(approve bool) {
		defer wg.Done()
		cmd := approvals.ReviewCommand{ReviewedBy: f.approver}

		var (
			got *approvals.Item
			err error
		)
		if approve {
			got, err = f.sys.Approve(ctx, item.ID, cmd)
		} else {
			got, err = f.sys.Reject(ctx, item.ID, cmd)
		}

		switch {
		case err == nil:
			mu.Lock()
			wins = append(wins, got.Status)
			mu.Unlock()
		case errors.Is(err, approvals.ErrInvalidTransition):
		default:
			t.Errorf("unexpected review error: %v", err)
		}
	}

	for i := range 8 {
		wg.Add(1)
		go review(i%2 == 0)
	}
	wg.Wait()

	require.Len(t, wins, 1)

	final, err := f.sys.Find(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, wins[0], final.Status)

	approved := len(f.events(t, item.ID.String(), audit.ApprovalApproved))
	rejected := len(f.events(t, item.ID.String(), audit.ApprovalRejected))
	assert.Equal(t, 1, approved+rejected)
}

func TestReviewRequiresReviewerRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.breach(t)

	_, err := f.sys.Approve(ctx, item.ID, approvals.ReviewCommand{ReviewedBy: f.viewer})
	assert.ErrorIs(t, err, users.ErrUnauthorized)

	_, err = f.sys.Reject(ctx, item.ID, approvals.ReviewCommand{ReviewedBy: "nobody-" + uuid.NewString()[:8]})
	assert.Error(t, err)

	got, err := f.sys.Find(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, approvals.StatusPending, got.Status)
}

func TestFailedCommitLeavesItemPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exc := f.raise(t)

	item, err := f.sys.Propose(ctx, approvals.ProposeCommand{
		ActionType: approvals.ActionDismiss,
		ProposedBy: traces.Actor(traces.AgentNarrative),
		Payload:    map[string]any{"exception_id": exc.ID.String(), "reason": "feed duplicate"},
	})
	require.NoError(t, err)

	_, err = f.excs.Dismiss(ctx, exc.ID, f.approver, "closed manually")
	require.NoError(t, err)

	_, err = f.sys.Approve(ctx, item.ID, approvals.ReviewCommand{ReviewedBy: f.approver})
	assert.ErrorIs(t, err, exceptions.ErrInvalidTransition)

	got, err := f.sys.Find(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, approvals.StatusPending, got.Status)
	assert.Nil(t, got.ResultID)
	assert.Empty(t, f.events(t, item.ID.String(), audit.ApprovalApproved))
}

func TestApproveDismiss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exc := f.raise(t)

	item, err := f.sys.Propose(ctx, approvals.ProposeCommand{
		ActionType: approvals.ActionDismiss,
		ProposedBy: traces.Actor(traces.AgentNarrative),
		Payload:    map[string]any{"exception_id": exc.ID.String(), "reason": "covenant amended"},
	})
	require.NoError(t, err)

	approved, err := f.sys.Approve(ctx, item.ID, approvals.ReviewCommand{ReviewedBy: f.approver})
	require.NoError(t, err)
	require.NotNil(t, approved.ResultID)
	assert.Equal(t, exc.ID, *approved.ResultID)

	closed, err := f.excs.Find(ctx, exc.ID)
	require.NoError(t, err)
	assert.Equal(t, exceptions.StatusDismissed, closed.Status)
	require.NotNil(t, closed.ClosedBy)
	assert.Equal(t, f.approver, *closed.ClosedBy)
}

func TestApprovePolicyDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	policy, err := f.policies.Create(ctx, policies.CreateCommand{
		Name:        "covenant-severity-" + uuid.NewString()[:8],
		Pack:        "treasury",
		SignalTypes: []string{"covenant_breach"},
		CreatedBy:   "admin",
	})
	require.NoError(t, err)

	item, err := f.sys.Propose(ctx, approvals.ProposeCommand{
		ActionType: approvals.ActionPolicyDraft,
		ProposedBy: traces.Actor(traces.AgentPolicyDraft),
		Payload: map[string]any{
			"policy_id": policy.ID.String(),
			"notes":     "tighten severity floor",
			"rule": map[string]any{
				"match": "all",
				"conditions": []any{
					map[string]any{"field": "severity", "op": "gte", "value": "high"},
				},
			},
		},
	})
	require.NoError(t, err)

	approved, err := f.sys.Approve(ctx, item.ID, approvals.ReviewCommand{ReviewedBy: f.approver})
	require.NoError(t, err)
	require.NotNil(t, approved.ResultID)

	v, err := f.policies.FindVersion(ctx, *approved.ResultID)
	require.NoError(t, err)
	assert.Equal(t, policy.ID, v.PolicyID)
	assert.Equal(t, policies.VersionDraft, v.Status)
	assert.Equal(t, "agent:policy_draft", v.CreatedBy)
	assert.Equal(t, "tighten severity floor", v.Notes)
}

func TestApproveDecisionContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exc := f.raise(t)

	item, err := f.sys.Propose(ctx, approvals.ProposeCommand{
		ActionType: approvals.ActionDecision,
		ProposedBy: traces.Actor(traces.AgentNarrative),
		Payload: map[string]any{
			"exception_id": exc.ID.String(),
			"content":      map[string]any{"recommendation": "seek_waiver", "rationale": "first breach in 8 quarters"},
		},
	})
	require.NoError(t, err)

	approved, err := f.sys.Approve(ctx, item.ID, approvals.ReviewCommand{ReviewedBy: f.approver})
	require.NoError(t, err)
	require.NotNil(t, approved.ResultID)

	detail, err := f.excs.Detail(ctx, exc.ID)
	require.NoError(t, err)
	require.Len(t, detail.Contexts, 1)

	c := detail.Contexts[0]
	assert.Equal(t, *approved.ResultID, c.ID)
	assert.Equal(t, exceptions.KindDecisionContext, c.Kind)
	assert.Equal(t, "agent:narrative", c.AddedBy)
	assert.Equal(t, exceptions.StatusOpen, detail.Exception.Status)
}
