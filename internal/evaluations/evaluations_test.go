package evaluations_test

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/steward/internal/audit"
	"github.com/JaimeStill/steward/internal/evaluations"
	"github.com/JaimeStill/steward/internal/exceptions"
	"github.com/JaimeStill/steward/internal/fingerprint"
	"github.com/JaimeStill/steward/internal/packs"
	"github.com/JaimeStill/steward/internal/policies"
	"github.com/JaimeStill/steward/internal/signals"
	"github.com/JaimeStill/steward/internal/testdb"
	"github.com/JaimeStill/steward/pkg/pagination"
)

var testDB *sql.DB

func TestMain(m *testing.M) {
	os.Exit(testdb.Run(m, &testDB))
}

type fixture struct {
	sys      evaluations.System
	signals  signals.System
	policies policies.System
	auditor  audit.System
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
	exc := exceptions.New(testDB, reg, auditor, nil, log, page)
	pol := policies.New(testDB, auditor, log)

	return fixture{
		sys:      evaluations.New(testDB, exc, pol, auditor, nil, log, page),
		signals:  signals.New(testDB, fingerprint.New(reg), exc, auditor, nil, log, page),
		policies: pol,
		auditor:  auditor,
	}
}

// governed creates an active policy for a fresh signal type and raises an
// exception of that type.
func (f fixture) governed(t *testing.T, rule policies.Rule, payload map[string]any) (*exceptions.Exception, *policies.Version) {
	t.Helper()
	ctx := context.Background()
	signalType := "covenant_check_" + uuid.NewString()[:8]

	p, err := f.policies.Create(ctx, policies.CreateCommand{
		Name:        "policy-" + signalType,
		Pack:        "treasury",
		SignalTypes: []string{signalType},
		CreatedBy:   "alice",
		Rule:        &rule,
	})
	require.NoError(t, err)

	v, err := f.policies.Activate(ctx, p.Versions[0].ID, "alice")
	require.NoError(t, err)

	res, err := f.signals.Ingest(ctx, signals.IngestCommand{SignalType: signalType, Source: "covenant-monitor", Payload: payload}, "")
	require.NoError(t, err)
	require.NotNil(t, res.Exception.PolicyID)

	return res.Exception, v
}

func severityRule() policies.Rule {
	return policies.Rule{
		Match: policies.MatchAll,
		Conditions: []policies.Condition{
			{Field: "severity", Op: policies.OpLt, Value: "high"},
		},
	}
}

func TestMapHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{evaluations.ErrNotFound, http.StatusNotFound},
		{exceptions.ErrNotFound, http.StatusNotFound},
		{policies.ErrVersionNotFound, http.StatusNotFound},
		{evaluations.ErrNoPolicy, http.StatusConflict},
		{policies.ErrNoActiveVersion, http.StatusConflict},
		{evaluations.ErrInvalidEvaluation, http.StatusBadRequest},
		{assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := evaluations.MapHTTPStatus(tt.err); got != tt.want {
			t.Errorf("MapHTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestInputHashCoversReplayContext(t *testing.T) {
	e := &exceptions.Exception{ID: uuid.New(), Severity: "high", Status: "open", Dimensions: map[string]string{"asset": "BTC"}}
	v := &policies.Version{ID: uuid.New(), Version: 1, Rule: severityRule()}
	snap := evaluations.Snapshot(e)

	a, err := evaluations.InputHash(snap, v, nil)
	require.NoError(t, err)
	b, err := evaluations.InputHash(snap, v, map[string]any{})
	require.NoError(t, err)
	c, err := evaluations.InputHash(snap, v, map[string]any{"as_of": "2024-01-01"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestEvaluateReplayNamespaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exc, _ := f.governed(t, severityRule(), map[string]any{"asset": uuid.NewString(), "severity": "critical"})

	first, err := f.sys.Evaluate(ctx, evaluations.EvaluateCommand{ExceptionID: exc.ID, Namespace: "backtest-1"})
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, policies.ResultFail, first.Evaluation.Result)

	again, err := f.sys.Evaluate(ctx, evaluations.EvaluateCommand{ExceptionID: exc.ID, Namespace: "backtest-1"})
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, first.Evaluation.ID, again.Evaluation.ID)
	assert.Equal(t, first.Evaluation.Result, again.Evaluation.Result)

	other, err := f.sys.Evaluate(ctx, evaluations.EvaluateCommand{ExceptionID: exc.ID, Namespace: "backtest-2"})
	require.NoError(t, err)
	assert.True(t, other.Created)
	assert.NotEqual(t, first.Evaluation.ID, other.Evaluation.ID)
	assert.Equal(t, first.Evaluation.InputHash, other.Evaluation.InputHash)

	prod, err := f.sys.Evaluate(ctx, evaluations.EvaluateCommand{ExceptionID: exc.ID})
	require.NoError(t, err)
	assert.Equal(t, evaluations.DefaultNamespace, prod.Evaluation.Namespace)

	et := string(audit.EvaluationRecorded)
	subject := first.Evaluation.ID.String()
	events, err := f.auditor.List(ctx, pagination.PageRequest{}, audit.Filters{EventType: &et, SubjectID: &subject})
	require.NoError(t, err)
	assert.Equal(t, 1, events.Total)
}

func TestEvaluateMissingFieldIsInconclusive(t *testing.T) {
	f := newFixture(t)
	rule := policies.Rule{
		Match: policies.MatchAll,
		Conditions: []policies.Condition{
			{Field: "context.collateral_ratio", Op: policies.OpGte, Value: 1.5},
		},
	}

	exc, _ := f.governed(t, rule, map[string]any{"asset": uuid.NewString()})

	res, err := f.sys.Evaluate(context.Background(), evaluations.EvaluateCommand{ExceptionID: exc.ID})
	require.NoError(t, err)
	assert.Equal(t, policies.ResultInconclusive, res.Evaluation.Result)
	require.Len(t, res.Evaluation.Details, 1)
	assert.True(t, res.Evaluation.Details[0].Missing)
}

func TestEvaluateChangedEvidenceRecordsNewEvaluation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asset := uuid.NewString()

	exc, _ := f.governed(t, severityRule(), map[string]any{"asset": asset, "severity": "low"})

	first, err := f.sys.Evaluate(ctx, evaluations.EvaluateCommand{ExceptionID: exc.ID})
	require.NoError(t, err)
	assert.Equal(t, policies.ResultPass, first.Evaluation.Result)

	_, err = f.signals.Ingest(ctx, signals.IngestCommand{
		SignalType: exc.SignalType,
		Source:     "covenant-monitor",
		Payload:    map[string]any{"asset": asset, "severity": "critical"},
	}, "")
	require.NoError(t, err)

	second, err := f.sys.Evaluate(ctx, evaluations.EvaluateCommand{ExceptionID: exc.ID})
	require.NoError(t, err)
	assert.True(t, second.Created)
	assert.NotEqual(t, first.Evaluation.InputHash, second.Evaluation.InputHash)
	assert.Equal(t, policies.ResultFail, second.Evaluation.Result)
}

func TestEvaluateExplicitVersionAndErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exc, v := f.governed(t, severityRule(), map[string]any{"asset": uuid.NewString()})

	res, err := f.sys.Evaluate(ctx, evaluations.EvaluateCommand{ExceptionID: exc.ID, PolicyVersionID: &v.ID, Namespace: "explicit"})
	require.NoError(t, err)
	assert.Equal(t, v.ID, res.Evaluation.PolicyVersionID)

	got, err := f.sys.Find(ctx, res.Evaluation.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Evaluation.InputHash, got.InputHash)

	list, err := f.sys.List(ctx, pagination.PageRequest{}, evaluations.Filters{ExceptionID: &exc.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)

	_, err = f.sys.Evaluate(ctx, evaluations.EvaluateCommand{ExceptionID: uuid.New()})
	assert.ErrorIs(t, err, exceptions.ErrNotFound)

	missing := uuid.New()
	_, err = f.sys.Evaluate(ctx, evaluations.EvaluateCommand{ExceptionID: exc.ID, PolicyVersionID: &missing})
	assert.ErrorIs(t, err, policies.ErrVersionNotFound)

	ungoverned, err := f.signals.Ingest(ctx, signals.IngestCommand{
		SignalType: "ungoverned_" + uuid.NewString()[:8],
		Source:     "feed",
		Payload:    map[string]any{"asset": "X"},
	}, "")
	require.NoError(t, err)

	_, err = f.sys.Evaluate(ctx, evaluations.EvaluateCommand{ExceptionID: ungoverned.Exception.ID})
	assert.ErrorIs(t, err, evaluations.ErrNoPolicy)
}
