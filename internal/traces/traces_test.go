package traces_test

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/steward/internal/audit"
	"github.com/JaimeStill/steward/internal/testdb"
	"github.com/JaimeStill/steward/internal/traces"
	"github.com/JaimeStill/steward/pkg/pagination"
)

var testDB *sql.DB

func TestMain(m *testing.M) {
	os.Exit(testdb.Run(m, &testDB))
}

type fixture struct {
	sys     traces.System
	auditor audit.System
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	testdb.Require(t, testDB)

	registry, err := audit.NewRegistry()
	require.NoError(t, err)

	auditor := audit.New(testDB, registry, testdb.Logger(), testdb.Pagination())
	return fixture{
		sys:     traces.New(testDB, auditor, nil, testdb.Logger(), testdb.Pagination()),
		auditor: auditor,
	}
}

func (f fixture) start(t *testing.T) *traces.Trace {
	t.Helper()
	tr, err := f.sys.Start(context.Background(), traces.StartCommand{
		AgentType:    traces.AgentIntake,
		SessionID:    "session-" + uuid.NewString()[:8],
		InputSummary: "nightly treasury feed",
	})
	require.NoError(t, err)
	return tr
}

func (f fixture) events(t *testing.T, subject uuid.UUID) []audit.EventType {
	t.Helper()
	id := subject.String()
	result, err := f.auditor.List(context.Background(), pagination.PageRequest{}, audit.Filters{SubjectID: &id})
	require.NoError(t, err)

	types := make([]audit.EventType, 0, len(result.Data))
	for _, e := range result.Data {
		types = append(types, e.Type)
	}
	return types
}

func TestMapHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{traces.ErrNotFound, http.StatusNotFound},
		{traces.ErrInvalidTransition, http.StatusConflict},
		{traces.ErrInvalidTrace, http.StatusBadRequest},
		{assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := traces.MapHTTPStatus(tt.err); got != tt.want {
			t.Errorf("MapHTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestAgentTypeValid(t *testing.T) {
	for _, at := range []traces.AgentType{traces.AgentIntake, traces.AgentNarrative, traces.AgentPolicyDraft} {
		if !at.Valid() {
			t.Errorf("%s should be valid", at)
		}
	}
	if traces.AgentType("planner").Valid() {
		t.Error("planner should not be valid")
	}
	if got := traces.Actor(traces.AgentNarrative); got != "agent:narrative" {
		t.Errorf("Actor = %q", got)
	}
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sys.Start(ctx, traces.StartCommand{AgentType: "planner", SessionID: "s"})
	assert.ErrorIs(t, err, traces.ErrInvalidTrace)

	_, err = f.sys.Start(ctx, traces.StartCommand{AgentType: traces.AgentIntake, SessionID: "  "})
	assert.ErrorIs(t, err, traces.ErrInvalidTrace)
}

func TestLifecycleCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.start(t)

	assert.Equal(t, traces.StatusRunning, tr.Status)
	assert.Empty(t, tr.ToolCalls)
	assert.Nil(t, tr.CompletedAt)

	tr, err := f.sys.RecordToolCall(ctx, tr.ID, traces.ToolCallCommand{
		Name:       "get_open_exceptions",
		Input:      map[string]any{"pack": "treasury"},
		Output:     "3 exceptions",
		DurationMS: 12,
	})
	require.NoError(t, err)
	require.Len(t, tr.ToolCalls, 1)
	assert.Equal(t, "get_open_exceptions", tr.ToolCalls[0].Name)
	assert.JSONEq(t, `{"pack":"treasury"}`, string(tr.ToolCalls[0].Input))

	tr, err = f.sys.Complete(ctx, tr.ID, "proposed one signal")
	require.NoError(t, err)
	assert.Equal(t, traces.StatusCompleted, tr.Status)
	assert.Equal(t, "proposed one signal", tr.OutputSummary)
	require.NotNil(t, tr.CompletedAt)
	require.NotNil(t, tr.DurationMS)
	assert.GreaterOrEqual(t, *tr.DurationMS, int64(0))
	assert.Nil(t, tr.ErrorMessage)

	assert.ElementsMatch(t,
		[]audit.EventType{audit.AgentStarted, audit.AgentToolCalled, audit.AgentCompleted},
		f.events(t, tr.ID),
	)
}

func TestSealedTraceRejectsChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.start(t)

	tr, err := f.sys.Fail(ctx, tr.ID, "model timeout")
	require.NoError(t, err)
	assert.Equal(t, traces.StatusFailed, tr.Status)
	require.NotNil(t, tr.ErrorMessage)
	assert.Equal(t, "model timeout", *tr.ErrorMessage)

	_, err = f.sys.Complete(ctx, tr.ID, "late")
	assert.ErrorIs(t, err, traces.ErrInvalidTransition)

	_, err = f.sys.RecordToolCall(ctx, tr.ID, traces.ToolCallCommand{Name: "search_decisions"})
	assert.ErrorIs(t, err, traces.ErrInvalidTransition)

	_, err = f.sys.Complete(ctx, uuid.New(), "missing")
	assert.ErrorIs(t, err, traces.ErrNotFound)

	_, err = f.sys.Fail(ctx, tr.ID, "")
	assert.ErrorIs(t, err, traces.ErrInvalidTrace)
}

func TestConcurrentSealHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.start(t)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		losses int
	)

	for i := range 6 {
		wg.Go(func() {
			var err error
			if i%2 == 0 {
				_, err = f.sys.Complete(ctx, tr.ID, "done")
			} else {
				_, err = f.sys.Fail(ctx, tr.ID, "boom")
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, traces.ErrInvalidTransition):
				losses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 5, losses)
}

func TestFindIncludesProposals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.start(t)

	_, err := testDB.ExecContext(ctx,
		`INSERT INTO approval_queue (action_type, payload, proposed_by, trace_id, summary)
		 VALUES ('signal', '{"signal_type":"kyc_expiry"}', 'agent:intake', $1, 'kyc lapsed')`,
		tr.ID,
	)
	require.NoError(t, err)

	d, err := f.sys.Find(ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, d.Proposals, 1)
	assert.Equal(t, "signal", d.Proposals[0].ActionType)
	assert.Equal(t, "pending", d.Proposals[0].Status)
	assert.Nil(t, d.Proposals[0].ResultID)

	_, err = f.sys.Find(ctx, uuid.New())
	assert.ErrorIs(t, err, traces.ErrNotFound)
}
