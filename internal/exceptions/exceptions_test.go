package exceptions_test

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/steward/internal/audit"
	"github.com/JaimeStill/steward/internal/exceptions"
	"github.com/JaimeStill/steward/internal/fingerprint"
	"github.com/JaimeStill/steward/internal/packs"
	"github.com/JaimeStill/steward/internal/testdb"
	"github.com/JaimeStill/steward/pkg/pagination"
	"github.com/JaimeStill/steward/pkg/repository"
)

var testDB *sql.DB

func TestMain(m *testing.M) {
	os.Exit(testdb.Run(m, &testDB))
}

type fixture struct {
	sys     exceptions.System
	engine  *fingerprint.Engine
	auditor audit.System
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	testdb.Require(t, testDB)

	registry, err := audit.NewRegistry()
	require.NoError(t, err)

	reg := packs.Builtin()
	auditor := audit.New(testDB, registry, testdb.Logger(), testdb.Pagination())

	return fixture{
		sys:     exceptions.New(testDB, reg, auditor, nil, testdb.Logger(), testdb.Pagination()),
		engine:  fingerprint.New(reg),
		auditor: auditor,
	}
}

// ingest stores a raw signal row and deduplicates it in one transaction.
func (f fixture) ingest(t *testing.T, signalType string, payload map[string]any) *exceptions.DedupResult {
	t.Helper()
	result, err := f.tryIngest(signalType, payload)
	require.NoError(t, err)
	return result
}

func (f fixture) tryIngest(signalType string, payload map[string]any) (*exceptions.DedupResult, error) {
	ctx := context.Background()

	key, err := f.engine.Fingerprint(signalType, payload)
	if err != nil {
		return nil, err
	}

	return repository.WithTx(ctx, testDB, func(tx *sql.Tx) (*exceptions.DedupResult, error) {
		var id uuid.UUID
		err := tx.QueryRowContext(ctx,
			`INSERT INTO signals (signal_type, source, payload) VALUES ($1, 'test', '{}') RETURNING id`,
			signalType,
		).Scan(&id)
		if err != nil {
			return nil, err
		}

		return f.sys.Deduplicate(ctx, tx, exceptions.DeduplicateCommand{
			SignalID:   id,
			Payload:    payload,
			ObservedAt: time.Now(),
			Key:        key,
			Actor:      "ingestor",
		})
	})
}

func TestTitle(t *testing.T) {
	tests := []struct {
		name       string
		signalType string
		dims       map[string]string
		want       string
	}{
		{"single", "market_volatility_spike", map[string]string{"asset": "BTC"}, "Market Volatility Spike: asset=BTC"},
		{"sorted", "covenant_breach", map[string]string{"facility": "F1", "covenant_name": "DSCR"}, "Covenant Breach: covenant_name=DSCR, facility=F1"},
		{"empty", "kyc_expiry", nil, "Kyc Expiry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exceptions.Title(tt.signalType, tt.dims); got != tt.want {
				t.Errorf("Title() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSeverityOf(t *testing.T) {
	tests := []struct {
		payload map[string]any
		want    exceptions.Severity
	}{
		{map[string]any{"severity": "critical"}, exceptions.SeverityCritical},
		{map[string]any{"severity": " HIGH "}, exceptions.SeverityHigh},
		{map[string]any{"severity": "catastrophic"}, exceptions.SeverityMedium},
		{map[string]any{"severity": 4}, exceptions.SeverityMedium},
		{map[string]any{}, exceptions.SeverityMedium},
	}

	for _, tt := range tests {
		if got := exceptions.SeverityOf(tt.payload); got != tt.want {
			t.Errorf("SeverityOf(%v) = %s, want %s", tt.payload, got, tt.want)
		}
	}
}

func TestSeverityRank(t *testing.T) {
	assert.Less(t, exceptions.SeverityLow.Rank(), exceptions.SeverityMedium.Rank())
	assert.Less(t, exceptions.SeverityHigh.Rank(), exceptions.SeverityCritical.Rank())
	assert.Equal(t, -1, exceptions.Severity("nope").Rank())
}

func TestMapHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{exceptions.ErrNotFound, http.StatusNotFound},
		{exceptions.ErrInvalidTransition, http.StatusConflict},
		{exceptions.ErrInvalidContext, http.StatusBadRequest},
		{repository.ErrConstraint, http.StatusBadRequest},
		{assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := exceptions.MapHTTPStatus(tt.err); got != tt.want {
			t.Errorf("MapHTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestDeduplicateMergesSameFingerprint(t *testing.T) {
	f := newFixture(t)
	asset := "BTC-" + uuid.NewString()

	first := f.ingest(t, "market_volatility_spike", map[string]any{"asset": asset, "magnitude": 0.12, "severity": "medium"})
	second := f.ingest(t, "market_volatility_spike", map[string]any{"asset": asset, "magnitude": 0.31, "severity": "high"})
	third := f.ingest(t, "market_volatility_spike", map[string]any{"asset": "ETH-" + uuid.NewString()})

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, first.Exception.ID, second.Exception.ID)
	assert.Equal(t, 2, second.Exception.OccurrenceCount)
	assert.Equal(t, exceptions.SeverityHigh, second.Exception.Severity)
	assert.Equal(t, "Market Volatility Spike: asset="+asset, second.Exception.Title)
	assert.Equal(t, "treasury", second.Exception.Pack)

	assert.True(t, third.Created)
	assert.NotEqual(t, first.Exception.ID, third.Exception.ID)
}

func TestDeduplicateNeverLowersSeverity(t *testing.T) {
	f := newFixture(t)
	cp := "ACME-" + uuid.NewString()

	f.ingest(t, "credit_downgrade", map[string]any{"counterparty": cp, "severity": "critical"})
	merged := f.ingest(t, "credit_downgrade", map[string]any{"counterparty": cp, "severity": "low"})

	assert.Equal(t, exceptions.SeverityCritical, merged.Exception.Severity)
}

func TestResolvedExceptionIsNeverReused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asset := "SOL-" + uuid.NewString()

	first := f.ingest(t, "market_volatility_spike", map[string]any{"asset": asset})

	resolved, err := f.sys.Resolve(ctx, first.Exception.ID, "dana", "hedged")
	require.NoError(t, err)
	assert.Equal(t, exceptions.StatusResolved, resolved.Status)
	require.NotNil(t, resolved.ClosedBy)
	assert.Equal(t, "dana", *resolved.ClosedBy)

	reopened := f.ingest(t, "market_volatility_spike", map[string]any{"asset": asset})
	assert.True(t, reopened.Created)
	assert.NotEqual(t, first.Exception.ID, reopened.Exception.ID)
	assert.Equal(t, first.Exception.Fingerprint, reopened.Exception.Fingerprint)
	assert.Equal(t, 1, reopened.Exception.OccurrenceCount)
}

func TestCloseTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.ingest(t, "kyc_expiry", map[string]any{"client_id": uuid.NewString()})

	_, err := f.sys.Dismiss(ctx, res.Exception.ID, "erin", "duplicate feed")
	require.NoError(t, err)

	_, err = f.sys.Resolve(ctx, res.Exception.ID, "erin", "")
	assert.ErrorIs(t, err, exceptions.ErrInvalidTransition)

	_, err = f.sys.Dismiss(ctx, uuid.New(), "erin", "")
	assert.ErrorIs(t, err, exceptions.ErrNotFound)
}

func TestConcurrentDeduplicateCreatesOneException(t *testing.T) {
	f := newFixture(t)
	asset := "XRP-" + uuid.NewString()
	const workers = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		errs    []error
		ids     = make(map[uuid.UUID]struct{})
	)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.tryIngest("market_volatility_spike", map[string]any{"asset": asset})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			ids[res.Exception.ID] = struct{}{}
			if res.Created {
				created++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, created)
	require.Len(t, ids, 1)

	for id := range ids {
		e, err := f.sys.Find(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, workers, e.OccurrenceCount)
	}
}

func TestPolicyLinkedBySignalType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	signalType := "custom_" + uuid.NewString()[:8]

	var policyID uuid.UUID
	err := testDB.QueryRowContext(ctx,
		`INSERT INTO policies (name, pack, signal_types, created_by)
		 VALUES ($1, 'treasury', jsonb_build_array($2::text), 'admin') RETURNING id`,
		"policy-"+signalType, signalType,
	).Scan(&policyID)
	require.NoError(t, err)

	res := f.ingest(t, signalType, map[string]any{"asset": "GOLD"})
	require.NotNil(t, res.Exception.PolicyID)
	assert.Equal(t, policyID, *res.Exception.PolicyID)
	assert.Equal(t, packs.DefaultPack, res.Exception.Pack)
}

func TestAddContextAndDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cp := "BANK-" + uuid.NewString()

	res := f.ingest(t, "credit_downgrade", map[string]any{"counterparty": cp, "rating": "BB"})
	id := res.Exception.ID

	_, err := f.sys.AddContext(ctx, exceptions.AddContextCommand{
		ExceptionID: id,
		Content:     map[string]any{"exposure_musd": 42},
		AddedBy:     "dana",
	})
	require.NoError(t, err)

	_, err = f.sys.AddContext(ctx, exceptions.AddContextCommand{
		ExceptionID: id,
		Kind:        exceptions.KindDecisionContext,
		Content:     map[string]any{"narrative": "rating agency cited leverage"},
		AddedBy:     "narrative-agent",
	})
	require.NoError(t, err)

	_, err = f.sys.AddContext(ctx, exceptions.AddContextCommand{
		ExceptionID: id,
		Kind:        "gossip",
		Content:     map[string]any{"x": 1},
		AddedBy:     "dana",
	})
	assert.ErrorIs(t, err, exceptions.ErrInvalidContext)

	_, err = f.sys.AddContext(ctx, exceptions.AddContextCommand{
		ExceptionID: uuid.New(),
		Content:     map[string]any{"x": 1},
		AddedBy:     "dana",
	})
	assert.ErrorIs(t, err, exceptions.ErrNotFound)

	d, err := f.sys.Detail(ctx, id)
	require.NoError(t, err)
	assert.Len(t, d.Signals, 1)
	assert.Len(t, d.Contexts, 2)
	assert.Empty(t, d.Decisions)
	assert.EqualValues(t, 42, d.Exception.Context["exposure_musd"])
	assert.NotContains(t, d.Exception.Context, "narrative")

	require.NotEmpty(t, d.Options)
	assert.Equal(t, packs.Builtin().Options("credit_downgrade"), d.Options)
}

func TestDeduplicateAudited(t *testing.T) {
	f := newFixture(t)
	asset := "ADA-" + uuid.NewString()

	first := f.ingest(t, "market_volatility_spike", map[string]any{"asset": asset})
	f.ingest(t, "market_volatility_spike", map[string]any{"asset": asset})

	subject := first.Exception.ID.String()
	events, err := f.auditor.List(context.Background(), pagination.PageRequest{}, audit.Filters{SubjectID: &subject})
	require.NoError(t, err)

	kinds := make([]audit.EventType, 0, len(events.Data))
	for _, e := range events.Data {
		kinds = append(kinds, e.Type)
	}
	assert.ElementsMatch(t, []audit.EventType{audit.ExceptionRaised, audit.ExceptionMerged}, kinds)
}
