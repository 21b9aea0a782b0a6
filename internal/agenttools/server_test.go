package agenttools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/JaimeStill/steward/internal/approvals"
	"github.com/JaimeStill/steward/internal/decisions"
	"github.com/JaimeStill/steward/internal/exceptions"
	"github.com/JaimeStill/steward/internal/policies"
	"github.com/JaimeStill/steward/internal/signals"
	"github.com/JaimeStill/steward/internal/traces"
	"github.com/JaimeStill/steward/pkg/pagination"
)

type mockExceptions struct {
	known      map[uuid.UUID]bool
	lastFilter exceptions.Filters
	lastPage   pagination.PageRequest
	added      []exceptions.AddContextCommand
}

func (m *mockExceptions) List(_ context.Context, page pagination.PageRequest, f exceptions.Filters) (*pagination.PageResult[exceptions.Exception], error) {
	m.lastPage = page
	m.lastFilter = f
	r := pagination.NewPageResult([]exceptions.Exception{{ID: uuid.New(), Status: exceptions.StatusOpen}}, 1, 1, 20)
	return &r, nil
}

func (m *mockExceptions) Detail(_ context.Context, id uuid.UUID) (*exceptions.Detail, error) {
	if !m.known[id] {
		return nil, exceptions.ErrNotFound
	}
	return &exceptions.Detail{Exception: &exceptions.Exception{ID: id}}, nil
}

func (m *mockExceptions) AddContext(_ context.Context, cmd exceptions.AddContextCommand) (*exceptions.Context, error) {
	if !m.known[cmd.ExceptionID] {
		return nil, exceptions.ErrNotFound
	}
	m.added = append(m.added, cmd)
	return &exceptions.Context{ID: uuid.New(), ExceptionID: cmd.ExceptionID, Kind: cmd.Kind, AddedBy: cmd.AddedBy}, nil
}

type mockPolicies struct {
	includeVersions bool
}

func (m *mockPolicies) List(_ context.Context, _ policies.Filters, includeVersions bool) ([]policies.Policy, error) {
	m.includeVersions = includeVersions
	return []policies.Policy{{ID: uuid.New(), Name: "severity-floor"}}, nil
}

type mockDecisions struct {
	lastFilter decisions.Filters
}

func (m *mockDecisions) List(_ context.Context, _ pagination.PageRequest, f decisions.Filters) (*pagination.PageResult[decisions.Decision], error) {
	m.lastFilter = f
	r := pagination.NewPageResult([]decisions.Decision{}, 0, 1, 20)
	return &r, nil
}

func (m *mockDecisions) EvidencePack(_ context.Context, _ uuid.UUID) (*decisions.EvidencePack, error) {
	return nil, decisions.ErrEvidenceNotFound
}

type mockSignals struct {
	err error
}

func (m *mockSignals) List(_ context.Context, _ pagination.PageRequest, _ signals.Filters) (*pagination.PageResult[signals.Signal], error) {
	if m.err != nil {
		return nil, m.err
	}
	r := pagination.NewPageResult([]signals.Signal{}, 0, 1, 20)
	return &r, nil
}

type mockApprovals struct {
	proposed []approvals.ProposeCommand
}

func (m *mockApprovals) Propose(_ context.Context, cmd approvals.ProposeCommand) (*approvals.Item, error) {
	if cmd.ActionType == approvals.ActionPolicyDraft {
		if _, ok := cmd.Payload["rule"].(map[string]any)["conditions"]; !ok {
			return nil, fmt.Errorf("%w: rule: at least one condition required", approvals.ErrInvalidProposal)
		}
	}
	m.proposed = append(m.proposed, cmd)
	data, _ := json.Marshal(cmd.Payload)
	return &approvals.Item{
		ID:         uuid.New(),
		ActionType: cmd.ActionType,
		Payload:    data,
		ProposedBy: cmd.ProposedBy,
		Status:     approvals.StatusPending,
		TraceID:    cmd.TraceID,
	}, nil
}

type mockTraces struct {
	calls map[uuid.UUID][]traces.ToolCallCommand
	fail  bool
}

func (m *mockTraces) RecordToolCall(_ context.Context, id uuid.UUID, cmd traces.ToolCallCommand) (*traces.Trace, error) {
	if m.fail {
		return nil, traces.ErrInvalidTransition
	}
	if m.calls == nil {
		m.calls = make(map[uuid.UUID][]traces.ToolCallCommand)
	}
	m.calls[id] = append(m.calls[id], cmd)
	return &traces.Trace{ID: id}, nil
}

type harness struct {
	srv       *Server
	excs      *mockExceptions
	policies  *mockPolicies
	decisions *mockDecisions
	signals   *mockSignals
	approvals *mockApprovals
	traces    *mockTraces
	known     uuid.UUID
}

func newHarness(agent traces.AgentType) *harness {
	h := &harness{
		excs:      &mockExceptions{known: map[uuid.UUID]bool{}},
		policies:  &mockPolicies{},
		decisions: &mockDecisions{},
		signals:   &mockSignals{},
		approvals: &mockApprovals{},
		traces:    &mockTraces{},
		known:     uuid.New(),
	}
	h.excs.known[h.known] = true

	h.srv = NewServer(Deps{
		Exceptions: h.excs,
		Policies:   h.policies,
		Decisions:  h.decisions,
		Signals:    h.signals,
		Approvals:  h.approvals,
		Traces:     h.traces,
	}, agent, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h
}

func call(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil {
		t.Fatal("nil result")
	}
	return resultText(result)
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		tool     mcp.Tool
		wantName string
		required []string
	}{
		{getOpenExceptionsTool, "get_open_exceptions", nil},
		{getExceptionDetailTool, "get_exception_detail", []string{"exception_id"}},
		{getPoliciesTool, "get_policies", nil},
		{getEvidencePackTool, "get_evidence_pack", []string{"decision_id"}},
		{searchDecisionsTool, "search_decisions", nil},
		{getRecentSignalsTool, "get_recent_signals", nil},
		{proposeSignalTool, "propose_signal", []string{"signal_type", "payload"}},
		{proposePolicyDraftTool, "propose_policy_draft", []string{"policy_id", "rule"}},
		{proposeDecisionContextTool, "propose_decision_context", []string{"exception_id", "content"}},
		{dismissExceptionTool, "dismiss_exception", []string{"exception_id", "reason"}},
		{addExceptionContextTool, "add_exception_context", []string{"exception_id", "content"}},
	}

	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			if tt.tool.Name != tt.wantName {
				t.Errorf("tool name = %q, want %q", tt.tool.Name, tt.wantName)
			}
			if tt.tool.Description == "" {
				t.Error("tool description is empty")
			}
			for _, r := range tt.required {
				found := false
				for _, got := range tt.tool.InputSchema.Required {
					if got == r {
						found = true
					}
				}
				if !found {
					t.Errorf("%s: %q not required", tt.wantName, r)
				}
			}
		})
	}
}

func TestGetOpenExceptionsDefaultsToOpen(t *testing.T) {
	h := newHarness(traces.AgentNarrative)

	result, err := h.srv.handleGetOpenExceptions(context.Background(), call("get_open_exceptions", map[string]any{
		"severity":  "high",
		"page_size": float64(5),
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", text(t, result))
	}

	f := h.excs.lastFilter
	if f.Status == nil || *f.Status != "open" {
		t.Errorf("status filter = %v, want open", f.Status)
	}
	if f.Severity == nil || *f.Severity != "high" {
		t.Errorf("severity filter = %v, want high", f.Severity)
	}
	if f.Pack != nil {
		t.Errorf("pack filter = %v, want nil", *f.Pack)
	}
	if h.excs.lastPage.PageSize != 5 {
		t.Errorf("page size = %d, want 5", h.excs.lastPage.PageSize)
	}
}

func TestNotFoundIsStructured(t *testing.T) {
	h := newHarness(traces.AgentNarrative)
	ctx := context.Background()
	missing := uuid.New()

	tests := []struct {
		name   string
		invoke func() (*mcp.CallToolResult, error)
		kind   string
	}{
		{
			name: "exception detail",
			invoke: func() (*mcp.CallToolResult, error) {
				return h.srv.handleGetExceptionDetail(ctx, call("get_exception_detail", map[string]any{"exception_id": missing.String()}))
			},
			kind: "exception",
		},
		{
			name: "evidence pack",
			invoke: func() (*mcp.CallToolResult, error) {
				return h.srv.handleGetEvidencePack(ctx, call("get_evidence_pack", map[string]any{"decision_id": missing.String()}))
			},
			kind: "evidence_pack",
		},
		{
			name: "add context",
			invoke: func() (*mcp.CallToolResult, error) {
				return h.srv.handleAddExceptionContext(ctx, call("add_exception_context", map[string]any{
					"exception_id": missing.String(),
					"content":      map[string]any{"note": "x"},
				}))
			},
			kind: "exception",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.invoke()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.IsError {
				t.Fatalf("not-found must not be a tool error: %s", text(t, result))
			}

			var nf struct {
				Found bool   `json:"found"`
				Kind  string `json:"kind"`
				ID    string `json:"id"`
			}
			if err := json.Unmarshal([]byte(text(t, result)), &nf); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if nf.Found || nf.Kind != tt.kind || nf.ID != missing.String() {
				t.Errorf("got %+v, want found=false kind=%s id=%s", nf, tt.kind, missing)
			}
		})
	}
}

func TestGetExceptionDetailFound(t *testing.T) {
	h := newHarness(traces.AgentNarrative)

	result, _ := h.srv.handleGetExceptionDetail(context.Background(), call("get_exception_detail", map[string]any{"exception_id": h.known.String()}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", text(t, result))
	}
	if !strings.Contains(text(t, result), h.known.String()) {
		t.Errorf("detail does not mention %s", h.known)
	}
}

func TestInvalidInputIsToolError(t *testing.T) {
	h := newHarness(traces.AgentNarrative)
	ctx := context.Background()

	tests := []struct {
		name   string
		invoke func() (*mcp.CallToolResult, error)
	}{
		{"missing id", func() (*mcp.CallToolResult, error) {
			return h.srv.handleGetExceptionDetail(ctx, call("get_exception_detail", map[string]any{}))
		}},
		{"malformed id", func() (*mcp.CallToolResult, error) {
			return h.srv.handleGetEvidencePack(ctx, call("get_evidence_pack", map[string]any{"decision_id": "abc"}))
		}},
		{"bad since", func() (*mcp.CallToolResult, error) {
			return h.srv.handleGetRecentSignals(ctx, call("get_recent_signals", map[string]any{"since": "last week"}))
		}},
		{"payload not an object", func() (*mcp.CallToolResult, error) {
			return h.srv.handleProposeSignal(ctx, call("propose_signal", map[string]any{"signal_type": "covenant_breach", "payload": "x"}))
		}},
		{"dismiss without reason", func() (*mcp.CallToolResult, error) {
			return h.srv.handleDismissException(ctx, call("dismiss_exception", map[string]any{"exception_id": h.known.String()}))
		}},
		{"proposal rejected by queue", func() (*mcp.CallToolResult, error) {
			return h.srv.handleProposePolicyDraft(ctx, call("propose_policy_draft", map[string]any{
				"policy_id": uuid.NewString(),
				"rule":      map[string]any{"match": "all"},
			}))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.invoke()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Errorf("expected tool error, got %s", text(t, result))
			}
		})
	}

	if len(h.approvals.proposed) != 0 {
		t.Errorf("invalid input enqueued %d proposals", len(h.approvals.proposed))
	}
}

func TestProposalToolsEnqueue(t *testing.T) {
	h := newHarness(traces.AgentIntake)
	ctx := context.Background()
	traceID := uuid.New()

	tests := []struct {
		name   string
		invoke func() (*mcp.CallToolResult, error)
		action approvals.ActionType
		check  func(t *testing.T, payload map[string]any)
	}{
		{
			name: "propose_signal",
			invoke: func() (*mcp.CallToolResult, error) {
				return h.srv.handleProposeSignal(ctx, call("propose_signal", map[string]any{
					"signal_type": "covenant_breach",
					"payload":     map[string]any{"covenant_name": "X", "facility": "Y"},
					"reliability": 0.7,
					"confidence":  0.8,
					"summary":     "breach in lender notice",
					"trace_id":    traceID.String(),
				}))
			},
			action: approvals.ActionSignal,
			check: func(t *testing.T, p map[string]any) {
				if p["signal_type"] != "covenant_breach" {
					t.Errorf("signal_type = %v", p["signal_type"])
				}
				if p["reliability"] != 0.7 {
					t.Errorf("reliability = %v", p["reliability"])
				}
				body, _ := p["payload"].(map[string]any)
				if body["covenant_name"] != "X" || body["facility"] != "Y" {
					t.Errorf("payload = %v", body)
				}
			},
		},
		{
			name: "propose_policy_draft",
			invoke: func() (*mcp.CallToolResult, error) {
				return h.srv.handleProposePolicyDraft(ctx, call("propose_policy_draft", map[string]any{
					"policy_id": h.known.String(),
					"rule": map[string]any{
						"match":      "any",
						"conditions": []any{map[string]any{"field": "severity", "op": "eq", "value": "critical"}},
					},
					"notes": "only escalate critical",
				}))
			},
			action: approvals.ActionPolicyDraft,
			check: func(t *testing.T, p map[string]any) {
				if p["policy_id"] != h.known.String() || p["notes"] != "only escalate critical" {
					t.Errorf("payload = %v", p)
				}
			},
		},
		{
			name: "propose_decision_context",
			invoke: func() (*mcp.CallToolResult, error) {
				return h.srv.handleProposeDecisionContext(ctx, call("propose_decision_context", map[string]any{
					"exception_id": h.known.String(),
					"content":      map[string]any{"recommendation": "seek_waiver"},
				}))
			},
			action: approvals.ActionDecision,
			check: func(t *testing.T, p map[string]any) {
				if p["exception_id"] != h.known.String() {
					t.Errorf("exception_id = %v", p["exception_id"])
				}
			},
		},
		{
			name: "dismiss_exception",
			invoke: func() (*mcp.CallToolResult, error) {
				return h.srv.handleDismissException(ctx, call("dismiss_exception", map[string]any{
					"exception_id": h.known.String(),
					"reason":       "stale feed",
				}))
			},
			action: approvals.ActionDismiss,
			check: func(t *testing.T, p map[string]any) {
				if p["reason"] != "stale feed" {
					t.Errorf("reason = %v", p["reason"])
				}
			},
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.invoke()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.IsError {
				t.Fatalf("unexpected tool error: %s", text(t, result))
			}

			var item approvals.Item
			if err := json.Unmarshal([]byte(text(t, result)), &item); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if item.Status != approvals.StatusPending {
				t.Errorf("status = %s, want pending", item.Status)
			}

			if len(h.approvals.proposed) != i+1 {
				t.Fatalf("proposed = %d, want %d", len(h.approvals.proposed), i+1)
			}
			cmd := h.approvals.proposed[i]
			if cmd.ActionType != tt.action {
				t.Errorf("action = %s, want %s", cmd.ActionType, tt.action)
			}
			if cmd.ProposedBy != "agent:intake" {
				t.Errorf("proposed_by = %q, want agent:intake", cmd.ProposedBy)
			}
			tt.check(t, cmd.Payload)
		})
	}

	first := h.approvals.proposed[0]
	if first.TraceID == nil || *first.TraceID != traceID {
		t.Errorf("trace id = %v, want %s", first.TraceID, traceID)
	}
	if first.Confidence == nil || *first.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", first.Confidence)
	}
	if first.Summary != "breach in lender notice" {
		t.Errorf("summary = %q", first.Summary)
	}
}

func TestAddExceptionContextWritesDirectly(t *testing.T) {
	h := newHarness(traces.AgentNarrative)

	result, err := h.srv.handleAddExceptionContext(context.Background(), call("add_exception_context", map[string]any{
		"exception_id": h.known.String(),
		"content":      map[string]any{"lender": "First National"},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", text(t, result))
	}

	if len(h.approvals.proposed) != 0 {
		t.Error("context must not be queued for approval")
	}
	if len(h.excs.added) != 1 {
		t.Fatalf("added = %d, want 1", len(h.excs.added))
	}
	got := h.excs.added[0]
	if got.Kind != exceptions.KindContext || got.AddedBy != "agent:narrative" {
		t.Errorf("added %+v", got)
	}
}

func TestRecordedAppendsToTrace(t *testing.T) {
	h := newHarness(traces.AgentNarrative)
	ctx := context.Background()
	traceID := uuid.New()

	handler := h.srv.recorded(h.srv.handleGetPolicies)
	result, err := handler(ctx, call("get_policies", map[string]any{
		"include_versions": true,
		"trace_id":         traceID.String(),
	}))
	if err != nil || result.IsError {
		t.Fatalf("unexpected failure: %v %s", err, text(t, result))
	}
	if !h.policies.includeVersions {
		t.Error("include_versions not passed through")
	}

	h.signals.err = errors.New("connection reset")
	failing := h.srv.recorded(h.srv.handleGetRecentSignals)
	result, _ = failing(ctx, call("get_recent_signals", map[string]any{"trace_id": traceID.String()}))
	if !result.IsError {
		t.Fatal("expected tool error")
	}

	calls := h.traces.calls[traceID]
	if len(calls) != 2 {
		t.Fatalf("recorded %d calls, want 2", len(calls))
	}
	if calls[0].Name != "get_policies" || calls[0].Output == "" || calls[0].Error != "" {
		t.Errorf("first call = %+v", calls[0])
	}
	if calls[0].Input["include_versions"] != true {
		t.Errorf("input = %v", calls[0].Input)
	}
	if calls[1].Name != "get_recent_signals" || !strings.Contains(calls[1].Error, "connection reset") {
		t.Errorf("second call = %+v", calls[1])
	}
}

func TestRecordedIgnoresMissingOrFailedTrace(t *testing.T) {
	h := newHarness(traces.AgentNarrative)
	ctx := context.Background()

	handler := h.srv.recorded(h.srv.handleGetPolicies)

	result, err := handler(ctx, call("get_policies", map[string]any{}))
	if err != nil || result.IsError {
		t.Fatal("call without trace failed")
	}

	result, err = handler(ctx, call("get_policies", map[string]any{"trace_id": "nope"}))
	if err != nil || result.IsError {
		t.Fatal("call with malformed trace failed")
	}

	h.traces.fail = true
	result, err = handler(ctx, call("get_policies", map[string]any{"trace_id": uuid.NewString()}))
	if err != nil || result.IsError {
		t.Fatal("trace recording failure leaked into the tool result")
	}

	if len(h.traces.calls) != 0 {
		t.Errorf("recorded %d traces, want 0", len(h.traces.calls))
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", maxRecordedOutput+10)
	if got := truncate(long); len(got) != maxRecordedOutput {
		t.Errorf("len = %d, want %d", len(got), maxRecordedOutput)
	}
	if got := truncate("short"); got != "short" {
		t.Errorf("got %q", got)
	}

	// "€" is three bytes; the limit falls inside the last one
	multi := strings.Repeat("a", maxRecordedOutput-1) + "€"
	got := truncate(multi)
	if !utf8.ValidString(got) {
		t.Errorf("truncated output is not valid UTF-8")
	}
	if len(got) != maxRecordedOutput-1 {
		t.Errorf("len = %d, want %d", len(got), maxRecordedOutput-1)
	}
}
