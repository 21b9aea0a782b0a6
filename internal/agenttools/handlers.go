package agenttools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/JaimeStill/steward/internal/decisions"
	"github.com/JaimeStill/steward/internal/exceptions"
	"github.com/JaimeStill/steward/internal/policies"
	"github.com/JaimeStill/steward/internal/signals"
	"github.com/JaimeStill/steward/internal/traces"
	"github.com/JaimeStill/steward/pkg/handlers"
	"github.com/JaimeStill/steward/pkg/pagination"
)

// maxRecordedOutput bounds the tool output copied onto a trace.
const maxRecordedOutput = 4096

func (s *Server) handleGetOpenExceptions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := request.GetString("status", string(exceptions.StatusOpen))

	filters := exceptions.Filters{
		Status:     &status,
		Severity:   optString(request, "severity"),
		Pack:       optString(request, "pack"),
		SignalType: optString(request, "signal_type"),
	}

	result, err := s.deps.Exceptions.List(ctx, pageRequest(request), filters)
	if err != nil {
		return s.failure("list exceptions", err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleGetExceptionDetail(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requireID(request, "exception_id")
	if bad != nil {
		return bad, nil
	}

	detail, err := s.deps.Exceptions.Detail(ctx, id)
	if err != nil {
		if errors.Is(err, exceptions.ErrNotFound) {
			return notFound("exception", id)
		}
		return s.failure("get exception detail", err), nil
	}
	return jsonResult(detail)
}

func (s *Server) handleGetPolicies(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filters := policies.Filters{Pack: optString(request, "pack")}

	result, err := s.deps.Policies.List(ctx, filters, request.GetBool("include_versions", false))
	if err != nil {
		return s.failure("list policies", err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleGetEvidencePack(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requireID(request, "decision_id")
	if bad != nil {
		return bad, nil
	}

	pack, err := s.deps.Decisions.EvidencePack(ctx, id)
	if err != nil {
		if errors.Is(err, decisions.ErrEvidenceNotFound) || errors.Is(err, decisions.ErrNotFound) {
			return notFound("evidence_pack", id)
		}
		return s.failure("get evidence pack", err), nil
	}
	return jsonResult(pack)
}

func (s *Server) handleSearchDecisions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	exceptionID, bad := optID(request, "exception_id")
	if bad != nil {
		return bad, nil
	}

	since, bad := optTime(request, "since")
	if bad != nil {
		return bad, nil
	}

	filters := decisions.Filters{
		ExceptionID:  exceptionID,
		DecisionType: optString(request, "decision_type"),
		DecidedBy:    optString(request, "decided_by"),
		Since:        since,
	}

	result, err := s.deps.Decisions.List(ctx, pageRequest(request), filters)
	if err != nil {
		return s.failure("search decisions", err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleGetRecentSignals(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	since, bad := optTime(request, "since")
	if bad != nil {
		return bad, nil
	}

	filters := signals.Filters{
		SignalType: optString(request, "signal_type"),
		Source:     optString(request, "source"),
		Since:      since,
	}

	result, err := s.deps.Signals.List(ctx, pageRequest(request), filters)
	if err != nil {
		return s.failure("list signals", err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleAddExceptionContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requireID(request, "exception_id")
	if bad != nil {
		return bad, nil
	}

	content, ok := object(request, "content")
	if !ok {
		return mcp.NewToolResultError("missing required parameter: content (object)"), nil
	}

	c, err := s.deps.Exceptions.AddContext(ctx, exceptions.AddContextCommand{
		ExceptionID: id,
		Kind:        exceptions.KindContext,
		Content:     content,
		AddedBy:     s.actor(),
	})
	if err != nil {
		if errors.Is(err, exceptions.ErrNotFound) {
			return notFound("exception", id)
		}
		return s.failure("add exception context", err), nil
	}
	return jsonResult(c)
}

// recorded appends the call to the agent's trace when a trace_id is given.
// A recording failure is logged and never fails the tool call.
func (s *Server) recorded(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		result, err := next(ctx, request)

		raw := request.GetString("trace_id", "")
		if raw == "" || s.deps.Traces == nil {
			return result, err
		}

		traceID, perr := uuid.Parse(raw)
		if perr != nil {
			s.logger.Warn("tool call not recorded: bad trace_id", "tool", request.Params.Name, "trace_id", raw)
			return result, err
		}

		call := traces.ToolCallCommand{
			Name:       request.Params.Name,
			Input:      request.GetArguments(),
			DurationMS: time.Since(start).Milliseconds(),
		}

		switch {
		case err != nil:
			call.Error = err.Error()
		case result != nil && result.IsError:
			call.Error = truncate(resultText(result))
		default:
			call.Output = truncate(resultText(result))
		}

		if _, rerr := s.deps.Traces.RecordToolCall(ctx, traceID, call); rerr != nil {
			s.logger.Warn("tool call not recorded", "tool", call.Name, "trace_id", traceID, "error", rerr)
		}
		return result, err
	}
}

// failure logs an unexpected error and returns it as a tool error.
func (s *Server) failure(op string, err error) *mcp.CallToolResult {
	s.logger.Error(op+" failed", "error", err)
	return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", op, err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func notFound(kind string, id uuid.UUID) (*mcp.CallToolResult, error) {
	return jsonResult(handlers.NotFound{Found: false, Kind: kind, ID: id.String()})
}

func requireID(request mcp.CallToolRequest, key string) (uuid.UUID, *mcp.CallToolResult) {
	raw, err := request.RequireString(key)
	if err != nil {
		return uuid.Nil, mcp.NewToolResultError("missing required parameter: " + key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, mcp.NewToolResultError(fmt.Sprintf("invalid %s: %q is not a uuid", key, raw))
	}
	return id, nil
}

func optID(request mcp.CallToolRequest, key string) (*uuid.UUID, *mcp.CallToolResult) {
	raw := request.GetString(key, "")
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("invalid %s: %q is not a uuid", key, raw))
	}
	return &id, nil
}

func optString(request mcp.CallToolRequest, key string) *string {
	if v := request.GetString(key, ""); v != "" {
		return &v
	}
	return nil
}

func optTime(request mcp.CallToolRequest, key string) (*time.Time, *mcp.CallToolResult) {
	raw := request.GetString(key, "")
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("invalid %s: want RFC 3339, got %q", key, raw))
	}
	return &ts, nil
}

func optFloat(request mcp.CallToolRequest, key string) *float64 {
	if f, ok := request.GetArguments()[key].(float64); ok {
		return &f
	}
	return nil
}

func object(request mcp.CallToolRequest, key string) (map[string]any, bool) {
	m, ok := request.GetArguments()[key].(map[string]any)
	return m, ok && m != nil
}

func pageRequest(request mcp.CallToolRequest) pagination.PageRequest {
	return pagination.PageRequest{
		Page:     request.GetInt("page", 1),
		PageSize: request.GetInt("page_size", 0),
		Search:   optString(request, "search"),
	}
}

func resultText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// truncate cuts s to at most maxRecordedOutput bytes on a rune boundary.
func truncate(s string) string {
	if len(s) <= maxRecordedOutput {
		return s
	}
	n := maxRecordedOutput
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
