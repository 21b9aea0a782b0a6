package agenttools

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/JaimeStill/steward/internal/approvals"
)

func (s *Server) handleProposeSignal(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	signalType, err := request.RequireString("signal_type")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: signal_type"), nil
	}

	body, ok := object(request, "payload")
	if !ok {
		return mcp.NewToolResultError("missing required parameter: payload (object)"), nil
	}

	payload := map[string]any{
		"signal_type": signalType,
		"payload":     body,
	}
	if v := request.GetString("source", ""); v != "" {
		payload["source"] = v
	}
	if v := request.GetString("observed_at", ""); v != "" {
		payload["observed_at"] = v
	}
	if v := optFloat(request, "reliability"); v != nil {
		payload["reliability"] = *v
	}

	return s.propose(ctx, request, approvals.ActionSignal, payload)
}

func (s *Server) handleProposePolicyDraft(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	policyID, bad := requireID(request, "policy_id")
	if bad != nil {
		return bad, nil
	}

	rule, ok := object(request, "rule")
	if !ok {
		return mcp.NewToolResultError("missing required parameter: rule (object)"), nil
	}

	return s.propose(ctx, request, approvals.ActionPolicyDraft, map[string]any{
		"policy_id": policyID.String(),
		"rule":      rule,
		"notes":     request.GetString("notes", ""),
	})
}

func (s *Server) handleProposeDecisionContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	exceptionID, bad := requireID(request, "exception_id")
	if bad != nil {
		return bad, nil
	}

	content, ok := object(request, "content")
	if !ok {
		return mcp.NewToolResultError("missing required parameter: content (object)"), nil
	}

	return s.propose(ctx, request, approvals.ActionDecision, map[string]any{
		"exception_id": exceptionID.String(),
		"content":      content,
	})
}

func (s *Server) handleDismissException(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	exceptionID, bad := requireID(request, "exception_id")
	if bad != nil {
		return bad, nil
	}

	reason, err := request.RequireString("reason")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: reason"), nil
	}

	return s.propose(ctx, request, approvals.ActionDismiss, map[string]any{
		"exception_id": exceptionID.String(),
		"reason":       reason,
	})
}

// propose enqueues the payload for review and returns the pending item.
func (s *Server) propose(
	ctx context.Context,
	request mcp.CallToolRequest,
	action approvals.ActionType,
	payload map[string]any,
) (*mcp.CallToolResult, error) {
	traceID, bad := optID(request, "trace_id")
	if bad != nil {
		return bad, nil
	}

	item, err := s.deps.Approvals.Propose(ctx, approvals.ProposeCommand{
		ActionType: action,
		Payload:    payload,
		ProposedBy: s.actor(),
		TraceID:    traceID,
		Summary:    request.GetString("summary", ""),
		Confidence: optFloat(request, "confidence"),
	})
	if err != nil {
		if errors.Is(err, approvals.ErrInvalidProposal) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return s.failure("propose "+string(action), err), nil
	}

	s.logger.Info("proposal submitted", "id", item.ID, "action_type", action)
	return jsonResult(item)
}
