// Package agenttools exposes the kernel to AI agents over the Model Context
// Protocol. Read tools project the ledger and never write. Proposal tools
// enqueue approval items; only add_exception_context writes directly.
package agenttools

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"

	"github.com/JaimeStill/steward/internal/approvals"
	"github.com/JaimeStill/steward/internal/decisions"
	"github.com/JaimeStill/steward/internal/exceptions"
	"github.com/JaimeStill/steward/internal/policies"
	"github.com/JaimeStill/steward/internal/signals"
	"github.com/JaimeStill/steward/internal/traces"
	"github.com/JaimeStill/steward/pkg/pagination"
)

// Version is set via ldflags at build time.
var Version = "dev"

// ExceptionReader reads exceptions and appends context directly.
type ExceptionReader interface {
	List(ctx context.Context, page pagination.PageRequest, filters exceptions.Filters) (*pagination.PageResult[exceptions.Exception], error)
	Detail(ctx context.Context, id uuid.UUID) (*exceptions.Detail, error)
	AddContext(ctx context.Context, cmd exceptions.AddContextCommand) (*exceptions.Context, error)
}

// PolicyReader lists policies.
type PolicyReader interface {
	List(ctx context.Context, filters policies.Filters, includeVersions bool) ([]policies.Policy, error)
}

// DecisionReader searches decisions and reads their evidence packs.
type DecisionReader interface {
	List(ctx context.Context, page pagination.PageRequest, filters decisions.Filters) (*pagination.PageResult[decisions.Decision], error)
	EvidencePack(ctx context.Context, decisionID uuid.UUID) (*decisions.EvidencePack, error)
}

// SignalReader lists stored signals.
type SignalReader interface {
	List(ctx context.Context, page pagination.PageRequest, filters signals.Filters) (*pagination.PageResult[signals.Signal], error)
}

// Proposer enqueues approval items.
type Proposer interface {
	Propose(ctx context.Context, cmd approvals.ProposeCommand) (*approvals.Item, error)
}

// Recorder appends tool calls to a running agent trace.
type Recorder interface {
	RecordToolCall(ctx context.Context, id uuid.UUID, cmd traces.ToolCallCommand) (*traces.Trace, error)
}

// Deps are the kernel systems the tools project.
type Deps struct {
	Exceptions ExceptionReader
	Policies   PolicyReader
	Decisions  DecisionReader
	Signals    SignalReader
	Approvals  Proposer
	Traces     Recorder
}

// Server wraps an MCP server bound to one agent identity. Proposals and
// context are attributed to that agent.
type Server struct {
	deps   Deps
	agent  traces.AgentType
	logger *slog.Logger
	mcp    *server.MCPServer
}

// NewServer creates a tool server for the given agent type.
func NewServer(deps Deps, agent traces.AgentType, logger *slog.Logger) *Server {
	s := &Server{
		deps:   deps,
		agent:  agent,
		logger: logger.With("system", "agenttools", "agent", string(agent)),
	}

	s.mcp = server.NewMCPServer(
		"steward",
		Version,
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(getOpenExceptionsTool, s.recorded(s.handleGetOpenExceptions))
	s.mcp.AddTool(getExceptionDetailTool, s.recorded(s.handleGetExceptionDetail))
	s.mcp.AddTool(getPoliciesTool, s.recorded(s.handleGetPolicies))
	s.mcp.AddTool(getEvidencePackTool, s.recorded(s.handleGetEvidencePack))
	s.mcp.AddTool(searchDecisionsTool, s.recorded(s.handleSearchDecisions))
	s.mcp.AddTool(getRecentSignalsTool, s.recorded(s.handleGetRecentSignals))

	s.mcp.AddTool(proposeSignalTool, s.recorded(s.handleProposeSignal))
	s.mcp.AddTool(proposePolicyDraftTool, s.recorded(s.handleProposePolicyDraft))
	s.mcp.AddTool(proposeDecisionContextTool, s.recorded(s.handleProposeDecisionContext))
	s.mcp.AddTool(dismissExceptionTool, s.recorded(s.handleDismissException))
	s.mcp.AddTool(addExceptionContextTool, s.recorded(s.handleAddExceptionContext))
}

// actor is the identity recorded on proposals and context.
func (s *Server) actor() string {
	return traces.Actor(s.agent)
}

// Serve starts the MCP server on stdio. Stdout carries protocol messages;
// all logging must go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
