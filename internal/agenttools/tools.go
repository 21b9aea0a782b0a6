package agenttools

import "github.com/mark3labs/mcp-go/mcp"

// traceParam lets an agent attach the call to its running trace.
func traceParam() mcp.ToolOption {
	return mcp.WithString("trace_id",
		mcp.Description("Running agent trace to record this call on"),
	)
}

func pageParams() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithNumber("page", mcp.Description("1-based page number (default 1)")),
		mcp.WithNumber("page_size", mcp.Description("Results per page (server default when omitted)")),
	}
}

func proposalParams() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("summary", mcp.Description("One-line summary shown to the reviewer")),
		mcp.WithNumber("confidence", mcp.Description("Agent confidence between 0 and 1")),
		traceParam(),
	}
}

func tool(name string, opts ...[]mcp.ToolOption) mcp.Tool {
	var all []mcp.ToolOption
	for _, o := range opts {
		all = append(all, o...)
	}
	return mcp.NewTool(name, all...)
}

var getOpenExceptionsTool = tool("get_open_exceptions",
	[]mcp.ToolOption{
		mcp.WithDescription("List exceptions, open ones by default, most recently seen first."),
		mcp.WithString("status",
			mcp.Description("Exception status (default open)"),
			mcp.Enum("open", "resolved", "dismissed"),
		),
		mcp.WithString("severity",
			mcp.Description("Filter by severity"),
			mcp.Enum("low", "medium", "high", "critical"),
		),
		mcp.WithString("pack", mcp.Description("Filter by domain pack")),
		mcp.WithString("signal_type", mcp.Description("Filter by signal type")),
		mcp.WithString("search", mcp.Description("Substring match on the exception title")),
		traceParam(),
	},
	pageParams(),
)

var getExceptionDetailTool = mcp.NewTool("get_exception_detail",
	mcp.WithDescription("Get an exception with its signals, context, evaluations, decisions and decision options."),
	mcp.WithString("exception_id",
		mcp.Required(),
		mcp.Description("Exception id"),
	),
	traceParam(),
)

var getPoliciesTool = mcp.NewTool("get_policies",
	mcp.WithDescription("List policies, optionally with every version of each rule."),
	mcp.WithString("pack", mcp.Description("Filter by domain pack")),
	mcp.WithBoolean("include_versions", mcp.Description("Include policy versions (default false)")),
	traceParam(),
)

var getEvidencePackTool = mcp.NewTool("get_evidence_pack",
	mcp.WithDescription("Get the sealed evidence pack of a decision."),
	mcp.WithString("decision_id",
		mcp.Required(),
		mcp.Description("Decision id"),
	),
	traceParam(),
)

var searchDecisionsTool = tool("search_decisions",
	[]mcp.ToolOption{
		mcp.WithDescription("Search recorded decisions, newest first."),
		mcp.WithString("exception_id", mcp.Description("Decisions for one exception")),
		mcp.WithString("decision_type",
			mcp.Description("Filter by decision type"),
			mcp.Enum("standard", "hard_override"),
		),
		mcp.WithString("decided_by", mcp.Description("Filter by decider")),
		mcp.WithString("since", mcp.Description("RFC 3339 lower bound on decided_at")),
		mcp.WithString("search", mcp.Description("Substring match on the rationale")),
		traceParam(),
	},
	pageParams(),
)

var getRecentSignalsTool = tool("get_recent_signals",
	[]mcp.ToolOption{
		mcp.WithDescription("List stored signals, most recently observed first."),
		mcp.WithString("signal_type", mcp.Description("Filter by signal type")),
		mcp.WithString("source", mcp.Description("Filter by source")),
		mcp.WithString("since", mcp.Description("RFC 3339 lower bound on observed_at")),
		traceParam(),
	},
	pageParams(),
)

var proposeSignalTool = tool("propose_signal",
	[]mcp.ToolOption{
		mcp.WithDescription("Propose a signal for human review. Approval ingests it like any monitor signal."),
		mcp.WithString("signal_type",
			mcp.Required(),
			mcp.Description("Signal type declared by a domain pack"),
		),
		mcp.WithObject("payload",
			mcp.Required(),
			mcp.Description("Signal payload carrying the pack's fingerprint dimensions"),
		),
		mcp.WithString("source", mcp.Description("Upstream source (defaults to the agent)")),
		mcp.WithNumber("reliability", mcp.Description("Source reliability between 0 and 1")),
		mcp.WithString("observed_at", mcp.Description("RFC 3339 observation time")),
	},
	proposalParams(),
)

var proposePolicyDraftTool = tool("propose_policy_draft",
	[]mcp.ToolOption{
		mcp.WithDescription("Propose a new draft version of a policy rule for human review."),
		mcp.WithString("policy_id",
			mcp.Required(),
			mcp.Description("Policy to revise"),
		),
		mcp.WithObject("rule",
			mcp.Required(),
			mcp.Description(`Rule document: {"match":"all|any","conditions":[{"field","op","value"}]}`),
		),
		mcp.WithString("notes", mcp.Description("Why the rule should change")),
	},
	proposalParams(),
)

var proposeDecisionContextTool = tool("propose_decision_context",
	[]mcp.ToolOption{
		mcp.WithDescription("Propose decision context (analysis, recommendation) for an exception, for human review."),
		mcp.WithString("exception_id",
			mcp.Required(),
			mcp.Description("Exception the context supports"),
		),
		mcp.WithObject("content",
			mcp.Required(),
			mcp.Description("Context document"),
		),
	},
	proposalParams(),
)

var dismissExceptionTool = tool("dismiss_exception",
	[]mcp.ToolOption{
		mcp.WithDescription("Propose dismissing an open exception, for human review."),
		mcp.WithString("exception_id",
			mcp.Required(),
			mcp.Description("Exception to dismiss"),
		),
		mcp.WithString("reason",
			mcp.Required(),
			mcp.Description("Why the exception needs no decision"),
		),
	},
	proposalParams(),
)

var addExceptionContextTool = mcp.NewTool("add_exception_context",
	mcp.WithDescription("Attach enrichment context to an exception. Takes effect immediately without review."),
	mcp.WithString("exception_id",
		mcp.Required(),
		mcp.Description("Exception to enrich"),
	),
	mcp.WithObject("content",
		mcp.Required(),
		mcp.Description("Context document"),
	),
	traceParam(),
)
