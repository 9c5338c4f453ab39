// Package tools exposes the discovery engine as a set of MCP tools:
// dataset submission, job polling, result retrieval, cost estimation,
// and account management.
package tools

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/leap-laboratories/discovery-engine-mcp/pkg/account"
	"github.com/leap-laboratories/discovery-engine-mcp/pkg/discovery"
	"github.com/leap-laboratories/discovery-engine-mcp/pkg/lifecycle"
	"github.com/leap-laboratories/discovery-engine-mcp/pkg/version"
)

// JobService is the slice of the job manager the tool layer uses.
// *lifecycle.Manager satisfies it.
type JobService interface {
	Submit(ctx context.Context, apiKey string, req *lifecycle.AnalysisRequest) (*lifecycle.SubmitResult, error)
	Poll(ctx context.Context, apiKey, runID string) (lifecycle.JobSnapshot, error)
	FetchResults(ctx context.Context, apiKey, runID string) (*discovery.RunResults, error)
}

// BillingService covers the account and billing endpoints of the API
// service. *discovery.Client satisfies it. Responses pass through
// verbatim.
type BillingService interface {
	ListPlans(ctx context.Context) (json.RawMessage, error)
	Signup(ctx context.Context, email, name string) (json.RawMessage, error)
	Subscribe(ctx context.Context, apiKey, plan string) (json.RawMessage, error)
	PurchaseCredits(ctx context.Context, apiKey string, packs int) (json.RawMessage, error)
	AddPaymentMethod(ctx context.Context, apiKey, paymentMethodID string) (json.RawMessage, error)
}

// AccountService serves cached account reads and accepts invalidation
// after billing writes. *account.Tracker satisfies it.
type AccountService interface {
	Snapshot(ctx context.Context, apiKey string) (*account.Snapshot, error)
	Invalidate(apiKey string)
}

// Server wires the tool handlers to their backing services.
type Server struct {
	jobs     JobService
	billing  BillingService
	accounts AccountService
	apiKey   string
	logger   *slog.Logger
}

// NewServer builds the MCP server with all discovery tools registered.
// apiKey may be empty; tools that need authentication then answer with
// signup guidance instead of failing opaquely.
func NewServer(jobs JobService, billing BillingService, accounts AccountService, apiKey string, logger *slog.Logger) *mcpsdk.Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		jobs:     jobs,
		billing:  billing,
		accounts: accounts,
		apiKey:   apiKey,
		logger:   logger.With("component", "tools"),
	}

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	register := func(name, description string, schema *jsonschema.Schema, handler mcpsdk.ToolHandler) {
		server.AddTool(&mcpsdk.Tool{
			Name:        name,
			Description: description,
			InputSchema: schema,
		}, s.logged(name, handler))
	}

	register("discovery_analyze",
		"Submit a tabular dataset for pattern discovery. Returns a run_id to poll with discovery_status. Private runs cost credits; public runs are free at depth 1 but appear in the community gallery.",
		analyzeSchema, s.handleAnalyze)
	register("discovery_status",
		"Check the status of an analysis run.",
		statusSchema, s.handleStatus)
	register("discovery_get_results",
		"Fetch the results of a completed analysis run.",
		resultsSchema, s.handleGetResults)
	register("discovery_estimate",
		"Estimate the credit cost of an analysis without submitting anything.",
		estimateSchema, s.handleEstimate)
	register("discovery_signup",
		"Create a discovery engine account and receive an API key.",
		signupSchema, s.handleSignup)
	register("discovery_account",
		"Show the current account: plan, credit balance, and usage.",
		accountSchema, s.handleAccount)
	register("discovery_list_plans",
		"List available subscription plans and credit pack pricing.",
		listPlansSchema, s.handleListPlans)
	register("discovery_subscribe",
		"Subscribe the account to a plan.",
		subscribeSchema, s.handleSubscribe)
	register("discovery_purchase_credits",
		"Purchase additional credit packs.",
		purchaseCreditsSchema, s.handlePurchaseCredits)
	register("discovery_add_payment_method",
		"Attach a payment method to the account.",
		addPaymentMethodSchema, s.handleAddPaymentMethod)

	return server
}

// logged wraps a handler with per-call logging.
func (s *Server) logged(name string, handler mcpsdk.ToolHandler) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		result, err := handler(ctx, req)
		switch {
		case err != nil:
			s.logger.Error("tool call failed", "tool", name, "error", err)
		case result != nil && result.IsError:
			s.logger.Warn("tool call returned error result", "tool", name)
		default:
			s.logger.Info("tool call completed", "tool", name)
		}
		return result, err
	}
}
