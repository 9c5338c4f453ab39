package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/leap-laboratories/discovery-engine-mcp/pkg/estimate"
	"github.com/leap-laboratories/discovery-engine-mcp/pkg/lifecycle"
)

const signupHint = "No API key is configured. Use discovery_signup to create an account, then set the DISCOVERY_API_KEY environment variable."

const publicGalleryWarning = "This analysis is public: the dataset and its results will be visible to everyone in the community gallery."

// key resolves the API key for one call: an explicit argument wins
// over the configured default.
func (s *Server) key(override string) string {
	if override != "" {
		return override
	}
	return s.apiKey
}

type analyzeArgs struct {
	APIKey             string            `json:"api_key"`
	FilePath           string            `json:"file_path"`
	TargetColumn       string            `json:"target_column"`
	DepthIterations    int               `json:"depth_iterations"`
	Visibility         string            `json:"visibility"`
	Title              string            `json:"title"`
	Description        string            `json:"description"`
	ColumnDescriptions map[string]string `json:"column_descriptions"`
	Nonce              string            `json:"nonce"`
}

func (s *Server) handleAnalyze(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args analyzeArgs
	if result := unmarshalArgs(req, &args); result != nil {
		return result, nil
	}
	if args.DepthIterations == 0 {
		args.DepthIterations = 1
	}
	if args.Visibility == "" {
		args.Visibility = string(estimate.VisibilityPrivate)
	}
	visibility := estimate.Visibility(args.Visibility)
	apiKey := s.key(args.APIKey)
	if visibility == estimate.VisibilityPrivate && apiKey == "" {
		return errorText(signupHint), nil
	}

	res, err := s.jobs.Submit(ctx, apiKey, &lifecycle.AnalysisRequest{
		FilePath:           args.FilePath,
		TargetColumn:       args.TargetColumn,
		DepthIterations:    args.DepthIterations,
		Visibility:         visibility,
		Title:              args.Title,
		Description:        args.Description,
		ColumnDescriptions: args.ColumnDescriptions,
		Nonce:              args.Nonce,
	})
	if err != nil {
		return errorResult(err), nil
	}

	out := map[string]any{
		"run_id":          res.Job.RunID,
		"status":          res.Job.Status,
		"credits_charged": res.Job.CreditsCharged,
		"message":         "Analysis submitted. Poll discovery_status with this run_id until it completes, then fetch with discovery_get_results.",
	}
	if res.AlreadySubmitted {
		out["already_submitted"] = true
		out["message"] = "Identical content was already submitted; returning the existing run. Pass a new nonce to force a fresh analysis."
	}
	if visibility == estimate.VisibilityPublic {
		out["warning"] = publicGalleryWarning
	}
	return jsonResult(out), nil
}

type runArgs struct {
	APIKey string `json:"api_key"`
	RunID  string `json:"run_id"`
}

func (s *Server) handleStatus(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args runArgs
	if result := unmarshalArgs(req, &args); result != nil {
		return result, nil
	}
	if strings.TrimSpace(args.RunID) == "" {
		return errorText("run_id is required"), nil
	}

	snap, err := s.jobs.Poll(ctx, s.key(args.APIKey), args.RunID)
	if err != nil {
		return errorResult(err), nil
	}

	out := map[string]any{
		"run_id":  snap.RunID,
		"status":  snap.Status,
		"message": statusMessage(snap.Status),
	}
	if snap.ErrorMessage != "" {
		out["error_message"] = snap.ErrorMessage
	}
	if snap.CreditsCharged > 0 {
		out["credits_charged"] = snap.CreditsCharged
	}
	return jsonResult(out), nil
}

func statusMessage(status lifecycle.Status) string {
	switch status {
	case lifecycle.StatusQueued:
		return "The run is queued and will start shortly."
	case lifecycle.StatusRunning:
		return "The run is in progress. Poll again in a little while."
	case lifecycle.StatusCompleted:
		return "The run is complete. Fetch results with discovery_get_results."
	case lifecycle.StatusFailed:
		return "The run failed. Credits spent on failed runs are not consumed."
	case lifecycle.StatusExpired:
		return "The run is no longer available on the service. Submit the dataset again to re-analyze."
	default:
		return "The run is being submitted."
	}
}

func (s *Server) handleGetResults(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args runArgs
	if result := unmarshalArgs(req, &args); result != nil {
		return result, nil
	}
	if strings.TrimSpace(args.RunID) == "" {
		return errorText("run_id is required"), nil
	}

	results, err := s.jobs.FetchResults(ctx, s.key(args.APIKey), args.RunID)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(withResultHints(results.Raw)), nil
}

// withResultHints annotates a results payload with upstream hints: the
// count of patterns found at greater depth than purchased (and how
// many of those classified as novel), plus a reminder on public runs
// that the results are gallery-visible. The payload itself is passed
// through untouched otherwise.
func withResultHints(raw json.RawMessage) any {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return raw
	}
	if n, ok := body["hidden_deep_count"].(float64); ok && n > 0 {
		note := fmt.Sprintf("%d additional patterns were found at greater depth", int(n))
		if novel, ok := body["hidden_deep_novel_count"].(float64); ok && novel > 0 {
			note += fmt.Sprintf(", %d of them classified as novel", int(novel))
		}
		note += ". Re-run discovery_analyze with a higher depth_iterations to unlock them."
		body["note"] = note
	}
	if public, ok := body["is_public"].(bool); ok && public {
		body["gallery_note"] = publicGalleryWarning
	}
	return body
}

type estimateArgs struct {
	FilePath        string  `json:"file_path"`
	FileSizeMB      float64 `json:"file_size_mb"`
	DepthIterations int     `json:"depth_iterations"`
	Visibility      string  `json:"visibility"`
}

func (s *Server) handleEstimate(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args estimateArgs
	if result := unmarshalArgs(req, &args); result != nil {
		return result, nil
	}
	if args.DepthIterations == 0 {
		args.DepthIterations = 1
	}
	if args.Visibility == "" {
		args.Visibility = string(estimate.VisibilityPrivate)
	}

	sizeMB := args.FileSizeMB
	if args.FilePath != "" {
		info, err := os.Stat(args.FilePath)
		if err != nil {
			return errorText(fmt.Sprintf("cannot read %s: %v", args.FilePath, err)), nil
		}
		sizeMB = lifecycle.SizeMB(info.Size())
	}
	if sizeMB <= 0 {
		return errorText("provide either file_path or a positive file_size_mb"), nil
	}

	credits, err := estimate.Credits(sizeMB, args.DepthIterations, estimate.Visibility(args.Visibility))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{
		"estimated_credits": credits,
		"file_size_mb":      sizeMB,
		"depth_iterations":  args.DepthIterations,
		"visibility":        args.Visibility,
	}), nil
}

type signupArgs struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (s *Server) handleSignup(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args signupArgs
	if result := unmarshalArgs(req, &args); result != nil {
		return result, nil
	}
	if strings.TrimSpace(args.Email) == "" {
		return errorText("email is required"), nil
	}

	raw, err := s.billing.Signup(ctx, args.Email, args.Name)
	if err != nil {
		return errorResult(err), nil
	}
	if s.apiKey != "" {
		s.accounts.Invalidate(s.apiKey)
	}
	return rawWithMessage(raw, "Account created. Set the api_key from this response as the DISCOVERY_API_KEY environment variable and restart the server."), nil
}

type accountArgs struct {
	APIKey string `json:"api_key"`
}

func (s *Server) handleAccount(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args accountArgs
	if result := unmarshalArgs(req, &args); result != nil {
		return result, nil
	}
	apiKey := s.key(args.APIKey)
	if apiKey == "" {
		return errorText(signupHint), nil
	}
	snap, err := s.accounts.Snapshot(ctx, apiKey)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{
		"plan":                 snap.Plan,
		"plan_name":            snap.PlanName,
		"credits_remaining":    snap.CreditsRemaining,
		"subscription_credits": snap.SubscriptionCredits,
		"purchased_credits":    snap.PurchasedCredits,
		"has_payment_method":   snap.HasPaymentMethod,
		"runs_this_month":      snap.RunsThisMonth,
	}), nil
}

func (s *Server) handleListPlans(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	raw, err := s.billing.ListPlans(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return rawResult(raw), nil
}

type subscribeArgs struct {
	APIKey string `json:"api_key"`
	Plan   string `json:"plan"`
}

func (s *Server) handleSubscribe(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args subscribeArgs
	if result := unmarshalArgs(req, &args); result != nil {
		return result, nil
	}
	apiKey := s.key(args.APIKey)
	if apiKey == "" {
		return errorText(signupHint), nil
	}
	if strings.TrimSpace(args.Plan) == "" {
		return errorText("plan is required; see discovery_list_plans"), nil
	}

	raw, err := s.billing.Subscribe(ctx, apiKey, args.Plan)
	if err != nil {
		return errorResult(err), nil
	}
	s.accounts.Invalidate(apiKey)
	return rawResult(raw), nil
}

type purchaseArgs struct {
	APIKey string `json:"api_key"`
	Packs  int    `json:"packs"`
}

func (s *Server) handlePurchaseCredits(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args purchaseArgs
	if result := unmarshalArgs(req, &args); result != nil {
		return result, nil
	}
	apiKey := s.key(args.APIKey)
	if apiKey == "" {
		return errorText(signupHint), nil
	}
	if args.Packs == 0 {
		args.Packs = 1
	}
	if args.Packs < 0 {
		return errorText("packs must be a positive integer"), nil
	}

	raw, err := s.billing.PurchaseCredits(ctx, apiKey, args.Packs)
	if err != nil {
		return errorResult(err), nil
	}
	s.accounts.Invalidate(apiKey)
	return rawResult(raw), nil
}

type paymentMethodArgs struct {
	APIKey          string `json:"api_key"`
	PaymentMethodID string `json:"payment_method_id"`
}

func (s *Server) handleAddPaymentMethod(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args paymentMethodArgs
	if result := unmarshalArgs(req, &args); result != nil {
		return result, nil
	}
	apiKey := s.key(args.APIKey)
	if apiKey == "" {
		return errorText(signupHint), nil
	}
	if strings.TrimSpace(args.PaymentMethodID) == "" {
		return errorText("payment_method_id is required"), nil
	}

	raw, err := s.billing.AddPaymentMethod(ctx, apiKey, args.PaymentMethodID)
	if err != nil {
		return errorResult(err), nil
	}
	s.accounts.Invalidate(apiKey)
	return rawResult(raw), nil
}
