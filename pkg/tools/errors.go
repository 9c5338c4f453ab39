package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/leap-laboratories/discovery-engine-mcp/pkg/discovery"
	"github.com/leap-laboratories/discovery-engine-mcp/pkg/estimate"
	"github.com/leap-laboratories/discovery-engine-mcp/pkg/lifecycle"
)

func textResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}
}

func errorText(text string) *mcpsdk.CallToolResult {
	result := textResult(text)
	result.IsError = true
	return result
}

func jsonResult(v any) *mcpsdk.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return errorText(fmt.Sprintf("encode response: %v", err))
	}
	return textResult(string(data))
}

func rawResult(raw json.RawMessage) *mcpsdk.CallToolResult {
	return textResult(string(raw))
}

// rawWithMessage wraps a verbatim upstream body with a guidance
// message when the body is a JSON object; otherwise the body is
// returned untouched.
func rawWithMessage(raw json.RawMessage, message string) *mcpsdk.CallToolResult {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return rawResult(raw)
	}
	body["message"] = message
	return jsonResult(body)
}

func unmarshalArgs(req *mcpsdk.CallToolRequest, v any) *mcpsdk.CallToolResult {
	if len(req.Params.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params.Arguments, v); err != nil {
		return errorText(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

// errorResult translates internal errors into actionable, user-facing
// tool errors. Every branch tells the caller what to do next, not just
// what went wrong.
func errorResult(err error) *mcpsdk.CallToolResult {
	var validation *lifecycle.ValidationError
	if errors.As(err, &validation) {
		return errorText(validation.Error())
	}
	var estValidation *estimate.ValidationError
	if errors.As(err, &estValidation) {
		return errorText(estValidation.Error())
	}

	var insufficient *lifecycle.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		return errorText(fmt.Sprintf(
			"Insufficient credits: this analysis needs %d but the account has %d. Use discovery_purchase_credits to buy more, or discovery_subscribe for a plan with a larger monthly allowance.",
			insufficient.Required, insufficient.Balance))
	}

	var state *lifecycle.InvalidStateError
	if errors.As(err, &state) {
		switch state.Status {
		case lifecycle.StatusQueued, lifecycle.StatusRunning, lifecycle.StatusSubmitting:
			return errorText(fmt.Sprintf("Run %s is still in progress (%s). Poll discovery_status and fetch results once it completes.", state.RunID, state.Status))
		case lifecycle.StatusFailed:
			return errorText(fmt.Sprintf("Run %s failed and has no results. Check discovery_status for the failure reason.", state.RunID))
		case lifecycle.StatusExpired:
			return errorText(fmt.Sprintf("Run %s is no longer available on the service. Submit the dataset again with discovery_analyze.", state.RunID))
		default:
			return errorText(state.Error())
		}
	}

	if errors.Is(err, lifecycle.ErrUnknownRun) {
		return errorText("No run with that run_id exists. Check the run_id returned by discovery_analyze.")
	}
	if errors.Is(err, discovery.ErrAuthFailed) {
		return errorText("The API key was rejected. Verify DISCOVERY_API_KEY, or create an account with discovery_signup.")
	}
	if errors.Is(err, discovery.ErrPaymentRequired) {
		return errorText("The service declined the request for billing reasons. Check discovery_account and add credits with discovery_purchase_credits or a payment method with discovery_add_payment_method.")
	}

	var rateLimit *discovery.RateLimitError
	if errors.As(err, &rateLimit) {
		if rateLimit.RetryAfter > 0 {
			return errorText(fmt.Sprintf("Rate limited by the service. Retry in %s.", rateLimit.RetryAfter))
		}
		return errorText("Rate limited by the service. Wait a moment and retry.")
	}

	if errors.Is(err, discovery.ErrServiceUnavailable) {
		return errorText("The discovery service is temporarily unavailable. Try again shortly.")
	}

	var apiErr *discovery.APIError
	if errors.As(err, &apiErr) {
		return errorText(fmt.Sprintf("The service rejected the request: %s", apiErr.Detail))
	}

	return errorText(err.Error())
}
