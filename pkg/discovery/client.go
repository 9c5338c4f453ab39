// Package discovery is the HTTP transport client for the Discovery
// Engine. It talks to two upstreams: the API service (plans, signup,
// account, billing) and the dashboard service (dataset uploads, run
// submission, status, results). The client owns authentication
// headers, HTTP error mapping, and bounded jittered retry for
// transient failures; it has no knowledge of job lifecycle or credit
// policy.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/leap-laboratories/discovery-engine-mcp/pkg/config"
	"github.com/leap-laboratories/discovery-engine-mcp/pkg/version"
)

// API service paths.
const (
	pathPlans         = "/v1/plans"
	pathSignup        = "/v1/signup"
	pathAccount       = "/v1/account"
	pathSubscribe     = "/v1/account/subscribe"
	pathPurchase      = "/v1/account/credits/purchase"
	pathPaymentMethod = "/v1/account/payment-method"
)

// Dashboard service paths.
const (
	pathUploadPresign  = "/api/data/upload/presign"
	pathUploadFinalize = "/api/data/upload/finalize"
	pathCreateRun      = "/api/reports/create-from-upload"
)

// headerIdempotencyKey carries the client-generated submission token.
// The service treats a duplicate token as "return the existing run".
const headerIdempotencyKey = "Idempotency-Key"

// Client provides authenticated HTTP access to both Discovery Engine
// upstreams. Safe for concurrent use.
type Client struct {
	apiBase       string
	dashboardBase string

	httpClient   *http.Client
	uploadClient *http.Client

	maxAttempts int
	backoffMin  time.Duration
	backoffMax  time.Duration

	logger *slog.Logger
}

// NewClient creates a transport client for the given upstream base URLs.
func NewClient(apiBase, dashboardBase string, cfg *config.ClientConfig) *Client {
	return &Client{
		apiBase:       apiBase,
		dashboardBase: dashboardBase,
		httpClient:    &http.Client{Timeout: cfg.RequestTimeout},
		uploadClient:  &http.Client{Timeout: cfg.UploadTimeout},
		maxAttempts:   cfg.MaxAttempts,
		backoffMin:    cfg.RetryBackoffMin,
		backoffMax:    cfg.RetryBackoffMax,
		logger:        slog.Default(),
	}
}

// ListPlans returns the available subscription plans. No authentication.
func (c *Client) ListPlans(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.doJSON(ctx, c.apiBase, http.MethodGet, pathPlans, "", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return out, nil
}

// Signup creates an account and returns the provisioned API key
// payload. No authentication; the service returns 409 for an already
// registered email.
func (c *Client) Signup(ctx context.Context, email, name string) (json.RawMessage, error) {
	body := map[string]string{"email": email}
	if name != "" {
		body["name"] = name
	}
	var out json.RawMessage
	if err := c.doJSON(ctx, c.apiBase, http.MethodPost, pathSignup, "", nil, body, &out); err != nil {
		return nil, fmt.Errorf("signup: %w", err)
	}
	return out, nil
}

// Account fetches current account state: plan, credits, payment method.
func (c *Client) Account(ctx context.Context, apiKey string) (*AccountInfo, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, c.apiBase, http.MethodGet, pathAccount, apiKey, nil, nil, &raw); err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}

	info := &AccountInfo{Raw: raw}
	if err := json.Unmarshal(raw, info); err != nil {
		return nil, fmt.Errorf("decode account response: %w", err)
	}
	return info, nil
}

// Subscribe changes the account's plan tier.
func (c *Client) Subscribe(ctx context.Context, apiKey, plan string) (json.RawMessage, error) {
	var out json.RawMessage
	body := map[string]string{"plan": plan}
	if err := c.doJSON(ctx, c.apiBase, http.MethodPost, pathSubscribe, apiKey, nil, body, &out); err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", plan, err)
	}
	return out, nil
}

// PurchaseCredits buys credit packs using the stored payment method.
func (c *Client) PurchaseCredits(ctx context.Context, apiKey string, packs int) (json.RawMessage, error) {
	var out json.RawMessage
	body := map[string]int{"packs": packs}
	if err := c.doJSON(ctx, c.apiBase, http.MethodPost, pathPurchase, apiKey, nil, body, &out); err != nil {
		return nil, fmt.Errorf("purchase %d credit packs: %w", packs, err)
	}
	return out, nil
}

// AddPaymentMethod attaches a tokenized Stripe payment method.
func (c *Client) AddPaymentMethod(ctx context.Context, apiKey, paymentMethodID string) (json.RawMessage, error) {
	var out json.RawMessage
	body := map[string]string{"payment_method_id": paymentMethodID}
	if err := c.doJSON(ctx, c.apiBase, http.MethodPost, pathPaymentMethod, apiKey, nil, body, &out); err != nil {
		return nil, fmt.Errorf("add payment method: %w", err)
	}
	return out, nil
}

// UploadDataset runs the three-step upload flow: request a presigned
// URL, PUT the file contents, then finalize. The finalize response
// includes the parsed column list, which the caller needs for depth
// and target-column validation before submitting a run.
func (c *Client) UploadDataset(ctx context.Context, apiKey, path string) (*UploadedDataset, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat dataset %s: %w", path, err)
	}
	contentType := datasetContentType(path)

	var presign presignResponse
	err = c.doJSON(ctx, c.dashboardBase, http.MethodPost, pathUploadPresign, apiKey, nil, presignRequest{
		FileName:    filepath.Base(path),
		ContentType: contentType,
		FileSize:    stat.Size(),
	}, &presign)
	if err != nil {
		return nil, fmt.Errorf("presign upload: %w", err)
	}
	if presign.UploadURL == "" || presign.Key == "" || presign.UploadToken == "" {
		return nil, fmt.Errorf("presign upload: incomplete response from service")
	}

	if err := c.putFile(ctx, presign.UploadURL, path, contentType, stat.Size()); err != nil {
		return nil, fmt.Errorf("upload dataset: %w", err)
	}

	var finalize finalizeResponse
	err = c.doJSON(ctx, c.dashboardBase, http.MethodPost, pathUploadFinalize, apiKey, nil, finalizeRequest{
		Key:         presign.Key,
		UploadToken: presign.UploadToken,
	}, &finalize)
	if err != nil {
		return nil, fmt.Errorf("finalize upload: %w", err)
	}
	if !finalize.OK {
		msg := "upload finalize failed"
		if finalize.Issues != nil && len(finalize.Issues.Errors) > 0 {
			msg = finalize.Issues.Errors[0].Message
		}
		return nil, &APIError{StatusCode: http.StatusUnprocessableEntity, Detail: msg}
	}

	return &UploadedDataset{File: finalize.File, Columns: finalize.Columns}, nil
}

// CreateRun submits the billed analysis run. The idempotency key is
// mandatory: the service deduplicates on it, and a duplicate-key
// conflict response is translated into the previously accepted run
// rather than an error.
func (c *Client) CreateRun(ctx context.Context, apiKey, idempotencyKey string, sub RunSubmission) (*RunAccepted, error) {
	if idempotencyKey == "" {
		return nil, fmt.Errorf("create run: idempotency key is required")
	}
	headers := map[string]string{headerIdempotencyKey: idempotencyKey}

	var out createRunResponse
	err := c.doJSON(ctx, c.dashboardBase, http.MethodPost, pathCreateRun, apiKey, headers, sub, &out)
	if err != nil {
		if existing, ok := duplicateSubmission(err); ok {
			c.logger.Info("Submission already accepted, reusing run", "run_id", existing.RunID)
			existing.AlreadySubmitted = true
			return existing, nil
		}
		return nil, fmt.Errorf("create run: %w", err)
	}
	if out.RunID == "" {
		return nil, fmt.Errorf("create run: service returned no run_id")
	}
	return &RunAccepted{RunID: out.RunID, CreditsCharged: out.CreditsCharged}, nil
}

// RunStatus performs a single lightweight status check. The dashboard
// serves status and results from one endpoint; the payload is
// discarded here to keep polls cheap.
func (c *Client) RunStatus(ctx context.Context, apiKey, runID string) (*RunStatus, error) {
	var status RunStatus
	path := fmt.Sprintf("/api/runs/%s/results", runID)
	if err := c.doJSON(ctx, c.dashboardBase, http.MethodGet, path, apiKey, nil, nil, &status); err != nil {
		return nil, fmt.Errorf("run status %s: %w", runID, mapNotFound(err))
	}
	return &status, nil
}

// RunResults fetches the full results body of a run. The payload is
// returned verbatim; interpreting patterns is the caller's business.
func (c *Client) RunResults(ctx context.Context, apiKey, runID string) (*RunResults, error) {
	var raw json.RawMessage
	path := fmt.Sprintf("/api/runs/%s/results", runID)
	if err := c.doJSON(ctx, c.dashboardBase, http.MethodGet, path, apiKey, nil, nil, &raw); err != nil {
		return nil, fmt.Errorf("run results %s: %w", runID, mapNotFound(err))
	}

	results := &RunResults{Raw: raw}
	if err := json.Unmarshal(raw, &results.RunStatus); err != nil {
		return nil, fmt.Errorf("decode results envelope for %s: %w", runID, err)
	}
	return results, nil
}

// doJSON performs one logical request with bounded jittered retry on
// transient failures. out may be nil, a struct pointer, or a
// *json.RawMessage to capture the body verbatim.
func (c *Client) doJSON(ctx context.Context, base, method, path, apiKey string, headers map[string]string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = c.once(ctx, base, method, path, apiKey, headers, payload, out)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}

		// Rate limiting keeps its typed error: the caller needs the
		// Retry-After value to schedule. A retry happens in-band only
		// when the requested pause fits the backoff budget.
		var rateLimit *RateLimitError
		rateLimited := errors.As(lastErr, &rateLimit)
		if rateLimited && rateLimit.RetryAfter > c.backoffMax {
			return lastErr
		}
		if attempt >= c.maxAttempts {
			if rateLimited {
				return lastErr
			}
			return fmt.Errorf("%w: %d attempts failed: %v", ErrServiceUnavailable, attempt, lastErr)
		}

		delay := backoffDelay(attempt, c.backoffMin, c.backoffMax)
		if rateLimited && rateLimit.RetryAfter > 0 {
			delay = rateLimit.RetryAfter
		}
		c.logger.Warn("Transient request failure, retrying",
			"method", method, "path", path,
			"attempt", attempt, "backoff", delay, "error", lastErr)
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}
}

// once performs a single HTTP exchange and maps the response status.
func (c *Client) once(ctx context.Context, base, method, path, apiKey string, headers map[string]string, payload []byte, out any) error {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Type", "mcp")
	req.Header.Set("User-Agent", version.Full())
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := mapStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if rawOut, ok := out.(*json.RawMessage); ok {
		*rawOut = raw
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// putFile streams the dataset to the presigned URL. The presigned PUT
// is unauthenticated from our side; only the content type is required.
func (c *Client) putFile(ctx context.Context, url, path, contentType string, size int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, f)
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", contentType)

	resp, err := c.uploadClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload to presigned URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Detail: "file upload failed"}
	}
	return nil
}

// mapStatus translates HTTP errors into the package error taxonomy.
func mapStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode < 400:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrAuthFailed
	case resp.StatusCode == http.StatusPaymentRequired:
		return ErrPaymentRequired
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 60 * time.Second
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitError{RetryAfter: retryAfter}
	}

	body, _ := io.ReadAll(resp.Body)
	detail := string(body)
	var parsed struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Detail != "" {
		detail = parsed.Detail
	}
	return &APIError{StatusCode: resp.StatusCode, Detail: detail, Body: body}
}

// mapNotFound rewrites a 404 APIError into ErrRunNotFound so callers
// can distinguish a vanished run from other API failures.
func mapNotFound(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return ErrRunNotFound
	}
	return err
}

// duplicateSubmission decodes the previously accepted run out of a
// duplicate-idempotency-key conflict response.
func duplicateSubmission(err error) (*RunAccepted, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		return nil, false
	}
	var out createRunResponse
	if jsonErr := json.Unmarshal(apiErr.Body, &out); jsonErr != nil || out.RunID == "" {
		return nil, false
	}
	return &RunAccepted{RunID: out.RunID, CreditsCharged: out.CreditsCharged}, true
}

// datasetContentType guesses the MIME type from the file extension,
// defaulting to text/csv.
func datasetContentType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "text/csv"
}
