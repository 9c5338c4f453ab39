package discovery

import "encoding/json"

// Remote run status values as reported by the dashboard service.
const (
	RemoteStatusPending    = "pending"
	RemoteStatusProcessing = "processing"
	RemoteStatusCompleted  = "completed"
	RemoteStatusFailed     = "failed"
)

// AccountInfo is the typed slice of the /v1/account response that the
// credit tracker needs. Raw preserves the verbatim body for the
// account tool.
type AccountInfo struct {
	Email               string `json:"email,omitempty"`
	Plan                string `json:"plan"`
	PlanName            string `json:"plan_name,omitempty"`
	CreditsRemaining    int    `json:"credits_remaining"`
	SubscriptionCredits int    `json:"subscription_credits,omitempty"`
	PurchasedCredits    int    `json:"purchased_credits,omitempty"`
	HasPaymentMethod    bool   `json:"has_payment_method"`
	RunsThisMonth       int    `json:"runs_this_month,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Column describes one dataset column as reported by upload finalize.
// Description is filled in locally from caller-supplied column
// descriptions before run submission.
type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// UploadedFile identifies a finalized dataset upload on the dashboard.
type UploadedFile struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	FileHash string `json:"fileHash"`
}

// UploadedDataset is the result of the presign → PUT → finalize flow.
type UploadedDataset struct {
	File    UploadedFile
	Columns []Column
}

// RunSubmission is the body of the billed run-creation call.
type RunSubmission struct {
	File            UploadedFile `json:"file"`
	Columns         []Column     `json:"columns"`
	TargetColumn    string       `json:"targetColumn"`
	DepthIterations int          `json:"depthIterations"`
	IsPublic        bool         `json:"isPublic"`
	Title           string       `json:"title,omitempty"`
	Description     string       `json:"description,omitempty"`
}

// RunAccepted is the run-creation response. AlreadySubmitted is set
// when the service recognized the idempotency token and returned the
// run it had already accepted instead of creating (and billing) a new
// one.
type RunAccepted struct {
	RunID            string
	CreditsCharged   int
	AlreadySubmitted bool
}

// RunStatus is the lightweight status view of a run. The dashboard
// serves status and results from the same endpoint; status polls
// discard the payload.
type RunStatus struct {
	RunID        string `json:"run_id"`
	Status       string `json:"status"`
	JobID        string `json:"job_id,omitempty"`
	JobStatus    string `json:"job_status,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// RunResults carries the full results body of a run. Raw is the
// verbatim upstream payload — patterns, p-values, novelty, citations,
// summary, and report URL are opaque to this module and are never
// reinterpreted.
type RunResults struct {
	RunStatus
	Raw json.RawMessage
}

// Wire types for the upload flow.

type presignRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	FileSize    int64  `json:"fileSize"`
}

type presignResponse struct {
	UploadURL   string `json:"uploadUrl"`
	Key         string `json:"key"`
	UploadToken string `json:"uploadToken"`
}

type finalizeRequest struct {
	Key         string `json:"key"`
	UploadToken string `json:"uploadToken"`
}

type finalizeIssue struct {
	Message string `json:"message"`
}

type finalizeResponse struct {
	OK      bool         `json:"ok"`
	File    UploadedFile `json:"file"`
	Columns []Column     `json:"columns"`
	Issues  *struct {
		Errors []finalizeIssue `json:"errors"`
	} `json:"issues,omitempty"`
}

type createRunResponse struct {
	RunID          string `json:"run_id"`
	CreditsCharged int    `json:"credits_charged,omitempty"`
}
