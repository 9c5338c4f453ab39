package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leap-laboratories/discovery-engine-mcp/pkg/account"
	"github.com/leap-laboratories/discovery-engine-mcp/pkg/config"
	"github.com/leap-laboratories/discovery-engine-mcp/pkg/discovery"
	"github.com/leap-laboratories/discovery-engine-mcp/pkg/estimate"
)

// Transport is the slice of the discovery client the job manager
// needs. *discovery.Client satisfies it.
type Transport interface {
	UploadDataset(ctx context.Context, apiKey, path string) (*discovery.UploadedDataset, error)
	CreateRun(ctx context.Context, apiKey, idempotencyKey string, sub discovery.RunSubmission) (*discovery.RunAccepted, error)
	RunStatus(ctx context.Context, apiKey, runID string) (*discovery.RunStatus, error)
	RunResults(ctx context.Context, apiKey, runID string) (*discovery.RunResults, error)
}

// CreditGate answers affordability questions before billed calls.
// *account.Tracker satisfies it.
type CreditGate interface {
	CanAfford(ctx context.Context, apiKey string, creditsNeeded int) (bool, *account.Snapshot, error)
	Invalidate(apiKey string)
}

// Manager owns the local job registry: it submits analyses, tracks
// their lifecycle, deduplicates repeats, and sweeps abandoned entries.
type Manager struct {
	transport Transport
	credits   CreditGate
	cfg       *config.JobsConfig
	logger    *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*Job        // by run ID
	byToken map[string]*tokenEntry // by idempotency token

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager builds a job manager. cfg must be non-nil (use
// config.Default().Jobs for standalone construction).
func NewManager(transport Transport, credits CreditGate, cfg *config.JobsConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		transport: transport,
		credits:   credits,
		cfg:       cfg,
		logger:    logger.With("component", "lifecycle"),
		jobs:      make(map[string]*Job),
		byToken:   make(map[string]*tokenEntry),
	}
}

// tokenEntry tracks one logical submission per idempotency token.
// done is closed once the submission attempt settles; a duplicate
// Submit arriving mid-flight waits on it instead of racing ahead with
// no run ID to hand back.
type tokenEntry struct {
	job  *Job
	done chan struct{}
	err  error
}

// SubmitResult reports the outcome of a submission.
type SubmitResult struct {
	Job              JobSnapshot
	EstimatedCredits int

	// AlreadySubmitted is set when the submission deduplicated to a
	// run that was accepted earlier, locally or remotely. No new
	// charge occurred.
	AlreadySubmitted bool
}

// Submit validates, estimates, gates on credits, uploads the dataset,
// and creates the run. Identical content with the same nonce maps to
// the run already accepted for it instead of charging again.
func (m *Manager) Submit(ctx context.Context, apiKey string, req *AnalysisRequest) (*SubmitResult, error) {
	sizeBytes, err := req.Validate()
	if err != nil {
		return nil, err
	}
	estimated, err := estimate.Credits(SizeMB(sizeBytes), req.DepthIterations, req.Visibility)
	if err != nil {
		return nil, err
	}
	token, err := idempotencyToken(req)
	if err != nil {
		return nil, err
	}

	for {
		m.mu.Lock()
		if existing, ok := m.byToken[token]; ok {
			m.mu.Unlock()
			// Wait for the original attempt to settle so the
			// duplicate can return a usable run ID.
			select {
			case <-existing.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if existing.err != nil {
				// The original failed and released the token; retry
				// as a fresh submission.
				continue
			}
			snap := existing.job.snapshot()
			m.logger.Info("submission deduplicated locally",
				"run_id", snap.RunID, "token", shortToken(token))
			return &SubmitResult{Job: snap, EstimatedCredits: estimated, AlreadySubmitted: true}, nil
		}
		entry := &tokenEntry{job: newJob(time.Now()), done: make(chan struct{})}
		m.byToken[token] = entry
		m.mu.Unlock()

		result, err := m.submitNew(ctx, apiKey, req, entry.job, token, estimated)
		if err != nil {
			m.mu.Lock()
			delete(m.byToken, token)
			m.mu.Unlock()
			entry.err = err
			close(entry.done)
			return nil, err
		}
		close(entry.done)
		return result, nil
	}
}

func (m *Manager) submitNew(ctx context.Context, apiKey string, req *AnalysisRequest, job *Job, token string, estimated int) (*SubmitResult, error) {
	private := req.Visibility == estimate.VisibilityPrivate
	if private {
		ok, snap, err := m.credits.CanAfford(ctx, apiKey, estimated)
		if err != nil {
			return nil, fmt.Errorf("check credit balance: %w", err)
		}
		if !ok {
			return nil, &InsufficientCreditsError{Required: estimated, Balance: snap.CreditsRemaining}
		}
	}

	dataset, err := m.transport.UploadDataset(ctx, apiKey, req.FilePath)
	if err != nil {
		return nil, fmt.Errorf("upload dataset: %w", err)
	}

	columns, err := prepareColumns(dataset.Columns, req)
	if err != nil {
		return nil, err
	}

	accepted, err := m.transport.CreateRun(ctx, apiKey, token, discovery.RunSubmission{
		File:            dataset.File,
		Columns:         columns,
		TargetColumn:    req.TargetColumn,
		DepthIterations: req.DepthIterations,
		IsPublic:        !private,
		Title:           req.Title,
		Description:     req.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	charged := accepted.CreditsCharged
	if charged == 0 && private && !accepted.AlreadySubmitted {
		charged = estimated
	}
	job.accepted(accepted.RunID, charged, time.Now())

	m.mu.Lock()
	m.jobs[accepted.RunID] = job
	m.mu.Unlock()

	if private && !accepted.AlreadySubmitted {
		m.credits.Invalidate(apiKey)
	}

	m.logger.Info("run accepted",
		"run_id", accepted.RunID,
		"credits_charged", charged,
		"already_submitted", accepted.AlreadySubmitted)

	return &SubmitResult{
		Job:              job.snapshot(),
		EstimatedCredits: estimated,
		AlreadySubmitted: accepted.AlreadySubmitted,
	}, nil
}

// prepareColumns re-validates the request against the columns the
// upload pipeline actually detected and attaches caller descriptions.
func prepareColumns(detected []discovery.Column, req *AnalysisRequest) ([]discovery.Column, error) {
	found := false
	for _, col := range detected {
		if col.Name == req.TargetColumn {
			found = true
			break
		}
	}
	if !found {
		return nil, &ValidationError{
			Field:   "target_column",
			Message: fmt.Sprintf("column %q not found in dataset", req.TargetColumn),
		}
	}
	if max := len(detected) - 2; req.DepthIterations > max {
		return nil, &ValidationError{
			Field:   "depth_iterations",
			Message: fmt.Sprintf("depth %d too deep for %d columns (max %d)", req.DepthIterations, len(detected), max),
		}
	}
	columns := make([]discovery.Column, len(detected))
	copy(columns, detected)
	for i := range columns {
		if desc, ok := req.ColumnDescriptions[columns[i].Name]; ok {
			columns[i].Description = desc
		}
	}
	return columns, nil
}

// Poll reports the current lifecycle state of a run. Terminal jobs are
// answered from the local registry without touching the network. Run
// IDs from a previous process lifetime are adopted into the registry
// on first poll.
func (m *Manager) Poll(ctx context.Context, apiKey, runID string) (JobSnapshot, error) {
	m.mu.Lock()
	job, known := m.jobs[runID]
	m.mu.Unlock()

	if known && job.currentStatus().Terminal() {
		return job.snapshot(), nil
	}

	remote, err := m.transport.RunStatus(ctx, apiKey, runID)
	if err != nil {
		if errors.Is(err, discovery.ErrRunNotFound) {
			if known {
				// The service issued this run ID and no longer knows
				// it: the run aged out upstream.
				job.setStatus(StatusExpired, "run no longer available on the service", time.Now())
				m.logger.Warn("run expired upstream", "run_id", runID)
				return job.snapshot(), nil
			}
			return JobSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
		}
		return JobSnapshot{}, err
	}

	status := statusFromRemote(remote.Status)
	now := time.Now()
	if !known {
		job = adoptedJob(runID, status, now)
		m.mu.Lock()
		m.jobs[runID] = job
		m.mu.Unlock()
		m.logger.Info("adopted untracked run", "run_id", runID, "status", status)
	} else {
		job.setStatus(status, remote.ErrorMessage, now)
	}
	return job.snapshot(), nil
}

// FetchResults returns the full results of a completed run. For runs
// this process tracks, a non-completed state is answered locally so
// the caller is not charged a round trip to learn the run is still
// going. Untracked run IDs go straight to the service.
func (m *Manager) FetchResults(ctx context.Context, apiKey, runID string) (*discovery.RunResults, error) {
	m.mu.Lock()
	job, known := m.jobs[runID]
	m.mu.Unlock()

	if known {
		if st := job.currentStatus(); st != StatusCompleted {
			return nil, &InvalidStateError{RunID: runID, Status: st}
		}
	}

	results, err := m.transport.RunResults(ctx, apiKey, runID)
	if err != nil {
		if errors.Is(err, discovery.ErrRunNotFound) {
			if known {
				job.expire("run results no longer available on the service", time.Now())
				m.logger.Warn("run expired upstream", "run_id", runID)
				return nil, &InvalidStateError{RunID: runID, Status: StatusExpired}
			}
			return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
		}
		return nil, err
	}

	if status := statusFromRemote(results.Status); status != StatusCompleted {
		if !known {
			m.mu.Lock()
			m.jobs[runID] = adoptedJob(runID, status, time.Now())
			m.mu.Unlock()
		}
		return nil, &InvalidStateError{RunID: runID, Status: status}
	}

	// Retrieval completes the local lifecycle: the handle is dropped
	// and the service stays the source of truth for re-reads.
	if known {
		m.mu.Lock()
		delete(m.jobs, runID)
		m.mu.Unlock()
	}
	return results, nil
}

// Jobs returns snapshots of every tracked job in no particular order.
func (m *Manager) Jobs() []JobSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]JobSnapshot, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job.snapshot())
	}
	return out
}

// Start launches the background sweeper that evicts jobs nobody has
// touched within the abandoned TTL. The registry is a bounded working
// set, not an archive: the service remains the source of truth for
// old runs, which get re-adopted on the next poll.
func (m *Manager) Start(ctx context.Context) {
	if m.cfg == nil || m.cfg.SweepInterval <= 0 {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(time.Now())
			}
		}
	}()
	m.logger.Info("job sweeper started",
		"interval", m.cfg.SweepInterval, "abandoned_ttl", m.cfg.AbandonedTTL)
}

// Stop halts the sweeper and waits for it to exit.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Manager) sweep(now time.Time) {
	cutoff := now.Add(-m.cfg.AbandonedTTL)
	m.mu.Lock()
	var evicted int
	for runID, job := range m.jobs {
		if job.lastUpdated().Before(cutoff) {
			delete(m.jobs, runID)
			evicted++
		}
	}
	for token, entry := range m.byToken {
		if entry.job.lastUpdated().Before(cutoff) {
			delete(m.byToken, token)
		}
	}
	m.mu.Unlock()
	if evicted > 0 {
		m.logger.Info("swept abandoned jobs", "evicted", evicted)
	}
}
