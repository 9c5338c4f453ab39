package lifecycle

import "github.com/leap-laboratories/discovery-engine-mcp/pkg/discovery"

// Status is the local lifecycle state of an analysis job.
//
// SUBMITTING is local-only: the submission request is in flight and no
// run identifier exists yet. Every other state mirrors (or is derived
// from) remote signals.
type Status string

const (
	StatusSubmitting Status = "submitting"
	StatusQueued     Status = "queued"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"

	// StatusExpired means the service no longer knows the run ID after
	// having issued it — infrastructure cleanup or data loss, not a
	// computation failure.
	StatusExpired Status = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// statusFromRemote maps a remote status string to the local lifecycle
// state. Unrecognized non-terminal signals are treated as still
// running rather than failed: the run keeps going upstream and the
// caller should keep polling.
func statusFromRemote(remote string) Status {
	switch remote {
	case discovery.RemoteStatusPending:
		return StatusQueued
	case discovery.RemoteStatusProcessing:
		return StatusRunning
	case discovery.RemoteStatusCompleted:
		return StatusCompleted
	case discovery.RemoteStatusFailed:
		return StatusFailed
	default:
		return StatusRunning
	}
}
