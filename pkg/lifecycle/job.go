package lifecycle

import (
	"sync"
	"time"
)

// Job is the locally tracked state of one analysis run. All mutation
// goes through the setters; reads take a snapshot.
type Job struct {
	mu sync.RWMutex

	runID          string
	status         Status
	creditsCharged int
	errorMessage   string
	createdAt      time.Time
	updatedAt      time.Time
}

func newJob(now time.Time) *Job {
	return &Job{
		status:    StatusSubmitting,
		createdAt: now,
		updatedAt: now,
	}
}

// adoptedJob builds a job for a run ID this process did not submit,
// typically one carried over from a previous process lifetime.
func adoptedJob(runID string, status Status, now time.Time) *Job {
	return &Job{
		runID:     runID,
		status:    status,
		createdAt: now,
		updatedAt: now,
	}
}

// JobSnapshot is a point-in-time copy of a job's state.
type JobSnapshot struct {
	RunID          string
	Status         Status
	CreditsCharged int
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (j *Job) snapshot() JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return JobSnapshot{
		RunID:          j.runID,
		Status:         j.status,
		CreditsCharged: j.creditsCharged,
		ErrorMessage:   j.errorMessage,
		CreatedAt:      j.createdAt,
		UpdatedAt:      j.updatedAt,
	}
}

func (j *Job) accepted(runID string, creditsCharged int, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runID = runID
	j.creditsCharged = creditsCharged
	j.status = StatusQueued
	j.updatedAt = now
}

// setStatus applies a remote observation. Terminal states are sticky:
// once a job completed, failed, or expired, later observations are
// ignored.
func (j *Job) setStatus(status Status, errorMessage string, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	j.status = status
	if errorMessage != "" {
		j.errorMessage = errorMessage
	}
	j.updatedAt = now
}

// expire records that the service no longer holds the run's artifacts.
// Unlike setStatus this applies even to completed jobs: completion is
// terminal for the computation, not for the artifact's availability.
func (j *Job) expire(message string, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusExpired
	j.errorMessage = message
	j.updatedAt = now
}

func (j *Job) currentStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

func (j *Job) lastUpdated() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.updatedAt
}
