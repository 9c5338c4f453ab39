// Package account caches remote account state (plan, credits) and
// gates billed submissions on affordability. The cache is advisory:
// the remote service remains the source of truth, and every mutating
// operation must invalidate the cache rather than patch it
// (invalidate-on-write, never write-through).
package account

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leap-laboratories/discovery-engine-mcp/pkg/discovery"
)

// Fetcher retrieves account state from the remote service. Implemented
// by *discovery.Client.
type Fetcher interface {
	Account(ctx context.Context, apiKey string) (*discovery.AccountInfo, error)
}

// Snapshot is a point-in-time mirror of remote account state. It is
// eventually consistent and must be treated as stale immediately after
// any mutating call.
type Snapshot struct {
	Plan                string
	PlanName            string
	CreditsRemaining    int
	SubscriptionCredits int
	PurchasedCredits    int
	HasPaymentMethod    bool
	RunsThisMonth       int
	FetchedAt           time.Time

	// Raw is the verbatim account response for pass-through display.
	Raw json.RawMessage
}

type entry struct {
	snap        Snapshot
	invalidated bool
}

// Tracker caches one Snapshot per API key. Safe for concurrent use;
// invalidation is writer-wins (a concurrent refresh that loses the
// race simply gets invalidated again by the next mutating call).
type Tracker struct {
	fetcher   Fetcher
	staleness time.Duration
	logger    *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewTracker creates a tracker whose cached snapshots are considered
// fresh for the given staleness bound.
func NewTracker(fetcher Fetcher, staleness time.Duration) *Tracker {
	return &Tracker{
		fetcher:   fetcher,
		staleness: staleness,
		logger:    slog.Default(),
		entries:   make(map[string]*entry),
	}
}

// Snapshot returns the cached account snapshot for the key, refreshing
// it when missing, explicitly invalidated, or older than the staleness
// bound.
func (t *Tracker) Snapshot(ctx context.Context, apiKey string) (*Snapshot, error) {
	if snap, ok := t.cached(apiKey); ok {
		return snap, nil
	}
	return t.refresh(ctx, apiKey)
}

// CanAfford reports whether the account can pay for creditsNeeded. It
// reads the cached snapshot without forcing a refresh — callers accept
// eventual consistency to avoid a round-trip per check — fetching only
// when nothing fresh is cached. A negative balance is never affordable.
// The snapshot used for the decision is returned so callers can report
// the balance.
func (t *Tracker) CanAfford(ctx context.Context, apiKey string, creditsNeeded int) (bool, *Snapshot, error) {
	snap, ok := t.cached(apiKey)
	if !ok {
		var err error
		snap, err = t.refresh(ctx, apiKey)
		if err != nil {
			return false, nil, err
		}
	}
	if snap.CreditsRemaining < 0 {
		return false, snap, nil
	}
	return snap.CreditsRemaining >= creditsNeeded, snap, nil
}

// Invalidate marks the cached snapshot for the key stale. Every
// operation that mutates remote account state (purchase, subscribe,
// signup, successful private submission) must call this.
func (t *Tracker) Invalidate(apiKey string) {
	t.mu.Lock()
	if e, ok := t.entries[apiKey]; ok {
		e.invalidated = true
	}
	t.mu.Unlock()
}

func (t *Tracker) cached(apiKey string) (*Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[apiKey]
	if !ok || e.invalidated {
		return nil, false
	}
	if time.Since(e.snap.FetchedAt) > t.staleness {
		return nil, false
	}
	snap := e.snap
	return &snap, true
}

func (t *Tracker) refresh(ctx context.Context, apiKey string) (*Snapshot, error) {
	info, err := t.fetcher.Account(ctx, apiKey)
	if err != nil {
		return nil, fmt.Errorf("refresh account snapshot: %w", err)
	}

	snap := Snapshot{
		Plan:                info.Plan,
		PlanName:            info.PlanName,
		CreditsRemaining:    info.CreditsRemaining,
		SubscriptionCredits: info.SubscriptionCredits,
		PurchasedCredits:    info.PurchasedCredits,
		HasPaymentMethod:    info.HasPaymentMethod,
		RunsThisMonth:       info.RunsThisMonth,
		FetchedAt:           time.Now(),
		Raw:                 info.Raw,
	}

	t.mu.Lock()
	t.entries[apiKey] = &entry{snap: snap}
	t.mu.Unlock()

	t.logger.Debug("Account snapshot refreshed",
		"plan", snap.Plan, "credits_remaining", snap.CreditsRemaining)

	out := snap
	return &out, nil
}
