package budget

import "sync"

// Tracker holds a single session's (session_max_usd, per_action_max_usd,
// current_spend) and enforces them atomically under one mutex: callers
// never read-then-reserve, closing the race the reference implementation
// calls out explicitly.
type Tracker struct {
	mu           sync.Mutex
	sessionMax   float64
	perActionMax float64
	spend        float64
}

// NewTracker builds a session budget tracker.
func NewTracker(sessionMax, perActionMax float64) *Tracker {
	return &Tracker{sessionMax: sessionMax, perActionMax: perActionMax}
}

// CheckAndReserve atomically reserves cost against both the per-action
// and session limits. On success it returns an optional Warning for
// threshold crossings; on failure it returns *ExceededError naming
// whichever limit was hit first (per-action before session, mirroring
// the tighter bound failing first).
func (t *Tracker) CheckAndReserve(cost float64) (*Warning, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cost > t.perActionMax {
		return nil, &ExceededError{LimitKind: LimitPerAction, Requested: cost, Remaining: t.perActionMax}
	}

	newSpend := t.spend + cost
	if newSpend > t.sessionMax {
		return nil, &ExceededError{LimitKind: LimitSession, Requested: cost, Remaining: t.sessionMax - t.spend}
	}

	warning := warningFor(t.spend, newSpend, t.sessionMax)
	t.spend = newSpend
	return warning, nil
}

// RecordCost accumulates cost unconditionally, without gating — used for
// streaming LLM token costs discovered after the fact.
func (t *Tracker) RecordCost(cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spend += cost
}

// CurrentSpend returns the tracker's running total.
func (t *Tracker) CurrentSpend() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spend
}

// SessionMax returns the configured session limit.
func (t *Tracker) SessionMax() float64 {
	return t.sessionMax
}
