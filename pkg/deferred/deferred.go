// Package deferred implements the persistent FIFO queue of approval
// requests awaiting a human answer across runtime restarts.
package deferred

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/astrid-sh/astrid-guard/pkg/action"
	"github.com/google/uuid"
)

// Resolution is a pending approval: the action it gates, the free-text
// context shown to the approver, and the decision to apply if the
// session that raised it is gone by the time it is replayed.
type Resolution struct {
	ID              uuid.UUID    `json:"id"`
	SessionID       string       `json:"session_id"`
	Action          action.Action `json:"action"`
	Context         string       `json:"context"`
	CreatedAt       time.Time    `json:"created_at"`
	FallbackApprove bool         `json:"fallback_approve"`
	FallbackReason  string       `json:"fallback_reason"`
}

// Store is the minimal persistence collaborator a Queue needs.
// pkg/kvstore.Store satisfies this.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	List(ctx context.Context, namespace string) (map[string][]byte, error)
}

func namespace(sessionID string) string { return "deferred_" + sessionID }

// Queue is a KV-backed FIFO of Resolutions, namespaced per session.
type Queue struct {
	mu    sync.Mutex
	store Store
}

// NewQueue builds a queue backed by store.
func NewQueue(store Store) *Queue {
	return &Queue{store: store}
}

// Enqueue persists a new deferred resolution and returns it.
func (q *Queue) Enqueue(ctx context.Context, sessionID string, act action.Action, context_ string, fallbackApprove bool, fallbackReason string) (*Resolution, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	r := &Resolution{
		ID:              uuid.New(),
		SessionID:       sessionID,
		Action:          act,
		Context:         context_,
		CreatedAt:       time.Now(),
		FallbackApprove: fallbackApprove,
		FallbackReason:  fallbackReason,
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("deferred: encode resolution: %w", err)
	}
	if err := q.store.Set(ctx, namespace(sessionID), r.ID.String(), data); err != nil {
		return nil, fmt.Errorf("deferred: persist resolution: %w", err)
	}
	return r, nil
}

// Resolve removes a resolution from the queue once the approval manager
// has acted on it (granted, denied, or had its fallback applied).
func (q *Queue) Resolve(ctx context.Context, sessionID string, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.store.Delete(ctx, namespace(sessionID), id.String()); err != nil {
		return fmt.Errorf("deferred: resolve: %w", err)
	}
	return nil
}

// Pending lists every resolution outstanding for sessionID, oldest first
// by CreatedAt (the backing KV store does not preserve insertion order,
// so the list is sorted here).
func (q *Queue) Pending(ctx context.Context, sessionID string) ([]*Resolution, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.store.List(ctx, namespace(sessionID))
	if err != nil {
		return nil, fmt.Errorf("deferred: list pending: %w", err)
	}
	out := make([]*Resolution, 0, len(entries))
	for k, data := range entries {
		var r Resolution
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("deferred: decode resolution %s: %w", k, err)
		}
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
