// Package kvstore implements the generic scoped key-value persistence
// collaborator used by every stateful component: capability tokens,
// audit entries, budget snapshots, allowances, and the deferred-resolution
// queue all go through the same narrow Store interface.
package kvstore

import "context"

// Store is the abstract namespaced KV collaborator. All persistence in
// the security core routes through this interface; production deployments
// select a concrete backend (SQLite, Postgres, Redis) via configuration,
// tests use MemoryStore.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	List(ctx context.Context, namespace string) (map[string][]byte, error)
}
