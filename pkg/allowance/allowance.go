// Package allowance implements the session- and workspace-scoped
// "remember this decision" cache: a time-bounded yes that lets repeated
// identical-class actions skip the approval prompt. Allowances are held
// and persisted as plain records; they carry no signature.
package allowance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scope controls where an allowance lives.
type Scope string

const (
	ScopeSession   Scope = "session"
	ScopeWorkspace Scope = "workspace"
)

// Allowance is a cached "yes" decision keyed by (action class,
// user-visible resource). Resource may be a path, in which case lookups
// match both the exact path and any path under it.
type Allowance struct {
	ID          uuid.UUID
	ActionClass string
	Resource    string
	Scope       Scope
	CreatedAt   time.Time
	ExpiresAt   *time.Time
}

// IsFresh reports whether the allowance has not yet expired, as of now.
func (a *Allowance) IsFresh(now time.Time) bool {
	return a.ExpiresAt == nil || now.Before(*a.ExpiresAt)
}

// matches reports whether this allowance covers (actionClass, resource).
// A wildcard resource ("*") matches any resource in its action class; for
// path-like resources, an allowance for a directory also matches any path
// nested under it.
func (a *Allowance) matches(actionClass, resource string) bool {
	if a.ActionClass != actionClass {
		return false
	}
	if a.Resource == "*" {
		return true
	}
	if a.Resource == resource {
		return true
	}
	return strings.HasPrefix(resource, strings.TrimSuffix(a.Resource, "/")+"/")
}

// Store is the minimal persistence collaborator used to export/import
// workspace-scoped allowances across session start/end. pkg/kvstore.Store
// satisfies this.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
}

const workspaceNamespace = "allowances_workspace"

// Cache holds a session's in-memory allowances plus, when a workspace is
// attached, the workspace-scoped allowances re-imported at session start
// and exported again at session end.
type Cache struct {
	mu          sync.RWMutex
	session     []*Allowance
	workspace   []*Allowance
	workspaceID string
	store       Store
	clock       func() time.Time
}

// NewCache builds an empty session-only cache.
func NewCache() *Cache {
	return &Cache{clock: time.Now}
}

// AttachWorkspace re-imports the persisted workspace allowances for
// workspaceID, to be called once at session start.
func (c *Cache) AttachWorkspace(ctx context.Context, store Store, workspaceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store = store
	c.workspaceID = workspaceID

	data, ok, err := store.Get(ctx, workspaceNamespace, workspaceID)
	if err != nil {
		return fmt.Errorf("allowance: load workspace allowances: %w", err)
	}
	if !ok {
		return nil
	}
	var imported []*Allowance
	if err := json.Unmarshal(data, &imported); err != nil {
		return fmt.Errorf("allowance: decode workspace allowances: %w", err)
	}
	c.workspace = imported
	return nil
}

// ExportWorkspace persists the current workspace allowances, to be called
// at session end.
func (c *Cache) ExportWorkspace(ctx context.Context) error {
	c.mu.RLock()
	store, workspaceID, snapshot := c.store, c.workspaceID, c.workspace
	c.mu.RUnlock()

	if store == nil || workspaceID == "" {
		return nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("allowance: encode workspace allowances: %w", err)
	}
	if err := store.Set(ctx, workspaceNamespace, workspaceID, data); err != nil {
		return fmt.Errorf("allowance: persist workspace allowances: %w", err)
	}
	return nil
}

// CreateSession creates a session-scoped allowance. Creating an
// equivalent allowance twice is a no-op.
func (c *Cache) CreateSession(actionClass, resource string, ttl *time.Duration) *Allowance {
	return c.create(&c.session, actionClass, resource, ScopeSession, ttl)
}

// CreateWorkspace creates a workspace-scoped allowance.
func (c *Cache) CreateWorkspace(actionClass, resource string, ttl *time.Duration) *Allowance {
	return c.create(&c.workspace, actionClass, resource, ScopeWorkspace, ttl)
}

func (c *Cache) create(list *[]*Allowance, actionClass, resource string, scope Scope, ttl *time.Duration) *Allowance {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	for _, existing := range *list {
		if existing.ActionClass == actionClass && existing.Resource == resource && existing.IsFresh(now) {
			return existing // idempotent: do not double-issue
		}
	}

	a := &Allowance{
		ID:          uuid.New(),
		ActionClass: actionClass,
		Resource:    resource,
		Scope:       scope,
		CreatedAt:   now,
	}
	if ttl != nil {
		exp := now.Add(*ttl)
		a.ExpiresAt = &exp
	}
	*list = append(*list, a)
	return a
}

// Lookup returns a fresh allowance covering (actionClass, resource), if
// any, checking session-scoped allowances before workspace-scoped ones.
func (c *Cache) Lookup(actionClass, resource string) *Allowance {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.clock()
	for _, a := range c.session {
		if a.IsFresh(now) && a.matches(actionClass, resource) {
			return a
		}
	}
	for _, a := range c.workspace {
		if a.IsFresh(now) && a.matches(actionClass, resource) {
			return a
		}
	}
	return nil
}
