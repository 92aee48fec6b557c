package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/astrid-sh/astrid-guard/pkg/guardcrypto"
	"github.com/google/uuid"
)

// KVStore is the minimal persistence collaborator the capability store
// needs. pkg/kvstore.Store satisfies this.
type KVStore interface {
	Set(ctx context.Context, namespace, key string, value []byte) error
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Delete(ctx context.Context, namespace, key string) error
	List(ctx context.Context, namespace string) (map[string][]byte, error)
}

// AuditAppender is the narrow slice of the audit log the capability store
// needs, kept local to avoid an import cycle between pkg/capability and
// pkg/auditlog (the interceptor wires the real *auditlog.Log in).
type AuditAppender interface {
	AppendCapabilityRevoked(ctx context.Context, tokenID uuid.UUID, reason string) error
}

const namespace = "capability_tokens"

// wireToken is the JSON-persisted form of a Token; the signature and
// issuer public key are carried as raw bytes so VerifySignature can be
// recomputed byte-for-byte after a round trip.
type wireToken struct {
	ID              uuid.UUID  `json:"id"`
	Resource        string     `json:"resource"`
	Permissions     []string   `json:"permissions"`
	IssuedAt        time.Time  `json:"issued_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	Scope           string     `json:"scope"`
	Issuer          []byte     `json:"issuer"`
	UserID          [8]byte    `json:"user_id"`
	ApprovalAuditID uuid.UUID  `json:"approval_audit_id"`
	SingleUse       bool       `json:"single_use"`
	Signature       []byte     `json:"signature"`
}

func toWire(t *Token) wireToken {
	perms := make([]string, len(t.Permissions))
	for i, p := range t.Permissions {
		perms[i] = string(p)
	}
	return wireToken{
		ID:              t.ID,
		Resource:        string(t.Resource),
		Permissions:     perms,
		IssuedAt:        t.IssuedAt,
		ExpiresAt:       t.ExpiresAt,
		Scope:           string(t.Scope),
		Issuer:          t.Issuer,
		UserID:          t.UserID,
		ApprovalAuditID: t.ApprovalAuditID,
		SingleUse:       t.SingleUse,
		Signature:       t.Signature,
	}
}

func fromWire(w wireToken) *Token {
	perms := make([]Permission, len(w.Permissions))
	for i, p := range w.Permissions {
		perms[i] = Permission(p)
	}
	return &Token{
		ID:              w.ID,
		Resource:        ResourcePattern(w.Resource),
		Permissions:     perms,
		IssuedAt:        w.IssuedAt,
		ExpiresAt:       w.ExpiresAt,
		Scope:           Scope(w.Scope),
		Issuer:          w.Issuer,
		UserID:          w.UserID,
		ApprovalAuditID: w.ApprovalAuditID,
		SingleUse:       w.SingleUse,
		Signature:       w.Signature,
	}
}

// Store mints, persists, looks up, verifies, and revokes capability
// tokens. Tokens live only in the backing KV store, which every lookup
// lists afresh; the only in-memory state is the set of consumed
// single-use token ids.
type Store struct {
	mu     sync.RWMutex
	kv     KVStore
	signer guardcrypto.Signer
	clock  func() time.Time
	used   map[uuid.UUID]bool // single-use tokens already consumed
}

// NewStore builds a capability store backed by kv and signing with signer.
func NewStore(kv KVStore, signer guardcrypto.Signer) *Store {
	return &Store{
		kv:     kv,
		signer: signer,
		clock:  time.Now,
		used:   make(map[uuid.UUID]bool),
	}
}

// Issue mints, signs, and persists a new capability token. Re-issuing for
// the same (resource, permissions, approvalAuditID) while a matching,
// still-valid token already exists is a no-op: the existing token is
// returned instead of minting a duplicate grant for the same approval.
func (s *Store) Issue(ctx context.Context, resource ResourcePattern, permissions []Permission, scope Scope, ttl *time.Duration, singleUse bool, approvalAuditID uuid.UUID, userID [8]byte) (*Token, error) {
	now := s.clock()

	if approvalAuditID != uuid.Nil {
		existing, err := s.findDuplicate(ctx, resource, permissions, approvalAuditID, now)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	b := NewBuilder(resource, permissions...).
		WithScope(scope).
		WithUserID(userID).
		WithApprovalAuditID(approvalAuditID).
		WithSingleUse(singleUse)
	if ttl != nil {
		b = b.WithTTL(*ttl, now)
	}
	tok, err := b.Build(now, s.signer)
	if err != nil {
		return nil, err
	}

	if err := s.persist(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

func (s *Store) persist(ctx context.Context, tok *Token) error {
	data, err := json.Marshal(toWire(tok))
	if err != nil {
		return fmt.Errorf("capability: marshal token: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Set(ctx, namespace, tok.ID.String(), data); err != nil {
		return fmt.Errorf("capability: persist token: %w", err)
	}
	return nil
}

// FindFor returns a token that both grants (resource, permission) and
// validates, preferring the least-expired token, then the most recently
// issued, when several match.
func (s *Store) FindFor(ctx context.Context, resource string, permission Permission) (*Token, error) {
	all, err := s.all(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	var candidates []*Token
	for _, tok := range all {
		s.mu.RLock()
		consumed := tok.SingleUse && s.used[tok.ID]
		s.mu.RUnlock()
		if consumed {
			continue
		}
		if tok.Grants(resource, permission, now, DefaultClockSkew) {
			candidates = append(candidates, tok)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		ei, ej := candidates[i].ExpiresAt, candidates[j].ExpiresAt
		switch {
		case ei == nil && ej == nil:
			return candidates[i].IssuedAt.After(candidates[j].IssuedAt)
		case ei == nil:
			return true // no-expiry sorts as "least expired"
		case ej == nil:
			return false
		case !ei.Equal(*ej):
			return ei.After(*ej) // later expiry = "least expired" first
		default:
			return candidates[i].IssuedAt.After(candidates[j].IssuedAt)
		}
	})

	winner := candidates[0]
	if winner.SingleUse {
		s.mu.Lock()
		s.used[winner.ID] = true
		s.mu.Unlock()
	}
	return winner, nil
}

// Validate checks signature and expiry for an arbitrary token (e.g. one
// presented by a caller rather than looked up from the store).
func (s *Store) Validate(tok *Token, skew time.Duration) error {
	return tok.Validate(s.clock(), skew)
}

// Revoke removes a token from the store and, if audit is non-nil, records
// a CapabilityRevoked entry.
func (s *Store) Revoke(ctx context.Context, id uuid.UUID, reason string, audit AuditAppender) error {
	s.mu.Lock()
	err := s.kv.Delete(ctx, namespace, id.String())
	delete(s.used, id)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("capability: revoke token: %w", err)
	}
	if audit != nil {
		if err := audit.AppendCapabilityRevoked(ctx, id, reason); err != nil {
			return fmt.Errorf("capability: audit revoke: %w", err)
		}
	}
	return nil
}

// findDuplicate looks for an existing, still-valid token granting exactly
// resource and permissions (regardless of the permissions list's order)
// under the same approvalAuditID.
func (s *Store) findDuplicate(ctx context.Context, resource ResourcePattern, permissions []Permission, approvalAuditID uuid.UUID, now time.Time) (*Token, error) {
	all, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	for _, tok := range all {
		if tok.ApprovalAuditID != approvalAuditID {
			continue
		}
		if tok.Resource != resource {
			continue
		}
		if !samePermissionSet(tok.Permissions, permissions) {
			continue
		}
		if tok.Validate(now, DefaultClockSkew) != nil {
			continue
		}
		return tok, nil
	}
	return nil, nil
}

func samePermissionSet(a, b []Permission) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[Permission]int, len(a))
	for _, p := range a {
		seen[p]++
	}
	for _, p := range b {
		if seen[p] == 0 {
			return false
		}
		seen[p]--
	}
	return true
}

func (s *Store) all(ctx context.Context) ([]*Token, error) {
	raw, err := s.kv.List(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("capability: list tokens: %w", err)
	}
	out := make([]*Token, 0, len(raw))
	for _, data := range raw {
		var w wireToken
		if err := json.Unmarshal(data, &w); err != nil {
			continue // tolerate corrupt entries rather than failing the whole lookup
		}
		out = append(out, fromWire(w))
	}
	return out, nil
}
