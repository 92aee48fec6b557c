package auditlog

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/astrid-sh/astrid-guard/pkg/guardcrypto"
	"github.com/google/uuid"
)

// KVStore is the minimal persistence collaborator the audit log needs.
// pkg/kvstore.Store satisfies this.
type KVStore interface {
	Set(ctx context.Context, namespace, key string, value []byte) error
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	List(ctx context.Context, namespace string) (map[string][]byte, error)
}

const (
	namespace = "audit_log"
	headKey   = "_head"
)

// wireEntry is the JSON-persisted form of an Entry.
type wireEntry struct {
	ID            uuid.UUID     `json:"id"`
	Timestamp     time.Time     `json:"timestamp"`
	SessionID     uuid.UUID     `json:"session_id"`
	Action        Action        `json:"action"`
	Authorization Authorization `json:"authorization"`
	Outcome       Outcome       `json:"outcome"`
	PreviousHash  string        `json:"previous_hash"`
	RuntimeKey    []byte        `json:"runtime_key"`
	Signature     []byte        `json:"signature"`
	Seq           uint64        `json:"seq"`
}

func toWire(e *Entry, seq uint64) wireEntry {
	return wireEntry{
		ID:            e.ID,
		Timestamp:     e.Timestamp,
		SessionID:     e.SessionID,
		Action:        e.Action,
		Authorization: e.Authorization,
		Outcome:       e.Outcome,
		PreviousHash:  e.PreviousHash.String(),
		RuntimeKey:    e.RuntimeKey,
		Signature:     e.Signature,
		Seq:           seq,
	}
}

func fromWire(w wireEntry) (*Entry, error) {
	prevHash, err := guardcrypto.ParseContentHash(w.PreviousHash)
	if err != nil {
		return nil, err
	}
	return &Entry{
		ID:            w.ID,
		Timestamp:     w.Timestamp,
		SessionID:     w.SessionID,
		Action:        w.Action,
		Authorization: w.Authorization,
		Outcome:       w.Outcome,
		PreviousHash:  prevHash,
		RuntimeKey:    ed25519.PublicKey(w.RuntimeKey),
		Signature:     w.Signature,
	}, nil
}

func seqKey(seq uint64) string { return fmt.Sprintf("%020d", seq) }

// ChainError reports where chain verification failed.
type ChainError struct {
	Kind    string // "chain_broken" | "invalid_signature"
	EntryID uuid.UUID
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("auditlog: %s at entry %s", e.Kind, e.EntryID)
}

// Log is the append-only, hash-chained, signed audit trail. Appends are
// totally ordered under a single mutex: read-previous-hash, sign, persist
// happen as one atomic window so concurrent appends never fork the chain.
type Log struct {
	mu     sync.Mutex
	kv     KVStore
	signer guardcrypto.Signer
	clock  func() time.Time
	logger *slog.Logger

	// StrictAudit, when true, propagates a persistence failure as an
	// error instead of logging it and letting the caller's underlying
	// decision stand (fail-open). Mirrors security.audit.strict.
	StrictAudit bool
}

// NewLog builds an audit log persisted via kv and signed with signer.
func NewLog(kv KVStore, signer guardcrypto.Signer, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{kv: kv, signer: signer, clock: time.Now, logger: logger}
}

type head struct {
	Hash string `json:"hash"`
	Seq  uint64 `json:"seq"`
}

func (l *Log) readHead(ctx context.Context) (guardcrypto.ContentHash, uint64, error) {
	data, ok, err := l.kv.Get(ctx, namespace, headKey)
	if err != nil {
		return guardcrypto.ContentHash{}, 0, err
	}
	if !ok {
		return guardcrypto.ContentHash{}, 0, nil
	}
	var h head
	if err := json.Unmarshal(data, &h); err != nil {
		return guardcrypto.ContentHash{}, 0, err
	}
	hash, err := guardcrypto.ParseContentHash(h.Hash)
	if err != nil {
		return guardcrypto.ContentHash{}, 0, err
	}
	return hash, h.Seq, nil
}

// Append constructs a new entry chained after the current head, signs it,
// and persists it. A persistence failure never advances the chain head.
// By default (StrictAudit == false) a write failure is logged and Append
// still returns the entry's id so the caller's underlying decision is not
// blocked on audit durability — the documented fail-open trade-off.
func (l *Log) Append(ctx context.Context, sessionID uuid.UUID, action Action, authz Authorization, outcome Outcome) (uuid.UUID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prevHash, seq, err := l.readHead(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("auditlog: read head: %w", err)
	}

	entry := &Entry{
		ID:            uuid.New(),
		Timestamp:     l.clock(),
		SessionID:     sessionID,
		Action:        action,
		Authorization: authz,
		Outcome:       outcome,
		PreviousHash:  prevHash,
	}
	if err := entry.Sign(l.signer); err != nil {
		return uuid.Nil, fmt.Errorf("auditlog: sign entry: %w", err)
	}

	if err := l.persist(ctx, entry, seq+1); err != nil {
		if l.StrictAudit {
			return uuid.Nil, fmt.Errorf("auditlog: persist entry: %w", err)
		}
		l.logger.Error("audit write failed; proceeding fail-open", "error", err, "entry_id", entry.ID)
		return entry.ID, nil
	}

	return entry.ID, nil
}

func (l *Log) persist(ctx context.Context, entry *Entry, seq uint64) error {
	data, err := json.Marshal(toWire(entry, seq))
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	if err := l.kv.Set(ctx, namespace, seqKey(seq), data); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}

	newHash, err := entry.ContentHash()
	if err != nil {
		return fmt.Errorf("hash entry: %w", err)
	}
	headData, err := json.Marshal(head{Hash: newHash.String(), Seq: seq})
	if err != nil {
		return fmt.Errorf("marshal head: %w", err)
	}
	if err := l.kv.Set(ctx, namespace, headKey, headData); err != nil {
		return fmt.Errorf("advance head: %w", err)
	}
	return nil
}

// ordered returns every persisted entry in insertion order.
func (l *Log) ordered(ctx context.Context) ([]*Entry, error) {
	raw, err := l.kv.List(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("auditlog: list entries: %w", err)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		if k == headKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]*Entry, 0, len(keys))
	for _, k := range keys {
		var w wireEntry
		if err := json.Unmarshal(raw[k], &w); err != nil {
			return nil, fmt.Errorf("auditlog: decode entry %s: %w", k, err)
		}
		e, err := fromWire(w)
		if err != nil {
			return nil, fmt.Errorf("auditlog: decode entry %s: %w", k, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Verify walks the chain in order, checking every entry's signature and
// its link to its predecessor. Entries from all sessions interleave on one
// global chain and Verify always checks the whole of it; it takes no
// session filter.
func (l *Log) Verify(ctx context.Context) error {
	entries, err := l.ordered(ctx)
	if err != nil {
		return err
	}

	for i, e := range entries {
		ok, err := e.VerifySignature()
		if err != nil {
			return err
		}
		if !ok {
			return &ChainError{Kind: "invalid_signature", EntryID: e.ID}
		}
		if i == 0 {
			if !e.PreviousHash.IsZero() {
				return &ChainError{Kind: "chain_broken", EntryID: e.ID}
			}
			continue
		}
		follows, err := e.Follows(entries[i-1])
		if err != nil {
			return err
		}
		if !follows {
			return &ChainError{Kind: "chain_broken", EntryID: e.ID}
		}
	}
	return nil
}

// Filter narrows Query results.
type Filter struct {
	SessionID  *uuid.UUID
	ActionType *ActionType
	Since      *time.Time
}

func (f Filter) matches(e *Entry) bool {
	if f.SessionID != nil && e.SessionID != *f.SessionID {
		return false
	}
	if f.ActionType != nil && e.Action.Type != *f.ActionType {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	return true
}

// Query returns entries matching filter, in chain order, for
// administrative browsing.
func (l *Log) Query(ctx context.Context, filter Filter) ([]*Entry, error) {
	entries, err := l.ordered(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// AppendCapabilityRevoked satisfies capability.AuditAppender.
func (l *Log) AppendCapabilityRevoked(ctx context.Context, tokenID uuid.UUID, reason string) error {
	action := Action{Type: ActionCapabilityRevoked, TokenID: tokenID.String(), Reason: reason}
	authz := Authorization{Type: AuthSystem, Reason: "capability revocation"}
	_, err := l.Append(ctx, uuid.Nil, action, authz, Success())
	return err
}
