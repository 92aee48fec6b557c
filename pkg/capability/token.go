package capability

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/astrid-sh/astrid-guard/pkg/guardcrypto"
	"github.com/google/uuid"
)

// signingVersion is the first byte of every CapabilityToken signing payload.
// Bumping it is a breaking change: existing signatures would no longer
// verify against the new byte layout.
const signingVersion byte = 0x01

// DefaultClockSkew is the tolerance applied when checking token expiry.
const DefaultClockSkew = 30 * time.Second

// Token is an immutable, signed capability grant.
type Token struct {
	ID              uuid.UUID
	Resource        ResourcePattern
	Permissions     []Permission
	IssuedAt        time.Time
	ExpiresAt       *time.Time
	Scope           Scope
	Issuer          ed25519.PublicKey
	UserID          [8]byte
	ApprovalAuditID uuid.UUID
	SingleUse       bool
	Signature       []byte
}

// SigningData builds the bit-exact byte sequence that is both signed and
// content-hashed. The layout is part of the wire contract: version byte
// 0x01, every variable-length field length-prefixed with a u32 LE count,
// every integer little-endian, booleans as single bytes.
func (t *Token) SigningData() []byte {
	var buf bytes.Buffer
	buf.WriteByte(signingVersion)

	writeLP(&buf, t.ID[:])
	writeLP(&buf, []byte(t.Resource))

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(t.Permissions)))
	buf.Write(countBuf[:])
	for _, p := range t.Permissions {
		writeLP(&buf, []byte(p))
	}

	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], uint64(t.IssuedAt.Unix()))
	buf.Write(tsBuf[:])

	if t.ExpiresAt != nil {
		buf.WriteByte(1)
		binary.LittleEndian.PutUint64(tsBuf[:], uint64(t.ExpiresAt.Unix()))
		buf.Write(tsBuf[:])
	} else {
		buf.WriteByte(0)
	}

	writeLP(&buf, []byte(t.Scope))
	buf.Write(t.Issuer)
	buf.Write(t.UserID[:])
	writeLP(&buf, t.ApprovalAuditID[:])

	if t.SingleUse {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	return buf.Bytes()
}

func writeLP(buf *bytes.Buffer, data []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf.Write(lenBuf[:])
	buf.Write(data)
}

// ContentHash returns the BLAKE3 hash of the signing payload.
func (t *Token) ContentHash() guardcrypto.ContentHash {
	return guardcrypto.HashBytes(t.SigningData())
}

// Sign signs the token's signing payload with signer and records the
// signature and issuer public key.
func (t *Token) Sign(signer guardcrypto.Signer) {
	t.Issuer = signer.PublicKey()
	t.Signature = signer.Sign(t.SigningData())
}

// VerifySignature recomputes the signing payload and checks it against the
// stored signature under the token's recorded issuer key.
func (t *Token) VerifySignature() bool {
	return guardcrypto.Verify(t.Issuer, t.SigningData(), t.Signature)
}

// ValidationError enumerates why a token failed validation.
type ValidationError string

const (
	ErrTokenExpired     ValidationError = "token_expired"
	ErrInvalidSignature ValidationError = "invalid_signature"
)

func (e ValidationError) Error() string { return string(e) }

// Validate checks signature validity and expiry (with clock-skew
// tolerance). It does not check pattern or permission match — that is
// Grants's job.
func (t *Token) Validate(now time.Time, skew time.Duration) error {
	if !t.VerifySignature() {
		return ErrInvalidSignature
	}
	if t.ExpiresAt != nil && now.After(t.ExpiresAt.Add(skew)) {
		return ErrTokenExpired
	}
	return nil
}

// Grants reports whether the token authorizes permission over resource,
// as of now, under skew tolerance. It does not consume single-use tokens;
// callers that enforce single-use semantics must do so via the store.
func (t *Token) Grants(resource string, permission Permission, now time.Time, skew time.Duration) bool {
	if err := t.Validate(now, skew); err != nil {
		return false
	}
	if !t.Resource.Matches(resource) {
		return false
	}
	for _, p := range t.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// Builder constructs a Token fluently, mirroring the reference
// TokenBuilder: every setter returns the builder so calls chain, and Build
// fills in defaults (fresh id, issued_at = now) before signing.
type Builder struct {
	t Token
}

// NewBuilder starts a token builder for resource with the given permissions.
func NewBuilder(resource ResourcePattern, permissions ...Permission) *Builder {
	return &Builder{t: Token{
		ID:          uuid.New(),
		Resource:    resource,
		Permissions: permissions,
		Scope:       ScopeSession,
	}}
}

func (b *Builder) WithScope(s Scope) *Builder { b.t.Scope = s; return b }

func (b *Builder) WithTTL(ttl time.Duration, now time.Time) *Builder {
	exp := now.Add(ttl)
	b.t.ExpiresAt = &exp
	return b
}

func (b *Builder) WithUserID(u [8]byte) *Builder { b.t.UserID = u; return b }

func (b *Builder) WithApprovalAuditID(id uuid.UUID) *Builder {
	b.t.ApprovalAuditID = id
	return b
}

func (b *Builder) WithSingleUse(v bool) *Builder { b.t.SingleUse = v; return b }

// Build finalizes and signs the token.
func (b *Builder) Build(now time.Time, signer guardcrypto.Signer) (*Token, error) {
	if len(b.t.Permissions) == 0 {
		return nil, fmt.Errorf("capability: token must grant at least one permission")
	}
	b.t.IssuedAt = now
	b.t.Sign(signer)
	return &b.t, nil
}
