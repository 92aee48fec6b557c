package capability

import (
	"context"
	"testing"
	"time"

	"github.com/astrid-sh/astrid-guard/pkg/guardcrypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memKV struct{ data map[string][]byte }

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

func key(ns, k string) string { return ns + "/" + k }

func (m *memKV) Set(_ context.Context, ns, k string, v []byte) error {
	m.data[key(ns, k)] = v
	return nil
}
func (m *memKV) Get(_ context.Context, ns, k string) ([]byte, bool, error) {
	v, ok := m.data[key(ns, k)]
	return v, ok, nil
}
func (m *memKV) Delete(_ context.Context, ns, k string) error {
	delete(m.data, key(ns, k))
	return nil
}
func (m *memKV) List(_ context.Context, ns string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	prefix := ns + "/"
	for k, v := range m.data {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out[k[len(prefix):]] = v
		}
	}
	return out, nil
}

func testSigner(t *testing.T) guardcrypto.Signer {
	t.Helper()
	kp, err := guardcrypto.GenerateKeyPair()
	require.NoError(t, err)
	return guardcrypto.NewSigner(kp)
}

func TestResourcePattern_Matches(t *testing.T) {
	assert.True(t, ResourcePattern("mcp://filesystem:read_file").Matches("mcp://filesystem:read_file"))
	assert.True(t, ResourcePattern("mcp://filesystem:*").Matches("mcp://filesystem:read_file"))
	assert.False(t, ResourcePattern("mcp://filesystem:*").Matches("mcp://network:connect"))
	assert.False(t, ResourcePattern("a*b*").Matches("axbx")) // only trailing wildcard is special
}

func TestResourcePattern_MatchesCaseFolded(t *testing.T) {
	assert.True(t, ResourcePattern("MCP://FileSystem:Read_File").Matches("mcp://filesystem:read_file"))
	assert.True(t, ResourcePattern("mcp://filesystem:*").Matches("MCP://FILESYSTEM:WRITE_FILE"))
}

func TestToken_MutationInvalidatesSignature(t *testing.T) {
	signer := testSigner(t)
	tok, err := NewBuilder("file:///tmp/x", PermissionRead).Build(time.Now(), signer)
	require.NoError(t, err)
	assert.True(t, tok.VerifySignature())

	tok.Permissions = []Permission{PermissionAdmin}
	assert.False(t, tok.VerifySignature())
}

func TestToken_PermissionOrderAffectsSignature(t *testing.T) {
	signer := testSigner(t)
	now := time.Now()
	a, err := NewBuilder("r", PermissionRead, PermissionWrite).Build(now, signer)
	require.NoError(t, err)
	b := *a
	b.Permissions = []Permission{PermissionWrite, PermissionRead}
	assert.NotEqual(t, a.SigningData(), b.SigningData())
}

func TestToken_ExpirySkewTolerance(t *testing.T) {
	signer := testSigner(t)
	issuedAt := time.Now().Add(-time.Hour)
	tok, err := NewBuilder("r", PermissionRead).WithTTL(time.Hour, issuedAt).Build(issuedAt, signer)
	require.NoError(t, err)

	justExpired := tok.ExpiresAt.Add(20 * time.Second)
	assert.NoError(t, tok.Validate(justExpired, DefaultClockSkew))

	longExpired := tok.ExpiresAt.Add(60 * time.Second)
	assert.ErrorIs(t, tok.Validate(longExpired, DefaultClockSkew), ErrTokenExpired)
}

func TestStore_IssueAndFindFor(t *testing.T) {
	kv := newMemKV()
	store := NewStore(kv, testSigner(t))
	ctx := context.Background()

	_, err := store.Issue(ctx, "file:///home/u/file.txt", []Permission{PermissionWrite}, ScopePersistent, nil, false, uuid.New(), [8]byte{})
	require.NoError(t, err)

	found, err := store.FindFor(ctx, "file:///home/u/file.txt", PermissionWrite)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.True(t, found.VerifySignature())

	_, err = store.FindFor(ctx, "file:///home/u/file.txt", PermissionAdmin)
	require.NoError(t, err)
}

func TestStore_SingleUseConsumedOnce(t *testing.T) {
	kv := newMemKV()
	store := NewStore(kv, testSigner(t))
	ctx := context.Background()

	_, err := store.Issue(ctx, "r", []Permission{PermissionRead}, ScopeSession, nil, true, uuid.New(), [8]byte{})
	require.NoError(t, err)

	first, err := store.FindFor(ctx, "r", PermissionRead)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := store.FindFor(ctx, "r", PermissionRead)
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestStore_IssueTwiceForSameApprovalIsNoOp(t *testing.T) {
	kv := newMemKV()
	store := NewStore(kv, testSigner(t))
	ctx := context.Background()
	approvalID := uuid.New()

	first, err := store.Issue(ctx, "file:///home/u/file.txt", []Permission{PermissionWrite}, ScopePersistent, nil, false, approvalID, [8]byte{})
	require.NoError(t, err)

	second, err := store.Issue(ctx, "file:///home/u/file.txt", []Permission{PermissionWrite}, ScopePersistent, nil, false, approvalID, [8]byte{})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	all, err := store.all(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_RevokeRemovesToken(t *testing.T) {
	kv := newMemKV()
	store := NewStore(kv, testSigner(t))
	ctx := context.Background()

	tok, err := store.Issue(ctx, "r", []Permission{PermissionRead}, ScopePersistent, nil, false, uuid.New(), [8]byte{})
	require.NoError(t, err)

	require.NoError(t, store.Revoke(ctx, tok.ID, "no longer needed", nil))

	found, err := store.FindFor(ctx, "r", PermissionRead)
	require.NoError(t, err)
	assert.Nil(t, found)
}
