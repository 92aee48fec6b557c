package allowance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct{ data map[string][]byte }

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) Get(_ context.Context, namespace, key string) ([]byte, bool, error) {
	v, ok := m.data[namespace+"/"+key]
	return v, ok, nil
}

func (m *memStore) Set(_ context.Context, namespace, key string, value []byte) error {
	m.data[namespace+"/"+key] = value
	return nil
}

func TestCache_SessionLookup_ExactMatch(t *testing.T) {
	c := NewCache()
	c.CreateSession("file_read", "/repo/src/main.go", nil)

	a := c.Lookup("file_read", "/repo/src/main.go")
	require.NotNil(t, a)
	assert.Equal(t, ScopeSession, a.Scope)

	assert.Nil(t, c.Lookup("file_write", "/repo/src/main.go"))
	assert.Nil(t, c.Lookup("file_read", "/repo/src/other.go"))
}

func TestCache_PrefixMatch_CoversNestedPaths(t *testing.T) {
	c := NewCache()
	c.CreateSession("file_read", "/repo/src", nil)

	assert.NotNil(t, c.Lookup("file_read", "/repo/src/nested/file.go"))
	assert.Nil(t, c.Lookup("file_read", "/repo/other/file.go"))
}

func TestCache_WildcardMatchesAnyResource(t *testing.T) {
	c := NewCache()
	c.CreateSession("shell_exec", "*", nil)

	assert.NotNil(t, c.Lookup("shell_exec", "ls -la"))
	assert.NotNil(t, c.Lookup("shell_exec", "rm -rf /tmp/x"))
}

func TestCache_Expiry(t *testing.T) {
	now := time.Now()
	c := &Cache{clock: func() time.Time { return now }}
	ttl := time.Minute
	c.CreateSession("file_read", "/repo", &ttl)

	assert.NotNil(t, c.Lookup("file_read", "/repo"))

	c.clock = func() time.Time { return now.Add(2 * time.Minute) }
	assert.Nil(t, c.Lookup("file_read", "/repo"))
}

func TestCache_CreateIsIdempotent(t *testing.T) {
	c := NewCache()
	a1 := c.CreateSession("file_read", "/repo", nil)
	a2 := c.CreateSession("file_read", "/repo", nil)
	assert.Equal(t, a1.ID, a2.ID)
}

func TestCache_WorkspaceRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	c1 := NewCache()
	require.NoError(t, c1.AttachWorkspace(ctx, store, "ws-1"))
	c1.CreateWorkspace("file_read", "/repo/data", nil)
	require.NoError(t, c1.ExportWorkspace(ctx))

	c2 := NewCache()
	require.NoError(t, c2.AttachWorkspace(ctx, store, "ws-1"))
	assert.NotNil(t, c2.Lookup("file_read", "/repo/data/x.csv"))
}

func TestCache_SessionScopedDoesNotLeakAcrossWorkspaceImport(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	c1 := NewCache()
	require.NoError(t, c1.AttachWorkspace(ctx, store, "ws-2"))
	c1.CreateSession("file_read", "/tmp/scratch", nil)
	require.NoError(t, c1.ExportWorkspace(ctx))

	c2 := NewCache()
	require.NoError(t, c2.AttachWorkspace(ctx, store, "ws-2"))
	assert.Nil(t, c2.Lookup("file_read", "/tmp/scratch"))
}
