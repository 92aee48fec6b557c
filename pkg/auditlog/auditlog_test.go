package auditlog

import (
	"context"
	"testing"

	"github.com/astrid-sh/astrid-guard/pkg/guardcrypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memKV struct{ data map[string][]byte }

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

func nsKey(ns, k string) string { return ns + "/" + k }

func (m *memKV) Set(_ context.Context, ns, k string, v []byte) error {
	m.data[nsKey(ns, k)] = append([]byte(nil), v...)
	return nil
}
func (m *memKV) Get(_ context.Context, ns, k string) ([]byte, bool, error) {
	v, ok := m.data[nsKey(ns, k)]
	return v, ok, nil
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

func TestLog_AppendChainsAndVerifies(t *testing.T) {
	log := NewLog(newMemKV(), testSigner(t), nil)
	ctx := context.Background()
	session := uuid.New()

	_, err := log.Append(ctx, session, Action{Type: ActionSessionStarted, Frontend: "cli"}, Authorization{Type: AuthSystem}, Success())
	require.NoError(t, err)

	_, err = log.Append(ctx, session, Action{Type: ActionFileRead, Path: "/tmp/a"}, Authorization{Type: AuthNotRequired, Reason: "read-only"}, Success())
	require.NoError(t, err)

	assert.NoError(t, log.Verify(ctx))

	entries, err := log.Query(ctx, Filter{SessionID: &session})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.True(t, entries[0].PreviousHash.IsZero())
}

func TestLog_TamperedEntryBreaksChain(t *testing.T) {
	kv := newMemKV()
	log := NewLog(kv, testSigner(t), nil)
	ctx := context.Background()
	session := uuid.New()

	_, err := log.Append(ctx, session, Action{Type: ActionSessionStarted}, Authorization{Type: AuthSystem}, Success())
	require.NoError(t, err)
	_, err = log.Append(ctx, session, Action{Type: ActionFileRead, Path: "/tmp/a"}, Authorization{Type: AuthNotRequired}, Success())
	require.NoError(t, err)

	// Tamper with the first persisted entry's action field directly in storage.
	raw, ok := kv.data[nsKey(namespace, seqKey(1))]
	require.True(t, ok)
	tampered := []byte(string(raw))
	tampered = []byte(replaceOnce(string(tampered), `"session_started"`, `"config_reloaded"`))
	kv.data[nsKey(namespace, seqKey(1))] = tampered

	err = log.Verify(ctx)
	require.Error(t, err)
	var chainErr *ChainError
	require.ErrorAs(t, err, &chainErr)
	assert.Equal(t, "invalid_signature", chainErr.Kind)
}

func replaceOnce(s, old, new string) string {
	idx := -1
	for i := 0; i+len(old) <= len(s); i++ {
		if s[i:i+len(old)] == old {
			idx = i
			break
		}
	}
	if idx < 0 {
		return s
	}
	return s[:idx] + new + s[idx+len(old):]
}

func TestLog_FailOpenOnPersistFailure(t *testing.T) {
	log := NewLog(failingKV{}, testSigner(t), nil)
	id, err := log.Append(context.Background(), uuid.New(), Action{Type: ActionSessionStarted}, Authorization{Type: AuthSystem}, Success())
	require.NoError(t, err) // fail-open: Append still succeeds
	assert.NotEqual(t, uuid.Nil, id)
}

func TestLog_StrictAuditPropagatesFailure(t *testing.T) {
	log := NewLog(failingKV{}, testSigner(t), nil)
	log.StrictAudit = true
	_, err := log.Append(context.Background(), uuid.New(), Action{Type: ActionSessionStarted}, Authorization{Type: AuthSystem}, Success())
	assert.Error(t, err)
}

type failingKV struct{}

func (failingKV) Set(context.Context, string, string, []byte) error { return assertErr }
func (failingKV) Get(context.Context, string, string) ([]byte, bool, error) {
	return nil, false, nil
}
func (failingKV) List(context.Context, string) (map[string][]byte, error) {
	return nil, nil
}

var assertErr = assertError("kv write failed")

type assertError string

func (e assertError) Error() string { return string(e) }
