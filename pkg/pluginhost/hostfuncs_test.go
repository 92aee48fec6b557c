package pluginhost

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/astrid-sh/astrid-guard/pkg/allowance"
	"github.com/astrid-sh/astrid-guard/pkg/approval"
	"github.com/astrid-sh/astrid-guard/pkg/auditlog"
	"github.com/astrid-sh/astrid-guard/pkg/budget"
	"github.com/astrid-sh/astrid-guard/pkg/capability"
	"github.com/astrid-sh/astrid-guard/pkg/deferred"
	"github.com/astrid-sh/astrid-guard/pkg/eventbus"
	"github.com/astrid-sh/astrid-guard/pkg/guardcrypto"
	"github.com/astrid-sh/astrid-guard/pkg/interceptor"
	"github.com/astrid-sh/astrid-guard/pkg/kvstore"
	"github.com/astrid-sh/astrid-guard/pkg/policyengine"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type autoApprove struct{ decision approval.Decision }

func (h autoApprove) RequestApproval(_ context.Context, req approval.Request) (*approval.Response, error) {
	return &approval.Response{RequestID: req.ID, Decision: h.decision}, nil
}
func (h autoApprove) IsAvailable() bool { return true }

func newTestHostFunctions(t *testing.T) (*HostFunctions, *InstanceState, string) {
	t.Helper()
	kp, err := guardcrypto.GenerateKeyPair()
	require.NoError(t, err)
	signer := guardcrypto.NewSigner(kp)

	policy, err := policyengine.NewEngine()
	require.NoError(t, err)

	kv := kvstore.NewMemoryStore()
	capStore := capability.NewStore(kv, signer)
	audit := auditlog.NewLog(kv, signer, slog.Default())
	sessionBudget := budget.NewTracker(1000, 100)
	allowances := allowance.NewCache()
	mgr := approval.NewManager(allowances, deferred.NewQueue(kv), "sess-plugin-test")
	mgr.RegisterHandler(autoApprove{approval.Decision{Kind: approval.DecisionApprove}})

	var userID [8]byte
	copy(userID[:], signer.PublicKey())

	in := interceptor.New(policy, capStore, sessionBudget, nil, allowances, mgr, audit, uuid.New(), userID)

	broker := NewCredentialBroker(300)
	bus := eventbus.New()
	hf := NewHostFunctions(in, kv, broker, bus, map[string]string{"greeting": "hi"})

	workspace := t.TempDir()
	state := NewInstanceState("plugin-1", uuid.New(), workspace)
	return hf, state, workspace
}

func TestReadFile_SymlinkEscapeRejectedBeforeRead(t *testing.T) {
	hf, state, workspace := newTestHostFunctions(t)

	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("top secret"), 0o600))
	require.NoError(t, os.Symlink(secret, filepath.Join(workspace, "link")))

	called := false
	_, err := hf.ReadFile(context.Background(), state, "link", func(resolved string) ([]byte, error) {
		called = true
		return os.ReadFile(resolved)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes workspace boundary")
	assert.False(t, called, "read must not occur once containment check fails")
}

func TestWriteFile_WithinWorkspaceSucceeds(t *testing.T) {
	hf, state, workspace := newTestHostFunctions(t)

	err := hf.WriteFile(context.Background(), state, "out.txt", []byte("hello"), func(resolved string, content []byte) error {
		return os.WriteFile(resolved, content, 0o600)
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(workspace, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestKVSet_RejectsOversizedValue(t *testing.T) {
	hf, state, _ := newTestHostFunctions(t)

	err := hf.KVSet(context.Background(), state, "big", make([]byte, MaxKVValueLen+1))
	require.Error(t, err)
}

func TestKVRoundTrip_NamespacedPerPlugin(t *testing.T) {
	hf, state, _ := newTestHostFunctions(t)

	require.NoError(t, hf.KVSet(context.Background(), state, "k", []byte("v")))
	val, ok, err := hf.KVGet(context.Background(), state, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(val))
}

func TestRegisterConnector_EnforcesMaxConnectors(t *testing.T) {
	hf, state, _ := newTestHostFunctions(t)

	for i := 0; i < MaxConnectorsPerID; i++ {
		_, err := hf.RegisterConnector(context.Background(), state, "bot", "slack", "default")
		require.NoError(t, err)
	}
	_, err := hf.RegisterConnector(context.Background(), state, "bot", "slack", "default")
	require.Error(t, err)
}

func TestIPCPublishSubscribe_DeliversToHandle(t *testing.T) {
	hf, state, _ := newTestHostFunctions(t)

	handle, ch, err := hf.IPCSubscribe(state, "events")
	require.NoError(t, err)
	defer hf.IPCUnsubscribe(state, handle)

	require.NoError(t, hf.IPCPublish("events", []byte("ping")))
	select {
	case msg := <-ch:
		assert.Equal(t, "ping", string(msg))
	default:
		t.Fatal("expected message to be delivered synchronously via buffered channel")
	}
}

func TestLog_TruncatesOversizedMessage(t *testing.T) {
	hf, state, _ := newTestHostFunctions(t)

	var captured string
	hf.LogSink = func(pluginID, level, message string) { captured = message }

	huge := make([]byte, MaxLogMessageLen+100)
	for i := range huge {
		huge[i] = 'x'
	}
	require.NoError(t, hf.Log(state, "info", string(huge)))
	assert.Len(t, captured, MaxLogMessageLen)
}
