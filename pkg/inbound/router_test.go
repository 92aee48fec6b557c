package inbound

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/astrid-sh/astrid-guard/pkg/auditlog"
	"github.com/astrid-sh/astrid-guard/pkg/connector"
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
	for k, v := range m.data {
		out[k] = v
	}
	_ = ns
	return out, nil
}

func testAudit(t *testing.T) *auditlog.Log {
	t.Helper()
	kp, err := guardcrypto.GenerateKeyPair()
	require.NoError(t, err)
	return auditlog.NewLog(newMemKV(), guardcrypto.NewSigner(kp), nil)
}

type fakeIdentities struct {
	known map[string][8]byte
}

func (f *fakeIdentities) Resolve(_ context.Context, connectorID, platformUser string) ([8]byte, bool) {
	id, ok := f.known[connectorID+":"+platformUser]
	return id, ok
}

type fakeSessions struct {
	byUser map[[8]byte]uuid.UUID
	err    error
}

func (f *fakeSessions) FindOrCreate(_ context.Context, userID [8]byte) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	if sid, ok := f.byUser[userID]; ok {
		return sid, nil
	}
	sid := uuid.New()
	f.byUser[userID] = sid
	return sid, nil
}

type recordingDispatcher struct {
	calls []string
	err   error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, sessionID uuid.UUID, userID [8]byte, content string) error {
	if d.err != nil {
		return d.err
	}
	d.calls = append(d.calls, fmt.Sprintf("%s:%x:%s", sessionID, userID, content))
	return nil
}

func gateWithPolicy(connectorID string) *connector.ZeroTrustGate {
	gate := connector.NewZeroTrustGate()
	gate.SetPolicy(&connector.TrustPolicy{
		ConnectorID: connectorID,
		TrustLevel:  connector.TrustLevelVerified,
	})
	return gate
}

func TestRouter_DispatchesKnownUser(t *testing.T) {
	ctx := context.Background()
	userID := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	identities := &fakeIdentities{known: map[string][8]byte{"slack:u1": userID}}
	sessions := &fakeSessions{byUser: make(map[[8]byte]uuid.UUID)}
	dispatcher := &recordingDispatcher{}
	audit := testAudit(t)

	r := New(gateWithPolicy("slack"), identities, sessions, dispatcher, audit)

	err := r.Handle(ctx, Message{ConnectorID: "slack", PlatformUser: "u1", Content: "hello"})
	require.NoError(t, err)
	require.Len(t, dispatcher.calls, 1)
	assert.Contains(t, dispatcher.calls[0], "hello")

	entries, err := audit.Query(ctx, auditlog.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, auditlog.ActionSessionStarted, entries[0].Action.Type)
}

func TestRouter_DropsUnknownUser(t *testing.T) {
	ctx := context.Background()
	identities := &fakeIdentities{known: map[string][8]byte{}}
	sessions := &fakeSessions{byUser: make(map[[8]byte]uuid.UUID)}
	dispatcher := &recordingDispatcher{}
	audit := testAudit(t)

	r := New(gateWithPolicy("slack"), identities, sessions, dispatcher, audit)

	err := r.Handle(ctx, Message{ConnectorID: "slack", PlatformUser: "ghost", Content: "hi"})
	require.NoError(t, err)
	assert.Empty(t, dispatcher.calls)

	entries, err := audit.Query(ctx, auditlog.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, auditlog.ActionSecurityViolation, entries[0].Action.Type)
	assert.Equal(t, "failure", entries[0].Outcome.Status)
}

func TestRouter_DropsWhenConnectorHasNoTrustPolicy(t *testing.T) {
	ctx := context.Background()
	userID := [8]byte{1}
	identities := &fakeIdentities{known: map[string][8]byte{"slack:u1": userID}}
	sessions := &fakeSessions{byUser: make(map[[8]byte]uuid.UUID)}
	dispatcher := &recordingDispatcher{}
	audit := testAudit(t)

	// No policy registered for "slack" on this gate.
	r := New(connector.NewZeroTrustGate(), identities, sessions, dispatcher, audit)

	err := r.Handle(ctx, Message{ConnectorID: "slack", PlatformUser: "u1", Content: "hi"})
	require.NoError(t, err)
	assert.Empty(t, dispatcher.calls)
}

func TestRouter_DropsOnBearerAuthMismatch(t *testing.T) {
	ctx := context.Background()
	userID := [8]byte{1}
	identities := &fakeIdentities{known: map[string][8]byte{"slack:u1": userID}}
	sessions := &fakeSessions{byUser: make(map[[8]byte]uuid.UUID)}
	dispatcher := &recordingDispatcher{}
	audit := testAudit(t)
	auth := connector.NewAuthenticator([]byte("k"))

	r := New(gateWithPolicy("slack"), identities, sessions, dispatcher, audit, WithBearerAuth(auth))

	// Token issued for a different connector id than the message claims.
	token, err := auth.IssueToken("teams", "u1", time.Minute)
	require.NoError(t, err)

	err = r.Handle(ctx, Message{ConnectorID: "slack", PlatformUser: "u1", Content: "hi", BearerToken: token})
	require.NoError(t, err)
	assert.Empty(t, dispatcher.calls)
}

func TestRouter_DropsOnDispatchError(t *testing.T) {
	ctx := context.Background()
	userID := [8]byte{1}
	identities := &fakeIdentities{known: map[string][8]byte{"slack:u1": userID}}
	sessions := &fakeSessions{byUser: make(map[[8]byte]uuid.UUID)}
	dispatcher := &recordingDispatcher{err: fmt.Errorf("runtime unavailable")}
	audit := testAudit(t)

	r := New(gateWithPolicy("slack"), identities, sessions, dispatcher, audit)

	err := r.Handle(ctx, Message{ConnectorID: "slack", PlatformUser: "u1", Content: "hi"})
	require.NoError(t, err)

	entries, err := audit.Query(ctx, auditlog.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, auditlog.ActionSecurityViolation, entries[0].Action.Type)
}
