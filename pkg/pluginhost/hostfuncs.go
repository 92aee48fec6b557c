package pluginhost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/astrid-sh/astrid-guard/pkg/action"
	"github.com/astrid-sh/astrid-guard/pkg/eventbus"
	"github.com/astrid-sh/astrid-guard/pkg/interceptor"
	"github.com/astrid-sh/astrid-guard/pkg/kvstore"
	"github.com/google/uuid"
)

// Static limits surfaced to the guest as errors rather than host panics.
const (
	MaxLogMessageLen   = 4096
	MaxKVValueLen      = 256 * 1024
	MaxHTTPBodyBytes   = 2 * 1024 * 1024
	MaxConnectorsPerID = 8
)

// InstanceState is the per-plugin-instance state a host call recovers
// before doing anything else (§4.8 step 1): plugin identity, the
// workspace root its file calls are confined to, and the set of
// connectors/subscriptions it has registered so far. Access is guarded by
// a plain mutex. Log recovers a panic into an error returned to the guest;
// the other host calls do not recover panics.
type InstanceState struct {
	mu            sync.Mutex
	PluginID      string
	SessionID     uuid.UUID
	WorkspaceRoot string
	connectors    map[string]string // connector_id -> platform
	kvNamespace   string
}

// NewInstanceState builds the per-instance state for one plugin invocation.
func NewInstanceState(pluginID string, sessionID uuid.UUID, workspaceRoot string) *InstanceState {
	return &InstanceState{
		PluginID:      pluginID,
		SessionID:     sessionID,
		WorkspaceRoot: workspaceRoot,
		connectors:    make(map[string]string),
		kvNamespace:   "plugin:" + pluginID,
	}
}

// HostFunctions implements the host side of every ABI call the guest can
// make, wiring each gated call through the interceptor before it takes
// effect.
type HostFunctions struct {
	Interceptor *interceptor.Interceptor
	KV          kvstore.Store
	Broker      *CredentialBroker
	Bus         *eventbus.Bus
	Config      map[string]string
	HTTPClient  *http.Client
	LogSink     func(pluginID, level, message string)
}

// NewHostFunctions wires a set of host functions for one plugin host
// around its security and storage collaborators.
func NewHostFunctions(in *interceptor.Interceptor, kv kvstore.Store, broker *CredentialBroker, bus *eventbus.Bus, config map[string]string) *HostFunctions {
	return &HostFunctions{
		Interceptor: in,
		KV:          kv,
		Broker:      broker,
		Bus:         bus,
		Config:      config,
		HTTPClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

func withRecover(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("pluginhost: host call panicked: %v", r)
	}
}

// Log writes a guest log line, truncated rather than rejected once it
// exceeds MaxLogMessageLen (the ABI table marks this call "size-limited",
// not gated).
func (h *HostFunctions) Log(state *InstanceState, level, message string) (err error) {
	defer withRecover(&err)
	state.mu.Lock()
	defer state.mu.Unlock()

	if len(message) > MaxLogMessageLen {
		message = message[:MaxLogMessageLen]
	}
	if h.LogSink != nil {
		h.LogSink(state.PluginID, level, message)
	}
	return nil
}

// GetConfig returns a single configuration value by key, ungated.
func (h *HostFunctions) GetConfig(state *InstanceState, key string) (string, error) {
	state.mu.Lock()
	defer state.mu.Unlock()
	return h.Config[key], nil
}

// KVGet reads a value the plugin previously stored, namespaced per plugin
// instance so one plugin can never read another's state.
func (h *HostFunctions) KVGet(ctx context.Context, state *InstanceState, key string) ([]byte, bool, error) {
	state.mu.Lock()
	ns := state.kvNamespace
	state.mu.Unlock()
	return h.KV.Get(ctx, ns, key)
}

// KVSet writes a plugin-scoped value, size-limited rather than gated.
func (h *HostFunctions) KVSet(ctx context.Context, state *InstanceState, key string, value []byte) error {
	if len(value) > MaxKVValueLen {
		return fmt.Errorf("pluginhost: kv_set value of %d bytes exceeds limit of %d", len(value), MaxKVValueLen)
	}
	state.mu.Lock()
	ns := state.kvNamespace
	state.mu.Unlock()
	return h.KV.Set(ctx, ns, key, value)
}

// ReadFile resolves path against the instance's workspace root, runs it
// through the interceptor's file-read check, and returns its contents.
func (h *HostFunctions) ReadFile(ctx context.Context, state *InstanceState, path string, read func(resolved string) ([]byte, error)) ([]byte, error) {
	resolved, err := h.resolveAndCheck(ctx, state, path, "read")
	if err != nil {
		return nil, err
	}
	return read(resolved)
}

// WriteFile resolves path against the instance's workspace root, runs it
// through the interceptor's file-write check, and writes content via the
// supplied writer.
func (h *HostFunctions) WriteFile(ctx context.Context, state *InstanceState, path string, content []byte, write func(resolved string, content []byte) error) error {
	resolved, err := h.resolveAndCheck(ctx, state, path, "write")
	if err != nil {
		return err
	}
	return write(resolved, content)
}

// resolveAndCheck is the shared path-resolution-then-interceptor-check
// sequence behind read_file and write_file: resolve the guest path to a
// physical absolute path (defeating symlink escape), then gate the
// corresponding permission through the interceptor.
func (h *HostFunctions) resolveAndCheck(ctx context.Context, state *InstanceState, path, mode string) (string, error) {
	state.mu.Lock()
	root := state.WorkspaceRoot
	sessionID := state.SessionID
	state.mu.Unlock()

	resolved, err := ResolvePhysicalAbsolute(root, path)
	if err != nil {
		return "", err
	}

	act := action.Action{Type: action.TypeCapsuleFileAccess, Path: resolved, Mode: mode, CapsuleID: state.PluginID}
	_, err = h.Interceptor.Intercept(ctx, act, "plugin_host:"+sessionID.String(), nil)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// httpRequestPayload is the decoded shape of an http_request call's raw
// JSON payload.
type httpRequestPayload struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// HTTPRequestJSON validates a guest's raw http_request payload against
// httpRequestSchema, then dispatches it through HTTPRequest.
func (h *HostFunctions) HTTPRequestJSON(ctx context.Context, state *InstanceState, raw []byte) (status int, respHeaders map[string]string, respBody []byte, err error) {
	if err := ValidateHTTPRequestPayload(raw); err != nil {
		return 0, nil, nil, err
	}
	var payload httpRequestPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, nil, nil, fmt.Errorf("pluginhost: decode http_request payload: %w", err)
	}
	return h.HTTPRequest(ctx, state, payload.Method, payload.URL, payload.Headers, []byte(payload.Body))
}

// HTTPRequest runs a guest-issued HTTP call through Interceptor.Intercept,
// as a capsule HTTP request action, before it leaves the host.
func (h *HostFunctions) HTTPRequest(ctx context.Context, state *InstanceState, method, url string, headers map[string]string, body []byte) (status int, respHeaders map[string]string, respBody []byte, err error) {
	if len(body) > MaxHTTPBodyBytes {
		return 0, nil, nil, fmt.Errorf("pluginhost: http_request body of %d bytes exceeds limit of %d", len(body), MaxHTTPBodyBytes)
	}

	state.mu.Lock()
	sessionID := state.SessionID
	pluginID := state.PluginID
	state.mu.Unlock()

	act := action.Action{Type: action.TypeCapsuleHttpRequest, URL: url, Method: method, CapsuleID: pluginID}
	if _, err := h.Interceptor.Intercept(ctx, act, "plugin_host:"+sessionID.String(), nil); err != nil {
		return 0, nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("pluginhost: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("pluginhost: http_request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	out := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		out[k] = resp.Header.Get(k)
	}

	limited := io.LimitReader(resp.Body, MaxHTTPBodyBytes)
	data, err := io.ReadAll(limited)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("pluginhost: read response body: %w", err)
	}

	return resp.StatusCode, out, data, nil
}

// registerConnectorPayload is the decoded shape of a register_connector
// call's raw JSON payload.
type registerConnectorPayload struct {
	Name     string `json:"name"`
	Platform string `json:"platform"`
	Profile  string `json:"profile"`
}

// RegisterConnectorJSON validates a guest's raw register_connector payload
// against registerConnectorSchema, then dispatches it through
// RegisterConnector.
func (h *HostFunctions) RegisterConnectorJSON(ctx context.Context, state *InstanceState, raw []byte) (string, error) {
	if err := ValidateRegisterConnectorPayload(raw); err != nil {
		return "", err
	}
	var payload registerConnectorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("pluginhost: decode register_connector payload: %w", err)
	}
	return h.RegisterConnector(ctx, state, payload.Name, payload.Platform, payload.Profile)
}

// RegisterConnector gates connector registration through the interceptor
// and enforces the per-plugin connector count limit before handing back a
// connector id.
func (h *HostFunctions) RegisterConnector(ctx context.Context, state *InstanceState, name, platform, profile string) (string, error) {
	state.mu.Lock()
	if len(state.connectors) >= MaxConnectorsPerID {
		state.mu.Unlock()
		return "", fmt.Errorf("pluginhost: plugin %s exceeded max connectors (%d)", state.PluginID, MaxConnectorsPerID)
	}
	sessionID := state.SessionID
	pluginID := state.PluginID
	state.mu.Unlock()

	act := action.Action{Type: action.TypeConnectorRegister, ConnectorName: name, ConnectorPlatform: platform, ConnectorProfile: profile}
	if _, err := h.Interceptor.Intercept(ctx, act, "plugin_host:"+sessionID.String(), nil); err != nil {
		return "", err
	}

	connectorID := fmt.Sprintf("conn-%s-%s", pluginID, uuid.New().String())
	state.mu.Lock()
	state.connectors[connectorID] = platform
	state.mu.Unlock()
	return connectorID, nil
}

// channelSendAck is the JSON acknowledgement returned to the guest from
// channel_send.
type channelSendAck struct {
	Delivered bool   `json:"delivered"`
	MessageID string `json:"message_id"`
}

// ChannelSend checks only that connectorID was registered by this plugin
// instance and returns an acknowledgement with a fresh message id and
// Delivered set to true. It does not check a capability token, does not
// call the interceptor, and does not transmit content to userID.
func (h *HostFunctions) ChannelSend(ctx context.Context, state *InstanceState, connectorID, userID, content string) ([]byte, error) {
	state.mu.Lock()
	_, registered := state.connectors[connectorID]
	pluginID := state.PluginID
	state.mu.Unlock()
	if !registered {
		return nil, fmt.Errorf("pluginhost: connector %s not registered for plugin %s", connectorID, pluginID)
	}

	ack := channelSendAck{Delivered: true, MessageID: uuid.New().String()}
	return json.Marshal(ack)
}

// IPCPublish fans payload out to every subscriber of topic, size-limited
// per eventbus.MaxPayloadBytes.
func (h *HostFunctions) IPCPublish(topic string, payload []byte) error {
	return h.Bus.Publish(topic, payload)
}

// IPCSubscribe opens a subscription for the plugin instance and returns the
// handle the guest uses to later unsubscribe.
func (h *HostFunctions) IPCSubscribe(state *InstanceState, topic string) (eventbus.Handle, <-chan []byte, error) {
	state.mu.Lock()
	pluginID := state.PluginID
	state.mu.Unlock()
	return h.Bus.Subscribe(pluginID, topic)
}

// IPCUnsubscribe closes a previously opened subscription.
func (h *HostFunctions) IPCUnsubscribe(state *InstanceState, handle eventbus.Handle) {
	state.mu.Lock()
	pluginID := state.PluginID
	state.mu.Unlock()
	h.Bus.Unsubscribe(pluginID, handle)
}
