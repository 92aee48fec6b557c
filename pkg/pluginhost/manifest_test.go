package pluginhost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCompatibility_WithinRangeAccepted(t *testing.T) {
	m := PluginManifest{Name: "weather", Version: "1.2.0", HostVersionRange: ">= 1.0.0, < 2.0.0"}
	require.NoError(t, m.CheckCompatibility("1.5.0"))
}

func TestCheckCompatibility_OutOfRangeRejected(t *testing.T) {
	m := PluginManifest{Name: "weather", Version: "1.2.0", HostVersionRange: ">= 2.0.0"}
	err := m.CheckCompatibility("1.5.0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires host version")
}

func TestValidateHTTPRequestPayload_RejectsUnknownMethod(t *testing.T) {
	err := ValidateHTTPRequestPayload([]byte(`{"method":"TRACE","url":"https://example.com"}`))
	require.Error(t, err)
}

func TestValidateHTTPRequestPayload_AcceptsWellFormed(t *testing.T) {
	err := ValidateHTTPRequestPayload([]byte(`{"method":"GET","url":"https://example.com","headers":{"Accept":"application/json"}}`))
	require.NoError(t, err)
}

func TestValidateRegisterConnectorPayload_RequiresNameAndPlatform(t *testing.T) {
	err := ValidateRegisterConnectorPayload([]byte(`{"name":"bot"}`))
	require.Error(t, err)
}
