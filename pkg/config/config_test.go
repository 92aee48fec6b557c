package config_test

import (
	"testing"

	"github.com/astrid-sh/astrid-guard/pkg/config"
	"github.com/stretchr/testify/assert"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
// Invariant: System must boot with safe defaults in dev mode.
func TestLoad_Defaults(t *testing.T) {
	// Ensure clean env
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SHADOW_MODE", "")
	t.Setenv("BUDGET_WORKSPACE_MAX_USD", "")

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Contains(t, cfg.DatabaseURL, "localhost") // Default is local
	assert.False(t, cfg.ShadowMode)
	assert.Equal(t, 5.0, cfg.SessionMaxUSD)
	assert.Equal(t, 1.0, cfg.PerActionMaxUSD)
	assert.False(t, cfg.HasWorkspaceMax)
	assert.True(t, cfg.RequireApprovalForDelete)
	assert.False(t, cfg.RequireApprovalForNetwork)
	assert.Equal(t, 3600, cfg.DefaultCapabilityTTLSecs)
	assert.Equal(t, 30, cfg.ClockSkewSecs)
	assert.False(t, cfg.AuditStrict)
	assert.Equal(t, 128_000, cfg.MaxContextTokens)
	assert.True(t, cfg.PluginRequireHash)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
// Invariant: Ops can control config via standard 12-factor env vars.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_URL", "postgres://production:5432/db")
	t.Setenv("SHADOW_MODE", "true")
	t.Setenv("BUDGET_SESSION_MAX_USD", "25.5")
	t.Setenv("BUDGET_WORKSPACE_MAX_USD", "100")
	t.Setenv("SECURITY_AUDIT_STRICT", "true")
	t.Setenv("PLUGINS_MAX_MEMORY_BYTES", "1048576")
	t.Setenv("SECURITY_POLICY_REQUIRE_APPROVAL_FOR_NETWORK", "true")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres://production:5432/db", cfg.DatabaseURL)
	assert.True(t, cfg.ShadowMode)
	assert.Equal(t, 25.5, cfg.SessionMaxUSD)
	assert.True(t, cfg.HasWorkspaceMax)
	assert.Equal(t, 100.0, cfg.WorkspaceMaxUSD)
	assert.True(t, cfg.AuditStrict)
	assert.EqualValues(t, 1048576, cfg.PluginMaxMemoryBytes)
	assert.True(t, cfg.RequireApprovalForNetwork)
}

// TestLoad_IgnoresUnparsableOverrides verifies malformed env values fall
// back to defaults rather than panicking or zeroing the field.
func TestLoad_IgnoresUnparsableOverrides(t *testing.T) {
	t.Setenv("BUDGET_SESSION_MAX_USD", "not-a-number")
	t.Setenv("SECURITY_AUDIT_STRICT", "maybe")

	cfg := config.Load()

	assert.Equal(t, 5.0, cfg.SessionMaxUSD)
	assert.False(t, cfg.AuditStrict)
}
