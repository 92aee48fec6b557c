// Package config loads the security core's runtime configuration from
// environment variables, following 12-factor conventions. The values
// here are consumed by callers assembling the interceptor's components
// (budget trackers, the policy engine, the plugin host) — config itself
// holds no behaviour over them.
package config

import (
	"os"
	"strconv"
)

// Config holds every recognised security and budget option, plus the
// ambient server settings (port, logging, storage) this core needs to
// boot. The LLM provider client is an external collaborator and has no
// config surface here.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string
	ShadowMode  bool

	// Budget
	SessionMaxUSD   float64
	PerActionMaxUSD float64
	WorkspaceMaxUSD float64 // meaningful only when HasWorkspaceMax
	HasWorkspaceMax bool

	// Policy
	RequireApprovalForDelete      bool
	RequireApprovalForNetwork     bool
	RequireApprovalForHostProcess bool

	// Capability
	DefaultCapabilityTTLSecs int
	ClockSkewSecs            int

	// Audit
	AuditStrict bool

	// Runtime
	MaxContextTokens int
	AutoSummarize    bool

	// Plugins
	PluginMaxMemoryBytes   int64
	PluginMaxExecutionSecs int
	PluginRequireHash      bool

	// Connector session signing (pkg/connector.Authenticator key material).
	ConnectorSigningKey string

	// Audit archival (pkg/auditarchive). Backend is "s3", "gcs", or ""
	// (archival disabled).
	ArchiveBackend     string
	ArchiveBucket      string
	ArchiveSegmentSize int
}

// Load populates a Config from environment variables, falling back to
// conservative defaults when a variable is unset or unparsable.
func Load() *Config {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "INFO"),
		DatabaseURL: getEnv("DATABASE_URL", "postgres://astridguard@localhost:5433/astridguard?sslmode=disable"),
		ShadowMode:  os.Getenv("SHADOW_MODE") == "true",

		SessionMaxUSD:   getFloat("BUDGET_SESSION_MAX_USD", 5.0),
		PerActionMaxUSD: getFloat("BUDGET_PER_ACTION_MAX_USD", 1.0),

		RequireApprovalForDelete:      getBool("SECURITY_POLICY_REQUIRE_APPROVAL_FOR_DELETE", true),
		RequireApprovalForNetwork:     getBool("SECURITY_POLICY_REQUIRE_APPROVAL_FOR_NETWORK", false),
		RequireApprovalForHostProcess: getBool("SECURITY_POLICY_REQUIRE_APPROVAL_FOR_HOST_PROCESS", true),

		DefaultCapabilityTTLSecs: getInt("SECURITY_CAPABILITY_DEFAULT_TTL_SECS", 3600),
		ClockSkewSecs:            getInt("SECURITY_CAPABILITY_CLOCK_SKEW_SECS", 30),

		AuditStrict: getBool("SECURITY_AUDIT_STRICT", false),

		MaxContextTokens: getInt("RUNTIME_MAX_CONTEXT_TOKENS", 128_000),
		AutoSummarize:    getBool("RUNTIME_AUTO_SUMMARIZE", true),

		PluginMaxMemoryBytes:   getInt64("PLUGINS_MAX_MEMORY_BYTES", 64*1024*1024),
		PluginMaxExecutionSecs: getInt("PLUGINS_MAX_EXECUTION_TIME_SECS", 10),
		PluginRequireHash:      getBool("PLUGINS_REQUIRE_HASH", true),

		ConnectorSigningKey: getEnv("CONNECTOR_SIGNING_KEY", ""),

		ArchiveBackend:     getEnv("AUDIT_ARCHIVE_BACKEND", ""),
		ArchiveBucket:      getEnv("AUDIT_ARCHIVE_BUCKET", ""),
		ArchiveSegmentSize: getInt("AUDIT_ARCHIVE_SEGMENT_SIZE", 1000),
	}

	if raw := os.Getenv("BUDGET_WORKSPACE_MAX_USD"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.WorkspaceMaxUSD = v
			cfg.HasWorkspaceMax = true
		}
	}

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func getInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func getInt64(key string, def int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return v
}

func getFloat(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}
