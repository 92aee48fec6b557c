package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/astrid-sh/astrid-guard/pkg/allowance"
	"github.com/astrid-sh/astrid-guard/pkg/approval"
	"github.com/astrid-sh/astrid-guard/pkg/auditarchive"
	"github.com/astrid-sh/astrid-guard/pkg/auditlog"
	"github.com/astrid-sh/astrid-guard/pkg/budget"
	"github.com/astrid-sh/astrid-guard/pkg/capability"
	"github.com/astrid-sh/astrid-guard/pkg/config"
	"github.com/astrid-sh/astrid-guard/pkg/deferred"
	"github.com/astrid-sh/astrid-guard/pkg/eventbus"
	"github.com/astrid-sh/astrid-guard/pkg/guardcrypto"
	"github.com/astrid-sh/astrid-guard/pkg/interceptor"
	"github.com/astrid-sh/astrid-guard/pkg/kvstore"
	"github.com/astrid-sh/astrid-guard/pkg/observability"
	"github.com/astrid-sh/astrid-guard/pkg/pluginhost"
	"github.com/astrid-sh/astrid-guard/pkg/policyengine"
	"github.com/astrid-sh/astrid-guard/pkg/policyloader"
	"github.com/google/uuid"
)

// configApprovalBundle turns the operator-facing
// security.policy.require_approval_for_{delete,network,host_process}
// flags into a policy bundle the engine evaluates alongside its baseline
// rules. A category not enabled in cfg contributes no rule, leaving the
// capability/approval flow's own defaults in charge of it.
func configApprovalBundle(cfg *config.Config) *policyloader.PolicyBundle {
	bundle := &policyloader.PolicyBundle{Version: "1", Name: "config-derived"}

	add := func(id, name, expr string) {
		bundle.Rules = append(bundle.Rules, policyloader.PolicyRule{
			ID:         id,
			Name:       name,
			Expression: expr,
			Action:     "WARN",
			Priority:   100,
			Enabled:    true,
		})
	}

	if cfg.RequireApprovalForDelete {
		add("config-approve-delete", "require approval for file deletion", `action_type == "file_delete"`)
	}
	if cfg.RequireApprovalForNetwork {
		add("config-approve-network", "require approval for network access", `action_type == "network_request" || action_type == "capsule_http_request"`)
	}
	if cfg.RequireApprovalForHostProcess {
		add("config-approve-host-process", "require approval for host process execution", `action_type == "execute_command" || action_type == "capsule_execution"`)
	}
	return bundle
}

// loadRuntimeConfig reads the process environment once per command
// invocation. Split out so serve and verify see the same config surface.
func loadRuntimeConfig() *config.Config {
	return config.Load()
}

// openKVStore picks a kvstore backend from cfg.DatabaseURL's scheme. Every
// backend satisfies the same Get/Set/Delete/List surface, so the caller
// wires it into auditlog, capability, budget, and deferred without an
// adapter.
func openKVStore(cfg *config.Config) (kvstore.Store, func(), error) {
	noop := func() {}

	switch {
	case strings.HasPrefix(cfg.DatabaseURL, "postgres://"), strings.HasPrefix(cfg.DatabaseURL, "postgresql://"):
		store, err := kvstore.OpenPostgresStore(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	case strings.HasPrefix(cfg.DatabaseURL, "redis://"):
		store, err := kvstore.OpenRedisStore(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	case strings.HasPrefix(cfg.DatabaseURL, "sqlite://"), strings.HasSuffix(cfg.DatabaseURL, ".db"):
		path := strings.TrimPrefix(cfg.DatabaseURL, "sqlite://")
		store, err := kvstore.OpenSQLiteStore(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	case cfg.DatabaseURL == "memory://", cfg.DatabaseURL == "":
		return kvstore.NewMemoryStore(), noop, nil
	default:
		return nil, nil, fmt.Errorf("unrecognised DATABASE_URL scheme: %s", cfg.DatabaseURL)
	}
}

// runtimeCore bundles every collaborator the interceptor needs, assembled
// once at server startup. A fresh Interceptor is cut per session from
// these shared pieces (policy, capability store, audit log, allowance
// cache are process-wide; budget trackers and the approval manager are
// per-session).
type runtimeCore struct {
	cfg          *config.Config
	kv           kvstore.Store
	policy       *policyengine.Engine
	capabilities *capability.Store
	audit        *auditlog.Log
	allowances   *allowance.Cache
	bus          *eventbus.Bus
	broker       *pluginhost.CredentialBroker
	obs          *observability.Provider
	sealer       *auditarchive.Sealer // nil when archival is disabled
	closeKV      func()
}

func buildRuntimeCore(ctx context.Context, cfg *config.Config, keyPath string) (*runtimeCore, error) {
	kp, err := guardcrypto.LoadOrGenerateKeyPair(keyPath)
	if err != nil {
		return nil, fmt.Errorf("load key material: %w", err)
	}
	signer := guardcrypto.NewSigner(kp)

	kv, closeKV, err := openKVStore(cfg)
	if err != nil {
		return nil, err
	}

	policy, err := policyengine.NewEngine()
	if err != nil {
		closeKV()
		return nil, fmt.Errorf("build policy engine: %w", err)
	}
	if err := policy.LoadBundle(configApprovalBundle(cfg)); err != nil {
		closeKV()
		return nil, fmt.Errorf("load config-derived policy bundle: %w", err)
	}

	obs, err := observability.New(ctx, observability.DefaultConfig())
	if err != nil {
		closeKV()
		return nil, fmt.Errorf("init observability: %w", err)
	}

	audit := auditlog.NewLog(kv, signer, slog.Default())
	audit.StrictAudit = cfg.AuditStrict

	var sealer *auditarchive.Sealer
	if cfg.ArchiveBackend != "" {
		exporter, err := auditarchive.NewExporterFromConfig(ctx, cfg.ArchiveBackend, cfg.ArchiveBucket)
		if err != nil {
			closeKV()
			return nil, fmt.Errorf("build audit archive exporter: %w", err)
		}
		sealer = auditarchive.NewSealer(audit, exporter, cfg.ArchiveSegmentSize)
	}

	return &runtimeCore{
		cfg:          cfg,
		kv:           kv,
		policy:       policy,
		capabilities: capability.NewStore(kv, signer),
		audit:        audit,
		allowances:   allowance.NewCache(),
		bus:          eventbus.New(),
		broker:       pluginhost.NewCredentialBroker(cfg.PluginMaxExecutionSecs),
		obs:          obs,
		sealer:       sealer,
		closeKV:      closeKV,
	}, nil
}

// runArchiveLoop periodically seals completed audit segments until ctx is
// cancelled. A no-op when archival isn't configured.
func (rc *runtimeCore) runArchiveLoop(ctx context.Context) {
	if rc.sealer == nil {
		return
	}
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := rc.sealer.SealIfDue(ctx); err != nil {
				slog.Error("audit segment seal failed", "error", err)
			}
		}
	}
}

// newSessionInterceptor cuts a session-scoped Interceptor from the shared
// runtimeCore. workspaceID is empty when the session has no workspace
// budget cap configured.
func (rc *runtimeCore) newSessionInterceptor(ctx context.Context, sessionID uuid.UUID, userID [8]byte, workspaceID string) (*interceptor.Interceptor, error) {
	sessionBudget := budget.NewTracker(rc.cfg.SessionMaxUSD, rc.cfg.PerActionMaxUSD)

	var workspaceBudget *budget.WorkspaceTracker
	if rc.cfg.HasWorkspaceMax && workspaceID != "" {
		wb, err := budget.NewWorkspaceTracker(ctx, rc.kv, workspaceID, rc.cfg.WorkspaceMaxUSD)
		if err != nil {
			return nil, fmt.Errorf("build workspace budget: %w", err)
		}
		workspaceBudget = wb
	}

	deferredQueue := deferred.NewQueue(rc.kv)
	approvalMgr := approval.NewManager(rc.allowances, deferredQueue, sessionID.String())

	return interceptor.New(
		rc.policy,
		rc.capabilities,
		sessionBudget,
		workspaceBudget,
		rc.allowances,
		approvalMgr,
		rc.audit,
		sessionID,
		userID,
	), nil
}

// runServer boots the security core and blocks serving its health
// endpoint. The agent turn loop that would call into the interceptor per
// action is an external collaborator — this process exposes the
// enforcement primitives for that loop to call, it does not run one.
func runServer(stdout io.Writer) {
	ctx := context.Background()
	cfg := loadRuntimeConfig()

	rc, err := buildRuntimeCore(ctx, cfg, defaultKeyPath())
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer rc.closeKV()
	defer func() { _ = rc.obs.Shutdown(ctx) }()

	archiveCtx, cancelArchive := context.WithCancel(ctx)
	defer cancelArchive()
	go rc.runArchiveLoop(archiveCtx)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:         ":8081",
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	_, _ = fmt.Fprintf(stdout, "%sastridguard%s listening on :8081 (shadow_mode=%v, audit_strict=%v)\n",
		ColorBold+ColorGreen, ColorReset, cfg.ShadowMode, cfg.AuditStrict)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
