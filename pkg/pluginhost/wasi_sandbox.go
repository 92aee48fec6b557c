package pluginhost

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// WASISandbox implements Sandbox using wazero, a pure-Go WebAssembly
// runtime. Deny-by-default: no filesystem, no network, no ambient
// authority. Only the WASI preview1 module is instantiated; the
// HostFunctions methods are not registered as module imports, so a guest
// reaches the host only through WASI stdin/stdout/stderr.
//
// Security properties:
//   - Memory bounded to a configured ceiling (in 64KB pages)
//   - CPU time bounded by context deadline
//   - No host filesystem or network access granted to the guest directly
//   - No environment variables leaked into the guest
type WASISandbox struct {
	runtime wazero.Runtime
	config  wazero.ModuleConfig
	limits  SandboxConfig
}

// NewWASISandbox creates a WASI-based sandbox with deny-by-default
// capabilities and the given resource ceiling.
func NewWASISandbox(ctx context.Context, cfg SandboxConfig) (*WASISandbox, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitBytes > 0 {
		pages := uint32(cfg.MemoryLimitBytes / (64 * 1024))
		if pages == 0 {
			pages = 1
		}
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(pages)
	}

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	// Only stdin/stdout/stderr are wired (in Run). Explicitly no WithFSConfig (no
	// filesystem), no WithSysNanotime (no high-res timer), no
	// WithRandSource (no crypto randomness) and no env passthrough.
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	modCfg := wazero.NewModuleConfig().
		WithName("astrid-guard-plugin").
		WithStartFunctions("_start")

	return &WASISandbox{runtime: r, config: modCfg, limits: cfg}, nil
}

// Run compiles and executes wasmBytes with input delivered over stdin,
// returning whatever the module wrote to stdout. Bounded by the sandbox's
// CPU time limit via context deadline.
func (s *WASISandbox) Run(ctx context.Context, wasmBytes []byte, input []byte) ([]byte, error) {
	if s.limits.CPUTimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.limits.CPUTimeLimit)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	modCfg := s.config.
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	compiled, err := s.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("pluginhost: compilation failed: %w", err)
	}
	defer func() { _ = compiled.Close(ctx) }()

	mod, err := s.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("pluginhost: execution timed out after %v", s.limits.CPUTimeLimit)
		}
		return nil, fmt.Errorf("pluginhost: instantiation failed: %w", err)
	}
	defer func() { _ = mod.Close(ctx) }()

	if stderr.Len() > 0 {
		return stdout.Bytes(), fmt.Errorf("pluginhost: stderr output: %s", stderr.String())
	}

	return stdout.Bytes(), nil
}

// Close shuts down the wazero runtime, freeing all resources.
func (s *WASISandbox) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.runtime.Close(ctx)
}
