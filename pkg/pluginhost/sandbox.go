// Package pluginhost hosts short-lived WASM guest plugins behind a
// deny-by-default wazero sandbox and a fixed host function ABI, every
// gated call routed through pkg/interceptor.
package pluginhost

import (
	"context"
	"time"
)

// SandboxConfig bounds a single plugin instance's resource envelope.
type SandboxConfig struct {
	MemoryLimitBytes int64
	CPUTimeLimit     time.Duration
}

// Sandbox runs one compiled WASM module to completion against bounded
// memory and CPU time, with no ambient filesystem, network, or environment
// access. The guest exchanges data with the host over stdin and stdout;
// HostFunctions are Go methods the host calls and are not imported by the
// guest module.
type Sandbox interface {
	// Run executes wasmBytes with input delivered over stdin, returning
	// whatever the module wrote to stdout.
	Run(ctx context.Context, wasmBytes []byte, input []byte) ([]byte, error)
	Close() error
}
