package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/astrid-sh/astrid-guard/pkg/guardcrypto"
)

// runInitCmd loads or generates the runtime's Ed25519 identity at
// ~/.astrid/keys/user.key. The key file is atomically created with
// owner-only permissions and the load path refuses symbolic links.
func runInitCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("init", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var keyPath string
	cmd.StringVar(&keyPath, "key-path", defaultKeyPath(), "Path to the runtime Ed25519 key file")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: create key directory: %v\n", err)
		return 2
	}

	kp, err := guardcrypto.LoadOrGenerateKeyPair(keyPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer kp.Close()

	_, _ = fmt.Fprintf(stdout, "%sRuntime key ready%s\n", ColorBold+ColorGreen, ColorReset)
	_, _ = fmt.Fprintf(stdout, "  Path:       %s\n", keyPath)
	_, _ = fmt.Fprintf(stdout, "  Public key: %x\n", kp.PublicKey())
	return 0
}

func defaultKeyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".astrid", "keys", "user.key")
}
