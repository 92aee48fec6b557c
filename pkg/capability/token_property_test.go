//go:build property
// +build property

package capability_test

import (
	"testing"
	"time"

	"github.com/astrid-sh/astrid-guard/pkg/capability"
	"github.com/astrid-sh/astrid-guard/pkg/guardcrypto"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, resource string) (*capability.Token, guardcrypto.Signer) {
	t.Helper()
	kp, err := guardcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	signer := guardcrypto.NewSigner(kp)
	now := time.Now()
	tok, err := capability.NewBuilder(capability.ResourcePattern(resource), capability.PermissionRead).
		WithTTL(time.Hour, now).
		Build(now, signer)
	if err != nil {
		t.Fatal(err)
	}
	return tok, signer
}

// TestTokenMutationInvalidatesSignature: appending any non-empty suffix to
// a token's resource pattern invalidates VerifySignature. Reordering the
// permissions list is covered by TestTokenPermissionReorderInvalidatesSignature.
func TestTokenMutationInvalidatesSignature(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("mutating the resource pattern invalidates the signature", prop.ForAll(
		func(suffix string) bool {
			tok, _ := signedToken(t, "mcp://filesystem:*")
			if !tok.VerifySignature() {
				return false
			}
			tok.Resource = capability.ResourcePattern("mcp://filesystem:*" + suffix)
			if suffix == "" {
				return tok.VerifySignature() // no mutation, still valid
			}
			return !tok.VerifySignature()
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestTokenPermissionReorderInvalidatesSignature is parameterised rather
// than property-based since there is nothing to vary beyond "swap the two
// elements" for a two-permission token.
func TestTokenPermissionReorderInvalidatesSignature(t *testing.T) {
	kp, err := guardcrypto.GenerateKeyPair()
	require.NoError(t, err)
	defer kp.Close()
	signer := guardcrypto.NewSigner(kp)

	tok, err := capability.NewBuilder(
		capability.ResourcePattern("mcp://filesystem:*"),
		capability.PermissionRead, capability.PermissionWrite,
	).Build(time.Now(), signer)
	require.NoError(t, err)
	require.True(t, tok.VerifySignature())

	tok.Permissions[0], tok.Permissions[1] = tok.Permissions[1], tok.Permissions[0]
	require.False(t, tok.VerifySignature())
}
