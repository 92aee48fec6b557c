//go:build property
// +build property

package guardcrypto_test

import (
	"testing"

	"github.com/astrid-sh/astrid-guard/pkg/guardcrypto"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestSignVerifyRoundTrip: for all messages m and keypairs k,
// verify(m, sign(m, k), public(k)) == true.
func TestSignVerifyRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("a signature verifies under its own signer's public key", prop.ForAll(
		func(msg string) bool {
			kp, err := guardcrypto.GenerateKeyPair()
			if err != nil {
				return false
			}
			defer kp.Close()

			sig := kp.Sign([]byte(msg))
			return guardcrypto.Verify(kp.PublicKey(), []byte(msg), sig)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestSignVerifyRejectsWrongKey: for all keypairs k1 != k2,
// verify(m, sign(m, k1), public(k2)) != true.
func TestSignVerifyRejectsWrongKey(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("a signature never verifies under a different signer's public key", prop.ForAll(
		func(msg string) bool {
			kp1, err := guardcrypto.GenerateKeyPair()
			if err != nil {
				return false
			}
			defer kp1.Close()
			kp2, err := guardcrypto.GenerateKeyPair()
			if err != nil {
				return false
			}
			defer kp2.Close()

			sig := kp1.Sign([]byte(msg))
			return !guardcrypto.Verify(kp2.PublicKey(), []byte(msg), sig)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
