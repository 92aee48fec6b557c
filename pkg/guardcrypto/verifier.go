package guardcrypto

import "crypto/ed25519"

// Verify checks a detached signature against an explicit public key and the
// exact signing payload the caller reconstructed.
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}
