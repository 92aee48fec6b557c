package guardcrypto

import "crypto/ed25519"

// Signer produces Ed25519 signatures over caller-assembled signing payloads.
// CapabilityToken and AuditEntry each build their own bit-exact byte layout
// and pass it here rather than letting this package decide how to encode
// them — the wire format is part of the security contract, not a
// convenience of the signing library.
type Signer interface {
	Sign(data []byte) []byte
	PublicKey() ed25519.PublicKey
}

// signerFromKeyPair adapts *KeyPair to the Signer interface.
type signerFromKeyPair struct{ kp *KeyPair }

// NewSigner wraps a KeyPair as a Signer.
func NewSigner(kp *KeyPair) Signer {
	return signerFromKeyPair{kp: kp}
}

func (s signerFromKeyPair) Sign(data []byte) []byte     { return s.kp.Sign(data) }
func (s signerFromKeyPair) PublicKey() ed25519.PublicKey { return s.kp.PublicKey() }
