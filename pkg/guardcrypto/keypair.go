// Package guardcrypto provides the cryptographic primitives shared by every
// security-sensitive component: the runtime's Ed25519 signing identity
// and BLAKE3 content addressing. Canonical JSON encoding is not part of
// this package.
package guardcrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
)

// keyPassphraseEnv, when set, makes LoadOrGenerateKeyPair encrypt the
// on-disk private key under a passphrase-derived key instead of writing
// it in the clear. Filesystem permissions (0600) are the only protection
// otherwise; this is for deployments where the key file might be backed
// up or synced somewhere those permissions don't travel with it.
const keyPassphraseEnv = "ASTRIDGUARD_KEY_PASSPHRASE"

// ErrSymlinkRefused is returned when a key material path resolves through a
// symlink. Key files are never followed through links: an attacker who can
// plant a symlink at the expected key path could otherwise redirect key
// loading to arbitrary content.
var ErrSymlinkRefused = errors.New("guardcrypto: refusing to load key material through a symlink")

// KeyPair holds an Ed25519 identity used to sign capability tokens and audit
// entries. The private half is held only in memory and zeroized on Close.
type KeyPair struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh random Ed25519 identity.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("guardcrypto: generate key: %w", err)
	}
	return &KeyPair{public: pub, private: priv}, nil
}

// LoadOrGenerateKeyPair loads an Ed25519 private key from path, generating
// and persisting a new one if the file does not yet exist. The file is
// created with O_CREAT|O_EXCL so two concurrent first-runs cannot race each
// other into truncating a freshly written key, and with mode 0600 so the
// private key is never world or group readable.
func LoadOrGenerateKeyPair(path string) (*KeyPair, error) {
	if kp, err := loadKeyPair(path); err == nil {
		return kp, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			// Lost the race with a concurrent first-run; load what it wrote.
			return loadKeyPair(path)
		}
		return nil, fmt.Errorf("guardcrypto: create key file: %w", err)
	}
	defer func() { _ = f.Close() }()

	out := []byte(kp.private)
	if passphrase := os.Getenv(keyPassphraseEnv); passphrase != "" {
		sealed, err := sealPrivateKey(passphrase, out)
		if err != nil {
			return nil, err
		}
		out = sealed
	}
	if _, err := f.Write(out); err != nil {
		return nil, fmt.Errorf("guardcrypto: write key file: %w", err)
	}
	return kp, nil
}

func loadKeyPair(path string) (*KeyPair, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, ErrSymlinkRefused
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("guardcrypto: read key file: %w", err)
	}

	if isSealed(raw) {
		passphrase := os.Getenv(keyPassphraseEnv)
		if passphrase == "" {
			return nil, fmt.Errorf("guardcrypto: key file is encrypted but %s is not set", keyPassphraseEnv)
		}
		raw, err = openPrivateKey(passphrase, raw)
		if err != nil {
			return nil, err
		}
	}

	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("guardcrypto: key file has unexpected length %d", len(raw))
	}

	priv := ed25519.PrivateKey(raw)
	return &KeyPair{public: priv.Public().(ed25519.PublicKey), private: priv}, nil
}

// PublicKey returns the public half of the identity.
func (k *KeyPair) PublicKey() ed25519.PublicKey {
	return k.public
}

// Sign signs data with the private key.
func (k *KeyPair) Sign(data []byte) []byte {
	return ed25519.Sign(k.private, data)
}

// Close zeroizes the in-memory private key material. Callers should defer
// this immediately after a successful load.
func (k *KeyPair) Close() {
	for i := range k.private {
		k.private[i] = 0
	}
}

// VerifyWith checks a signature against an explicit public key, used when
// verifying entries signed by a different runtime identity than our own
// (e.g. validating an older segment of the audit chain after key rotation).
func VerifyWith(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// ParsePublicKey validates that b is a well-formed Ed25519 public key.
func ParsePublicKey(b []byte) (ed25519.PublicKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("guardcrypto: invalid public key length %d", len(b))
	}
	out := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(out, b)
	return out, nil
}
