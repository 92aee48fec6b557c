package guardcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// envelopeMagic tags a key file as passphrase-encrypted so loadKeyPair can
// tell it apart from the legacy raw-private-key format.
var envelopeMagic = [5]byte{'A', 'G', 'K', 'P', '1'}

const saltSize = 16

// sealPrivateKey encrypts raw Ed25519 private key bytes under a key derived
// from passphrase via HKDF-SHA256 with a fresh random salt, so a stolen key
// file is useless without the passphrase even if file permissions are
// bypassed.
func sealPrivateKey(passphrase string, priv []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("guardcrypto: generate salt: %w", err)
	}
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("guardcrypto: generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, priv, nil)

	out := make([]byte, 0, len(envelopeMagic)+len(salt)+len(nonce)+len(ciphertext))
	out = append(out, envelopeMagic[:]...)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// openPrivateKey reverses sealPrivateKey.
func openPrivateKey(passphrase string, sealed []byte) ([]byte, error) {
	if len(sealed) < len(envelopeMagic)+saltSize || [5]byte(sealed[:len(envelopeMagic)]) != envelopeMagic {
		return nil, errors.New("guardcrypto: not an encrypted key envelope")
	}
	rest := sealed[len(envelopeMagic):]
	salt, rest := rest[:saltSize], rest[saltSize:]

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return nil, errors.New("guardcrypto: truncated key envelope")
	}
	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]

	priv, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("guardcrypto: decrypt key envelope: %w", err)
	}
	return priv, nil
}

// isSealed reports whether raw looks like a passphrase-encrypted key file
// rather than the legacy bare private-key format.
func isSealed(raw []byte) bool {
	return len(raw) >= len(envelopeMagic) && [5]byte(raw[:len(envelopeMagic)]) == envelopeMagic
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	h := hkdf.New(sha256.New, []byte(passphrase), salt, []byte("astridguard-key-envelope"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("guardcrypto: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("guardcrypto: build cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
