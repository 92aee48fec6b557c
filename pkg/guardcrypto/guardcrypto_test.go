package guardcrypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPair_SignVerifyRoundtrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	defer kp.Close()

	data := []byte("intercept:mcp_tool_call:fs.read")
	sig := kp.Sign(data)

	assert.True(t, Verify(kp.PublicKey(), data, sig))
	assert.False(t, Verify(kp.PublicKey(), []byte("tampered"), sig))
}

func TestLoadOrGenerateKeyPair_PersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.key")

	kp1, err := LoadOrGenerateKeyPair(path)
	require.NoError(t, err)
	defer kp1.Close()

	kp2, err := LoadOrGenerateKeyPair(path)
	require.NoError(t, err)
	defer kp2.Close()

	assert.Equal(t, kp1.PublicKey(), kp2.PublicKey())
}

func TestLoadOrGenerateKeyPair_RefusesSymlink(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real.key")
	link := filepath.Join(dir, "link.key")

	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	defer kp.Close()
	require.NoError(t, os.WriteFile(real, kp.private, 0o600))
	require.NoError(t, os.Symlink(real, link))

	_, err = LoadOrGenerateKeyPair(link)
	assert.ErrorIs(t, err, ErrSymlinkRefused)
}

func TestLoadOrGenerateKeyPair_EncryptsWhenPassphraseSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.key")

	t.Setenv(keyPassphraseEnv, "correct horse battery staple")

	kp1, err := LoadOrGenerateKeyPair(path)
	require.NoError(t, err)
	defer kp1.Close()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, isSealed(raw))

	kp2, err := LoadOrGenerateKeyPair(path)
	require.NoError(t, err)
	defer kp2.Close()
	assert.Equal(t, kp1.PublicKey(), kp2.PublicKey())
}

func TestLoadOrGenerateKeyPair_WrongPassphraseFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.key")

	t.Setenv(keyPassphraseEnv, "correct horse battery staple")
	kp, err := LoadOrGenerateKeyPair(path)
	require.NoError(t, err)
	kp.Close()

	t.Setenv(keyPassphraseEnv, "wrong passphrase")
	_, err = LoadOrGenerateKeyPair(path)
	assert.Error(t, err)
}

func TestLoadOrGenerateKeyPair_EncryptedFileWithoutPassphraseFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.key")

	t.Setenv(keyPassphraseEnv, "correct horse battery staple")
	kp, err := LoadOrGenerateKeyPair(path)
	require.NoError(t, err)
	kp.Close()

	t.Setenv(keyPassphraseEnv, "")
	_, err = LoadOrGenerateKeyPair(path)
	assert.Error(t, err)
}

func TestHashBytes_DeterministicAndSensitive(t *testing.T) {
	a := HashBytes([]byte("hello"))
	b := HashBytes([]byte("hello"))
	c := HashBytes([]byte("hello!"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.False(t, a.IsZero())
	assert.True(t, ContentHash{}.IsZero())
}

func TestParseContentHash_Roundtrip(t *testing.T) {
	h := HashBytes([]byte("payload"))
	parsed, err := ParseContentHash(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = ParseContentHash("not-hex")
	assert.Error(t, err)
}
