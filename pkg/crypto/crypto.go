// Package crypto seals workspace integration secrets (OAuth tokens,
// calendar credentials) with AES-GCM. The key comes from ENCRYPTION_KEY and
// is padded/truncated to AES-256 length; values written before encryption
// was configured decrypt as-is.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"
)

// SecretBox is a symmetric sealer bound to one key. Constructing it per
// process (rather than a package-global key) keeps tests hermetic and lets
// the CLI run without any key configured.
type SecretBox struct {
	key []byte
}

// New derives an AES-256 key from the configured secret. An empty secret
// yields a pass-through box: Seal and Open return their input unchanged.
func New(secret string) *SecretBox {
	if secret == "" {
		return &SecretBox{}
	}
	key := make([]byte, 32)
	copy(key, []byte(secret))
	return &SecretBox{key: key}
}

// Seal encrypts plainText and returns it base64-encoded, nonce prepended.
func (b *SecretBox) Seal(plainText string) (string, error) {
	if len(b.key) == 0 {
		return plainText, nil
	}
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plainText), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Values that don't look sealed
// (not base64, or shorter than a nonce) come back unchanged, covering rows
// written before encryption was configured.
func (b *SecretBox) Open(cipherText string) (string, error) {
	if len(b.key) == 0 {
		return cipherText, nil
	}
	data, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return cipherText, nil
	}
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return cipherText, nil
	}
	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
