package integration

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrDecrypt indicates a stored credential blob could not be opened, either
// because the key changed or the blob was tampered with.
var ErrDecrypt = errors.New("credential blob cannot be decrypted")

type blobCipher struct {
	aead cipher.AEAD
}

// newBlobCipher builds the at-rest cipher for credential blobs. The key must
// be exactly 32 bytes.
func newBlobCipher(key []byte) (*blobCipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("credential encryption key: %w", err)
	}
	return &blobCipher{aead: aead}, nil
}

// seal encrypts plaintext into nonce||ciphertext.
func (c *blobCipher) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// open decrypts a blob produced by seal.
func (c *blobCipher) open(blob []byte) ([]byte, error) {
	if len(blob) < c.aead.NonceSize() {
		return nil, ErrDecrypt
	}
	nonce, ciphertext := blob[:c.aead.NonceSize()], blob[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
