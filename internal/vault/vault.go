// Package vault encrypts workspace secrets (model provider keys, tokens
// agents need at runtime) with a passphrase-derived AES-256-GCM key and
// stores only ciphertext.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Cipher seals and opens secret values. The key is derived from the
// passphrase via Argon2id with a deterministic salt, so the same passphrase
// yields the same key across restarts.
type Cipher struct {
	key [32]byte
}

func NewCipher(passphrase string) *Cipher {
	salt := sha256.Sum256([]byte(passphrase))
	derived := argon2.IDKey([]byte(passphrase), salt[:16], 1, 64*1024, 4, 32)

	c := &Cipher{}
	copy(c.key[:], derived)
	return c
}

// Seal encrypts plaintext under a fresh random nonce.
func (c *Cipher) Seal(plaintext []byte) (ciphertext, nonce []byte, err error) {
	gcm, err := c.gcm()
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Open decrypts a sealed value. Fails on a wrong passphrase or tampered
// ciphertext.
func (c *Cipher) Open(ciphertext, nonce []byte) ([]byte, error) {
	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed value: %w", err)
	}
	return plaintext, nil
}

func (c *Cipher) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}
