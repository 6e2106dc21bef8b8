package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cuemby/burrow/pkg/types"
)

// Codec serializes values for at-rest storage, optionally encrypting
// them with AES-256-GCM. A nil key disables encryption. The key is
// process state loaded once at engine open; it is never written to the
// WAL or version history.
type Codec struct {
	key []byte // 32 bytes for AES-256, or nil for plaintext
}

// New creates a codec. key must be nil (no encryption) or exactly 32
// bytes for AES-256-GCM.
func New(key []byte) (*Codec, error) {
	if key != nil && len(key) != 32 {
		return nil, fmt.Errorf("%w: key must be 32 bytes for AES-256, got %d", types.ErrEncryptionKey, len(key))
	}
	return &Codec{key: key}, nil
}

// Encrypted reports whether the codec encrypts payloads.
func (c *Codec) Encrypted() bool {
	return c.key != nil
}

// Encode marshals v as JSON and encrypts the result when a key is set.
func (c *Codec) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal: %w", err)
	}
	if c.key == nil {
		return data, nil
	}
	return c.encrypt(data)
}

// Decode decrypts data when a key is set and unmarshals it into v.
// A payload that cannot be decrypted surfaces ErrEncryptionKey: either
// the key is wrong or the file was written unencrypted.
func (c *Codec) Decode(data []byte, v any) error {
	if c.key != nil {
		plain, err := c.decrypt(data)
		if err != nil {
			return err
		}
		data = plain
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}
	return nil
}

// encrypt seals plaintext with AES-256-GCM, prepending the nonce.
func (c *Codec) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// decrypt opens a payload produced by encrypt.
func (c *Codec) decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", types.ErrEncryptionKey)
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEncryptionKey, err)
	}
	return plaintext, nil
}
