package export

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// EncryptedSink wraps another Sink with AES-256-GCM encryption at
// rest: envelopes are encrypted before Write and decrypted after Read,
// transparent to callers working with Export/Import.
type EncryptedSink struct {
	inner Sink
	key   []byte // 32 bytes, AES-256
}

// NewEncryptedSink wraps inner with AES-256-GCM using key, which must
// be exactly 32 bytes.
func NewEncryptedSink(inner Sink, key []byte) (*EncryptedSink, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encrypted sink: key must be 32 bytes, got %d", len(key))
	}
	return &EncryptedSink{inner: inner, key: key}, nil
}

func (s *EncryptedSink) Write(ctx context.Context, name string, data []byte) error {
	encrypted, err := s.encrypt(data)
	if err != nil {
		return fmt.Errorf("encrypt %q: %w", name, err)
	}
	return s.inner.Write(ctx, name, encrypted)
}

func (s *EncryptedSink) Read(ctx context.Context, name string) ([]byte, error) {
	encrypted, err := s.inner.Read(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.decrypt(encrypted)
}

func (s *EncryptedSink) encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *EncryptedSink) decrypt(ciphertext []byte) ([]byte, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("encrypted sink: ciphertext shorter than nonce")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

func (s *EncryptedSink) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
