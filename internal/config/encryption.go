// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// EncryptedPrefix marks a config value as ciphertext produced by
// SecretEncryptor.Encrypt. Such values are decrypted while loading.
const EncryptedPrefix = "enc:"

const (
	secretEncryptionSalt = "channelmetrics-reporting-secrets"
	secretEncryptionInfo = "secret-encryption-v1"
	aesKeySize           = 32
	gcmNonceSize         = 12
)

var (
	ErrEmptyEncryptionKey = errors.New("encryption key cannot be empty")
	ErrEmptyPlaintext     = errors.New("plaintext cannot be empty")
	ErrDecryptionFailed   = errors.New("decryption failed: invalid ciphertext or authentication tag")
	ErrInvalidCiphertext  = errors.New("invalid ciphertext format")
)

// SecretEncryptor encrypts reporting credentials with AES-256-GCM. The key is
// derived from the configured encryption key with HKDF-SHA256.
type SecretEncryptor struct {
	aead cipher.AEAD
}

// NewSecretEncryptor derives the AES key from key.
func NewSecretEncryptor(key string) (*SecretEncryptor, error) {
	if key == "" {
		return nil, ErrEmptyEncryptionKey
	}

	derived := make([]byte, aesKeySize)
	r := hkdf.New(sha256.New, []byte(key), []byte(secretEncryptionSalt), []byte(secretEncryptionInfo))
	if _, err := io.ReadFull(r, derived); err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &SecretEncryptor{aead: aead}, nil
}

// Encrypt returns EncryptedPrefix + base64(nonce || ciphertext || tag).
func (e *SecretEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPlaintext
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. The prefix is optional.
func (e *SecretEncryptor) Decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if len(data) < gcmNonceSize+1+e.aead.Overhead() {
		return "", fmt.Errorf("%w: too short", ErrInvalidCiphertext)
	}
	plaintext, err := e.aead.Open(nil, data[:gcmNonceSize], data[gcmNonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether v carries EncryptedPrefix.
func IsEncrypted(v string) bool {
	return strings.HasPrefix(v, EncryptedPrefix)
}

// MaskSecret keeps the last four characters of a secret for logging.
func MaskSecret(secret string) string {
	switch {
	case secret == "":
		return ""
	case IsEncrypted(secret):
		return "<encrypted>"
	case len(secret) <= 4:
		return "****"
	default:
		return "****..." + secret[len(secret)-4:]
	}
}

// EncryptionKeyOrJWT returns the key used for encrypted values: the dedicated
// encryption key, or the JWT secret when none is set.
func (s *SecurityConfig) EncryptionKeyOrJWT() string {
	if s.EncryptionKey != "" {
		return s.EncryptionKey
	}
	return s.JWTSecret
}

// decryptSecrets replaces encrypted reporting credentials with plaintext.
func (c *Config) decryptSecrets() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"REPORTING_CLIENT_SECRET", &c.Reporting.ClientSecret},
		{"REPORTING_REFRESH_TOKEN", &c.Reporting.RefreshToken},
	}

	var enc *SecretEncryptor
	for _, f := range fields {
		if !IsEncrypted(*f.value) {
			continue
		}
		if enc == nil {
			var err error
			if enc, err = NewSecretEncryptor(c.Security.EncryptionKeyOrJWT()); err != nil {
				return fmt.Errorf("%s is encrypted but no ENCRYPTION_KEY or JWT_SECRET is set: %w", f.name, err)
			}
		}
		plain, err := enc.Decrypt(*f.value)
		if err != nil {
			return fmt.Errorf("failed to decrypt %s: %w", f.name, err)
		}
		*f.value = plain
	}
	return nil
}
