// Package vaultcrypto implements the CryptoProvider port with two keys: the
// legacy AES-256-GCM key the vault was originally written with, and the
// enterprise XChaCha20-Poly1305 key secrets are being migrated to.
package vaultcrypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/ericfisherdev/fleetvault/internal/domain/model"
	"github.com/ericfisherdev/fleetvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CryptoProvider = (*Keyring)(nil)

// KeySize is the required length of both keys in bytes.
const KeySize = 32

const (
	envelopePrefix    = "fv1."
	envelopeVersion   = 1
	envelopeAlgorithm = "xchacha20poly1305"
)

// envelope is the enterprise ciphertext format. The key id travels with the
// ciphertext and is bound into the AEAD as associated data.
type envelope struct {
	Version   int    `json:"v"`
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid"`
	Nonce     string `json:"nonce"`
	Data      string `json:"ct"`
}

// Keyring holds the AEADs for both key references.
type Keyring struct {
	legacy          cipher.AEAD
	enterprise      cipher.AEAD
	enterpriseKeyID string
}

// NewKeyring builds a Keyring from raw 32-byte keys. enterpriseKeyID may be
// empty, in which case the key's fingerprint is used.
func NewKeyring(legacyKey, enterpriseKey []byte, enterpriseKeyID string) (*Keyring, error) {
	if len(legacyKey) != KeySize {
		return nil, fmt.Errorf("legacy key must be %d bytes, got %d", KeySize, len(legacyKey))
	}
	if len(enterpriseKey) != KeySize {
		return nil, fmt.Errorf("enterprise key must be %d bytes, got %d", KeySize, len(enterpriseKey))
	}

	block, err := aes.NewCipher(legacyKey)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	legacy, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}

	enterprise, err := chacha20poly1305.NewX(enterpriseKey)
	if err != nil {
		return nil, fmt.Errorf("chacha20poly1305.NewX: %w", err)
	}

	if enterpriseKeyID == "" {
		enterpriseKeyID = Fingerprint(enterpriseKey)
	}

	return &Keyring{
		legacy:          legacy,
		enterprise:      enterprise,
		enterpriseKeyID: enterpriseKeyID,
	}, nil
}

// EnterpriseKeyID returns the key id written into enterprise envelopes.
func (k *Keyring) EnterpriseKeyID() string {
	return k.enterpriseKeyID
}

// Fingerprint derives a short, non-reversible identifier for a key.
func Fingerprint(key []byte) string {
	sum := blake3.Sum256(key)
	return "blake3:" + hex.EncodeToString(sum[:8])
}

// Encrypt seals plaintext under the referenced key.
func (k *Keyring) Encrypt(_ context.Context, plaintext []byte, key model.KeyRef) (string, error) {
	switch key {
	case model.KeyLegacy:
		return k.sealLegacy(plaintext)
	case model.KeyEnterprise:
		return k.sealEnterprise(plaintext)
	default:
		return "", fmt.Errorf("%w: unknown key %q", driven.ErrCrypto, key)
	}
}

// Decrypt opens ciphertext under the referenced key. Every failure wraps
// driven.ErrCrypto.
func (k *Keyring) Decrypt(_ context.Context, ciphertext string, key model.KeyRef) ([]byte, error) {
	switch key {
	case model.KeyLegacy:
		return k.openLegacy(ciphertext)
	case model.KeyEnterprise:
		return k.openEnterprise(ciphertext)
	default:
		return nil, fmt.Errorf("%w: unknown key %q", driven.ErrCrypto, key)
	}
}

// sealLegacy produces base64(nonce || ciphertext || tag), the format the
// vault has always stored.
func (k *Keyring) sealLegacy(plaintext []byte) (string, error) {
	nonce := make([]byte, k.legacy.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: rand nonce: %v", driven.ErrCrypto, err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	sealed := k.legacy.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (k *Keyring) openLegacy(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode: %v", driven.ErrCrypto, err)
	}

	nonceSize := k.legacy.NonceSize()
	if len(data) < nonceSize+k.legacy.Overhead() {
		return nil, fmt.Errorf("%w: legacy ciphertext too short", driven.ErrCrypto)
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := k.legacy.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: gcm.Open: %v", driven.ErrCrypto, err)
	}
	return plaintext, nil
}

func (k *Keyring) sealEnterprise(plaintext []byte) (string, error) {
	nonce := make([]byte, k.enterprise.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: rand nonce: %v", driven.ErrCrypto, err)
	}

	sealed := k.enterprise.Seal(nil, nonce, plaintext, []byte(k.enterpriseKeyID))

	payload, err := json.Marshal(envelope{
		Version:   envelopeVersion,
		Algorithm: envelopeAlgorithm,
		KeyID:     k.enterpriseKeyID,
		Nonce:     base64.RawURLEncoding.EncodeToString(nonce),
		Data:      base64.RawURLEncoding.EncodeToString(sealed),
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal envelope: %v", driven.ErrCrypto, err)
	}

	return envelopePrefix + base64.RawURLEncoding.EncodeToString(payload), nil
}

func (k *Keyring) openEnterprise(encoded string) ([]byte, error) {
	env, err := decodeEnvelope(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", driven.ErrCrypto, err)
	}

	if env.KeyID != k.enterpriseKeyID {
		return nil, fmt.Errorf("%w: envelope key %q does not match enterprise key %q", driven.ErrCrypto, env.KeyID, k.enterpriseKeyID)
	}

	nonce, err := base64.RawURLEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonce) != k.enterprise.NonceSize() {
		return nil, fmt.Errorf("%w: invalid envelope nonce", driven.ErrCrypto)
	}
	sealed, err := base64.RawURLEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid envelope data", driven.ErrCrypto)
	}

	plaintext, err := k.enterprise.Open(nil, nonce, sealed, []byte(env.KeyID))
	if err != nil {
		return nil, fmt.Errorf("%w: xchacha20poly1305 open: %v", driven.ErrCrypto, err)
	}
	return plaintext, nil
}

func decodeEnvelope(encoded string) (envelope, error) {
	raw, ok := strings.CutPrefix(encoded, envelopePrefix)
	if !ok {
		return envelope{}, errors.New("missing enterprise envelope prefix")
	}

	payload, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return envelope{}, fmt.Errorf("decode envelope: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Version != envelopeVersion || env.Algorithm != envelopeAlgorithm {
		return envelope{}, fmt.Errorf("unsupported envelope v=%d alg=%q", env.Version, env.Algorithm)
	}
	return env, nil
}
