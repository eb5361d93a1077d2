package vaultcrypto

import (
	"bytes"
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/fleetvault/internal/domain/model"
	"github.com/ericfisherdev/fleetvault/internal/domain/port/driven"
)

var (
	legacyKey     = bytes.Repeat([]byte{0x11}, KeySize)
	enterpriseKey = bytes.Repeat([]byte{0x22}, KeySize)
	otherKey      = bytes.Repeat([]byte{0x33}, KeySize)
)

func newTestKeyring(t *testing.T) *Keyring {
	t.Helper()
	k, err := NewKeyring(legacyKey, enterpriseKey, "")
	require.NoError(t, err)
	return k
}

func TestKeyring_RoundTripBothKeys(t *testing.T) {
	k := newTestKeyring(t)
	ctx := context.Background()

	for _, ref := range []model.KeyRef{model.KeyLegacy, model.KeyEnterprise} {
		t.Run(string(ref), func(t *testing.T) {
			ct, err := k.Encrypt(ctx, []byte("Password1!"), ref)
			require.NoError(t, err)
			assert.NotContains(t, ct, "Password1!")

			pt, err := k.Decrypt(ctx, ct, ref)
			require.NoError(t, err)
			assert.Equal(t, "Password1!", string(pt))
		})
	}
}

func TestKeyring_EnterpriseFormat(t *testing.T) {
	k := newTestKeyring(t)

	ct, err := k.Encrypt(context.Background(), []byte("secret"), model.KeyEnterprise)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ct, "fv1."))

	env, err := decodeEnvelope(ct)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Version)
	assert.Equal(t, "xchacha20poly1305", env.Algorithm)
	assert.Equal(t, Fingerprint(enterpriseKey), env.KeyID)
}

func TestKeyring_CrossKeyDecryptFails(t *testing.T) {
	k := newTestKeyring(t)
	ctx := context.Background()

	legacyCT, err := k.Encrypt(ctx, []byte("secret"), model.KeyLegacy)
	require.NoError(t, err)
	_, err = k.Decrypt(ctx, legacyCT, model.KeyEnterprise)
	assert.ErrorIs(t, err, driven.ErrCrypto)

	enterpriseCT, err := k.Encrypt(ctx, []byte("secret"), model.KeyEnterprise)
	require.NoError(t, err)
	_, err = k.Decrypt(ctx, enterpriseCT, model.KeyLegacy)
	assert.ErrorIs(t, err, driven.ErrCrypto)
}

func TestKeyring_WrongKeyFails(t *testing.T) {
	ctx := context.Background()
	k := newTestKeyring(t)
	other, err := NewKeyring(otherKey, otherKey, "")
	require.NoError(t, err)

	legacyCT, err := k.Encrypt(ctx, []byte("secret"), model.KeyLegacy)
	require.NoError(t, err)
	_, err = other.Decrypt(ctx, legacyCT, model.KeyLegacy)
	assert.ErrorIs(t, err, driven.ErrCrypto)

	enterpriseCT, err := k.Encrypt(ctx, []byte("secret"), model.KeyEnterprise)
	require.NoError(t, err)
	_, err = other.Decrypt(ctx, enterpriseCT, model.KeyEnterprise)
	assert.ErrorIs(t, err, driven.ErrCrypto)
}

func TestKeyring_SameKeyDifferentIDFails(t *testing.T) {
	ctx := context.Background()
	k, err := NewKeyring(legacyKey, enterpriseKey, "ent-2026-01")
	require.NoError(t, err)
	relabeled, err := NewKeyring(legacyKey, enterpriseKey, "ent-2026-02")
	require.NoError(t, err)

	ct, err := k.Encrypt(ctx, []byte("secret"), model.KeyEnterprise)
	require.NoError(t, err)

	_, err = relabeled.Decrypt(ctx, ct, model.KeyEnterprise)
	assert.ErrorIs(t, err, driven.ErrCrypto)
}

func TestKeyring_TamperDetected(t *testing.T) {
	k := newTestKeyring(t)
	ctx := context.Background()

	t.Run("legacy bit flip", func(t *testing.T) {
		ct, err := k.Encrypt(ctx, []byte("secret"), model.KeyLegacy)
		require.NoError(t, err)
		raw, err := base64.StdEncoding.DecodeString(ct)
		require.NoError(t, err)
		raw[len(raw)-1] ^= 0x01

		_, err = k.Decrypt(ctx, base64.StdEncoding.EncodeToString(raw), model.KeyLegacy)
		assert.ErrorIs(t, err, driven.ErrCrypto)
	})

	t.Run("enterprise payload replaced", func(t *testing.T) {
		ct, err := k.Encrypt(ctx, []byte("secret"), model.KeyEnterprise)
		require.NoError(t, err)

		_, err = k.Decrypt(ctx, ct[:len(ct)-4]+"AAAA", model.KeyEnterprise)
		assert.ErrorIs(t, err, driven.ErrCrypto)
	})

	t.Run("garbage", func(t *testing.T) {
		for _, ref := range []model.KeyRef{model.KeyLegacy, model.KeyEnterprise} {
			_, err := k.Decrypt(ctx, "not a ciphertext", ref)
			assert.ErrorIs(t, err, driven.ErrCrypto, ref)
		}
	})

	t.Run("truncated legacy", func(t *testing.T) {
		_, err := k.Decrypt(ctx, base64.StdEncoding.EncodeToString([]byte("short")), model.KeyLegacy)
		assert.ErrorIs(t, err, driven.ErrCrypto)
	})
}

func TestKeyring_UnknownKeyRef(t *testing.T) {
	k := newTestKeyring(t)

	_, err := k.Encrypt(context.Background(), []byte("x"), "hsm")
	assert.ErrorIs(t, err, driven.ErrCrypto)
	_, err = k.Decrypt(context.Background(), "x", "hsm")
	assert.ErrorIs(t, err, driven.ErrCrypto)
}

func TestNewKeyring_RejectsBadKeys(t *testing.T) {
	_, err := NewKeyring(legacyKey[:16], enterpriseKey, "")
	assert.Error(t, err)
	_, err = NewKeyring(legacyKey, enterpriseKey[:31], "")
	assert.Error(t, err)
}

func TestFingerprint_Stable(t *testing.T) {
	assert.Equal(t, Fingerprint(enterpriseKey), Fingerprint(enterpriseKey))
	assert.NotEqual(t, Fingerprint(enterpriseKey), Fingerprint(otherKey))
	assert.True(t, strings.HasPrefix(Fingerprint(enterpriseKey), "blake3:"))
}
