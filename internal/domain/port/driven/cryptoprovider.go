package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/fleetvault/internal/domain/model"
)

// ErrCrypto is returned by CryptoProvider when a ciphertext cannot be
// decrypted (tamper, wrong key, corrupt payload) or a plaintext cannot be
// sealed.
var ErrCrypto = errors.New("crypto operation failed")

// CryptoProvider seals and opens secrets under a named key.
type CryptoProvider interface {
	Encrypt(ctx context.Context, plaintext []byte, key model.KeyRef) (string, error)
	Decrypt(ctx context.Context, ciphertext string, key model.KeyRef) ([]byte, error)
}
