// Package handshake implements the encrypted deep-link handshake with a
// remote wallet application: ephemeral key material, the connect URL format,
// and authenticated decryption of wallet callbacks.
package handshake

import (
	"crypto/rand"
	"crypto/subtle"
	"time"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"

	apperrors "github.com/wallet-bridge/wallet-bridge/pkg/errors"
)

const (
	// KeySize is the length of X25519 public and secret keys.
	KeySize = 32
	// NonceSize is the length of a NaCl box nonce.
	NonceSize = 24
	// SharedSecretSize is the length of a precomputed box shared secret.
	SharedSecretSize = 32
)

// SharedSecret is the symmetric key derived from our secret key and the
// wallet's public key. It is never serialized; its lifetime is the lifetime
// of the handshake session.
type SharedSecret [SharedSecretSize]byte

// KeyMaterial holds one handshake session's ephemeral key pair and nonce.
// It is regenerated per handshake attempt and never reused across two
// distinct handshakes.
type KeyMaterial struct {
	publicKey [KeySize]byte
	secretKey [KeySize]byte
	nonce     [NonceSize]byte
	createdAt time.Time
}

// Generate produces fresh key material from the platform's secure random source.
func Generate() (*KeyMaterial, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, apperrors.EntropyUnavailable(err.Error())
	}

	km := &KeyMaterial{
		publicKey: *pub,
		secretKey: *priv,
		createdAt: time.Now(),
	}
	if _, err := rand.Read(km.nonce[:]); err != nil {
		return nil, apperrors.EntropyUnavailable(err.Error())
	}

	return km, nil
}

func curvePublicKey(pub, priv *[KeySize]byte) {
	curve25519.ScalarBaseMult(pub, priv)
}

// PublicKey returns the ephemeral public key.
func (k *KeyMaterial) PublicKey() [KeySize]byte {
	return k.publicKey
}

// PublicKeyB58 returns the public key in the wire encoding used by the
// connect URL.
func (k *KeyMaterial) PublicKeyB58() string {
	return base58.Encode(k.publicKey[:])
}

// Nonce returns the session nonce.
func (k *KeyMaterial) Nonce() [NonceSize]byte {
	return k.nonce
}

// NonceB58 returns the nonce in the wire encoding used by the connect URL.
func (k *KeyMaterial) NonceB58() string {
	return base58.Encode(k.nonce[:])
}

// CreatedAt returns when this key material was generated.
func (k *KeyMaterial) CreatedAt() time.Time {
	return k.createdAt
}

// DeriveSharedSecret precomputes the box shared secret for repeated open
// operations against the given wallet public key.
func (k *KeyMaterial) DeriveSharedSecret(remotePublicKey []byte) (*SharedSecret, error) {
	if len(remotePublicKey) != KeySize {
		return nil, apperrors.InvalidPublicKey("expected 32 bytes")
	}

	var zero [KeySize]byte
	if subtle.ConstantTimeCompare(remotePublicKey, zero[:]) == 1 {
		return nil, apperrors.InvalidPublicKey("identity element")
	}

	var remote [KeySize]byte
	copy(remote[:], remotePublicKey)

	var shared SharedSecret
	box.Precompute((*[SharedSecretSize]byte)(&shared), &remote, &k.secretKey)
	return &shared, nil
}

// ExportSecretKey copies out the secret key. Persisting it is a
// security-sensitive fallback decided by the caller, never by this package.
func (k *KeyMaterial) ExportSecretKey() []byte {
	out := make([]byte, KeySize)
	copy(out, k.secretKey[:])
	return out
}

// ImportSecretKey reconstructs key material from a previously exported secret
// key. The public key is re-derived; the nonce is freshly generated because a
// nonce is never reused across handshakes.
func ImportSecretKey(secret []byte) (*KeyMaterial, error) {
	if len(secret) != KeySize {
		return nil, apperrors.InvalidPublicKey("secret key must be 32 bytes")
	}

	km := &KeyMaterial{createdAt: time.Now()}
	copy(km.secretKey[:], secret)
	curvePublicKey(&km.publicKey, &km.secretKey)

	if _, err := rand.Read(km.nonce[:]); err != nil {
		return nil, apperrors.EntropyUnavailable(err.Error())
	}

	return km, nil
}
