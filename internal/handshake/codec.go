package handshake

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/nacl/box"

	apperrors "github.com/wallet-bridge/wallet-bridge/pkg/errors"
	"github.com/wallet-bridge/wallet-bridge/pkg/types"
)

// Universal-link endpoints of the wallet application.
const (
	DefaultConnectBaseURL = "https://phantom.app/ul/v1/connect"
	DefaultSignBaseURL    = "https://phantom.app/ul/v1/signTransaction"
)

// Callback query parameters set by the wallet.
const (
	paramData         = "data"
	paramNonce        = "nonce"
	paramWalletPubKey = "phantom_encryption_public_key"
)

// ConnectConfig carries the inputs of a connect URL. All fields are required.
type ConnectConfig struct {
	BaseURL      string // defaults to DefaultConnectBaseURL when empty
	PublicKeyB58 string
	NonceB58     string
	AppURL       string
	RedirectLink string
	Cluster      string
}

// BuildConnectURL formats the outbound deep link. It is a pure function:
// identical inputs always produce a byte-identical URL.
//
// The URL is assembled by hand rather than through url.Values because the
// redirect link carries a custom scheme that receiving wallets match
// literally; percent-encoding it breaks the round trip. Only app_url is
// query-escaped.
func BuildConnectURL(cfg ConnectConfig) string {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultConnectBaseURL
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("?dapp_encryption_public_key=")
	b.WriteString(cfg.PublicKeyB58)
	b.WriteString("&cluster=")
	b.WriteString(cfg.Cluster)
	b.WriteString("&app_url=")
	b.WriteString(url.QueryEscape(cfg.AppURL))
	b.WriteString("&redirect_link=")
	b.WriteString(cfg.RedirectLink)
	b.WriteString("&nonce=")
	b.WriteString(cfg.NonceB58)
	return b.String()
}

// SignRequestConfig carries the inputs of an outbound sign-transaction deep link.
type SignRequestConfig struct {
	BaseURL      string // defaults to DefaultSignBaseURL when empty
	PublicKeyB58 string
	NonceB58     string
	RedirectLink string
	PayloadB58   string // sealed request body, see SealPayload
}

// BuildSignURL formats the deep link that asks the wallet to sign a
// transaction. Same encoding rules as BuildConnectURL.
func BuildSignURL(cfg SignRequestConfig) string {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultSignBaseURL
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("?dapp_encryption_public_key=")
	b.WriteString(cfg.PublicKeyB58)
	b.WriteString("&nonce=")
	b.WriteString(cfg.NonceB58)
	b.WriteString("&redirect_link=")
	b.WriteString(cfg.RedirectLink)
	b.WriteString("&payload=")
	b.WriteString(cfg.PayloadB58)
	return b.String()
}

// ParseCallback decodes and decrypts an inbound callback URL.
//
// The three required parameters are checked before any key agreement takes
// place, and decryption is a single atomic box-open: a tampered or wrong-key
// payload fails outright, never partially decodes.
func ParseCallback(rawURL string, km *KeyMaterial) (*types.HandshakePayload, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, apperrors.MalformedPayload(fmt.Sprintf("unparseable callback URL: %v", err))
	}

	q := u.Query()
	for _, p := range []string{paramData, paramNonce, paramWalletPubKey} {
		if q.Get(p) == "" {
			return nil, apperrors.MissingCallbackParameter(p)
		}
	}

	walletKey, err := base58.Decode(q.Get(paramWalletPubKey))
	if err != nil {
		return nil, apperrors.InvalidPublicKey("not valid base58")
	}

	ciphertext, err := base58.Decode(q.Get(paramData))
	if err != nil {
		return nil, apperrors.DecryptionFailed("data is not valid base58")
	}

	nonceBytes, err := base58.Decode(q.Get(paramNonce))
	if err != nil {
		return nil, apperrors.DecryptionFailed("nonce is not valid base58")
	}
	if len(nonceBytes) != NonceSize {
		return nil, apperrors.DecryptionFailed("nonce must be 24 bytes")
	}

	shared, err := km.DeriveSharedSecret(walletKey)
	if err != nil {
		return nil, err
	}

	return openPayload(ciphertext, nonceBytes, shared)
}

// openPayload performs the authenticated decryption and deserialization of a
// callback body against an already-derived shared secret.
func openPayload(ciphertext, nonceBytes []byte, shared *SharedSecret) (*types.HandshakePayload, error) {
	var nonce [NonceSize]byte
	copy(nonce[:], nonceBytes)

	plaintext, ok := box.OpenAfterPrecomputation(nil, ciphertext, &nonce, (*[SharedSecretSize]byte)(shared))
	if !ok {
		return nil, apperrors.DecryptionFailed("authentication failed")
	}

	var fields map[string]any
	if err := json.Unmarshal(plaintext, &fields); err != nil {
		return nil, apperrors.MalformedPayload("decrypted payload is not valid JSON")
	}

	signerKey, _ := fields["public_key"].(string)
	if signerKey == "" {
		return nil, apperrors.MalformedPayload("missing public_key")
	}

	payload := &types.HandshakePayload{
		SignerPublicKey: signerKey,
		Extra:           make(map[string]string),
	}
	if session, ok := fields["session"].(string); ok {
		payload.SessionToken = session
	}
	for key, val := range fields {
		if key == "public_key" || key == "session" {
			continue
		}
		if s, ok := val.(string); ok {
			payload.Extra[key] = s
		}
	}

	return payload, nil
}

// OpenSealed decrypts a base58 data/nonce pair against an established shared
// secret and returns the raw plaintext. Callback bodies after the initial
// handshake (sign results) go through here, since their structure varies by
// request type.
func OpenSealed(dataB58, nonceB58 string, shared *SharedSecret) ([]byte, error) {
	ciphertext, err := base58.Decode(dataB58)
	if err != nil {
		return nil, apperrors.DecryptionFailed("data is not valid base58")
	}

	nonceBytes, err := base58.Decode(nonceB58)
	if err != nil {
		return nil, apperrors.DecryptionFailed("nonce is not valid base58")
	}
	if len(nonceBytes) != NonceSize {
		return nil, apperrors.DecryptionFailed("nonce must be 24 bytes")
	}

	var nonce [NonceSize]byte
	copy(nonce[:], nonceBytes)

	plaintext, ok := box.OpenAfterPrecomputation(nil, ciphertext, &nonce, (*[SharedSecretSize]byte)(shared))
	if !ok {
		return nil, apperrors.DecryptionFailed("authentication failed")
	}
	return plaintext, nil
}

// SealPayload encrypts a JSON payload under the shared secret with a fresh
// random component supplied by the caller as the nonce. It is the wallet side
// of the box and exists so outbound sign requests (and tests) can produce
// ciphertext the callback path accepts.
func SealPayload(payload any, nonce [NonceSize]byte, shared *SharedSecret) (string, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	ciphertext := box.SealAfterPrecomputation(nil, plaintext, &nonce, (*[SharedSecretSize]byte)(shared))
	return base58.Encode(ciphertext), nil
}
