package signer

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/wallet-bridge/wallet-bridge/internal/handshake"
	apperrors "github.com/wallet-bridge/wallet-bridge/pkg/errors"
	"github.com/wallet-bridge/wallet-bridge/pkg/types"
)

// WalletSession provides the handshake state a deep-link sign request needs.
// It exists only after a connect handshake has completed.
type WalletSession interface {
	KeyMaterial() *handshake.KeyMaterial
	SharedSecret() *handshake.SharedSecret
	SessionToken() string
}

// OpenURLFunc hands a deep link to the platform for opening. On mobile this
// is the URL-scheme launcher; tests capture the URL instead.
type OpenURLFunc func(ctx context.Context, url string) error

// DeepLinkConfig configures a deep-link signing channel.
type DeepLinkConfig struct {
	SignBaseURL  string // defaults to the wallet's universal-link endpoint
	RedirectLink string // custom scheme registered by the platform
	Session      WalletSession
	OpenURL      OpenURLFunc
}

// DeepLinkChannel signs by redirecting to an external wallet app. The handle
// it returns is resolved out-of-band when the wallet's callback arrives; this
// channel never polls.
type DeepLinkChannel struct {
	cfg DeepLinkConfig
}

// NewDeepLinkChannel creates a deep-link signing channel.
func NewDeepLinkChannel(cfg DeepLinkConfig) *DeepLinkChannel {
	return &DeepLinkChannel{cfg: cfg}
}

// Kind implements SignerChannel.
func (c *DeepLinkChannel) Kind() types.ChannelKind {
	return types.ChannelDeepLink
}

// RequestSignature implements SignerChannel. The unsigned payload is sealed
// under the handshake shared secret and embedded in a sign-transaction deep
// link, which is handed to the platform opener. Resolution arrives later
// through the callback path.
func (c *DeepLinkChannel) RequestSignature(ctx context.Context, unsigned []byte) (*SignatureHandle, error) {
	km := c.cfg.Session.KeyMaterial()
	shared := c.cfg.Session.SharedSecret()
	if km == nil || shared == nil {
		return nil, apperrors.SignerUnavailable("no wallet handshake session")
	}

	var nonce [handshake.NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, apperrors.EntropyUnavailable(err.Error())
	}

	body := map[string]string{
		"transaction": base58.Encode(unsigned),
		"session":     c.cfg.Session.SessionToken(),
	}
	sealed, err := handshake.SealPayload(body, nonce, shared)
	if err != nil {
		return nil, fmt.Errorf("failed to seal sign request: %w", err)
	}

	url := handshake.BuildSignURL(handshake.SignRequestConfig{
		BaseURL:      c.cfg.SignBaseURL,
		PublicKeyB58: km.PublicKeyB58(),
		NonceB58:     base58.Encode(nonce[:]),
		RedirectLink: c.cfg.RedirectLink,
		PayloadB58:   sealed,
	})

	h := newHandle(types.ChannelDeepLink)
	h.redirectURL = url

	if c.cfg.OpenURL != nil {
		if err := c.cfg.OpenURL(ctx, url); err != nil {
			return nil, apperrors.DispatchError(fmt.Sprintf("failed to open wallet deep link: %v", err))
		}
	}

	return h, nil
}
