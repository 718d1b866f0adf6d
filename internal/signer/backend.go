package signer

import (
	"context"

	"github.com/wallet-bridge/wallet-bridge/internal/backend"
	apperrors "github.com/wallet-bridge/wallet-bridge/pkg/errors"
	"github.com/wallet-bridge/wallet-bridge/pkg/types"
)

// SignRegistrar registers an unsigned payload for backend-mediated signing.
// *backend.Client satisfies it.
type SignRegistrar interface {
	RegisterSign(ctx context.Context, unsigned []byte, signerAddress string) (*backend.SignResponse, error)
}

// BackendChannel signs through the backend's pending-signature flow. The
// backend either answers with a signed payload immediately or hands back a
// poll ID; in the latter case the returned handle is unresolved and the
// signing session drives resolution.
type BackendChannel struct {
	registrar     SignRegistrar
	signerAddress string
}

// NewBackendChannel creates a backend-mediated signing channel for the given
// signer address.
func NewBackendChannel(registrar SignRegistrar, signerAddress string) *BackendChannel {
	return &BackendChannel{registrar: registrar, signerAddress: signerAddress}
}

// Kind implements SignerChannel.
func (c *BackendChannel) Kind() types.ChannelKind {
	return types.ChannelBackendMediated
}

// RequestSignature implements SignerChannel.
func (c *BackendChannel) RequestSignature(ctx context.Context, unsigned []byte) (*SignatureHandle, error) {
	resp, err := c.registrar.RegisterSign(ctx, unsigned, c.signerAddress)
	if err != nil {
		return nil, err
	}

	h := newHandle(types.ChannelBackendMediated)
	switch resp.Status {
	case backend.SignStatusSigned:
		h.Resolve(resp.SignedPayload, nil)
	case backend.SignStatusPending:
		if resp.PollID == "" {
			return nil, apperrors.DispatchError("backend returned pending without a poll ID")
		}
		h.pollID = resp.PollID
	default:
		return nil, apperrors.SignerRejected("backend reported status " + resp.Status)
	}

	return h, nil
}
