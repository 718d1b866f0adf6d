package signer

import (
	"context"

	apperrors "github.com/wallet-bridge/wallet-bridge/pkg/errors"
	"github.com/wallet-bridge/wallet-bridge/pkg/types"
)

// LocalExtensionChannel signs through an in-process extension signer. The
// round trip is synchronous: the returned handle is already resolved.
type LocalExtensionChannel struct {
	signer ExtensionSigner
}

// NewLocalExtensionChannel wraps an in-process signer.
func NewLocalExtensionChannel(s ExtensionSigner) *LocalExtensionChannel {
	return &LocalExtensionChannel{signer: s}
}

// Kind implements SignerChannel.
func (c *LocalExtensionChannel) Kind() types.ChannelKind {
	return types.ChannelLocalExtension
}

// RequestSignature implements SignerChannel.
func (c *LocalExtensionChannel) RequestSignature(ctx context.Context, unsigned []byte) (*SignatureHandle, error) {
	signed, err := c.signer.SignTransaction(ctx, unsigned)

	h := newHandle(types.ChannelLocalExtension)
	if err != nil {
		if _, ok := apperrors.IsAppError(err); !ok {
			err = apperrors.SignerRejected(err.Error())
		}
		h.Resolve(nil, err)
		return h, err
	}

	h.Resolve(signed, nil)
	return h, nil
}
