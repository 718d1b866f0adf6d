// Package signer routes unsigned transactions to whichever signing channel
// the runtime environment offers: an in-process extension, a deep-link round
// trip to a wallet app, or a backend-mediated pending signature. All three
// completion shapes are normalized into one SignatureHandle.
package signer

import (
	"context"
	"sync"

	"github.com/wallet-bridge/wallet-bridge/pkg/types"
)

// ExtensionSigner is an in-process signer, the desktop-extension analogue.
type ExtensionSigner interface {
	// Ping reports whether the signer is present and responsive.
	Ping(ctx context.Context) error
	// SignTransaction signs the unsigned payload synchronously.
	SignTransaction(ctx context.Context, unsigned []byte) ([]byte, error)
}

// SignerChannel is one way of obtaining a signature for an unsigned payload.
type SignerChannel interface {
	Kind() types.ChannelKind
	// RequestSignature starts a signing attempt. The returned handle may
	// already be resolved (synchronous channels), resolve later through
	// polling (backend), or be resolved externally (deep-link callback).
	RequestSignature(ctx context.Context, unsigned []byte) (*SignatureHandle, error)
}

// SignatureHandle is the future-like completion of one signing attempt.
// It resolves exactly once; later resolutions are ignored.
type SignatureHandle struct {
	kind        types.ChannelKind
	pollID      string
	redirectURL string

	once   sync.Once
	done   chan struct{}
	signed []byte
	err    error
}

func newHandle(kind types.ChannelKind) *SignatureHandle {
	return &SignatureHandle{kind: kind, done: make(chan struct{})}
}

// Kind returns the channel that produced this handle.
func (h *SignatureHandle) Kind() types.ChannelKind { return h.kind }

// PollID returns the backend poll identifier, empty for other channels.
func (h *SignatureHandle) PollID() string { return h.pollID }

// RedirectURL returns the deep link the platform must open, empty for other
// channels.
func (h *SignatureHandle) RedirectURL() string { return h.redirectURL }

// Resolve completes the handle with a signed payload or an error. Only the
// first call has any effect.
func (h *SignatureHandle) Resolve(signed []byte, err error) {
	h.once.Do(func() {
		h.signed = signed
		h.err = err
		close(h.done)
	})
}

// Done returns a channel closed when the handle resolves, for use in select.
func (h *SignatureHandle) Done() <-chan struct{} { return h.done }

// Resolved reports whether the handle has completed.
func (h *SignatureHandle) Resolved() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Await blocks until the handle resolves or the context ends.
func (h *SignatureHandle) Await(ctx context.Context) ([]byte, error) {
	select {
	case <-h.done:
		return h.signed, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
