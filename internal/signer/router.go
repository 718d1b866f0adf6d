package signer

import (
	"context"

	apperrors "github.com/wallet-bridge/wallet-bridge/pkg/errors"
)

// Environment describes what the runtime offers a signing attempt.
type Environment struct {
	// Extension is the in-process signer, nil when absent.
	Extension ExtensionSigner
	// SupportsDeepLink is true on platforms with URL-scheme round trips.
	SupportsDeepLink bool
}

// Router decides which signing channel an attempt uses. The choice is made
// once per attempt and not re-evaluated mid-flight.
type Router struct {
	env      Environment
	deepLink *DeepLinkChannel
	backend  *BackendChannel
}

// NewRouter creates a router over the channels the deployment has configured.
// Either channel may be nil when its prerequisites are missing.
func NewRouter(env Environment, deepLink *DeepLinkChannel, backendCh *BackendChannel) *Router {
	return &Router{env: env, deepLink: deepLink, backend: backendCh}
}

// SelectChannel picks the signing channel for one attempt: the local
// extension when present and responsive, otherwise the deep-link round trip
// when the platform supports it, otherwise the backend-mediated path.
func (r *Router) SelectChannel(ctx context.Context) (SignerChannel, error) {
	if r.env.Extension != nil && r.env.Extension.Ping(ctx) == nil {
		return NewLocalExtensionChannel(r.env.Extension), nil
	}
	if r.env.SupportsDeepLink && r.deepLink != nil {
		return r.deepLink, nil
	}
	if r.backend != nil {
		return r.backend, nil
	}
	return nil, apperrors.SignerUnavailable("no signing channel configured")
}

// Dispatch sends the unsigned payload down the chosen channel and normalizes
// synchronous failures into the dispatch error taxonomy.
func (r *Router) Dispatch(ctx context.Context, ch SignerChannel, unsigned []byte) (*SignatureHandle, error) {
	h, err := ch.RequestSignature(ctx, unsigned)
	if err != nil {
		if _, ok := apperrors.IsAppError(err); ok {
			return nil, err
		}
		return nil, apperrors.DispatchError(err.Error())
	}
	return h, nil
}
