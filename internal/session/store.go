package session

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"github.com/wallet-bridge/wallet-bridge/internal/handshake"
	apperrors "github.com/wallet-bridge/wallet-bridge/pkg/errors"
	"github.com/wallet-bridge/wallet-bridge/pkg/types"
)

// CorrelationParam is appended to redirect links so sign callbacks can be
// routed back to the session that initiated them.
const CorrelationParam = "wb_token"

// FallbackStore is an optional source of a previously persisted secret key.
// It is consulted only when explicitly configured and only when a callback
// arrives with no key material in memory. Persisting secret keys in
// plaintext is inherently insecure; nothing in this package writes to it.
type FallbackStore interface {
	LoadSecretKey(ctx context.Context) ([]byte, error)
}

// Store owns the process-wide handshake state (one KeyMaterial at a time)
// and the registry of in-flight signing sessions. All access is serialized
// through one lock; handshake phases never overlap.
type Store struct {
	mu       sync.RWMutex
	km       *handshake.KeyMaterial
	shared   *handshake.SharedSecret
	identity *types.HandshakePayload

	sessions map[uuid.UUID]*Session
	tokens   map[string]uuid.UUID

	fallback FallbackStore
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithFallbackStore enables the insecure secret-key fallback.
func WithFallbackStore(fs FallbackStore) StoreOption {
	return func(s *Store) { s.fallback = fs }
}

// NewStore creates an empty store. No key material exists until
// InitHandshake is called.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		sessions: make(map[uuid.UUID]*Session),
		tokens:   make(map[string]uuid.UUID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitHandshake generates fresh key material, invalidating any previous
// handshake state. Sessions already in flight keep their handles.
func (s *Store) InitHandshake() (*handshake.KeyMaterial, error) {
	km, err := handshake.Generate()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.km = km
	s.shared = nil
	s.identity = nil
	s.mu.Unlock()
	return km, nil
}

// Reset discards all handshake state and forgets registered sessions.
func (s *Store) Reset() {
	s.mu.Lock()
	s.km = nil
	s.shared = nil
	s.identity = nil
	s.sessions = make(map[uuid.UUID]*Session)
	s.tokens = make(map[string]uuid.UUID)
	s.mu.Unlock()
}

// KeyMaterial returns the current key material, nil before InitHandshake.
func (s *Store) KeyMaterial() *handshake.KeyMaterial {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.km
}

// SharedSecret returns the secret derived from the last successful connect
// callback, nil before then.
func (s *Store) SharedSecret() *handshake.SharedSecret {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shared
}

// SessionToken returns the wallet session token from the last connect
// callback, empty before then.
func (s *Store) SessionToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return ""
	}
	return s.identity.SessionToken
}

// SignerAddress returns the connected wallet's public key, empty before a
// successful handshake.
func (s *Store) SignerAddress() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return ""
	}
	return s.identity.SignerPublicKey
}

// Connected reports whether a handshake has completed.
func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shared != nil && s.identity != nil
}

// ConnectURL builds the outbound connect deep link from the current key
// material.
func (s *Store) ConnectURL(appURL, redirectLink, cluster string) (string, error) {
	s.mu.RLock()
	km := s.km
	s.mu.RUnlock()
	if km == nil {
		return "", apperrors.NewWithDetail(
			apperrors.ErrCodeConflict,
			"No handshake in progress",
			"call init before building a connect link",
			409,
		)
	}

	return handshake.BuildConnectURL(handshake.ConnectConfig{
		PublicKeyB58: km.PublicKeyB58(),
		NonceB58:     km.NonceB58(),
		AppURL:       appURL,
		RedirectLink: redirectLink,
		Cluster:      cluster,
	}), nil
}

// HandleConnectCallback validates and decrypts the wallet's connect
// response, derives the shared secret, and records the signer identity.
// When no key material is in memory and a fallback store was configured,
// the persisted secret key is imported before giving up.
func (s *Store) HandleConnectCallback(ctx context.Context, rawURL string) (*types.HandshakePayload, error) {
	km, err := s.keyMaterialForCallback(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := handshake.ParseCallback(rawURL, km)
	if err != nil {
		return nil, err
	}

	// ParseCallback already verified the wallet key; derive the secret again
	// so the store keeps it for later sign requests.
	u, _ := url.Parse(rawURL)
	walletKey, _ := base58.Decode(u.Query().Get("phantom_encryption_public_key"))
	shared, err := km.DeriveSharedSecret(walletKey)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.km = km
	s.shared = shared
	s.identity = payload
	s.mu.Unlock()
	return payload, nil
}

func (s *Store) keyMaterialForCallback(ctx context.Context) (*handshake.KeyMaterial, error) {
	s.mu.RLock()
	km := s.km
	fallback := s.fallback
	s.mu.RUnlock()

	if km != nil {
		return km, nil
	}
	if fallback == nil {
		return nil, apperrors.NewWithDetail(
			apperrors.ErrCodeConflict,
			"No handshake in progress",
			"callback arrived without key material",
			409,
		)
	}

	secret, err := fallback.LoadSecretKey(ctx)
	if err != nil {
		return nil, apperrors.NewWithDetail(
			apperrors.ErrCodeConflict,
			"No handshake in progress",
			"fallback secret key unavailable",
			409,
		)
	}
	return handshake.ImportSecretKey(secret)
}

// Register adds a session to the registry under a fresh ID and binds the
// correlation token callbacks will carry.
func (s *Store) Register(sess *Session, token string) uuid.UUID {
	id := uuid.New()
	s.mu.Lock()
	s.sessions[id] = sess
	if token != "" {
		s.tokens[token] = id
	}
	s.mu.Unlock()
	return id
}

// Session looks up a registered session by ID.
func (s *Store) Session(id uuid.UUID) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// CorrelationToken returns a fresh token plus a redirect link carrying it,
// for use when dispatching a deep-link sign request.
func CorrelationToken(redirectLink string) (token, link string) {
	token = uuid.NewString()
	sep := "?"
	if u, err := url.Parse(redirectLink); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	return token, redirectLink + sep + CorrelationParam + "=" + token
}

// HandleSignCallback decrypts a wallet sign-result callback and resolves the
// session the correlation token names. The decrypted body is expected to
// carry the signed transaction in base58.
func (s *Store) HandleSignCallback(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return apperrors.MalformedPayload("unparseable callback URL")
	}
	q := u.Query()

	token := q.Get(CorrelationParam)
	if token == "" {
		return apperrors.MissingCallbackParameter(CorrelationParam)
	}
	for _, p := range []string{"data", "nonce"} {
		if q.Get(p) == "" {
			return apperrors.MissingCallbackParameter(p)
		}
	}

	s.mu.RLock()
	shared := s.shared
	id, ok := s.tokens[token]
	var sess *Session
	if ok {
		sess = s.sessions[id]
	}
	s.mu.RUnlock()

	if sess == nil {
		return apperrors.NewWithDetail(
			apperrors.ErrCodeNotFound,
			"Unknown signing session",
			"correlation token does not match an in-flight session",
			404,
		)
	}
	if shared == nil {
		return apperrors.SignerUnavailable("no wallet handshake session")
	}

	plaintext, err := handshake.OpenSealed(q.Get("data"), q.Get("nonce"), shared)
	if err != nil {
		sess.ResolveExternal(nil, err)
		return err
	}

	var body struct {
		Transaction string `json:"transaction"`
		Signature   string `json:"signature"`
	}
	if err := json.Unmarshal(plaintext, &body); err != nil {
		err = apperrors.MalformedPayload("sign callback body is not valid JSON")
		sess.ResolveExternal(nil, err)
		return err
	}

	encoded := body.Transaction
	if encoded == "" {
		encoded = body.Signature
	}
	if encoded == "" {
		err := apperrors.MalformedPayload("sign callback carries no transaction")
		sess.ResolveExternal(nil, err)
		return err
	}

	signed, err := base58.Decode(encoded)
	if err != nil {
		err = apperrors.MalformedPayload("signed transaction is not valid base58")
		sess.ResolveExternal(nil, err)
		return err
	}

	sess.ResolveExternal(signed, nil)

	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
	return nil
}
