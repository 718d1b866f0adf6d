// Package app wires the handshake, signing channels and transaction backend
// into the operations the API layer exposes.
package app

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/wallet-bridge/wallet-bridge/internal/backend"
	"github.com/wallet-bridge/wallet-bridge/internal/config"
	"github.com/wallet-bridge/wallet-bridge/internal/logger"
	"github.com/wallet-bridge/wallet-bridge/internal/session"
	"github.com/wallet-bridge/wallet-bridge/internal/signer"
	"github.com/wallet-bridge/wallet-bridge/internal/storage"
	apperrors "github.com/wallet-bridge/wallet-bridge/pkg/errors"
	"github.com/wallet-bridge/wallet-bridge/pkg/types"
)

// BridgeService handles wallet handshake and transfer operations
type BridgeService struct {
	cfg     *config.Config
	backend *backend.Client
	store   *session.Store
	journal *storage.TransactionJournal // nil without a database

	extension signer.ExtensionSigner // nil when no in-process signer exists
	openURL   signer.OpenURLFunc     // nil in headless deployments
}

// ServiceOption customizes a BridgeService.
type ServiceOption func(*BridgeService)

// WithExtensionSigner registers an in-process signer.
func WithExtensionSigner(ext signer.ExtensionSigner) ServiceOption {
	return func(s *BridgeService) { s.extension = ext }
}

// WithOpenURL registers the platform's deep-link opener.
func WithOpenURL(open signer.OpenURLFunc) ServiceOption {
	return func(s *BridgeService) { s.openURL = open }
}

// WithJournal enables pending-transaction journaling.
func WithJournal(journal *storage.TransactionJournal) ServiceOption {
	return func(s *BridgeService) { s.journal = journal }
}

// NewBridgeService creates a new bridge service
func NewBridgeService(cfg *config.Config, backendClient *backend.Client, store *session.Store, opts ...ServiceOption) *BridgeService {
	s := &BridgeService{
		cfg:     cfg,
		backend: backendClient,
		store:   store,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConnectResponse carries the deep link the platform must open to start
// a wallet handshake.
type ConnectResponse struct {
	ConnectURL string `json:"connect_url"`
	PublicKey  string `json:"public_key"`
}

// Connect starts a fresh handshake, discarding any previous one.
func (s *BridgeService) Connect(ctx context.Context) (*ConnectResponse, error) {
	km, err := s.store.InitHandshake()
	if err != nil {
		return nil, err
	}

	link, err := s.store.ConnectURL(s.cfg.AppURL, s.cfg.RedirectLink, s.cfg.Cluster)
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "handshake started", "public_key", km.PublicKeyB58())
	return &ConnectResponse{ConnectURL: link, PublicKey: km.PublicKeyB58()}, nil
}

// HandleCallback routes an inbound wallet callback. Sign-result callbacks
// carry a correlation token; everything else is treated as a connect
// response.
func (s *BridgeService) HandleCallback(ctx context.Context, rawURL string) (*types.HandshakePayload, error) {
	if u, err := url.Parse(rawURL); err == nil && u.Query().Get(session.CorrelationParam) != "" {
		if err := s.store.HandleSignCallback(rawURL); err != nil {
			logger.Warn(ctx, "sign callback rejected", "error", err)
			return nil, err
		}
		return nil, nil
	}

	payload, err := s.store.HandleConnectCallback(ctx, rawURL)
	if err != nil {
		logger.Warn(ctx, "connect callback rejected", "error", err)
		return nil, err
	}

	logger.Info(ctx, "wallet connected", "signer", payload.SignerPublicKey)
	return payload, nil
}

// Disconnect discards all handshake and session state.
func (s *BridgeService) Disconnect(ctx context.Context) {
	s.store.Reset()
	logger.Info(ctx, "wallet disconnected")
}

// TransferRequest describes a transfer to build and sign.
type TransferRequest struct {
	To               string `json:"to"`
	Amount           string `json:"amount"`
	Asset            string `json:"asset"`
	AvailableBalance string `json:"available_balance,omitempty"`
}

// TransferStatus is the externally visible state of one transfer.
type TransferStatus struct {
	ID            uuid.UUID         `json:"id"`
	Status        types.TxStatus    `json:"status"`
	Channel       types.ChannelKind `json:"channel,omitempty"`
	Signature     string            `json:"signature,omitempty"`
	RedirectURL   string            `json:"redirect_url,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	SubmittedAt   *time.Time        `json:"submitted_at,omitempty"`
}

// StartTransfer validates, builds and dispatches a transfer, then drives
// signature resolution and submission in the background. The returned status
// reflects the state right after dispatch; callers follow up through
// GetTransfer.
func (s *BridgeService) StartTransfer(ctx context.Context, req TransferRequest) (*TransferStatus, error) {
	if !s.store.Connected() {
		return nil, apperrors.SignerUnavailable("no wallet connected")
	}
	if err := session.ValidateRecipient(req.To); err != nil {
		return nil, err
	}
	if err := session.ValidateAmount(req.Amount, req.AvailableBalance); err != nil {
		return nil, err
	}

	token, redirect := session.CorrelationToken(s.cfg.RedirectLink)
	sess := session.New(session.Config{
		Builder: s.backend,
		Dispatcher: signer.NewRouter(
			signer.Environment{
				Extension:        s.extension,
				SupportsDeepLink: s.cfg.SupportsDeepLink,
			},
			signer.NewDeepLinkChannel(signer.DeepLinkConfig{
				RedirectLink: redirect,
				Session:      s.store,
				OpenURL:      s.openURL,
			}),
			signer.NewBackendChannel(s.backend, s.store.SignerAddress()),
		),
		Poller:          s.backend,
		Submitter:       s.backend,
		Mode:            types.AwaitMode(s.cfg.AwaitMode),
		PollInterval:    s.cfg.PollInterval,
		MaxPollAttempts: s.cfg.MaxPollAttempts,
	})
	id := s.store.Register(sess, token)

	tx, err := sess.Build(ctx, backend.BuildRequest{
		From:   s.store.SignerAddress(),
		To:     req.To,
		Amount: req.Amount,
		Asset:  req.Asset,
	})
	if err != nil {
		logger.Warn(ctx, "transfer build rejected", "error", err)
		return nil, err
	}
	s.journalRecord(ctx, tx)

	if err := sess.Dispatch(ctx); err != nil {
		s.journalUpdate(context.WithoutCancel(ctx), sess)
		logger.Warn(ctx, "transfer dispatch failed", "transfer_id", id, "error", err)
		return nil, err
	}
	s.journalUpdate(ctx, sess)

	logger.Info(ctx, "transfer dispatched",
		"transfer_id", id,
		"tx_id", tx.ID,
		"channel", sess.Transaction().Channel,
	)

	go s.finishTransfer(context.WithoutCancel(ctx), id, sess)

	return s.status(id, sess), nil
}

// finishTransfer waits for the signature and submits exactly once.
func (s *BridgeService) finishTransfer(ctx context.Context, id uuid.UUID, sess *session.Session) {
	if _, err := sess.AwaitSignature(ctx); err != nil {
		s.journalUpdate(ctx, sess)
		logger.Warn(ctx, "transfer signing failed", "transfer_id", id, "error", err)
		return
	}
	s.journalUpdate(ctx, sess)

	receipt, err := sess.Submit(ctx)
	s.journalUpdate(ctx, sess)
	if err != nil {
		logger.Warn(ctx, "transfer submission failed", "transfer_id", id, "error", err)
		return
	}

	logger.Info(ctx, "transfer submitted", "transfer_id", id, "signature", receipt.Signature)
}

// GetTransfer reports the current state of a transfer.
func (s *BridgeService) GetTransfer(id uuid.UUID) (*TransferStatus, error) {
	sess, ok := s.store.Session(id)
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return s.status(id, sess), nil
}

// CancelTransfer records a user rejection on an in-flight transfer.
func (s *BridgeService) CancelTransfer(ctx context.Context, id uuid.UUID) (*TransferStatus, error) {
	sess, ok := s.store.Session(id)
	if !ok {
		return nil, apperrors.ErrNotFound
	}

	sess.Cancel()
	s.journalUpdate(ctx, sess)
	logger.Info(ctx, "transfer cancelled", "transfer_id", id)
	return s.status(id, sess), nil
}

// ManualSign resolves a pending backend signature through explicit user action.
func (s *BridgeService) ManualSign(ctx context.Context, id uuid.UUID) (*TransferStatus, error) {
	sess, ok := s.store.Session(id)
	if !ok {
		return nil, apperrors.ErrNotFound
	}

	if _, err := sess.ManualSign(ctx); err != nil {
		return nil, err
	}
	return s.status(id, sess), nil
}

func (s *BridgeService) status(id uuid.UUID, sess *session.Session) *TransferStatus {
	tx := sess.Transaction()
	if tx == nil {
		return &TransferStatus{ID: id}
	}

	st := &TransferStatus{
		ID:            id,
		Status:        tx.Status,
		Channel:       tx.Channel,
		Signature:     tx.Signature,
		FailureReason: tx.FailureReason,
	}
	if tx.Status == types.StatusAwaitingSignature {
		st.RedirectURL = sess.RedirectURL()
	}
	if receipt := sess.Receipt(); receipt != nil {
		st.SubmittedAt = &receipt.SubmittedAt
	}
	return st
}

func (s *BridgeService) journalRecord(ctx context.Context, tx *types.PendingTransaction) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(ctx, tx); err != nil {
		logger.Warn(ctx, "failed to journal transaction", "tx_id", tx.ID, "error", err)
	}
}

func (s *BridgeService) journalUpdate(ctx context.Context, sess *session.Session) {
	if s.journal == nil {
		return
	}
	tx := sess.Transaction()
	if tx == nil {
		return
	}

	var signature, failure *string
	if tx.Signature != "" {
		signature = &tx.Signature
	}
	if tx.FailureReason != "" {
		failure = &tx.FailureReason
	}
	if err := s.journal.UpdateStatus(ctx, tx.ID, tx.Status, tx.Channel, signature, failure); err != nil {
		logger.Warn(ctx, "failed to journal transition", "tx_id", tx.ID, "error", err)
	}
}
