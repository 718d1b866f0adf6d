// Package session implements the transaction signing state machine and the
// process-wide store that owns handshake state and in-flight sessions.
//
// A session takes one transaction from unsigned draft through a terminal
// outcome: Built -> Dispatched -> AwaitingSignature -> Signed -> Submitted,
// with Failed and TimedOut as terminal failure states. Once terminal, every
// further call is a no-op returning the already-resolved outcome.
package session

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"github.com/wallet-bridge/wallet-bridge/internal/backend"
	"github.com/wallet-bridge/wallet-bridge/internal/signer"
	apperrors "github.com/wallet-bridge/wallet-bridge/pkg/errors"
	"github.com/wallet-bridge/wallet-bridge/pkg/types"
)

// Polling constants for backend-mediated signatures: a fixed interval with a
// bounded attempt budget, giving a 60-second ceiling by default.
const (
	DefaultPollInterval    = 2 * time.Second
	DefaultMaxPollAttempts = 30
)

// Builder obtains an unsigned payload from the transaction backend.
// *backend.Client satisfies it.
type Builder interface {
	BuildTransaction(ctx context.Context, req backend.BuildRequest) ([]byte, error)
}

// Poller observes and resolves pending backend signatures.
// *backend.Client satisfies it.
type Poller interface {
	Status(ctx context.Context, pollID string) (*backend.StatusResponse, error)
	ManualSign(ctx context.Context, pollID string) ([]byte, error)
}

// Submitter broadcasts a signed payload. *backend.Client satisfies it.
type Submitter interface {
	Submit(ctx context.Context, signed []byte) (string, error)
}

// Dispatcher selects and drives a signing channel. *signer.Router satisfies it.
type Dispatcher interface {
	SelectChannel(ctx context.Context) (signer.SignerChannel, error)
	Dispatch(ctx context.Context, ch signer.SignerChannel, unsigned []byte) (*signer.SignatureHandle, error)
}

// Config wires a session's collaborators.
type Config struct {
	Builder    Builder
	Dispatcher Dispatcher
	Poller     Poller
	Submitter  Submitter

	// Mode selects how a pending backend signature is resolved.
	// Defaults to AwaitModePoll.
	Mode types.AwaitMode

	PollInterval    time.Duration
	MaxPollAttempts int
}

// Session owns one PendingTransaction for its whole lifecycle. State
// transitions are strictly sequential: a per-session lock guards every
// advancement, and only the signature wait blocks without holding it.
type Session struct {
	cfg Config

	mu          sync.Mutex
	tx          *types.PendingTransaction
	handle      *signer.SignatureHandle
	receipt     *types.TransactionReceipt
	terminalErr error

	cancelOnce sync.Once
	cancelled  chan struct{}
}

// New creates a session with defaults applied.
func New(cfg Config) *Session {
	if cfg.Mode == "" {
		cfg.Mode = types.AwaitModePoll
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = DefaultMaxPollAttempts
	}
	return &Session{
		cfg:       cfg,
		cancelled: make(chan struct{}),
	}
}

// ValidateRecipient checks that an address is plausible before a build is
// attempted. The builder performs its own authoritative validation; this
// catches obvious mistakes before a network round trip.
func ValidateRecipient(address string) error {
	raw, err := base58.Decode(address)
	if err != nil || len(raw) != 32 {
		return apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Invalid recipient address",
			"must be a base58-encoded 32-byte public key",
			400,
		)
	}
	return nil
}

// ValidateAmount checks a transfer amount against an available balance.
// An empty available balance skips the comparison.
func ValidateAmount(amount, available string) error {
	amt, err := strconv.ParseFloat(amount, 64)
	if err != nil || amt <= 0 {
		return apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Invalid amount",
			"must be a positive number",
			400,
		)
	}
	if available == "" {
		return nil
	}
	avail, err := strconv.ParseFloat(available, 64)
	if err != nil {
		return nil
	}
	if amt > avail {
		return apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Insufficient balance",
			fmt.Sprintf("amount %s exceeds available %s", amount, available),
			400,
		)
	}
	return nil
}

// Build asks the builder collaborator for an unsigned payload and creates
// the pending transaction. Each call on a fresh session yields an
// independent transaction ID.
func (s *Session) Build(ctx context.Context, req backend.BuildRequest) (*types.PendingTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		return nil, apperrors.NewWithDetail(
			apperrors.ErrCodeConflict,
			"Session already has a transaction",
			s.tx.ID.String(),
			409,
		)
	}

	unsigned, err := s.cfg.Builder.BuildTransaction(ctx, req)
	if err != nil {
		if _, ok := apperrors.IsAppError(err); !ok {
			err = apperrors.BuildRejected(err.Error())
		}
		return nil, err
	}

	s.tx = &types.PendingTransaction{
		ID:              uuid.New(),
		UnsignedPayload: unsigned,
		Status:          types.StatusBuilt,
		CreatedAt:       time.Now(),
	}
	return s.snapshotLocked(), nil
}

// Dispatch selects a signing channel and sends the unsigned payload down it.
// A synchronous dispatch failure is terminal. A channel that answers
// immediately moves the session straight to Signed without a poll loop.
func (s *Session) Dispatch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return apperrors.NewWithDetail(apperrors.ErrCodeConflict, "No transaction built", "", 409)
	}
	if s.tx.Status.Terminal() {
		return s.terminalErr
	}
	if s.tx.Status != types.StatusBuilt {
		return apperrors.NewWithDetail(
			apperrors.ErrCodeConflict,
			"Transaction already dispatched",
			string(s.tx.Status),
			409,
		)
	}

	ch, err := s.cfg.Dispatcher.SelectChannel(ctx)
	if err != nil {
		s.failLocked(err)
		return err
	}

	s.tx.Channel = ch.Kind()
	s.tx.Status = types.StatusDispatched

	handle, err := s.cfg.Dispatcher.Dispatch(ctx, ch, s.tx.UnsignedPayload)
	if err != nil {
		s.failLocked(err)
		return err
	}
	s.handle = handle

	if handle.Resolved() {
		signed, herr := handle.Await(ctx)
		if herr != nil {
			s.failLocked(herr)
			return herr
		}
		s.tx.SignedPayload = signed
		s.tx.Status = types.StatusSigned
		return nil
	}

	s.tx.Status = types.StatusAwaitingSignature
	return nil
}

// AwaitSignature blocks until the signature arrives, the attempt budget is
// exhausted, or the session is cancelled. Backend-mediated signatures in
// poll mode are driven by fixed-interval status checks; deep-link and
// manual-mode signatures wait for external resolution. The cancellation flag
// is checked between every wait, so no further status request is issued
// after a cancel.
func (s *Session) AwaitSignature(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if s.tx == nil {
		s.mu.Unlock()
		return nil, apperrors.NewWithDetail(apperrors.ErrCodeConflict, "No transaction built", "", 409)
	}
	if s.tx.Status == types.StatusSigned || s.tx.Status == types.StatusSubmitted {
		signed := s.tx.SignedPayload
		s.mu.Unlock()
		return signed, nil
	}
	if s.tx.Status.Terminal() {
		err := s.terminalErr
		s.mu.Unlock()
		return nil, err
	}
	if s.tx.Status != types.StatusAwaitingSignature {
		s.mu.Unlock()
		return nil, apperrors.NewWithDetail(
			apperrors.ErrCodeConflict,
			"Transaction is not awaiting a signature",
			string(s.tx.Status),
			409,
		)
	}
	handle := s.handle
	s.mu.Unlock()

	var signed []byte
	var err error
	if handle.Kind() == types.ChannelBackendMediated && s.cfg.Mode == types.AwaitModePoll && handle.PollID() != "" {
		signed, err = s.pollForSignature(ctx, handle)
	} else {
		signed, err = s.waitForResolution(ctx, handle)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx.Status.Terminal() {
		if s.terminalErr != nil {
			return nil, s.terminalErr
		}
		return s.tx.SignedPayload, nil
	}
	if err != nil {
		if appErr, ok := apperrors.IsAppError(err); ok && appErr.Code == apperrors.ErrCodeSignatureTimeout {
			s.timeoutLocked(appErr)
		} else {
			s.failLocked(err)
		}
		return nil, err
	}

	s.tx.SignedPayload = signed
	s.tx.Status = types.StatusSigned
	return signed, nil
}

// pollForSignature drives the fixed-interval status loop. External
// resolution of the handle (a manual sign racing the loop) wins immediately.
func (s *Session) pollForSignature(ctx context.Context, handle *signer.SignatureHandle) ([]byte, error) {
	timer := time.NewTimer(s.cfg.PollInterval)
	defer timer.Stop()
	if !timer.Stop() {
		<-timer.C
	}

	for attempt := 0; attempt < s.cfg.MaxPollAttempts; attempt++ {
		select {
		case <-s.cancelled:
			return nil, apperrors.UserRejected()
		default:
		}
		if handle.Resolved() {
			return handle.Await(ctx)
		}

		resp, err := s.cfg.Poller.Status(ctx, handle.PollID())
		if err == nil {
			switch resp.Status {
			case backend.SignStatusSigned:
				return resp.SignedPayload, nil
			case backend.SignStatusFailed:
				return nil, apperrors.SignerRejected("backend reported signing failure")
			}
		}
		// Transient backend errors consume an attempt; the budget is the
		// only retry policy.

		if attempt == s.cfg.MaxPollAttempts-1 {
			break
		}

		timer.Reset(s.cfg.PollInterval)
		select {
		case <-timer.C:
		case <-s.cancelled:
			return nil, apperrors.UserRejected()
		case <-handle.Done():
			return handle.Await(ctx)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, apperrors.SignatureTimeout(s.cfg.MaxPollAttempts)
}

// waitForResolution waits for an externally-driven handle (deep-link
// callback or manual sign) under the same wall-clock ceiling as polling.
func (s *Session) waitForResolution(ctx context.Context, handle *signer.SignatureHandle) ([]byte, error) {
	budget := s.cfg.PollInterval * time.Duration(s.cfg.MaxPollAttempts)
	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case <-handle.Done():
		return handle.Await(ctx)
	case <-s.cancelled:
		return nil, apperrors.UserRejected()
	case <-timer.C:
		return nil, apperrors.SignatureTimeout(s.cfg.MaxPollAttempts)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ManualSign resolves a pending backend signature through explicit user
// action. It resolves the handle, so a concurrent AwaitSignature observes
// the result regardless of mode.
func (s *Session) ManualSign(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if s.tx == nil || s.tx.Status.Terminal() {
		err := s.terminalErr
		s.mu.Unlock()
		if err == nil {
			err = apperrors.NewWithDetail(apperrors.ErrCodeConflict, "No pending signature", "", 409)
		}
		return nil, err
	}
	handle := s.handle
	s.mu.Unlock()

	if handle == nil || handle.PollID() == "" {
		return nil, apperrors.NewWithDetail(
			apperrors.ErrCodeConflict,
			"No pending backend signature",
			"manual sign requires a backend-mediated dispatch",
			409,
		)
	}

	signed, err := s.cfg.Poller.ManualSign(ctx, handle.PollID())
	if err != nil {
		if _, ok := apperrors.IsAppError(err); !ok {
			err = apperrors.SignerRejected(err.Error())
		}
		return nil, err
	}

	handle.Resolve(signed, nil)
	return signed, nil
}

// ResolveExternal completes the in-flight signature wait from outside the
// session, typically when a wallet callback arrives.
func (s *Session) ResolveExternal(signed []byte, err error) {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()
	if handle != nil {
		handle.Resolve(signed, err)
	}
}

// Cancel records a user rejection. Any in-flight wait stops before its next
// status request; if no wait is in flight the session fails immediately.
// Cancelling a terminal session is a no-op.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.tx != nil && !s.tx.Status.Terminal() {
		s.failLocked(apperrors.UserRejected())
	}
	s.mu.Unlock()

	s.cancelOnce.Do(func() { close(s.cancelled) })
}

// Submit hands the signed payload to the submit collaborator exactly once.
// A repeated call after success returns the original receipt without
// invoking the collaborator again; retrying a rejected submission is the
// caller's decision, never this session's.
func (s *Session) Submit(ctx context.Context) (*types.TransactionReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.receipt != nil {
		return s.receipt, nil
	}
	if s.tx == nil {
		return nil, apperrors.NewWithDetail(apperrors.ErrCodeConflict, "No transaction built", "", 409)
	}
	if s.tx.Status.Terminal() {
		return nil, s.terminalErr
	}
	if s.tx.Status != types.StatusSigned {
		return nil, apperrors.NewWithDetail(
			apperrors.ErrCodeConflict,
			"Transaction is not signed",
			string(s.tx.Status),
			409,
		)
	}

	sig, err := s.cfg.Submitter.Submit(ctx, s.tx.SignedPayload)
	if err != nil {
		if _, ok := apperrors.IsAppError(err); !ok {
			err = apperrors.SubmitRejected(err.Error())
		}
		s.failLocked(err)
		return nil, err
	}

	s.tx.Signature = sig
	s.tx.Status = types.StatusSubmitted
	s.receipt = &types.TransactionReceipt{
		Signature:   sig,
		SubmittedAt: time.Now(),
	}
	return s.receipt, nil
}

// Run drives the full pipeline: build, dispatch, await, submit. It exists so
// call sites do not re-implement the sequence each time.
func (s *Session) Run(ctx context.Context, req backend.BuildRequest) (*types.TransactionReceipt, error) {
	if _, err := s.Build(ctx, req); err != nil {
		return nil, err
	}
	if err := s.Dispatch(ctx); err != nil {
		return nil, err
	}
	if _, err := s.AwaitSignature(ctx); err != nil {
		return nil, err
	}
	return s.Submit(ctx)
}

// RedirectURL returns the wallet deep link of an in-flight deep-link
// signature, empty for other channels or before dispatch.
func (s *Session) RedirectURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return ""
	}
	return s.handle.RedirectURL()
}

// Receipt returns the submission receipt, nil before a successful submit.
func (s *Session) Receipt() *types.TransactionReceipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receipt
}

// Transaction returns a snapshot of the pending transaction, nil before Build.
func (s *Session) Transaction() *types.PendingTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() *types.PendingTransaction {
	if s.tx == nil {
		return nil
	}
	cp := *s.tx
	return &cp
}

func (s *Session) failLocked(err error) {
	s.tx.Status = types.StatusFailed
	s.tx.FailureReason = err.Error()
	s.terminalErr = err
}

func (s *Session) timeoutLocked(err error) {
	s.tx.Status = types.StatusTimedOut
	s.tx.FailureReason = err.Error()
	s.terminalErr = err
}
