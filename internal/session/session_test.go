package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-bridge/wallet-bridge/internal/backend"
	"github.com/wallet-bridge/wallet-bridge/internal/signer"
	apperrors "github.com/wallet-bridge/wallet-bridge/pkg/errors"
	"github.com/wallet-bridge/wallet-bridge/pkg/types"
)

type fakeBuilder struct {
	payload []byte
	err     error
	calls   int
}

func (f *fakeBuilder) BuildTransaction(ctx context.Context, req backend.BuildRequest) ([]byte, error) {
	f.calls++
	return f.payload, f.err
}

type fakePoller struct {
	mu        sync.Mutex
	calls     int
	signAfter int // return signed once calls reaches this count; 0 means never
	signed    []byte
	failAfter int // return a failed status once calls reaches this count
	statusErr error

	manualSigned []byte
	manualErr    error
	manualCalls  int
}

func (f *fakePoller) Status(ctx context.Context, pollID string) (*backend.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.failAfter > 0 && f.calls >= f.failAfter {
		return &backend.StatusResponse{Status: backend.SignStatusFailed}, nil
	}
	if f.signAfter > 0 && f.calls >= f.signAfter {
		return &backend.StatusResponse{Status: backend.SignStatusSigned, SignedPayload: f.signed}, nil
	}
	return &backend.StatusResponse{Status: backend.SignStatusPending}, nil
}

func (f *fakePoller) ManualSign(ctx context.Context, pollID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manualCalls++
	return f.manualSigned, f.manualErr
}

func (f *fakePoller) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSubmitter struct {
	mu        sync.Mutex
	signature string
	err       error
	calls     int
}

func (f *fakeSubmitter) Submit(ctx context.Context, signed []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.signature, f.err
}

type fakeExtension struct {
	pingErr error
	signed  []byte
	signErr error
}

func (f *fakeExtension) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeExtension) SignTransaction(ctx context.Context, unsigned []byte) ([]byte, error) {
	return f.signed, f.signErr
}

type fakeRegistrar struct {
	resp *backend.SignResponse
	err  error
}

func (f *fakeRegistrar) RegisterSign(ctx context.Context, unsigned []byte, signerAddress string) (*backend.SignResponse, error) {
	return f.resp, f.err
}

func backendOnlyRouter(registrar signer.SignRegistrar) *signer.Router {
	return signer.NewRouter(
		signer.Environment{},
		nil,
		signer.NewBackendChannel(registrar, "signer-address"),
	)
}

func pendingConfig(poller *fakePoller, submitter *fakeSubmitter) Config {
	return Config{
		Builder:    &fakeBuilder{payload: []byte("unsigned-tx")},
		Dispatcher: backendOnlyRouter(&fakeRegistrar{resp: &backend.SignResponse{Status: backend.SignStatusPending, PollID: "poll-1"}}),
		Poller:     poller,
		Submitter:  submitter,

		PollInterval:    time.Millisecond,
		MaxPollAttempts: 5,
	}
}

func TestBuildCreatesPendingTransaction(t *testing.T) {
	builder := &fakeBuilder{payload: []byte("unsigned-tx")}
	s := New(Config{Builder: builder})

	tx, err := s.Build(context.Background(), backend.BuildRequest{From: "a", To: "b", Amount: "1"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusBuilt, tx.Status)
	assert.Equal(t, []byte("unsigned-tx"), tx.UnsignedPayload)
	assert.Equal(t, 1, builder.calls)

	// a second session produces an independent transaction identity
	s2 := New(Config{Builder: builder})
	tx2, err := s2.Build(context.Background(), backend.BuildRequest{From: "a", To: "b", Amount: "1"})
	require.NoError(t, err)
	assert.NotEqual(t, tx.ID, tx2.ID)
}

func TestBuildRejectedLeavesNoTransaction(t *testing.T) {
	s := New(Config{Builder: &fakeBuilder{err: errors.New("insufficient funds")}})

	_, err := s.Build(context.Background(), backend.BuildRequest{})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeBuildRejected, apperrors.CodeOf(err))
	assert.Nil(t, s.Transaction())
}

func TestBuildTwiceConflicts(t *testing.T) {
	s := New(Config{Builder: &fakeBuilder{payload: []byte("x")}})

	_, err := s.Build(context.Background(), backend.BuildRequest{})
	require.NoError(t, err)
	_, err = s.Build(context.Background(), backend.BuildRequest{})
	assert.Equal(t, apperrors.ErrCodeConflict, apperrors.CodeOf(err))
}

func TestDispatchExtensionSignsImmediately(t *testing.T) {
	poller := &fakePoller{}
	router := signer.NewRouter(
		signer.Environment{Extension: &fakeExtension{signed: []byte("signed-tx")}},
		nil,
		nil,
	)
	s := New(Config{
		Builder:    &fakeBuilder{payload: []byte("unsigned-tx")},
		Dispatcher: router,
		Poller:     poller,
	})

	_, err := s.Build(context.Background(), backend.BuildRequest{})
	require.NoError(t, err)
	require.NoError(t, s.Dispatch(context.Background()))

	tx := s.Transaction()
	assert.Equal(t, types.StatusSigned, tx.Status)
	assert.Equal(t, types.ChannelLocalExtension, tx.Channel)

	signed, err := s.AwaitSignature(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("signed-tx"), signed)
	assert.Equal(t, 0, poller.callCount(), "no poll loop for a synchronously signed transaction")
}

func TestDispatchFailureIsTerminal(t *testing.T) {
	s := New(Config{
		Builder:    &fakeBuilder{payload: []byte("x")},
		Dispatcher: backendOnlyRouter(&fakeRegistrar{err: errors.New("backend down")}),
	})

	_, err := s.Build(context.Background(), backend.BuildRequest{})
	require.NoError(t, err)
	err = s.Dispatch(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeDispatchError, apperrors.CodeOf(err))
	assert.Equal(t, types.StatusFailed, s.Transaction().Status)

	// terminal state is sticky
	_, err2 := s.AwaitSignature(context.Background())
	assert.Equal(t, err, err2)
}

func TestPollLoopFindsSignature(t *testing.T) {
	poller := &fakePoller{signAfter: 3, signed: []byte("signed-tx")}
	s := New(pendingConfig(poller, nil))

	_, err := s.Build(context.Background(), backend.BuildRequest{})
	require.NoError(t, err)
	require.NoError(t, s.Dispatch(context.Background()))
	assert.Equal(t, types.StatusAwaitingSignature, s.Transaction().Status)

	signed, err := s.AwaitSignature(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("signed-tx"), signed)
	assert.Equal(t, types.StatusSigned, s.Transaction().Status)
	assert.Equal(t, 3, poller.callCount())
}

func TestPollLoopExhaustsAttemptBudget(t *testing.T) {
	poller := &fakePoller{}
	s := New(pendingConfig(poller, nil))

	_, err := s.Build(context.Background(), backend.BuildRequest{})
	require.NoError(t, err)
	require.NoError(t, s.Dispatch(context.Background()))

	_, err = s.AwaitSignature(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSignatureTimeout, apperrors.CodeOf(err))
	assert.Equal(t, types.StatusTimedOut, s.Transaction().Status)
	assert.Equal(t, 5, poller.callCount(), "no status check past the attempt budget")
}

func TestPollLoopTreatsErrorsAsAttempts(t *testing.T) {
	poller := &fakePoller{statusErr: errors.New("connection refused")}
	s := New(pendingConfig(poller, nil))

	_, err := s.Build(context.Background(), backend.BuildRequest{})
	require.NoError(t, err)
	require.NoError(t, s.Dispatch(context.Background()))

	_, err = s.AwaitSignature(context.Background())
	assert.Equal(t, apperrors.ErrCodeSignatureTimeout, apperrors.CodeOf(err))
	assert.Equal(t, 5, poller.callCount())
}

func TestPollLoopBackendReportsFailure(t *testing.T) {
	poller := &fakePoller{failAfter: 2}
	s := New(pendingConfig(poller, nil))

	_, err := s.Build(context.Background(), backend.BuildRequest{})
	require.NoError(t, err)
	require.NoError(t, s.Dispatch(context.Background()))

	_, err = s.AwaitSignature(context.Background())
	assert.Equal(t, apperrors.ErrCodeSignerRejected, apperrors.CodeOf(err))
	assert.Equal(t, types.StatusFailed, s.Transaction().Status)
}

func TestCancelStopsPolling(t *testing.T) {
	poller := &fakePoller{}
	cfg := pendingConfig(poller, nil)
	cfg.PollInterval = 20 * time.Millisecond
	cfg.MaxPollAttempts = 30
	s := New(cfg)

	_, err := s.Build(context.Background(), backend.BuildRequest{})
	require.NoError(t, err)
	require.NoError(t, s.Dispatch(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := s.AwaitSignature(context.Background())
		done <- err
	}()

	time.Sleep(30 * time.Millisecond)
	s.Cancel()

	select {
	case err := <-done:
		assert.Equal(t, apperrors.ErrCodeUserRejected, apperrors.CodeOf(err))
	case <-time.After(time.Second):
		t.Fatal("await did not return after cancel")
	}

	callsAtCancel := poller.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, callsAtCancel, poller.callCount(), "status checks must stop after cancel")
	assert.Equal(t, types.StatusFailed, s.Transaction().Status)
}

func TestCancelAfterTerminalIsNoop(t *testing.T) {
	poller := &fakePoller{signAfter: 1, signed: []byte("signed-tx")}
	submitter := &fakeSubmitter{signature: "sig-1"}
	s := New(pendingConfig(poller, submitter))

	_, err := s.Build(context.Background(), backend.BuildRequest{})
	require.NoError(t, err)
	require.NoError(t, s.Dispatch(context.Background()))
	_, err = s.AwaitSignature(context.Background())
	require.NoError(t, err)
	_, err = s.Submit(context.Background())
	require.NoError(t, err)

	s.Cancel()
	assert.Equal(t, types.StatusSubmitted, s.Transaction().Status)
}

func TestSubmitExactlyOnce(t *testing.T) {
	poller := &fakePoller{signAfter: 1, signed: []byte("signed-tx")}
	submitter := &fakeSubmitter{signature: "sig-1"}
	s := New(pendingConfig(poller, submitter))

	_, err := s.Build(context.Background(), backend.BuildRequest{})
	require.NoError(t, err)
	require.NoError(t, s.Dispatch(context.Background()))
	_, err = s.AwaitSignature(context.Background())
	require.NoError(t, err)

	first, err := s.Submit(context.Background())
	require.NoError(t, err)
	second, err := s.Submit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, submitter.calls)
	assert.Equal(t, "sig-1", s.Transaction().Signature)
}

func TestSubmitRejectedIsTerminal(t *testing.T) {
	poller := &fakePoller{signAfter: 1, signed: []byte("signed-tx")}
	submitter := &fakeSubmitter{err: errors.New("blockhash expired")}
	s := New(pendingConfig(poller, submitter))

	_, err := s.Build(context.Background(), backend.BuildRequest{})
	require.NoError(t, err)
	require.NoError(t, s.Dispatch(context.Background()))
	_, err = s.AwaitSignature(context.Background())
	require.NoError(t, err)

	_, err = s.Submit(context.Background())
	assert.Equal(t, apperrors.ErrCodeSubmitRejected, apperrors.CodeOf(err))
	assert.Equal(t, types.StatusFailed, s.Transaction().Status)
	assert.Equal(t, 1, submitter.calls)

	// no automatic retry on a later call
	_, err = s.Submit(context.Background())
	assert.Equal(t, apperrors.ErrCodeSubmitRejected, apperrors.CodeOf(err))
	assert.Equal(t, 1, submitter.calls)
}

func TestSubmitBeforeSignatureConflicts(t *testing.T) {
	s := New(pendingConfig(&fakePoller{}, &fakeSubmitter{}))

	_, err := s.Build(context.Background(), backend.BuildRequest{})
	require.NoError(t, err)
	_, err = s.Submit(context.Background())
	assert.Equal(t, apperrors.ErrCodeConflict, apperrors.CodeOf(err))
}

func TestExternalResolutionCompletesAwait(t *testing.T) {
	poller := &fakePoller{}
	cfg := pendingConfig(poller, nil)
	cfg.PollInterval = 20 * time.Millisecond
	s := New(cfg)

	_, err := s.Build(context.Background(), backend.BuildRequest{})
	require.NoError(t, err)
	require.NoError(t, s.Dispatch(context.Background()))

	done := make(chan struct{})
	var signed []byte
	var awaitErr error
	go func() {
		signed, awaitErr = s.AwaitSignature(context.Background())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	s.ResolveExternal([]byte("signed-out-of-band"), nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("await did not observe external resolution")
	}
	require.NoError(t, awaitErr)
	assert.Equal(t, []byte("signed-out-of-band"), signed)
	assert.Equal(t, types.StatusSigned, s.Transaction().Status)
}

func TestManualModeWaitsForManualSign(t *testing.T) {
	poller := &fakePoller{manualSigned: []byte("manually-signed")}
	cfg := pendingConfig(poller, nil)
	cfg.Mode = types.AwaitModeManual
	cfg.PollInterval = 20 * time.Millisecond
	s := New(cfg)

	_, err := s.Build(context.Background(), backend.BuildRequest{})
	require.NoError(t, err)
	require.NoError(t, s.Dispatch(context.Background()))

	done := make(chan struct{})
	var signed []byte
	var awaitErr error
	go func() {
		signed, awaitErr = s.AwaitSignature(context.Background())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	_, err = s.ManualSign(context.Background())
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("await did not observe manual sign")
	}
	require.NoError(t, awaitErr)
	assert.Equal(t, []byte("manually-signed"), signed)
	assert.Equal(t, 0, poller.callCount(), "manual mode must not poll")
	assert.Equal(t, 1, poller.manualCalls)
}

func TestManualSignWithoutBackendDispatch(t *testing.T) {
	router := signer.NewRouter(
		signer.Environment{Extension: &fakeExtension{signed: []byte("signed")}},
		nil,
		nil,
	)
	s := New(Config{
		Builder:    &fakeBuilder{payload: []byte("x")},
		Dispatcher: router,
		Poller:     &fakePoller{},
	})

	_, err := s.Build(context.Background(), backend.BuildRequest{})
	require.NoError(t, err)
	require.NoError(t, s.Dispatch(context.Background()))

	_, err = s.ManualSign(context.Background())
	assert.Equal(t, apperrors.ErrCodeConflict, apperrors.CodeOf(err))
}

func TestRunDrivesFullPipeline(t *testing.T) {
	poller := &fakePoller{signAfter: 2, signed: []byte("signed-tx")}
	submitter := &fakeSubmitter{signature: "sig-run"}
	s := New(pendingConfig(poller, submitter))

	receipt, err := s.Run(context.Background(), backend.BuildRequest{From: "a", To: "b", Amount: "1"})
	require.NoError(t, err)
	assert.Equal(t, "sig-run", receipt.Signature)
	assert.False(t, receipt.SubmittedAt.IsZero())
	assert.Equal(t, types.StatusSubmitted, s.Transaction().Status)
}

func TestValidateRecipient(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{
			name:    "valid 32 byte base58 key",
			address: "4Nd1mYvM4nGLcRR5XRg2HPGfTDsLFNtHqvSgdN93pVJf",
			wantErr: false,
		},
		{
			name:    "not base58",
			address: "0xDEADBEEF!",
			wantErr: true,
		},
		{
			name:    "wrong length",
			address: "abc",
			wantErr: true,
		},
		{
			name:    "empty",
			address: "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRecipient(tt.address)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		name      string
		amount    string
		available string
		wantErr   bool
	}{
		{name: "within balance", amount: "1.5", available: "2", wantErr: false},
		{name: "no balance check", amount: "100", available: "", wantErr: false},
		{name: "exceeds balance", amount: "3", available: "2", wantErr: true},
		{name: "zero", amount: "0", available: "2", wantErr: true},
		{name: "negative", amount: "-1", available: "2", wantErr: true},
		{name: "not a number", amount: "abc", available: "2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAmount(tt.amount, tt.available)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
