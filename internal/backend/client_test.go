package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/wallet-bridge/wallet-bridge/pkg/errors"
)

func TestBuildTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tx/build", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req BuildRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sender", req.From)
		assert.Equal(t, "2.5", req.Amount)

		json.NewEncoder(w).Encode(map[string]string{
			"unsignedPayload": base64.StdEncoding.EncodeToString([]byte("unsigned-tx")),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	payload, err := c.BuildTransaction(context.Background(), BuildRequest{
		From: "sender", To: "recipient", Amount: "2.5", Asset: "SOL",
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("unsigned-tx"), payload)
}

func TestBuildTransactionBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"code":    "build_rejected",
			"message": "Transaction build was rejected",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.BuildTransaction(context.Background(), BuildRequest{})
	require.Error(t, err)

	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok, "backend error bodies surface as app errors")
	assert.Equal(t, apperrors.ErrCodeBuildRejected, appErr.Code)
	assert.Equal(t, http.StatusBadRequest, appErr.StatusCode)
}

func TestBuildTransactionPlainError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.BuildTransaction(context.Background(), BuildRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestRegisterSignImmediate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tx/sign", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "signer-addr", req["signerAddress"])

		json.NewEncoder(w).Encode(map[string]string{
			"status":        SignStatusSigned,
			"signedPayload": base64.StdEncoding.EncodeToString([]byte("signed-tx")),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.RegisterSign(context.Background(), []byte("unsigned-tx"), "signer-addr")
	require.NoError(t, err)
	assert.Equal(t, SignStatusSigned, resp.Status)
	assert.Equal(t, []byte("signed-tx"), resp.SignedPayload)
}

func TestRegisterSignPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"status": SignStatusPending,
			"pollId": "poll-42",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.RegisterSign(context.Background(), []byte("unsigned-tx"), "signer-addr")
	require.NoError(t, err)
	assert.Equal(t, SignStatusPending, resp.Status)
	assert.Equal(t, "poll-42", resp.PollID)
	assert.Nil(t, resp.SignedPayload)
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/tx/status/poll-42", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"status": SignStatusPending})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.Status(context.Background(), "poll-42")
	require.NoError(t, err)
	assert.Equal(t, SignStatusPending, resp.Status)
}

func TestManualSign(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tx/manual-sign", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "poll-42", req["pollId"])

		json.NewEncoder(w).Encode(map[string]string{
			"status":        SignStatusSigned,
			"signedPayload": base64.StdEncoding.EncodeToString([]byte("signed-tx")),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	signed, err := c.ManualSign(context.Background(), "poll-42")
	require.NoError(t, err)
	assert.Equal(t, []byte("signed-tx"), signed)
}

func TestSubmit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tx/submit", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"signature": "5sig"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	sig, err := c.Submit(context.Background(), []byte("signed-tx"))
	require.NoError(t, err)
	assert.Equal(t, "5sig", sig)
}

func TestSubmitEmptySignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Submit(context.Background(), []byte("signed-tx"))
	assert.Error(t, err)
}

func TestRateLimiterHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": SignStatusPending})
	}))
	defer srv.Close()

	// burst 1: the second request must wait ~1s, far past the deadline
	c := NewClient(srv.URL, WithRateLimit(1, 1))

	_, err := c.Status(context.Background(), "poll-1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Status(ctx, "poll-1")
	assert.Error(t, err)
}
