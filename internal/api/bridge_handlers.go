package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/wallet-bridge/wallet-bridge/internal/app"
	apperrors "github.com/wallet-bridge/wallet-bridge/pkg/errors"
)

// handleConnect starts a handshake and returns the wallet deep link.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	resp, err := s.service.Connect(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// CallbackRequest carries the full callback URL the platform received.
type CallbackRequest struct {
	URL string `json:"url"`
}

// CallbackResponse reports the handshake result of a connect callback.
// Sign-result callbacks resolve a transfer instead and return no payload.
type CallbackResponse struct {
	Connected       bool   `json:"connected"`
	SignerPublicKey string `json:"signer_public_key,omitempty"`
	SessionToken    string `json:"session_token,omitempty"`
}

// handleCallback receives a wallet callback URL.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	var req CallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Invalid request body",
			err.Error(),
			http.StatusBadRequest,
		))
		return
	}
	if req.URL == "" {
		s.writeError(w, apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Missing callback URL",
			"",
			http.StatusBadRequest,
		))
		return
	}

	payload, err := s.service.HandleCallback(r.Context(), req.URL)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := CallbackResponse{}
	if payload != nil {
		resp.Connected = true
		resp.SignerPublicKey = payload.SignerPublicKey
		resp.SessionToken = payload.SessionToken
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleDisconnect discards the handshake session.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.service.Disconnect(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// handleStartTransfer builds and dispatches a transfer.
func (s *Server) handleStartTransfer(w http.ResponseWriter, r *http.Request) {
	var req app.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Invalid request body",
			err.Error(),
			http.StatusBadRequest,
		))
		return
	}

	status, err := s.service.StartTransfer(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, status)
}

// handleGetTransfer reports the state of one transfer.
func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.transferID(w, r)
	if !ok {
		return
	}

	status, err := s.service.GetTransfer(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// handleCancelTransfer records a user rejection.
func (s *Server) handleCancelTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.transferID(w, r)
	if !ok {
		return
	}

	status, err := s.service.CancelTransfer(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// handleManualSign resolves a pending backend signature.
func (s *Server) handleManualSign(w http.ResponseWriter, r *http.Request) {
	id, ok := s.transferID(w, r)
	if !ok {
		return
	}

	status, err := s.service.ManualSign(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) transferID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.writeError(w, apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Invalid transfer ID",
			err.Error(),
			http.StatusBadRequest,
		))
		return uuid.Nil, false
	}
	return id, true
}
