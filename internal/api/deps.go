package api

import (
	"context"

	"github.com/google/uuid"

	"github.com/wallet-bridge/wallet-bridge/internal/app"
	"github.com/wallet-bridge/wallet-bridge/pkg/types"
)

// BridgeService is the subset of app.BridgeService used by the API layer.
// It is an interface to allow handler-level unit tests without a backend.
type BridgeService interface {
	Connect(ctx context.Context) (*app.ConnectResponse, error)
	HandleCallback(ctx context.Context, rawURL string) (*types.HandshakePayload, error)
	Disconnect(ctx context.Context)

	StartTransfer(ctx context.Context, req app.TransferRequest) (*app.TransferStatus, error)
	GetTransfer(id uuid.UUID) (*app.TransferStatus, error)
	CancelTransfer(ctx context.Context, id uuid.UUID) (*app.TransferStatus, error)
	ManualSign(ctx context.Context, id uuid.UUID) (*app.TransferStatus, error)
}
