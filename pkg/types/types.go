package types

import (
	"time"

	"github.com/google/uuid"
)

// TxStatus is the lifecycle state of a pending transaction.
type TxStatus string

const (
	StatusBuilt             TxStatus = "built"
	StatusDispatched        TxStatus = "dispatched"
	StatusAwaitingSignature TxStatus = "awaiting_signature"
	StatusSigned            TxStatus = "signed"
	StatusSubmitted         TxStatus = "submitted"
	StatusFailed            TxStatus = "failed"
	StatusTimedOut          TxStatus = "timed_out"
)

// Terminal reports whether a status can no longer change.
func (s TxStatus) Terminal() bool {
	switch s {
	case StatusSubmitted, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// ChannelKind identifies which signing channel a transaction was routed to.
type ChannelKind string

const (
	ChannelLocalExtension  ChannelKind = "local_extension"
	ChannelDeepLink        ChannelKind = "deep_link"
	ChannelBackendMediated ChannelKind = "backend_mediated"
)

// AwaitMode selects how a pending backend signature is resolved. Poll mode
// drives GET /tx/status at a fixed interval; manual mode waits for an
// explicit user-triggered manual-sign call.
type AwaitMode string

const (
	AwaitModePoll   AwaitMode = "poll"
	AwaitModeManual AwaitMode = "manual"
)

// PendingTransaction tracks an unsigned transaction from build through a
// terminal outcome. It is owned by one signing session until it reaches a
// terminal status, after which it is immutable.
type PendingTransaction struct {
	ID              uuid.UUID   `json:"id"`
	UnsignedPayload []byte      `json:"-"`
	Status          TxStatus    `json:"status"`
	Channel         ChannelKind `json:"channel,omitempty"`
	SignedPayload   []byte      `json:"-"`
	Signature       string      `json:"signature,omitempty"`
	FailureReason   string      `json:"failure_reason,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// HandshakePayload is the decrypted body of a wallet callback. It is only
// ever produced by a successful authenticated decryption.
type HandshakePayload struct {
	SignerPublicKey string
	SessionToken    string
	Extra           map[string]string
}

// TransactionReceipt is returned by a successful submission.
type TransactionReceipt struct {
	Signature   string    `json:"signature"`
	SubmittedAt time.Time `json:"submitted_at"`
}
