package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application-level error with HTTP status code
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeNotFound      = "not_found"
	ErrCodeConflict      = "conflict"
	ErrCodeInternalError = "internal_error"

	ErrCodeEntropyUnavailable       = "entropy_unavailable"
	ErrCodeInvalidPublicKey         = "invalid_public_key"
	ErrCodeMissingCallbackParameter = "missing_callback_parameter"
	ErrCodeDecryptionFailed         = "decryption_failed"
	ErrCodeMalformedPayload         = "malformed_payload"
	ErrCodeSignerUnavailable        = "signer_unavailable"
	ErrCodeSignerRejected           = "signer_rejected"
	ErrCodeDispatchError            = "dispatch_error"
	ErrCodeUserRejected             = "user_rejected"
	ErrCodeSignatureTimeout         = "signature_timeout"
	ErrCodeBuildRejected            = "build_rejected"
	ErrCodeSubmitRejected           = "submit_rejected"
)

// Predefined errors
var (
	ErrNotFound = &AppError{
		Code:       ErrCodeNotFound,
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       ErrCodeBadRequest,
		Message:    "Invalid request parameters",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalError = &AppError{
		Code:       ErrCodeInternalError,
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// New creates a new AppError
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewWithDetail creates a new AppError with additional detail
func NewWithDetail(code, message, detail string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Detail:     detail,
		StatusCode: statusCode,
	}
}

// EntropyUnavailable indicates the platform RNG could not be sourced.
func EntropyUnavailable(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeEntropyUnavailable,
		Message:    "Secure random source unavailable",
		Detail:     detail,
		StatusCode: http.StatusInternalServerError,
	}
}

// InvalidPublicKey indicates a remote public key that is not usable for
// key agreement (wrong length or the identity element).
func InvalidPublicKey(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidPublicKey,
		Message:    "Invalid wallet public key",
		Detail:     detail,
		StatusCode: http.StatusBadRequest,
	}
}

// MissingCallbackParameter indicates a callback URL without a required query parameter.
func MissingCallbackParameter(param string) *AppError {
	return &AppError{
		Code:       ErrCodeMissingCallbackParameter,
		Message:    "Wallet callback is missing a required parameter",
		Detail:     fmt.Sprintf("parameter: %s", param),
		StatusCode: http.StatusBadRequest,
	}
}

// DecryptionFailed indicates an authenticated decryption that did not verify.
// Never retried: a tampered or misrouted payload must surface immediately.
func DecryptionFailed(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeDecryptionFailed,
		Message:    "Wallet payload could not be decrypted",
		Detail:     detail,
		StatusCode: http.StatusBadRequest,
	}
}

// MalformedPayload indicates a decrypted payload with an unusable structure.
func MalformedPayload(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeMalformedPayload,
		Message:    "Decrypted wallet payload is malformed",
		Detail:     detail,
		StatusCode: http.StatusBadRequest,
	}
}

// SignerUnavailable indicates no responsive signer on the selected channel.
func SignerUnavailable(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeSignerUnavailable,
		Message:    "No signer is available",
		Detail:     detail,
		StatusCode: http.StatusServiceUnavailable,
	}
}

// SignerRejected indicates the signer refused to sign the payload.
func SignerRejected(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeSignerRejected,
		Message:    "Signer rejected the transaction",
		Detail:     detail,
		StatusCode: http.StatusForbidden,
	}
}

// DispatchError indicates a synchronous failure while routing to a signer.
func DispatchError(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeDispatchError,
		Message:    "Failed to dispatch transaction to signer",
		Detail:     detail,
		StatusCode: http.StatusBadGateway,
	}
}

// UserRejected indicates the user cancelled an in-flight signing prompt.
func UserRejected() *AppError {
	return &AppError{
		Code:       ErrCodeUserRejected,
		Message:    "Signing was cancelled by the user",
		StatusCode: http.StatusConflict,
	}
}

// SignatureTimeout indicates the poll attempt budget was exhausted.
func SignatureTimeout(attempts int) *AppError {
	return &AppError{
		Code:       ErrCodeSignatureTimeout,
		Message:    "Timed out waiting for signature",
		Detail:     fmt.Sprintf("no signature after %d status checks", attempts),
		StatusCode: http.StatusGatewayTimeout,
	}
}

// BuildRejected indicates the transaction builder refused the request.
func BuildRejected(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeBuildRejected,
		Message:    "Transaction build was rejected",
		Detail:     detail,
		StatusCode: http.StatusBadRequest,
	}
}

// SubmitRejected indicates the broadcast collaborator refused the signed
// transaction. Never auto-retried: resubmitting a signed transaction is unsafe.
func SubmitRejected(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeSubmitRejected,
		Message:    "Transaction submission was rejected",
		Detail:     detail,
		StatusCode: http.StatusBadGateway,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the error code of err, or internal_error if err is not an AppError.
func CodeOf(err error) string {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternalError
}
