// Package errors provides structured error handling for the identity core.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Validation errors: malformed input, rejected synchronously.
	CodeVerifierLengthOutOfRange Code = "PKCE_VERIFIER_LENGTH_OUT_OF_RANGE"
	CodeSessionInvalidTTL        Code = "SESSION_INVALID_TTL"
	CodeSessionEmptyDeviceID     Code = "SESSION_EMPTY_DEVICE_ID"
	CodeDeviceEmptyClientID      Code = "DEVICE_EMPTY_CLIENT_ID"
	CodeEnvelopeMalformed        Code = "SECRET_ENVELOPE_MALFORMED"
	CodeEnvelopeVersionUnknown   Code = "SECRET_ENVELOPE_VERSION_UNKNOWN"

	// Authorization errors: terminal signals, never silently retried.
	CodeLoginLocked          Code = "LOGIN_RATE_LIMITED"
	CodeDeviceCodeExpired    Code = "DEVICE_CODE_EXPIRED"
	CodeDeviceCodeDenied     Code = "DEVICE_CODE_DENIED"
	CodeDeviceCodeConsumed   Code = "DEVICE_CODE_CONSUMED"
	CodeDeviceStateTerminal  Code = "DEVICE_STATE_TERMINAL"
	CodeSessionNotFound      Code = "SESSION_NOT_FOUND"
	CodeSessionExpired       Code = "SESSION_EXPIRED"
	CodeApproverUnauthorized Code = "APPROVER_UNAUTHORIZED"

	// Cryptographic errors: always fail closed.
	CodeDecryptFailed Code = "SECRET_DECRYPT_FAILED"
	CodeKeyMissing    Code = "SECRET_KEY_MISSING"

	// Storage errors.
	CodeNotFound Code = "NOT_FOUND"
	CodeStorage  Code = "STORAGE_FAILURE"
)

// HTTPStatus maps an error code to an HTTP status for the device endpoints.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeVerifierLengthOutOfRange, CodeSessionInvalidTTL, CodeSessionEmptyDeviceID,
		CodeDeviceEmptyClientID, CodeEnvelopeMalformed, CodeEnvelopeVersionUnknown:
		return http.StatusBadRequest
	case CodeLoginLocked:
		return http.StatusTooManyRequests
	case CodeSessionNotFound, CodeSessionExpired, CodeApproverUnauthorized:
		return http.StatusUnauthorized
	case CodeDeviceCodeExpired, CodeDeviceCodeDenied, CodeDeviceCodeConsumed, CodeDeviceStateTerminal:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
