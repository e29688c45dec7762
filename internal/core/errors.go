package core

import (
	"errors"
	"fmt"
)

// Error codes for domain errors.
const (
	ErrCodeValidation  = "validation_error"
	ErrCodeAuth        = "auth_error"
	ErrCodePersistence = "persistence_error"
	ErrCodeBadRequest  = "bad_request"
	ErrCodeRateLimited = "rate_limited"
	ErrCodeInternal    = "internal_error"
)

var (
	// ErrUnknownReceiver is returned by a MessageGateway when the receiver has no account.
	ErrUnknownReceiver = errors.New("unknown receiver")
	// ErrUnknownAccount is returned by a Directory lookup for a missing identity.
	ErrUnknownAccount = errors.New("unknown account")
	// ErrForeignPersonalGroup guards the personal group invariant.
	ErrForeignPersonalGroup = errors.New("personal group belongs to another identity")
	// ErrSessionClosed is returned when joining a group with a torn-down session.
	ErrSessionClosed = errors.New("session closed")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// ValidationError reports malformed or missing fields. The connection stays open.
func ValidationError(msg string) *CoreError {
	return coreError(ErrCodeValidation, msg)
}

// AuthError reports an anonymous or unknown identity on connect.
func AuthError(msg string) *CoreError {
	return coreError(ErrCodeAuth, msg)
}

// PersistenceError reports a store failure or an unknown receiver.
func PersistenceError(format string, args ...any) *CoreError {
	return coreError(ErrCodePersistence, fmt.Sprintf(format, args...))
}

// RateLimitedError is sent when a connection exceeds its inbound event budget.
func RateLimitedError() *CoreError {
	return coreError(ErrCodeRateLimited, "rate limited")
}

// BadRequestError reports an undecodable inbound payload.
func BadRequestError(msg string) *CoreError {
	return coreError(ErrCodeBadRequest, msg)
}

// HasCode reports whether err is a CoreError with the given code.
func HasCode(err error, code string) bool {
	var ce *CoreError
	return errors.As(err, &ce) && ce.Code == code
}
