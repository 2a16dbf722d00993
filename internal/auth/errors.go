package auth

import (
	"errors"
	"fmt"
)

// Code names an expected failure outcome. Codes are stable and safe to
// return to clients.
type Code string

const (
	CodeInvalidData         Code = "invalid-data"
	CodeInvalidRole         Code = "invalid-role"
	CodeAccountExists       Code = "account-exists"
	CodeCredentialMismatch  Code = "credential-mismatch"
	CodeInvalidRefreshToken Code = "invalid-refresh-token"
	CodeAccountNotFound     Code = "account-not-found"
	CodeInvalidCredentials  Code = "invalid-credentials"
)

// Error is an expected, client-facing failure. Anything else returned by the
// Engine is unexpected and must be treated as a server error.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches another *Error with the same code, so errors.Is(err, ErrAccountExists) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

var (
	ErrAccountExists       = &Error{Code: CodeAccountExists, Message: "account already exists"}
	ErrCredentialMismatch  = &Error{Code: CodeCredentialMismatch, Message: "credentials do not match any account"}
	ErrInvalidRefreshToken = &Error{Code: CodeInvalidRefreshToken, Message: "invalid refresh token"}
	ErrAccountNotFound     = &Error{Code: CodeAccountNotFound, Message: "account not found"}
	ErrInvalidCredentials  = &Error{Code: CodeInvalidCredentials, Message: "old password does not match"}
)

func invalidData(msg string) *Error {
	return &Error{Code: CodeInvalidData, Message: msg}
}

// CodeOf returns the failure code carried by err, or "" when err is nil or
// not an expected failure.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
