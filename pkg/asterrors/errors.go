// Package asterrors defines the typed error taxonomy shared across astool's
// core packages.
package asterrors

import (
	"errors"
	"fmt"
)

// Code identifies one of the error kinds the core design calls out.
type Code string

const (
	ConfigNotFound   Code = "config_not_found"
	NoCredentials    Code = "no_credentials"
	Transport        Code = "transport"
	ProtocolMalformed Code = "protocol_malformed"
	SessionInvalid   Code = "session_invalid"
	IntegrityFailure Code = "integrity_failure"
	DownloadFailure  Code = "download_failure"
	FileSystem       Code = "filesystem"
)

// HumanMessages gives a short human-readable description per code, the way
// BridgeStateHumanErrors does for the teacher's bridge-state codes.
var HumanMessages = map[Code]string{
	ConfigNotFound:    "no server profile matches the requested region/bundle",
	NoCredentials:     "operation requires an account but the memo has none",
	Transport:         "HTTP transport failure",
	ProtocolMalformed: "response was not the expected protocol shape",
	SessionInvalid:    "session is no longer valid and must be re-authenticated",
	IntegrityFailure:  "downloaded content failed an integrity check",
	DownloadFailure:   "a download task failed",
	FileSystem:        "local filesystem operation failed",
}

// Error is a typed error carrying a Code and an optional wrapped cause.
type Error struct {
	Code  Code
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Msg == "" {
		e.Msg = HumanMessages[e.Code]
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap builds an *Error that wraps cause under the given code.
func Wrap(code Code, cause error, msg string) *Error {
	return &Error{Code: code, Msg: msg, Cause: cause}
}

// Is reports whether err (or anything it wraps) carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// ReturnCode represents a non-zero business return code from the server.
// It is never raised as an error; it's surfaced to callers as a value.
type ReturnCode int

// Zero reports whether this return code indicates success.
func (r ReturnCode) Zero() bool { return r == 0 }
