package oauth

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failed flow step; it decides the HTTP status.
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindAuthentication
	KindNotFound
	KindStorage
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not_found"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// OAuth 2.0 error codes (RFC 6749 section 5.2).
const (
	CodeInvalidRequest          = "invalid_request"
	CodeInvalidClient           = "invalid_client"
	CodeInvalidGrant            = "invalid_grant"
	CodeUnsupportedGrantType    = "unsupported_grant_type"
	CodeUnsupportedResponseType = "unsupported_response_type"
	CodeAccessDenied            = "access_denied"
	CodeInvalidToken            = "invalid_token"
	CodeServerError             = "server_error"
)

// Error is a protocol failure. Description is safe to show to the caller;
// Err carries the underlying cause for logs only.
type Error struct {
	Kind        ErrorKind
	Code        string
	Description string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.Err)
	}
	return e.Code + ": " + e.Description
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode is the HTTP status for the error at the authorization and token
// endpoints. The bearer guard answers authentication failures with 401 itself.
func (e *Error) StatusCode() int {
	if e.Kind == KindStorage {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

func validationError(code, description string) *Error {
	return &Error{Kind: KindValidation, Code: code, Description: description}
}

func authenticationError(code, description string, err error) *Error {
	return &Error{Kind: KindAuthentication, Code: code, Description: description, Err: err}
}

func notFoundError(code, description string, err error) *Error {
	return &Error{Kind: KindNotFound, Code: code, Description: description, Err: err}
}

func storageError(err error) *Error {
	return &Error{Kind: KindStorage, Code: CodeServerError, Description: "internal server error", Err: err}
}

// AsError extracts an *Error from err. Anything else is treated as a storage
// failure so no internal detail reaches the client.
func AsError(err error) *Error {
	var oauthErr *Error
	if errors.As(err, &oauthErr) {
		return oauthErr
	}
	return storageError(err)
}
