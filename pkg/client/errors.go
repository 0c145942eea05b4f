package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Sternrassler/servicelayer-client/pkg/batch"
	"github.com/Sternrassler/servicelayer-client/pkg/gate"
	"github.com/Sternrassler/servicelayer-client/pkg/session"
)

// ErrorClass represents a classification of call failures.
type ErrorClass string

const (
	// ErrorClassTransient represents connection resets, timeouts and aborts.
	// Only this class is eligible for retry.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassBusiness represents a request the service rejected.
	ErrorClassBusiness ErrorClass = "business"

	// ErrorClassAuth represents missing credentials or a failed login.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassAdmission represents a call rejected by the concurrency gate.
	ErrorClassAdmission ErrorClass = "admission"

	// ErrorClassParse represents an unreadable batch response.
	ErrorClassParse ErrorClass = "parse"

	// ErrorClassRequest represents a payload or batch envelope that could
	// not be encoded. Nothing was sent.
	ErrorClassRequest ErrorClass = "request"
)

// Error is the classified error returned by every Client call.
type Error struct {
	Class ErrorClass

	// StatusCode is the HTTP status, 0 if no response was received.
	StatusCode int

	// Code and Message come from the service's error payload when present,
	// otherwise from the HTTP status.
	Code    string
	Message string

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("service layer %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("service layer %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// ClassOf returns the class of err, or "" if err is not a classified error.
func ClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsTransient reports whether err may be retried.
func IsTransient(err error) bool {
	return ClassOf(err) == ErrorClassTransient
}

func requestError(message string, err error) *Error {
	return &Error{Class: ErrorClassRequest, Message: message, Err: err}
}

// classify maps an error from a collaborator into the client taxonomy.
func classify(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var authErr *session.AuthError
	switch {
	case errors.As(err, &authErr):
		return &Error{
			Class:      ErrorClassAuth,
			StatusCode: http.StatusUnauthorized,
			Message:    "authentication failed",
			Err:        err,
		}
	case errors.Is(err, gate.ErrAdmissionRejected):
		return &Error{
			Class:      ErrorClassAdmission,
			StatusCode: http.StatusTooManyRequests,
			Message:    "no more concurrent slots available",
			Err:        err,
		}
	case errors.Is(err, batch.ErrParse):
		return &Error{
			Class:   ErrorClassParse,
			Message: "malformed batch response",
			Err:     err,
		}
	default:
		return &Error{
			Class:   ErrorClassTransient,
			Message: "transport failure",
			Err:     err,
		}
	}
}
