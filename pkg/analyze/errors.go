package analyze

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrProviderTimeout is wrapped by ProviderError when the provider did not
// answer within the configured timeout
var ErrProviderTimeout = errors.New("provider call timed out")

// Kind classifies a request failure
type Kind int

const (
	InternalError Kind = iota
	InvalidInput
	MethodNotAllowed
	ConfigurationError
	ProviderError
	NotFound
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case MethodNotAllowed:
		return "method_not_allowed"
	case ConfigurationError:
		return "configuration_error"
	case ProviderError:
		return "provider_error"
	case NotFound:
		return "not_found"
	default:
		return "internal_error"
	}
}

// HTTPStatus returns the status code a failure of this kind is reported with
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidInput:
		return http.StatusBadRequest
	case MethodNotAllowed:
		return http.StatusMethodNotAllowed
	case ProviderError:
		return http.StatusBadGateway
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is a terminal request failure
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus refines the kind's status; a provider timeout is a 504.
func (e *Error) HTTPStatus() int {
	if e.Kind == ProviderError && errors.Is(e.Err, ErrProviderTimeout) {
		return http.StatusGatewayTimeout
	}
	return e.Kind.HTTPStatus()
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err. Errors that are not an *Error are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return InternalError
}

// AsError converts any error into an *Error, classifying unknown errors as internal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return newError(InternalError, fmt.Sprintf("An unexpected error occurred: %v", err), err)
}
