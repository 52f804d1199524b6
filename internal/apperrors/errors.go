// internal/apperrors/errors.go
package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v4"
	"gorm.io/gorm"
)

type Kind string

const (
	KindValidation           Kind = "validation"
	KindNotFound             Kind = "not_found"
	KindConflict             Kind = "conflict"
	KindPayloadTooLarge      Kind = "payload_too_large"
	KindUnsupportedMediaType Kind = "unsupported_media_type"
	KindNetwork              Kind = "network"
	KindServer               Kind = "server"
	KindAuthExpired          Kind = "auth_expired"
	KindUnknown              Kind = "unknown"
)

// Error is the single normalized shape every failure takes before it is
// shown or serialized. Callers branch on Kind, never on transport shapes.
type Error struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: kindRetryable(kind)}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Retryable: kindRetryable(kind), cause: cause}
}

func Validation(message string) *Error {
	return New(KindValidation, message)
}

func kindRetryable(kind Kind) bool {
	switch kind {
	case KindNetwork, KindServer:
		return true
	}
	return false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var tagged *Error
	return errors.As(err, &tagged) && tagged.Kind == kind
}

// Is allows errors.Is matching by kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// Normalize converts any raw error into the tagged shape. It is applied at
// every boundary where a collaborator call is awaited, so a malformed or
// duck-typed error can never reach a consumer untransformed.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return Wrap(KindValidation, validationMessage(verrs), err)
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Wrap(KindNotFound, "The requested record no longer exists.", err)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return Wrap(KindConflict, "A matching record already exists.", err)
	}

	if errors.Is(err, jwt.ErrTokenExpired) {
		return Wrap(KindAuthExpired, "Your session has expired. Please sign in again.", err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindNetwork, "The request timed out. Please try again.", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Wrap(KindNetwork, "A network error occurred. Please check your connection and try again.", err)
	}

	var awsErr awserr.RequestFailure
	if errors.As(err, &awsErr) {
		switch {
		case awsErr.StatusCode() == http.StatusNotFound:
			return Wrap(KindNotFound, "The stored file could not be found.", err)
		case awsErr.StatusCode() >= 500:
			return Wrap(KindServer, "The storage service is temporarily unavailable. Please try again.", err)
		}
		return Wrap(KindServer, "The storage service rejected the request.", err)
	}

	// Known runtime signatures get a more specific message than the fallback.
	msg := err.Error()
	if strings.Contains(msg, "image") && (strings.Contains(msg, "decode") || strings.Contains(msg, "convert")) {
		return Wrap(KindUnsupportedMediaType, "The file could not be processed as an image. Please try a different file.", err)
	}
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") {
		return Wrap(KindNetwork, "A network error occurred. Please check your connection and try again.", err)
	}

	return Wrap(KindUnknown, "Something went wrong. Please try again or contact support.", err)
}

func validationMessage(verrs validator.ValidationErrors) string {
	if len(verrs) == 0 {
		return "Validation failed."
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("Field %q is required.", field)
	case "email":
		return fmt.Sprintf("Field %q must be a valid email address.", field)
	case "datetime":
		return fmt.Sprintf("Field %q must be a date in YYYY-MM-DD format.", field)
	case "min":
		return fmt.Sprintf("Field %q is too short or too small (minimum %s).", field, fe.Param())
	case "max":
		return fmt.Sprintf("Field %q is too long or too large (maximum %s).", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("Field %q must be one of: %s.", field, fe.Param())
	case "gt":
		return fmt.Sprintf("Field %q must be greater than %s.", field, fe.Param())
	case "eq":
		return fmt.Sprintf("Field %q must be accepted.", field)
	}
	return fmt.Sprintf("Field %q is invalid.", field)
}

// HTTPStatus maps an error kind to the status code the API responds with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case KindAuthExpired:
		return http.StatusUnauthorized
	case KindNetwork:
		return http.StatusBadGateway
	case KindServer:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
