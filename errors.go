package fedapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/broady/fedapi/identifiers"
	"github.com/go-playground/validator/v10"
)

// ErrorCode is a Matrix error code such as "M_NOT_FOUND".
type ErrorCode string

const (
	CodeForbidden       ErrorCode = "M_FORBIDDEN"
	CodeUnknownToken    ErrorCode = "M_UNKNOWN_TOKEN"
	CodeMissingToken    ErrorCode = "M_MISSING_TOKEN"
	CodeUnauthorized    ErrorCode = "M_UNAUTHORIZED"
	CodeBadJSON         ErrorCode = "M_BAD_JSON"
	CodeNotJSON         ErrorCode = "M_NOT_JSON"
	CodeNotFound        ErrorCode = "M_NOT_FOUND"
	CodeLimitExceeded   ErrorCode = "M_LIMIT_EXCEEDED"
	CodeUnrecognized    ErrorCode = "M_UNRECOGNIZED"
	CodeMissingParam    ErrorCode = "M_MISSING_PARAM"
	CodeInvalidParam    ErrorCode = "M_INVALID_PARAM"
	CodeTooLarge        ErrorCode = "M_TOO_LARGE"
	CodeUnknown         ErrorCode = "M_UNKNOWN"
	CodeNotImplemented  ErrorCode = "M_NOT_IMPLEMENTED"
	CodeServiceDisabled ErrorCode = "M_SERVICE_UNAVAILABLE"
)

// HTTPStatus maps an ErrorCode to its usual HTTP status code.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case CodeForbidden:
		return http.StatusForbidden
	case CodeUnknownToken, CodeMissingToken, CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeBadJSON, CodeNotJSON, CodeMissingParam, CodeInvalidParam:
		return http.StatusBadRequest
	case CodeNotFound, CodeUnrecognized:
		return http.StatusNotFound
	case CodeLimitExceeded:
		return http.StatusTooManyRequests
	case CodeTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeNotImplemented:
		return http.StatusNotImplemented
	case CodeServiceDisabled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is the standard Matrix error body.
type Error struct {
	ErrCode      ErrorCode `json:"errcode"`
	Message      string    `json:"error"`
	RetryAfterMs int64     `json:"retry_after_ms,omitempty"`

	// Status overrides ErrCode.HTTPStatus when non-zero.
	Status int `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrCode, e.Message)
}

// HTTPStatus returns the status the error is served with.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	return e.ErrCode.HTTPStatus()
}

// NewError creates a new Matrix error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{ErrCode: code, Message: message}
}

// Errorf creates a new Matrix error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{ErrCode: code, Message: fmt.Sprintf(format, args...)}
}

var (
	// ErrUnauthorized indicates that required credentials were absent or
	// rejected. Errors returned by ParseRequest wrap it with a reason.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBodyTooLarge is wrapped by a FieldParseError when a body exceeds
	// the configured limit.
	ErrBodyTooLarge = errors.New("request body too large")

	// ErrUnsupportedMediaType is wrapped by a FieldParseError when the body
	// Content-Type does not match the endpoint codec.
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	errEmptyPathSegment = errors.New("path parameter must not be empty")
	errEmptyValue       = errors.New("value must not be empty")
)

// DefinitionError reports an inconsistent endpoint declaration. It is only
// produced by Define.
type DefinitionError struct {
	Endpoint string
	Reason   string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("fedapi: invalid endpoint %s: %s", e.Endpoint, e.Reason)
}

// MethodNotAllowedError is returned when the request method does not match
// the endpoint.
type MethodNotAllowedError struct {
	Method   string
	Expected string
}

func (e *MethodNotAllowedError) Error() string {
	return fmt.Sprintf("method %s not allowed, expected %s", e.Method, e.Expected)
}

// MalformedPathError is returned when the request path does not fit the
// endpoint's path template.
type MalformedPathError struct {
	Path     string
	Template string
}

func (e *MalformedPathError) Error() string {
	return fmt.Sprintf("path %q does not match %s", e.Path, e.Template)
}

// MissingFieldError is returned when a required field is absent.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// FieldParseError is returned when a field is present but cannot be parsed.
type FieldParseError struct {
	Field string
	Err   error
}

func (e *FieldParseError) Error() string {
	return fmt.Sprintf("invalid field %q: %v", e.Field, e.Err)
}

func (e *FieldParseError) Unwrap() error { return e.Err }

// EncodeError is returned when an outgoing message cannot be built.
type EncodeError struct {
	Field string
	Err   error
}

func (e *EncodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("encode: %v", e.Err)
	}
	return fmt.Sprintf("encode field %q: %v", e.Field, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// StatusError is returned by ParseResponse for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       []byte
	// Err is the decoded Matrix error, or nil if the body was not one.
	Err *Error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Err.Error())
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	if e.Err == nil {
		return nil
	}
	return e.Err
}

// UnauthorizedError describes why credentials were rejected. It matches
// ErrUnauthorized with errors.Is.
type UnauthorizedError struct {
	// Missing is set when no credential was supplied at all.
	Missing bool
	Reason  string
	Err     error
}

func (e *UnauthorizedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unauthorized: %s: %v", e.Reason, e.Err)
	}
	return "unauthorized: " + e.Reason
}

func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }

func (e *UnauthorizedError) Unwrap() error { return e.Err }

// ErrorTransformer maps an application error to a Matrix error.
// If it returns nil, the default transformer logic should be applied.
type ErrorTransformer func(error) *Error

// DefaultErrorTransformer maps marshalling errors to Matrix errors.
func DefaultErrorTransformer(err error) *Error {
	if err == nil {
		return nil
	}

	var mxErr *Error
	if errors.As(err, &mxErr) {
		return mxErr
	}

	var methodErr *MethodNotAllowedError
	if errors.As(err, &methodErr) {
		return &Error{ErrCode: CodeUnrecognized, Message: methodErr.Error(), Status: http.StatusMethodNotAllowed}
	}

	var pathErr *MalformedPathError
	if errors.As(err, &pathErr) {
		return NewError(CodeUnrecognized, "Unrecognized request")
	}

	var authErr *UnauthorizedError
	if errors.As(err, &authErr) {
		if authErr.Missing {
			return NewError(CodeMissingToken, authErr.Error())
		}
		return NewError(CodeUnauthorized, authErr.Error())
	}
	if errors.Is(err, ErrUnauthorized) {
		return NewError(CodeUnauthorized, err.Error())
	}

	var missing *MissingFieldError
	if errors.As(err, &missing) {
		return NewError(CodeMissingParam, missing.Error())
	}

	var parseErr *FieldParseError
	if errors.As(err, &parseErr) {
		return fieldParseToError(parseErr)
	}

	return NewError(CodeUnknown, err.Error())
}

func fieldParseToError(e *FieldParseError) *Error {
	if errors.Is(e.Err, ErrBodyTooLarge) {
		return NewError(CodeTooLarge, e.Error())
	}
	if errors.Is(e.Err, ErrUnsupportedMediaType) {
		return NewError(CodeNotJSON, e.Error())
	}

	var fe validator.FieldError
	if errors.As(e.Err, &fe) {
		return Errorf(CodeInvalidParam, "%s: %s", e.Field, formatValidationError(fe))
	}

	var ve *identifiers.ValidationError
	if e.Field == bodyFieldName && !errors.As(e.Err, &ve) {
		return NewError(CodeBadJSON, e.Error())
	}
	return NewError(CodeInvalidParam, e.Error())
}

// formatValidationError converts a validator.FieldError to a human-readable message.
func formatValidationError(ve validator.FieldError) string {
	switch ve.Tag() {
	case "required":
		return "required"
	case "min":
		return fmt.Sprintf("must be at least %s", ve.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", ve.Param())
	case "len":
		return fmt.Sprintf("must have length %s", ve.Param())
	case "eq":
		return fmt.Sprintf("must equal %s", ve.Param())
	case "ne":
		return fmt.Sprintf("must not equal %s", ve.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", ve.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", ve.Param())
	case "lt":
		return fmt.Sprintf("must be less than %s", ve.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", ve.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", ve.Param())
	default:
		if ve.Param() != "" {
			return fmt.Sprintf("failed %s=%s validation", ve.Tag(), ve.Param())
		}
		return fmt.Sprintf("failed %s validation", ve.Tag())
	}
}
