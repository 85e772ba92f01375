package fedapi

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{CodeForbidden, http.StatusForbidden},
		{CodeUnknownToken, http.StatusUnauthorized},
		{CodeMissingToken, http.StatusUnauthorized},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeBadJSON, http.StatusBadRequest},
		{CodeNotJSON, http.StatusBadRequest},
		{CodeMissingParam, http.StatusBadRequest},
		{CodeInvalidParam, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeUnrecognized, http.StatusNotFound},
		{CodeLimitExceeded, http.StatusTooManyRequests},
		{CodeTooLarge, http.StatusRequestEntityTooLarge},
		{CodeNotImplemented, http.StatusNotImplemented},
		{CodeServiceDisabled, http.StatusServiceUnavailable},
		{CodeUnknown, http.StatusInternalServerError},
		{"M_SOMETHING_ELSE", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.code.HTTPStatus(); got != tt.want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestError_StatusOverride(t *testing.T) {
	err := &Error{ErrCode: CodeUnrecognized, Message: "m", Status: http.StatusMethodNotAllowed}
	if got := err.HTTPStatus(); got != http.StatusMethodNotAllowed {
		t.Errorf("HTTPStatus() = %d", got)
	}
	if got := err.Error(); got != "M_UNRECOGNIZED: m" {
		t.Errorf("Error() = %q", got)
	}
}

func TestErrorf(t *testing.T) {
	err := Errorf(CodeNotFound, "room %s not found", "!r:hs.test")
	if err.ErrCode != CodeNotFound || err.Message != "room !r:hs.test not found" {
		t.Errorf("Errorf = %+v", err)
	}
}

func TestDefaultErrorTransformer(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   ErrorCode
		wantStatus int
	}{
		{"matrix error", NewError(CodeForbidden, "no"), CodeForbidden, http.StatusForbidden},
		{"wrapped matrix error", fmt.Errorf("handler: %w", NewError(CodeNotFound, "gone")), CodeNotFound, http.StatusNotFound},
		{"method", &MethodNotAllowedError{Method: "POST", Expected: "GET"}, CodeUnrecognized, http.StatusMethodNotAllowed},
		{"path", &MalformedPathError{Path: "/x"}, CodeUnrecognized, http.StatusNotFound},
		{"missing credential", &UnauthorizedError{Missing: true, Reason: "missing access token"}, CodeMissingToken, http.StatusUnauthorized},
		{"bad credential", &UnauthorizedError{Reason: "signature rejected", Err: errors.New("bad")}, CodeUnauthorized, http.StatusUnauthorized},
		{"bare unauthorized", fmt.Errorf("proxy: %w", ErrUnauthorized), CodeUnauthorized, http.StatusUnauthorized},
		{"missing field", &MissingFieldError{Field: "limit"}, CodeMissingParam, http.StatusBadRequest},
		{"bad body", &FieldParseError{Field: bodyFieldName, Err: errors.New("unexpected EOF")}, CodeBadJSON, http.StatusBadRequest},
		{"bad param", &FieldParseError{Field: "limit", Err: errors.New("not a number")}, CodeInvalidParam, http.StatusBadRequest},
		{"too large", &FieldParseError{Field: bodyFieldName, Err: ErrBodyTooLarge}, CodeTooLarge, http.StatusRequestEntityTooLarge},
		{"media type", &FieldParseError{Field: bodyFieldName, Err: ErrUnsupportedMediaType}, CodeNotJSON, http.StatusBadRequest},
		{"anything else", errors.New("database is down"), CodeUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DefaultErrorTransformer(tt.err)
			if got.ErrCode != tt.wantCode {
				t.Errorf("errcode = %s, want %s", got.ErrCode, tt.wantCode)
			}
			if got.HTTPStatus() != tt.wantStatus {
				t.Errorf("status = %d, want %d", got.HTTPStatus(), tt.wantStatus)
			}
		})
	}

	if DefaultErrorTransformer(nil) != nil {
		t.Error("nil error should map to nil")
	}
}

func TestUnauthorizedError(t *testing.T) {
	inner := errors.New("key not found")
	err := error(&UnauthorizedError{Reason: "signature rejected", Err: inner})
	if !errors.Is(err, ErrUnauthorized) {
		t.Error("should match ErrUnauthorized")
	}
	if !errors.Is(err, inner) {
		t.Error("should unwrap to the cause")
	}
	if got := err.Error(); got != "unauthorized: signature rejected: key not found" {
		t.Errorf("Error() = %q", got)
	}
}

func TestDefinitionError(t *testing.T) {
	err := &DefinitionError{Endpoint: "get_devices", Reason: "missing name"}
	if got := err.Error(); got != "fedapi: invalid endpoint get_devices: missing name" {
		t.Errorf("Error() = %q", got)
	}
}
