// Package testutil provides testing helpers for HTTP handlers serving Matrix
// endpoints. It does not import fedapi, so it can be used from any package,
// including fedapi's own tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// RequestBuilder helps construct test HTTP requests with a fluent API.
type RequestBuilder struct {
	method  string
	path    string
	body    []byte
	headers http.Header
	query   url.Values
	keys    []string
}

// NewRequest creates a new request builder for GET /.
func NewRequest() *RequestBuilder {
	return &RequestBuilder{
		method:  http.MethodGet,
		path:    "/",
		headers: make(http.Header),
		query:   make(url.Values),
	}
}

// GET sets the HTTP method to GET.
func (b *RequestBuilder) GET(path string) *RequestBuilder {
	return b.Method(http.MethodGet, path)
}

// POST sets the HTTP method to POST.
func (b *RequestBuilder) POST(path string) *RequestBuilder {
	return b.Method(http.MethodPost, path)
}

// PUT sets the HTTP method to PUT.
func (b *RequestBuilder) PUT(path string) *RequestBuilder {
	return b.Method(http.MethodPut, path)
}

// Method sets an arbitrary HTTP method and the escaped request path.
func (b *RequestBuilder) Method(method, path string) *RequestBuilder {
	b.method = method
	b.path = path
	return b
}

// WithJSON sets the request body as JSON.
func (b *RequestBuilder) WithJSON(v any) *RequestBuilder {
	data, _ := json.Marshal(v)
	b.body = data
	b.headers.Set("Content-Type", "application/json")
	return b
}

// WithBody sets the raw request body.
func (b *RequestBuilder) WithBody(body string) *RequestBuilder {
	b.body = []byte(body)
	return b
}

// WithHeader adds a header to the request.
func (b *RequestBuilder) WithHeader(key, value string) *RequestBuilder {
	b.headers.Add(key, value)
	return b
}

// WithAccessToken sends token as a bearer Authorization header.
func (b *RequestBuilder) WithAccessToken(token string) *RequestBuilder {
	b.headers.Set("Authorization", "Bearer "+token)
	return b
}

// WithQuery adds a query parameter. Parameters keep the order they were
// added in.
func (b *RequestBuilder) WithQuery(key, value string) *RequestBuilder {
	if _, ok := b.query[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.query.Add(key, value)
	return b
}

// Build creates the HTTP request and a ResponseRecorder.
func (b *RequestBuilder) Build() (*http.Request, *httptest.ResponseRecorder) {
	target := b.path
	if len(b.keys) > 0 {
		var params []string
		for _, k := range b.keys {
			for _, v := range b.query[k] {
				params = append(params, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		target += "?" + strings.Join(params, "&")
	}

	var req *http.Request
	if len(b.body) > 0 {
		req = httptest.NewRequest(b.method, target, bytes.NewReader(b.body))
	} else {
		req = httptest.NewRequest(b.method, target, nil)
	}
	for k, v := range b.headers {
		req.Header[k] = v
	}
	return req, httptest.NewRecorder()
}

// Serve builds the request, serves it with h and returns the recorder.
func (b *RequestBuilder) Serve(h http.Handler) *httptest.ResponseRecorder {
	req, w := b.Build()
	h.ServeHTTP(w, req)
	return w
}

// AssertStatus checks that the response has the expected status code.
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int) {
	t.Helper()
	if w.Code != expectedStatus {
		t.Errorf("expected status %d, got %d\nBody: %s", expectedStatus, w.Code, w.Body.String())
	}
}

// AssertJSONResponse compares the response body with expected, both
// normalized through encoding/json.
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expected any) {
	t.Helper()

	contentType := w.Header().Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		t.Errorf("expected Content-Type to contain application/json, got %s", contentType)
	}

	expectedJSON, _ := json.Marshal(expected)

	var expectedData, actualData any
	json.Unmarshal(expectedJSON, &expectedData)
	if err := json.Unmarshal(w.Body.Bytes(), &actualData); err != nil {
		t.Fatalf("response is not JSON: %v\nBody: %s", err, w.Body.String())
	}

	expectedStr, _ := json.MarshalIndent(expectedData, "", "  ")
	actualStr, _ := json.MarshalIndent(actualData, "", "  ")

	if string(expectedStr) != string(actualStr) {
		t.Errorf("response mismatch:\nExpected:\n%s\nActual:\n%s", expectedStr, actualStr)
	}
}

// ErrorResponse is the Matrix standard error body.
type ErrorResponse struct {
	ErrCode      string `json:"errcode"`
	Message      string `json:"error"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

// AssertMatrixError checks that the response carries a Matrix error with
// the expected errcode.
func AssertMatrixError(t *testing.T, w *httptest.ResponseRecorder, expectedCode string) *ErrorResponse {
	t.Helper()

	var errResp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to decode error response: %v\nBody: %s", err, w.Body.String())
	}

	if errResp.ErrCode != expectedCode {
		t.Errorf("expected errcode %s, got %s (error: %s)", expectedCode, errResp.ErrCode, errResp.Message)
	}

	return &errResp
}

// AssertHeader checks that a response header has the expected value.
func AssertHeader(t *testing.T, w *httptest.ResponseRecorder, key, expectedValue string) {
	t.Helper()
	actual := w.Header().Get(key)
	if actual != expectedValue {
		t.Errorf("expected header %s=%s, got %s", key, expectedValue, actual)
	}
}

// DecodeJSON decodes the response body into the provided value.
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response: %v\nBody: %s", err, w.Body.String())
	}
}
