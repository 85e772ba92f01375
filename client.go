package fedapi

import (
	"context"
	"net/http"
)

// Client sends endpoint requests to one homeserver or identity server.
// It performs a single attempt per call.
type Client struct {
	baseURL   string
	http      *http.Client
	creds     Credentials
	userAgent string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client. The default is
// http.DefaultClient.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithCredentials sets the credentials applied to authenticated endpoints.
func WithCredentials(creds Credentials) ClientOption {
	return func(c *Client) { c.creds = creds }
}

// WithUserAgent sets the User-Agent header of outgoing requests.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient returns a Client for the server at baseURL, for example
// "https://matrix.example.org:8448".
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{baseURL: baseURL, http: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send performs one call of e and decodes the response. Non-2xx responses
// are returned as *StatusError.
func Send[Req, Res any](ctx context.Context, c *Client, e *Endpoint[Req, Res], req Req) (Res, error) {
	var zero Res
	httpReq, err := e.NewRequest(ctx, c.baseURL, req, c.creds)
	if err != nil {
		return zero, err
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return zero, err
	}
	defer resp.Body.Close()
	return e.ParseResponse(resp)
}
