package fedapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/broady/fedapi/codec"
	"github.com/elnormous/contenttype"
	"github.com/go-playground/validator/v10"
	"golang.org/x/net/http/httpguts"
)

const octetStream = "application/octet-stream"

// NewRequest builds the outgoing HTTP request for req. baseURL is the
// scheme and authority of the destination, optionally with a path prefix.
// creds supply the credential required by the endpoint's AuthScheme.
func (e *Endpoint[Req, Res]) NewRequest(ctx context.Context, baseURL string, req Req, creds Credentials) (*http.Request, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, &EncodeError{Err: fmt.Errorf("base url: %w", err)}
	}
	src := reflect.ValueOf(&req).Elem()

	pathValues, err := e.req.path.encode(src)
	if err != nil {
		return nil, err
	}
	flat := make(map[string]string, len(pathValues))
	for k, v := range pathValues {
		if len(v) > 0 {
			flat[k] = v[0]
		}
	}
	path, err := e.tmpl.expand(flat)
	if err != nil {
		return nil, err
	}

	queryValues, err := e.req.query.encode(src)
	if err != nil {
		return nil, err
	}

	body, contentType, err := encodeBody(e.req, e.codec, src, false)
	if err != nil {
		return nil, err
	}

	u := *base
	u.RawQuery = orderedQuery(e.req.query, queryValues)
	u.Fragment = ""
	escaped := strings.TrimSuffix(base.EscapedPath(), "/") + path
	if u.Path, err = url.PathUnescape(escaped); err != nil {
		return nil, &EncodeError{Err: err}
	}
	u.RawPath = escaped

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	r, err := http.NewRequestWithContext(ctx, e.meta.Method, u.String(), bodyReader)
	if err != nil {
		return nil, &EncodeError{Err: err}
	}
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	if err := encodeHeaders(e.req, src, r.Header); err != nil {
		return nil, err
	}
	if err := applyCredentials(r, &e.meta, creds, body); err != nil {
		return nil, err
	}
	return r, nil
}

// orderedQuery joins query values in field declaration order.
func orderedQuery(v *textView, values map[string][]string) string {
	if v == nil {
		return ""
	}
	var b strings.Builder
	for _, f := range v.fields {
		for _, val := range values[f.Name] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(f.Name))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(val))
		}
	}
	return b.String()
}

// encodeHeaders writes the header fields of src into h.
func encodeHeaders(s *shape, src reflect.Value, h http.Header) error {
	values, err := s.header.encode(src)
	if err != nil {
		return err
	}
	for name, vals := range values {
		for _, val := range vals {
			if !httpguts.ValidHeaderFieldValue(val) {
				return &EncodeError{Field: name, Err: fmt.Errorf("invalid header value %q", val)}
			}
		}
		h[name] = vals
	}
	return nil
}

// encodeBody returns the body bytes of src and their content type. A nil
// body means the message has none. With emptyObj set, a shape without
// body fields still encodes as the codec's empty object.
func encodeBody(s *shape, c codec.Codec, src reflect.Value, emptyObj bool) ([]byte, string, error) {
	switch {
	case s.payload != nil:
		fv := src.Field(s.payload.index)
		if s.payload.typ == bytesType {
			b := fv.Bytes()
			if b == nil {
				b = []byte{}
			}
			return b, octetStream, nil
		}
		data, err := c.Marshal(fv.Interface())
		if err != nil {
			return nil, "", &EncodeError{Field: s.payload.Name, Err: err}
		}
		return data, c.ContentType(), nil
	case s.body != nil:
		data, err := s.body.encode(c, src)
		if err != nil {
			return nil, "", err
		}
		return data, c.ContentType(), nil
	case emptyObj:
		data, err := emptyObject(c)
		if err != nil {
			return nil, "", err
		}
		return data, c.ContentType(), nil
	}
	return nil, "", nil
}

// ParseRequest reconstructs a request value from an incoming HTTP request.
// It also returns the credentials carried by the request. On error the zero
// Req is returned.
func (e *Endpoint[Req, Res]) ParseRequest(r *http.Request) (Req, Caller, error) {
	return e.parseRequest(r, e.verifier, e.maxBodySize)
}

func (e *Endpoint[Req, Res]) parseRequest(r *http.Request, verifier Verifier, maxBody int64) (Req, Caller, error) {
	var zero Req
	if !methodMatches(e.meta.Method, r.Method) {
		return zero, Caller{}, &MethodNotAllowedError{Method: r.Method, Expected: e.meta.Method}
	}
	pathValues, ok := e.tmpl.match(r.URL.EscapedPath())
	if !ok {
		return zero, Caller{}, &MalformedPathError{Path: r.URL.EscapedPath(), Template: e.tmpl.raw}
	}

	body, err := readBody(r.Body, maxBody)
	if err != nil {
		return zero, Caller{}, err
	}

	caller, err := extractCredentials(r, &e.meta, body, verifier)
	if err != nil {
		return zero, Caller{}, err
	}

	var req Req
	dst := reflect.ValueOf(&req).Elem()
	if err := e.req.path.decode(dst, func(name string) []string {
		if v, ok := pathValues[name]; ok {
			return []string{v}
		}
		return nil
	}); err != nil {
		return zero, Caller{}, err
	}
	query := r.URL.Query()
	if err := e.req.query.decode(dst, func(name string) []string { return query[name] }); err != nil {
		return zero, Caller{}, err
	}
	if err := e.req.header.decode(dst, r.Header.Values); err != nil {
		return zero, Caller{}, err
	}
	if err := decodeBody(e.req, e.codec, r.Header, body, dst); err != nil {
		return zero, Caller{}, err
	}
	if err := validateShape(e.req, req); err != nil {
		return zero, Caller{}, err
	}
	return req, caller, nil
}

// methodMatches reports whether a request with method got may be served by
// an endpoint declared with want. GET endpoints also answer HEAD.
func methodMatches(want, got string) bool {
	return got == want || want == http.MethodGet && got == http.MethodHead
}

// readBody reads at most limit bytes. A limit of 0 means no limit.
func readBody(body io.ReadCloser, limit int64) ([]byte, error) {
	if body == nil || body == http.NoBody {
		return nil, nil
	}
	var rd io.Reader = body
	if limit > 0 {
		rd = io.LimitReader(body, limit+1)
	}
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, &FieldParseError{Field: bodyFieldName, Err: err}
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, &FieldParseError{Field: bodyFieldName, Err: ErrBodyTooLarge}
	}
	return data, nil
}

// decodeBody fills the body or payload fields of dst.
func decodeBody(s *shape, c codec.Codec, h http.Header, body []byte, dst reflect.Value) error {
	switch {
	case s.payload != nil:
		if s.payload.typ == bytesType {
			dst.Field(s.payload.index).SetBytes(body)
			return nil
		}
		if len(bytes.TrimSpace(body)) == 0 {
			if s.payload.Optional {
				return nil
			}
			return &MissingFieldError{Field: s.payload.Name}
		}
		if err := checkContentType(h, c); err != nil {
			return err
		}
		if err := c.Unmarshal(body, dst.Field(s.payload.index).Addr().Interface()); err != nil {
			return &FieldParseError{Field: s.payload.Name, Err: err}
		}
		return nil
	case s.body != nil:
		if len(body) > 0 {
			if err := checkContentType(h, c); err != nil {
				return err
			}
		}
		return s.body.decode(c, body, dst)
	}
	return nil
}

// checkContentType rejects bodies whose declared media type differs from
// the codec's. A missing Content-Type is accepted.
func checkContentType(h http.Header, c codec.Codec) error {
	if h.Get("Content-Type") == "" {
		return nil
	}
	got, err := contenttype.GetMediaType(&http.Request{Header: h})
	if err != nil {
		return &FieldParseError{Field: bodyFieldName, Err: fmt.Errorf("%w: %v", ErrUnsupportedMediaType, err)}
	}
	want := contenttype.NewMediaType(c.ContentType())
	if !got.Matches(want) {
		return &FieldParseError{Field: bodyFieldName, Err: fmt.Errorf("%w: %s", ErrUnsupportedMediaType, h.Get("Content-Type"))}
	}
	return nil
}

// validateShape enforces `validate` struct tags.
func validateShape(s *shape, v any) error {
	if !s.validate {
		return nil
	}
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return &FieldParseError{Field: fieldErrs[0].Field(), Err: fieldErrs[0]}
	}
	return &FieldParseError{Field: bodyFieldName, Err: err}
}
