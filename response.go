package fedapi

import (
	"log/slog"
	"net/http"
	"reflect"

	"github.com/broady/fedapi/codec/json"
)

// Message is a transport-neutral HTTP response.
type Message struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// EncodeResponse renders res as a 200 response. A response without body
// fields still carries the codec's empty object.
func (e *Endpoint[Req, Res]) EncodeResponse(res Res) (*Message, error) {
	src := reflect.ValueOf(&res).Elem()
	m := &Message{StatusCode: http.StatusOK, Header: make(http.Header)}

	body, contentType, err := encodeBody(e.res, e.codec, src, true)
	if err != nil {
		return nil, err
	}
	m.Header.Set("Content-Type", contentType)
	if err := encodeHeaders(e.res, src, m.Header); err != nil {
		return nil, err
	}
	m.Body = body
	return m, nil
}

// WriteResponse encodes res and writes it to w.
func (e *Endpoint[Req, Res]) WriteResponse(w http.ResponseWriter, res Res) error {
	m, err := e.EncodeResponse(res)
	if err != nil {
		return err
	}
	h := w.Header()
	for k, v := range m.Header {
		h[k] = v
	}
	w.WriteHeader(m.StatusCode)
	_, err = w.Write(m.Body)
	return err
}

// ParseResponse decodes resp into a Res. The body is read up to the
// endpoint's size limit but not closed. Non-2xx responses produce a
// *StatusError.
func (e *Endpoint[Req, Res]) ParseResponse(resp *http.Response) (Res, error) {
	var zero Res
	body, err := readBody(resp.Body, e.maxBodySize)
	if err != nil {
		return zero, err
	}
	return e.DecodeResponse(&Message{StatusCode: resp.StatusCode, Header: resp.Header, Body: body})
}

// DecodeResponse is ParseResponse for an already buffered message.
func (e *Endpoint[Req, Res]) DecodeResponse(m *Message) (Res, error) {
	var zero Res
	if m.StatusCode < 200 || m.StatusCode > 299 {
		return zero, newStatusError(m.StatusCode, m.Body)
	}
	header := m.Header
	if header == nil {
		header = http.Header{}
	}

	var res Res
	dst := reflect.ValueOf(&res).Elem()
	if err := e.res.header.decode(dst, header.Values); err != nil {
		return zero, err
	}
	if err := decodeBody(e.res, e.codec, header, m.Body, dst); err != nil {
		return zero, err
	}
	if err := validateShape(e.res, res); err != nil {
		return zero, err
	}
	return res, nil
}

func newStatusError(code int, body []byte) *StatusError {
	se := &StatusError{StatusCode: code, Body: body}
	var mxErr Error
	if err := json.New().Unmarshal(body, &mxErr); err == nil && mxErr.ErrCode != "" {
		mxErr.Status = code
		se.Err = &mxErr
	}
	return se
}

// writeError writes the Matrix error envelope. Errors are always JSON,
// whatever codec the endpoint uses.
func writeError(w http.ResponseWriter, mxErr *Error, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := json.New().Marshal(mxErr)
	if err != nil {
		logger.Error("failed to encode error response",
			slog.String("errcode", string(mxErr.ErrCode)),
			slog.String("message", mxErr.Message),
			slog.Any("error", err))
		data = []byte(`{"errcode":"M_UNKNOWN","error":"internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(mxErr.HTTPStatus())
	if _, err := w.Write(data); err != nil {
		logger.Debug("failed to write error response", slog.Any("error", err))
	}
}
