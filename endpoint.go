// Package fedapi binds declaratively described Matrix API endpoints to HTTP.
//
// An endpoint is declared once with its Metadata and a pair of Go struct
// types whose fields are tagged with their wire placement:
//
//	type GetDevicesRequest struct {
//	    UserID identifiers.UserID `json:"userId" fed:"path"`
//	}
//
//	var GetDevices = fedapi.MustDefine[GetDevicesRequest, GetDevicesResponse](fedapi.Metadata{
//	    Name:           "get_devices",
//	    Method:         http.MethodGet,
//	    Path:           "/_matrix/federation/v1/user/devices/{userId}",
//	    Authentication: fedapi.AuthServerSignature,
//	})
//
// Define checks the declaration once. The resulting Endpoint converts
// requests and responses to and from net/http messages in both directions
// and is safe for concurrent use.
package fedapi

import (
	"fmt"
	"reflect"

	"github.com/broady/fedapi/codec"
	"github.com/broady/fedapi/codec/json"
	"github.com/go-playground/validator/v10"
)

// DefaultMaxBodySize is the body limit used when none is configured.
const DefaultMaxBodySize int64 = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	validate.RegisterTagNameFunc(func(sf reflect.StructField) string {
		return wireName(sf)
	})
}

// Endpoint binds one API operation with request type Req and response type
// Res to HTTP.
type Endpoint[Req, Res any] struct {
	meta        Metadata
	tmpl        pathTemplate
	req         *shape
	res         *shape
	codec       codec.Codec
	maxBodySize int64
	bodyLimited bool
	verifier    Verifier
}

type endpointOptions struct {
	codec       codec.Codec
	maxBodySize int64
	bodyLimited bool
	verifier    Verifier
}

// Option configures an Endpoint at definition time.
type Option func(*endpointOptions)

// WithCodec sets the codec for structured bodies. The default is JSON.
func WithCodec(c codec.Codec) Option {
	return func(o *endpointOptions) { o.codec = c }
}

// WithMaxBodySize limits the size of bodies read by ParseRequest and
// ParseResponse. A value of 0 means no limit. An explicit limit takes
// precedence over the Router's.
func WithMaxBodySize(n int64) Option {
	return func(o *endpointOptions) {
		o.maxBodySize = n
		o.bodyLimited = true
	}
}

// WithVerifier sets the signature verifier used by ParseRequest on
// AuthServerSignature endpoints. Without one, signatures are parsed but not
// checked.
func WithVerifier(v Verifier) Option {
	return func(o *endpointOptions) { o.verifier = v }
}

// Define validates meta against the field placements of Req and Res and
// returns the bound endpoint. Any inconsistency is reported as a
// *DefinitionError.
func Define[Req, Res any](meta Metadata, opts ...Option) (*Endpoint[Req, Res], error) {
	o := endpointOptions{codec: json.New(), maxBodySize: DefaultMaxBodySize}
	for _, opt := range opts {
		opt(&o)
	}

	fail := func(err error) (*Endpoint[Req, Res], error) {
		name := meta.Name
		if name == "" {
			name = meta.String()
		}
		return nil, &DefinitionError{Endpoint: name, Reason: err.Error()}
	}

	if err := meta.validate(); err != nil {
		return fail(err)
	}
	if o.codec == nil {
		return fail(fmt.Errorf("codec must not be nil"))
	}
	tmpl, err := parsePathTemplate(meta.Path)
	if err != nil {
		return fail(err)
	}
	req, err := resolveShape(reflect.TypeFor[Req](), sideRequest, &meta, tmpl)
	if err != nil {
		return fail(err)
	}
	res, err := resolveShape(reflect.TypeFor[Res](), sideResponse, &meta, tmpl)
	if err != nil {
		return fail(err)
	}

	return &Endpoint[Req, Res]{
		meta:        meta,
		tmpl:        tmpl,
		req:         req,
		res:         res,
		codec:       o.codec,
		maxBodySize: o.maxBodySize,
		bodyLimited: o.bodyLimited,
		verifier:    o.verifier,
	}, nil
}

// MustDefine is like Define but panics if the declaration is invalid. It is
// intended for package-level endpoint variables, so that a bad declaration
// stops the program at startup.
func MustDefine[Req, Res any](meta Metadata, opts ...Option) *Endpoint[Req, Res] {
	e, err := Define[Req, Res](meta, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// Metadata returns the endpoint's metadata.
func (e *Endpoint[Req, Res]) Metadata() Metadata {
	return e.meta
}

// RequestFields returns the resolved request fields in declaration order.
func (e *Endpoint[Req, Res]) RequestFields() []FieldInfo {
	return e.req.Fields()
}

// ResponseFields returns the resolved response fields in declaration order.
func (e *Endpoint[Req, Res]) ResponseFields() []FieldInfo {
	return e.res.Fields()
}

// Codec returns the codec used for structured bodies.
func (e *Endpoint[Req, Res]) Codec() codec.Codec {
	return e.codec
}
