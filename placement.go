package fedapi

import (
	"encoding"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Placement is the wire location of one request or response field.
type Placement int

const (
	// PlacementBody puts the field in the structured body object.
	PlacementBody Placement = iota
	// PlacementPath fills the path placeholder of the same name.
	PlacementPath
	// PlacementQuery sends the field as a query parameter.
	PlacementQuery
	// PlacementHeader sends the field as an HTTP header.
	PlacementHeader
	// PlacementPayload makes the field the entire body. A []byte payload is
	// sent verbatim; any other type is encoded with the endpoint codec.
	PlacementPayload
)

func (p Placement) String() string {
	switch p {
	case PlacementBody:
		return "body"
	case PlacementPath:
		return "path"
	case PlacementQuery:
		return "query"
	case PlacementHeader:
		return "header"
	case PlacementPayload:
		return "payload"
	default:
		return fmt.Sprintf("Placement(%d)", int(p))
	}
}

// tagName is the struct tag that carries placements, e.g.
//
//	UserID identifiers.UserID `json:"userId" fed:"path"`
//	Since  string             `json:"since" fed:"query,optional"`
//	Type   string             `fed:"header=Content-Type"`
//	File   []byte             `fed:"payload"`
const tagName = "fed"

// bodyFieldName is the field reported in errors about the body as a whole.
const bodyFieldName = "body"

// FieldInfo describes one resolved field.
type FieldInfo struct {
	// GoName is the struct field name.
	GoName string
	// Name is the wire name: placeholder, query key, canonical header name
	// or body key.
	Name      string
	Placement Placement
	Optional  bool

	index       int
	typ         reflect.Type
	jsonOptions string
}

// shape is the resolved layout of a request or response type. It is built
// once by Define and never modified afterwards.
type shape struct {
	typ    reflect.Type
	fields []FieldInfo

	path    *textView
	query   *textView
	header  *textView
	body    *bodyView
	payload *FieldInfo

	validate bool
}

type shapeSide int

const (
	sideRequest shapeSide = iota
	sideResponse
)

var (
	textMarshalerType   = reflect.TypeFor[encoding.TextMarshaler]()
	textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()
	bytesType           = reflect.TypeFor[[]byte]()
)

// resolveShape classifies every field of t and checks the result against
// the endpoint metadata and path template.
func resolveShape(t reflect.Type, side shapeSide, meta *Metadata, tmpl pathTemplate) (*shape, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%s type %s must be a struct", side, t)
	}
	s := &shape{typ: t}
	var (
		pathFields, queryFields, headerFields, bodyFields []FieldInfo
		names                                            = make(map[string]string)
	)

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Anonymous {
			return nil, fmt.Errorf("%s field %s: embedded fields are not supported", side, sf.Name)
		}
		if !sf.IsExported() {
			if _, ok := sf.Tag.Lookup(tagName); ok {
				return nil, fmt.Errorf("%s field %s: unexported fields cannot be placed", side, sf.Name)
			}
			continue
		}
		if sf.Tag.Get("validate") != "" {
			s.validate = true
		}

		f, skip, err := parseField(sf, side, meta)
		if err != nil {
			return nil, fmt.Errorf("%s field %s: %w", side, sf.Name, err)
		}
		if skip {
			continue
		}

		key := f.Placement.String() + ":" + strings.ToLower(f.Name)
		if f.Placement == PlacementBody || f.Placement == PlacementPayload {
			key = "body:" + f.Name
		}
		if prev, dup := names[key]; dup {
			return nil, fmt.Errorf("%s fields %s and %s both use %s name %q", side, prev, sf.Name, f.Placement, f.Name)
		}
		names[key] = sf.Name

		switch f.Placement {
		case PlacementPath:
			pathFields = append(pathFields, f)
		case PlacementQuery:
			queryFields = append(queryFields, f)
		case PlacementHeader:
			headerFields = append(headerFields, f)
		case PlacementBody:
			bodyFields = append(bodyFields, f)
		case PlacementPayload:
			if s.payload != nil {
				return nil, fmt.Errorf("%s fields %s and %s are both payload fields", side, s.payload.GoName, f.GoName)
			}
			p := f
			s.payload = &p
		}
		s.fields = append(s.fields, f)
	}

	if s.payload != nil && len(bodyFields) > 0 {
		return nil, fmt.Errorf("%s payload field %s excludes body field %s", side, s.payload.GoName, bodyFields[0].GoName)
	}
	if side == sideRequest {
		if err := checkPathFields(pathFields, tmpl); err != nil {
			return nil, err
		}
		if err := checkAuthCollisions(queryFields, headerFields, meta); err != nil {
			return nil, err
		}
	}

	var err error
	if s.path, err = newTextView(pathFields); err != nil {
		return nil, err
	}
	if s.query, err = newTextView(queryFields); err != nil {
		return nil, err
	}
	if s.header, err = newTextView(headerFields); err != nil {
		return nil, err
	}
	s.body = newBodyView(bodyFields)
	return s, nil
}

func (s shapeSide) String() string {
	if s == sideResponse {
		return "response"
	}
	return "request"
}

// parseField reads the placement tag of sf and applies the defaults.
func parseField(sf reflect.StructField, side shapeSide, meta *Metadata) (FieldInfo, bool, error) {
	f := FieldInfo{GoName: sf.Name, index: sf.Index[0], typ: sf.Type, Name: wireName(sf)}
	if _, opts, ok := strings.Cut(sf.Tag.Get("json"), ","); ok {
		f.jsonOptions = "," + opts
	}

	tag, tagged := sf.Tag.Lookup(tagName)
	if tag == "-" {
		return f, true, nil
	}
	where, opts, _ := strings.Cut(tag, ",")
	for _, opt := range strings.Split(opts, ",") {
		switch opt {
		case "":
		case "optional":
			f.Optional = true
		default:
			return f, false, fmt.Errorf("unknown option %q", opt)
		}
	}

	kind, arg, hasArg := strings.Cut(where, "=")
	switch {
	case !tagged || kind == "":
		if f.Name == "-" {
			return f, true, nil
		}
		if side == sideRequest && bodylessMethod(meta.Method) {
			return f, false, fmt.Errorf("must declare a placement on %s endpoints", meta.Method)
		}
		f.Placement = PlacementBody
	case kind == "path":
		f.Placement = PlacementPath
	case kind == "query":
		f.Placement = PlacementQuery
	case kind == "header":
		f.Placement = PlacementHeader
		if !hasArg || !httpguts.ValidHeaderFieldName(arg) {
			return f, false, fmt.Errorf("invalid header name %q", arg)
		}
		f.Name = http.CanonicalHeaderKey(arg)
	case kind == "body":
		f.Placement = PlacementBody
	case kind == "payload":
		f.Placement = PlacementPayload
	default:
		return f, false, fmt.Errorf("unknown placement %q", kind)
	}
	if hasArg && f.Placement != PlacementHeader {
		return f, false, fmt.Errorf("placement %s does not take a name", kind)
	}
	if f.Name == "-" {
		return f, false, fmt.Errorf("%s field needs a name", f.Placement)
	}

	switch f.Placement {
	case PlacementPath:
		if side == sideResponse {
			return f, false, fmt.Errorf("responses have no path")
		}
		if f.Optional || sf.Type.Kind() == reflect.Pointer {
			return f, false, fmt.Errorf("path fields cannot be optional")
		}
		if !isTextType(sf.Type) {
			return f, false, fmt.Errorf("type %s has no text form", sf.Type)
		}
	case PlacementQuery:
		if side == sideResponse {
			return f, false, fmt.Errorf("responses have no query")
		}
		elem := sf.Type
		if elem.Kind() == reflect.Slice && !elem.Implements(textMarshalerType) {
			elem = elem.Elem()
			f.Optional = true
		}
		if !isTextType(elem) {
			return f, false, fmt.Errorf("type %s has no text form", sf.Type)
		}
	case PlacementHeader:
		if !isTextType(sf.Type) {
			return f, false, fmt.Errorf("type %s has no text form", sf.Type)
		}
	case PlacementBody, PlacementPayload:
		if side == sideRequest && bodylessMethod(meta.Method) {
			return f, false, fmt.Errorf("%s endpoints have no body", meta.Method)
		}
	}
	if sf.Type.Kind() == reflect.Pointer {
		f.Optional = true
	}
	return f, false, nil
}

// wireName is the json name of sf, or the Go name when there is none.
func wireName(sf reflect.StructField) string {
	name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
	if name == "" {
		return sf.Name
	}
	return name
}

// isTextType reports whether values of t have a canonical text form.
func isTextType(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Implements(textMarshalerType) && reflect.PointerTo(t).Implements(textUnmarshalerType) {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// checkPathFields verifies that placeholders and path fields correspond
// one to one.
func checkPathFields(fields []FieldInfo, tmpl pathTemplate) error {
	claimed := make(map[string]bool, len(fields))
	for _, f := range fields {
		claimed[f.Name] = true
	}
	placeholders := make(map[string]bool)
	for _, p := range tmpl.params() {
		placeholders[p] = true
		if !claimed[p] {
			return fmt.Errorf("path placeholder {%s} has no path field", p)
		}
	}
	for _, f := range fields {
		if !placeholders[f.Name] {
			return fmt.Errorf("path field %s has no placeholder {%s} in %s", f.GoName, f.Name, tmpl.raw)
		}
	}
	return nil
}

func checkAuthCollisions(query, header []FieldInfo, meta *Metadata) error {
	if meta.Authentication == AuthNone {
		return nil
	}
	for _, f := range header {
		if f.Name == authorizationHeader {
			return fmt.Errorf("header field %s collides with %s authentication", f.GoName, meta.Authentication)
		}
	}
	if meta.Authentication == AuthAccessToken && meta.TokenLocation == TokenInQuery {
		for _, f := range query {
			if f.Name == accessTokenParam {
				return fmt.Errorf("query field %s collides with the access token parameter", f.GoName)
			}
		}
	}
	return nil
}

// Fields returns the resolved fields of a shape in declaration order.
func (s *shape) Fields() []FieldInfo {
	return append([]FieldInfo(nil), s.fields...)
}
