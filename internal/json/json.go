// Package json provides the NaN/Infinity-tolerant JSON codec spec.md §3
// requires for doc_store, by_seq_store, local_store, and meta_store
// values: user documents may legally contain non-finite floats, which
// encoding/json rejects outright.
//
// Grounded on bitmark-inc-bitmarkd's use of github.com/json-iterator/go
// for all of its wire and storage JSON traffic.
package json

import (
	"math"
	"reflect"
	"strconv"
	"unsafe"

	jsoniter "github.com/json-iterator/go"
)

// API is the jsoniter configuration used throughout the engine. It is
// wire-compatible with encoding/json except for the float extension
// registered in init, which lets it round-trip NaN and +/-Inf as the
// bare tokens NaN, Infinity, and -Infinity rather than erroring.
var API = jsoniter.ConfigCompatibleWithStandardLibrary

func init() {
	jsoniter.RegisterTypeEncoder("float64", &toleranceCodec{})
	jsoniter.RegisterTypeEncoder("float32", &toleranceCodec{is32: true})
}

// Marshal encodes v, tolerating NaN/Infinity floats anywhere in the
// value tree.
func Marshal(v interface{}) ([]byte, error) {
	return API.Marshal(v)
}

// Unmarshal decodes data into v, accepting the NaN/Infinity tokens
// Marshal produces. jsoniter's Iterator has no public hook for reading a
// non-standard bare token (RegisterTypeDecoder only intercepts decodes
// into a statically-typed float64/float32, never the dynamic
// interface{} path document bodies decode through), so the tokens are
// protected before jsoniter ever sees them and the sentinels they become
// are restored afterward by walking the decoded value.
func Unmarshal(data []byte, v interface{}) error {
	protected, anyToken := protectNonFinite(data)
	if err := API.Unmarshal(protected, v); err != nil {
		return err
	}

	// The overwhelming majority of documents contain no non-finite
	// float, so skip the reflective tree walk entirely unless
	// protectNonFinite actually substituted something.
	if anyToken {
		restoreNonFinite(v)
	}

	return nil
}

// Sentinel strings substituted for the bare NaN/Infinity/-Infinity
// tokens prior to decode. They use U+FDD0, a Unicode noncharacter, so
// they cannot collide with a legitimate string value in a document.
const (
	sentinelNaN    = "﷐scaup:NaN"
	sentinelPosInf = "﷐scaup:Infinity"
	sentinelNegInf = "﷐scaup:-Infinity"
)

// protectNonFinite rewrites bare NaN/Infinity/-Infinity tokens outside
// of string literals into quoted sentinel strings, so the bytes handed
// to jsoniter are always standard JSON. The second return reports
// whether any substitution happened, so Unmarshal can skip its restore
// walk for the common case of a document with no non-finite floats.
func protectNonFinite(data []byte) ([]byte, bool) {
	out := make([]byte, 0, len(data))
	inString := false
	escaped := false
	found := false

	for i := 0; i < len(data); {
		c := data[i]

		if inString {
			out = append(out, c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			i++

			continue
		}

		if c == '"' {
			inString = true
			out = append(out, c)
			i++

			continue
		}

		if tok, sentinel, ok := matchNonFiniteToken(data, i); ok {
			out = append(out, '"')
			out = append(out, sentinel...)
			out = append(out, '"')
			i += len(tok)
			found = true

			continue
		}

		out = append(out, c)
		i++
	}

	return out, found
}

var nonFiniteTokens = map[string]string{
	"-Infinity": sentinelNegInf,
	"Infinity":  sentinelPosInf,
	"NaN":       sentinelNaN,
}

func matchNonFiniteToken(data []byte, i int) (token, sentinel string, ok bool) {
	for tok, sent := range nonFiniteTokens {
		n := len(tok)
		if i+n > len(data) || string(data[i:i+n]) != tok {
			continue
		}
		if i > 0 && !isTokenBoundary(data[i-1]) {
			continue
		}
		if i+n < len(data) && !isTokenBoundary(data[i+n]) {
			continue
		}

		return tok, sent, true
	}

	return "", "", false
}

func isTokenBoundary(c byte) bool {
	switch c {
	case ':', ',', '[', ']', '{', '}', ' ', '\t', '\n', '\r':
		return true
	}

	return false
}

// restoreNonFinite walks the value v was just decoded into, replacing
// any sentinel string protectNonFinite produced with the float64 it
// stands for. Only reachable through interface{}-typed slots (map
// values, slice elements, struct fields declared as interface{}), which
// is how every document body is decoded.
func restoreNonFinite(v interface{}) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return
	}

	restoreValue(rv.Elem())
}

func restoreValue(rv reflect.Value) {
	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return
		}

		elem := rv.Elem()
		if elem.Kind() == reflect.String {
			if f, ok := nonFiniteFloat(elem.String()); ok {
				rv.Set(reflect.ValueOf(f))
			}

			return
		}

		cp := reflect.New(elem.Type()).Elem()
		cp.Set(elem)
		restoreValue(cp)
		rv.Set(cp)
	case reflect.Map:
		for _, key := range rv.MapKeys() {
			val := rv.MapIndex(key)
			cp := reflect.New(val.Type()).Elem()
			cp.Set(val)
			restoreValue(cp)
			rv.SetMapIndex(key, cp)
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			restoreValue(rv.Index(i))
		}
	case reflect.Ptr:
		if !rv.IsNil() {
			restoreValue(rv.Elem())
		}
	case reflect.Struct:
		for i := 0; i < rv.NumField(); i++ {
			if f := rv.Field(i); f.CanSet() {
				restoreValue(f)
			}
		}
	}
}

func nonFiniteFloat(s string) (float64, bool) {
	switch s {
	case sentinelNaN:
		return math.NaN(), true
	case sentinelPosInf:
		return math.Inf(1), true
	case sentinelNegInf:
		return math.Inf(-1), true
	default:
		return 0, false
	}
}

// toleranceCodec overrides jsoniter's default float64/float32 encoding
// to emit the bare (non-standard-JSON) tokens NaN/Infinity/-Infinity for
// non-finite values, and falls back to the normal numeric encoding
// otherwise.
type toleranceCodec struct {
	is32 bool
}

func (c *toleranceCodec) load(ptr unsafe.Pointer) float64 {
	if c.is32 {
		return float64(*(*float32)(ptr))
	}

	return *(*float64)(ptr)
}

func (c *toleranceCodec) IsEmpty(ptr unsafe.Pointer) bool {
	return c.load(ptr) == 0
}

func (c *toleranceCodec) Encode(ptr unsafe.Pointer, stream *jsoniter.Stream) {
	f := c.load(ptr)
	bitSize := 64
	if c.is32 {
		bitSize = 32
	}

	switch {
	case math.IsNaN(f):
		stream.WriteRaw("NaN")
	case math.IsInf(f, 1):
		stream.WriteRaw("Infinity")
	case math.IsInf(f, -1):
		stream.WriteRaw("-Infinity")
	default:
		stream.WriteRaw(strconv.FormatFloat(f, 'g', -1, bitSize))
	}
}
