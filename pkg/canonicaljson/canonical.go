// Package canonicaljson serializes values to a byte-deterministic JSON form
// for artifact generation and checksumming. Object keys are sorted
// lexicographically by UTF-8 code units at every depth, arrays keep their
// caller-supplied order, strings use minimal escaping, and output carries no
// insignificant whitespace.
package canonicaljson

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ChecksumPattern matches the wire form of every checksum this package
// produces: "sha256:" followed by 64 lowercase hex characters.
var ChecksumPattern = regexp.MustCompile(`^sha256:[0-9a-f]{64}$`)

// Marshal returns the canonical JSON representation of v.
//
// Strategy mirrors a two-pass encode: marshal v with the standard encoder
// (so struct tags are honored), decode into a generic tree with UseNumber,
// then emit recursively with sorted keys and HTML escaping disabled.
func Marshal(v any) ([]byte, error) {
	return marshal(v, false)
}

// MarshalStrict is Marshal but rejects any non-integer number. Rule
// payloads and compiled artifacts must not contain floats; this variant is
// what the compiler and publishers use.
func MarshalStrict(v any) ([]byte, error) {
	return marshal(v, true)
}

func marshal(v any, strict bool) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicaljson: pre-marshal failed: %w", err)
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicaljson: intermediate decode failed: %w", err)
	}

	var buf bytes.Buffer
	if err := emit(&buf, generic, strict); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Checksum computes the checksum of raw bytes in "sha256:<hex>" form.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// ChecksumValue canonicalizes v (strict) and returns its checksum.
func ChecksumValue(v any) (string, error) {
	b, err := MarshalStrict(v)
	if err != nil {
		return "", err
	}
	return Checksum(b), nil
}

func emit(buf *bytes.Buffer, v any, strict bool) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		return emitNumber(buf, t, strict)
	case string:
		return emitString(buf, t)
	case []any:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := emit(buf, elem, strict); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys) // byte order == UTF-8 code-unit order

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := emitString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := emit(buf, t[k], strict); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonicaljson: unsupported type %T", v)
	}
	return nil
}

func emitNumber(buf *bytes.Buffer, n json.Number, strict bool) error {
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		buf.WriteString(strconv.FormatInt(i, 10))
		return nil
	}
	if strict {
		return fmt.Errorf("canonicaljson: non-integer number %q not permitted", n.String())
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("canonicaljson: unparseable number %q: %w", n.String(), err)
	}
	// Shortest round-trip decimal.
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

// emitString writes s with minimal JSON escaping (control characters,
// quote, backslash). The standard encoder escapes HTML characters by
// default, which would break byte determinism against other producers, so
// escaping is disabled explicitly.
func emitString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("canonicaljson: string encode failed: %w", err)
	}
	buf.WriteString(strings.TrimSuffix(tmp.String(), "\n"))
	return nil
}
