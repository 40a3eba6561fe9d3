// Copyright 2025 Certen Protocol
//
// Canonical JSON encoding for signed payloads. Keys are sorted
// lexicographically, whitespace is stripped, and numbers are re-emitted in
// the shortest faithful decimal form (no trailing fractional zeros, no
// exponent) so that two textually different encodings of the same value
// always hash and sign identically.
//
// The general-purpose normalization (key order, escaping) follows RFC 8785
// (JSON Canonicalization Scheme), the same scheme wired via
// github.com/gowebpki/jcs elsewhere in this module for checkpoint hashing.
// Signed payloads carry arbitrary-precision decimal amounts that do not
// survive a float64 round trip, so this package re-implements the numeric
// half of JCS against shopspring/decimal instead of handing numbers to the
// JCS library's ECMA-262 float formatter.
package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// OpTag values namespace a signature to one operation class so that a
// signature collected for one request cannot be replayed as another.
const (
	OpParticipantCreate = "participant.create"
	OpTrustlineCreate   = "trustline.create"
	OpTrustlineUpdate   = "trustline.update"
	OpTrustlineClose    = "trustline.close"
	OpPaymentCreate     = "payment.create"
	OpClearingAccept    = "clearing.accept"
)

// CanonicalJSON encodes payload (anything JSON-marshalable, typically a
// map[string]interface{} or a struct) into its canonical byte form.
func CanonicalJSON(payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("identity: marshal payload: %w", err)
	}
	return CanonicalizeBytes(raw)
}

// CanonicalizeBytes re-encodes an arbitrary JSON document into canonical
// form. It is exposed separately so callers that already hold raw JSON
// (e.g. a request body) don't need to round-trip through a Go value first.
func CanonicalizeBytes(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("identity: decode json: %w", err)
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MakeSignable builds the canonical byte sequence that a participant must
// sign for a given operation: canonical_json({op: tag, ...payload}).
func MakeSignable(payload map[string]interface{}, opTag string) ([]byte, error) {
	combined := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		combined[k] = v
	}
	combined["op"] = opTag
	return CanonicalJSON(combined)
}

func encodeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		norm, err := normalizeNumber(string(val))
		if err != nil {
			return err
		}
		buf.WriteString(norm)
	case string:
		encoded, err := encodeString(val)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodedKey, err := encodeString(k)
			if err != nil {
				return err
			}
			buf.Write(encodedKey)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("identity: unsupported type %T in canonical payload", v)
	}
	return nil
}

// encodeString produces a JSON-quoted string without HTML escaping, so the
// canonical form does not depend on whether the bytes happen to include
// '<', '>' or '&'.
func encodeString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("identity: encode string: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// normalizeNumber reformats a JSON number literal (which may use exponent
// notation or carry trailing fractional zeros) into the shortest faithful
// decimal form: no exponent, no trailing fractional zeros, no bare trailing
// decimal point.
func normalizeNumber(raw string) (string, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return "", fmt.Errorf("identity: invalid numeric literal %q: %w", raw, err)
	}
	s := d.String()
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	if s == "" || s == "-" {
		s = "0"
	}
	return s, nil
}
