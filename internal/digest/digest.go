// Package digest computes the stable non-cryptographic state hash used to
// prove replay identity. Values are serialized into a canonical JSON form
// (object keys in ascending order, numbers in shortest round-trip form) and
// hashed with 32-bit FNV-1a, printed as eight lowercase hex digits.
package digest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

const (
	fnvOffset32 = 0x811C9DC5
	fnvPrime32  = 0x01000193
)

// Hash returns the 8-hex-digit digest of v's canonical serialization.
func Hash(v any) (string, error) {
	canon, err := Canonical(v)
	if err != nil {
		return "", err
	}
	h := uint32(fnvOffset32)
	for _, b := range canon {
		h = (h ^ uint32(b)) * fnvPrime32
	}
	return fmt.Sprintf("%08x", h), nil
}

// Canonical serializes v as JSON with all object keys sorted. The value is
// first marshalled normally, then re-parsed with json.Number so numeric
// representations survive the round trip unchanged.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("digest: marshal failed: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("digest: reparse failed: %v", err)
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case json.Number:
		buf.WriteString(t.String())
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}
