// Package canonical produces deterministic hashes of structured payloads.
// Signal deduplication fingerprints and execution input hashes share the same
// canonicalization discipline so that replayed inputs always hash identically.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal returns the canonical JSON encoding of v: object keys sorted
// lexicographically at every level, no insignificant whitespace. Two payloads
// that differ only in key order or formatting encode identically.
func Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(normalize(v))
}

// normalize rebuilds maps as sortedMap so nested objects encode with stable
// key order. encoding/json already sorts map[string]interface{} keys, but
// normalizing explicitly keeps the contract independent of that detail and
// covers []interface{} elements too.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := sortedMap{keys: keys, values: make(map[string]interface{}, len(t))}
		for _, k := range keys {
			m.values[k] = normalize(t[k])
		}
		return m
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}

type sortedMap struct {
	keys   []string
	values map[string]interface{}
}

func (m sortedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, k := range m.keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	return append(buf, '}'), nil
}

// Hash returns the hex-encoded SHA-256 of the canonical encoding of v.
func Hash(v interface{}) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize value: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Fingerprint computes a signal's deduplication fingerprint from its tenant,
// source, type and canonicalized payload.
func Fingerprint(tenantID, source, signalType string, payload map[string]interface{}) (string, error) {
	data, err := Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|", tenantID, source, signalType)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
