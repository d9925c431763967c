package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonicalize returns a stable byte serialization of a JSON payload: the
// payload is round-tripped through Go's generic JSON representation, which
// marshals object keys in lexicographic order at every nesting level. Two
// logically equal payloads therefore canonicalize to identical bytes.
func Canonicalize(payload []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return out, nil
}

// Sign computes the lowercase hex HMAC-SHA256 of the canonicalized payload
// keyed by secret. Callers decide the no-secret policy; Sign itself always
// requires one.
func Sign(payload []byte, secret string) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether sig is a valid signature for payload under secret.
// Comparison is constant time.
func Verify(payload []byte, secret, sig string) bool {
	want, err := Sign(payload, secret)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(want), []byte(sig))
}
