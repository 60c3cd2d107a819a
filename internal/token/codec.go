// Package token handles the bearer tokens carried by fleet sessions:
// an unverified advisory decode used for session gating, and an HS256
// issuer for minting and verifying tokens at login.
package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Claims is the decoded token payload. Exp is a pointer so a missing
// expiry can be told apart from a zero one.
type Claims struct {
	Subject string   `json:"sub"`
	Exp     *float64 `json:"exp"`
	Roles   []string `json:"roles,omitempty"`
}

// ErrMalformed indicates the token does not carry a decodable payload.
var ErrMalformed = errors.New("token: malformed")

// Decode extracts the payload of a three-segment bearer token without
// verifying its signature. This is a convenience decode for session
// gating only, never a trust boundary: authorization is re-checked
// against verified state on every request that matters.
func Decode(raw string) (*Claims, error) {
	parts := strings.Split(raw, ".")
	if len(parts) < 3 {
		return nil, ErrMalformed
	}
	payload, err := decodeSegment(parts[1])
	if err != nil {
		return nil, ErrMalformed
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrMalformed
	}
	return &claims, nil
}

// IsExpired reports whether the token is expired. Tokens that fail to
// decode or carry no expiry are treated as expired, fail safe.
func IsExpired(raw string) bool {
	return expiredAt(raw, time.Now())
}

func expiredAt(raw string, now time.Time) bool {
	claims, err := Decode(raw)
	if err != nil || claims.Exp == nil {
		return true
	}
	expiry := time.UnixMilli(int64(*claims.Exp * 1000))
	return !expiry.After(now)
}

// decodeSegment accepts both url-safe and standard base64 alphabets,
// with or without padding.
func decodeSegment(seg string) ([]byte, error) {
	seg = strings.TrimRight(seg, "=")
	seg = strings.ReplaceAll(seg, "+", "-")
	seg = strings.ReplaceAll(seg, "/", "_")
	return base64.RawURLEncoding.DecodeString(seg)
}
