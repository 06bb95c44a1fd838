package appleid

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Claims is the verified payload of an Apple identity token.
// Values keep their decoded JSON types, except for the claims listed in
// normalizers, which are always bool when present.
type Claims map[string]any

// normalizers maps a claim name to the coercion applied before Claims leave Verify.
// Apple sends these as JSON booleans or as "true"/"false" strings.
var normalizers = map[string]func(any) any{
	"email_verified":   func(v any) any { return coerceBool(v) },
	"is_private_email": func(v any) any { return coerceBool(v) },
}

func decodeClaims(payload []byte) (Claims, error) {
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, err
	}
	if claims == nil {
		claims = Claims{}
	}
	return claims, nil
}

func (c Claims) normalize() {
	for name, coerce := range normalizers {
		if v, ok := c[name]; ok {
			c[name] = coerce(v)
		}
	}
}

func coerceBool(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		s := strings.TrimSpace(t)
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
		return s != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return true
	}
}

// Subject returns the stable Apple user identifier.
func (c Claims) Subject() string { return c.str("sub") }

// Issuer returns the "iss" claim.
func (c Claims) Issuer() string { return c.str("iss") }

// Email returns the user's email or relay address, if shared.
func (c Claims) Email() string { return c.str("email") }

// Nonce returns the "nonce" claim.
func (c Claims) Nonce() string { return c.str("nonce") }

// EmailVerified reports the normalized "email_verified" claim.
func (c Claims) EmailVerified() bool {
	b, _ := c["email_verified"].(bool)
	return b
}

// IsPrivateEmail reports whether Email is a private relay address.
func (c Claims) IsPrivateEmail() bool {
	b, _ := c["is_private_email"].(bool)
	return b
}

// RealUserStatus returns Apple's real-user indicator
// (0 unsupported, 1 unknown, 2 likely real), or -1 when absent.
func (c Claims) RealUserStatus() int {
	f, ok := c["real_user_status"].(float64)
	if !ok {
		return -1
	}
	return int(f)
}

// Audience returns "aud" as a list whether it was encoded as a string or an array.
func (c Claims) Audience() []string {
	return audienceValues(c["aud"])
}

// ExpiresAt returns the "exp" claim, or the zero time when absent.
func (c Claims) ExpiresAt() time.Time { return c.unix("exp") }

// IssuedAt returns the "iat" claim, or the zero time when absent.
func (c Claims) IssuedAt() time.Time { return c.unix("iat") }

func (c Claims) str(name string) string {
	s, _ := c[name].(string)
	return s
}

func (c Claims) unix(name string) time.Time {
	f, ok := c[name].(float64)
	if !ok {
		return time.Time{}
	}
	return time.Unix(int64(f), 0).UTC()
}

func audienceValues(value any) []string {
	switch v := value.(type) {
	case string:
		if v != "" {
			return []string{v}
		}
		return nil
	case []string:
		return compactStrings(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
