// Package tokenscan analyzes captured header and body values to tell apart
// credentials, refreshable session tokens, and ordinary request variables.
// Every function here is pure over strings and JSON trees — no I/O.
package tokenscan

import (
	"strings"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// Claims holds the subset of JWT claims the inference engine cares about.
type Claims struct {
	Exp   *int64   `json:"exp,omitempty"`
	Iat   *int64   `json:"iat,omitempty"`
	Iss   string   `json:"iss,omitempty"`
	Aud   []string `json:"aud,omitempty"`
	Scope string   `json:"scope,omitempty"`
}

type rawClaims struct {
	jwt.Claims
	Scope string `json:"scope,omitempty"`
}

// allowedJWTAlgorithms is intentionally permissive: this parser never
// verifies a signature, it only inspects claims, so any algorithm the
// issuer chose must be accepted for parsing to succeed.
var allowedJWTAlgorithms = []jose.SignatureAlgorithm{
	jose.HS256, jose.HS384, jose.HS512,
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.EdDSA,
}

// LooksLikeJWT reports whether s has the three-segment shape of a JWT:
// a base64url header beginning with the JSON-object prefix "eyJ" and
// exactly two dots.
func LooksLikeJWT(s string) bool {
	if !strings.HasPrefix(s, "eyJ") {
		return false
	}
	return strings.Count(s, ".") == 2
}

// ParseJWTClaims decodes the claims segment of a JWT without verifying its
// signature. It returns (nil, false) for anything that is not a well-formed
// three-segment JWT with a JSON claims body.
func ParseJWTClaims(value string) (*Claims, bool) {
	value = strings.TrimPrefix(value, "Bearer ")
	if !LooksLikeJWT(value) {
		return nil, false
	}

	tok, err := jwt.ParseSigned(value, allowedJWTAlgorithms)
	if err != nil {
		return nil, false
	}

	var rc rawClaims
	if err := tok.UnsafeClaimsWithoutVerification(&rc); err != nil {
		return nil, false
	}

	c := &Claims{Iss: rc.Issuer, Scope: rc.Scope}
	if rc.Expiry != nil {
		v := int64(*rc.Expiry)
		c.Exp = &v
	}
	if rc.IssuedAt != nil {
		v := int64(*rc.IssuedAt)
		c.Iat = &v
	}
	if len(rc.Audience) > 0 {
		c.Aud = []string(rc.Audience)
	}
	return c, true
}
