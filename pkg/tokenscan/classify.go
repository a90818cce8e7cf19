package tokenscan

import (
	"regexp"
	"strings"
)

var uuidRegex = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Classification is the result of classifying a header or body value as a
// likely credential.
type Classification struct {
	IsToken    bool
	Confidence string // "high" | "medium" | ""
	Format     string // "jwt" | "opaque" | ""
	Claims     *Claims
}

// IsLikelyToken classifies a (name, value) pair as a likely credential.
// UUIDs are excluded — they are entity identifiers, not tokens. Values
// under 16 characters are too short to be meaningful opaque tokens.
// Otherwise the value is classified by Shannon entropy.
func IsLikelyToken(name, value string) Classification {
	v := strings.TrimPrefix(value, "Bearer ")

	if claims, ok := ParseJWTClaims(v); ok {
		return Classification{IsToken: true, Confidence: "high", Format: "jwt", Claims: claims}
	}

	if uuidRegex.MatchString(v) {
		return Classification{IsToken: false}
	}

	if len(v) < 16 {
		return Classification{IsToken: false}
	}

	entropy := ShannonEntropy(v)
	switch {
	case entropy >= 4.5:
		return Classification{IsToken: true, Confidence: "high", Format: "opaque"}
	case entropy >= 3.5:
		return Classification{IsToken: true, Confidence: "medium", Format: "opaque"}
	default:
		return Classification{IsToken: false}
	}
}
