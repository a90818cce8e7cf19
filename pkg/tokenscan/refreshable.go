package tokenscan

import (
	"encoding/json"
	"regexp"
)

// refreshableNamePattern matches field names that typically carry a
// rotating per-request or per-session token: CSRF guards, nonces, and
// generic "token" fields that are not the primary credential.
var refreshableNamePattern = regexp.MustCompile(`(?i)(csrf|token|nonce|xsrf|_token)$`)

// refreshableNameExclude matches names that look like a token field but are
// actually the long-lived credential itself, which belongs in the vault's
// auth slot rather than the rotating-token set.
var refreshableNameExclude = regexp.MustCompile(`(?i)access.?token|auth.?token|api.?token|bearer`)

var hexTokenPattern = regexp.MustCompile(`^[0-9a-fA-F]{32,64}$`)
var base64ishTokenPattern = regexp.MustCompile(`^[A-Za-z0-9+/_-]{20,}={0,2}$`)

// IsRefreshableToken reports whether (name, value) looks like a rotating
// per-session token (a CSRF guard or nonce) rather than a stable
// credential. The value must also look token-shaped: a hex string of
// plausible key length, or a base64url-ish string of at least 20 characters.
func IsRefreshableToken(name, value string) bool {
	if !refreshableNamePattern.MatchString(name) {
		return false
	}
	if refreshableNameExclude.MatchString(name) {
		return false
	}
	if hexTokenPattern.MatchString(value) {
		return true
	}
	return base64ishTokenPattern.MatchString(value)
}

// DetectRefreshableTokens walks a decoded JSON body and returns the dotted
// paths of every field that looks like a refreshable token.
func DetectRefreshableTokens(body []byte) []string {
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil
	}
	var paths []string
	walkRefreshable("", v, &paths)
	return paths
}

func walkRefreshable(prefix string, v interface{}, paths *[]string) {
	switch node := v.(type) {
	case map[string]interface{}:
		for k, val := range node {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			if s, ok := val.(string); ok {
				if IsRefreshableToken(k, s) {
					*paths = append(*paths, path)
				}
				continue
			}
			walkRefreshable(path, val, paths)
		}
	case []interface{}:
		for _, item := range node {
			walkRefreshable(prefix, item, paths)
		}
	}
}
