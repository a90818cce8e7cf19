package tokenscan

import (
	"bytes"
	"encoding/json"
	"regexp"
)

// bodyVarNamePattern matches field names that commonly carry a value that
// changes from request to request: timestamps, pagination cursors,
// identities, session markers, geolocation, and free-form user input.
var bodyVarNamePattern = regexp.MustCompile(`(?i)(time|date|timestamp|cursor|offset|page|limit|id$|_id$|session|geo|lat|lon|lng|query|search|input|text|message)`)

var isoTimestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)
var unixMsPattern = regexp.MustCompile(`^1[5-9]\d{11}$`)
var unixSecPattern = regexp.MustCompile(`^1[5-9]\d{8}$`)
var prefixedIDPattern = regexp.MustCompile(`^[a-z]{2,10}_[A-Za-z0-9]{8,}$`)
var longBase64ishPattern = regexp.MustCompile(`^[A-Za-z0-9+/_-]{20,}={0,2}$`)
var numericPattern = regexp.MustCompile(`^\d+$`)

// DetectBodyVariables walks a decoded JSON request/response body and
// returns the dotted paths of fields whose value is likely to vary between
// requests to the same endpoint, rather than being a fixed template value.
//
// Classification falls back through three passes: the field name, then the
// value's shape, then generic numeric/opaque fallbacks.
func DetectBodyVariables(body []byte) []string {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	var paths []string
	walkBodyVars("", v, &paths)
	return paths
}

func walkBodyVars(prefix string, v interface{}, paths *[]string) {
	switch node := v.(type) {
	case map[string]interface{}:
		for k, val := range node {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			if s, ok := stringValue(val); ok {
				if isBodyVariable(k, s) {
					*paths = append(*paths, path)
				}
				continue
			}
			walkBodyVars(path, val, paths)
		}
	case []interface{}:
		for _, item := range node {
			walkBodyVars(prefix, item, paths)
		}
	}
}

func stringValue(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

func isBodyVariable(name, value string) bool {
	if bodyVarNamePattern.MatchString(name) {
		return true
	}
	if isoTimestampPattern.MatchString(value) {
		return true
	}
	if unixMsPattern.MatchString(value) || unixSecPattern.MatchString(value) {
		return true
	}
	if prefixedIDPattern.MatchString(value) {
		return true
	}
	if uuidRegex.MatchString(value) {
		return true
	}
	if longBase64ishPattern.MatchString(value) {
		return true
	}
	if numericPattern.MatchString(value) && len(value) >= 4 {
		return true
	}
	return false
}
