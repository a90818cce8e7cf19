// Package detect identifies GraphQL exchanges and OAuth token-endpoint
// requests within captured traffic.
package detect

import (
	"encoding/json"
	"regexp"
	"strings"
)

var operationNamePattern = regexp.MustCompile(`(?:query|mutation|subscription)\s+(\w+)`)

// GraphQLInfo describes a captured exchange identified as a GraphQL
// operation.
type GraphQLInfo struct {
	OperationName string
	Query         string
	Variables     map[string]interface{}
}

type graphQLBody struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

// IsGraphQL reports whether a captured exchange is a GraphQL request: its
// path contains "/graphql", its content-type is "application/graphql", or
// its body is a JSON object with a string "query" field.
func IsGraphQL(path, contentType string, body []byte) bool {
	if strings.Contains(path, "/graphql") {
		return true
	}
	if strings.Contains(strings.ToLower(contentType), "application/graphql") {
		return true
	}
	var gb graphQLBody
	if json.Unmarshal(body, &gb) == nil && gb.Query != "" {
		return true
	}
	return false
}

// ParseGraphQL extracts the operation name, query text, and variables from
// a GraphQL request body. The operation name is taken from the body's
// "operationName" field if present, otherwise from the first
// "query|mutation|subscription Name" token in the query text, falling back
// to "Anonymous".
func ParseGraphQL(body []byte) GraphQLInfo {
	var gb graphQLBody
	_ = json.Unmarshal(body, &gb)

	name := gb.OperationName
	if name == "" {
		if m := operationNamePattern.FindSubmatch([]byte(gb.Query)); m != nil {
			name = string(m[1])
		}
	}
	if name == "" {
		name = "Anonymous"
	}

	return GraphQLInfo{OperationName: name, Query: gb.Query, Variables: gb.Variables}
}
