// Package contractdiff compares a stored response schema against an
// actual decoded response body and reports structural drift.
package contractdiff

import (
	"fmt"

	"github.com/apitap/apitap/pkg/skillgen"
)

// Severity classifies how serious a piece of drift is.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Warning is one structural difference between an expected and an actual
// response shape.
type Warning struct {
	Severity Severity `json:"severity"`
	Path     string   `json:"path"`
	Message  string   `json:"message"`
}

// Diff walks expected and actual schema trees simultaneously and returns
// every structural difference found, with paths using dot and "[]"
// syntax.
func Diff(expected *skillgen.SchemaNode, actual interface{}) []Warning {
	if expected == nil {
		return nil
	}
	var warnings []Warning
	diffNode("$", expected, actual, &warnings)
	return warnings
}

func diffNode(path string, expected *skillgen.SchemaNode, actual interface{}, warnings *[]Warning) {
	actualType := jsonType(actual)

	if expected.Type != actualType {
		if actualType == "null" {
			*warnings = append(*warnings, Warning{Severity: SeverityWarn, Path: path, Message: "became nullable"})
			return
		}
		*warnings = append(*warnings, Warning{
			Severity: SeverityWarn, Path: path,
			Message: fmt.Sprintf("type changed: %s → %s", expected.Type, actualType),
		})
		return
	}

	switch expected.Type {
	case "object":
		diffObject(path, expected, actual, warnings)
	case "array":
		diffArray(path, expected, actual, warnings)
	}
}

func diffObject(path string, expected *skillgen.SchemaNode, actual interface{}, warnings *[]Warning) {
	actualMap, ok := actual.(map[string]interface{})
	if !ok {
		return
	}

	for field, expectedChild := range expected.Fields {
		childPath := path + "." + field
		expectedChild := expectedChild
		actualVal, present := actualMap[field]
		if !present {
			*warnings = append(*warnings, Warning{Severity: SeverityError, Path: childPath, Message: "disappeared"})
			continue
		}
		diffNode(childPath, &expectedChild, actualVal, warnings)
	}

	for field := range actualMap {
		if _, known := expected.Fields[field]; !known {
			*warnings = append(*warnings, Warning{Severity: SeverityInfo, Path: path + "." + field, Message: "new"})
		}
	}
}

func diffArray(path string, expected *skillgen.SchemaNode, actual interface{}, warnings *[]Warning) {
	actualSlice, ok := actual.([]interface{})
	if !ok || len(actualSlice) == 0 || expected.Items == nil {
		return
	}
	diffNode(path+"[]", expected.Items, actualSlice[0], warnings)
}

func jsonType(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64, int, int64:
		return "number"
	case bool:
		return "boolean"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	default:
		return "unknown"
	}
}
