package contractdiff

import (
	"testing"

	"github.com/apitap/apitap/pkg/skillgen"
)

func hasPath(warnings []Warning, path string, severity Severity) bool {
	for _, w := range warnings {
		if w.Path == path && w.Severity == severity {
			return true
		}
	}
	return false
}

func TestDiff_NoChanges(t *testing.T) {
	expected := &skillgen.SchemaNode{
		Type: "object",
		Fields: map[string]skillgen.SchemaNode{
			"id":   {Type: "number"},
			"name": {Type: "string"},
		},
	}
	actual := map[string]interface{}{"id": float64(1), "name": "widget"}

	warnings := Diff(expected, actual)
	if len(warnings) != 0 {
		t.Fatalf("warnings = %+v, want none", warnings)
	}
}

func TestDiff_FieldDisappeared(t *testing.T) {
	expected := &skillgen.SchemaNode{
		Type: "object",
		Fields: map[string]skillgen.SchemaNode{
			"id":   {Type: "number"},
			"name": {Type: "string"},
		},
	}
	actual := map[string]interface{}{"id": float64(1)}

	warnings := Diff(expected, actual)
	if !hasPath(warnings, "$.name", SeverityError) {
		t.Fatalf("warnings = %+v, want error for $.name disappeared", warnings)
	}
}

func TestDiff_NewField(t *testing.T) {
	expected := &skillgen.SchemaNode{
		Type: "object",
		Fields: map[string]skillgen.SchemaNode{
			"id": {Type: "number"},
		},
	}
	actual := map[string]interface{}{"id": float64(1), "extra": "surprise"}

	warnings := Diff(expected, actual)
	if !hasPath(warnings, "$.extra", SeverityInfo) {
		t.Fatalf("warnings = %+v, want info for $.extra new", warnings)
	}
}

func TestDiff_TypeChanged(t *testing.T) {
	expected := &skillgen.SchemaNode{
		Type: "object",
		Fields: map[string]skillgen.SchemaNode{
			"id": {Type: "number"},
		},
	}
	actual := map[string]interface{}{"id": "now-a-string"}

	warnings := Diff(expected, actual)
	if !hasPath(warnings, "$.id", SeverityWarn) {
		t.Fatalf("warnings = %+v, want warn for $.id type change", warnings)
	}
}

func TestDiff_BecameNullable(t *testing.T) {
	expected := &skillgen.SchemaNode{
		Type: "object",
		Fields: map[string]skillgen.SchemaNode{
			"id": {Type: "number"},
		},
	}
	actual := map[string]interface{}{"id": nil}

	warnings := Diff(expected, actual)
	if !hasPath(warnings, "$.id", SeverityWarn) {
		t.Fatalf("warnings = %+v, want warn for $.id became nullable", warnings)
	}
}

func TestDiff_ArrayRecursesIntoItems(t *testing.T) {
	expected := &skillgen.SchemaNode{
		Type: "array",
		Items: &skillgen.SchemaNode{
			Type: "object",
			Fields: map[string]skillgen.SchemaNode{
				"id": {Type: "number"},
			},
		},
	}
	actual := []interface{}{
		map[string]interface{}{"name": "no id here"},
	}

	warnings := Diff(expected, actual)
	if !hasPath(warnings, "$[].id", SeverityError) {
		t.Fatalf("warnings = %+v, want error for $[].id disappeared", warnings)
	}
}

func TestDiff_NilExpectedYieldsNoWarnings(t *testing.T) {
	if warnings := Diff(nil, map[string]interface{}{"a": 1}); warnings != nil {
		t.Fatalf("warnings = %+v, want nil", warnings)
	}
}
