package detect

import "testing"

func TestIsGraphQL(t *testing.T) {
	cases := []struct {
		name        string
		path        string
		contentType string
		body        []byte
		want        bool
	}{
		{"path match", "/graphql", "application/json", nil, true},
		{"content-type match", "/api", "application/graphql", nil, true},
		{"body query field", "/api", "application/json", []byte(`{"query":"{ viewer { id } }"}`), true},
		{"none", "/api/items", "application/json", []byte(`{"id":1}`), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsGraphQL(tc.path, tc.contentType, tc.body); got != tc.want {
				t.Errorf("IsGraphQL() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseGraphQL_OperationNameFromBody(t *testing.T) {
	body := []byte(`{"query":"query GetViewer { viewer { id } }","operationName":"GetViewer","variables":{"id":1}}`)
	info := ParseGraphQL(body)
	if info.OperationName != "GetViewer" {
		t.Fatalf("OperationName = %q, want GetViewer", info.OperationName)
	}
	if info.Variables["id"].(float64) != 1 {
		t.Fatalf("Variables = %v", info.Variables)
	}
}

func TestParseGraphQL_OperationNameFromQueryText(t *testing.T) {
	body := []byte(`{"query":"mutation UpdateUser($id: ID!) { updateUser(id: $id) { ok } }"}`)
	info := ParseGraphQL(body)
	if info.OperationName != "UpdateUser" {
		t.Fatalf("OperationName = %q, want UpdateUser", info.OperationName)
	}
}

func TestParseGraphQL_AnonymousFallback(t *testing.T) {
	body := []byte(`{"query":"{ viewer { id } }"}`)
	info := ParseGraphQL(body)
	if info.OperationName != "Anonymous" {
		t.Fatalf("OperationName = %q, want Anonymous", info.OperationName)
	}
}
