package pathinfer

import "testing"

func TestParameterizePath(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/users/550e8400-e29b-41d4-a716-446655440000/posts/99", "/users/:id/posts/:id"},
		{"/items/1", "/items/:id"},
		{"/markets/btc-updown-15m-1770254100", "/markets/:slug"},
		{"/files/a1b2c3d4e5f6g7h8", "/files/:hash"},
		{"/static/logo.png", "/static/logo.png"},
	}
	for _, tc := range cases {
		if got := ParameterizePath(tc.in); got != tc.want {
			t.Errorf("ParameterizePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParameterizePath_Idempotent(t *testing.T) {
	inputs := []string{
		"/users/550e8400-e29b-41d4-a716-446655440000/posts/99",
		"/markets/btc-updown-15m-1770254100",
		"/static/logo.png",
	}
	for _, in := range inputs {
		once := ParameterizePath(in)
		twice := ParameterizePath(once)
		if once != twice {
			t.Errorf("ParameterizePath not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestCleanFrameworkPath(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/_next/data/abc123/dashboard.json", "/dashboard"},
		{"/dashboard.json", "/dashboard"},
		{"/_next/data/abc123/", "/"},
		{"/plain/path", "/plain/path"},
	}
	for _, tc := range cases {
		if got := CleanFrameworkPath(tc.in); got != tc.want {
			t.Errorf("CleanFrameworkPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDetectPagination(t *testing.T) {
	cases := []struct {
		name   string
		params []string
		want   PaginationType
	}{
		{"offset wins over page", []string{"offset", "page", "limit"}, PaginationOffset},
		{"cursor wins over page", []string{"cursor", "page"}, PaginationCursor},
		{"page only", []string{"page_number", "page_size"}, PaginationPage},
		{"none", []string{"q", "sort"}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DetectPagination(tc.params)
			if tc.want == "" {
				if got != nil {
					t.Fatalf("DetectPagination(%v) = %+v, want nil", tc.params, got)
				}
				return
			}
			if got == nil || got.Type != tc.want {
				t.Fatalf("DetectPagination(%v) = %+v, want type %q", tc.params, got, tc.want)
			}
		})
	}
}

func TestDetectPagination_LimitParam(t *testing.T) {
	got := DetectPagination([]string{"offset", "per_page"})
	if got == nil || got.LimitParam != "per_page" {
		t.Fatalf("DetectPagination limit param = %+v", got)
	}
}
