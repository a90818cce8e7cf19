package capture

import "testing"

func TestShouldCapture(t *testing.T) {
	cases := []struct {
		name string
		ex   Exchange
		want bool
	}{
		{"ok json", Exchange{"https://api.example.com/items", 200, "application/json; charset=utf-8"}, true},
		{"redirect status", Exchange{"https://api.example.com/items", 302, "application/json"}, false},
		{"html content", Exchange{"https://api.example.com/items", 200, "text/html"}, false},
		{"blocked host", Exchange{"https://www.google-analytics.com/collect", 200, "application/json"}, false},
		{"blocked subdomain", Exchange{"https://sub.segment.io/v1", 200, "application/json"}, false},
		{"noise path", Exchange{"https://api.example.com/monitoring", 200, "application/json"}, false},
		{"next static", Exchange{"https://api.example.com/_next/static/chunk.js", 200, "application/json"}, false},
		{"vnd api json", Exchange{"https://api.example.com/items", 201, "application/vnd.api+json"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ShouldCapture(tc.ex); got != tc.want {
				t.Errorf("ShouldCapture(%+v) = %v, want %v", tc.ex, got, tc.want)
			}
		})
	}
}

func TestIsDomainMatch(t *testing.T) {
	cases := []struct {
		host, target string
		want         bool
	}{
		{"api.x.com", "x.com", true},
		{"x.com", "x.com", true},
		{"evil-x.com", "x.com", false},
		{"api.x.com", "www.x.com", true},
	}
	for _, tc := range cases {
		if got := IsDomainMatch(tc.host, tc.target); got != tc.want {
			t.Errorf("IsDomainMatch(%q, %q) = %v, want %v", tc.host, tc.target, got, tc.want)
		}
	}
}
