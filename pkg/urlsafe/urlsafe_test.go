package urlsafe

import (
	"context"
	"testing"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		url  string
		safe bool
	}{
		{"public https", "https://api.example.com/v1/items", true},
		{"public http", "http://api.example.com/v1/items", true},
		{"ftp scheme", "ftp://example.com/file", false},
		{"localhost", "http://localhost/v1", false},
		{"dot-local", "http://printer.local/status", false},
		{"dot-internal", "http://svc.internal/health", false},
		{"ipv4 loopback", "http://127.0.0.1/", false},
		{"ipv4 10/8", "http://10.0.0.5/", false},
		{"ipv4 172.16/12", "http://172.16.5.1/", false},
		{"ipv4 172.31 edge", "http://172.31.255.255/", false},
		{"ipv4 172.32 public", "http://172.32.0.1/", true},
		{"ipv4 192.168/16", "http://192.168.1.1/", false},
		{"ipv4 169.254", "http://169.254.1.1/", false},
		{"ipv6 loopback bracketed", "http://[::1]/", false},
		{"ipv6 unique-local", "http://[fc00::1]/", false},
		{"ipv6 link-local", "http://[fe80::1]/", false},
		{"ipv6 public", "http://[2606:4700:4700::1111]/", true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Validate(c.url)
			if got.Safe != c.safe {
				t.Fatalf("Validate(%q) safe=%v reason=%q, want safe=%v", c.url, got.Safe, got.Reason, c.safe)
			}
			if !got.Safe && got.Reason == "" {
				t.Fatalf("Validate(%q) unsafe with no reason", c.url)
			}
		})
	}
}

type fakeResolver map[string][]string

func (f fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return f[host], nil
}

func TestResolveAndValidate_TOCTOU(t *testing.T) {
	resolver := fakeResolver{
		"public.example.com": {"192.168.1.1"}, // public name, private resolution
		"api.example.com":    {"93.184.216.34"},
	}

	got := resolveAndValidate(context.Background(), "https://public.example.com/v1", resolver)
	if got.Safe {
		t.Fatal("expected unsafe: public name resolving to private range")
	}
	if got.OriginalHost != "public.example.com" {
		t.Fatalf("OriginalHost = %q", got.OriginalHost)
	}
	if got.ResolvedIP != "192.168.1.1" {
		t.Fatalf("ResolvedIP = %q", got.ResolvedIP)
	}

	good := resolveAndValidate(context.Background(), "https://api.example.com/v1", resolver)
	if !good.Safe {
		t.Fatalf("expected safe, got reason: %s", good.Reason)
	}
	if good.ResolvedIP != "93.184.216.34" {
		t.Fatalf("ResolvedIP = %q", good.ResolvedIP)
	}
	// resolvedUrl is diagnostic only; caller still fetches with original host.
	if got.OriginalHost == got.ResolvedIP {
		t.Fatal("OriginalHost should not equal ResolvedIP")
	}
}

func TestResolveAndValidate_DNSFailure(t *testing.T) {
	resolver := fakeResolver{}
	got := resolveAndValidate(context.Background(), "https://nowhere.example.com/", resolver)
	if got.Safe {
		t.Fatal("expected unsafe on empty DNS resolution")
	}
}

func TestValidateIdempotent(t *testing.T) {
	urls := []string{"https://a.com/x", "http://127.0.0.1/", "not a url"}
	for _, u := range urls {
		r1 := Validate(u)
		r2 := Validate(u)
		if r1.Safe != r2.Safe {
			t.Fatalf("Validate(%q) is not deterministic", u)
		}
	}
}
