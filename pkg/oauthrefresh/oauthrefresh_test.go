package oauthrefresh

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/apitap/apitap/pkg/skillgen"
	"github.com/apitap/apitap/pkg/vault"
)

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	t.Setenv("APITAP_MACHINE_ID", "test-machine-id")
	v, err := vault.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("vault.Open: %v", err)
	}
	return v
}

func TestRefresh_RefreshTokenGrantWithRotation(t *testing.T) {
	t.Setenv("APITAP_SKIP_SSRF_CHECK", "1")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "rt_old" {
			t.Errorf("unexpected form: %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "at_new",
			"refresh_token": "rt_new",
			"token_type":    "Bearer",
		})
	}))
	defer srv.Close()

	v := newTestVault(t)
	domain := httpTestHost(srv)
	if err := v.StoreOAuthCredentials(domain, vault.OAuthCredentials{RefreshToken: "rt_old"}); err != nil {
		t.Fatalf("StoreOAuthCredentials: %v", err)
	}

	cfg := skillgen.OAuthConfig{TokenEndpoint: srv.URL + "/oauth/token", ClientID: "app", GrantType: "refresh_token"}
	res := Refresh(context.Background(), domain, cfg, v)

	if !res.Success {
		t.Fatalf("Refresh failed: %+v", res)
	}
	if !res.TokenRotated {
		t.Fatal("expected refresh token rotation to be detected")
	}

	got := v.Retrieve(domain)
	if got == nil || got.HeaderValue != "Bearer at_new" {
		t.Fatalf("stored auth = %+v", got)
	}
	creds := v.RetrieveOAuthCredentials(domain)
	if creds.RefreshToken != "rt_new" {
		t.Fatalf("RefreshToken = %q, want rt_new", creds.RefreshToken)
	}
}

func TestRefresh_NoRefreshTokenFails(t *testing.T) {
	v := newTestVault(t)
	cfg := skillgen.OAuthConfig{TokenEndpoint: "https://auth.example.com/token", ClientID: "app", GrantType: "refresh_token"}
	res := Refresh(context.Background(), "auth.example.com", cfg, v)
	if res.Success {
		t.Fatal("expected failure with no stored refresh token")
	}
}

func TestRefresh_RejectsDomainMismatch(t *testing.T) {
	v := newTestVault(t)
	v.StoreOAuthCredentials("api.example.com", vault.OAuthCredentials{RefreshToken: "rt"})
	cfg := skillgen.OAuthConfig{TokenEndpoint: "https://evil-auth0.com/token", ClientID: "app", GrantType: "refresh_token"}
	res := Refresh(context.Background(), "api.example.com", cfg, v)
	if res.Success {
		t.Fatal("expected domain mismatch failure")
	}
}

func TestRefresh_RejectsUnsafeEndpoint(t *testing.T) {
	v := newTestVault(t)
	cfg := skillgen.OAuthConfig{TokenEndpoint: "http://127.0.0.1/token", ClientID: "app", GrantType: "refresh_token"}
	res := Refresh(context.Background(), "127.0.0.1", cfg, v)
	if res.Success {
		t.Fatal("expected unsafe endpoint failure")
	}
}

// httpTestHost extracts the bare hostname from a httptest server's URL, so
// the skill domain used in a test matches the token endpoint's host
// without its ephemeral port.
func httpTestHost(srv *httptest.Server) string {
	u, _ := url.Parse(srv.URL)
	return u.Hostname()
}
