// Package oauthrefresh exchanges a stored refresh token or client
// credential set for a new access token against a domain-matched or
// whitelisted OAuth token endpoint.
package oauthrefresh

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/apitap/apitap/pkg/skillgen"
	"github.com/apitap/apitap/pkg/urlsafe"
	"github.com/apitap/apitap/pkg/vault"
)

// ErrNoRefreshToken is returned when a refresh_token grant is requested
// but the vault holds no refresh token for the domain.
var ErrNoRefreshToken = errors.New("oauthrefresh: no stored refresh token")

// ErrDomainMismatch is returned when the token endpoint's host is neither
// the skill domain, a subdomain of it, nor a recognized well-known OAuth
// host.
var ErrDomainMismatch = errors.New("oauthrefresh: token endpoint domain mismatch")

// ErrUnsafeEndpoint is returned when the token endpoint fails SSRF
// validation.
var ErrUnsafeEndpoint = errors.New("oauthrefresh: unsafe token endpoint")

const tokenRequestTimeout = 15 * time.Second

// wellKnownOAuthHosts lets a skill domain refresh against its identity
// provider even when that provider's host does not share the domain's own
// suffix.
var wellKnownOAuthHosts = []string{
	"accounts.google.com",
	"oauth2.googleapis.com",
	"login.microsoftonline.com",
	"github.com",
	"www.reddit.com",
	"api.twitter.com",
	"twitter.com",
	"x.com",
	"*.auth0.com",
	"*.okta.com",
	"securetoken.googleapis.com",
	"identitytoolkit.googleapis.com",
}

// Result reports the outcome of a refresh attempt.
type Result struct {
	Success      bool
	AccessToken  string
	TokenRotated bool
	Error        string
}

// Refresh exchanges the domain's stored OAuth credentials for a fresh
// access token and updates the vault in place.
func Refresh(ctx context.Context, domain string, cfg skillgen.OAuthConfig, v *vault.Vault) Result {
	if res := urlsafe.Validate(cfg.TokenEndpoint); !res.Safe {
		return Result{Error: fmt.Sprintf("%v: %s", ErrUnsafeEndpoint, res.Reason)}
	}
	if !domainMatches(domain, cfg.TokenEndpoint) {
		return Result{Error: ErrDomainMismatch.Error()}
	}

	creds := v.RetrieveOAuthCredentials(domain)

	ctx, cancel := context.WithTimeout(ctx, tokenRequestTimeout)
	defer cancel()

	var token *oauth2.Token
	var err error

	switch cfg.GrantType {
	case "refresh_token":
		if creds.RefreshToken == "" {
			return Result{Error: ErrNoRefreshToken.Error()}
		}
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenEndpoint},
			Scopes:       splitScope(cfg.Scope),
		}
		ts := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
		token, err = ts.Token()
	case "client_credentials":
		ccCfg := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     cfg.TokenEndpoint,
			Scopes:       splitScope(cfg.Scope),
		}
		token, err = ccCfg.Token(ctx)
	default:
		return Result{Error: fmt.Sprintf("oauthrefresh: unsupported grant type %q", cfg.GrantType)}
	}

	if err != nil {
		return Result{Error: err.Error()}
	}
	if token.AccessToken == "" {
		return Result{Error: "oauthrefresh: token endpoint returned empty access_token"}
	}

	auth := v.Retrieve(domain)
	if auth == nil {
		auth = &vault.StoredAuth{Type: "bearer", HeaderName: "Authorization"}
	}
	auth.HeaderValue = "Bearer " + token.AccessToken
	if err := v.Store(domain, *auth); err != nil {
		return Result{Error: fmt.Sprintf("oauthrefresh: store updated token: %v", err)}
	}

	rotated := false
	if token.RefreshToken != "" && token.RefreshToken != creds.RefreshToken {
		rotated = true
		if err := v.StoreOAuthCredentials(domain, vault.OAuthCredentials{
			RefreshToken: token.RefreshToken,
			ClientSecret: creds.ClientSecret,
		}); err != nil {
			return Result{Error: fmt.Sprintf("oauthrefresh: store rotated refresh token: %v", err)}
		}
	}

	return Result{Success: true, AccessToken: token.AccessToken, TokenRotated: rotated}
}

func splitScope(scope string) []string {
	if scope == "" {
		return nil
	}
	return strings.Fields(scope)
}

// domainMatches reports whether the token endpoint's host is the skill
// domain, a subdomain of it (dot-suffix), or on the well-known OAuth host
// list. The dot-suffix rule rejects lookalikes like "evil-auth0.com" when
// checking against a wildcard entry for "auth0.com".
func domainMatches(domain, tokenEndpoint string) bool {
	host := hostOf(tokenEndpoint)
	if host == "" {
		return false
	}
	lowerDomain := strings.ToLower(domain)
	if host == lowerDomain || strings.HasSuffix(host, "."+lowerDomain) {
		return true
	}
	for _, wk := range wellKnownOAuthHosts {
		if strings.HasPrefix(wk, "*.") {
			suffix := wk[1:] // ".auth0.com"
			if host == wk[2:] || strings.HasSuffix(host, suffix) {
				return true
			}
			continue
		}
		if host == wk {
			return true
		}
	}
	return false
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
