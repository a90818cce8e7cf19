package detect

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// OAuthTokenRequest describes a captured POST identified as an OAuth
// token-endpoint exchange.
type OAuthTokenRequest struct {
	TokenEndpoint string
	ClientID      string
	GrantType     string
	Scope         string
	ClientSecret  string
	RefreshToken  string
}

var allowedGrantTypes = map[string]bool{
	"refresh_token":      true,
	"client_credentials": true,
}

// DetectOAuthTokenRequest inspects a captured POST and, if it looks like an
// OAuth token exchange, returns its parsed fields. Only refresh_token and
// client_credentials grants are recognized — authorization_code exchanges
// depend on a one-time code that cannot be replayed, so they are not
// reproducible from a capture alone.
func DetectOAuthTokenRequest(method, rawURL, contentType string, headers http.Header, body []byte) *OAuthTokenRequest {
	if !strings.EqualFold(method, http.MethodPost) {
		return nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	if !strings.Contains(u.Path, "/token") && !strings.Contains(u.Path, "/oauth") {
		return nil
	}

	values := parseOAuthBody(contentType, body)

	grantType := values.Get("grant_type")
	if grantType == "" {
		grantType = u.Query().Get("grant_type")
	}
	if !allowedGrantTypes[grantType] {
		return nil
	}

	clientID := values.Get("client_id")
	clientSecret := values.Get("client_secret")
	if clientID == "" {
		if user, pass, ok := basicAuthFromHeader(headers); ok {
			clientID = user
			if clientSecret == "" {
				clientSecret = pass
			}
		}
	}

	endpoint := *u
	endpoint.RawQuery = ""

	return &OAuthTokenRequest{
		TokenEndpoint: endpoint.String(),
		ClientID:      clientID,
		GrantType:     grantType,
		Scope:         values.Get("scope"),
		ClientSecret:  clientSecret,
		RefreshToken:  values.Get("refresh_token"),
	}
}

// parseOAuthBody decodes the request body as JSON when content-type names
// it, otherwise as application/x-www-form-urlencoded, the HTTP default for
// token requests.
func parseOAuthBody(contentType string, body []byte) url.Values {
	if strings.Contains(strings.ToLower(contentType), "application/json") {
		var m map[string]string
		if err := json.Unmarshal(body, &m); err == nil {
			values := url.Values{}
			for k, v := range m {
				values.Set(k, v)
			}
			return values
		}
		return url.Values{}
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return url.Values{}
	}
	return values
}

func basicAuthFromHeader(headers http.Header) (user, pass string, ok bool) {
	auth := headers.Get("Authorization")
	const prefix = "Basic "
	if !strings.HasPrefix(auth, prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(auth[len(prefix):])
	if err != nil {
		return "", "", false
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
