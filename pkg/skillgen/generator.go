package skillgen

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/apitap/apitap/pkg/detect"
	"github.com/apitap/apitap/pkg/pathinfer"
	"github.com/apitap/apitap/pkg/tokenscan"
	"github.com/apitap/apitap/pkg/vault"
	"github.com/google/uuid"
)

// headerAllowList are the only header names (case-insensitive) preserved
// in an endpoint template; any header whose name starts with "x-" but not
// "x-forwarded" is also preserved.
var headerAllowList = map[string]bool{
	"authorization":     true,
	"content-type":      true,
	"accept":            true,
	"x-api-key":         true,
	"x-csrf-token":      true,
	"x-requested-with":  true,
}

const maxSchemaDepth = 5

// Generator is a per-hostname accumulator that folds captured exchanges
// into deduplicated endpoints, tracking extracted credentials and OAuth
// configuration along the way. A Generator is safe for concurrent use.
type Generator struct {
	mu            sync.Mutex
	hostname      string
	baseURL       string
	runID         string
	endpoints     map[string]*Endpoint
	order         []string
	captureCount  int
	filteredCount int
	networkBytes  int64
	captchaRisk   bool

	extractedAuth map[string]vault.StoredAuth
	oauthConfig   *OAuthConfig
	refreshToken  string
	clientSecret  string

	scrubPII bool
}

// New creates a generator for a single hostname.
func New(hostname, baseURL string) *Generator {
	return &Generator{
		hostname:      hostname,
		baseURL:       baseURL,
		runID:         uuid.NewString(),
		endpoints:     make(map[string]*Endpoint),
		extractedAuth: make(map[string]vault.StoredAuth),
		scrubPII:      true,
	}
}

// RunID returns the opaque identifier minted for this capture session, used
// to tag tracing spans and log lines across a single browsing run.
func (g *Generator) RunID() string {
	return g.runID
}

// SetScrubPII controls whether query-param examples and example request
// URLs are PII-scrubbed. Enabled by default.
func (g *Generator) SetScrubPII(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scrubPII = on
}

// RecordFiltered increments the count of exchanges rejected by the capture
// filter, for observability only.
func (g *Generator) RecordFiltered() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.filteredCount++
}

// AddNetworkBytes accumulates total network bytes observed for this
// hostname's browsing session.
func (g *Generator) AddNetworkBytes(n int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.networkBytes += n
}

// SetCaptchaRisk records whether the browsing session encountered a
// captcha challenge for this domain.
func (g *Generator) SetCaptchaRisk(risk bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captchaRisk = risk
}

// AddExchange folds a captured exchange into the generator. It returns the
// newly created endpoint on first sight of its key, or nil for a
// duplicate or for anything that carries an OAuth token request (those are
// recorded separately via GetOAuthConfig, not as endpoints).
func (g *Generator) AddExchange(ex CapturedExchange) *Endpoint {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.captureCount++

	if oauth := detect.DetectOAuthTokenRequest(ex.Method, ex.URL, ex.ContentType, toHeader(ex.Headers), ex.Body); oauth != nil {
		g.recordOAuth(oauth)
		return nil
	}

	u, err := url.Parse(ex.URL)
	if err != nil {
		return nil
	}

	isGraphQL := detect.IsGraphQL(u.Path, ex.ContentType, ex.Body)
	var opName string
	if isGraphQL {
		opName = detect.ParseGraphQL(ex.Body).OperationName
	}

	cleanedPath := pathinfer.CleanFrameworkPath(u.Path)
	paramPath := pathinfer.ParameterizePath(cleanedPath)

	key := endpointKey(ex.Method, paramPath, opName)
	if existing, ok := g.endpoints[key]; ok {
		existing.captureCount++
		if existing.Tier == TierUnknown && ex.Status >= 200 && ex.Status < 300 {
			if responseShape(ex.RespBody).Type == existing.ResponseShape.Type {
				existing.Verified = true
				existing.Tier = TierGreen
				existing.Signals = append(existing.Signals, "repeat_2xx_matching_shape")
			}
		}
		return nil
	}

	ep := g.buildEndpoint(ex, u, paramPath, opName, isGraphQL)
	g.endpoints[key] = ep
	g.order = append(g.order, key)
	return ep
}

func endpointKey(method, path, operationName string) string {
	key := strings.ToUpper(method) + " " + path
	if operationName != "" {
		key += " :: " + operationName
	}
	return key
}

func slugID(method, path, operationName string) string {
	if operationName != "" {
		return "post-graphql-" + operationName
	}
	trimmed := strings.ReplaceAll(strings.Trim(path, "/"), "/", "-")
	slug := strings.ToLower(method)
	if trimmed != "" {
		slug += "-" + trimmed
	}
	slug = strings.ReplaceAll(slug, ":", "")
	return slug
}

func (g *Generator) buildEndpoint(ex CapturedExchange, u *url.URL, paramPath, opName string, isGraphQL bool) *Endpoint {
	ep := &Endpoint{
		ID:            slugID(ex.Method, paramPath, opName),
		Method:        strings.ToUpper(ex.Method),
		Path:          paramPath,
		OperationName: opName,
		ResponseBytes: len(ex.RespBody),
		ExampleURL:    g.maybeScrub(ex.URL),
		captureCount:  1,
	}

	queryNames, queryParams := g.buildQueryParams(u)
	ep.QueryParams = queryParams
	if pag := pathinfer.DetectPagination(queryNames); pag != nil {
		ep.Pagination = &Pagination{Type: string(pag.Type), ParamName: pag.ParamName, LimitParam: pag.LimitParam}
	}

	ep.HeaderTemplate = g.buildHeaderTemplate(ex.Headers)
	ep.Tier, ep.Signals = classifyTier(ex.Status, headerTemplateRequiresAuth(ep.HeaderTemplate))

	if isGraphQL {
		ep.BodyTemplate = g.buildGraphQLTemplate(ex.Body)
	} else if len(ex.Body) > 0 && isMutatingMethod(ex.Method) {
		ep.BodyTemplate = g.buildBodyTemplate(ex.Body, ex.ContentType)
	}

	ep.ResponseShape = responseShape(ex.RespBody)
	if node := buildSchema(ex.RespBody, 0); node != nil {
		ep.ResponseSchema = node
	}

	return ep
}

func (g *Generator) buildQueryParams(u *url.URL) ([]string, map[string]QueryParam) {
	values := u.Query()
	names := make([]string, 0, len(values))
	params := make(map[string]QueryParam, len(values))
	for name, vs := range values {
		names = append(names, name)
		example := ""
		if len(vs) > 0 {
			example = vs[0]
		}
		params[name] = QueryParam{Type: inferScalarType(example), Example: g.maybeScrub(example)}
	}
	sort.Strings(names)
	return names, params
}

func inferScalarType(v string) string {
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return "number"
	}
	if v == "true" || v == "false" {
		return "boolean"
	}
	return "string"
}

// buildHeaderTemplate applies the header allow-list, replacing any value
// classified as a likely credential with the "[stored]" sentinel and
// recording it into the generator's extracted-auth set.
func (g *Generator) buildHeaderTemplate(headers map[string]string) map[string]string {
	template := make(map[string]string)
	for name, value := range headers {
		lower := strings.ToLower(name)
		if !headerAllowList[lower] && !(strings.HasPrefix(lower, "x-") && !strings.HasPrefix(lower, "x-forwarded")) {
			continue
		}

		classification := tokenscan.IsLikelyToken(name, value)
		if classification.IsToken {
			template[name] = "[stored]"
			g.extractedAuth[lower] = vault.StoredAuth{
				Type:        credentialType(lower),
				HeaderName:  name,
				HeaderValue: value,
			}
			continue
		}
		template[name] = value
	}
	return template
}

func credentialType(lowerHeaderName string) string {
	switch lowerHeaderName {
	case "authorization":
		return "bearer"
	case "x-api-key":
		return "api-key"
	case "x-csrf-token":
		return "custom"
	default:
		return "custom"
	}
}

// headerTemplateRequiresAuth reports whether a built header template
// carries a credential the vault will need to supply at replay time.
func headerTemplateRequiresAuth(template map[string]string) bool {
	for _, v := range template {
		if v == "[stored]" {
			return true
		}
	}
	return false
}

// classifyTier assigns a first-sight replayability tier from the
// exchange's observed status and whether a stored credential is
// required. An endpoint only reaches green once a later capture
// confirms a matching 2xx response shape; see AddExchange.
func classifyTier(status int, requiresAuth bool) (Tier, []string) {
	if requiresAuth {
		return TierYellow, []string{"auth_required"}
	}
	switch {
	case status >= 200 && status < 300:
		return TierUnknown, []string{"2xx_response"}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return TierYellow, []string{"auth_required"}
	case status >= 500:
		return TierRed, []string{"server_error"}
	case status >= 400:
		return TierOrange, []string{"non_2xx_response"}
	default:
		return TierUnknown, nil
	}
}

func isMutatingMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

func (g *Generator) buildBodyTemplate(body []byte, contentType string) *BodyTemplate {
	ct := "application/json"
	if strings.Contains(strings.ToLower(contentType), "www-form-urlencoded") {
		ct = "application/x-www-form-urlencoded"
	}

	var template interface{}
	if ct == "application/json" {
		_ = json.Unmarshal(body, &template)
	} else {
		values, _ := url.ParseQuery(string(body))
		m := make(map[string]interface{}, len(values))
		for k, vs := range values {
			if len(vs) > 0 {
				m[k] = vs[0]
			}
		}
		template = m
	}

	return &BodyTemplate{
		ContentType:       ct,
		Template:          template,
		Variables:         tokenscan.DetectBodyVariables(body),
		RefreshableTokens: tokenscan.DetectRefreshableTokens(body),
	}
}

func (g *Generator) buildGraphQLTemplate(body []byte) *BodyTemplate {
	info := detect.ParseGraphQL(body)
	variablesJSON, _ := json.Marshal(map[string]interface{}{"variables": info.Variables})
	varPaths := tokenscan.DetectBodyVariables(variablesJSON)

	return &BodyTemplate{
		ContentType: "application/json",
		Template: map[string]interface{}{
			"query":         info.Query,
			"operationName": info.OperationName,
			"variables":     info.Variables,
		},
		Variables: varPaths,
	}
}

func (g *Generator) maybeScrub(s string) string {
	if g.scrubPII {
		return tokenscan.Scrub(s)
	}
	return s
}

func (g *Generator) recordOAuth(oauth *detect.OAuthTokenRequest) {
	if g.oauthConfig == nil {
		g.oauthConfig = &OAuthConfig{
			TokenEndpoint: oauth.TokenEndpoint,
			ClientID:      oauth.ClientID,
			GrantType:     oauth.GrantType,
			Scope:         oauth.Scope,
		}
	}
	// A later capture must never overwrite a previously observed
	// refresh token or client secret with an absent one.
	if oauth.RefreshToken != "" {
		g.refreshToken = oauth.RefreshToken
	}
	if oauth.ClientSecret != "" {
		g.clientSecret = oauth.ClientSecret
	}
}

// GetExtractedAuth returns the credential records the generator extracted
// from preserved headers while building endpoint templates.
func (g *Generator) GetExtractedAuth() []vault.StoredAuth {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]vault.StoredAuth, 0, len(g.extractedAuth))
	for _, auth := range g.extractedAuth {
		out = append(out, auth)
	}
	return out
}

// GetOAuthConfig returns the OAuth token-endpoint shape observed during
// capture, or nil if none was seen.
func (g *Generator) GetOAuthConfig() *OAuthConfig {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.oauthConfig
}

// GetOAuthRefreshToken returns the refresh token observed during capture,
// if any.
func (g *Generator) GetOAuthRefreshToken() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refreshToken
}

// GetOAuthClientSecret returns the OAuth client secret observed during
// capture, if any.
func (g *Generator) GetOAuthClientSecret() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clientSecret
}

// Stats reports the accumulator's capture and rejection counters.
type Stats struct {
	CaptureCount  int
	FilteredCount int
	EndpointCount int
}

// Stats returns the generator's running counters.
func (g *Generator) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{CaptureCount: g.captureCount, FilteredCount: g.filteredCount, EndpointCount: len(g.endpoints)}
}

// ToSkillFile assembles the accumulated endpoints into a skill file for
// domain. The returned file is unsigned; callers persist it through
// pkg/skillstore, which applies canonicalization and signing.
func (g *Generator) ToSkillFile(domain, toolVersion string) SkillFile {
	g.mu.Lock()
	defer g.mu.Unlock()

	endpoints := make([]Endpoint, 0, len(g.order))
	for _, key := range g.order {
		endpoints = append(endpoints, *g.endpoints[key])
	}

	var auth *Auth
	if len(g.extractedAuth) > 0 || g.oauthConfig != nil || g.captchaRisk {
		auth = &Auth{
			BrowserMode: "cookie",
			CaptchaRisk: g.captchaRisk,
			OAuthConfig: g.oauthConfig,
		}
	}

	return SkillFile{
		Version:    "1.2",
		Domain:     domain,
		BaseURL:    g.baseURL,
		CapturedAt: time.Now().UTC(),
		Endpoints:  endpoints,
		Metadata: Metadata{
			CaptureCount:  g.captureCount,
			FilteredCount: g.filteredCount,
			ToolVersion:   toolVersion,
			BrowserCost: &BrowserCost{
				TotalNetworkBytes: g.networkBytes,
				TotalRequests:     g.captureCount + g.filteredCount,
			},
		},
		Auth:       auth,
		Provenance: ProvenanceSelf,
	}
}

func toHeader(m map[string]string) http.Header {
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}
