// Package skillgen accumulates captured HTTP exchanges for a single
// hostname into a deduplicated set of endpoints and assembles the
// resulting skill file.
package skillgen

import "time"

// CapturedExchange is a single observed request/response pair handed to
// the generator by the browsing driver. It is immutable once accepted.
type CapturedExchange struct {
	Method      string
	URL         string
	Headers     map[string]string
	Body        []byte
	Status      int
	RespHeaders map[string]string
	RespBody    []byte
	ContentType string
	Timestamp   time.Time
}

// SchemaNode is a recursive response-shape tree, capped at depth 5 by the
// generator.
type SchemaNode struct {
	Type     string                `json:"type"`
	Fields   map[string]SchemaNode `json:"fields,omitempty"`
	Items    *SchemaNode           `json:"items,omitempty"`
	Nullable bool                  `json:"nullable,omitempty"`
}

// ResponseShape is the lightweight top-level summary recorded for every
// endpoint: its JSON type and, for objects, the top-level key names in
// insertion order.
type ResponseShape struct {
	Type   string   `json:"type"`
	Fields []string `json:"fields,omitempty"`
}

// Pagination describes the pagination convention inferred for an endpoint.
type Pagination struct {
	Type       string `json:"type"`
	ParamName  string `json:"paramName"`
	LimitParam string `json:"limitParam,omitempty"`
}

// QueryParam is an observed query parameter with an inferred type and a
// recorded example value.
type QueryParam struct {
	Type    string `json:"type"`
	Example string `json:"example"`
}

// BodyTemplate captures a request body template plus the dotted paths that
// vary between requests and the refreshable tokens echoed back to the
// server.
type BodyTemplate struct {
	ContentType        string      `json:"contentType"`
	Template           interface{} `json:"template"`
	Variables          []string    `json:"variables,omitempty"`
	RefreshableTokens  []string    `json:"refreshableTokens,omitempty"`
}

// Tier classifies how confidently an endpoint can be replayed without the
// browser.
type Tier string

const (
	TierGreen   Tier = "green"
	TierYellow  Tier = "yellow"
	TierOrange  Tier = "orange"
	TierRed     Tier = "red"
	TierUnknown Tier = "unknown"
)

// Endpoint is the learned description of a family of captured exchanges
// sharing the same method and parameterized path (plus operation name for
// GraphQL).
type Endpoint struct {
	ID             string            `json:"id"`
	Method         string            `json:"method"`
	Path           string            `json:"path"`
	OperationName  string            `json:"operationName,omitempty"`
	QueryParams    map[string]QueryParam `json:"queryParams,omitempty"`
	HeaderTemplate map[string]string `json:"headerTemplate,omitempty"`
	ResponseShape  ResponseShape     `json:"responseShape"`
	ResponseSchema *SchemaNode       `json:"responseSchema,omitempty"`
	BodyTemplate   *BodyTemplate     `json:"bodyTemplate,omitempty"`
	Pagination     *Pagination       `json:"pagination,omitempty"`
	Tier           Tier              `json:"tier,omitempty"`
	Verified       bool              `json:"verified,omitempty"`
	Signals        []string          `json:"signals,omitempty"`
	ResponseBytes  int               `json:"responseBytes"`
	ExampleURL     string            `json:"exampleUrl"`
	ResponsePreview string           `json:"responsePreview,omitempty"`
	captureCount   int
}

// OAuthConfig records the OAuth token-endpoint shape the generator
// observed during capture.
type OAuthConfig struct {
	TokenEndpoint string `json:"tokenEndpoint"`
	ClientID      string `json:"clientId"`
	GrantType     string `json:"grantType"`
	Scope         string `json:"scope,omitempty"`
}

// BrowserCost records the network and DOM cost of driving the browser to
// reach this domain's API, so later tooling can show the savings of
// replaying instead.
type BrowserCost struct {
	DomBytes          int64 `json:"domBytes"`
	TotalNetworkBytes int64 `json:"totalNetworkBytes"`
	TotalRequests     int   `json:"totalRequests"`
}

// Metadata summarizes the capture session that produced a skill file.
type Metadata struct {
	CaptureCount  int          `json:"captureCount"`
	FilteredCount int          `json:"filteredCount"`
	ToolVersion   string       `json:"toolVersion"`
	BrowserCost   *BrowserCost `json:"browserCost,omitempty"`
}

// Auth describes how the browser authenticated to this domain and what
// machinery, if any, can refresh that authentication without the browser.
type Auth struct {
	BrowserMode  string       `json:"browserMode"`
	CaptchaRisk  bool         `json:"captchaRisk"`
	TTLHint      string       `json:"ttlHint,omitempty"`
	RefreshURL   string       `json:"refreshUrl,omitempty"`
	OAuthConfig  *OAuthConfig `json:"oauthConfig,omitempty"`
}

// Provenance records how a skill file came to exist on this machine.
type Provenance string

const (
	ProvenanceSelf     Provenance = "self"
	ProvenanceImported Provenance = "imported"
	ProvenanceUnsigned Provenance = "unsigned"
)

// SkillFile is the domain's capture artifact: every endpoint learned for
// the domain, plus the metadata and auth description needed to replay
// them.
type SkillFile struct {
	Version      string     `json:"version"`
	Domain       string     `json:"domain"`
	BaseURL      string     `json:"baseUrl"`
	CapturedAt   time.Time  `json:"capturedAt"`
	Endpoints    []Endpoint `json:"endpoints"`
	Metadata     Metadata   `json:"metadata"`
	Auth         *Auth      `json:"auth,omitempty"`
	Provenance   Provenance `json:"provenance"`
	Signature    string     `json:"signature,omitempty"`
}
