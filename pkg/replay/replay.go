// Package replay fetches a recorded endpoint from a skill file and issues
// the request directly against the origin, without a browser. It handles
// placeholder substitution, credential injection from the vault, a single
// SSRF-checked redirect hop, and one 401-triggered refresh-and-retry.
package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/apitap/apitap/pkg/contractdiff"
	"github.com/apitap/apitap/pkg/dispatcher"
	"github.com/apitap/apitap/pkg/oauthrefresh"
	"github.com/apitap/apitap/pkg/skillgen"
	"github.com/apitap/apitap/pkg/urlsafe"
	"github.com/apitap/apitap/pkg/vault"
)

var tracer = otel.Tracer("apitap")

// ErrEndpointNotFound is returned when the requested endpoint id has no
// match in the skill file.
var ErrEndpointNotFound = errors.New("replay: endpoint not found")

// ErrUnsafeURL is returned when the resolved request URL fails SSRF
// classification.
var ErrUnsafeURL = errors.New("replay: unsafe url")

const (
	defaultTimeout = 10 * time.Second
	minTimeout     = 5 * time.Second
	maxTimeout     = 30 * time.Second
)

// client never follows redirects automatically; replay validates and
// follows at most one hop itself.
var client = &http.Client{
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

// Options configures a single replay call.
type Options struct {
	Params   map[string]string
	Vault    *vault.Vault
	Domain   string
	Fresh    bool
	MaxBytes int
	Timeout  time.Duration
	Dispatch *dispatcher.Dispatcher
}

// Result is the outcome of replaying one endpoint.
type Result struct {
	Status           int
	Headers          map[string]string
	Data             interface{}
	Refreshed        bool
	Truncated        bool
	ContractWarnings []contractdiff.Warning
}

// Run replays the named endpoint from skill against its origin and returns
// the decoded response.
func Run(ctx context.Context, skill skillgen.SkillFile, endpointID string, opts Options) (Result, error) {
	ctx, span := tracer.Start(ctx, "apitap.replay")
	defer span.End()
	span.SetAttributes(
		attribute.String("apitap.domain", skill.Domain),
		attribute.String("apitap.endpoint_id", endpointID),
	)

	ep := findEndpoint(skill, endpointID)
	if ep == nil {
		err := fmt.Errorf("%w: %s", ErrEndpointNotFound, endpointID)
		span.RecordError(err)
		return Result{}, err
	}

	if opts.Dispatch == nil {
		opts.Dispatch = dispatcher.New()
	}

	if opts.Fresh && opts.Vault != nil {
		refreshDomain(skill.Domain, skill.Auth, opts)
	}

	res, err := attempt(ctx, skill, ep, opts)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	if res.Status == http.StatusUnauthorized && opts.Vault != nil && canRefresh(skill.Auth, ep) {
		refreshDomain(skill.Domain, skill.Auth, opts)
		retried, err := attempt(ctx, skill, ep, opts)
		if err != nil {
			span.RecordError(err)
			return Result{}, err
		}
		retried.Refreshed = true
		res = retried
	}

	if ep.ResponseSchema != nil {
		res.ContractWarnings = contractdiff.Diff(ep.ResponseSchema, res.Data)
	}

	span.SetAttributes(attribute.Int("apitap.replay.status", res.Status))
	return res, nil
}

func findEndpoint(skill skillgen.SkillFile, id string) *skillgen.Endpoint {
	for i := range skill.Endpoints {
		if skill.Endpoints[i].ID == id {
			return &skill.Endpoints[i]
		}
	}
	return nil
}

func canRefresh(auth *skillgen.Auth, ep *skillgen.Endpoint) bool {
	if auth != nil && auth.OAuthConfig != nil {
		return true
	}
	return ep.BodyTemplate != nil && len(ep.BodyTemplate.RefreshableTokens) > 0
}

func refreshDomain(domain string, auth *skillgen.Auth, opts Options) dispatcher.Result {
	return opts.Dispatch.Refresh(domain, func(d string) dispatcher.Result {
		if auth == nil || auth.OAuthConfig == nil {
			return dispatcher.Result{Success: false, Detail: "no oauth config for domain"}
		}
		r := oauthrefresh.Refresh(context.Background(), d, *auth.OAuthConfig, opts.Vault)
		return dispatcher.Result{Success: r.Success, Detail: r.Error}
	})
}

// attempt builds and issues a single request, following at most one
// SSRF-validated redirect hop.
func attempt(ctx context.Context, skill skillgen.SkillFile, ep *skillgen.Endpoint, opts Options) (Result, error) {
	reqURL, err := buildURL(skill.BaseURL, ep, opts.Params)
	if err != nil {
		return Result{}, err
	}

	body, contentType, err := buildBody(ep, opts)
	if err != nil {
		return Result{}, err
	}

	headers := buildHeaders(ep, opts, contentType)

	timeout := opts.Timeout
	if timeout < minTimeout {
		timeout = defaultTimeout
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	check := urlsafe.ResolveAndValidate(ctx, reqURL)
	if !check.Safe {
		return Result{}, fmt.Errorf("%w: %s: %s", ErrUnsafeURL, reqURL, check.Reason)
	}

	resp, err := doRequest(ctx, ep.Method, reqURL, headers, body)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if loc := resp.Header.Get("Location"); isRedirect(resp.StatusCode) && loc != "" {
		redirectURL, err := resolveRedirect(reqURL, loc)
		if err != nil {
			return Result{}, err
		}
		redirCheck := urlsafe.ValidateRedirect(ctx, redirectURL)
		if !redirCheck.Safe {
			return Result{}, fmt.Errorf("%w: redirect to %s: %s", ErrUnsafeURL, redirectURL, redirCheck.Reason)
		}
		resp.Body.Close()
		resp, err = doRequest(ctx, ep.Method, redirectURL, headers, body)
		if err != nil {
			return Result{}, err
		}
		defer resp.Body.Close()
	}

	return decodeResponse(resp, opts.MaxBytes)
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func resolveRedirect(base, location string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("replay: parse base url: %w", err)
	}
	target, err := baseURL.Parse(location)
	if err != nil {
		return "", fmt.Errorf("replay: parse redirect location: %w", err)
	}
	return target.String(), nil
}

func doRequest(ctx context.Context, method, reqURL string, headers map[string]string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("replay: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("replay: request failed: %w", err)
	}
	return resp, nil
}

// buildURL substitutes :name path placeholders and overlays query params.
func buildURL(baseURL string, ep *skillgen.Endpoint, params map[string]string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("replay: parse base url: %w", err)
	}

	segments := strings.Split(ep.Path, "/")
	for i, seg := range segments {
		if strings.HasPrefix(seg, ":") {
			name := strings.TrimPrefix(seg, ":")
			if v, ok := params[name]; ok {
				segments[i] = url.PathEscape(v)
			}
		}
	}
	resolved := strings.Join(segments, "/")

	ref, err := url.Parse(resolved)
	if err != nil {
		return "", fmt.Errorf("replay: parse path: %w", err)
	}
	full := base.ResolveReference(ref)

	q := full.Query()
	for name, qp := range ep.QueryParams {
		if v, ok := params[name]; ok {
			q.Set(name, v)
		} else if qp.Example != "" {
			q.Set(name, qp.Example)
		}
	}
	full.RawQuery = q.Encode()

	return full.String(), nil
}

// buildBody deep-clones the endpoint's body template, substitutes dotted
// path variables from params, overlays refreshable tokens from the vault,
// and re-serializes.
func buildBody(ep *skillgen.Endpoint, opts Options) ([]byte, string, error) {
	if ep.BodyTemplate == nil {
		return nil, "", nil
	}
	bt := ep.BodyTemplate

	clone, err := cloneJSON(bt.Template)
	if err != nil {
		return nil, bt.ContentType, fmt.Errorf("replay: clone body template: %w", err)
	}

	for _, path := range bt.Variables {
		if v, ok := opts.Params[path]; ok {
			setDottedPath(clone, path, v)
		}
	}

	if opts.Vault != nil && len(bt.RefreshableTokens) > 0 {
		tokens := opts.Vault.RetrieveTokens(opts.Domain)
		for _, name := range bt.RefreshableTokens {
			if tok, ok := tokens[name]; ok {
				setDottedPath(clone, name, tok.Value)
			}
		}
	}

	switch bt.ContentType {
	case "application/x-www-form-urlencoded":
		vals := url.Values{}
		if m, ok := clone.(map[string]interface{}); ok {
			for k, v := range m {
				vals.Set(k, fmt.Sprintf("%v", v))
			}
		}
		return []byte(vals.Encode()), bt.ContentType, nil
	default:
		out, err := json.Marshal(clone)
		if err != nil {
			return nil, bt.ContentType, fmt.Errorf("replay: marshal body: %w", err)
		}
		return out, bt.ContentType, nil
	}
}

func cloneJSON(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// setDottedPath writes value at a dotted path (e.g. "user.email") inside an
// already-decoded JSON structure. Missing intermediate maps are not
// created; the template must already contain the shape.
func setDottedPath(root interface{}, path string, value string) {
	parts := strings.Split(path, ".")
	cur := root
	for i, part := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return
		}
		if i == len(parts)-1 {
			m[part] = value
			return
		}
		cur = m[part]
	}
}

// buildHeaders applies the strict replay allow-list: authorization only
// ever comes from the vault, never the template; host/forwarded/cookie
// headers are always rejected.
func buildHeaders(ep *skillgen.Endpoint, opts Options, bodyContentType string) map[string]string {
	headers := map[string]string{}

	for name, val := range ep.HeaderTemplate {
		lower := strings.ToLower(name)
		if isBlockedHeader(lower) {
			continue
		}
		if val == "[stored]" {
			if v := storedHeaderValue(opts, lower); v != "" {
				headers[name] = v
			}
			continue
		}
		headers[name] = val
	}

	if bodyContentType != "" {
		headers["Content-Type"] = bodyContentType
	}

	if opts.Vault != nil {
		if auth := opts.Vault.Retrieve(opts.Domain); auth != nil && auth.HeaderName != "" {
			headers[auth.HeaderName] = auth.HeaderValue
		}
	}

	return headers
}

func isBlockedHeader(lower string) bool {
	switch {
	case lower == "host", lower == "cookie", lower == "authorization":
		return true
	case strings.HasPrefix(lower, "x-forwarded-"):
		return true
	}
	return false
}

func storedHeaderValue(opts Options, headerLower string) string {
	if opts.Vault == nil {
		return ""
	}
	auth := opts.Vault.Retrieve(opts.Domain)
	if auth == nil {
		return ""
	}
	if strings.ToLower(auth.HeaderName) == headerLower {
		return auth.HeaderValue
	}
	return ""
}

// decodeResponse decodes the body as JSON when the content-type indicates
// it, otherwise as plain text, truncating to maxBytes when set.
func decodeResponse(resp *http.Response, maxBytes int) (Result, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("replay: read response body: %w", err)
	}

	truncated := false
	if maxBytes > 0 && len(raw) > maxBytes {
		raw = raw[:maxBytes]
		truncated = true
	}

	headers := map[string]string{}
	for k := range resp.Header {
		headers[strings.ToLower(k)] = resp.Header.Get(k)
	}

	var data interface{}
	if isJSONContentType(resp.Header.Get("Content-Type")) {
		if err := json.Unmarshal(raw, &data); err != nil {
			data = string(raw)
		}
	} else {
		data = string(raw)
	}

	return Result{
		Status:    resp.StatusCode,
		Headers:   headers,
		Data:      data,
		Truncated: truncated,
	}, nil
}

func isJSONContentType(ct string) bool {
	return strings.Contains(strings.ToLower(ct), "json")
}

// Request is one unit of work passed to ReplayMultiple.
type Request struct {
	Skill      skillgen.SkillFile
	EndpointID string
	Options    Options
}

// BatchResult carries the origin and outcome of one replay in a batch.
type BatchResult struct {
	Domain     string
	EndpointID string
	Result
	Error string
}

// ReplayMultiple groups requests by domain and replays each domain's
// requests concurrently via errgroup; requests within a domain run
// sequentially to share one dispatcher and avoid duplicate refreshes.
func ReplayMultiple(ctx context.Context, requests []Request) []BatchResult {
	results := make([]BatchResult, len(requests))

	type slot struct {
		idx int
		req Request
	}
	byDomain := map[string][]slot{}
	for i, r := range requests {
		byDomain[r.Skill.Domain] = append(byDomain[r.Skill.Domain], slot{i, r})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, slots := range byDomain {
		slots := slots
		sharedDispatch := dispatcher.New()
		g.Go(func() error {
			for _, s := range slots {
				if s.req.Options.Dispatch == nil {
					s.req.Options.Dispatch = sharedDispatch
				}
				res, err := Run(gctx, s.req.Skill, s.req.EndpointID, s.req.Options)
				br := BatchResult{Domain: s.req.Skill.Domain, EndpointID: s.req.EndpointID, Result: res}
				if err != nil {
					br.Error = err.Error()
				}
				results[s.idx] = br
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
