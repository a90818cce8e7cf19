package browse

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/apitap/apitap/pkg/skillgen"
	"github.com/apitap/apitap/pkg/skillstore"
)

func writeSkill(t *testing.T, dir string, skill skillgen.SkillFile) {
	t.Helper()
	if err := skillstore.Store(dir, skill, nil); err != nil {
		t.Fatalf("skillstore.Store: %v", err)
	}
}

func TestBrowse_ReplaysMatchingEndpoint(t *testing.T) {
	t.Setenv("APITAP_SKIP_SSRF_CHECK", "1")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"id": 7, "title": "hello"})
	}))
	defer srv.Close()

	dir := t.TempDir()
	domain := "shop.example.com"
	writeSkill(t, dir, skillgen.SkillFile{
		Domain:  domain,
		BaseURL: srv.URL,
		Endpoints: []skillgen.Endpoint{
			{ID: "get-posts-id", Method: "GET", Path: "/posts/:id", Tier: skillgen.TierGreen},
		},
	})

	svc := New(dir, nil, nil, nil)
	result, err := svc.Browse(context.Background(), "https://"+domain+"/posts/7", Options{SkillsDir: dir})
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}

	ok, isSuccess := result.(Success)
	if !isSuccess {
		t.Fatalf("result = %+v, want Success", result)
	}
	if !ok.Success || ok.EndpointID != "get-posts-id" {
		t.Fatalf("result = %+v", ok)
	}
}

func TestBrowse_GuidanceWhenNoSkillFile(t *testing.T) {
	svc := New(t.TempDir(), nil, nil, nil)
	result, err := svc.Browse(context.Background(), "https://unknown.example.com/x", Options{})
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	g, isGuidance := result.(Guidance)
	if !isGuidance || g.Success {
		t.Fatalf("result = %+v, want guidance", result)
	}
}

func TestBrowse_GuidanceWhenNoEndpointMatches(t *testing.T) {
	dir := t.TempDir()
	domain := "noendpoints.example.com"
	writeSkill(t, dir, skillgen.SkillFile{
		Domain:  domain,
		BaseURL: "https://" + domain,
		Endpoints: []skillgen.Endpoint{
			{ID: "post-checkout", Method: "POST", Path: "/checkout", Tier: skillgen.TierGreen},
		},
	})

	svc := New(dir, nil, nil, nil)
	result, err := svc.Browse(context.Background(), "https://"+domain+"/checkout", Options{})
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	g, isGuidance := result.(Guidance)
	if !isGuidance || g.Success {
		t.Fatalf("result = %+v, want guidance (no GET endpoint matches a POST-only skill)", result)
	}
}

func TestSelectEndpoint_PrefersLongerPathOverlap(t *testing.T) {
	skill := skillgen.SkillFile{
		Endpoints: []skillgen.Endpoint{
			{ID: "list-items", Method: "GET", Path: "/items", Tier: skillgen.TierGreen},
			{ID: "get-item", Method: "GET", Path: "/items/:id", Tier: skillgen.TierGreen},
		},
	}
	ep := selectEndpoint(skill, "/items/42")
	if ep == nil || ep.ID != "get-item" {
		t.Fatalf("selected %+v, want get-item", ep)
	}
}

func TestSelectEndpoint_SkipsRedTier(t *testing.T) {
	skill := skillgen.SkillFile{
		Endpoints: []skillgen.Endpoint{
			{ID: "risky", Method: "GET", Path: "/data", Tier: skillgen.TierRed},
		},
	}
	if ep := selectEndpoint(skill, "/data"); ep != nil {
		t.Fatalf("selected %+v, want nil (red tier must not be auto-replayed)", ep)
	}
}

func TestService_InvalidatesCacheOnFileChange(t *testing.T) {
	t.Setenv("APITAP_SKIP_SSRF_CHECK", "1")

	dir := t.TempDir()
	domain := "live.example.com"
	writeSkill(t, dir, skillgen.SkillFile{
		Domain:  domain,
		BaseURL: "https://" + domain,
		Endpoints: []skillgen.Endpoint{
			{ID: "get-a", Method: "GET", Path: "/a", Tier: skillgen.TierGreen},
		},
	})

	svc := New(dir, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	if _, _, err := svc.loadSkill(domain); err != nil {
		t.Fatalf("loadSkill: %v", err)
	}
	svc.mu.RLock()
	_, cached := svc.cache[domain]
	svc.mu.RUnlock()
	if !cached {
		t.Fatal("expected skill to be cached after first load")
	}

	writeSkill(t, dir, skillgen.SkillFile{
		Domain:  domain,
		BaseURL: "https://" + domain,
		Endpoints: []skillgen.Endpoint{
			{ID: "get-a", Method: "GET", Path: "/a", Tier: skillgen.TierGreen},
			{ID: "get-b", Method: "GET", Path: "/b", Tier: skillgen.TierGreen},
		},
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		svc.mu.RLock()
		_, stillCached := svc.cache[domain]
		svc.mu.RUnlock()
		if !stillCached {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	svc.mu.RLock()
	_, stillCached := svc.cache[domain]
	svc.mu.RUnlock()
	if stillCached {
		t.Fatal("expected cache entry to be invalidated after file rewrite")
	}

	skill, _, err := svc.loadSkill(domain)
	if err != nil {
		t.Fatalf("loadSkill after invalidation: %v", err)
	}
	if len(skill.Endpoints) != 2 {
		t.Fatalf("got %d endpoints, want 2 (reloaded file)", len(skill.Endpoints))
	}
}

func TestDomainFromPath(t *testing.T) {
	got := domainFromPath(filepath.Join("/skills", "api.example.com.json"))
	if got != "api.example.com" {
		t.Fatalf("domainFromPath = %q, want api.example.com", got)
	}
}
