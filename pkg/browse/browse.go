// Package browse is the orchestration façade: given a URL a caller wants
// data from, it finds a matching skill file, replays the best endpoint,
// and falls back to a guidance envelope when no skill or no confident
// endpoint match exists. It watches the skills directory so an edited or
// re-captured skill file is picked up without a process restart.
package browse

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/apitap/apitap/pkg/replay"
	"github.com/apitap/apitap/pkg/skillgen"
	"github.com/apitap/apitap/pkg/skillstore"
	"github.com/apitap/apitap/pkg/vault"
)

// Success is returned when an endpoint was found and replayed.
type Success struct {
	Success    bool          `json:"success"`
	Data       interface{}   `json:"data"`
	Status     int           `json:"status"`
	Domain     string        `json:"domain"`
	EndpointID string        `json:"endpointId"`
	Tier       skillgen.Tier `json:"tier"`
	FromCache  bool          `json:"fromCache"`
	CapturedAt time.Time     `json:"capturedAt"`
	Truncated  bool          `json:"truncated,omitempty"`
}

// Guidance is returned when the URL cannot be served without the browser.
type Guidance struct {
	Success    bool   `json:"success"`
	Reason     string `json:"reason"`
	Suggestion string `json:"suggestion"`
	Domain     string `json:"domain"`
	URL        string `json:"url"`
}

// Options configures a single Browse call.
type Options struct {
	SkillsDir string
	Vault     *vault.Vault
	SignKey   []byte
	MaxBytes  int
	Fresh     bool
}

// Service caches loaded skill files in memory and invalidates a domain's
// entry when its file changes on disk.
type Service struct {
	skillsDir string
	vault     *vault.Vault
	signKey   []byte
	log       *slog.Logger

	mu     sync.RWMutex
	cache  map[string]skillgen.SkillFile
	loaded map[string]bool

	watcher *fsnotify.Watcher
}

// New creates a browsing service rooted at skillsDir. Call Start to begin
// watching the directory for changes; the service works without it, at
// the cost of needing a process restart to observe re-captured skills.
func New(skillsDir string, v *vault.Vault, signKey []byte, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		skillsDir: skillsDir,
		vault:     v,
		signKey:   signKey,
		log:       logger.With("component", "browse"),
		cache:     make(map[string]skillgen.SkillFile),
		loaded:    make(map[string]bool),
	}
}

// Start begins watching the skills directory for changes. It returns
// immediately; the watch loop runs until ctx is canceled. Failure to start
// fsnotify is logged and non-fatal — the service still works, just without
// live invalidation.
func (s *Service) Start(ctx context.Context) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Warn("fsnotify unavailable, skill cache will not auto-invalidate", "error", err)
		return
	}
	if err := w.Add(s.skillsDir); err != nil {
		s.log.Warn("failed to watch skills directory", "dir", s.skillsDir, "error", err)
		w.Close()
		return
	}

	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()

	go s.watchLoop(ctx, w)
}

func (s *Service) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) {
				s.invalidate(domainFromPath(ev.Name))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.Error("skill file watch error", "error", err)
		}
	}
}

func (s *Service) invalidate(domain string) {
	if domain == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, domain)
	delete(s.loaded, domain)
	s.log.Info("skill cache invalidated", "domain", domain)
}

func domainFromPath(path string) string {
	base := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		base = path[idx+1:]
	}
	return strings.TrimSuffix(base, ".json")
}

func (s *Service) loadSkill(domain string) (skillgen.SkillFile, bool, error) {
	s.mu.RLock()
	skill, ok := s.cache[domain]
	s.mu.RUnlock()
	if ok {
		return skill, true, nil
	}

	skill, err := skillstore.Load(s.skillsDir, domain, s.signKey)
	if err != nil {
		return skillgen.SkillFile{}, false, err
	}

	s.mu.Lock()
	s.cache[domain] = skill
	s.loaded[domain] = true
	s.mu.Unlock()

	return skill, false, nil
}

// Browse resolves targetURL against any skill file learned for its domain
// and replays the best-matching endpoint, or returns guidance explaining
// why it could not.
func (s *Service) Browse(ctx context.Context, targetURL string, opts Options) (interface{}, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("browse: parse url: %w", err)
	}
	domain := u.Hostname()

	skill, fromCache, err := s.loadSkill(domain)
	if err != nil {
		return Guidance{
			Reason:     "no skill file learned for this domain",
			Suggestion: "capture this domain's API traffic with the browser first",
			Domain:     domain,
			URL:        targetURL,
		}, nil
	}

	ep := selectEndpoint(skill, u.Path)
	if ep == nil {
		return Guidance{
			Reason:     "no replayable endpoint matches this path",
			Suggestion: "browse the page once more so the capturer can learn this request",
			Domain:     domain,
			URL:        targetURL,
		}, nil
	}

	res, err := replay.Run(ctx, skill, ep.ID, replay.Options{
		Domain:   domain,
		Vault:    opts.Vault,
		MaxBytes: opts.MaxBytes,
		Fresh:    opts.Fresh,
	})
	if err != nil {
		return Guidance{
			Reason:     fmt.Sprintf("replay failed: %v", err),
			Suggestion: "re-capture this endpoint; it may require a fresh session",
			Domain:     domain,
			URL:        targetURL,
		}, nil
	}

	if isHTMLResponse(res.Headers) {
		return Guidance{
			Reason:     "non_api_response",
			Suggestion: "this endpoint returned a page, not API data; it cannot be replayed headlessly",
			Domain:     domain,
			URL:        targetURL,
		}, nil
	}

	return Success{
		Success:    true,
		Data:       res.Data,
		Status:     res.Status,
		Domain:     domain,
		EndpointID: ep.ID,
		Tier:       ep.Tier,
		FromCache:  fromCache,
		CapturedAt: skill.CapturedAt,
		Truncated:  res.Truncated,
	}, nil
}

func isHTMLResponse(headers map[string]string) bool {
	ct := strings.ToLower(headers["content-type"])
	return strings.Contains(ct, "text/html")
}

// selectEndpoint prefers GET endpoints with a replayable tier and the
// longest parameterized-path overlap with requestPath.
func selectEndpoint(skill skillgen.SkillFile, requestPath string) *skillgen.Endpoint {
	var best *skillgen.Endpoint
	bestScore := -1

	for i := range skill.Endpoints {
		ep := &skill.Endpoints[i]
		if ep.Method != "GET" {
			continue
		}
		if !replayableTier(ep.Tier) {
			continue
		}
		score := pathOverlap(ep.Path, requestPath)
		if score > bestScore {
			bestScore = score
			best = ep
		}
	}
	return best
}

func replayableTier(t skillgen.Tier) bool {
	switch t {
	case skillgen.TierGreen, skillgen.TierYellow, skillgen.TierUnknown, "":
		return true
	default:
		return false
	}
}

// pathOverlap counts the number of leading path segments shared between a
// parameterized endpoint path and a concrete request path. Parameterized
// segments (:id, :slug, :hash) always count as a match.
func pathOverlap(pattern, actual string) int {
	pSegs := strings.Split(strings.Trim(pattern, "/"), "/")
	aSegs := strings.Split(strings.Trim(actual, "/"), "/")

	n := len(pSegs)
	if len(aSegs) < n {
		n = len(aSegs)
	}

	score := 0
	for i := 0; i < n; i++ {
		if strings.HasPrefix(pSegs[i], ":") || pSegs[i] == aSegs[i] {
			score++
		} else {
			break
		}
	}
	return score
}
