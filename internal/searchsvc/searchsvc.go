// Package searchsvc adapts the teacher's multi-backend web-search tool into
// the agent package's single-call SearchService contract (spec.md 6):
// `Search(ctx, query) (markdown string, err error)`, with a TTL cache and
// automatic DuckDuckGo fallback kept from the teacher.
package searchsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/webauto/agent/internal/agent"
)

// Backend identifies which search API Service talks to.
type Backend string

const (
	BackendParallel   Backend = "parallel-api"
	BackendSearXNG    Backend = "searxng"
	BackendDuckDuckGo Backend = "duckduckgo"
)

const maxCacheSize = 1000

// Config configures a Service.
type Config struct {
	Backend       Backend
	SearXNGURL    string
	ParallelAPIKey string
	ResultCount   int
	CacheTTL      time.Duration
}

type cacheEntry struct {
	markdown  string
	expiresAt time.Time
}

// Service implements agent.SearchService.
type Service struct {
	cfg        Config
	httpClient *http.Client

	cacheMu sync.RWMutex
	cache   map[string]cacheEntry
}

// New constructs a Service. Defaults: duckduckgo, 5 results, 5-minute cache.
func New(cfg Config) *Service {
	if cfg.Backend == "" {
		cfg.Backend = BackendDuckDuckGo
	}
	if cfg.ResultCount <= 0 {
		cfg.ResultCount = 5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &Service{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      make(map[string]cacheEntry),
	}
}

// FromProvider maps an agent.SearchProvider/apiKey pair to a Service, or nil
// for SearchProviderNone (the Orchestrator treats a nil SearchService as
// "web_search unavailable", spec.md 4.C).
func FromProvider(provider agent.SearchProvider, apiKey string) *Service {
	switch provider {
	case agent.SearchProviderParallel:
		return New(Config{Backend: BackendParallel, ParallelAPIKey: apiKey})
	case agent.SearchProviderSearXNG:
		return New(Config{Backend: BackendSearXNG, SearXNGURL: apiKey})
	case agent.SearchProviderDuckDuckGo:
		return New(Config{Backend: BackendDuckDuckGo})
	default:
		return nil
	}
}

type result struct {
	Title   string
	URL     string
	Snippet string
}

// Search performs one query against the configured backend, falling back to
// DuckDuckGo on failure, and renders the results as markdown.
func (s *Service) Search(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("search query must not be empty")
	}

	cacheKey := fmt.Sprintf("%s:%s", s.cfg.Backend, query)
	if cached, ok := s.fromCache(cacheKey); ok {
		return cached, nil
	}

	results, backend, err := s.run(ctx, s.cfg.Backend, query)
	if err != nil && s.cfg.Backend != BackendDuckDuckGo {
		results, backend, err = s.run(ctx, BackendDuckDuckGo, query)
	}
	if err != nil {
		return "", fmt.Errorf("web search failed: %w", err)
	}

	markdown := renderMarkdown(query, backend, results)
	s.putInCache(cacheKey, markdown)
	return markdown, nil
}

func (s *Service) run(ctx context.Context, backend Backend, query string) ([]result, Backend, error) {
	switch backend {
	case BackendParallel:
		results, err := s.searchParallel(ctx, query)
		return results, BackendParallel, err
	case BackendSearXNG:
		results, err := s.searchSearXNG(ctx, query)
		return results, BackendSearXNG, err
	default:
		results, err := s.searchDuckDuckGo(ctx, query)
		return results, BackendDuckDuckGo, err
	}
}

func (s *Service) searchSearXNG(ctx context.Context, query string) ([]result, error) {
	if s.cfg.SearXNGURL == "" {
		return nil, fmt.Errorf("SearXNG URL not configured")
	}
	searchURL, err := url.Parse(s.cfg.SearXNGURL)
	if err != nil {
		return nil, fmt.Errorf("invalid SearXNG URL: %w", err)
	}
	searchURL.Path = "/search"
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("categories", "general")
	searchURL.RawQuery = q.Encode()

	body, err := s.get(ctx, searchURL.String(), nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse SearXNG response: %w", err)
	}

	out := make([]result, 0, min(len(parsed.Results), s.cfg.ResultCount))
	for i := 0; i < len(parsed.Results) && i < s.cfg.ResultCount; i++ {
		r := parsed.Results[i]
		out = append(out, result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return out, nil
}

func (s *Service) searchDuckDuckGo(ctx context.Context, query string) ([]result, error) {
	instantURL := fmt.Sprintf("https://api.duckduckgo.com/?q=%s&format=json&no_html=1", url.QueryEscape(query))
	body, err := s.get(ctx, instantURL, map[string]string{"User-Agent": "Mozilla/5.0 (compatible; webauto-agent/1.0)"})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Heading       string `json:"Heading"`
		RelatedTopics []struct {
			FirstURL string `json:"FirstURL"`
			Text     string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse DuckDuckGo response: %w", err)
	}

	var out []result
	if parsed.AbstractText != "" && parsed.AbstractURL != "" {
		out = append(out, result{Title: parsed.Heading, URL: parsed.AbstractURL, Snippet: parsed.AbstractText})
	}
	for i := 0; i < len(parsed.RelatedTopics) && len(out) < s.cfg.ResultCount; i++ {
		t := parsed.RelatedTopics[i]
		if t.FirstURL == "" || t.Text == "" {
			continue
		}
		title := t.Text
		if len(title) > 100 {
			title = title[:100]
		}
		out = append(out, result{Title: title, URL: t.FirstURL, Snippet: t.Text})
	}
	return out, nil
}

func (s *Service) searchParallel(ctx context.Context, query string) ([]result, error) {
	if s.cfg.ParallelAPIKey == "" {
		return nil, fmt.Errorf("Parallel Search API key not configured")
	}
	payload, err := json.Marshal(map[string]any{"query": query, "max_results": s.cfg.ResultCount})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.parallel.ai/v1/search", strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.cfg.ParallelAPIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Parallel Search API returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Excerpt string `json:"excerpt"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse Parallel Search response: %w", err)
	}

	out := make([]result, 0, min(len(parsed.Results), s.cfg.ResultCount))
	for i := 0; i < len(parsed.Results) && i < s.cfg.ResultCount; i++ {
		r := parsed.Results[i]
		out = append(out, result{Title: r.Title, URL: r.URL, Snippet: r.Excerpt})
	}
	return out, nil
}

func (s *Service) get(ctx context.Context, target string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func renderMarkdown(query string, backend Backend, results []result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q (%s):\n\n", query, backend)
	if len(results) == 0 {
		b.WriteString("No results found.\n")
		return b.String()
	}
	for i, r := range results {
		fmt.Fprintf(&b, "%d. [%s](%s)\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return b.String()
}

func (s *Service) fromCache(key string) (string, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	entry, ok := s.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.markdown, true
}

func (s *Service) putInCache(key, markdown string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	now := time.Now()
	for k, v := range s.cache {
		if now.After(v.expiresAt) {
			delete(s.cache, k)
		}
	}
	for len(s.cache) >= maxCacheSize {
		var oldestKey string
		var oldestTime time.Time
		for k, v := range s.cache {
			if oldestKey == "" || v.expiresAt.Before(oldestTime) {
				oldestKey, oldestTime = k, v.expiresAt
			}
		}
		if oldestKey == "" {
			break
		}
		delete(s.cache, oldestKey)
	}
	s.cache[key] = cacheEntry{markdown: markdown, expiresAt: now.Add(s.cfg.CacheTTL)}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
