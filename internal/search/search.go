package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/maltedev/price-tracker/internal/cache"
	"github.com/maltedev/price-tracker/internal/fetcher"
	"github.com/maltedev/price-tracker/internal/models"
	"github.com/maltedev/price-tracker/internal/parser"
	"github.com/maltedev/price-tracker/internal/ranking"
)

var (
	ErrEmptyQuery        = errors.New("search query is empty")
	ErrInvalidPriceRange = errors.New("invalid price range")
	ErrUnknownSite       = errors.New("unknown search site")
	ErrAllSitesFailed    = errors.New("all search sites failed")
)

// DefaultSiteURLs maps a site name to its search URL prefix; the escaped
// search terms are appended.
var DefaultSiteURLs = map[string]string{
	"amazon": "https://www.amazon.com/s?k=",
	"ebay":   "https://www.ebay.com/sch/i.html?_nkw=",
}

type Config struct {
	Sites             []string
	Concurrency       int
	SiteTimeout       time.Duration
	MaxResultsPerSite int
	CacheTTL          time.Duration
	// RankingTimeout bounds the ranking call; it is added to the site
	// budget to form the deadline of a shared search run.
	RankingTimeout time.Duration
	// SiteURLs overrides DefaultSiteURLs per site.
	SiteURLs map[string]string
}

type Request struct {
	Query      string              `json:"query"`
	PriceRange *ranking.PriceRange `json:"price_range,omitempty"`
	Categories []string            `json:"categories,omitempty"`
}

type Response struct {
	RequestID  string                `json:"request_id"`
	Query      string                `json:"query"`
	Products   []models.SearchResult `json:"products"`
	Analysis   *ranking.Analysis     `json:"analysis,omitempty"`
	Ranked     bool                  `json:"ranked"`
	SiteErrors map[string]string     `json:"site_errors,omitempty"`
	Cached     bool                  `json:"cached"`
}

type site struct {
	name   string
	prefix string
	parser parser.SearchParser
}

// Service fans a query out to retailer search pages, merges the candidates
// and asks the ranking oracle to order them.
type Service struct {
	loader  fetcher.PageLoader
	ranker  ranking.Ranker
	cache   cache.Cache
	sites   []site
	cfg     Config
	logger  *slog.Logger
	sfGroup singleflight.Group
}

func New(loader fetcher.PageLoader, ranker ranking.Ranker, c cache.Cache, cfg Config, logger *slog.Logger) (*Service, error) {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.SiteTimeout <= 0 {
		cfg.SiteTimeout = 20 * time.Second
	}
	if cfg.MaxResultsPerSite <= 0 {
		cfg.MaxResultsPerSite = 10
	}
	if cfg.RankingTimeout <= 0 {
		cfg.RankingTimeout = 30 * time.Second
	}
	if ranker == nil {
		ranker = ranking.Noop{}
	}

	var sites []site
	for _, name := range cfg.Sites {
		name = strings.ToLower(strings.TrimSpace(name))
		p, ok := parser.SearchParserFor(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSite, name)
		}

		prefix := DefaultSiteURLs[name]
		if override, ok := cfg.SiteURLs[name]; ok {
			prefix = override
		}
		sites = append(sites, site{name: name, prefix: prefix, parser: p})
	}

	if len(sites) == 0 {
		return nil, fmt.Errorf("%w: no sites configured", ErrUnknownSite)
	}

	return &Service{
		loader: loader,
		ranker: ranker,
		cache:  c,
		sites:  sites,
		cfg:    cfg,
		logger: logger.With("component", "search"),
	}, nil
}

func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, ErrEmptyQuery
	}
	if pr := req.PriceRange; pr != nil {
		if pr.Min < 0 || pr.Max < 0 || (pr.Max > 0 && pr.Min > pr.Max) {
			return nil, fmt.Errorf("%w: min %.2f max %.2f", ErrInvalidPriceRange, pr.Min, pr.Max)
		}
	}

	key := cacheKey(req)

	if s.cache != nil {
		var cached Response
		found, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("search cache read failed", "error", err)
		}
		if found {
			s.logger.Debug("search cache hit", "query", req.Query)
			cached.RequestID = uuid.NewString()
			cached.Cached = true
			return &cached, nil
		}
	}

	// The run is shared by every caller with the same key, so it is detached
	// from any one caller's cancellation and bounded by its own deadline.
	ch := s.sfGroup.DoChan(key, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.runTimeout())
		defer cancel()
		return s.run(runCtx, req, key)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		resp := *res.Val.(*Response)
		if res.Shared {
			resp.RequestID = uuid.NewString()
		}
		return &resp, nil
	}
}

// runTimeout covers every site batch plus the ranking call.
func (s *Service) runTimeout() time.Duration {
	batches := (len(s.sites) + s.cfg.Concurrency - 1) / s.cfg.Concurrency
	return time.Duration(batches)*s.cfg.SiteTimeout + s.cfg.RankingTimeout
}

func (s *Service) run(ctx context.Context, req Request, key string) (*Response, error) {
	start := time.Now()
	resp := &Response{
		RequestID: uuid.NewString(),
		Query:     req.Query,
	}

	products, siteErrors := s.gather(ctx, searchTerms(req))
	if len(siteErrors) == len(s.sites) {
		return nil, fmt.Errorf("%w: %v", ErrAllSitesFailed, siteErrors)
	}
	if len(siteErrors) > 0 {
		resp.SiteErrors = siteErrors
	}

	resp.Products = filterByPrice(dedupe(products), req.PriceRange)

	rankable := len(resp.Products) > 0
	var rankErr error
	if rankable {
		var analysis *ranking.Analysis
		analysis, rankErr = s.ranker.Rank(ctx, ranking.Request{
			Query:      req.Query,
			PriceRange: req.PriceRange,
			Categories: req.Categories,
			Products:   resp.Products,
		})
		switch {
		case rankErr == nil:
			resp.Analysis = analysis
			resp.Ranked = true
		case errors.Is(rankErr, ranking.ErrNotConfigured):
		default:
			s.logger.Warn("ranking failed, returning unranked results", "query", req.Query, "error", rankErr)
		}
	}

	s.logger.Info("search completed",
		"request_id", resp.RequestID,
		"query", req.Query,
		"products", len(resp.Products),
		"failed_sites", len(siteErrors),
		"ranked", resp.Ranked,
		"duration", time.Since(start))

	cacheable := len(siteErrors) == 0 && (rankErr == nil || errors.Is(rankErr, ranking.ErrNotConfigured))
	if s.cache != nil && cacheable {
		if err := s.cache.Set(ctx, key, resp, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("search cache write failed", "error", err)
		}
	}

	return resp, nil
}

// gather queries every site with bounded concurrency. Per-site failures are
// collected rather than aborting the group; results keep the configured site
// order.
func (s *Service) gather(ctx context.Context, terms string) ([]models.SearchResult, map[string]string) {
	perSite := make([][]models.SearchResult, len(s.sites))
	errs := make(map[string]string)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i, st := range s.sites {
		i, st := i, st
		g.Go(func() error {
			results, err := s.searchSite(gctx, st, terms)
			if err != nil {
				s.logger.Warn("site search failed", "site", st.name, "error", err)
				mu.Lock()
				errs[st.name] = err.Error()
				mu.Unlock()
				return nil
			}
			perSite[i] = results
			return nil
		})
	}
	g.Wait()

	var all []models.SearchResult
	for _, results := range perSite {
		all = append(all, results...)
	}
	return all, errs
}

func (s *Service) searchSite(ctx context.Context, st site, terms string) ([]models.SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SiteTimeout)
	defer cancel()

	searchURL := st.prefix + url.QueryEscape(terms)
	html, err := s.loader.Load(ctx, searchURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse %s results: %w", st.name, err)
	}

	results := st.parser.ParseSearch(doc, searchURL)
	if len(results) > s.cfg.MaxResultsPerSite {
		results = results[:s.cfg.MaxResultsPerSite]
	}

	s.logger.Debug("site searched", "site", st.name, "results", len(results))
	return results, nil
}

func searchTerms(req Request) string {
	terms := []string{req.Query}
	for _, c := range req.Categories {
		if c = strings.TrimSpace(c); c != "" {
			terms = append(terms, c)
		}
	}
	return strings.Join(terms, " ")
}

func dedupe(results []models.SearchResult) []models.SearchResult {
	seen := mapset.NewThreadUnsafeSetWithSize[string](len(results))
	out := make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		if seen.Add(r.URL) {
			out = append(out, r)
		}
	}
	return out
}

// filterByPrice drops candidates outside the range. A zero bound is open and
// candidates without a known price are dropped once any bound is set.
func filterByPrice(results []models.SearchResult, pr *ranking.PriceRange) []models.SearchResult {
	if pr == nil || (pr.Min == 0 && pr.Max == 0) {
		return results
	}

	out := make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		if r.Price == 0 {
			continue
		}
		if r.Price < pr.Min || (pr.Max > 0 && r.Price > pr.Max) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func cacheKey(req Request) string {
	categories := make([]string, 0, len(req.Categories))
	for _, c := range req.Categories {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			categories = append(categories, c)
		}
	}
	slices.Sort(categories)

	var min, max float64
	if req.PriceRange != nil {
		min, max = req.PriceRange.Min, req.PriceRange.Max
	}

	raw := fmt.Sprintf("%s|%s|%.2f|%.2f",
		strings.ToLower(strings.Join(strings.Fields(req.Query), " ")),
		strings.Join(categories, ","), min, max)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
