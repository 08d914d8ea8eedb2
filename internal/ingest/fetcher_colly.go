package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog/log"
)

// CollyFetcher implements Fetcher on top of a Colly collector. It rate
// limits per domain, retries failed requests, and respects robots.txt
// unless told otherwise.
type CollyFetcher struct {
	UserAgent         string
	MaxRetries        int
	RequestTimeout    time.Duration
	DomainDelay       time.Duration
	RandomDelayFactor float64
	IgnoreRobotsTxt   bool
	MaxBodySize       int // bytes, 0 = unlimited
	DetectCharset     bool
	CacheDir          string // empty = no cache
	ProxyURL          string
	AcceptLanguage    string
}

// NewCollyFetcher creates a CollyFetcher with sensible defaults.
func NewCollyFetcher() *CollyFetcher {
	return &CollyFetcher{
		UserAgent:         defaultUserAgent,
		MaxRetries:        3,
		RequestTimeout:    30 * time.Second,
		DomainDelay:       1 * time.Second,
		RandomDelayFactor: 0.5,
		MaxBodySize:       defaultMaxDownloadBytes,
		DetectCharset:     true,
		AcceptLanguage:    "en-US,en;q=0.5",
	}
}

// CollyFetcherWithConfig creates a CollyFetcher from a utility's FetchConfig.
func CollyFetcherWithConfig(cfg FetchConfig) *CollyFetcher {
	f := NewCollyFetcher()
	if cfg.TimeoutSeconds > 0 {
		f.RequestTimeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if cfg.RateLimitRPS > 0 {
		f.DomainDelay = time.Duration(float64(time.Second) / cfg.RateLimitRPS)
	}
	if cfg.MaxRetries != nil {
		f.MaxRetries = max(*cfg.MaxRetries, 0)
	}
	if cfg.ProxyURL != "" {
		f.ProxyURL = cfg.ProxyURL
	}
	if cfg.AcceptLanguage != "" {
		f.AcceptLanguage = cfg.AcceptLanguage
	}
	return f
}

func (f *CollyFetcher) buildCollector(ctx context.Context, domain string) (*colly.Collector, error) {
	opts := []colly.CollectorOption{
		colly.UserAgent(f.UserAgent),
		colly.MaxBodySize(f.MaxBodySize),
		colly.AllowURLRevisit(),
		colly.AllowedDomains(domain),
		colly.StdlibContext(ctx),
	}
	if f.DetectCharset {
		opts = append(opts, colly.DetectCharset())
	}
	if f.IgnoreRobotsTxt {
		opts = append(opts, colly.IgnoreRobotsTxt())
	}
	if f.CacheDir != "" {
		opts = append(opts, colly.CacheDir(f.CacheDir))
	}

	c := colly.NewCollector(opts...)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       f.DomainDelay,
		RandomDelay: time.Duration(float64(f.DomainDelay) * f.RandomDelayFactor),
	}); err != nil {
		return nil, fmt.Errorf("colly limit rule: %w", err)
	}
	c.SetRequestTimeout(f.RequestTimeout)

	if f.ProxyURL != "" {
		if err := c.SetProxy(f.ProxyURL); err != nil {
			return nil, fmt.Errorf("colly proxy: %w", err)
		}
	}

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", f.AcceptLanguage)
	})
	return c, nil
}

// Fetch implements the Fetcher interface, returning a FetchedDocument.
// The collector runs synchronously; retries happen inside Visit.
func (f *CollyFetcher) Fetch(ctx context.Context, targetURL string) (*FetchedDocument, error) {
	parsedURL, err := url.Parse(targetURL)
	if err != nil || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q", targetURL)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := f.buildCollector(ctx, parsedURL.Hostname())
	if err != nil {
		return nil, err
	}

	var (
		result   *FetchedDocument
		fetchErr error
	)

	c.OnResponse(func(r *colly.Response) {
		result = &FetchedDocument{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        io.NopCloser(bytes.NewReader(r.Body)),
			FetchedAt:   time.Now(),
			Headers:     map[string][]string(r.Headers.Clone()),
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		retries, _ := r.Request.Ctx.GetAny("retries").(int)
		if retries < f.MaxRetries && ctx.Err() == nil {
			r.Request.Ctx.Put("retries", retries+1)
			log.Debug().Str("url", r.Request.URL.String()).Int("attempt", retries+1).Err(err).Msg("colly retry")
			time.Sleep(time.Duration(retries+1) * time.Second)
			if retryErr := r.Request.Retry(); retryErr == nil {
				return
			}
		}
		fetchErr = fmt.Errorf("fetch failed after %d retries (status %d): %w", retries, r.StatusCode, err)
	})

	if err := c.Visit(targetURL); err != nil && fetchErr == nil && result == nil {
		return nil, fmt.Errorf("visit failed: %w", err)
	}

	if result != nil {
		return result, nil
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	return nil, fmt.Errorf("no response received for %s", targetURL)
}
