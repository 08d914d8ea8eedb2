package ingest

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const defaultMaxRetries = 3

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var blockedPrefixStrings = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

var blockedPrefixes = func() []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(blockedPrefixStrings))
	for _, s := range blockedPrefixStrings {
		if p, err := netip.ParsePrefix(s); err == nil {
			prefixes = append(prefixes, p)
		}
	}
	return prefixes
}()

// HTTPFetcher fetches over net/http with per-domain rate limiting, retries
// with backoff, and private-network blocking.
type HTTPFetcher struct {
	Config    FetchConfig
	UserAgent string
	// AllowPrivateNetworks disables the private address guard (tests, intranets).
	AllowPrivateNetworks bool

	once     sync.Once
	client   *http.Client
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPFetcher fills in the defaults for any zero FetchConfig field.
func NewHTTPFetcher(cfg FetchConfig) *HTTPFetcher {
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = 30
	}
	if cfg.MaxRetries == nil {
		retries := defaultMaxRetries
		cfg.MaxRetries = &retries
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 1.0
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = "en-US,en;q=0.5"
	}
	return &HTTPFetcher{Config: cfg, UserAgent: defaultUserAgent}
}

func (f *HTTPFetcher) init() {
	f.once.Do(func() {
		dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		dial := dialer.DialContext
		if !f.AllowPrivateNetworks {
			dial = safeDialContext(dialer)
		}
		transport := &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dial,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		if f.Config.ProxyURL != "" {
			if proxyURL, err := url.Parse(f.Config.ProxyURL); err == nil {
				transport.Proxy = http.ProxyURL(proxyURL)
			}
		}
		f.client = &http.Client{
			Timeout:   time.Duration(f.Config.TimeoutSeconds) * time.Second,
			Transport: transport,
		}
		if !f.AllowPrivateNetworks {
			f.client.CheckRedirect = safeCheckRedirect
		}
		f.limiters = make(map[string]*rate.Limiter)
	})
}

// maxRetries is the number of retries after the first attempt.
func (f *HTTPFetcher) maxRetries() int {
	if f.Config.MaxRetries == nil {
		return defaultMaxRetries
	}
	return max(*f.Config.MaxRetries, 0)
}

func (f *HTTPFetcher) limiter(domain string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	limiter, ok := f.limiters[domain]
	if !ok {
		rps := f.Config.RateLimitRPS
		if rps <= 0 {
			rps = 1.0
		}
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
		f.limiters[domain] = limiter
	}
	return limiter
}

// wait blocks until the domain's limiter allows another request.
func (f *HTTPFetcher) wait(ctx context.Context, domain string) error {
	return f.limiter(domain).Wait(ctx)
}

// Fetch implements Fetcher. Non-200 responses are errors; 429 and 5xx are retried.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*FetchedDocument, error) {
	f.init()

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q", rawURL)
	}

	var lastErr error
	for attempt := 0; attempt <= f.maxRetries(); attempt++ {
		if attempt > 0 {
			// 0.5s, 1s, 2s ... plus jitter
			backoff := time.Duration(500*(1<<uint(attempt-1))) * time.Millisecond
			jitter := time.Duration(rand.Intn(100)) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff + jitter):
			}
			log.Debug().Str("url", rawURL).Int("attempt", attempt).Err(lastErr).Msg("retrying fetch")
		}
		if err := f.wait(ctx, u.Host); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", f.UserAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/pdf;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", f.Config.AcceptLanguage)
		req.Header.Set("Cache-Control", "no-cache")

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
			if shouldRetry(err, 0) {
				continue
			}
			return nil, fmt.Errorf("failed to execute request: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			return &FetchedDocument{
				URL:         resp.Request.URL.String(),
				StatusCode:  resp.StatusCode,
				ContentType: resp.Header.Get("Content-Type"),
				Body:        resp.Body,
				FetchedAt:   time.Now(),
				Headers:     resp.Header,
			}, nil
		}

		resp.Body.Close()
		lastErr = fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		if !shouldRetry(nil, resp.StatusCode) {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// shouldRetry determines if an error or status code should trigger a retry
func shouldRetry(err error, statusCode int) bool {
	if err != nil {
		netErr, ok := err.(interface{ Timeout() bool })
		return ok && netErr.Timeout()
	}
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// safeDialContext resolves the host first and refuses private addresses.
func safeDialContext(d *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
		if err != nil {
			return nil, err
		}
		for _, ip := range ips {
			if isPrivateIP(ip) {
				return nil, fmt.Errorf("blocked private IP: %s", ip)
			}
		}
		return d.DialContext(ctx, network, addr)
	}
}

// isPrivateIP checks if an IP is in a private range or loopback/link-local
func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() || ip.IsLinkLocalMulticast() || ip.IsLinkLocalUnicast() || ip.IsMulticast() || ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}
	if addr, ok := netip.AddrFromSlice(ip); ok {
		for _, prefix := range blockedPrefixes {
			if prefix.Contains(addr.Unmap()) {
				return true
			}
		}
	}
	return false
}

// safeCheckRedirect limits redirects and validates destinations
func safeCheckRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("stopped after 10 redirects")
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("redirect scheme blocked")
	}
	host := req.URL.Hostname()
	if host == "" {
		return fmt.Errorf("redirect host missing")
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".local") {
		return fmt.Errorf("redirect to internal host blocked")
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return err
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("redirect to private IP blocked: %s", ip)
		}
	}
	return nil
}
