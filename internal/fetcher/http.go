package fetcher

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/filing-acquirer/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	RateLimiters map[string]*rate.Limiter

	// Circuit, when zero-valued, falls back to
	// resilience.DefaultCircuitBreakerConfig().
	Circuit resilience.CircuitBreakerConfig
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	initialRate rate.Limit
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		initialRate: initialRate,
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 1.2
	if newRate > a.maxRate {
		newRate = a.maxRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 0.5
	if newRate < a.minRate {
		newRate = a.minRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
	zap.L().Warn("adaptive rate limit: reducing rate after 429",
		zap.Float64("new_rate", float64(newRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// MarketPolicy builds the headers a request to a given market must carry
// (spec §4.6 "build_headers"): SEC requires an identifying contact
// User-Agent, UK Companies House uses HTTP Basic auth with the API key as
// username and an empty password, ESEF/other hosts get a generic UA.
type MarketPolicy struct {
	SECUserAgent string
	UKCHAPIKey   string
	UKCHUserAgent string
}

// ApplyHeaders sets the request headers appropriate for rawURL's host.
func (p MarketPolicy) ApplyHeaders(req *http.Request, rawURL string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		req.Header.Set("User-Agent", p.SECUserAgent)
		return
	}

	switch {
	case isSECHost(u.Host):
		ua := p.SECUserAgent
		if ua == "" {
			ua = "filing-acquirer contact@example.test"
		}
		req.Header.Set("User-Agent", ua)
		req.Header.Set("Accept-Encoding", "gzip, deflate")

	case isUKCHHost(u.Host):
		ua := p.UKCHUserAgent
		if ua == "" {
			ua = "filing-acquirer/1.0"
		}
		req.Header.Set("User-Agent", ua)
		if p.UKCHAPIKey != "" {
			token := base64.StdEncoding.EncodeToString([]byte(p.UKCHAPIKey + ":"))
			req.Header.Set("Authorization", "Basic "+token)
		}
		// Accept-header ladder: prefer iXBRL, fall back to plain HTML, then PDF.
		req.Header.Set("Accept", "application/xhtml+xml, text/html;q=0.9, application/pdf;q=0.8")

	default:
		req.Header.Set("User-Agent", "filing-acquirer/1.0")
	}
}

func isSECHost(host string) bool {
	switch host {
	case "www.sec.gov", "data.sec.gov", "efts.sec.gov":
		return true
	default:
		return false
	}
}

func isUKCHHost(host string) bool {
	switch host {
	case "api.companieshouse.gov.uk", "document-api.company-information.service.gov.uk":
		return true
	default:
		return false
	}
}

// HTTPFetcher implements Fetcher using net/http with retry and rate limiting.
type HTTPFetcher struct {
	client           *http.Client
	opts             HTTPOptions
	policy           MarketPolicy
	limiters         map[string]*rate.Limiter
	adaptiveLimiters map[string]*AdaptiveLimiter
	breakers         *resilience.ServiceBreakers
}

// DefaultRateLimiters returns the default per-host rate limiters, matching
// the per-market ceilings in spec §4.6: SEC EDGAR permits at most 10
// requests/second; UK Companies House permits 600 requests per 5 minutes
// (expressed here as an equivalent steady-state rate with a small burst).
func DefaultRateLimiters() map[string]*rate.Limiter {
	ukchRate := rate.Limit(600.0 / (5 * 60))
	return map[string]*rate.Limiter{
		"www.sec.gov":  rate.NewLimiter(10, 10),
		"data.sec.gov": rate.NewLimiter(10, 10),
		"efts.sec.gov": rate.NewLimiter(10, 10),

		"api.companieshouse.gov.uk":                       rate.NewLimiter(ukchRate, 20),
		"document-api.company-information.service.gov.uk": rate.NewLimiter(ukchRate, 20),

		"filings.xbrl.org": rate.NewLimiter(5, 10),
	}
}

// DefaultAdaptiveLimiters returns adaptive rate limiters for known hosts.
func DefaultAdaptiveLimiters() map[string]*AdaptiveLimiter {
	ukchRate := rate.Limit(600.0 / (5 * 60))
	return map[string]*AdaptiveLimiter{
		"www.sec.gov":  NewAdaptiveLimiter(10, 10),
		"data.sec.gov": NewAdaptiveLimiter(10, 10),
		"efts.sec.gov": NewAdaptiveLimiter(10, 10),

		"api.companieshouse.gov.uk":                       NewAdaptiveLimiter(ukchRate, 20),
		"document-api.company-information.service.gov.uk": NewAdaptiveLimiter(ukchRate, 20),

		"filings.xbrl.org": NewAdaptiveLimiter(5, 10),
	}
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions, policy MarketPolicy) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	limiters := make(map[string]*rate.Limiter)
	for k, v := range opts.RateLimiters {
		limiters[k] = v
	}
	if len(limiters) == 0 {
		limiters = DefaultRateLimiters()
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	circuitCfg := opts.Circuit
	if circuitCfg.FailureThreshold <= 0 {
		circuitCfg = resilience.DefaultCircuitBreakerConfig()
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:             opts,
		policy:           policy,
		limiters:         limiters,
		adaptiveLimiters: DefaultAdaptiveLimiters(),
		breakers:         resilience.NewServiceBreakers(circuitCfg),
	}
}

// breakerFor returns the per-host circuit breaker for rawURL (spec §5's
// shared per-host resources), opening after consecutive transient failures
// and rejecting further attempts until its reset timeout elapses.
func (f *HTTPFetcher) breakerFor(rawURL string) *resilience.CircuitBreaker {
	u, err := url.Parse(rawURL)
	if err != nil {
		return f.breakers.Get("unknown")
	}
	return f.breakers.Get(u.Host)
}

func (f *HTTPFetcher) adaptiveLimiterFor(rawURL string) *AdaptiveLimiter {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return f.adaptiveLimiters[u.Host]
}

func (f *HTTPFetcher) limiterFor(rawURL string) *rate.Limiter {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rate.NewLimiter(20, 20)
	}
	if lim, ok := f.limiters[u.Host]; ok {
		return lim
	}
	return rate.NewLimiter(20, 20)
}

func (f *HTTPFetcher) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	adaptive := f.adaptiveLimiterFor(req.URL.String())
	breaker := f.breakerFor(req.URL.String())

	var lastErr error
	for attempt := range f.opts.MaxRetries {
		if adaptive != nil {
			if err := adaptive.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "rate limiter wait")
			}
		} else {
			lim := f.limiterFor(req.URL.String())
			if err := lim.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "rate limiter wait")
			}
		}

		// The circuit breaker wraps both the transport-level call and the
		// transient-HTTP-status check, so repeated 5xx/429 responses trip
		// it exactly like repeated connection failures (spec §5 shared
		// per-host resources).
		cloned := req.Clone(ctx)
		resp, err := resilience.ExecuteVal(ctx, breaker, func(ctx context.Context) (*http.Response, error) {
			r, doErr := f.client.Do(cloned)
			if doErr != nil {
				return r, doErr
			}
			if resilience.IsTransientHTTPStatus(r.StatusCode) {
				return r, resilience.NewTransientError(
					eris.Errorf("http %d from %s", r.StatusCode, req.URL.String()), r.StatusCode)
			}
			return r, nil
		})
		if err != nil {
			lastErr = err
			if errors.Is(err, resilience.ErrCircuitOpen) {
				zap.L().Warn("circuit breaker open, failing fast",
					zap.String("url", req.URL.String()), zap.String("host", req.URL.Host))
				return nil, eris.Wrap(err, "http request")
			}

			var transient *resilience.TransientError
			if errors.As(err, &transient) {
				if resp != nil {
					_ = resp.Body.Close()
				}
				if transient.StatusCode == http.StatusTooManyRequests && adaptive != nil {
					adaptive.OnRateLimit()
				}
				zap.L().Warn("transient http status, retrying",
					zap.String("url", req.URL.String()),
					zap.Int("status", transient.StatusCode),
					zap.Int("attempt", attempt+1),
				)
				f.backoff(ctx, attempt)
				continue
			}

			if !resilience.IsTransient(err) {
				return nil, eris.Wrap(err, "http request")
			}
			zap.L().Warn("http request failed, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			f.backoff(ctx, attempt)
			continue
		}

		if adaptive != nil {
			adaptive.OnSuccess()
		}

		return resp, nil
	}

	return nil, eris.Wrap(lastErr, "all retries exhausted")
}

func (f *HTTPFetcher) backoff(ctx context.Context, attempt int) {
	base := time.Second
	maxBackoff := 30 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int64N(int64(d) / 2))
	d = d + jitter

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (f *HTTPFetcher) newRequest(ctx context.Context, method, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	f.policy.ApplyHeaders(req, rawURL)
	return req, nil
}

// Download fetches the URL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := f.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}

	resp, err := f.doWithRetry(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "download")
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, eris.Errorf("download: unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	return resp.Body, nil
}

// DownloadToFile fetches the URL and writes it to path. If resume is true
// and path already has a partial file on disk, the request continues from
// that byte offset via Range (spec §4.2 resume support); the server's lack
// of a 206 response falls back to a full re-download.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL, path string, resume bool) (int64, bool, error) {
	var startOffset int64
	flags := os.O_CREATE | os.O_WRONLY
	if resume {
		if info, err := os.Stat(path); err == nil {
			startOffset = info.Size()
		}
	}
	if startOffset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	req, err := f.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return 0, false, err
	}
	if startOffset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", startOffset))
	}

	resp, err := f.doWithRetry(ctx, req)
	if err != nil {
		return 0, false, eris.Wrap(err, "download to file")
	}
	defer resp.Body.Close() //nolint:errcheck

	resumed := false
	switch resp.StatusCode {
	case http.StatusOK:
		// Server ignored the Range header; start over from scratch.
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		startOffset = 0
	case http.StatusPartialContent:
		resumed = startOffset > 0
	default:
		return 0, false, eris.Errorf("download to file: unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return 0, false, eris.Wrap(err, "open file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, resp.Body)
	if err != nil {
		return n, resumed, eris.Wrap(err, "write file")
	}

	return n, resumed, nil
}

// AcceptLadder is the Companies House content-negotiation preference order
// (spec §4.1 edge policy, §4.3 step 5): iXBRL first, falling back to plain
// HTML, and finally PDF.
var AcceptLadder = []string{
	"application/xhtml+xml",
	"text/html",
	"application/pdf",
}

// DownloadNegotiated fetches rawURL, overriding the Accept header with each
// entry of acceptTypes in turn and retrying on 406 Not Acceptable (spec §4.3
// step 5, boundary case B4). Returns the body and the content type the
// server actually honored; the caller is responsible for closing the body.
func (f *HTTPFetcher) DownloadNegotiated(ctx context.Context, rawURL string, acceptTypes []string) (io.ReadCloser, string, error) {
	var lastErr error
	for _, accept := range acceptTypes {
		req, err := f.newRequest(ctx, http.MethodGet, rawURL)
		if err != nil {
			return nil, "", err
		}
		req.Header.Set("Accept", accept)

		resp, err := f.doWithRetry(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusNotAcceptable {
			_ = resp.Body.Close()
			zap.L().Debug("fetcher: content negotiation refused, trying next format",
				zap.String("url", rawURL), zap.String("accept", accept))
			lastErr = eris.Errorf("download negotiated: %s refused %s", rawURL, accept)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			lastErr = eris.Errorf("download negotiated: unexpected status %d from %s", resp.StatusCode, rawURL)
			continue
		}

		return resp.Body, strings.ToLower(resp.Header.Get("Content-Type")), nil
	}

	if lastErr == nil {
		lastErr = eris.Errorf("download negotiated: no accepted format for %s", rawURL)
	}
	return nil, "", eris.Wrap(lastErr, "download negotiated: all formats exhausted")
}

// HeadETag performs a HEAD request and returns the ETag header value.
func (f *HTTPFetcher) HeadETag(ctx context.Context, rawURL string) (string, error) {
	req, err := f.newRequest(ctx, http.MethodHead, rawURL)
	if err != nil {
		return "", err
	}

	lim := f.limiterFor(rawURL)
	if err := lim.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "rate limiter wait")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "head request")
	}
	defer resp.Body.Close() //nolint:errcheck

	return resp.Header.Get("ETag"), nil
}

// DownloadIfChanged fetches the URL only if the ETag has changed.
func (f *HTTPFetcher) DownloadIfChanged(ctx context.Context, rawURL string, etag string) (io.ReadCloser, string, bool, error) {
	req, err := f.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, "", false, err
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	lim := f.limiterFor(rawURL)
	if err := lim.Wait(ctx); err != nil {
		return nil, "", false, eris.Wrap(err, "rate limiter wait")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", false, eris.Wrap(err, "download if changed")
	}

	if resp.StatusCode == http.StatusNotModified {
		_ = resp.Body.Close()
		return nil, etag, false, nil
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, "", false, eris.Errorf("download if changed: unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	newETag := resp.Header.Get("ETag")
	return resp.Body, newETag, true, nil
}
