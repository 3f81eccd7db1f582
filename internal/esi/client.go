package esi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/logger"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/metrics"
)

// DefaultBaseURL is the public ESI endpoint.
const DefaultBaseURL = "https://esi.evetech.net/latest"

const (
	userAgent     = "eve-trade-profit-tracker/1.0 (github.com)"
	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL        string
	RequestsPerSec float64
	Burst          int
	Timeout        time.Duration
	MaxConcurrency int
}

// Client is a rate-limited ESI HTTP client.
type Client struct {
	http       *http.Client
	baseURL    string
	limiter    *rate.Limiter
	sem        chan struct{}
	orderCache *OrderCache
}

// NewClient creates an ESI client. ESI tolerates bursts well but punishes error
// spikes, so requests go through a token bucket and a concurrency cap.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 100
	}
	if opts.Burst <= 0 {
		opts.Burst = 20
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 50
	}
	return &Client{
		http:       &http.Client{Timeout: opts.Timeout},
		baseURL:    opts.BaseURL,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSec), opts.Burst),
		sem:        make(chan struct{}, opts.MaxConcurrency),
		orderCache: NewOrderCache(),
	}
}

// BaseURL returns the ESI root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HealthCheck pings ESI to verify connectivity.
func (c *Client) HealthCheck(ctx context.Context) bool {
	resp, err := c.do(ctx, c.baseURL+"/status/?datasource=tranquility", "")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// GetJSON fetches a URL and decodes JSON into dst.
func (c *Client) GetJSON(ctx context.Context, url string, dst interface{}) error {
	resp, err := c.do(ctx, url, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ESI %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// do performs one GET with rate limiting and retries on 5xx / 420 / 429.
// etag, when set, is sent as If-None-Match.
func (c *Client) do(ctx context.Context, url, etag string) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		select {
		case c.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		req, err := newESIRequest(ctx, url)
		if err != nil {
			<-c.sem
			return nil, err
		}
		if etag != "" {
			req.Header.Set("If-None-Match", etag)
		}
		resp, err := c.http.Do(req)
		<-c.sem
		if err != nil {
			metrics.RecordESIRequest(0)
		} else {
			metrics.RecordESIRequest(resp.StatusCode)
		}

		retryable := err != nil ||
			resp.StatusCode >= 500 ||
			resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode == 420 // ESI error-limit
		if !retryable {
			return resp, nil
		}
		if attempt == maxRetries {
			if err != nil {
				return nil, fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			return resp, nil
		}
		if resp != nil {
			resp.Body.Close()
			logger.Warn("ESI", fmt.Sprintf("HTTP %d on %s, retrying", resp.StatusCode, url))
			metrics.RecordESIRetry(strconv.Itoa(resp.StatusCode))
		} else {
			metrics.RecordESIRetry("transport")
		}
		if !sleepBackoff(ctx, attempt) {
			return nil, ctx.Err()
		}
	}
}

// sleepBackoff waits 2^attempt × baseRetryWait. Returns false if ctx ended first.
func sleepBackoff(ctx context.Context, attempt int) bool {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// getPaginatedOrders fetches all pages of an orders endpoint. Page 1 decides the
// page count (X-Pages) and carries the caching headers; the remaining pages are
// fetched concurrently.
func (c *Client) getPaginatedOrders(ctx context.Context, url string, regionID int32) ([]MarketOrder, string, time.Time, error) {
	resp, err := c.do(ctx, url+"&page=1", "")
	if err != nil {
		return nil, "", time.Time{}, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, "", time.Time{}, fmt.Errorf("ESI %d: %s", resp.StatusCode, string(body))
	}

	totalPages := 1
	if p := resp.Header.Get("X-Pages"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			totalPages = n
		}
	}
	etag := resp.Header.Get("ETag")
	expires := parseExpires(resp)

	var page1 []MarketOrder
	err = json.NewDecoder(resp.Body).Decode(&page1)
	resp.Body.Close()
	if err != nil {
		return nil, "", time.Time{}, fmt.Errorf("decode page 1: %w", err)
	}

	pages := make([][]MarketOrder, totalPages)
	pages[0] = page1
	if totalPages > 1 {
		g, gctx := errgroup.WithContext(ctx)
		for p := 2; p <= totalPages; p++ {
			g.Go(func() error {
				var data []MarketOrder
				if err := c.GetJSON(gctx, fmt.Sprintf("%s&page=%d", url, p), &data); err != nil {
					return fmt.Errorf("page %d: %w", p, err)
				}
				pages[p-1] = data
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, "", time.Time{}, err
		}
	}

	all := make([]MarketOrder, 0, len(page1)*totalPages)
	for _, page := range pages {
		for _, o := range page {
			o.RegionID = regionID
			all = append(all, o)
		}
	}
	return all, etag, expires, nil
}

// newESIRequest creates a standard ESI GET request with common headers.
func newESIRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// parseExpires reads the Expires header from an ESI response.
// Falls back to 5-minute TTL if header is missing or unparseable.
func parseExpires(resp *http.Response) time.Time {
	if exp := resp.Header.Get("Expires"); exp != "" {
		if t, err := time.Parse(time.RFC1123, exp); err == nil {
			return t
		}
	}
	// ESI market orders typically refresh every 5 minutes.
	return time.Now().Add(5 * time.Minute)
}
