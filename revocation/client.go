// Package revocation fetches and caches Google's Android Keystore
// attestation revocation list, keyed by lowercase hex certificate serial
// number.
package revocation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kacy/android-key-attestation/internal/metrics"
)

const statusURL = "https://android.googleapis.com/attestation/status"

// listBody mirrors the JSON shape of the status feed. Only key presence in
// Entries matters; the per-entry value schema is deliberately ignored.
type listBody struct {
	Entries map[string]json.RawMessage `json:"entries"`
}

// Client fetches and caches the revocation list. A single Client is safe
// for concurrent use and reusable across verifications.
type Client struct {
	httpClient *http.Client
	cache      Cache
	url        string
	metrics    *metrics.Metrics

	mu sync.Mutex
}

// NewClient builds a Client. proxyURL, if non-empty, is used as the HTTP
// proxy for the outbound fetch, mirroring AttestationConfig.http_proxy.
func NewClient(proxyURL string) (*Client, error) {
	transport := &http.Transport{}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("revocation: parsing proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(parsed)
	}
	return &Client{
		httpClient: &http.Client{Transport: transport, Timeout: 30 * time.Second},
		cache:      NewMemoryCache(),
		url:        statusURL,
	}, nil
}

// WithCache replaces the Client's Cache, e.g. with revocation/rediscache's
// distributed implementation.
func (c *Client) WithCache(cache Cache) *Client {
	c.cache = cache
	return c
}

// WithMetrics attaches a Metrics instance the client records fetch and
// cache-lookup outcomes to. Optional; a Client with no Metrics attached
// simply skips recording.
func (c *Client) WithMetrics(m *metrics.Metrics) *Client {
	c.metrics = m
	return c
}

// SetURLForTest redirects the client at a test server instead of Google's
// production status endpoint.
func (c *Client) SetURLForTest(url string) {
	c.url = url
}

// IsRevoked reports whether serial appears in the revocation list,
// refreshing the list first if the cache considers it stale. It satisfies
// chain.RevocationChecker structurally.
func (c *Client) IsRevoked(ctx context.Context, serial *big.Int) (bool, error) {
	entries, err := c.entries(ctx)
	if err != nil {
		return false, err
	}
	key := strings.ToLower(serial.Text(16))
	_, ok := entries[key]
	return ok, nil
}

func (c *Client) entries(ctx context.Context) (map[string]struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, etag, fresh := c.cache.Get()
	if fresh {
		c.recordCacheLookup(true)
		return entries, nil
	}
	c.recordCacheLookup(false)

	start := time.Now()
	parsed, status, err := c.fetch(ctx, entries, etag)
	c.recordFetch(status, time.Since(start))
	return parsed, err
}

// fetchStatus labels a single revocation list fetch attempt for metrics.
type fetchStatus string

const (
	fetchStatusOK          fetchStatus = "ok"
	fetchStatusNotModified fetchStatus = "not_modified"
	fetchStatusError       fetchStatus = "error"
)

func (c *Client) fetch(ctx context.Context, cached map[string]struct{}, etag string) (map[string]struct{}, fetchStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fetchStatusError, fmt.Errorf("revocation: building request: %w", err)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fetchStatusError, fmt.Errorf("revocation: fetching status list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		if cached != nil {
			c.cache.Put(cached, etag, maxAgeOf(resp))
			return cached, fetchStatusNotModified, nil
		}
		return nil, fetchStatusError, fmt.Errorf("revocation: 304 Not Modified with no cached body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fetchStatusError, fmt.Errorf("revocation: unexpected status %d fetching status list", resp.StatusCode)
	}

	parsed, err := parseBody(resp.Body)
	if err != nil {
		return nil, fetchStatusError, err
	}
	c.cache.Put(parsed, resp.Header.Get("ETag"), maxAgeOf(resp))
	return parsed, fetchStatusOK, nil
}

func (c *Client) recordFetch(status fetchStatus, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.RevocationFetchTotal.WithLabelValues(string(status)).Inc()
	c.metrics.RevocationFetchDuration.Observe(elapsed.Seconds())
}

func (c *Client) recordCacheLookup(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.RevocationCacheHits.Inc()
	} else {
		c.metrics.RevocationCacheMisses.Inc()
	}
}

// FetchFromReader parses a revocation list body directly, bypassing HTTP
// entirely. Intended for tests that want to exercise IsRevoked's lookup
// semantics against a fixture without a network round trip.
func (c *Client) FetchFromReader(r io.Reader) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	parsed, err := parseBody(r)
	if err != nil {
		return err
	}
	c.cache.Put(parsed, "", defaultTTL)
	return nil
}

func parseBody(r io.Reader) (map[string]struct{}, error) {
	var body listBody
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, fmt.Errorf("revocation: decoding status list JSON: %w", err)
	}
	out := make(map[string]struct{}, len(body.Entries))
	for serial := range body.Entries {
		// Zero-padded keys name the same serial as big.Int.Text(16) renders it.
		key := strings.TrimLeft(strings.ToLower(serial), "0")
		if key == "" {
			key = "0"
		}
		out[key] = struct{}{}
	}
	return out, nil
}

func maxAgeOf(resp *http.Response) time.Duration {
	cc := resp.Header.Get("Cache-Control")
	for _, directive := range strings.Split(cc, ",") {
		directive = strings.TrimSpace(directive)
		if rest, ok := strings.CutPrefix(directive, "max-age="); ok {
			if seconds, err := strconv.Atoi(rest); err == nil {
				return time.Duration(seconds) * time.Second
			}
		}
	}
	return defaultTTL
}
