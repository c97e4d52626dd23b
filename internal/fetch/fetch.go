package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hyperifyio/helmet/internal/cache"
)

// DefaultUserAgent is sent when Client.UserAgent is empty. NCBI pages refuse
// some non-browser agents, so it looks like a browser.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Response is a successful GET result.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// StatusError reports a non-2xx HTTP status. Callers use errors.As to tell a
// 404 apart from other failures.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Status, e.URL)
}

// IsNotFound reports whether err carries an HTTP 404.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

// Client wraps http.Client and provides timeouts, pacing and limited retry on
// transient errors.
type Client struct {
	HTTPClient *http.Client
	UserAgent  string
	// MaxAttempts includes the initial attempt. Minimum 1.
	MaxAttempts int
	// PerRequestTimeout bounds each request.
	PerRequestTimeout time.Duration
	// Optional on-disk cache for HTTP GET bodies and headers.
	Cache *cache.HTTPCache
	// RedirectMaxHops caps redirect following to avoid loops. Zero means default (5).
	RedirectMaxHops int
	// Delay is the minimum spacing between requests sent by this client.
	// Zero disables pacing.
	Delay time.Duration
	// AllowedContentTypes restricts accepted media types by prefix. Empty
	// accepts anything.
	AllowedContentTypes []string

	limiter     *rate.Limiter
	limiterOnce sync.Once
}

func (c *Client) getHTTPClient() *http.Client {
	if c.HTTPClient != nil {
		base := *c.HTTPClient
		base.CheckRedirect = c.checkRedirectFunc()
		return &base
	}
	return &http.Client{Timeout: c.PerRequestTimeout, CheckRedirect: c.checkRedirectFunc()}
}

// Get issues a GET with context, user-agent, pacing and bounded retry for
// transient errors. A non-2xx final status is returned as *StatusError.
func (c *Client) Get(ctx context.Context, rawURL string) (Response, error) {
	var etag, lastMod string
	if c.Cache != nil {
		if meta, err := c.Cache.LoadMeta(ctx, rawURL); err == nil && meta != nil {
			etag = meta.ETag
			lastMod = meta.LastModified
		}
	}
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := c.wait(ctx); err != nil {
			return Response{}, err
		}
		res, newEtag, newLastMod, err := c.tryOnce(ctx, rawURL, etag, lastMod)
		if err == nil {
			if res.Status == http.StatusNotModified && c.Cache != nil {
				if cached, cerr := c.Cache.LoadBody(ctx, rawURL); cerr == nil {
					ct := res.ContentType
					if meta, merr := c.Cache.LoadMeta(ctx, rawURL); merr == nil && meta != nil && meta.ContentType != "" {
						ct = meta.ContentType
					}
					return Response{Status: http.StatusOK, ContentType: ct, Body: cached}, nil
				}
				// cache lost its body; drop the validators and refetch
				etag, lastMod = "", ""
				continue
			}
			if c.Cache != nil && res.Status == http.StatusOK && (newEtag != "" || newLastMod != "") {
				_ = c.Cache.Save(ctx, rawURL, res.ContentType, newEtag, newLastMod, res.Body)
			}
			return res, nil
		}
		lastErr = err
		if !isTransient(err) || i == attempts-1 {
			return Response{}, err
		}
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(time.Duration(i+1) * 200 * time.Millisecond):
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return Response{}, lastErr
}

func (c *Client) wait(ctx context.Context) error {
	if c.Delay <= 0 {
		return nil
	}
	c.limiterOnce.Do(func() {
		c.limiter = rate.NewLimiter(rate.Every(c.Delay), 1)
	})
	return c.limiter.Wait(ctx)
}

func (c *Client) tryOnce(ctx context.Context, rawURL string, etag string, lastMod string) (Response, string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Response{}, "", "", fmt.Errorf("new request: %w", err)
	}
	if req.URL == nil || !isHTTPScheme(req.URL) {
		return Response{}, "", "", fmt.Errorf("unsupported URL scheme: %q", rawURL)
	}
	ua := c.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastMod != "" {
		req.Header.Set("If-Modified-Since", lastMod)
	}

	if c.PerRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(req.Context(), c.PerRequestTimeout)
		defer cancel()
		req = req.WithContext(ctx)
	}

	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		return Response{}, "", "", err
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if resp.StatusCode == http.StatusNotModified {
		return Response{Status: resp.StatusCode, ContentType: contentType}, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Response{}, "", "", &StatusError{URL: rawURL, Status: resp.StatusCode}
	}
	if !c.allowedContentType(contentType) {
		return Response{}, "", "", fmt.Errorf("unsupported content type: %s", contentType)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, "", "", fmt.Errorf("read body: %w", err)
	}
	return Response{Status: resp.StatusCode, ContentType: contentType, Body: b}, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), nil
}

// isTransient treats 5xx, 429 and deadline expiry as retryable.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status >= 500 || se.Status == http.StatusTooManyRequests
	}
	return false
}

func (c *Client) checkRedirectFunc() func(req *http.Request, via []*http.Request) error {
	max := c.RedirectMaxHops
	if max <= 0 {
		max = 5
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return errors.New("too many redirects")
		}
		if req.URL == nil || !isHTTPScheme(req.URL) {
			return errors.New("redirect to unsupported scheme")
		}
		return nil
	}
}

func isHTTPScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

func (c *Client) allowedContentType(ct string) bool {
	if len(c.AllowedContentTypes) == 0 {
		return true
	}
	ct = strings.ToLower(strings.TrimSpace(ct))
	for _, p := range c.AllowedContentTypes {
		if strings.HasPrefix(ct, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
