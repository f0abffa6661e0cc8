package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/IshaanNene/ThreadGoat/internal/types"
)

// ObservedRequest is an outgoing browser request seen during bootstrap.
type ObservedRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// CredentialBundle is the header and cookie set captured from one
// authenticated API request. It is replayed on every direct API call.
type CredentialBundle struct {
	// Endpoint is the URL of the captured request.
	Endpoint   string
	Headers    http.Header
	Cookies    map[string]string
	CapturedAt time.Time

	mu sync.RWMutex
}

// Headers never copied from a captured request.
var strippedHeaders = map[string]bool{
	"content-length": true,
	"host":           true,
	"cookie":         true,
}

// NewCredentialBundle builds a bundle from an observed request. The cookie
// header is split into name/value pairs; content-length and host are dropped.
func NewCredentialBundle(obs ObservedRequest) *CredentialBundle {
	b := &CredentialBundle{
		Endpoint:   obs.URL,
		Headers:    make(http.Header),
		Cookies:    make(map[string]string),
		CapturedAt: time.Now(),
	}
	for name, value := range obs.Headers {
		lower := strings.ToLower(name)
		if lower == "cookie" {
			for k, v := range ParseCookieHeader(value) {
				b.Cookies[k] = v
			}
		}
		// HTTP/2 pseudo headers (":authority") are not replayable.
		if strippedHeaders[lower] || strings.HasPrefix(name, ":") {
			continue
		}
		b.Headers.Set(name, value)
	}
	return b
}

// ParseCookieHeader splits a Cookie header on ";" and each pair on its
// first "=". Pairs without "=" are ignored.
func ParseCookieHeader(raw string) map[string]string {
	cookies := make(map[string]string)
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		cookies[name] = strings.TrimSpace(value)
	}
	return cookies
}

// MergeCookies adds cookies that the captured header did not carry.
func (b *CredentialBundle) MergeCookies(cookies map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range cookies {
		if _, ok := b.Cookies[k]; !ok {
			b.Cookies[k] = v
		}
	}
}

// CookieHeader renders the cookies in a stable order.
func (b *CredentialBundle) CookieHeader() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.Cookies))
	for name := range b.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+b.Cookies[name])
	}
	return strings.Join(parts, "; ")
}

// Apply copies the bundle onto outgoing request headers.
func (b *CredentialBundle) Apply(h http.Header) {
	b.mu.RLock()
	for name, values := range b.Headers {
		h[name] = append([]string(nil), values...)
	}
	b.mu.RUnlock()

	if cookie := b.CookieHeader(); cookie != "" {
		h.Set("Cookie", cookie)
	}
}

// MatchesAPIPath reports whether rawURL targets the API path.
func MatchesAPIPath(rawURL, apiPath string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.Contains(u.Path, apiPath)
}

// CaptureFromStream waits for the first POST whose URL matches apiPath and
// turns it into a credential bundle. It fails closed with
// ErrNoQualifyingRequest when the timeout elapses or the stream ends first.
func CaptureFromStream(ctx context.Context, observed <-chan ObservedRequest, apiPath string, timeout time.Duration, logger *slog.Logger) (*CredentialBundle, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", types.ErrNoQualifyingRequest, ctx.Err())
		case <-timer.C:
			return nil, fmt.Errorf("%w: timed out after %s (%d requests observed)", types.ErrNoQualifyingRequest, timeout, seen)
		case obs, ok := <-observed:
			if !ok {
				return nil, fmt.Errorf("%w: request stream closed (%d requests observed)", types.ErrNoQualifyingRequest, seen)
			}
			seen++
			if !strings.EqualFold(obs.Method, http.MethodPost) || !MatchesAPIPath(obs.URL, apiPath) {
				continue
			}
			bundle := NewCredentialBundle(obs)
			logger.Info("captured API credentials",
				"endpoint", obs.URL,
				"headers", len(bundle.Headers),
				"cookies", len(bundle.Cookies),
				"observed", seen,
			)
			return bundle, nil
		}
	}
}
