package types

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Request tags used in logs and metrics.
const (
	TagPage    = "page"
	TagListing = "listing"
	TagReplies = "replies"
)

// Request represents an HTTP request issued by the fetch layer.
type Request struct {
	// URL is the target URL to fetch.
	URL *url.URL

	// Method is the HTTP method (GET, POST). Defaults to GET.
	Method string

	// Headers are custom HTTP headers to send with the request.
	Headers http.Header

	// Body is the request body for POST requests.
	Body []byte

	// MaxRetries is the maximum number of retries for this request.
	MaxRetries int

	// RetryCount tracks the current retry attempt.
	RetryCount int

	// Timeout overrides the global request timeout for this request.
	Timeout time.Duration

	// Tag categorizes this request (page, listing, replies).
	Tag string

	// CreatedAt is when this request was created.
	CreatedAt time.Time
}

// NewRequest creates a GET Request with sensible defaults.
func NewRequest(rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	return &Request{
		URL:        u,
		Method:     http.MethodGet,
		Headers:    make(http.Header),
		MaxRetries: 3,
		Tag:        TagPage,
		CreatedAt:  time.Now(),
	}, nil
}

// NewPostRequest creates a POST Request carrying a JSON body.
func NewPostRequest(rawURL string, body []byte) (*Request, error) {
	req, err := NewRequest(rawURL)
	if err != nil {
		return nil, err
	}
	req.Method = http.MethodPost
	req.Body = body
	req.Headers.Set("Content-Type", "application/json")
	return req, nil
}

// URLString returns the string representation of the request URL.
func (r *Request) URLString() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.String()
}

// Domain returns the hostname of the request URL.
func (r *Request) Domain() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.Hostname()
}

// Clone creates a deep copy of the request.
func (r *Request) Clone() *Request {
	clone := *r
	if r.URL != nil {
		u := *r.URL
		clone.URL = &u
	}
	clone.Headers = r.Headers.Clone()
	clone.Body = append([]byte(nil), r.Body...)
	return &clone
}
