package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/IshaanNene/ThreadGoat/internal/config"
	"github.com/IshaanNene/ThreadGoat/internal/types"
)

// BrowserFetcher drives a headless Chromium via Rod. It is used once per run
// to observe the listing page's API traffic and, when fetcher.type is
// "browser", to render discussion pages.
type BrowserFetcher struct {
	browser     *rod.Browser
	cfg         *config.Config
	logger      *slog.Logger
	proxyMgr    *ProxyManager
	client      *http.Client
	pagePool    chan *rod.Page
	maxPages    int
	interceptOp string
}

// BrowserOption configures the BrowserFetcher.
type BrowserOption func(*BrowserFetcher)

// WithBrowserProxy sets the proxy manager for browser requests.
func WithBrowserProxy(pm *ProxyManager) BrowserOption {
	return func(bf *BrowserFetcher) { bf.proxyMgr = pm }
}

// WithMaxPages sets the maximum number of pooled browser pages.
func WithMaxPages(n int) BrowserOption {
	return func(bf *BrowserFetcher) {
		if n > 0 {
			bf.maxPages = n
		}
	}
}

// WithInterceptOperation names the GraphQL operation whose responses are
// captured while a discussion page renders.
func WithInterceptOperation(op string) BrowserOption {
	return func(bf *BrowserFetcher) { bf.interceptOp = op }
}

// WithHTTPClient sets the client used to load intercepted responses.
func WithHTTPClient(c *http.Client) BrowserOption {
	return func(bf *BrowserFetcher) { bf.client = c }
}

// NewBrowserFetcher launches a headless browser.
func NewBrowserFetcher(cfg *config.Config, logger *slog.Logger, opts ...BrowserOption) (*BrowserFetcher, error) {
	bf := &BrowserFetcher{
		cfg:      cfg,
		logger:   logger.With("component", "browser_fetcher"),
		maxPages: cfg.Engine.Concurrency,
		client:   http.DefaultClient,
	}

	for _, opt := range opts {
		opt(bf)
	}

	launchURL, err := bf.launchBrowser()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	bf.browser = browser
	bf.pagePool = make(chan *rod.Page, bf.maxPages)

	bf.logger.Info("browser fetcher ready",
		"max_pages", bf.maxPages,
		"headless", cfg.Fetcher.Headless,
		"intercept_operation", bf.interceptOp,
	)

	return bf, nil
}

func (bf *BrowserFetcher) launchBrowser() (string, error) {
	l := launcher.New().
		Headless(bf.cfg.Fetcher.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox")

	if bf.cfg.Fetcher.BrowserBin != "" {
		l = l.Bin(bf.cfg.Fetcher.BrowserBin)
	}

	if bf.proxyMgr != nil {
		if proxyURL := bf.proxyMgr.Next(); proxyURL != nil {
			l = l.Proxy(proxyURL.String())
		}
	}

	return l.Launch()
}

// --- Bootstrap observation ---

// Observation streams the requests a page issues while it loads.
type Observation struct {
	Requests <-chan ObservedRequest

	page   *rod.Page
	router *rod.HijackRouter
	bf     *BrowserFetcher
}

// ObserveRequests opens pageURL and streams every outgoing request. The
// caller must Close the observation.
func (bf *BrowserFetcher) ObserveRequests(ctx context.Context, pageURL string) (*Observation, error) {
	page, err := bf.getPage()
	if err != nil {
		return nil, err
	}

	ch := make(chan ObservedRequest, 256)
	router := page.HijackRequests()
	err = router.Add("*", "", func(h *rod.Hijack) {
		obs := ObservedRequest{
			Method:  h.Request.Method(),
			URL:     h.Request.URL().String(),
			Headers: make(map[string]string),
			Body:    h.Request.Body(),
		}
		for name, value := range h.Request.Headers() {
			obs.Headers[name] = value.Str()
		}
		select {
		case ch <- obs:
		default:
			bf.logger.Debug("observation buffer full, dropping request", "url", obs.URL)
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		bf.putPage(page)
		return nil, fmt.Errorf("install request hijack: %w", err)
	}
	go router.Run()

	if err := page.Context(ctx).Timeout(bf.cfg.Engine.RequestTimeout).Navigate(pageURL); err != nil {
		_ = router.Stop()
		bf.putPage(page)
		return nil, &types.FetchError{URL: pageURL, Err: err, Retryable: true}
	}

	return &Observation{Requests: ch, page: page, router: router, bf: bf}, nil
}

// Cookies returns the page's cookies for the given URLs.
func (o *Observation) Cookies(urls ...string) map[string]string {
	out := make(map[string]string)
	cookies, err := o.page.Cookies(urls)
	if err != nil {
		return out
	}
	for _, c := range cookies {
		out[c.Name] = c.Value
	}
	return out
}

// Close stops interception and returns the page to the pool.
func (o *Observation) Close() {
	_ = o.router.Stop()
	o.bf.putPage(o.page)
}

// CaptureSession loads the listing page and captures the first qualifying
// API request's credentials. Browser cookies not present in the captured
// header are merged in.
func (bf *BrowserFetcher) CaptureSession(ctx context.Context, listingURL, apiPath string, timeout time.Duration) (*CredentialBundle, error) {
	bf.logger.Info("bootstrapping session", "listing_url", listingURL, "api_path", apiPath, "timeout", timeout)

	obs, err := bf.ObserveRequests(ctx, listingURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrNoQualifyingRequest, err)
	}
	defer obs.Close()

	bundle, err := CaptureFromStream(ctx, obs.Requests, apiPath, timeout, bf.logger)
	if err != nil {
		return nil, err
	}
	bundle.MergeCookies(obs.Cookies(listingURL))
	return bundle, nil
}

// --- Discussion rendering ---

// Render navigates to a discussion page, waits for it to settle, and returns
// its HTML together with any background reply payloads observed meanwhile.
func (bf *BrowserFetcher) Render(ctx context.Context, rawURL string) (*types.Page, error) {
	page, err := bf.getPage()
	if err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err, Retryable: true}
	}
	defer bf.putPage(page)

	payloads := make(chan json.RawMessage, 32)
	router := page.HijackRequests()
	err = router.Add("*graphql*", "", func(h *rod.Hijack) {
		body := h.Request.Body()
		if bf.interceptOp == "" || !strings.Contains(body, bf.interceptOp) {
			h.ContinueRequest(&proto.FetchContinueRequest{})
			return
		}
		if err := h.LoadResponse(bf.client, true); err != nil {
			bf.logger.Debug("intercepted request failed", "url", rawURL, "error", err)
			return
		}
		data := json.RawMessage(h.Response.Body())
		if !json.Valid(data) {
			return
		}
		select {
		case payloads <- data:
		default:
			bf.logger.Debug("payload buffer full, dropping", "url", rawURL)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("install response hijack: %w", err)
	}
	go router.Run()
	defer func() { _ = router.Stop() }()

	timeout := bf.cfg.Engine.RequestTimeout
	p := page.Context(ctx).Timeout(timeout)
	if err := p.Navigate(rawURL); err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err, Retryable: true}
	}
	if err := p.WaitLoad(); err != nil {
		bf.logger.Warn("page load timeout, continuing", "url", rawURL, "error", err)
	}
	if err := p.WaitStable(300 * time.Millisecond); err != nil {
		bf.logger.Warn("page stability timeout, continuing", "url", rawURL, "error", err)
	}

	// No completion signal exists for background traffic; collect for a
	// fixed settle window.
	var intercepted []json.RawMessage
	settle := time.NewTimer(bf.cfg.Fetcher.SettleDelay)
	defer settle.Stop()
collect:
	for {
		select {
		case data := <-payloads:
			intercepted = append(intercepted, data)
		case <-settle.C:
			break collect
		case <-ctx.Done():
			return nil, &types.FetchError{URL: rawURL, Err: ctx.Err()}
		}
	}
	for {
		select {
		case data := <-payloads:
			intercepted = append(intercepted, data)
			continue
		default:
		}
		break
	}

	html, err := page.HTML()
	if err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err, Retryable: true}
	}

	finalURL := rawURL
	if info, err := page.Info(); err == nil && info != nil {
		finalURL = info.URL
	}

	result := types.NewPage(finalURL, []byte(html))
	result.Intercepted = intercepted

	bf.logger.Debug("browser render complete",
		"url", rawURL,
		"final_url", finalURL,
		"size", len(html),
		"intercepted", len(intercepted),
	)
	return result, nil
}

// Close shuts down the browser and releases resources.
func (bf *BrowserFetcher) Close() error {
	close(bf.pagePool)
	for page := range bf.pagePool {
		_ = page.Close()
	}
	if bf.browser != nil {
		return bf.browser.Close()
	}
	return nil
}

// Type returns the fetcher type identifier.
func (bf *BrowserFetcher) Type() string {
	return "browser"
}

func (bf *BrowserFetcher) getPage() (*rod.Page, error) {
	select {
	case page := <-bf.pagePool:
		return page, nil
	default:
		return bf.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
}

func (bf *BrowserFetcher) putPage(page *rod.Page) {
	_ = page.Navigate("about:blank")

	select {
	case bf.pagePool <- page:
	default:
		_ = page.Close()
	}
}
