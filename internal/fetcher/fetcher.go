package fetcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IshaanNene/ThreadGoat/internal/config"
	"github.com/IshaanNene/ThreadGoat/internal/types"
)

// Fetcher is the interface for raw request fetchers.
type Fetcher interface {
	// Fetch retrieves the content at the given request's URL.
	Fetch(ctx context.Context, req *types.Request) (*types.Response, error)

	// Close releases any resources held by the fetcher.
	Close() error

	// Type returns the fetcher type identifier.
	Type() string
}

// PageRenderer turns a discussion permalink into a page context.
type PageRenderer interface {
	Render(ctx context.Context, rawURL string) (*types.Page, error)
	Close() error
}

// NewPageRenderer returns the renderer selected by fetcher.type. The browser
// renderer also captures background reply payloads named by
// forum.replies_operation.
func NewPageRenderer(cfg *config.Config, httpFetcher *HTTPFetcher, logger *slog.Logger) (PageRenderer, error) {
	switch cfg.Fetcher.Type {
	case "http":
		return httpFetcher, nil
	case "browser":
		opts := []BrowserOption{
			WithInterceptOperation(cfg.Forum.RepliesOperation),
			WithMaxPages(cfg.Fetcher.PagePoolSize),
			WithHTTPClient(httpFetcher.Client()),
		}
		if httpFetcher.proxyMgr != nil {
			opts = append(opts, WithBrowserProxy(httpFetcher.proxyMgr))
		}
		bf, err := NewBrowserFetcher(cfg, logger, opts...)
		if err != nil {
			return nil, err
		}
		return bf, nil
	default:
		return nil, fmt.Errorf("unknown fetcher type %q", cfg.Fetcher.Type)
	}
}
