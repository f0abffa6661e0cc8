package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Engine.Concurrency < 1 {
		return fmt.Errorf("engine.concurrency must be >= 1, got %d", cfg.Engine.Concurrency)
	}
	if cfg.Engine.Concurrency > 256 {
		return fmt.Errorf("engine.concurrency must be <= 256, got %d", cfg.Engine.Concurrency)
	}
	if cfg.Engine.QueueSize < 1 {
		return fmt.Errorf("engine.queue_size must be >= 1, got %d", cfg.Engine.QueueSize)
	}
	if cfg.Engine.RequestTimeout <= 0 {
		return fmt.Errorf("engine.request_timeout must be > 0")
	}
	if cfg.Engine.PolitenessDelay < 0 {
		return fmt.Errorf("engine.politeness_delay must be >= 0")
	}
	if cfg.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must be >= 0, got %d", cfg.Engine.MaxRetries)
	}
	if cfg.Engine.MaxPages < 0 || cfg.Engine.MaxDiscussions < 0 || cfg.Engine.MaxRootPages < 0 {
		return fmt.Errorf("engine limits must be >= 0")
	}

	if cfg.Fetcher.MaxBodySize <= 0 {
		return fmt.Errorf("fetcher.max_body_size must be > 0")
	}
	if cfg.Fetcher.Type != "http" && cfg.Fetcher.Type != "browser" {
		return fmt.Errorf("fetcher.type must be 'http' or 'browser', got %q", cfg.Fetcher.Type)
	}
	if cfg.Fetcher.BootstrapTimeout <= 0 {
		return fmt.Errorf("fetcher.bootstrap_timeout must be > 0")
	}

	if cfg.Proxy.Enabled {
		if cfg.Proxy.Rotation != "round_robin" && cfg.Proxy.Rotation != "random" {
			return fmt.Errorf("proxy.rotation must be 'round_robin' or 'random', got %q", cfg.Proxy.Rotation)
		}
		for _, proxyURL := range cfg.Proxy.URLs {
			if _, err := url.Parse(proxyURL); err != nil {
				return fmt.Errorf("invalid proxy URL %q: %w", proxyURL, err)
			}
		}
	}

	if err := ValidateURL(cfg.Forum.BaseURL); err != nil {
		return fmt.Errorf("forum.base_url: %w", err)
	}
	if err := ValidateURL(cfg.Forum.ListingURL); err != nil {
		return fmt.Errorf("forum.listing_url: %w", err)
	}
	if !strings.HasPrefix(cfg.Forum.APIPath, "/") {
		return fmt.Errorf("forum.api_path must start with '/', got %q", cfg.Forum.APIPath)
	}
	if cfg.Forum.PageSize < 1 || cfg.Forum.RepliesPageSize < 1 {
		return fmt.Errorf("forum page sizes must be >= 1")
	}
	if !strings.Contains(cfg.Forum.PermalinkTemplate, "{id}") {
		return fmt.Errorf("forum.permalink_template must contain {id}, got %q", cfg.Forum.PermalinkTemplate)
	}
	if cfg.Forum.SortDirection != "ASC" && cfg.Forum.SortDirection != "DESC" {
		return fmt.Errorf("forum.sort_direction must be ASC or DESC, got %q", cfg.Forum.SortDirection)
	}

	if len(cfg.Storage.Backends) == 0 {
		return fmt.Errorf("storage.backends must name at least one backend")
	}
	validBackends := map[string]bool{"sqlite": true, "mongodb": true, "jsonl": true}
	for _, b := range cfg.Storage.Backends {
		if !validBackends[b] {
			return fmt.Errorf("storage backend %q is not supported (valid: sqlite, mongodb, jsonl)", b)
		}
		if b == "mongodb" && cfg.Storage.MongoURI == "" {
			return fmt.Errorf("storage.mongo_uri is required for the mongodb backend")
		}
	}

	validProviders := map[string]bool{"keyword": true, "ollama": true, "openai": true, "custom": true}
	if !validProviders[cfg.AI.Provider] {
		return fmt.Errorf("ai.provider must be keyword/ollama/openai/custom, got %q", cfg.AI.Provider)
	}
	if cfg.AI.Enabled && cfg.AI.Provider == "openai" && cfg.AI.APIKey == "" {
		return fmt.Errorf("ai.api_key is required for the openai provider")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}
	if cfg.Dashboard.Port < 1 || cfg.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port must be 1-65535, got %d", cfg.Dashboard.Port)
	}

	return nil
}

// ValidateURL checks if a URL string is valid for crawling.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
