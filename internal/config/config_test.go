package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero concurrency", func(c *Config) { c.Engine.Concurrency = 0 }},
		{"bad fetcher", func(c *Config) { c.Fetcher.Type = "curl" }},
		{"relative api path", func(c *Config) { c.Forum.APIPath = "graphql" }},
		{"template without id", func(c *Config) { c.Forum.PermalinkTemplate = "https://x/{board}" }},
		{"unknown backend", func(c *Config) { c.Storage.Backends = []string{"postgres"} }},
		{"mongo without uri", func(c *Config) { c.Storage.Backends = []string{"mongodb"} }},
		{"no backends", func(c *Config) { c.Storage.Backends = nil }},
		{"bad provider", func(c *Config) { c.AI.Provider = "bard" }},
		{"openai without key", func(c *Config) {
			c.AI.Enabled = true
			c.AI.Provider = "openai"
			c.AI.APIKey = ""
		}},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
		{"bad sort", func(c *Config) { c.Forum.SortDirection = "UP" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://techcommunity.microsoft.com", true},
		{"http://localhost:8080/x", true},
		{"ftp://example.com", false},
		{"https://", false},
		{"::bad", false},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.url)
		if (err == nil) != tt.want {
			t.Errorf("ValidateURL(%q) err=%v, want ok=%v", tt.url, err, tt.want)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "threadgoat.yaml")
	content := `
engine:
  concurrency: 8
forum:
  board_id: excel
  page_size: 50
storage:
  backends: [jsonl]
fetcher:
  settle_delay: 5s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.Concurrency != 8 {
		t.Errorf("concurrency = %d, want 8", cfg.Engine.Concurrency)
	}
	if cfg.Forum.BoardID != "excel" || cfg.Forum.PageSize != 50 {
		t.Errorf("forum = %+v", cfg.Forum)
	}
	if len(cfg.Storage.Backends) != 1 || cfg.Storage.Backends[0] != "jsonl" {
		t.Errorf("backends = %v", cfg.Storage.Backends)
	}
	if cfg.Fetcher.SettleDelay != 5*time.Second {
		t.Errorf("settle_delay = %v", cfg.Fetcher.SettleDelay)
	}
	// Untouched keys keep defaults.
	if cfg.Forum.RepliesOperation != "MessageReplies" {
		t.Errorf("replies operation = %q", cfg.Forum.RepliesOperation)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}
