package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for ThreadGoat.
type Config struct {
	Engine    EngineConfig    `mapstructure:"engine"    yaml:"engine"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"   yaml:"fetcher"`
	Proxy     ProxyConfig     `mapstructure:"proxy"     yaml:"proxy"`
	Forum     ForumConfig     `mapstructure:"forum"     yaml:"forum"`
	Reddit    RedditConfig    `mapstructure:"reddit"    yaml:"reddit"`
	Storage   StorageConfig   `mapstructure:"storage"   yaml:"storage"`
	AI        AIConfig        `mapstructure:"ai"        yaml:"ai"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"   yaml:"metrics"`
	Dashboard DashboardConfig `mapstructure:"dashboard" yaml:"dashboard"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"  yaml:"schedule"`
}

// EngineConfig controls the crawl orchestrator.
type EngineConfig struct {
	Concurrency     int           `mapstructure:"concurrency"      yaml:"concurrency"`
	QueueSize       int           `mapstructure:"queue_size"       yaml:"queue_size"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"  yaml:"request_timeout"`
	PolitenessDelay time.Duration `mapstructure:"politeness_delay" yaml:"politeness_delay"`
	MaxRetries      int           `mapstructure:"max_retries"      yaml:"max_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"      yaml:"retry_delay"`
	MaxPages        int           `mapstructure:"max_pages"        yaml:"max_pages"`
	MaxDiscussions  int           `mapstructure:"max_discussions"  yaml:"max_discussions"`
	MaxRootPages    int           `mapstructure:"max_root_pages"   yaml:"max_root_pages"`
	UserAgents      []string      `mapstructure:"user_agents"      yaml:"user_agents"`
}

// FetcherConfig controls the page and API fetch layer.
type FetcherConfig struct {
	Type             string        `mapstructure:"type"              yaml:"type"`
	MaxBodySize      int64         `mapstructure:"max_body_size"     yaml:"max_body_size"`
	TLSInsecure      bool          `mapstructure:"tls_insecure"      yaml:"tls_insecure"`
	IdleConnTimeout  time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns"    yaml:"max_idle_conns"`
	Headless         bool          `mapstructure:"headless"          yaml:"headless"`
	BrowserBin       string        `mapstructure:"browser_bin"       yaml:"browser_bin"`
	BootstrapTimeout time.Duration `mapstructure:"bootstrap_timeout" yaml:"bootstrap_timeout"`
	SettleDelay      time.Duration `mapstructure:"settle_delay"      yaml:"settle_delay"`
	PagePoolSize     int           `mapstructure:"page_pool_size"    yaml:"page_pool_size"`
}

// ProxyConfig controls proxy rotation.
type ProxyConfig struct {
	Enabled  bool     `mapstructure:"enabled"  yaml:"enabled"`
	Rotation string   `mapstructure:"rotation" yaml:"rotation"`
	URLs     []string `mapstructure:"urls"     yaml:"urls"`
}

// ForumConfig describes the community platform and its GraphQL API.
type ForumConfig struct {
	BaseURL           string `mapstructure:"base_url"            yaml:"base_url"`
	ListingURL        string `mapstructure:"listing_url"         yaml:"listing_url"`
	APIPath           string `mapstructure:"api_path"            yaml:"api_path"`
	BoardID           string `mapstructure:"board_id"            yaml:"board_id"`
	ConversationStyle string `mapstructure:"conversation_style"  yaml:"conversation_style"`
	SortDirection     string `mapstructure:"sort_direction"      yaml:"sort_direction"`
	PageSize          int    `mapstructure:"page_size"           yaml:"page_size"`
	PermalinkTemplate string `mapstructure:"permalink_template"  yaml:"permalink_template"`

	ListOperation    string `mapstructure:"list_operation"     yaml:"list_operation"`
	ListQueryHash    string `mapstructure:"list_query_hash"    yaml:"list_query_hash"`
	RepliesOperation string `mapstructure:"replies_operation"  yaml:"replies_operation"`
	RepliesQueryHash string `mapstructure:"replies_query_hash" yaml:"replies_query_hash"`

	RepliesPageSize    int `mapstructure:"replies_page_size"     yaml:"replies_page_size"`
	NestedPageSize     int `mapstructure:"nested_page_size"      yaml:"nested_page_size"`
	DepthThreePageSize int `mapstructure:"depth_three_page_size" yaml:"depth_three_page_size"`
}

// RedditConfig controls the Reddit source.
type RedditConfig struct {
	BaseURL    string   `mapstructure:"base_url"    yaml:"base_url"`
	Subreddits []string `mapstructure:"subreddits"  yaml:"subreddits"`
	Limit      int      `mapstructure:"limit"       yaml:"limit"`
	UserAgent  string   `mapstructure:"user_agent"  yaml:"user_agent"`
}

// StorageConfig controls persistence.
type StorageConfig struct {
	// Backends lists sinks to fan out to: sqlite, mongodb, jsonl.
	Backends      []string `mapstructure:"backends"       yaml:"backends"`
	SQLitePath    string   `mapstructure:"sqlite_path"    yaml:"sqlite_path"`
	MongoURI      string   `mapstructure:"mongo_uri"      yaml:"mongo_uri"`
	MongoDatabase string   `mapstructure:"mongo_database" yaml:"mongo_database"`
	OutputPath    string   `mapstructure:"output_path"    yaml:"output_path"`
	// HistoryPath is the previous run's output; empty means OutputPath.
	HistoryPath string `mapstructure:"history_path" yaml:"history_path"`
}

// AIConfig controls enrichment.
type AIConfig struct {
	Enabled     bool    `mapstructure:"enabled"     yaml:"enabled"`
	Provider    string  `mapstructure:"provider"    yaml:"provider"`
	Model       string  `mapstructure:"model"       yaml:"model"`
	Endpoint    string  `mapstructure:"endpoint"    yaml:"endpoint"`
	APIKey      string  `mapstructure:"api_key"     yaml:"api_key"`
	MaxTokens   int     `mapstructure:"max_tokens"  yaml:"max_tokens"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	BatchSize   int     `mapstructure:"batch_size"  yaml:"batch_size"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DashboardConfig controls the read-only web dashboard.
type DashboardConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// ScheduleConfig controls recurring crawls.
type ScheduleConfig struct {
	Cron    string   `mapstructure:"cron"    yaml:"cron"`
	Sources []string `mapstructure:"sources" yaml:"sources"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Concurrency:     4,
			QueueSize:       100,
			RequestTimeout:  30 * time.Second,
			PolitenessDelay: 0,
			MaxRetries:      2,
			RetryDelay:      2 * time.Second,
			MaxRootPages:    50,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			},
		},
		Fetcher: FetcherConfig{
			Type:             "browser",
			MaxBodySize:      10 * 1024 * 1024, // 10MB
			IdleConnTimeout:  90 * time.Second,
			MaxIdleConns:     100,
			Headless:         true,
			BootstrapTimeout: 60 * time.Second,
			SettleDelay:      3 * time.Second,
			PagePoolSize:     4,
		},
		Proxy: ProxyConfig{
			Rotation: "round_robin",
		},
		Forum: ForumConfig{
			BaseURL:           "https://techcommunity.microsoft.com",
			ListingURL:        "https://techcommunity.microsoft.com/category/microsoft365copilot/discussions/microsoft365copilot",
			APIPath:           "/t5/s/api/2.1/graphql",
			BoardID:           "microsoft365copilot",
			ConversationStyle: "FORUM",
			SortDirection:     "DESC",
			PageSize:          25,
			PermalinkTemplate: "https://techcommunity.microsoft.com/t5/{board}/m-p/{id}",
			ListOperation:     "MessageViewsForWidget",
			RepliesOperation:  "MessageReplies",
			RepliesQueryHash:  "bdf33b497250518517b2f92d73b36bd00bab5b17a4ab95fff259bea3b9085bf5",

			RepliesPageSize:    10,
			NestedPageSize:     3,
			DepthThreePageSize: 1,
		},
		Reddit: RedditConfig{
			BaseURL:    "https://www.reddit.com",
			Subreddits: []string{"microsoft", "microsoft365"},
			Limit:      50,
			UserAgent:  "threadgoat/0.1",
		},
		Storage: StorageConfig{
			Backends:      []string{"sqlite", "jsonl"},
			SQLitePath:    "./output/threadgoat.db",
			MongoDatabase: "threadgoat",
			OutputPath:    "./output/discussions.jsonl",
		},
		AI: AIConfig{
			Provider:    "keyword",
			Model:       "llama3.2",
			Endpoint:    "http://localhost:11434",
			MaxTokens:   512,
			Temperature: 0.2,
			BatchSize:   100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
		Dashboard: DashboardConfig{
			Port: 8080,
		},
		Schedule: ScheduleConfig{
			Cron:    "0 */6 * * *",
			Sources: []string{"forum"},
		},
	}
}
