package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from .env, file, and environment.
// Priority (highest to lowest): CLI flags > env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("THREADGOAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("threadgoat")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".threadgoat"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Well-known secrets without the prefix, as commonly kept in .env.
	if cfg.AI.APIKey == "" {
		cfg.AI.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	return cfg, nil
}

// setDefaults registers default values in viper so env overrides resolve
// for keys absent from the config file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("engine.concurrency", cfg.Engine.Concurrency)
	v.SetDefault("engine.queue_size", cfg.Engine.QueueSize)
	v.SetDefault("engine.request_timeout", cfg.Engine.RequestTimeout)
	v.SetDefault("engine.politeness_delay", cfg.Engine.PolitenessDelay)
	v.SetDefault("engine.max_retries", cfg.Engine.MaxRetries)
	v.SetDefault("engine.retry_delay", cfg.Engine.RetryDelay)
	v.SetDefault("engine.max_pages", cfg.Engine.MaxPages)
	v.SetDefault("engine.max_discussions", cfg.Engine.MaxDiscussions)
	v.SetDefault("engine.max_root_pages", cfg.Engine.MaxRootPages)
	v.SetDefault("engine.user_agents", cfg.Engine.UserAgents)

	v.SetDefault("fetcher.type", cfg.Fetcher.Type)
	v.SetDefault("fetcher.max_body_size", cfg.Fetcher.MaxBodySize)
	v.SetDefault("fetcher.tls_insecure", cfg.Fetcher.TLSInsecure)
	v.SetDefault("fetcher.idle_conn_timeout", cfg.Fetcher.IdleConnTimeout)
	v.SetDefault("fetcher.max_idle_conns", cfg.Fetcher.MaxIdleConns)
	v.SetDefault("fetcher.headless", cfg.Fetcher.Headless)
	v.SetDefault("fetcher.browser_bin", cfg.Fetcher.BrowserBin)
	v.SetDefault("fetcher.bootstrap_timeout", cfg.Fetcher.BootstrapTimeout)
	v.SetDefault("fetcher.settle_delay", cfg.Fetcher.SettleDelay)
	v.SetDefault("fetcher.page_pool_size", cfg.Fetcher.PagePoolSize)

	v.SetDefault("proxy.enabled", cfg.Proxy.Enabled)
	v.SetDefault("proxy.rotation", cfg.Proxy.Rotation)

	v.SetDefault("forum.base_url", cfg.Forum.BaseURL)
	v.SetDefault("forum.listing_url", cfg.Forum.ListingURL)
	v.SetDefault("forum.api_path", cfg.Forum.APIPath)
	v.SetDefault("forum.board_id", cfg.Forum.BoardID)
	v.SetDefault("forum.conversation_style", cfg.Forum.ConversationStyle)
	v.SetDefault("forum.sort_direction", cfg.Forum.SortDirection)
	v.SetDefault("forum.page_size", cfg.Forum.PageSize)
	v.SetDefault("forum.permalink_template", cfg.Forum.PermalinkTemplate)
	v.SetDefault("forum.list_operation", cfg.Forum.ListOperation)
	v.SetDefault("forum.list_query_hash", cfg.Forum.ListQueryHash)
	v.SetDefault("forum.replies_operation", cfg.Forum.RepliesOperation)
	v.SetDefault("forum.replies_query_hash", cfg.Forum.RepliesQueryHash)
	v.SetDefault("forum.replies_page_size", cfg.Forum.RepliesPageSize)
	v.SetDefault("forum.nested_page_size", cfg.Forum.NestedPageSize)
	v.SetDefault("forum.depth_three_page_size", cfg.Forum.DepthThreePageSize)

	v.SetDefault("reddit.base_url", cfg.Reddit.BaseURL)
	v.SetDefault("reddit.subreddits", cfg.Reddit.Subreddits)
	v.SetDefault("reddit.limit", cfg.Reddit.Limit)
	v.SetDefault("reddit.user_agent", cfg.Reddit.UserAgent)

	v.SetDefault("storage.backends", cfg.Storage.Backends)
	v.SetDefault("storage.sqlite_path", cfg.Storage.SQLitePath)
	v.SetDefault("storage.mongo_uri", cfg.Storage.MongoURI)
	v.SetDefault("storage.mongo_database", cfg.Storage.MongoDatabase)
	v.SetDefault("storage.output_path", cfg.Storage.OutputPath)
	v.SetDefault("storage.history_path", cfg.Storage.HistoryPath)

	v.SetDefault("ai.enabled", cfg.AI.Enabled)
	v.SetDefault("ai.provider", cfg.AI.Provider)
	v.SetDefault("ai.model", cfg.AI.Model)
	v.SetDefault("ai.endpoint", cfg.AI.Endpoint)
	v.SetDefault("ai.api_key", cfg.AI.APIKey)
	v.SetDefault("ai.max_tokens", cfg.AI.MaxTokens)
	v.SetDefault("ai.temperature", cfg.AI.Temperature)
	v.SetDefault("ai.batch_size", cfg.AI.BatchSize)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)

	v.SetDefault("dashboard.port", cfg.Dashboard.Port)

	v.SetDefault("schedule.cron", cfg.Schedule.Cron)
	v.SetDefault("schedule.sources", cfg.Schedule.Sources)
}
