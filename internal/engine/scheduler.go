package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/IshaanNene/ThreadGoat/internal/observability"
)

// runWorkers starts the worker pool and blocks until the task channel is
// closed and drained, or ctx is cancelled.
func (c *Crawler) runWorkers(ctx context.Context, tasks <-chan string) {
	concurrency := max(c.cfg.Concurrency, 1)
	c.logger.Info("starting worker pool", "workers", concurrency)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.worker(ctx, id, tasks)
		}(i)
	}
	wg.Wait()
}

// worker owns one discussion at a time, including its resolver state.
func (c *Crawler) worker(ctx context.Context, id int, tasks <-chan string) {
	logger := c.logger.With("worker_id", id)

	for {
		select {
		case <-ctx.Done():
			return
		case permalink, ok := <-tasks:
			if !ok {
				return
			}
			c.observe(func(m *observability.Metrics) { m.QueueDepth.Add(-1) })

			c.stats.ActiveWorkers.Add(1)
			c.observe(func(m *observability.Metrics) { m.ActiveWorkers.Add(1) })

			c.processDiscussion(ctx, logger, permalink)

			c.stats.ActiveWorkers.Add(-1)
			c.observe(func(m *observability.Metrics) { m.ActiveWorkers.Add(-1) })
		}
	}
}

// processDiscussion handles a single permalink: fetch, resolve, normalize,
// store. Every failure is logged and counted; none escapes the worker.
func (c *Crawler) processDiscussion(ctx context.Context, logger *slog.Logger, permalink string) {
	logger = logger.With("url", permalink)
	start := time.Now()

	fetchCtx := ctx
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	fetched, err := c.fetcher.FetchDiscussion(fetchCtx, permalink)
	if err != nil {
		c.stats.FetchFailed.Add(1)
		c.observe(func(m *observability.Metrics) { m.DiscussionsFailed.Add(1) })
		logger.Error("discussion fetch failed", "error", err)
		return
	}
	c.stats.Fetched.Add(1)
	c.observe(func(m *observability.Metrics) { m.DiscussionsFetched.Add(1) })

	if fetched.Discussion.URL == "" {
		fetched.Discussion.URL = permalink
	}

	res := c.resolver.Resolve(ctx, fetched)
	c.stats.ResolverFetches.Add(int64(res.Fetches))
	c.stats.ResolverFailures.Add(int64(res.Failures))
	c.observe(func(m *observability.Metrics) {
		m.ResolverFetches.Add(int64(res.Fetches))
		m.ResolverFailures.Add(int64(res.Failures))
	})

	thread := res.Thread
	if !thread.Complete {
		c.stats.Incomplete.Add(1)
		c.observe(func(m *observability.Metrics) { m.IncompleteThreads.Add(1) })
	}

	if c.processor != nil {
		processed, err := c.processor.Process(ctx, thread)
		if err != nil {
			c.stats.Dropped.Add(1)
			c.observe(func(m *observability.Metrics) { m.ThreadsDropped.Add(1) })
			logger.Warn("pipeline dropped discussion", "error", err)
			return
		}
		if processed == nil {
			c.stats.Dropped.Add(1)
			c.observe(func(m *observability.Metrics) { m.ThreadsDropped.Add(1) })
			logger.Debug("pipeline dropped discussion")
			return
		}
		thread = processed
	}

	if err := c.sink.Upsert(ctx, thread); err != nil {
		c.stats.StoreFailed.Add(1)
		c.observe(func(m *observability.Metrics) { m.StoreErrors.Add(1) })
		logger.Error("store failed", "id", thread.Discussion.ID, "error", err)
		return
	}

	c.stats.Stored.Add(1)
	c.stats.Replies.Add(int64(len(thread.Replies)))
	c.observe(func(m *observability.Metrics) {
		m.ThreadsStored.Add(1)
		m.RepliesStored.Add(int64(len(thread.Replies)))
	})

	logger.Info("discussion stored",
		"id", thread.Discussion.ID,
		"reported_replies", thread.Discussion.ReplyCount,
		"replies", len(thread.Replies),
		"missing", thread.Missing(),
		"complete", thread.Complete,
		"resolver_fetches", res.Fetches,
		"duration", time.Since(start),
	)
}
