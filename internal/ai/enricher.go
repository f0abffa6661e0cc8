package ai

import (
	"context"
	"log/slog"

	"github.com/IshaanNene/ThreadGoat/internal/observability"
	"github.com/IshaanNene/ThreadGoat/internal/types"
)

// Store is the slice of the relational store the enricher needs.
type Store interface {
	Unanalyzed(ctx context.Context, limit int) ([]types.Discussion, error)
	SaveAnalysis(ctx context.Context, id string, a *types.Analysis) error
}

// EnrichResult counts one enrichment pass.
type EnrichResult struct {
	Tagged int
	Failed int
}

// Enricher tags stored discussions that have no analysis yet.
type Enricher struct {
	store     Store
	tagger    Tagger
	batchSize int
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// EnricherOption configures an Enricher.
type EnricherOption func(*Enricher)

// WithBatchSize bounds how many discussions are fetched per batch.
func WithBatchSize(n int) EnricherOption {
	return func(e *Enricher) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithEnricherMetrics counts tagged and failed discussions.
func WithEnricherMetrics(m *observability.Metrics) EnricherOption {
	return func(e *Enricher) { e.metrics = m }
}

// NewEnricher creates an Enricher.
func NewEnricher(store Store, tagger Tagger, logger *slog.Logger, opts ...EnricherOption) *Enricher {
	e := &Enricher{
		store:     store,
		tagger:    tagger,
		batchSize: 100,
		logger:    logger.With("component", "enricher"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run tags up to limit unanalyzed discussions (all of them when limit <= 0).
// A discussion that fails to tag is not retried within the same pass.
func (e *Enricher) Run(ctx context.Context, limit int) (*EnrichResult, error) {
	result := &EnrichResult{}
	failed := make(map[string]bool)

	for limit <= 0 || result.Tagged+result.Failed < limit {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		batch, err := e.store.Unanalyzed(ctx, e.batchSize+len(failed))
		if err != nil {
			return result, err
		}

		progressed := false
		for i := range batch {
			d := &batch[i]
			if failed[d.ID] {
				continue
			}
			if limit > 0 && result.Tagged+result.Failed >= limit {
				break
			}
			if err := ctx.Err(); err != nil {
				return result, err
			}
			progressed = true

			analysis, err := e.tagger.Tag(ctx, d)
			if err == nil {
				err = e.store.SaveAnalysis(ctx, d.ID, analysis)
			}
			if err != nil {
				failed[d.ID] = true
				result.Failed++
				if e.metrics != nil {
					e.metrics.EnrichFailed.Add(1)
				}
				e.logger.Warn("enrichment failed", "id", d.ID, "error", err)
				continue
			}

			result.Tagged++
			if e.metrics != nil {
				e.metrics.Enriched.Add(1)
			}
			e.logger.Debug("discussion tagged",
				"id", d.ID,
				"category", analysis.Category,
				"product_area", analysis.ProductArea,
				"sentiment", analysis.Sentiment,
			)
		}

		if !progressed {
			break
		}
	}

	e.logger.Info("enrichment pass complete", "tagged", result.Tagged, "failed", result.Failed)
	return result, nil
}
