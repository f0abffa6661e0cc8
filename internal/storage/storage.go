package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/IshaanNene/ThreadGoat/internal/config"
	"github.com/IshaanNene/ThreadGoat/internal/types"
)

// Sink is the interface for all storage backends. Upsert is idempotent:
// storing the same thread twice leaves one discussion row and one row per
// reply.
type Sink interface {
	// Upsert persists a thread, replacing any previous copy.
	Upsert(ctx context.Context, thread *types.Thread) error

	// Close flushes pending writes and releases resources.
	Close() error

	// Name returns the storage backend identifier.
	Name() string
}

// --- Multi-Sink Fan-Out ---

// MultiSink writes threads to multiple backends.
type MultiSink struct {
	backends []Sink
	logger   *slog.Logger
}

// NewMultiSink creates a sink that fans out to multiple backends.
func NewMultiSink(backends []Sink, logger *slog.Logger) *MultiSink {
	return &MultiSink{
		backends: backends,
		logger:   logger.With("component", "multi_sink"),
	}
}

func (s *MultiSink) Name() string { return "multi" }

// Upsert writes to every backend. One backend failing does not stop the
// others; the first error is returned.
func (s *MultiSink) Upsert(ctx context.Context, thread *types.Thread) error {
	var firstErr error
	for _, backend := range s.backends {
		if err := backend.Upsert(ctx, thread); err != nil {
			s.logger.Error("backend upsert failed", "backend", backend.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *MultiSink) Close() error {
	var errs []error
	for _, backend := range s.backends {
		if err := backend.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SQLite returns the relational backend, or nil when none is configured.
func (s *MultiSink) SQLite() *SQLiteStore {
	for _, backend := range s.backends {
		if store, ok := backend.(*SQLiteStore); ok {
			return store
		}
	}
	return nil
}

// Backends returns the names of the configured backends.
func (s *MultiSink) Backends() []string {
	names := make([]string, 0, len(s.backends))
	for _, backend := range s.backends {
		names = append(names, backend.Name())
	}
	return names
}

// NewSink opens every backend named in storage.backends. Backends already
// opened are closed when a later one fails.
func NewSink(ctx context.Context, cfg *config.StorageConfig, logger *slog.Logger) (*MultiSink, error) {
	var backends []Sink
	fail := func(err error) (*MultiSink, error) {
		for _, b := range backends {
			_ = b.Close()
		}
		return nil, err
	}

	for _, name := range cfg.Backends {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "sqlite":
			store, err := NewSQLiteStore(cfg.SQLitePath, logger)
			if err != nil {
				return fail(err)
			}
			backends = append(backends, store)
		case "mongodb", "mongo":
			sink, err := NewMongoSink(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
			if err != nil {
				return fail(err)
			}
			backends = append(backends, sink)
		case "jsonl":
			sink, err := NewJSONLSink(cfg.OutputPath, logger)
			if err != nil {
				return fail(err)
			}
			backends = append(backends, sink)
		default:
			return fail(fmt.Errorf("unsupported storage backend: %s", name))
		}
	}
	return NewMultiSink(backends, logger), nil
}
