package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/IshaanNene/ThreadGoat/internal/types"
)

// --- JSONL Sink ---

// JSONLSink appends one thread per line. The file is opened in append mode
// so it accumulates across runs and doubles as the run history that
// engine.LoadHistory reads back. Re-crawled threads append a newer record;
// readers keep the last one.
type JSONLSink struct {
	path   string
	file   *os.File
	mu     sync.Mutex
	count  int
	logger *slog.Logger
}

// NewJSONLSink opens outputPath for appending, creating parent directories.
func NewJSONLSink(outputPath string, logger *slog.Logger) (*JSONLSink, error) {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &types.StorageError{Backend: "jsonl", Err: fmt.Errorf("create output dir: %w", err)}
	}

	f, err := os.OpenFile(outputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &types.StorageError{Backend: "jsonl", Err: fmt.Errorf("open output file: %w", err)}
	}

	return &JSONLSink{
		path:   outputPath,
		file:   f,
		logger: logger.With("component", "jsonl_sink"),
	}, nil
}

func (s *JSONLSink) Name() string { return "jsonl" }

// Path returns the output file path.
func (s *JSONLSink) Path() string { return s.path }

func (s *JSONLSink) Upsert(_ context.Context, thread *types.Thread) error {
	line, err := thread.MarshalJSONL()
	if err != nil {
		return &types.StorageError{Backend: "jsonl", Err: fmt.Errorf("encode JSONL: %w", err)}
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return &types.StorageError{Backend: "jsonl", Err: os.ErrClosed}
	}
	if _, err := s.file.Write(line); err != nil {
		return &types.StorageError{Backend: "jsonl", Err: fmt.Errorf("write JSONL: %w", err)}
	}
	s.count++
	return nil
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("JSONL written", "path", s.path, "threads", s.count)
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
