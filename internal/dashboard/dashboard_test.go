package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/IshaanNene/ThreadGoat/internal/observability"
	"github.com/IshaanNene/ThreadGoat/internal/storage"
	"github.com/IshaanNene/ThreadGoat/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func init() {
	gin.SetMode(gin.TestMode)
}

func seededStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "dash.db"), testLogger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	threads := []*types.Thread{
		{
			Discussion: &types.Discussion{
				ID: "message:1", Platform: types.PlatformTechCommunity, SubSource: "microsoft365copilot",
				Title: "Excel agent fails", URL: "https://techcommunity.microsoft.com/t5/x/m-p/1",
				PublishDate: "2025-03-01T09:30:00", ReplyCount: 3,
			},
			Replies: []types.Reply{{ID: "message:2", ParentID: "message:1", Author: "amy", Content: "same"}},
		},
		{
			Discussion: &types.Discussion{
				ID: "reddit_abc", Platform: types.PlatformReddit, SubSource: "microsoft365",
				Title: "Teams recap", URL: "https://www.reddit.com/r/microsoft365/comments/abc/",
				PublishDate: "2025-03-02T09:30:00",
			},
			Complete: true,
		},
	}
	for _, th := range threads {
		if err := store.Upsert(ctx, th); err != nil {
			t.Fatal(err)
		}
	}
	err = store.RecordRun(ctx, &types.RunSummary{
		RunID: "run-1", Source: types.SourceForum, Stored: 1,
		StartedAt: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), FinishedAt: time.Date(2025, 3, 2, 0, 5, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func get(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: decode: %v", target, err)
		}
	}
	return w, body
}

func TestDashboardRoutes(t *testing.T) {
	metrics := observability.NewMetrics(testLogger)
	metrics.ThreadsStored.Add(2)
	router := NewDashboard(0, seededStore(t), metrics, testLogger).Router()

	t.Run("index", func(t *testing.T) {
		w, _ := get(t, router, "/")
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ThreadGoat Dashboard") {
			t.Errorf("index = %d", w.Code)
		}
	})

	t.Run("health", func(t *testing.T) {
		w, body := get(t, router, "/health")
		if w.Code != http.StatusOK || body["status"] != "ok" {
			t.Errorf("health = %d %v", w.Code, body)
		}
	})

	t.Run("stats", func(t *testing.T) {
		w, body := get(t, router, "/api/stats")
		if w.Code != http.StatusOK {
			t.Fatalf("stats = %d", w.Code)
		}
		store, _ := body["store"].(map[string]any)
		if store["discussions"] != float64(2) || store["replies"] != float64(1) {
			t.Errorf("store stats = %v", store)
		}
		counters, _ := body["counters"].(map[string]any)
		if counters["threads_stored"] != float64(2) {
			t.Errorf("counters = %v", counters)
		}
	})

	t.Run("discussions filtered", func(t *testing.T) {
		w, body := get(t, router, "/api/discussions?platform=Reddit")
		if w.Code != http.StatusOK || body["count"] != float64(1) {
			t.Fatalf("discussions = %d %v", w.Code, body)
		}
		list, _ := body["discussions"].([]any)
		first, _ := list[0].(map[string]any)
		if first["id"] != "reddit_abc" {
			t.Errorf("first = %v", first)
		}
	})

	t.Run("discussions bad limit", func(t *testing.T) {
		w, _ := get(t, router, "/api/discussions?limit=abc")
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("thread", func(t *testing.T) {
		w, body := get(t, router, "/api/discussions/message:1")
		if w.Code != http.StatusOK {
			t.Fatalf("thread = %d", w.Code)
		}
		if body["missing"] != float64(2) || body["complete"] != false {
			t.Errorf("thread body = %v", body)
		}
	})

	t.Run("thread not found", func(t *testing.T) {
		w, _ := get(t, router, "/api/discussions/message:404")
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})

	t.Run("discrepancies", func(t *testing.T) {
		w, body := get(t, router, "/api/discrepancies")
		if w.Code != http.StatusOK || body["count"] != float64(1) {
			t.Errorf("discrepancies = %d %v", w.Code, body)
		}
	})

	t.Run("runs", func(t *testing.T) {
		w, body := get(t, router, "/api/runs")
		runs, _ := body["runs"].([]any)
		if w.Code != http.StatusOK || len(runs) != 1 {
			t.Errorf("runs = %d %v", w.Code, body)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		w, _ := get(t, router, "/metrics")
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "threadgoat_threads_stored_total 2") {
			t.Errorf("metrics = %d %s", w.Code, w.Body.String())
		}
	})
}

type brokenStore struct{}

func (brokenStore) Stats(context.Context) (*storage.Stats, error) {
	return nil, errors.New("database is locked")
}

func (brokenStore) ListDiscussions(context.Context, storage.DiscussionFilter) ([]types.Discussion, error) {
	return nil, nil
}

func (brokenStore) GetThread(context.Context, string) (*types.Thread, error) {
	return nil, types.ErrNotFound
}

func (brokenStore) Discrepancies(context.Context, int) ([]storage.Discrepancy, error) {
	return nil, nil
}

func (brokenStore) RecentRuns(context.Context, int) ([]types.RunSummary, error) {
	return nil, nil
}

func TestDashboardStoreErrors(t *testing.T) {
	router := NewDashboard(0, brokenStore{}, nil, testLogger).Router()

	w, body := get(t, router, "/api/stats")
	if w.Code != http.StatusInternalServerError || body["error"] != "stats failed" {
		t.Errorf("stats = %d %v", w.Code, body)
	}

	w, body = get(t, router, "/api/discussions")
	list, ok := body["discussions"].([]any)
	if w.Code != http.StatusOK || !ok || len(list) != 0 {
		t.Errorf("empty discussions should encode as [], got %d %v", w.Code, body)
	}

	if w, _ := get(t, router, "/metrics"); w.Code != http.StatusNotFound {
		t.Errorf("metrics without counters = %d, want 404", w.Code)
	}
}
