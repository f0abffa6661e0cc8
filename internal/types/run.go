package types

import "time"

// Crawl sources.
const (
	SourceForum  = "forum"
	SourceReddit = "reddit"
)

// RunSummary describes one finished crawl run.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Source     string    `json:"source"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	ListingPages int64 `json:"listing_pages"`
	Discovered   int64 `json:"discovered"`
	Skipped      int64 `json:"skipped"`
	Fetched      int64 `json:"fetched"`
	Failed       int64 `json:"failed"`
	Stored       int64 `json:"stored"`
	Dropped      int64 `json:"dropped"`
	StoreErrors  int64 `json:"store_errors"`
	Incomplete   int64 `json:"incomplete"`
	Replies      int64 `json:"replies"`

	// Error is set when the run aborted before listing, e.g. on a failed
	// session bootstrap.
	Error string `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (s *RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
