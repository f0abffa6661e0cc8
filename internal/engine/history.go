package engine

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
)

// History is the set of discussion permalinks recorded by previous runs.
// It is loaded once at startup and consulted by the paginator.
type History struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewHistory creates an empty History with the given estimated capacity.
func NewHistory(estimatedCapacity int) *History {
	return &History{
		seen: make(map[string]struct{}, estimatedCapacity),
	}
}

// IsSeen reports whether the permalink (after canonicalization) was recorded.
func (h *History) IsSeen(rawURL string) bool {
	hash := hashURL(CanonicalizeURL(rawURL))

	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.seen[hash]
	return ok
}

// MarkSeen records a permalink.
func (h *History) MarkSeen(rawURL string) {
	if strings.TrimSpace(rawURL) == "" {
		return
	}
	hash := hashURL(CanonicalizeURL(rawURL))

	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen[hash] = struct{}{}
}

// Count returns the number of unique permalinks recorded.
func (h *History) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.seen)
}

// historyRecord is the subset of an output record the loader needs.
type historyRecord struct {
	DiscussionURL string `json:"discussion_url"`
	URL           string `json:"url"`
}

// LoadHistory reads a previous run's output. Each line is either a JSON
// record carrying discussion_url (or url) or a bare permalink. A missing
// file yields an empty History; malformed lines are skipped.
func LoadHistory(path string) (*History, error) {
	h := NewHistory(1024)
	if path == "" {
		return h, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return h, nil
		}
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	if err := h.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("read history %s: %w", path, err)
	}
	return h, nil
}

// ReadFrom adds every permalink found in r.
func (h *History) ReadFrom(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "{") {
			var rec historyRecord
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				continue
			}
			if rec.DiscussionURL != "" {
				h.MarkSeen(rec.DiscussionURL)
			} else {
				h.MarkSeen(rec.URL)
			}
			continue
		}
		h.MarkSeen(line)
	}
	return scanner.Err()
}

// CanonicalizeURL normalizes a URL for deduplication:
// - lowercases scheme and host
// - removes fragment
// - sorts query parameters
// - removes trailing slash (except root)
// - removes default ports (80 for http, 443 for https)
func CanonicalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	host := u.Hostname()
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = host
	}

	if u.RawQuery != "" {
		params := u.Query()
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var sorted []string
		for _, k := range keys {
			vals := params[k]
			sort.Strings(vals)
			for _, v := range vals {
				sorted = append(sorted, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		u.RawQuery = strings.Join(sorted, "&")
	}

	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String()
}

// hashURL creates a compact hash of a URL string.
func hashURL(canonicalURL string) string {
	h := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(h[:16]) // 128-bit hash
}
