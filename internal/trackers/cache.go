package trackers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/edu292/stremtui/internal/metrics"
)

// Cache maintains the list of bootstrap tracker URLs with a write-through
// file cache keyed by calendar date. A stale list is always preferred to
// blocking the caller on a refresh: network failures degrade to whatever the
// cache holds, down to an empty list on a cold start.
type Cache struct {
	path    string
	listURL string
	http    *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Cache)

// WithClock overrides the clock, used by tests to pin the calendar date.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(path, listURL string, httpClient *http.Client, logger *slog.Logger, opts ...Option) *Cache {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		path:    path,
		listURL: listURL,
		http:    httpClient,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Trackers returns the bootstrap tracker list. The returned error is non-nil
// only for local I/O failures other than a missing cache file; callers that
// can live with a degraded list may log it and use the list anyway. Losing
// persisted state silently would be worse than a visible failure.
func (c *Cache) Trackers(ctx context.Context) ([]string, error) {
	today := c.now().Format(time.DateOnly)

	cachedDate, cachedList, readErr := c.readCacheFile()
	if readErr == nil && cachedDate == today {
		metrics.TrackerRefreshTotal.WithLabelValues("cached").Inc()
		return cachedList, nil
	}

	fetched, fetchErr := c.fetch(ctx)
	if fetchErr != nil {
		c.logger.Warn("tracker list fetch failed, serving cached list",
			slog.String("error", fetchErr.Error()),
			slog.Int("cached", len(cachedList)),
		)
		if len(cachedList) > 0 {
			metrics.TrackerRefreshTotal.WithLabelValues("stale").Inc()
		} else {
			metrics.TrackerRefreshTotal.WithLabelValues("empty").Inc()
		}
		return cachedList, readErr
	}

	if writeErr := c.writeCacheFile(today, fetched); writeErr != nil {
		c.logger.Warn("tracker cache write failed", slog.String("error", writeErr.Error()))
		metrics.TrackerRefreshTotal.WithLabelValues("fetched").Inc()
		return fetched, writeErr
	}

	metrics.TrackerRefreshTotal.WithLabelValues("fetched").Inc()
	return fetched, readErr
}

// readCacheFile returns the stored date stamp and tracker list. A missing
// file is a plain cache miss (nil error); any other failure is surfaced.
func (c *Cache) readCacheFile() (string, []string, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("read tracker cache: %w", err)
	}

	// Line 1 is the date stamp, the rest is one tracker URL per line.
	lines := strings.Fields(string(data))
	if len(lines) == 0 {
		return "", nil, nil
	}
	return lines[0], lines[1:], nil
}

func (c *Cache) writeCacheFile(date string, trackers []string) error {
	content := date + "\n" + strings.Join(trackers, "\n") + "\n"
	return os.WriteFile(c.path, []byte(content), 0o644)
}

func (c *Cache) fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.listURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tracker list fetch: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return strings.Fields(string(body)), nil
}
