package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/edu292/stremtui/internal/domain"
	"github.com/edu292/stremtui/internal/metrics"
)

// maxConcurrentLookups caps concurrent catalog requests so a long content-type
// list cannot flood the upstream API.
const maxConcurrentLookups = 4

// Result is one delivered element of a catalog search: the entries of a single
// content type, or the error that content type's request failed with. Exactly
// one Result per configured content type is delivered, in arrival order.
type Result struct {
	Type    domain.ContentType
	Entries []domain.Entry
	Err     error
}

// Aggregator fans a search query out to every configured content type
// concurrently and delivers each type's result as it arrives, so the consumer
// can render incrementally instead of waiting for the slowest endpoint.
type Aggregator struct {
	client  *Client
	types   []domain.ContentType
	timeout time.Duration
	logger  *slog.Logger
}

func NewAggregator(client *Client, types []domain.ContentType, timeout time.Duration, logger *slog.Logger) *Aggregator {
	if len(types) == 0 {
		types = domain.ContentTypes
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{client: client, types: types, timeout: timeout, logger: logger}
}

// Search launches the fan-out and returns a finite channel: one Result per
// content type, closed after all have responded or failed. A failure in one
// content type never blocks or cancels the others.
func (a *Aggregator) Search(ctx context.Context, query string) <-chan Result {
	out := make(chan Result, len(a.types))

	go func() {
		defer close(out)

		runCtx := ctx
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, a.timeout)
			defer cancel()
		}

		sem := semaphore.NewWeighted(maxConcurrentLookups)
		var wg sync.WaitGroup
		for _, contentType := range a.types {
			wg.Add(1)
			go func(ct domain.ContentType) {
				defer wg.Done()

				if err := sem.Acquire(runCtx, 1); err != nil {
					deliver(runCtx, out, Result{Type: ct, Err: err})
					return
				}
				defer sem.Release(1)

				startedAt := time.Now()
				entries, err := a.client.Search(runCtx, ct, query)
				if err != nil {
					a.logger.Warn("catalog search failed",
						slog.String("contentType", string(ct)),
						slog.String("query", query),
						slog.String("error", err.Error()),
					)
					metrics.CatalogRequestsTotal.WithLabelValues(string(ct), "error").Inc()
					deliver(runCtx, out, Result{Type: ct, Err: err})
					return
				}
				a.logger.Debug("catalog search completed",
					slog.String("contentType", string(ct)),
					slog.Int("entries", len(entries)),
					slog.Int64("elapsedMs", time.Since(startedAt).Milliseconds()),
				)
				metrics.CatalogRequestsTotal.WithLabelValues(string(ct), "ok").Inc()
				deliver(runCtx, out, Result{Type: ct, Entries: entries})
			}(contentType)
		}
		wg.Wait()
	}()

	return out
}

// deliver sends without blocking forever: a cancelled consumer stops the
// delivery, never the sibling requests.
func deliver(ctx context.Context, out chan<- Result, result Result) {
	select {
	case out <- result:
	case <-ctx.Done():
	}
}
