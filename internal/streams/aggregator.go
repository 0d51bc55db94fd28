package streams

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/edu292/stremtui/internal/domain"
	"github.com/edu292/stremtui/internal/metrics"
)

const maxConcurrentProviders = 8

// Batch is one provider's delivery for a lookup: its streams or its failure.
type Batch struct {
	Provider string
	Target   Target
	Streams  []domain.Stream
	Err      error
}

// Aggregator fans a stream lookup out to every configured provider and
// delivers batches as providers respond. Lookups are exclusive per target
// identity: starting a lookup for a different identity cancels the in-flight
// one and suppresses its remaining deliveries. Re-invoking for the same
// identity leaves the previous lookup running, so already-delivered batches
// stay valid and new ones append.
type Aggregator struct {
	providers []Provider
	timeout   time.Duration
	logger    *slog.Logger

	mu         sync.Mutex
	generation uint64
	current    Target
	cancel     context.CancelFunc
}

func NewAggregator(providers []Provider, timeout time.Duration, logger *slog.Logger) *Aggregator {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{providers: providers, timeout: timeout, logger: logger}
}

// Lookup starts (or refines) a stream lookup and returns a finite channel of
// batches, one per provider, closed once every provider has responded or
// failed. Per-provider failures are isolated: a failing provider contributes
// an error batch, never aborts its siblings.
func (a *Aggregator) Lookup(ctx context.Context, target Target) <-chan Batch {
	a.mu.Lock()
	if a.cancel != nil && a.current != target {
		// New identity: the old lookup's future deliveries are stale.
		a.cancel()
		a.generation++
	} else if a.cancel == nil {
		a.generation++
	}
	generation := a.generation
	a.current = target
	lookupCtx, cancel := context.WithTimeout(ctx, a.timeout)
	a.cancel = cancel
	a.mu.Unlock()

	out := make(chan Batch, len(a.providers))

	go func() {
		defer close(out)
		defer cancel()

		sem := semaphore.NewWeighted(maxConcurrentProviders)
		var wg sync.WaitGroup
		for _, provider := range a.providers {
			wg.Add(1)
			go func(p Provider) {
				defer wg.Done()

				if err := sem.Acquire(lookupCtx, 1); err != nil {
					return
				}
				defer sem.Release(1)

				startedAt := time.Now()
				found, err := p.Streams(lookupCtx, target)
				elapsed := time.Since(startedAt)
				metrics.StreamProviderDuration.WithLabelValues(p.Name()).Observe(elapsed.Seconds())

				batch := Batch{Provider: p.Name(), Target: target, Streams: found, Err: err}
				if err != nil {
					metrics.StreamProviderRequestsTotal.WithLabelValues(p.Name(), "error").Inc()
					a.logger.Warn("stream provider failed",
						slog.String("provider", p.Name()),
						slog.String("itemId", target.ItemID),
						slog.Int64("elapsedMs", elapsed.Milliseconds()),
						slog.String("error", err.Error()),
					)
				} else {
					metrics.StreamProviderRequestsTotal.WithLabelValues(p.Name(), "ok").Inc()
					a.logger.Debug("stream provider completed",
						slog.String("provider", p.Name()),
						slog.String("itemId", target.ItemID),
						slog.Int("streams", len(found)),
						slog.Int64("elapsedMs", elapsed.Milliseconds()),
					)
				}

				// Delivery boundary: a lookup superseded by a different
				// identity discards its late results here.
				if a.stale(generation) {
					return
				}
				select {
				case out <- batch:
				case <-lookupCtx.Done():
				}
			}(provider)
		}
		wg.Wait()
	}()

	return out
}

// Stop cancels any in-flight lookup. Safe to call with none active.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

func (a *Aggregator) stale(generation uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generation != generation
}
