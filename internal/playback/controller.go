package playback

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/edu292/stremtui/internal/domain"
	"github.com/edu292/stremtui/internal/domain/ports"
	"github.com/edu292/stremtui/internal/metrics"
)

const (
	defaultBufferThreshold = 50 << 20
	defaultPollInterval    = 500 * time.Millisecond
	// bufferLinkName is the fixed stem of the buffer path handed to the
	// player; the selected file's extension is appended so the player can
	// sniff the container format from the name.
	bufferLinkName = "stream_buffer"

	historyWriteTimeout = 5 * time.Second
)

// TrackerSource supplies the bootstrap tracker list merged into every
// registered transfer.
type TrackerSource interface {
	Trackers(ctx context.Context) ([]string, error)
}

type Config struct {
	// BufferDir is where the playback buffer link is created.
	BufferDir string
	// BufferThreshold is how many leading bytes of the selected file must be
	// on disk before the player launches. Capped at the file's length so
	// short files still play.
	BufferThreshold int64
	// PollInterval paces the metadata and buffer polling loops.
	PollInterval time.Duration
}

// Controller drives one stream from registration through playback to
// cleanup. At most one session is active at a time; a second Play while one
// is running fails with ErrPlaybackBusy instead of queueing.
type Controller struct {
	engine   ports.Engine
	player   ports.Player
	trackers TrackerSource
	history  ports.WatchHistory // nil disables recording
	cfg      Config
	logger   *slog.Logger

	// onProgress, when set, receives every poll tick's snapshot.
	onProgress func(domain.ProgressUpdate)

	mu     sync.Mutex
	active *job
}

type job struct {
	itemID string
	stream domain.Stream
	cancel context.CancelFunc

	phaseMu sync.Mutex
	phase   domain.PlaybackPhase

	transfer  ports.Transfer
	fileIndex int
	linkPath  string

	cleanupOnce sync.Once
}

func NewController(engine ports.Engine, player ports.Player, trackers TrackerSource, history ports.WatchHistory, cfg Config, logger *slog.Logger, onProgress func(domain.ProgressUpdate)) *Controller {
	if cfg.BufferThreshold <= 0 {
		cfg.BufferThreshold = defaultBufferThreshold
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		engine:     engine,
		player:     player,
		trackers:   trackers,
		history:    history,
		cfg:        cfg,
		logger:     logger,
		onProgress: onProgress,
	}
}

// Play runs the full session synchronously: register the stream with the
// engine, wait for metadata, select the file, buffer its head, hand the
// buffer path to the player and block until the player exits. Cleanup runs
// on every exit path.
func (c *Controller) Play(ctx context.Context, itemID string, stream domain.Stream) error {
	ctx, j, err := c.begin(ctx, itemID, stream)
	if err != nil {
		return err
	}
	return c.finish(ctx, j)
}

// Start acquires the session lease and runs the session in the background.
// It returns ErrPlaybackBusy immediately when a session is already active;
// the session itself is stopped via Stop.
func (c *Controller) Start(itemID string, stream domain.Stream) error {
	ctx, j, err := c.begin(context.Background(), itemID, stream)
	if err != nil {
		return err
	}
	go func() {
		if err := c.finish(ctx, j); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("playback session failed",
				slog.String("itemId", j.itemID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return nil
}

func (c *Controller) begin(ctx context.Context, itemID string, stream domain.Stream) (context.Context, *job, error) {
	if err := stream.Validate(); err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	j := &job{itemID: itemID, stream: stream, cancel: cancel, phase: domain.PhaseRegistering}

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		cancel()
		return nil, nil, domain.ErrPlaybackBusy
	}
	c.active = j
	c.mu.Unlock()
	return ctx, j, nil
}

func (c *Controller) finish(ctx context.Context, j *job) error {
	startedAt := time.Now().UTC()
	err := c.run(ctx, j)
	c.cleanup(j)

	c.mu.Lock()
	c.active = nil
	c.mu.Unlock()
	j.cancel()

	c.recordHistory(j, startedAt, err)

	switch {
	case err == nil:
		metrics.PlaybackSessionsTotal.WithLabelValues("completed").Inc()
	case errors.Is(err, context.Canceled):
		metrics.PlaybackSessionsTotal.WithLabelValues("canceled").Inc()
	default:
		metrics.PlaybackSessionsTotal.WithLabelValues("failed").Inc()
	}
	return err
}

// Stop cancels the active session, if any. The session's own Play call
// observes the cancellation and tears everything down.
func (c *Controller) Stop() {
	c.mu.Lock()
	j := c.active
	c.mu.Unlock()
	if j != nil {
		j.cancel()
	}
}

// Phase returns the active session's phase, or false when idle.
func (c *Controller) Phase() (domain.PlaybackPhase, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return "", false
	}
	return c.active.currentPhase(), true
}

func (j *job) currentPhase() domain.PlaybackPhase {
	j.phaseMu.Lock()
	defer j.phaseMu.Unlock()
	return j.phase
}

func (c *Controller) run(ctx context.Context, j *job) error {
	c.emit(j)

	bootstrap, err := c.trackers.Trackers(ctx)
	if err != nil {
		// The tracker cache degrades to a best-effort list; playback can
		// proceed on DHT alone.
		c.logger.Warn("tracker list degraded", slog.String("error", err.Error()))
	}

	transfer, err := c.engine.Register(ctx, j.stream, bootstrap)
	if err != nil {
		return err
	}
	j.transfer = transfer

	if err := c.setPhase(j, domain.PhaseResolvingMetadata); err != nil {
		return err
	}
	for !transfer.MetadataReady() {
		c.emit(j)
		if err := sleepCtx(ctx, c.cfg.PollInterval); err != nil {
			return err
		}
	}

	if err := c.setPhase(j, domain.PhaseSelectingFile); err != nil {
		return err
	}
	file, err := selectFile(transfer.Files(), j.stream)
	if err != nil {
		return err
	}
	j.fileIndex = file.Index

	if err := transfer.Prioritize(file.Index); err != nil {
		return err
	}
	linkPath, err := c.linkBuffer(transfer, file)
	if err != nil {
		return err
	}
	j.linkPath = linkPath
	transfer.StartRetrieval(file.Index)

	if err := c.setPhase(j, domain.PhaseBuffering); err != nil {
		return err
	}
	threshold := c.cfg.BufferThreshold
	if file.Length < threshold {
		threshold = file.Length
	}
	for {
		buffered := transfer.BufferedBytes(file.Index)
		c.emitBuffering(j, buffered, threshold, file.Length)
		if buffered >= threshold {
			break
		}
		transfer.FocusWindow(file.Index, buffered)
		if err := sleepCtx(ctx, c.cfg.PollInterval); err != nil {
			return err
		}
	}

	if err := c.setPhase(j, domain.PhasePlaying); err != nil {
		return err
	}
	c.emit(j)
	c.logger.Info("launching player",
		slog.String("itemId", j.itemID),
		slog.String("infoHash", j.stream.InfoHash),
		slog.String("path", linkPath),
	)
	if err := c.player.Play(ctx, linkPath); err != nil {
		return fmt.Errorf("player: %w", err)
	}
	return nil
}

// cleanup tears down whatever the session built up. It is unconditional and
// idempotent: every exit path of Play funnels through it exactly once.
func (c *Controller) cleanup(j *job) {
	j.cleanupOnce.Do(func() {
		if err := c.setPhase(j, domain.PhaseCleanup); err != nil {
			c.logger.Error("cleanup transition rejected",
				slog.String("phase", string(j.currentPhase())),
				slog.String("error", err.Error()),
			)
		}
		c.emit(j)

		if j.linkPath != "" {
			if err := os.Remove(j.linkPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				c.logger.Warn("buffer link removal failed",
					slog.String("path", j.linkPath),
					slog.String("error", err.Error()),
				)
			}
		}
		if j.transfer != nil {
			j.transfer.Drop()
		}
		metrics.BufferedBytes.Set(0)
		metrics.PeersConnected.Set(0)

		if err := c.setPhase(j, domain.PhaseDone); err != nil {
			c.logger.Error("done transition rejected", slog.String("error", err.Error()))
		}
		c.emit(j)
	})
}

func (c *Controller) recordHistory(j *job, startedAt time.Time, runErr error) {
	if c.history == nil || j.transfer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	record := domain.WatchRecord{
		ItemID:      j.itemID,
		StreamTitle: j.stream.Title,
		InfoHash:    j.stream.InfoHash,
		StartedAt:   startedAt,
		EndedAt:     time.Now().UTC(),
		Completed:   runErr == nil,
	}
	if err := c.history.Record(ctx, record); err != nil {
		c.logger.Warn("watch history write failed", slog.String("error", err.Error()))
	}
}

// linkBuffer exposes the in-transfer file under a stable path in BufferDir.
// A symlink keeps the engine writing to its own data directory while the
// player sees a fixed location; a stale link from a crashed session is
// replaced.
func (c *Controller) linkBuffer(transfer ports.Transfer, file domain.FileRef) (string, error) {
	target, err := transfer.FilePath(file.Index)
	if err != nil {
		return "", err
	}
	linkPath := filepath.Join(c.cfg.BufferDir, bufferLinkName+filepath.Ext(file.Path))
	if err := os.Remove(linkPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("remove stale buffer link: %w", err)
	}
	if err := os.Symlink(target, linkPath); err != nil {
		return "", fmt.Errorf("create buffer link: %w", err)
	}
	return linkPath, nil
}

func (c *Controller) setPhase(j *job, to domain.PlaybackPhase) error {
	j.phaseMu.Lock()
	defer j.phaseMu.Unlock()
	if !domain.CanTransitionPhase(j.phase, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, j.phase, to)
	}
	j.phase = to
	return nil
}

func (c *Controller) emit(j *job) {
	peers := 0
	if j.transfer != nil {
		peers = j.transfer.Peers()
	}
	metrics.PeersConnected.Set(float64(peers))
	if c.onProgress != nil {
		c.onProgress(domain.ProgressUpdate{Phase: j.currentPhase(), Peers: peers})
	}
}

func (c *Controller) emitBuffering(j *job, buffered, threshold, fileLength int64) {
	peers := j.transfer.Peers()
	metrics.PeersConnected.Set(float64(peers))
	metrics.BufferedBytes.Set(float64(buffered))
	if c.onProgress != nil {
		c.onProgress(domain.ProgressUpdate{
			Phase:          j.currentPhase(),
			Peers:          peers,
			BufferedBytes:  buffered,
			ThresholdBytes: threshold,
			FileLength:     fileLength,
		})
	}
}

// selectFile resolves the stream's filename hint against the transfer's file
// list. A hint that matches nothing is a hard error so no retrieval starts
// for the wrong file; without a hint the stream's file index is trusted.
func selectFile(files []domain.FileRef, stream domain.Stream) (domain.FileRef, error) {
	if stream.Filename != "" {
		for _, f := range files {
			if filepath.Base(f.Path) == stream.Filename {
				return f, nil
			}
		}
		return domain.FileRef{}, fmt.Errorf("%w: %q", domain.ErrFileNotFound, stream.Filename)
	}
	if stream.FileIndex < 0 || stream.FileIndex >= len(files) {
		return domain.FileRef{}, fmt.Errorf("%w: index %d", domain.ErrFileNotFound, stream.FileIndex)
	}
	return files[stream.FileIndex], nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
