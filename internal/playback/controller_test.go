package playback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edu292/stremtui/internal/domain"
	"github.com/edu292/stremtui/internal/domain/ports"
)

type fakeTransfer struct {
	mu             sync.Mutex
	files          []domain.FileRef
	paths          map[int]string
	buffered       int64
	bufferedStep   int64
	peers          int
	prioritized    []int
	retrievalIndex int
	retrievalCalls int
	focusOffsets   []int64
	// metadataPending keeps MetadataReady false, pinning a session in the
	// metadata polling loop.
	metadataPending atomic.Bool
	dropped         atomic.Bool
}

func (f *fakeTransfer) ID() string          { return "aa00000000000000000000000000000000000000" }
func (f *fakeTransfer) MetadataReady() bool { return !f.metadataPending.Load() }
func (f *fakeTransfer) Peers() int          { return f.peers }
func (f *fakeTransfer) Files() []domain.FileRef {
	return append([]domain.FileRef(nil), f.files...)
}

func (f *fakeTransfer) FilePath(index int) (string, error) {
	path, ok := f.paths[index]
	if !ok {
		return "", domain.ErrFileNotFound
	}
	return path, nil
}

func (f *fakeTransfer) Prioritize(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prioritized = append(f.prioritized, index)
	return nil
}

func (f *fakeTransfer) StartRetrieval(index int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrievalIndex = index
	f.retrievalCalls++
}

func (f *fakeTransfer) FocusWindow(index int, offset int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.focusOffsets = append(f.focusOffsets, offset)
}

// BufferedBytes advances by bufferedStep per call to simulate download
// progress across polling ticks.
func (f *fakeTransfer) BufferedBytes(index int) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	current := f.buffered
	f.buffered += f.bufferedStep
	return current
}

func (f *fakeTransfer) Drop() { f.dropped.Store(true) }

type fakeEngine struct {
	transfer    *fakeTransfer
	registerErr error
	gotTrackers []string
}

func (e *fakeEngine) Register(ctx context.Context, stream domain.Stream, trackers []string) (ports.Transfer, error) {
	e.gotTrackers = trackers
	if e.registerErr != nil {
		return nil, e.registerErr
	}
	return e.transfer, nil
}
func (e *fakeEngine) StateBlob() ([]byte, error) { return nil, nil }
func (e *fakeEngine) SeedState([]byte) error     { return nil }
func (e *fakeEngine) Close() error               { return nil }

type fakePlayer struct {
	mu      sync.Mutex
	path    string
	playErr error
	block   chan struct{} // when non-nil, Play blocks until closed or ctx done
	calls   atomic.Int32
}

func (p *fakePlayer) Play(ctx context.Context, path string) error {
	p.calls.Add(1)
	p.mu.Lock()
	p.path = path
	p.mu.Unlock()
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.playErr
}

func (p *fakePlayer) playedPath() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.path
}

type staticTrackers []string

func (s staticTrackers) Trackers(ctx context.Context) ([]string, error) { return s, nil }

type fakeHistory struct {
	mu      sync.Mutex
	records []domain.WatchRecord
}

func (h *fakeHistory) Record(ctx context.Context, record domain.WatchRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, record)
	return nil
}

func (h *fakeHistory) Recent(ctx context.Context, limit int) ([]domain.WatchRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.WatchRecord(nil), h.records...), nil
}

func testStream() domain.Stream {
	return domain.Stream{
		Title:    "Some Movie 1080p",
		InfoHash: "aa00000000000000000000000000000000000000",
		Filename: "movie.mkv",
	}
}

func newTestController(t *testing.T, engine *fakeEngine, player *fakePlayer, history ports.WatchHistory, threshold int64) *Controller {
	t.Helper()
	cfg := Config{
		BufferDir:       t.TempDir(),
		BufferThreshold: threshold,
		PollInterval:    time.Millisecond,
	}
	return NewController(engine, player, staticTrackers{"udp://bootstrap"}, history, cfg, nil, nil)
}

func makeTargetFile(t *testing.T) string {
	t.Helper()
	target := filepath.Join(t.TempDir(), "movie.mkv")
	if err := os.WriteFile(target, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	return target
}

func TestPlayHappyPath(t *testing.T) {
	target := makeTargetFile(t)
	transfer := &fakeTransfer{
		files:        []domain.FileRef{{Index: 0, Path: "dir/movie.mkv", Length: 200}},
		paths:        map[int]string{0: target},
		buffered:     0,
		bufferedStep: 50,
		peers:        3,
	}
	engine := &fakeEngine{transfer: transfer}
	player := &fakePlayer{}
	history := &fakeHistory{}
	c := newTestController(t, engine, player, history, 100)

	if err := c.Play(context.Background(), "tt0133093", testStream()); err != nil {
		t.Fatalf("Play: %v", err)
	}

	if got := player.playedPath(); filepath.Base(got) != "stream_buffer.mkv" {
		t.Fatalf("player path = %q, want stream_buffer.mkv in buffer dir", got)
	}
	if !transfer.dropped.Load() {
		t.Fatal("transfer not dropped after playback")
	}
	if _, err := os.Lstat(player.playedPath()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("buffer link still present after cleanup: %v", err)
	}
	if engine.gotTrackers[0] != "udp://bootstrap" {
		t.Fatalf("bootstrap trackers not passed to engine: %v", engine.gotTrackers)
	}
	if len(history.records) != 1 || !history.records[0].Completed {
		t.Fatalf("history = %+v, want one completed record", history.records)
	}
}

func TestPlayBufferGateIsBoundaryInclusive(t *testing.T) {
	target := makeTargetFile(t)
	// Buffered bytes land exactly on the threshold, never above it.
	transfer := &fakeTransfer{
		files:    []domain.FileRef{{Index: 0, Path: "movie.mkv", Length: 1000}},
		paths:    map[int]string{0: target},
		buffered: 100,
	}
	c := newTestController(t, &fakeEngine{transfer: transfer}, &fakePlayer{}, nil, 100)

	if err := c.Play(context.Background(), "tt1", testStream()); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if transfer.retrievalCalls != 1 {
		t.Fatalf("StartRetrieval calls = %d, want 1", transfer.retrievalCalls)
	}
}

func TestPlayCapsThresholdAtFileLength(t *testing.T) {
	target := makeTargetFile(t)
	// The file is smaller than the configured threshold; once it is fully
	// buffered the gate must open.
	transfer := &fakeTransfer{
		files:    []domain.FileRef{{Index: 0, Path: "movie.mkv", Length: 40}},
		paths:    map[int]string{0: target},
		buffered: 40,
	}
	player := &fakePlayer{}
	c := newTestController(t, &fakeEngine{transfer: transfer}, player, nil, 100)

	if err := c.Play(context.Background(), "tt1", testStream()); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if player.calls.Load() != 1 {
		t.Fatal("player never launched for a file smaller than the threshold")
	}
}

func TestPlayFilenameMismatch(t *testing.T) {
	transfer := &fakeTransfer{
		files: []domain.FileRef{{Index: 0, Path: "other.mkv", Length: 1000}},
		paths: map[int]string{0: "unused"},
	}
	player := &fakePlayer{}
	c := newTestController(t, &fakeEngine{transfer: transfer}, player, nil, 100)

	err := c.Play(context.Background(), "tt1", testStream())
	if !errors.Is(err, domain.ErrFileNotFound) {
		t.Fatalf("err = %v, want ErrFileNotFound", err)
	}
	if transfer.retrievalCalls != 0 {
		t.Fatal("retrieval started despite missing file")
	}
	if len(transfer.prioritized) != 0 {
		t.Fatal("priorities changed despite missing file")
	}
	if !transfer.dropped.Load() {
		t.Fatal("transfer not dropped after failed selection")
	}
}

func TestPlayRejectsConcurrentSession(t *testing.T) {
	target := makeTargetFile(t)
	block := make(chan struct{})
	transfer := &fakeTransfer{
		files:    []domain.FileRef{{Index: 0, Path: "movie.mkv", Length: 100}},
		paths:    map[int]string{0: target},
		buffered: 100,
	}
	player := &fakePlayer{block: block}
	c := newTestController(t, &fakeEngine{transfer: transfer}, player, nil, 100)

	done := make(chan error, 1)
	go func() { done <- c.Play(context.Background(), "tt1", testStream()) }()

	// Wait until the first session reaches the player.
	for player.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	if err := c.Play(context.Background(), "tt2", testStream()); !errors.Is(err, domain.ErrPlaybackBusy) {
		t.Fatalf("second Play = %v, want ErrPlaybackBusy", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first Play: %v", err)
	}
}

func TestStopCancelsActiveSession(t *testing.T) {
	target := makeTargetFile(t)
	// Buffered bytes never reach the threshold, so the session sits in the
	// buffering loop until Stop cancels it.
	transfer := &fakeTransfer{
		files:    []domain.FileRef{{Index: 0, Path: "movie.mkv", Length: 1000}},
		paths:    map[int]string{0: target},
		buffered: 10,
	}
	c := newTestController(t, &fakeEngine{transfer: transfer}, &fakePlayer{}, nil, 100)

	done := make(chan error, 1)
	go func() { done <- c.Play(context.Background(), "tt1", testStream()) }()

	for {
		if phase, ok := c.Phase(); ok && phase == domain.PhaseBuffering {
			break
		}
		time.Sleep(time.Millisecond)
	}
	c.Stop()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Play = %v, want context.Canceled", err)
	}
	if !transfer.dropped.Load() {
		t.Fatal("transfer not dropped after cancellation")
	}
}

func TestStopDuringMetadataResolution(t *testing.T) {
	// Metadata never resolves, so no file is selected and no bytes are
	// fetched before the user aborts. The transfer must still be torn down.
	transfer := &fakeTransfer{}
	transfer.metadataPending.Store(true)
	player := &fakePlayer{}
	c := newTestController(t, &fakeEngine{transfer: transfer}, player, nil, 100)

	done := make(chan error, 1)
	go func() { done <- c.Play(context.Background(), "tt1", testStream()) }()

	for {
		if phase, ok := c.Phase(); ok && phase == domain.PhaseResolvingMetadata {
			break
		}
		time.Sleep(time.Millisecond)
	}
	c.Stop()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Play = %v, want context.Canceled", err)
	}
	if !transfer.dropped.Load() {
		t.Fatal("transfer not dropped after abort during metadata resolution")
	}
	if player.calls.Load() != 0 {
		t.Fatal("player launched for a session aborted before file selection")
	}
	if got := transfer.retrievalCalls; got != 0 {
		t.Fatalf("retrieval started %d times for an aborted session, want 0", got)
	}
}

func TestPlayerFailureStillCleansUp(t *testing.T) {
	target := makeTargetFile(t)
	transfer := &fakeTransfer{
		files:    []domain.FileRef{{Index: 0, Path: "movie.mkv", Length: 100}},
		paths:    map[int]string{0: target},
		buffered: 100,
	}
	player := &fakePlayer{playErr: errors.New("player crashed")}
	history := &fakeHistory{}
	c := newTestController(t, &fakeEngine{transfer: transfer}, player, history, 100)

	err := c.Play(context.Background(), "tt1", testStream())
	if err == nil {
		t.Fatal("expected player error")
	}
	if !transfer.dropped.Load() {
		t.Fatal("transfer not dropped after player failure")
	}
	if len(history.records) != 1 || history.records[0].Completed {
		t.Fatalf("history = %+v, want one incomplete record", history.records)
	}
}

func TestSelectFileByIndexWithoutHint(t *testing.T) {
	files := []domain.FileRef{
		{Index: 0, Path: "sample.mkv"},
		{Index: 1, Path: "movie.mkv"},
	}
	stream := domain.Stream{InfoHash: "aa", FileIndex: 1}

	got, err := selectFile(files, stream)
	if err != nil {
		t.Fatalf("selectFile: %v", err)
	}
	if got.Index != 1 {
		t.Fatalf("selected index %d, want 1", got.Index)
	}

	stream.FileIndex = 5
	if _, err := selectFile(files, stream); !errors.Is(err, domain.ErrFileNotFound) {
		t.Fatalf("out-of-range index: err = %v, want ErrFileNotFound", err)
	}
}
