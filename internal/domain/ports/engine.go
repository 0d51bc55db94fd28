package ports

import (
	"context"

	"github.com/edu292/stremtui/internal/domain"
)

// Engine abstracts the torrent engine. One Engine is created at process start
// and shared by every playback session.
type Engine interface {
	// Register hands the engine a transfer descriptor built from the stream's
	// magnet reference and the merged tracker list. The transfer starts with
	// retrieval suppressed until a file has been selected.
	Register(ctx context.Context, stream domain.Stream, trackers []string) (Transfer, error)
	// StateBlob serializes the engine's accumulated peer/DHT knowledge for
	// persistence across runs. The blob is opaque to callers.
	StateBlob() ([]byte, error)
	// SeedState restores knowledge captured by a previous run's StateBlob.
	SeedState(blob []byte) error
	Close() error
}

// Transfer is one registered torrent within the engine.
type Transfer interface {
	ID() string
	// MetadataReady reports whether the transfer's file list is available yet.
	MetadataReady() bool
	Peers() int
	Files() []domain.FileRef
	// FilePath returns the absolute on-disk path of a file within the
	// transfer.
	FilePath(index int) (string, error)
	// Prioritize marks one file wanted and every other file unwanted.
	Prioritize(index int) error
	// StartRetrieval releases the registration-time suppression so pieces of
	// the selected file are actually fetched, front-loaded for sequential
	// playback.
	StartRetrieval(index int)
	// FocusWindow re-prioritizes retrieval around the given file offset so
	// the data directly ahead of the playback position arrives first.
	FocusWindow(index int, offset int64)
	BufferedBytes(index int) int64
	// Drop removes the transfer from the engine, discarding downloaded data.
	// Dropping an already-dropped transfer is a no-op.
	Drop()
}
