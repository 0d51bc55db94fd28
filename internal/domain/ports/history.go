package ports

import (
	"context"

	"github.com/edu292/stremtui/internal/domain"
)

// WatchHistory persists finished playback sessions. Optional: a nil history
// disables recording.
type WatchHistory interface {
	Record(ctx context.Context, record domain.WatchRecord) error
	Recent(ctx context.Context, limit int) ([]domain.WatchRecord, error)
}
