package domain

import "time"

// ProgressUpdate is emitted on every poll tick of an active playback session
// so the presentation layer can render peer counts and buffer progress.
type ProgressUpdate struct {
	Phase          PlaybackPhase `json:"phase"`
	Peers          int           `json:"peers"`
	BufferedBytes  int64         `json:"bufferedBytes"`
	ThresholdBytes int64         `json:"thresholdBytes"`
	FileLength     int64         `json:"fileLength,omitempty"`
}

// WatchRecord is one finished (or aborted) playback session, persisted to the
// watch history when a history store is configured.
type WatchRecord struct {
	ItemID      string    `json:"itemId"`
	StreamTitle string    `json:"streamTitle"`
	InfoHash    string    `json:"infoHash"`
	StartedAt   time.Time `json:"startedAt"`
	EndedAt     time.Time `json:"endedAt"`
	Completed   bool      `json:"completed"`
}
