package domain

import (
	"errors"
	"strings"
)

// Stream is one candidate peer-to-peer transfer source for an entry or
// episode.
type Stream struct {
	Title     string   `json:"title"`
	InfoHash  string   `json:"infoHash"`
	FileIndex int      `json:"fileIdx"`
	Sources   []string `json:"sources,omitempty"`
	Filename  string   `json:"filename,omitempty"`
}

// MagnetLink derives the magnet reference from the info hash. It is computed
// on demand and never stored.
func (s Stream) MagnetLink() string {
	return "magnet:?xt=urn:btih:" + s.InfoHash
}

// Validate checks the fields the download controller relies on.
func (s Stream) Validate() error {
	if s.InfoHash == "" {
		return errors.New("stream info hash is required")
	}
	return nil
}

// NormalizeSources classifies a stream's raw source list. Entries prefixed
// "tracker:" contribute a tracker URL with the prefix stripped, "dht:" entries
// are peer hints the engine discovers on its own and are dropped, everything
// else passes through untouched.
func NormalizeSources(sources []string) []string {
	normalized := make([]string, 0, len(sources))
	for _, source := range sources {
		switch {
		case strings.HasPrefix(source, "tracker:"):
			normalized = append(normalized, strings.TrimPrefix(source, "tracker:"))
		case strings.HasPrefix(source, "dht:"):
			// handled by the engine's own DHT bootstrap
		default:
			normalized = append(normalized, source)
		}
	}
	return normalized
}

// MergeTrackers combines the process-wide bootstrap tracker list with a
// stream's own normalized sources, dropping duplicates while keeping order.
func MergeTrackers(bootstrap, sources []string) []string {
	merged := make([]string, 0, len(bootstrap)+len(sources))
	seen := make(map[string]struct{}, len(bootstrap)+len(sources))
	for _, list := range [][]string{bootstrap, sources} {
		for _, tracker := range list {
			if tracker == "" {
				continue
			}
			if _, ok := seen[tracker]; ok {
				continue
			}
			seen[tracker] = struct{}{}
			merged = append(merged, tracker)
		}
	}
	return merged
}
