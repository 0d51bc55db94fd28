package domain

import (
	"fmt"
	"time"
)

// Metadata is the full detail record for one catalog entry. Seasons is nil for
// movies.
type Metadata struct {
	ID         string      `json:"id"`
	Type       ContentType `json:"type"`
	Name       string      `json:"name"`
	Year       string      `json:"year,omitempty"`
	Runtime    string      `json:"runtime,omitempty"`
	Cast       []string    `json:"cast,omitempty"`
	ImdbRating string      `json:"imdbRating,omitempty"`
	Summary    string      `json:"summary,omitempty"`
	Logo       string      `json:"logo,omitempty"`
	Seasons    *Seasons    `json:"seasons,omitempty"`
}

// Episode is one video within a season bucket. Coordinate is the
// "season:episode" identity string used to build stream lookup ids.
type Episode struct {
	Coordinate string    `json:"coordinate"`
	Name       string    `json:"name"`
	Overview   string    `json:"overview,omitempty"`
	Thumbnail  string    `json:"thumbnail,omitempty"`
	Released   time.Time `json:"released,omitempty"`
}

// Video is a flat upstream video record before grouping into Seasons.
type Video struct {
	Season    int
	Episode   int
	Name      string
	Overview  string
	Thumbnail string
	Released  time.Time
}

// Seasons groups a series' episodes into numbered buckets plus a separate
// specials bucket. Numbered is contiguous from season 0: a gap in the source
// data yields an empty bucket, never a shifted index.
type Seasons struct {
	Specials []Episode   `json:"specials,omitempty"`
	Numbered [][]Episode `json:"numbered"`
}

// HasSpecials reports whether the specials bucket is populated.
func (s *Seasons) HasSpecials() bool {
	return s != nil && len(s.Specials) > 0
}

// Len returns the number of numbered season buckets.
func (s *Seasons) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Numbered)
}

// Season returns the episodes of a numbered season bucket.
func (s *Seasons) Season(number int) ([]Episode, error) {
	if s == nil || number < 0 || number >= len(s.Numbered) {
		return nil, fmt.Errorf("season %d out of range", number)
	}
	return s.Numbered[number], nil
}

// GroupSeasons folds a flat upstream video list into the Seasons structure.
// The upstream catalog uses season -1 as the conventional marker for specials;
// those land in the Specials bucket rather than a negative index. Episodes keep
// their upstream order within each bucket.
func GroupSeasons(videos []Video) *Seasons {
	grouped := &Seasons{}
	for _, video := range videos {
		episode := Episode{
			Coordinate: fmt.Sprintf("%d:%d", video.Season, video.Episode),
			Name:       video.Name,
			Overview:   video.Overview,
			Thumbnail:  video.Thumbnail,
			Released:   video.Released,
		}
		if video.Season == -1 {
			grouped.Specials = append(grouped.Specials, episode)
			continue
		}
		for len(grouped.Numbered) <= video.Season {
			grouped.Numbered = append(grouped.Numbered, nil)
		}
		grouped.Numbered[video.Season] = append(grouped.Numbered[video.Season], episode)
	}
	return grouped
}
