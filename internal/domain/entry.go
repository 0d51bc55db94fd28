package domain

import "errors"

type ContentType string

const (
	ContentMovie  ContentType = "movie"
	ContentSeries ContentType = "series"
)

// ContentTypes lists the catalog content types in the order they are queried.
var ContentTypes = []ContentType{ContentSeries, ContentMovie}

func ParseContentType(raw string) (ContentType, error) {
	switch ContentType(raw) {
	case ContentMovie:
		return ContentMovie, nil
	case ContentSeries:
		return ContentSeries, nil
	default:
		return "", errors.New("unknown content type: " + raw)
	}
}

// Entry is one catalog search result. Immutable once received.
type Entry struct {
	ID     string      `json:"id"`
	Type   ContentType `json:"type"`
	Name   string      `json:"name"`
	Poster string      `json:"poster,omitempty"`
}

// Validate checks the fields every downstream consumer relies on.
func (e Entry) Validate() error {
	if e.ID == "" {
		return errors.New("entry id is required")
	}
	if e.Name == "" {
		return errors.New("entry name is required")
	}
	if e.Type != ContentMovie && e.Type != ContentSeries {
		return errors.New("invalid entry type: " + string(e.Type))
	}
	return nil
}
