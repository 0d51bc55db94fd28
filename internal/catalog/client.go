package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/edu292/stremtui/internal/domain"
)

// Client talks to a Cinemeta-compatible catalog/metadata API. The HTTP client
// is shared and long-lived; the caller owns its lifecycle.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

type entryPayload struct {
	ID     string `json:"id"`
	ImdbID string `json:"imdb_id"`
	Type   string `json:"type"`
	Name   string `json:"name"`
	Poster string `json:"poster"`
}

type searchResponse struct {
	Metas []entryPayload `json:"metas"`
}

type videoPayload struct {
	Season    int    `json:"season"`
	Episode   int    `json:"episode"`
	Name      string `json:"name"`
	Overview  string `json:"overview"`
	Thumbnail string `json:"thumbnail"`
	Released  string `json:"released"`
}

type metaPayload struct {
	ID         string         `json:"id"`
	ImdbID     string         `json:"imdb_id"`
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Year       string         `json:"year"`
	Runtime    string         `json:"runtime"`
	Cast       []string       `json:"cast"`
	ImdbRating string         `json:"imdb_rating"`
	Summary    string         `json:"description"`
	Logo       string         `json:"logo"`
	Videos     []videoPayload `json:"videos"`
}

type metaResponse struct {
	Meta *metaPayload `json:"meta"`
}

// Search queries one content type's search catalog.
func (c *Client) Search(ctx context.Context, contentType domain.ContentType, query string) ([]domain.Entry, error) {
	endpoint := fmt.Sprintf("%s/catalog/%s/top/search=%s.json", c.baseURL, contentType, url.PathEscape(query))

	var payload searchResponse
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}

	entries := make([]domain.Entry, 0, len(payload.Metas))
	for _, meta := range payload.Metas {
		entry := domain.Entry{
			ID:     firstNonEmpty(meta.ImdbID, meta.ID),
			Type:   domain.ContentType(meta.Type),
			Name:   meta.Name,
			Poster: meta.Poster,
		}
		if entry.Type == "" {
			entry.Type = contentType
		}
		if err := entry.Validate(); err != nil {
			// One bad record must not poison the whole result set.
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Metadata fetches and normalizes one entry's detail record. A missing
// upstream record yields domain.ErrNotFound; a record without the fields the
// rest of the system needs yields domain.ErrMalformed. Both are terminal for
// this lookup.
func (c *Client) Metadata(ctx context.Context, contentType domain.ContentType, id string) (domain.Metadata, error) {
	endpoint := fmt.Sprintf("%s/meta/%s/%s.json", c.baseURL, contentType, url.PathEscape(id))

	var payload metaResponse
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return domain.Metadata{}, err
	}
	if payload.Meta == nil {
		return domain.Metadata{}, fmt.Errorf("%w: meta %s/%s", domain.ErrNotFound, contentType, id)
	}

	meta := payload.Meta
	result := domain.Metadata{
		ID:         firstNonEmpty(meta.ImdbID, meta.ID),
		Type:       domain.ContentType(meta.Type),
		Name:       meta.Name,
		Year:       meta.Year,
		Runtime:    meta.Runtime,
		Cast:       meta.Cast,
		ImdbRating: meta.ImdbRating,
		Summary:    meta.Summary,
		Logo:       meta.Logo,
	}
	if result.Type == "" {
		result.Type = contentType
	}
	if result.ID == "" || result.Name == "" {
		return domain.Metadata{}, fmt.Errorf("%w: meta %s/%s missing id or name", domain.ErrMalformed, contentType, id)
	}

	if result.Type == domain.ContentSeries {
		videos := make([]domain.Video, 0, len(meta.Videos))
		for _, v := range meta.Videos {
			videos = append(videos, domain.Video{
				Season:    v.Season,
				Episode:   v.Episode,
				Name:      v.Name,
				Overview:  v.Overview,
				Thumbnail: v.Thumbnail,
				Released:  parseReleased(v.Released),
			})
		}
		result.Seasons = domain.GroupSeasons(videos)
	}

	return result, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, endpoint)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("catalog request %s: unexpected status %d", endpoint, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformed, err)
	}
	return nil
}

func parseReleased(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
