package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/edu292/stremtui/internal/domain"
)

// Target identifies what streams are being looked up for: a movie id, or an
// episode id of the form "imdbId:season:episode".
type Target struct {
	Type   domain.ContentType
	ItemID string
}

// Provider is one independent stream source endpoint.
type Provider interface {
	Name() string
	Streams(ctx context.Context, target Target) ([]domain.Stream, error)
}

// HTTPProvider queries a torrentio-compatible stream addon.
type HTTPProvider struct {
	name    string
	baseURL string
	http    *http.Client
}

func NewHTTPProvider(name, baseURL string, httpClient *http.Client) *HTTPProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPProvider{name: name, baseURL: baseURL, http: httpClient}
}

func (p *HTTPProvider) Name() string { return p.name }

type streamPayload struct {
	Title         string   `json:"title"`
	InfoHash      string   `json:"infoHash"`
	FileIdx       int      `json:"fileIdx"`
	Sources       []string `json:"sources"`
	BehaviorHints struct {
		Filename string `json:"filename"`
	} `json:"behaviorHints"`
}

type streamsResponse struct {
	Streams []streamPayload `json:"streams"`
}

func (p *HTTPProvider) Streams(ctx context.Context, target Target) ([]domain.Stream, error) {
	endpoint := fmt.Sprintf("%s/stream/%s/%s.json", p.baseURL, target.Type, url.PathEscape(target.ItemID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("stream lookup %s: unexpected status %d", endpoint, resp.StatusCode)
	}

	var payload streamsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformed, err)
	}

	streams := make([]domain.Stream, 0, len(payload.Streams))
	for _, raw := range payload.Streams {
		stream := domain.Stream{
			Title:     raw.Title,
			InfoHash:  raw.InfoHash,
			FileIndex: raw.FileIdx,
			Sources:   domain.NormalizeSources(raw.Sources),
			Filename:  raw.BehaviorHints.Filename,
		}
		if stream.Validate() != nil {
			continue
		}
		streams = append(streams, stream)
	}
	return streams, nil
}
