package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// InstagramImporter fetches post metadata from the Instagram web endpoint.
type InstagramImporter struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	logger     *slog.Logger
}

// NewInstagramImporter builds an importer with the given fetch timeout.
func NewInstagramImporter(timeout time.Duration, logger *slog.Logger) *InstagramImporter {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &InstagramImporter{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    "https://www.instagram.com",
		userAgent:  "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36",
		logger:     logger,
	}
}

// NewInstagramImporterWithBase overrides the endpoint base URL. Used by
// tests pointing at an httptest server.
func NewInstagramImporterWithBase(baseURL string, timeout time.Duration, logger *slog.Logger) *InstagramImporter {
	imp := NewInstagramImporter(timeout, logger)
	imp.baseURL = baseURL
	return imp
}

// Wire shapes of the web endpoint response, reduced to the fields we keep.
type igResponse struct {
	Items []igItem `json:"items"`
}

type igItem struct {
	Code          string         `json:"code"`
	TakenAt       int64          `json:"taken_at"`
	Caption       *igCaption     `json:"caption"`
	User          igUser         `json:"user"`
	ImageVersions igImageHolder  `json:"image_versions2"`
	CarouselMedia []igCarouselEl `json:"carousel_media"`
}

type igCaption struct {
	Text string `json:"text"`
}

type igUser struct {
	Username string `json:"username"`
}

type igImageHolder struct {
	Candidates []igCandidate `json:"candidates"`
}

type igCandidate struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type igCarouselEl struct {
	ImageVersions igImageHolder `json:"image_versions2"`
}

// Fetch retrieves one post. A 404 or an empty item list maps to
// ErrContentUnavailable.
func (imp *InstagramImporter) Fetch(ctx context.Context, shortcode string) (PostMetadata, []Media, error) {
	url := fmt.Sprintf("%s/p/%s/?__a=1&__d=dis", imp.baseURL, shortcode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return PostMetadata{}, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", imp.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := imp.httpClient.Do(req)
	if err != nil {
		return PostMetadata{}, nil, fmt.Errorf("fetch post %s: %w", shortcode, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden {
		return PostMetadata{}, nil, fmt.Errorf("post %s: %w", shortcode, ErrContentUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return PostMetadata{}, nil, fmt.Errorf("fetch post %s: status %d", shortcode, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return PostMetadata{}, nil, fmt.Errorf("read response: %w", err)
	}

	var decoded igResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return PostMetadata{}, nil, fmt.Errorf("decode response for %s: %w", shortcode, err)
	}
	if len(decoded.Items) == 0 {
		return PostMetadata{}, nil, fmt.Errorf("post %s: %w", shortcode, ErrContentUnavailable)
	}
	item := decoded.Items[0]

	meta := PostMetadata{
		ID:            shortcode,
		OwnerUsername: item.User.Username,
	}
	if item.Code != "" {
		meta.ID = item.Code
	}
	if item.Caption != nil {
		meta.Description = item.Caption.Text
	}
	if item.TakenAt > 0 {
		t := time.Unix(item.TakenAt, 0).UTC()
		meta.TakenAt = &t
	}

	media := collectMedia(item)
	if len(media) == 0 {
		return PostMetadata{}, nil, fmt.Errorf("post %s has no media: %w", shortcode, ErrContentUnavailable)
	}

	imp.logger.Debug("fetched post", "shortcode", meta.ID, "media", len(media))
	return meta, media, nil
}

// collectMedia picks the best-resolution candidate per media element. The
// first element of a carousel (or the single image) is the primary one.
func collectMedia(item igItem) []Media {
	var media []Media
	if len(item.CarouselMedia) > 0 {
		for i, el := range item.CarouselMedia {
			if c, ok := bestCandidate(el.ImageVersions); ok {
				media = append(media, Media{SourceURL: c.URL, Width: c.Width, Height: c.Height, IsPrimary: i == 0})
			}
		}
		return media
	}
	if c, ok := bestCandidate(item.ImageVersions); ok {
		media = append(media, Media{SourceURL: c.URL, Width: c.Width, Height: c.Height, IsPrimary: true})
	}
	return media
}

func bestCandidate(h igImageHolder) (igCandidate, bool) {
	var best igCandidate
	for _, c := range h.Candidates {
		if c.URL == "" {
			continue
		}
		if c.Width*c.Height > best.Width*best.Height {
			best = c
		}
	}
	return best, best.URL != ""
}
