package importer

import (
	"context"
	"errors"
	"time"
)

// ErrContentUnavailable is returned when the source post cannot be fetched:
// deleted, private, or rejected by the upstream.
var ErrContentUnavailable = errors.New("content unavailable")

// PostMetadata describes the fetched post.
type PostMetadata struct {
	ID            string
	OwnerUsername string
	Description   string
	TakenAt       *time.Time
}

// Media is one media file of a fetched post.
type Media struct {
	SourceURL string
	Width     int
	Height    int
	IsPrimary bool
}

// Importer fetches an external post by shortcode.
type Importer interface {
	Fetch(ctx context.Context, shortcode string) (PostMetadata, []Media, error)
}
