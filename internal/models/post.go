package models

import (
	"time"

	"github.com/google/uuid"
)

// Author is the account an imported post belongs to.
type Author struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Post is a single imported Instagram post, keyed by its shortcode.
type Post struct {
	ID          string     `json:"id"`
	AuthorID    *uuid.UUID `json:"author_id,omitempty"`
	Description *string    `json:"description,omitempty"`
	TakenAt     *time.Time `json:"taken_at,omitempty"`
	UserID      uuid.UUID  `json:"user_id"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Image is one media file of a post. StorageKey addresses the archived
// bytes: a local path, an s3:// key, an http(s) URL, or a data: URL for
// direct uploads.
type Image struct {
	ID         uuid.UUID `json:"id"`
	PostID     string    `json:"post_id"`
	StorageKey string    `json:"storage_key"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	IsPrimary  bool      `json:"is_primary"`
	CreatedAt  time.Time `json:"created_at"`
}
