package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/kravchenkoegor/aura/internal/models"
)

// CreatePostStub inserts the bare post row the producer creates before the
// ingest job becomes visible to workers. ErrConflict when the post exists.
func (q queries) CreatePostStub(ctx context.Context, postID string, userID uuid.UUID) (models.Post, error) {
	now := time.Now().UTC()
	tag, err := q.db.Exec(ctx, `
		INSERT INTO posts (id, user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, postID, userID, now)
	if err != nil {
		return models.Post{}, fmt.Errorf("insert post stub: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Post{}, fmt.Errorf("post %s: %w", postID, ErrConflict)
	}
	return models.Post{ID: postID, UserID: userID, CreatedAt: now}, nil
}

// ErrConflict is returned when the subject already exists.
var ErrConflict = errors.New("already exists")

// GetPost fetches a post by shortcode.
func (q queries) GetPost(ctx context.Context, postID string) (models.Post, error) {
	var post models.Post
	var authorID *uuid.UUID
	var description pgtype.Text
	var takenAt pgtype.Timestamptz

	err := q.db.QueryRow(ctx, `
		SELECT id, author_id, description, taken_at, user_id, created_at
		FROM posts WHERE id = $1
	`, postID).Scan(&post.ID, &authorID, &description, &takenAt, &post.UserID, &post.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Post{}, ErrNotFound
	}
	if err != nil {
		return models.Post{}, fmt.Errorf("get post: %w", err)
	}
	post.AuthorID = authorID
	if description.Valid {
		post.Description = &description.String
	}
	if takenAt.Valid {
		post.TakenAt = &takenAt.Time
	}
	return post, nil
}

// ImageRow is one media file to attach to a post during ingest.
type ImageRow struct {
	StorageKey string
	Width      int
	Height     int
	IsPrimary  bool
}

// FinalizeIngestParams is everything the ingest handler learned about a
// post. Applied in one transaction so a failed ingest leaves no partially
// populated subject behind.
type FinalizeIngestParams struct {
	PostID         string
	AuthorUsername string
	Description    string
	TakenAt        *time.Time
	Images         []ImageRow
}

// FinalizeIngest upserts the author, fills in the post row, and inserts the
// image rows atomically. It returns the created images.
func (q queries) FinalizeIngest(ctx context.Context, p FinalizeIngestParams) ([]models.Image, error) {
	tx, err := q.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin ingest tx: %w", err)
	}
	defer tx.Rollback(ctx) // no-op once committed

	var authorID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO authors (id, username, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username
		RETURNING id
	`, uuid.New(), p.AuthorUsername).Scan(&authorID)
	if err != nil {
		return nil, fmt.Errorf("upsert author: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE posts SET author_id = $2, description = $3, taken_at = $4
		WHERE id = $1
	`, p.PostID, authorID, p.Description, p.TakenAt)
	if err != nil {
		return nil, fmt.Errorf("update post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("post %s: %w", p.PostID, ErrNotFound)
	}

	now := time.Now().UTC()
	images := make([]models.Image, 0, len(p.Images))
	for _, row := range p.Images {
		img := models.Image{
			ID:         uuid.New(),
			PostID:     p.PostID,
			StorageKey: row.StorageKey,
			Width:      row.Width,
			Height:     row.Height,
			IsPrimary:  row.IsPrimary,
			CreatedAt:  now,
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO images (id, post_id, storage_key, width, height, is_primary, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, img.ID, img.PostID, img.StorageKey, img.Width, img.Height, img.IsPrimary, img.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert image: %w", err)
		}
		images = append(images, img)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ingest tx: %w", err)
	}
	return images, nil
}

// GetPrimaryImageByPostID returns the primary image of a post, or
// ErrNotFound when the post has none. The ingest handler uses this as its
// idempotency pre-check: a post with a primary image was already imported.
func (q queries) GetPrimaryImageByPostID(ctx context.Context, postID string) (models.Image, error) {
	var img models.Image
	err := q.db.QueryRow(ctx, `
		SELECT id, post_id, storage_key, width, height, is_primary, created_at
		FROM images WHERE post_id = $1 AND is_primary
		ORDER BY created_at LIMIT 1
	`, postID).Scan(&img.ID, &img.PostID, &img.StorageKey, &img.Width, &img.Height, &img.IsPrimary, &img.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Image{}, ErrNotFound
	}
	if err != nil {
		return models.Image{}, fmt.Errorf("get primary image: %w", err)
	}
	return img, nil
}
