package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"

	"github.com/kravchenkoegor/aura/internal/importer"
	"github.com/kravchenkoegor/aura/internal/models"
	"github.com/kravchenkoegor/aura/internal/store"
)

// MediaArchive is the slice of the archive the ingest handler needs.
type MediaArchive interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
	Save(ctx context.Context, key string, body []byte, contentType string) (string, error)
	Open(ctx context.Context, storageKey string) ([]byte, error)
}

// IngestHandler downloads a post's media and finalizes the post record.
type IngestHandler struct {
	importer importer.Importer
	archive  MediaArchive
	logger   *slog.Logger
}

func NewIngestHandler(imp importer.Importer, archive MediaArchive, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{importer: imp, archive: archive, logger: logger}
}

func (h *IngestHandler) Handle(ctx context.Context, ses Session, fields map[string]string) (Result, error) {
	job, err := models.ParseIngestJob(fields)
	if err != nil {
		return Result{}, err
	}

	shortcode, err := importer.ExtractShortcode(job.URL)
	if err != nil {
		return Result{}, err
	}

	// Already archived: resolve skipped without refetching.
	if _, err := ses.GetPrimaryImageByPostID(ctx, shortcode); err == nil {
		return Result{Skipped: true, Detail: fmt.Sprintf("Post %s already exists.", shortcode)}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return Result{}, err
	}

	meta, mediaList, err := h.importer.Fetch(ctx, shortcode)
	if err != nil {
		return Result{}, err
	}
	if len(mediaList) == 0 {
		return Result{}, fmt.Errorf("post %s has no downloadable media", shortcode)
	}

	rows := make([]store.ImageRow, 0, len(mediaList))
	for i, m := range mediaList {
		body, contentType, err := h.archive.Download(ctx, m.SourceURL)
		if err != nil {
			return Result{}, fmt.Errorf("download media %d of %s: %w", i, shortcode, err)
		}
		width, height := m.Width, m.Height
		if width == 0 || height == 0 {
			if cfg, _, err := image.DecodeConfig(bytes.NewReader(body)); err == nil {
				width, height = cfg.Width, cfg.Height
			}
		}
		key := fmt.Sprintf("%s/%d.jpg", shortcode, i)
		storageKey, err := h.archive.Save(ctx, key, body, contentType)
		if err != nil {
			return Result{}, fmt.Errorf("save media %d of %s: %w", i, shortcode, err)
		}
		rows = append(rows, store.ImageRow{
			StorageKey: storageKey,
			Width:      width,
			Height:     height,
			IsPrimary:  m.IsPrimary,
		})
	}

	images, err := ses.FinalizeIngest(ctx, store.FinalizeIngestParams{
		PostID:         shortcode,
		AuthorUsername: meta.OwnerUsername,
		Description:    meta.Description,
		TakenAt:        meta.TakenAt,
		Images:         rows,
	})
	if err != nil {
		return Result{}, err
	}

	h.logger.Info("post ingested", "post_id", shortcode, "images", len(images))
	return Result{
		Detail:  fmt.Sprintf("Saved %d images for post %s.", len(images), shortcode),
		Payload: images,
	}, nil
}
