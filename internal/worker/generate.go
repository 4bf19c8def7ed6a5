package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kravchenkoegor/aura/internal/generator"
	"github.com/kravchenkoegor/aura/internal/models"
	"github.com/kravchenkoegor/aura/internal/store"
)

// GenerateHandler runs model inference over a post's primary image and
// persists the resulting compliments.
type GenerateHandler struct {
	gen     generator.Generator
	archive MediaArchive
	logger  *slog.Logger
}

func NewGenerateHandler(gen generator.Generator, archive MediaArchive, logger *slog.Logger) *GenerateHandler {
	return &GenerateHandler{gen: gen, archive: archive, logger: logger}
}

func (h *GenerateHandler) Handle(ctx context.Context, ses Session, fields map[string]string) (Result, error) {
	job, err := models.ParseGenerateJob(fields)
	if err != nil {
		return Result{}, err
	}

	img, err := ses.GetPrimaryImageByPostID(ctx, job.PostID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, fmt.Errorf("no primary image found for post ID %s", job.PostID)
		}
		return Result{}, err
	}

	// Compliments for this image already exist: resolve skipped.
	count, err := ses.CountComplimentsForImage(ctx, img.ID)
	if err != nil {
		return Result{}, err
	}
	if count > 0 {
		return Result{Skipped: true, Detail: fmt.Sprintf("Compliments for post %s already exist.", job.PostID)}, nil
	}

	body, err := h.archive.Open(ctx, img.StorageKey)
	if err != nil {
		return Result{}, fmt.Errorf("open image %s: %w", img.StorageKey, err)
	}

	usage, candidates, err := h.gen.Infer(ctx, body, job.Style)
	if err != nil {
		return Result{}, err
	}

	rows := make([]store.ComplimentRow, 0, len(candidates))
	for _, c := range candidates {
		tones := c.Analysis.ToneBreakdown
		rows = append(rows, store.ComplimentRow{
			Text:          c.Comment.Text,
			Lang:          c.Comment.Language,
			ToneBreakdown: &tones,
		})
	}

	_, compliments, err := ses.CreateGeneration(ctx, store.CreateGenerationParams{
		ImageID:              img.ID,
		ModelUsed:            usage.Model,
		PromptTokenCount:     usage.PromptTokens,
		CandidatesTokenCount: usage.CandidateTokens,
		TotalTokenCount:      usage.TotalTokens,
		AnalysisDurationMS:   usage.DurationMS,
		Candidates:           rows,
	})
	if err != nil {
		return Result{}, err
	}

	h.logger.Info("compliments generated", "post_id", job.PostID, "image_id", img.ID, "count", len(compliments))
	return Result{
		Detail:  "Compliments created successfully",
		Payload: compliments,
	}, nil
}
