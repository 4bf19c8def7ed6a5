package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kravchenkoegor/aura/internal/models"
)

// ComplimentRow is one generated candidate to persist.
type ComplimentRow struct {
	Text          string
	Lang          string
	ToneBreakdown *models.ToneBreakdown
}

// CreateGenerationParams bundles one model invocation's metadata with the
// candidates it produced.
type CreateGenerationParams struct {
	ImageID              uuid.UUID
	ModelUsed            string
	PromptTokenCount     int
	CandidatesTokenCount int
	TotalTokenCount      int
	AnalysisDurationMS   int
	Candidates           []ComplimentRow
}

// CreateGeneration persists the metadata row and its compliments in one
// transaction. A failed generation therefore writes nothing.
func (q queries) CreateGeneration(ctx context.Context, p CreateGenerationParams) (models.GenerationMetadata, []models.Compliment, error) {
	tx, err := q.db.Begin(ctx)
	if err != nil {
		return models.GenerationMetadata{}, nil, fmt.Errorf("begin generation tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	meta := models.GenerationMetadata{
		ID:                   uuid.New(),
		ModelUsed:            p.ModelUsed,
		PromptTokenCount:     p.PromptTokenCount,
		CandidatesTokenCount: p.CandidatesTokenCount,
		TotalTokenCount:      p.TotalTokenCount,
		AnalysisDurationMS:   p.AnalysisDurationMS,
		CreatedAt:            now,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO generation_metadata
			(id, model_used, prompt_token_count, candidates_token_count, total_token_count, analysis_duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, meta.ID, meta.ModelUsed, meta.PromptTokenCount, meta.CandidatesTokenCount, meta.TotalTokenCount, meta.AnalysisDurationMS, now)
	if err != nil {
		return models.GenerationMetadata{}, nil, fmt.Errorf("insert generation metadata: %w", err)
	}

	compliments := make([]models.Compliment, 0, len(p.Candidates))
	for _, c := range p.Candidates {
		lang := c.Lang
		if lang == "" {
			lang = "en"
		}
		var tones []byte
		if c.ToneBreakdown != nil {
			if tones, err = json.Marshal(c.ToneBreakdown); err != nil {
				return models.GenerationMetadata{}, nil, fmt.Errorf("marshal tone breakdown: %w", err)
			}
		}
		row := models.Compliment{
			ID:            uuid.New(),
			ImageID:       p.ImageID,
			GenerationID:  meta.ID,
			Text:          c.Text,
			Lang:          lang,
			ToneBreakdown: c.ToneBreakdown,
			CreatedAt:     now,
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO compliments (id, image_id, generation_id, text, lang, tone_breakdown, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, row.ID, row.ImageID, row.GenerationID, row.Text, row.Lang, tones, now)
		if err != nil {
			return models.GenerationMetadata{}, nil, fmt.Errorf("insert compliment: %w", err)
		}
		compliments = append(compliments, row)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.GenerationMetadata{}, nil, fmt.Errorf("commit generation tx: %w", err)
	}
	return meta, compliments, nil
}

// CountComplimentsForImage reports how many compliments an image already
// has. The generate handler uses it as its idempotency pre-check.
func (q queries) CountComplimentsForImage(ctx context.Context, imageID uuid.UUID) (int64, error) {
	var n int64
	if err := q.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM compliments WHERE image_id = $1
	`, imageID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count compliments: %w", err)
	}
	return n, nil
}
