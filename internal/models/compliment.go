package models

import (
	"time"

	"github.com/google/uuid"
)

// GenerationMetadata records one model invocation: which model ran, what it
// cost in tokens, and how long the analysis took.
type GenerationMetadata struct {
	ID                   uuid.UUID `json:"id"`
	ModelUsed            string    `json:"model_used"`
	PromptTokenCount     int       `json:"prompt_token_count"`
	CandidatesTokenCount int       `json:"candidates_token_count"`
	TotalTokenCount      int       `json:"total_token_count"`
	AnalysisDurationMS   int       `json:"analysis_duration_ms"`
	CreatedAt            time.Time `json:"created_at"`
}

// ToneBreakdown scores a candidate across the tone axes the model reports.
type ToneBreakdown struct {
	Poetic      int `json:"poetic"`
	Romantic    int `json:"romantic"`
	Flirtatious int `json:"flirtatious"`
	Witty       int `json:"witty"`
	Curious     int `json:"curious"`
}

// Compliment is one generated output attached to an image.
type Compliment struct {
	ID            uuid.UUID      `json:"id"`
	ImageID       uuid.UUID      `json:"image_id"`
	GenerationID  uuid.UUID      `json:"generation_id"`
	Text          string         `json:"text"`
	Lang          string         `json:"lang"`
	ToneBreakdown *ToneBreakdown `json:"tone_breakdown,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
