package generator

import (
	"context"
	"errors"

	"github.com/kravchenkoegor/aura/internal/models"
)

// ErrUpstreamUnavailable is returned when the model backend cannot be
// reached or keeps failing after retries.
var ErrUpstreamUnavailable = errors.New("generation upstream unavailable")

// Usage is the technical metadata of one model invocation.
type Usage struct {
	Model           string
	PromptTokens    int
	CandidateTokens int
	TotalTokens     int
	DurationMS      int
}

// Comment is the user-facing text of a candidate.
type Comment struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Analysis explains how the model arrived at a candidate.
type Analysis struct {
	Rationale     string               `json:"rationale"`
	ApproachUsed  string               `json:"approach_used"`
	ToneBreakdown models.ToneBreakdown `json:"tone_breakdown"`
}

// Candidate is one structured model output.
type Candidate struct {
	Comment  Comment  `json:"comment"`
	Analysis Analysis `json:"analysis"`
}

// Generator runs the generative model against one image.
type Generator interface {
	Infer(ctx context.Context, imageBytes []byte, style string) (Usage, []Candidate, error)
}
