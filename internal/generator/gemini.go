package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"google.golang.org/genai"

	"github.com/kravchenkoegor/aura/internal/config"
)

// GeminiGenerator implements Generator against the Gemini API.
type GeminiGenerator struct {
	client       *genai.Client
	model        string
	systemPrompt string
	maxRetries   int
	retryDelay   time.Duration
	maxEdge      int
	logger       *slog.Logger
}

// NewGeminiGenerator builds the generator; the system prompt is read once
// at construction.
func NewGeminiGenerator(ctx context.Context, cfg config.Config, logger *slog.Logger) (*GeminiGenerator, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, errors.New("GEMINI_API_KEY is not set")
	}
	if cfg.GeminiModel == "" {
		return nil, errors.New("GEMINI_MODEL is not set")
	}

	prompt, err := os.ReadFile(cfg.GeminiPromptPath)
	if err != nil {
		return nil, fmt.Errorf("read system prompt: %w", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	maxRetries := cfg.GeminiMaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	retryDelay := cfg.GeminiRetryDelay
	if retryDelay == 0 {
		retryDelay = 2 * time.Second
	}

	return &GeminiGenerator{
		client:       client,
		model:        cfg.GeminiModel,
		systemPrompt: string(prompt),
		maxRetries:   maxRetries,
		retryDelay:   retryDelay,
		maxEdge:      cfg.InferMaxEdge,
		logger:       logger,
	}, nil
}

// Infer sends the image plus the system prompt to the model and parses each
// candidate's structured JSON output. Transient API failures are retried a
// fixed number of times; exhausting them maps to ErrUpstreamUnavailable.
func (g *GeminiGenerator) Infer(ctx context.Context, imageBytes []byte, style string) (Usage, []Candidate, error) {
	prepared, err := normalizeForInference(imageBytes, g.maxEdge)
	if err != nil {
		return Usage{}, nil, err
	}

	prompt := g.systemPrompt
	if style != "" {
		prompt += "\n\nRequested style: " + style
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(prepared, "image/jpeg"),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}
	genCfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](1.5),
		TopP:             genai.Ptr[float32](0.95),
		CandidateCount:   3,
		ResponseMIMEType: "application/json",
	}

	start := time.Now()
	var resp *genai.GenerateContentResponse
	for attempt := 0; ; attempt++ {
		resp, err = g.client.Models.GenerateContent(ctx, g.model, contents, genCfg)
		if err == nil {
			break
		}
		if attempt >= g.maxRetries || ctx.Err() != nil {
			return Usage{}, nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		g.logger.Warn("gemini call failed, retrying",
			"attempt", attempt+1, "max_attempts", g.maxRetries+1, "error", err)
		select {
		case <-ctx.Done():
			return Usage{}, nil, ctx.Err()
		case <-time.After(g.retryDelay):
		}
	}

	usage := Usage{
		Model:      g.model,
		DurationMS: int(time.Since(start).Milliseconds()),
	}
	if u := resp.UsageMetadata; u != nil {
		usage.PromptTokens = int(u.PromptTokenCount)
		usage.CandidateTokens = int(u.CandidatesTokenCount)
		usage.TotalTokens = int(u.TotalTokenCount)
	}

	candidates := parseCandidates(resp, g.logger)
	if len(candidates) == 0 {
		return usage, nil, errors.New("model returned no usable candidates")
	}
	return usage, candidates, nil
}

// parseCandidates validates each candidate's JSON independently so one
// malformed output does not discard the rest.
func parseCandidates(resp *genai.GenerateContentResponse, logger *slog.Logger) []Candidate {
	var out []Candidate
	for i, c := range resp.Candidates {
		if c.Content == nil || len(c.Content.Parts) == 0 {
			continue
		}
		text := c.Content.Parts[0].Text
		if text == "" {
			continue
		}
		var candidate Candidate
		if err := json.Unmarshal([]byte(text), &candidate); err != nil {
			logger.Warn("discarding malformed candidate", "index", i, "error", err)
			continue
		}
		if candidate.Comment.Text == "" {
			continue
		}
		out = append(out, candidate)
	}
	return out
}
