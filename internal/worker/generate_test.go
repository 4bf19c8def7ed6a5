package worker

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/kravchenkoegor/aura/internal/generator"
	"github.com/kravchenkoegor/aura/internal/models"
)

type fakeGenerator struct {
	usage      generator.Usage
	candidates []generator.Candidate
	err        error
	calls      int
}

func (f *fakeGenerator) Infer(context.Context, []byte, string) (generator.Usage, []generator.Candidate, error) {
	f.calls = f.calls + 1
	if f.err != nil {
		return generator.Usage{}, nil, f.err
	}
	return f.usage, f.candidates, nil
}

func generateFields(postID string) map[string]string {
	return map[string]string{
		"task_id": uuid.NewString(),
		"post_id": postID,
		"user_id": uuid.NewString(),
	}
}

func TestGenerateHandlerPersistsCompliments(t *testing.T) {
	ses := newFakeSession()
	imgID := uuid.New()
	ses.primaryImages["Cxyz123"] = models.Image{ID: imgID, PostID: "Cxyz123", StorageKey: "Cxyz123/0.jpg", IsPrimary: true}

	archive := newFakeArchive()
	archive.saved["Cxyz123/0.jpg"] = []byte("jpeg-bytes")

	gen := &fakeGenerator{
		usage: generator.Usage{Model: "gemini-2.0-flash", PromptTokens: 120, CandidateTokens: 80, TotalTokens: 200, DurationMS: 950},
		candidates: []generator.Candidate{
			{
				Comment:  generator.Comment{Text: "Golden light suits you", Language: "en"},
				Analysis: generator.Analysis{Rationale: "warm palette", ApproachUsed: "poetic", ToneBreakdown: models.ToneBreakdown{Poetic: 8, Romantic: 6}},
			},
			{
				Comment:  generator.Comment{Text: "Ese atardecer y tú", Language: "es"},
				Analysis: generator.Analysis{Rationale: "playful", ApproachUsed: "flirtatious", ToneBreakdown: models.ToneBreakdown{Flirtatious: 9}},
			},
		},
	}

	h := NewGenerateHandler(gen, archive, slog.Default())
	result, err := h.Handle(context.Background(), ses, generateFields("Cxyz123"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.Skipped {
		t.Fatal("result marked skipped")
	}
	if result.Detail != "Compliments created successfully" {
		t.Fatalf("detail = %q", result.Detail)
	}

	compliments, ok := result.Payload.([]models.Compliment)
	if !ok || len(compliments) != 2 {
		t.Fatalf("payload = %#v", result.Payload)
	}
	if compliments[1].Lang != "es" {
		t.Fatalf("second compliment lang = %q", compliments[1].Lang)
	}

	if len(ses.generations) != 1 {
		t.Fatalf("recorded %d generations", len(ses.generations))
	}
	p := ses.generations[0]
	if p.ImageID != imgID || p.ModelUsed != "gemini-2.0-flash" || p.TotalTokenCount != 200 {
		t.Fatalf("generation params = %+v", p)
	}
	if len(p.Candidates) != 2 || p.Candidates[0].ToneBreakdown == nil || p.Candidates[0].ToneBreakdown.Poetic != 8 {
		t.Fatalf("candidate rows = %+v", p.Candidates)
	}
}

func TestGenerateHandlerSkipsWhenComplimentsExist(t *testing.T) {
	ses := newFakeSession()
	imgID := uuid.New()
	ses.primaryImages["Cxyz123"] = models.Image{ID: imgID, PostID: "Cxyz123", StorageKey: "Cxyz123/0.jpg"}
	ses.complimentCnt[imgID] = 3

	gen := &fakeGenerator{}
	h := NewGenerateHandler(gen, newFakeArchive(), slog.Default())
	result, err := h.Handle(context.Background(), ses, generateFields("Cxyz123"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !result.Skipped {
		t.Fatal("existing compliments were not skipped")
	}
	if gen.calls != 0 {
		t.Fatal("model was invoked despite existing compliments")
	}
}

func TestGenerateHandlerFailsWithoutPrimaryImage(t *testing.T) {
	h := NewGenerateHandler(&fakeGenerator{}, newFakeArchive(), slog.Default())
	_, err := h.Handle(context.Background(), newFakeSession(), generateFields("Cmissing"))
	if err == nil || !strings.Contains(err.Error(), "no primary image found for post ID Cmissing") {
		t.Fatalf("err = %v", err)
	}
}

func TestGenerateHandlerPropagatesModelFailure(t *testing.T) {
	ses := newFakeSession()
	imgID := uuid.New()
	ses.primaryImages["Cxyz123"] = models.Image{ID: imgID, PostID: "Cxyz123", StorageKey: "Cxyz123/0.jpg"}
	archive := newFakeArchive()
	archive.saved["Cxyz123/0.jpg"] = []byte("jpeg-bytes")

	h := NewGenerateHandler(&fakeGenerator{err: generator.ErrUpstreamUnavailable}, archive, slog.Default())
	_, err := h.Handle(context.Background(), ses, generateFields("Cxyz123"))
	if !errors.Is(err, generator.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}
}
