package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/kravchenkoegor/aura/internal/importer"
	"github.com/kravchenkoegor/aura/internal/models"
)

type fakeImporter struct {
	meta    importer.PostMetadata
	media   []importer.Media
	err     error
	fetched []string
}

func (f *fakeImporter) Fetch(_ context.Context, shortcode string) (importer.PostMetadata, []importer.Media, error) {
	f.fetched = append(f.fetched, shortcode)
	if f.err != nil {
		return importer.PostMetadata{}, nil, f.err
	}
	return f.meta, f.media, nil
}

type fakeArchive struct {
	bodies map[string][]byte
	saved  map[string][]byte
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{bodies: map[string][]byte{}, saved: map[string][]byte{}}
}

func (f *fakeArchive) Download(_ context.Context, url string) ([]byte, string, error) {
	body, ok := f.bodies[url]
	if !ok {
		return nil, "", fmt.Errorf("no fixture for %s", url)
	}
	return body, "image/jpeg", nil
}

func (f *fakeArchive) Save(_ context.Context, key string, body []byte, _ string) (string, error) {
	f.saved[key] = body
	return key, nil
}

func (f *fakeArchive) Open(_ context.Context, storageKey string) ([]byte, error) {
	body, ok := f.saved[storageKey]
	if !ok {
		return nil, fmt.Errorf("no stored media at %s", storageKey)
	}
	return body, nil
}

func ingestFields(url string) map[string]string {
	return map[string]string{
		"task_id": uuid.NewString(),
		"url":     url,
		"user_id": uuid.NewString(),
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestIngestHandlerArchivesPost(t *testing.T) {
	ses := newFakeSession()
	imp := &fakeImporter{
		meta: importer.PostMetadata{ID: "Cxyz123", OwnerUsername: "somebody", Description: "sunset"},
		media: []importer.Media{
			{SourceURL: "https://cdn.example/0.jpg", Width: 1080, Height: 1350, IsPrimary: true},
			{SourceURL: "https://cdn.example/1.jpg", IsPrimary: false},
		},
	}
	archive := newFakeArchive()
	archive.bodies["https://cdn.example/0.jpg"] = pngBytes(t, 4, 3)
	archive.bodies["https://cdn.example/1.jpg"] = pngBytes(t, 6, 2)

	h := NewIngestHandler(imp, archive, slog.Default())
	result, err := h.Handle(context.Background(), ses, ingestFields("https://www.instagram.com/p/Cxyz123/"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.Skipped {
		t.Fatal("result marked skipped")
	}
	if result.Detail != "Saved 2 images for post Cxyz123." {
		t.Fatalf("detail = %q", result.Detail)
	}

	images, ok := result.Payload.([]models.Image)
	if !ok || len(images) != 2 {
		t.Fatalf("payload = %#v", result.Payload)
	}
	if !images[0].IsPrimary || images[1].IsPrimary {
		t.Fatalf("primary flags = %v %v", images[0].IsPrimary, images[1].IsPrimary)
	}
	// Declared dimensions pass through, missing ones come from the bytes.
	if images[0].Width != 1080 || images[0].Height != 1350 {
		t.Fatalf("first image dims = %dx%d", images[0].Width, images[0].Height)
	}
	if images[1].Width != 6 || images[1].Height != 2 {
		t.Fatalf("second image dims = %dx%d", images[1].Width, images[1].Height)
	}

	if len(ses.finalized) != 1 {
		t.Fatalf("finalized %d times", len(ses.finalized))
	}
	p := ses.finalized[0]
	if p.PostID != "Cxyz123" || p.AuthorUsername != "somebody" || p.Description != "sunset" {
		t.Fatalf("finalize params = %+v", p)
	}
	if _, ok := archive.saved["Cxyz123/0.jpg"]; !ok {
		t.Fatal("primary media was not saved")
	}
	if _, ok := archive.saved["Cxyz123/1.jpg"]; !ok {
		t.Fatal("secondary media was not saved")
	}
}

func TestIngestHandlerSkipsExistingPost(t *testing.T) {
	ses := newFakeSession()
	ses.primaryImages["Cxyz123"] = models.Image{ID: uuid.New(), PostID: "Cxyz123", IsPrimary: true}
	imp := &fakeImporter{}

	h := NewIngestHandler(imp, newFakeArchive(), slog.Default())
	result, err := h.Handle(context.Background(), ses, ingestFields("https://www.instagram.com/p/Cxyz123/"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !result.Skipped {
		t.Fatal("existing post was not skipped")
	}
	if result.Detail != "Post Cxyz123 already exists." {
		t.Fatalf("detail = %q", result.Detail)
	}
	if len(imp.fetched) != 0 {
		t.Fatal("importer was called for an existing post")
	}
}

func TestIngestHandlerRejectsBadURL(t *testing.T) {
	h := NewIngestHandler(&fakeImporter{}, newFakeArchive(), slog.Default())
	_, err := h.Handle(context.Background(), newFakeSession(), ingestFields("https://example.com/not-a-post"))
	if !errors.Is(err, importer.ErrInvalidURL) {
		t.Fatalf("err = %v, want ErrInvalidURL", err)
	}
}

func TestIngestHandlerPropagatesUnavailablePost(t *testing.T) {
	imp := &fakeImporter{err: importer.ErrContentUnavailable}
	h := NewIngestHandler(imp, newFakeArchive(), slog.Default())
	_, err := h.Handle(context.Background(), newFakeSession(), ingestFields("https://www.instagram.com/p/Cgone/"))
	if !errors.Is(err, importer.ErrContentUnavailable) {
		t.Fatalf("err = %v, want ErrContentUnavailable", err)
	}
}
