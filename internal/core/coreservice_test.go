package core

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/jo-hoe/gallerystore/internal/backend/collection"
	"github.com/jo-hoe/gallerystore/internal/backend/failure"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestCoreService(t *testing.T) *CoreService {
	t.Helper()
	cfg := &ServiceConfig{
		Database: Database{
			Type:             "sqlite",
			ConnectionString: ":memory:",
		},
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	svc, err := NewCoreService(cfg)
	if err != nil {
		t.Fatalf("NewCoreService error: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func makePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y += 7 {
		for x := 0; x < w; x += 7 {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func TestCoreService_Lifecycle(t *testing.T) {
	svc := newTestCoreService(t)
	ctx := context.Background()

	result, err := svc.Ingest(ctx, 1, []collection.Upload{
		{Name: "small.png", Data: makePNG(t, 400, 300)},
		{Name: "wide.png", Data: makePNG(t, 2400, 1200)},
		{Name: "notes.txt", Data: []byte("not an image")},
	})
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if len(result.Created) != 2 || len(result.PerFileErrors) != 1 {
		t.Fatalf("expected 2 created and 1 failed file, got %d and %d", len(result.Created), len(result.PerFileErrors))
	}
	small, wide := result.Created[0], result.Created[1]
	if small.HighRes != nil {
		t.Fatalf("small image must not get a high-res rendition")
	}
	if wide.HighRes == nil || wide.HighRes.Width != 2400 {
		t.Fatalf("expected a 2400px high-res rendition, got %+v", wide.HighRes)
	}
	if wide.Primary.Width != 1600 || wide.Primary.Height != 800 {
		t.Fatalf("expected primary fitted to 1600x800, got %dx%d", wide.Primary.Width, wide.Primary.Height)
	}
	if small.Thumbnail.Width != 200 {
		t.Fatalf("expected thumbnail width 200, got %d", small.Thumbnail.Width)
	}

	reordered, err := svc.Reorder(ctx, 1, []int64{wide.Primary.ID, small.Primary.ID})
	if err != nil {
		t.Fatalf("Reorder error: %v", err)
	}
	if reordered.Assets[0].ID != wide.Primary.ID {
		t.Fatalf("expected wide image first after reorder")
	}

	data, contentType, err := svc.Content(ctx, wide.Thumbnail.ID)
	if err != nil {
		t.Fatalf("Content error: %v", err)
	}
	if contentType != "image/png" || len(data) == 0 {
		t.Fatalf("unexpected content %q with %d bytes", contentType, len(data))
	}

	deleted, err := svc.Delete(ctx, wide.Primary.ID)
	if err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if len(deleted.DeletedRowIDs) != 3 {
		t.Fatalf("expected 3 deleted rows, got %v", deleted.DeletedRowIDs)
	}

	families, err := svc.List(ctx, 1)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(families) != 1 || families[0].Primary.PositionValue() != 1 {
		t.Fatalf("expected the small image alone at position 1, got %+v", families)
	}

	reports, err := svc.VerifyAll(ctx)
	if err != nil {
		t.Fatalf("VerifyAll error: %v", err)
	}
	if len(reports) != 1 || !reports[0].OK {
		t.Fatalf("expected one healthy parent, got %+v", reports)
	}

	n, err := testutil.GatherAndCount(svc.Metrics().Registry(), "gallerystore_collection_operations_total")
	if err != nil {
		t.Fatalf("GatherAndCount error: %v", err)
	}
	if n == 0 {
		t.Fatalf("expected operation metrics to be recorded")
	}
}

func TestCoreService_ErrorsAreClassified(t *testing.T) {
	svc := newTestCoreService(t)

	_, err := svc.Delete(context.Background(), 42)
	if !failure.IsCode(err, failure.CodeNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
	_, err = svc.Reorder(context.Background(), 1, []int64{1, 1})
	if !failure.IsCode(err, failure.CodeValidation) {
		t.Fatalf("expected validation, got %v", err)
	}
}

func TestNewCoreService_InvalidBackends(t *testing.T) {
	cfg := &ServiceConfig{Database: Database{Type: "sqlite", ConnectionString: ":memory:"}}
	cfg.applyDefaults()

	cfg.Storage.Type = "s3"
	if _, err := NewCoreService(cfg); err == nil {
		t.Fatalf("expected error for unsupported storage")
	}

	cfg.Storage.Type = "memory"
	cfg.Gate.Type = "zookeeper"
	if _, err := NewCoreService(cfg); err == nil {
		t.Fatalf("expected error for unsupported gate")
	}
}
