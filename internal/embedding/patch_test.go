package embedding

import (
	"context"
	"image"
	"image/color"
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
)

func TestPatchExtractorShape(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 300, 200))
	rows, err := PatchExtractor{}.Extract(context.Background(), img)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(rows) != PatchGrid*PatchGrid {
		t.Fatalf("expected %d rows, got %d", PatchGrid*PatchGrid, len(rows))
	}
	for i, row := range rows {
		if len(row) != PatchDimension {
			t.Fatalf("row %d has width %d", i, len(row))
		}
	}
	if PatchDimension != 72 {
		t.Errorf("expected dimension 72, got %d", PatchDimension)
	}
}

func TestPatchEmbeddingProperties(t *testing.T) {
	svc := NewService(LocalLoader())
	ctx := context.Background()

	red1, err := svc.Embed(ctx, solidPNG(t, 64, 64, color.RGBA{220, 20, 20, 255}))
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	red2, err := svc.Embed(ctx, solidPNG(t, 64, 64, color.RGBA{220, 20, 20, 255}))
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	blue, err := svc.Embed(ctx, solidPNG(t, 64, 64, color.RGBA{20, 20, 220, 255}))
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if red1.Dim() != PatchDimension {
		t.Errorf("expected dim %d, got %d", PatchDimension, red1.Dim())
	}
	if n := floats.Norm(red1, 2); math.Abs(n-1) > 1e-9 {
		t.Errorf("expected unit norm, got %v", n)
	}
	if !floats.Equal(red1, red2) {
		t.Error("expected identical images to embed identically")
	}
	if d := floats.Dot(red1, blue); d > 0.5 {
		t.Errorf("expected differently coloured images to differ, cosine %v", d)
	}
}

func TestPatchExtractorCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (PatchExtractor{}).Extract(ctx, image.NewRGBA(image.Rect(0, 0, 8, 8))); err == nil {
		t.Error("expected error for cancelled context")
	}
}
