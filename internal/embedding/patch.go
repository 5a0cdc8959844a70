package embedding

import (
	"context"
	"image"
	"math"

	"github.com/erazemk/najdeno/internal/imaging"
)

const (
	// PatchInputSize is the side of the square image patches are cut from.
	PatchInputSize = 224
	// PatchGrid is the number of patches along each side.
	PatchGrid = 7

	colorBins       = 4 // per channel
	orientationBins = 8

	// minGradient ignores luminance steps below about five grey levels.
	minGradient = 0.02

	// PatchDimension is the width of each feature row.
	PatchDimension = colorBins*colorBins*colorBins + orientationBins
)

// PatchExtractor computes deterministic colour and edge-orientation
// histograms over a fixed grid of image patches.
type PatchExtractor struct{}

// LocalLoader loads the built-in PatchExtractor.
func LocalLoader() Loader {
	return func(ctx context.Context) (Extractor, error) {
		return PatchExtractor{}, nil
	}
}

func (PatchExtractor) Name() string   { return "local-patch" }
func (PatchExtractor) Dimension() int { return PatchDimension }

// Extract returns PatchGrid*PatchGrid rows of PatchDimension features.
// Each row holds a normalized RGB histogram followed by a magnitude-weighted
// gradient orientation histogram.
func (PatchExtractor) Extract(ctx context.Context, img image.Image) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := imaging.Resize(img, PatchInputSize, PatchInputSize)
	gray := luminance(src)
	patch := PatchInputSize / PatchGrid

	rows := make([][]float64, 0, PatchGrid*PatchGrid)
	for py := 0; py < PatchGrid; py++ {
		for px := 0; px < PatchGrid; px++ {
			row := make([]float64, PatchDimension)
			hist := row[:colorBins*colorBins*colorBins]
			orient := row[colorBins*colorBins*colorBins:]

			var magTotal float64
			for y := py * patch; y < (py+1)*patch; y++ {
				for x := px * patch; x < (px+1)*patch; x++ {
					i := src.PixOffset(x, y)
					r := int(src.Pix[i]) * colorBins / 256
					g := int(src.Pix[i+1]) * colorBins / 256
					b := int(src.Pix[i+2]) * colorBins / 256
					hist[(r*colorBins+g)*colorBins+b]++

					gx := gray[y][clamp(x+1)] - gray[y][clamp(x-1)]
					gy := gray[clamp(y+1)][x] - gray[clamp(y-1)][x]
					mag := math.Hypot(gx, gy)
					if mag < minGradient {
						continue
					}
					// Unsigned orientation in [0, pi).
					theta := math.Atan2(gy, gx)
					if theta < 0 {
						theta += math.Pi
					}
					bin := int(theta / math.Pi * orientationBins)
					if bin >= orientationBins {
						bin = orientationBins - 1
					}
					orient[bin] += mag
					magTotal += mag
				}
			}

			n := float64(patch * patch)
			for i := range hist {
				hist[i] /= n
			}
			if magTotal > 0 {
				for i := range orient {
					orient[i] /= magTotal
				}
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func luminance(img *image.RGBA) [][]float64 {
	out := make([][]float64, PatchInputSize)
	for y := range out {
		out[y] = make([]float64, PatchInputSize)
		for x := range out[y] {
			i := img.PixOffset(x, y)
			out[y][x] = (0.299*float64(img.Pix[i]) + 0.587*float64(img.Pix[i+1]) + 0.114*float64(img.Pix[i+2])) / 255
		}
	}
	return out
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v >= PatchInputSize {
		return PatchInputSize - 1
	}
	return v
}
