// Package imaging turns photos of any accepted encoding into the canonical
// form the embedding extractors consume.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"net/http"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// MaxDimension bounds the longer side of a normalized image.
const MaxDimension = 1024

// JPEGQuality is used when a canonical image is re-encoded for transport.
const JPEGQuality = 85

var accepted = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// ErrUnsupportedFormat is returned for bytes that are not an accepted image type.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// Sniff returns the MIME type detected from the leading bytes, or
// ErrUnsupportedFormat. Client-supplied content types are never consulted.
func Sniff(data []byte) (string, error) {
	mime := http.DetectContentType(data)
	for _, a := range accepted {
		if mime == a {
			return mime, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, mime)
}

// Normalize decodes data and returns an opaque zero-origin RGBA image with
// transparency composited onto white, no side longer than MaxDimension.
func Normalize(data []byte) (*image.RGBA, error) {
	if _, err := Sniff(data); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, errors.New("decoding image: empty image")
	}

	b := img.Bounds()
	w, h := fit(b.Dx(), b.Dy(), MaxDimension)
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(canvas, canvas.Bounds(), img, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(canvas, canvas.Bounds(), img, b, draw.Over, nil)
	}
	return canvas, nil
}

// EncodeJPEG encodes img as a JPEG with JPEGQuality.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// Resize scales img to exactly w×h with Catmull-Rom interpolation.
func Resize(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// fit scales w×h down, keeping the aspect ratio, until neither side exceeds
// limit. Sizes already within limit are returned unchanged; sides never drop
// below one pixel.
func fit(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	long := max(w, h)
	w = max(1, w*limit/long)
	h = max(1, h*limit/long)
	return w, h
}
