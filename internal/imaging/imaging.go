// Package imaging decodes uploaded photos and prepares them for face detection.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedImage is returned when the data is not an image in a known format.
var ErrUnsupportedImage = errors.New("unsupported image format")

// Options controls normalization.
type Options struct {
	MaxDimension int // longest side after downscaling, 0 keeps the original size
	JPEGQuality  int // 1-100, defaults to 95
}

// Decode decodes an image in any registered format and returns the format name.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, "", ErrUnsupportedImage
		}
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// Normalize decodes data, downscales it so the longest side fits MaxDimension and re-encodes
// it as JPEG. JPEG input that already fits is returned unchanged.
func Normalize(data []byte, opts Options) ([]byte, error) {
	img, format, err := Decode(data)
	if err != nil {
		return nil, err
	}

	resized := Fit(img, opts.MaxDimension)
	if format == "jpeg" && resized == img {
		return data, nil
	}

	quality := opts.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = 95
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// Fit scales img down so that neither side exceeds maxDim, keeping the aspect ratio.
// The original image is returned when it already fits or maxDim is not positive.
func Fit(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}

	var newW, newH int
	if w >= h {
		newW = maxDim
		newH = max(1, h*maxDim/w)
	} else {
		newH = maxDim
		newW = max(1, w*maxDim/h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
