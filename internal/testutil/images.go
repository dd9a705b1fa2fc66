package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

// NoisePNG returns a random grayscale PNG. Different seeds give images with different
// perceptual hashes, so an image store keeps all of them.
func NoisePNG(seed uint64) []byte {
	rng := NewRand(seed)
	img := image.NewGray(image.Rect(0, 0, 36, 32))
	for y := range 32 {
		for x := range 36 {
			img.SetGray(x, y, color.Gray{Y: uint8(rng.IntN(256))})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
