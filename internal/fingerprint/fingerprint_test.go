package fingerprint

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name     string
		hash1    Hash
		hash2    Hash
		expected int
	}{
		{"identical", 0x0, 0x0, 0},
		{"completely different", 0xFFFFFFFFFFFFFFFF, 0x0, 64},
		{"one bit different", 0x1, 0x0, 1},
		{"four bits different", 0xF, 0x0, 4},
		{"alternating", 0xAAAAAAAAAAAAAAAA, 0x5555555555555555, 64},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := tc.hash1.Distance(tc.hash2)
			if result != tc.expected {
				t.Errorf("Distance(%s, %s) = %d; want %d", tc.hash1, tc.hash2, result, tc.expected)
			}
		})
	}
}

func TestStringAndParse(t *testing.T) {
	h := Hash(0x00ff00ff12345678)
	if h.String() != "00ff00ff12345678" {
		t.Fatalf("unexpected string %s", h.String())
	}
	parsed, err := Parse(h.String())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed != h {
		t.Errorf("Parse(%s) = %s", h, parsed)
	}
	if _, err := Parse("xyz"); err == nil {
		t.Error("Parse should fail for non-hex input")
	}
}

func TestFromBytesConsistentAcrossFormats(t *testing.T) {
	img := createGradientImage(120, 90)

	fromJPEG, err := FromBytes(encodeJPEG(img))
	if err != nil {
		t.Fatalf("FromBytes(jpeg) failed: %v", err)
	}
	fromPNG, err := FromBytes(encodePNG(img))
	if err != nil {
		t.Fatalf("FromBytes(png) failed: %v", err)
	}

	if !fromJPEG.Similar(fromPNG, DuplicateThreshold) {
		t.Errorf("same picture in two formats should be near duplicates: %s vs %s (distance %d)",
			fromJPEG, fromPNG, fromJPEG.Distance(fromPNG))
	}
	if fromPNG != 0 {
		t.Errorf("brightness rising left to right should set no bits, got %s", fromPNG)
	}
}

func TestFromBytesDifferentImages(t *testing.T) {
	left, err := FromBytes(encodePNG(createGradientImage(64, 64)))
	if err != nil {
		t.Fatalf("FromBytes failed: %v", err)
	}
	right, err := FromBytes(encodePNG(createReverseGradientImage(64, 64)))
	if err != nil {
		t.Fatalf("FromBytes failed: %v", err)
	}
	if right != 0xFFFFFFFFFFFFFFFF {
		t.Errorf("brightness falling left to right should set every bit, got %s", right)
	}
	if left.Similar(right, DuplicateThreshold) {
		t.Errorf("opposite gradients should not be duplicates: %s vs %s", left, right)
	}
}

func TestFromBytesInvalidImage(t *testing.T) {
	if _, err := FromBytes([]byte("not an image")); err == nil {
		t.Error("FromBytes should fail for invalid image data")
	}
}

func TestSetMatch(t *testing.T) {
	var s Set
	s.Add(0xF0)
	s.Add(0xFFFF0000)

	if s.Len() != 2 {
		t.Fatalf("expected 2 hashes, got %d", s.Len())
	}
	if got, ok := s.Match(0xF1, DuplicateThreshold); !ok || got != 0xF0 {
		t.Errorf("expected match with 0xF0, got %s, %v", got, ok)
	}
	if _, ok := s.Match(0xFFFFFFFFFFFFFFFF, DuplicateThreshold); ok {
		t.Error("unexpected match")
	}
}

func createGradientImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			v := uint8(x * 255 / width)
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func createReverseGradientImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			v := uint8(255 - x*255/width)
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func encodeJPEG(img image.Image) []byte {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95})
	return buf.Bytes()
}

func encodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
