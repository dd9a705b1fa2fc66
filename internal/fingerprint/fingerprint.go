// Package fingerprint computes perceptual hashes of uploaded face photos. The hash names the
// stored file and lets repeated uploads of the same photo be recognized and skipped.
package fingerprint

import (
	"fmt"
	"image"
	"math/bits"
	"strconv"

	"github.com/kozaktomas/facegate/internal/imaging"
	"golang.org/x/image/draw"
)

// DuplicateThreshold is the Hamming distance at or below which two photos are treated
// as the same picture.
const DuplicateThreshold = 4

// Hash is a 64-bit difference hash.
type Hash uint64

// String returns the hash as 16 hex characters.
func (h Hash) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// Distance returns the Hamming distance between two hashes.
func (h Hash) Distance(other Hash) int {
	return bits.OnesCount64(uint64(h ^ other))
}

// Similar reports whether the hashes are within threshold bits of each other.
func (h Hash) Similar(other Hash, threshold int) bool {
	return h.Distance(other) <= threshold
}

// Parse reads a hash written by String.
func Parse(s string) (Hash, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	return Hash(v), nil
}

// FromBytes decodes an image and hashes it.
func FromBytes(data []byte) (Hash, error) {
	img, _, err := imaging.Decode(data)
	if err != nil {
		return 0, err
	}
	return FromImage(img), nil
}

// FromImage computes the difference hash: the image is shrunk to 9x8 grayscale and every bit
// records whether a pixel is brighter than its right-hand neighbour.
func FromImage(img image.Image) Hash {
	small := image.NewGray(image.Rect(0, 0, 9, 8))
	draw.BiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	var h Hash
	bit := 63
	for y := range 8 {
		for x := range 8 {
			if small.GrayAt(x, y).Y > small.GrayAt(x+1, y).Y {
				h |= 1 << bit
			}
			bit--
		}
	}
	return h
}

// Set is a collection of hashes that can be searched for near duplicates.
type Set struct {
	hashes []Hash
}

// Add inserts h into the set.
func (s *Set) Add(h Hash) {
	s.hashes = append(s.hashes, h)
}

// Len returns the number of hashes in the set.
func (s *Set) Len() int {
	return len(s.hashes)
}

// Match returns the first hash within threshold bits of h.
func (s *Set) Match(h Hash, threshold int) (Hash, bool) {
	for _, existing := range s.hashes {
		if existing.Similar(h, threshold) {
			return existing, true
		}
	}
	return 0, false
}
