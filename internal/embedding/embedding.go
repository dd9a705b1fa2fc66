// Package embedding turns face photographs into fixed-length descriptors.
package embedding

import (
	"context"
	"errors"
	"math"
)

// Dim is the length of a face descriptor produced by the dlib ResNet model.
const Dim = 128

// Embedding is a single face descriptor. Values are never modified after extraction.
type Embedding [Dim]float32

// ErrNoFaceDetected is returned when an image contains no detectable face.
// It is an expected outcome (blurry or empty photo), not a failure of the extractor.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrUnreadableImage is returned when the image bytes cannot be decoded.
var ErrUnreadableImage = errors.New("unreadable image")

// Extractor converts an encoded image into the descriptor of its primary face.
type Extractor interface {
	// Extract returns the embedding of the first detected face, or ErrNoFaceDetected.
	Extract(ctx context.Context, image []byte) (Embedding, error)
}

// Slice returns the embedding as a float32 slice sharing no memory with e.
func (e Embedding) Slice() []float32 {
	out := make([]float32, Dim)
	copy(out, e[:])
	return out
}

// Float64 returns the embedding widened to float64.
func (e Embedding) Float64() []float64 {
	out := make([]float64, Dim)
	for i, v := range e {
		out[i] = float64(v)
	}
	return out
}

// EuclideanDistance is the L2 distance between two embeddings. dlib descriptors of the same
// person are typically closer than 0.6.
func EuclideanDistance(a, b Embedding) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
