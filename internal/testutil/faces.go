// Package testutil provides synthetic face data for tests: well separated embedding clusters
// and an extractor that returns preset embeddings for byte keys instead of running dlib.
package testutil

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/kozaktomas/facegate/internal/embedding"
)

// ClusterWidth is the number of dimensions raised for each synthetic identity.
const ClusterWidth = 10

// Center returns the center of synthetic cluster c: 0.25 in dimensions
// [c*ClusterWidth, (c+1)*ClusterWidth), zero elsewhere. Centers are about 1.1 apart.
func Center(c int) embedding.Embedding {
	var e embedding.Embedding
	start := (c * ClusterWidth) % embedding.Dim
	for i := start; i < start+ClusterWidth && i < embedding.Dim; i++ {
		e[i] = 0.25
	}
	return e
}

// Near returns a point of cluster c perturbed by uniform noise of at most ±0.01 per dimension.
func Near(c int, rng *rand.Rand) embedding.Embedding {
	e := Center(c)
	for i := range e {
		e[i] += float32(rng.Float64()*0.02 - 0.01)
	}
	return e
}

// Cluster returns n noisy points around cluster c.
func Cluster(c, n int, rng *rand.Rand) []embedding.Embedding {
	out := make([]embedding.Embedding, n)
	for i := range out {
		out[i] = Near(c, rng)
	}
	return out
}

// Far returns an embedding well away from every synthetic cluster.
func Far() embedding.Embedding {
	var e embedding.Embedding
	for i := range e {
		e[i] = -1
	}
	return e
}

// NewRand returns a deterministic random source.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed+1)) //nolint:gosec // test data
}

// FakeExtractor maps image bytes to embeddings. Unknown images have no face.
type FakeExtractor struct {
	mu    sync.Mutex
	faces map[string]embedding.Embedding
	errs  map[string]error
	calls int
	Err   error // returned for every call when set
}

// NewFakeExtractor creates an empty fake extractor.
func NewFakeExtractor() *FakeExtractor {
	return &FakeExtractor{
		faces: make(map[string]embedding.Embedding),
		errs:  make(map[string]error),
	}
}

// Add registers the embedding returned for image.
func (f *FakeExtractor) Add(image string, e embedding.Embedding) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faces[image] = e
	return []byte(image)
}

// AddError registers the error returned for image.
func (f *FakeExtractor) AddError(image string, err error) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[image] = err
	return []byte(image)
}

// Extract implements embedding.Extractor.
func (f *FakeExtractor) Extract(ctx context.Context, image []byte) (embedding.Embedding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := ctx.Err(); err != nil {
		return embedding.Embedding{}, err
	}
	if f.Err != nil {
		return embedding.Embedding{}, f.Err
	}
	if err, ok := f.errs[string(image)]; ok {
		return embedding.Embedding{}, err
	}
	e, ok := f.faces[string(image)]
	if !ok {
		return embedding.Embedding{}, embedding.ErrNoFaceDetected
	}
	return e, nil
}

// Calls returns how many times Extract was called.
func (f *FakeExtractor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
