// Package store keeps the labeled embedding collection the classifier is trained on.
package store

import (
	"errors"
	"fmt"
	"slices"

	"github.com/kozaktomas/facegate/internal/artifact"
	"github.com/kozaktomas/facegate/internal/embedding"
)

const artifactKind = "embedding-store"

// Store is an ordered collection of embeddings with a parallel label slice.
// Embeddings[i] belongs to the identity Labels[i]; both slices always have the same length.
// A Store is not safe for concurrent mutation; the enrollment coordinator owns it.
type Store struct {
	Embeddings []embedding.Embedding
	Labels     []int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		Embeddings: []embedding.Embedding{},
		Labels:     []int{},
	}
}

// Load reads a store from path. A missing file is a cold start and yields an empty store;
// an unreadable or inconsistent file is returned as artifact.ErrCorrupt.
func Load(path string) (*Store, error) {
	var s Store
	err := artifact.Load(path, artifactKind, &s)
	if errors.Is(err, artifact.ErrNotFound) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading embedding store: %w", err)
	}

	if len(s.Embeddings) != len(s.Labels) {
		return nil, fmt.Errorf("loading embedding store: %w: %d embeddings but %d labels",
			artifact.ErrCorrupt, len(s.Embeddings), len(s.Labels))
	}
	for i, label := range s.Labels {
		if label <= 0 {
			return nil, fmt.Errorf("loading embedding store: %w: invalid label %d at row %d",
				artifact.ErrCorrupt, label, i)
		}
	}
	if s.Embeddings == nil {
		s.Embeddings = []embedding.Embedding{}
	}
	if s.Labels == nil {
		s.Labels = []int{}
	}
	return &s, nil
}

// Save atomically writes the store to path.
func (s *Store) Save(path string) error {
	if err := artifact.Save(path, artifactKind, s); err != nil {
		return fmt.Errorf("saving embedding store: %w", err)
	}
	return nil
}

// Append adds the embeddings to the end of the store, all under label.
func (s *Store) Append(embeddings []embedding.Embedding, label int) {
	s.Embeddings = append(s.Embeddings, embeddings...)
	for range embeddings {
		s.Labels = append(s.Labels, label)
	}
}

// Clone returns a deep copy of the store.
func (s *Store) Clone() *Store {
	return &Store{
		Embeddings: slices.Clone(s.Embeddings),
		Labels:     slices.Clone(s.Labels),
	}
}

// Len returns the number of stored embeddings.
func (s *Store) Len() int {
	return len(s.Labels)
}

// MaxLabel returns the highest label present, or 0 for an empty store.
func (s *Store) MaxLabel() int {
	if len(s.Labels) == 0 {
		return 0
	}
	return slices.Max(s.Labels)
}

// DistinctLabels returns the labels present in the store in ascending order.
func (s *Store) DistinctLabels() []int {
	labels := slices.Clone(s.Labels)
	slices.Sort(labels)
	return slices.Compact(labels)
}

// CountByLabel returns the number of embeddings stored for each label.
func (s *Store) CountByLabel() map[int]int {
	counts := make(map[int]int)
	for _, label := range s.Labels {
		counts[label]++
	}
	return counts
}
