// Package classifier trains the probability-calibrated linear SVM that maps a face embedding
// to enrolled identities.
//
// Multi-class training is one-vs-one: a binary linear SVM for every pair of classes, each with
// a Platt sigmoid fitted on cross-validated decision values. At prediction time the pairwise
// probabilities are coupled into a single distribution. Every training pass is a full refit
// over the whole embedding store; there is no incremental update.
package classifier

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/facegate/internal/artifact"
	"github.com/kozaktomas/facegate/internal/embedding"
	"gonum.org/v1/gonum/floats"
)

const artifactKind = "classifier"

// ErrInsufficientClasses is returned when fewer than two identities are available to train on.
var ErrInsufficientClasses = errors.New("at least two identities are required to train the classifier")

// Options configures training.
type Options struct {
	C                float64 // SVM regularization, larger fits the training data harder
	MaxIter          int     // coordinate descent passes per binary problem
	Tolerance        float64 // stopping tolerance on the projected gradient
	ProbabilityFolds int     // cross-validation folds for sigmoid calibration, <2 uses in-sample scores
	Seed             uint64  // seeds sample shuffling so training is reproducible
}

// DefaultOptions returns the training parameters used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		C:                1.0,
		MaxIter:          1000,
		Tolerance:        0.1,
		ProbabilityFolds: 5,
		Seed:             1,
	}
}

// PairModel is the calibrated binary classifier for classes Positive vs Negative.
type PairModel struct {
	Positive int
	Negative int
	Weights  []float64
	Bias     float64
	ProbA    float64
	ProbB    float64
}

// Snapshot is a trained classifier together with the label encoder its class indices refer
// to. The two are only ever persisted, loaded and published together.
type Snapshot struct {
	Version   uint64
	ID        string
	TrainedAt time.Time
	Samples   int
	Dim       int
	Encoder   LabelEncoder
	Pairs     []PairModel
}

// Train fits a new snapshot over all embeddings. labels[i] is the identity of embeddings[i].
func Train(embeddings []embedding.Embedding, labels []int, opts Options) (*Snapshot, error) {
	if len(embeddings) != len(labels) {
		return nil, fmt.Errorf("training data mismatch: %d embeddings, %d labels", len(embeddings), len(labels))
	}

	enc := NewLabelEncoder(labels)
	if enc.Len() < 2 {
		return nil, fmt.Errorf("%w: found %d", ErrInsufficientClasses, enc.Len())
	}
	if opts.C <= 0 {
		return nil, fmt.Errorf("invalid regularization C=%v", opts.C)
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = DefaultOptions().MaxIter
	}

	classes, err := enc.Transform(labels)
	if err != nil {
		return nil, err
	}

	x := make([][]float64, len(embeddings))
	for i := range embeddings {
		x[i] = embeddings[i].Float64()
	}

	byClass := make([][]int, enc.Len())
	for i, c := range classes {
		byClass[c] = append(byClass[c], i)
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)) //nolint:gosec // reproducible shuffling, not security

	k := enc.Len()
	pairs := make([]PairModel, 0, k*(k-1)/2)
	for i := range k {
		for j := i + 1; j < k; j++ {
			var px [][]float64
			var py []float64
			for _, idx := range byClass[i] {
				px = append(px, x[idx])
				py = append(py, 1)
			}
			for _, idx := range byClass[j] {
				px = append(px, x[idx])
				py = append(py, -1)
			}

			m := trainBinary(px, py, opts, rng)
			dec := crossValidatedDecisions(px, py, m, opts, rng)
			a, b := fitSigmoid(dec, py)

			pairs = append(pairs, PairModel{
				Positive: i,
				Negative: j,
				Weights:  m.w,
				Bias:     m.b,
				ProbA:    a,
				ProbB:    b,
			})
		}
	}

	return &Snapshot{
		ID:        uuid.NewString(),
		TrainedAt: time.Now().UTC(),
		Samples:   len(embeddings),
		Dim:       embedding.Dim,
		Encoder:   enc,
		Pairs:     pairs,
	}, nil
}

// NumClasses returns the number of identities the snapshot distinguishes.
func (s *Snapshot) NumClasses() int {
	return s.Encoder.Len()
}

// PredictProba returns the probability of every class index for the embedding.
// The probabilities sum to one.
func (s *Snapshot) PredictProba(e embedding.Embedding) []float64 {
	k := s.Encoder.Len()
	x := e.Float64()

	r := make([][]float64, k)
	for i := range r {
		r[i] = make([]float64, k)
	}
	for _, p := range s.Pairs {
		dec := floats.Dot(p.Weights, x) + p.Bias
		prob := sigmoidPredict(dec, p.ProbA, p.ProbB)
		prob = math.Min(math.Max(prob, minProbability), 1-minProbability)
		r[p.Positive][p.Negative] = prob
		r[p.Negative][p.Positive] = 1 - prob
	}
	return coupleProbabilities(r)
}

// Validate checks that the snapshot is internally consistent: every class pair is present
// exactly once and every weight vector matches the embedding dimension.
func (s *Snapshot) Validate() error {
	k := s.Encoder.Len()
	if k < 2 {
		return fmt.Errorf("snapshot has %d classes", k)
	}
	if s.Dim != embedding.Dim {
		return fmt.Errorf("snapshot dimension %d, expected %d", s.Dim, embedding.Dim)
	}
	for i := 1; i < k; i++ {
		if s.Encoder.Classes[i] <= s.Encoder.Classes[i-1] {
			return errors.New("snapshot encoder classes are not strictly ascending")
		}
	}
	if want := k * (k - 1) / 2; len(s.Pairs) != want {
		return fmt.Errorf("snapshot has %d pair models, expected %d", len(s.Pairs), want)
	}

	seen := make(map[[2]int]bool, len(s.Pairs))
	for _, p := range s.Pairs {
		if p.Positive < 0 || p.Negative >= k || p.Positive >= p.Negative {
			return fmt.Errorf("invalid pair %d/%d", p.Positive, p.Negative)
		}
		key := [2]int{p.Positive, p.Negative}
		if seen[key] {
			return fmt.Errorf("duplicate pair %d/%d", p.Positive, p.Negative)
		}
		seen[key] = true
		if len(p.Weights) != s.Dim {
			return fmt.Errorf("pair %d/%d has %d weights, expected %d", p.Positive, p.Negative, len(p.Weights), s.Dim)
		}
	}
	return nil
}

// Save atomically writes the snapshot, encoder included, to path.
func (s *Snapshot) Save(path string) error {
	if err := artifact.Save(path, artifactKind, s); err != nil {
		return fmt.Errorf("saving classifier: %w", err)
	}
	return nil
}

// Load reads a snapshot from path. A missing file is reported as artifact.ErrNotFound, an
// undecodable or inconsistent one as artifact.ErrCorrupt.
func Load(path string) (*Snapshot, error) {
	var s Snapshot
	if err := artifact.Load(path, artifactKind, &s); err != nil {
		return nil, fmt.Errorf("loading classifier: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("loading classifier: %w: %v", artifact.ErrCorrupt, err)
	}
	return &s, nil
}
