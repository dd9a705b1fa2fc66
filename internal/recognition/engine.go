// Package recognition decides whether a face embedding belongs to an enrolled identity.
package recognition

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/kozaktomas/facegate/internal/classifier"
	"github.com/kozaktomas/facegate/internal/embedding"
)

// Outcome tags a recognition result.
type Outcome string

const (
	OutcomeMatch    Outcome = "match"    // an enrolled identity was accepted
	OutcomeRejected Outcome = "rejected" // a face was analyzed but nobody matched confidently
	OutcomeNoFace   Outcome = "no_face"  // the image had no face to analyze
)

// ErrModelNotReady is returned while no trained model has been published,
// e.g. before the second identity is enrolled.
var ErrModelNotReady = errors.New("recognition model not ready")

// ErrInternalConsistency means a snapshot disagrees with its encoder or training data.
// It indicates a bug in how models are built or published.
var ErrInternalConsistency = errors.New("recognition model is internally inconsistent")

// Policy holds the acceptance rules.
type Policy struct {
	// Threshold is the minimum top-class probability; a match needs confidence > Threshold.
	Threshold float64
	// MaxDistance rejects faces whose nearest enrolled embedding is farther away (Euclidean).
	// Zero disables the check.
	MaxDistance float64
}

// DefaultPolicy returns the acceptance rules used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{Threshold: 0.3, MaxDistance: 0.6}
}

// Result is the outcome of one recognition.
type Result struct {
	Outcome      Outcome `json:"outcome"`
	Label        int     `json:"label,omitempty"`
	Confidence   float64 `json:"confidence"`
	Distance     float64 `json:"distance,omitempty"` // to the nearest enrolled embedding
	ModelVersion uint64  `json:"model_version,omitempty"`
}

// Model is the unit that gets published: a classifier snapshot, its encoder (inside the
// snapshot) and the nearest-neighbour index over the embeddings it was trained on.
type Model struct {
	Snapshot *classifier.Snapshot
	Index    *Index
}

// NewModel pairs a snapshot with an index over its training data.
func NewModel(snap *classifier.Snapshot, embeddings []embedding.Embedding, labels []int) (*Model, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrInternalConsistency)
	}
	if len(embeddings) != len(labels) || len(labels) != snap.Samples {
		return nil, fmt.Errorf("%w: snapshot trained on %d samples, got %d embeddings and %d labels",
			ErrInternalConsistency, snap.Samples, len(embeddings), len(labels))
	}
	for _, label := range labels {
		if _, ok := snap.Encoder.Index(label); !ok {
			return nil, fmt.Errorf("%w: label %d missing from encoder", ErrInternalConsistency, label)
		}
	}
	return &Model{Snapshot: snap, Index: NewIndex(embeddings, labels)}, nil
}

// Engine classifies embeddings against the currently published model. Recognize never
// blocks on training: a new model is built elsewhere and swapped in with Publish.
type Engine struct {
	policy Policy
	active atomic.Pointer[Model]
}

// NewEngine creates an engine with no model; Recognize returns ErrModelNotReady until
// Publish is called.
func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// Publish atomically replaces the active model.
func (e *Engine) Publish(m *Model) {
	e.active.Store(m)
}

// Active returns the published model, or nil.
func (e *Engine) Active() *Model {
	return e.active.Load()
}

// Ready reports whether a model has been published.
func (e *Engine) Ready() bool {
	return e.active.Load() != nil
}

// Policy returns the acceptance rules.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Recognize classifies one embedding.
func (e *Engine) Recognize(emb embedding.Embedding) (Result, error) {
	m := e.active.Load()
	if m == nil {
		return Result{}, ErrModelNotReady
	}

	probs := m.Snapshot.PredictProba(emb)
	if len(probs) == 0 {
		return Result{}, fmt.Errorf("%w: empty probability vector", ErrInternalConsistency)
	}
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	confidence := probs[best]

	label, err := m.Snapshot.Encoder.Inverse(best)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInternalConsistency, err)
	}

	res := Result{
		Outcome:      OutcomeMatch,
		Label:        label,
		Confidence:   confidence,
		ModelVersion: m.Snapshot.Version,
	}

	if e.policy.MaxDistance > 0 && m.Index != nil {
		if _, dist, ok := m.Index.Nearest(emb); ok {
			res.Distance = dist
			if dist > e.policy.MaxDistance {
				return reject(res), nil
			}
		}
	}
	if confidence <= e.policy.Threshold {
		return reject(res), nil
	}
	return res, nil
}

func reject(res Result) Result {
	res.Outcome = OutcomeRejected
	res.Label = 0
	return res
}
