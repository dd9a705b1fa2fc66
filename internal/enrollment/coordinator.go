// Package enrollment owns the embedding store and the published recognition model, and is the
// only writer of either. Enrollment completion, retraining and persistence run one at a time;
// recognition reads the published model without taking the writer lock.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/facegate/internal/artifact"
	"github.com/kozaktomas/facegate/internal/classifier"
	"github.com/kozaktomas/facegate/internal/embedding"
	"github.com/kozaktomas/facegate/internal/recognition"
	"github.com/kozaktomas/facegate/internal/store"
)

// ErrNoUsableImages is returned when none of the images of an enrollment yielded a face.
// Nothing is stored in that case.
var ErrNoUsableImages = errors.New("no usable face images")

// ErrInvalidLabel is returned for labels that are not positive.
var ErrInvalidLabel = errors.New("identity label must be positive")

// Status tells a successful enrollment apart from one that could only be stored.
type Status string

const (
	// StatusTrained means the embeddings were stored and a new model is live.
	StatusTrained Status = "trained"
	// StatusStoredUntrained means the embeddings were stored but training needs a second
	// identity; recognition stays unavailable until then.
	StatusStoredUntrained Status = "stored_untrained"
)

// Result summarizes one CompleteEnrollment call.
type Result struct {
	Label        int    `json:"label"`
	Status       Status `json:"status"`
	Images       int    `json:"images"`
	Accepted     int    `json:"accepted"`
	NoFace       int    `json:"no_face"`
	Unreadable   int    `json:"unreadable"`
	ModelVersion uint64 `json:"model_version,omitempty"`
}

// Progress is called after each image has been processed.
type Progress func(done, total int)

// Config holds the coordinator's file locations and training parameters.
type Config struct {
	StorePath      string
	ClassifierPath string
	Training       classifier.Options
	Policy         recognition.Policy
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithLabelFloor makes BeginEnrollment allocate labels above the value returned by floor,
// typically the highest label known to the person record store.
func WithLabelFloor(floor func(ctx context.Context) (int, error)) Option {
	return func(c *Coordinator) {
		c.labelFloor = floor
	}
}

// Coordinator runs enrollments and recognitions against one embedding store.
type Coordinator struct {
	cfg        Config
	extractor  embedding.Extractor
	engine     *recognition.Engine
	labelFloor func(ctx context.Context) (int, error)

	// store is replaced, never modified, so readers load it without taking mu.
	store atomic.Pointer[store.Store]

	mu            sync.Mutex // serializes writers; guards the fields below
	version       uint64
	lastAllocated int
}

// Stats describes the current state of the coordinator.
type Stats struct {
	Ready        bool        `json:"ready"`
	Identities   int         `json:"identities"`
	Embeddings   int         `json:"embeddings"`
	PerIdentity  map[int]int `json:"per_identity"`
	ModelVersion uint64      `json:"model_version,omitempty"`
	ModelID      string      `json:"model_id,omitempty"`
	TrainedAt    *time.Time  `json:"trained_at,omitempty"`
	Classes      int         `json:"classes"`
}

// Open loads the persisted store and classifier and publishes the classifier if it matches
// the store. A missing artifact is a cold start; a corrupt one is returned as an error.
// When the classifier was trained on a different number of samples than the store holds
// (a crash between the two writes), Open retrains once.
func Open(ctx context.Context, cfg Config, extractor embedding.Extractor, opts ...Option) (*Coordinator, error) {
	st, err := store.Load(cfg.StorePath)
	if err != nil {
		return nil, err
	}

	snap, err := classifier.Load(cfg.ClassifierPath)
	if err != nil && !errors.Is(err, artifact.ErrNotFound) {
		return nil, err
	}

	c := newCoordinator(cfg, extractor, st, opts...)
	if snap != nil {
		c.version = snap.Version
	}

	switch {
	case snap != nil && snap.Samples == st.Len():
		model, err := recognition.NewModel(snap, st.Embeddings, st.Labels)
		if err == nil {
			c.engine.Publish(model)
			log.Printf("Loaded classifier v%d: %d identities, %d embeddings", snap.Version, snap.NumClasses(), st.Len())
			return c, nil
		}
		log.Printf("Classifier does not match embedding store (%v), retraining", err)
	case snap != nil:
		log.Printf("Classifier was trained on %d embeddings but the store holds %d, retraining", snap.Samples, st.Len())
	case len(st.DistinctLabels()) >= 2:
		log.Printf("No classifier found for %d stored embeddings, retraining", st.Len())
	default:
		log.Printf("Embedding store holds %d embeddings, no classifier yet", st.Len())
		return c, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.retrainLocked(ctx, st); err != nil && !errors.Is(err, classifier.ErrInsufficientClasses) {
		return nil, fmt.Errorf("reconciling classifier with embedding store: %w", err)
	}
	return c, nil
}

// New creates a coordinator over an in-memory store without touching the filesystem until
// the first enrollment. A nil store starts empty.
func New(cfg Config, extractor embedding.Extractor, st *store.Store, opts ...Option) *Coordinator {
	if st == nil {
		st = store.New()
	}
	return newCoordinator(cfg, extractor, st, opts...)
}

func newCoordinator(cfg Config, extractor embedding.Extractor, st *store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:       cfg,
		extractor: extractor,
		engine:    recognition.NewEngine(cfg.Policy),
	}
	c.store.Store(st)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BeginEnrollment allocates the label for a new identity: one above the highest label in
// the store, handed out earlier by this coordinator, or reported by the label floor.
// The store is not modified.
func (c *Coordinator) BeginEnrollment(ctx context.Context) (int, error) {
	floor := 0
	if c.labelFloor != nil {
		var err error
		if floor, err = c.labelFloor(ctx); err != nil {
			return 0, fmt.Errorf("reading label floor: %w", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastAllocated = max(c.store.Load().MaxLabel(), c.lastAllocated, floor) + 1
	return c.lastAllocated, nil
}

// CompleteEnrollment extracts a face from every image, stores the embeddings under label
// and retrains. Images without a face, or that cannot be decoded, are skipped and counted.
// If no image is usable, ErrNoUsableImages is returned and nothing changes.
//
// When only one identity exists the embeddings are still persisted and the result status is
// StatusStoredUntrained. Any other training or persistence failure leaves the store, the
// files and the published model as they were.
func (c *Coordinator) CompleteEnrollment(ctx context.Context, label int, images [][]byte, progress Progress) (*Result, error) {
	if label <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLabel, label)
	}

	res := &Result{Label: label, Images: len(images)}
	embs := make([]embedding.Embedding, 0, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := c.extractor.Extract(ctx, img)
		switch {
		case err == nil:
			embs = append(embs, e)
		case errors.Is(err, embedding.ErrNoFaceDetected):
			res.NoFace++
		case errors.Is(err, embedding.ErrUnreadableImage):
			log.Printf("Skipping image %d for label %d: %v", i+1, label, err)
			res.Unreadable++
		default:
			return nil, fmt.Errorf("extracting image %d: %w", i+1, err)
		}
		if progress != nil {
			progress(i+1, len(images))
		}
	}
	res.Accepted = len(embs)
	if len(embs) == 0 {
		return res, fmt.Errorf("%w: %d images, %d without a face, %d unreadable",
			ErrNoUsableImages, res.Images, res.NoFace, res.Unreadable)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.store.Load().Clone()
	next.Append(embs, label)
	c.lastAllocated = max(c.lastAllocated, label)

	snap, err := c.retrainLocked(ctx, next)
	if errors.Is(err, classifier.ErrInsufficientClasses) {
		if err := next.Save(c.cfg.StorePath); err != nil {
			return nil, err
		}
		c.store.Store(next)
		res.Status = StatusStoredUntrained
		log.Printf("Stored %d embeddings for label %d; recognition needs a second identity", res.Accepted, label)
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	res.Status = StatusTrained
	res.ModelVersion = snap.Version
	log.Printf("Enrolled label %d with %d of %d images, classifier v%d", label, res.Accepted, res.Images, snap.Version)
	return res, nil
}

// Retrain refits the classifier over the whole store and publishes it.
func (c *Coordinator) Retrain(ctx context.Context) (*classifier.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retrainLocked(ctx, c.store.Load())
}

// retrainLocked trains on st, persists st and the new snapshot, and publishes the model.
// On success c.store becomes st. Must be called with c.mu held.
func (c *Coordinator) retrainLocked(ctx context.Context, st *store.Store) (*classifier.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	snap, err := classifier.Train(st.Embeddings, st.Labels, c.cfg.Training)
	if err != nil {
		return nil, fmt.Errorf("training classifier: %w", err)
	}
	snap.Version = c.version + 1

	model, err := recognition.NewModel(snap, st.Embeddings, st.Labels)
	if err != nil {
		return nil, err
	}

	current := c.store.Load()
	if st != current {
		if err := st.Save(c.cfg.StorePath); err != nil {
			return nil, err
		}
	}
	if err := snap.Save(c.cfg.ClassifierPath); err != nil {
		if st != current {
			if rbErr := current.Save(c.cfg.StorePath); rbErr != nil {
				log.Printf("Failed to restore embedding store after classifier save error: %v", rbErr)
			}
		}
		return nil, err
	}

	c.store.Store(st)
	c.version = snap.Version
	c.engine.Publish(model)
	log.Printf("Trained classifier v%d on %d embeddings of %d identities in %s",
		snap.Version, snap.Samples, snap.NumClasses(), time.Since(start).Round(time.Millisecond))
	return snap, nil
}

// Recognize extracts the face from image and classifies it. An image without a face yields
// OutcomeNoFace rather than an error.
func (c *Coordinator) Recognize(ctx context.Context, image []byte) (recognition.Result, error) {
	if !c.engine.Ready() {
		return recognition.Result{}, recognition.ErrModelNotReady
	}

	e, err := c.extractor.Extract(ctx, image)
	if errors.Is(err, embedding.ErrNoFaceDetected) {
		return recognition.Result{Outcome: recognition.OutcomeNoFace}, nil
	}
	if err != nil {
		return recognition.Result{}, fmt.Errorf("extracting face: %w", err)
	}
	return c.engine.Recognize(e)
}

// RecognizeEmbedding classifies an already extracted embedding.
func (c *Coordinator) RecognizeEmbedding(e embedding.Embedding) (recognition.Result, error) {
	return c.engine.Recognize(e)
}

// ModelIsReady reports whether a trained model is published.
func (c *Coordinator) ModelIsReady() bool {
	return c.engine.Ready()
}

// Stats returns a summary of the store and the published model.
func (c *Coordinator) Stats() Stats {
	st := c.store.Load()
	counts := st.CountByLabel()
	total := st.Len()

	s := Stats{
		Identities:  len(counts),
		Embeddings:  total,
		PerIdentity: counts,
	}
	if m := c.engine.Active(); m != nil {
		trainedAt := m.Snapshot.TrainedAt
		s.Ready = true
		s.ModelVersion = m.Snapshot.Version
		s.ModelID = m.Snapshot.ID
		s.TrainedAt = &trainedAt
		s.Classes = m.Snapshot.NumClasses()
	}
	return s
}
