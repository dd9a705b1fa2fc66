package embedding

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/kozaktomas/facegate/internal/imaging"
)

// DlibExtractor extracts descriptors with dlib's HOG (or CNN) detector, 5-point shape
// predictor and ResNet descriptor, through go-face.
//
// The models directory must contain shape_predictor_5_face_landmarks.dat,
// dlib_face_recognition_resnet_model_v1.dat and, when CNN detection is enabled,
// mmod_human_face_detector.dat.
type DlibExtractor struct {
	rec    *face.Recognizer
	useCNN bool
	opts   imaging.Options
	mu     sync.Mutex
}

// NewDlibExtractor loads the dlib models from modelsDir.
func NewDlibExtractor(modelsDir string, useCNN bool, opts imaging.Options) (*DlibExtractor, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("loading face models from %s: %w", modelsDir, err)
	}
	return &DlibExtractor{rec: rec, useCNN: useCNN, opts: opts}, nil
}

// Extract normalizes the image to JPEG (go-face only reads JPEG) and returns the descriptor
// of the first detected face. Additional faces are ignored.
func (d *DlibExtractor) Extract(ctx context.Context, image []byte) (Embedding, error) {
	if err := ctx.Err(); err != nil {
		return Embedding{}, err
	}

	jpegData, err := imaging.Normalize(image, d.opts)
	if err != nil {
		return Embedding{}, fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}

	d.mu.Lock()
	var faces []face.Face
	if d.useCNN {
		faces, err = d.rec.RecognizeCNN(jpegData)
	} else {
		faces, err = d.rec.Recognize(jpegData)
	}
	d.mu.Unlock()

	if err != nil {
		var loadErr face.ImageLoadError
		if errors.As(err, &loadErr) {
			return Embedding{}, fmt.Errorf("%w: %v", ErrUnreadableImage, loadErr)
		}
		return Embedding{}, fmt.Errorf("detecting faces: %w", err)
	}
	if len(faces) == 0 {
		return Embedding{}, ErrNoFaceDetected
	}
	if len(faces) > 1 {
		log.Printf("Image contains %d faces, using the first one", len(faces))
	}

	return Embedding(faces[0].Descriptor), nil
}

// Close releases the dlib models.
func (d *DlibExtractor) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rec != nil {
		d.rec.Close()
		d.rec = nil
	}
}
