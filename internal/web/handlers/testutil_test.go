package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/facegate/internal/classifier"
	"github.com/kozaktomas/facegate/internal/config"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/database/mock"
	"github.com/kozaktomas/facegate/internal/embedding"
	"github.com/kozaktomas/facegate/internal/enrollment"
	"github.com/kozaktomas/facegate/internal/imagestore"
	"github.com/kozaktomas/facegate/internal/recognition"
	"github.com/kozaktomas/facegate/internal/testutil"
)

// testEnv bundles the dependencies shared by the handlers.
type testEnv struct {
	config      *config.Config
	extractor   *testutil.FakeExtractor
	coordinator *enrollment.Coordinator
	persons     *mock.MockPersonStore
	images      *imagestore.Store
	jobs        *JobManager
}

// testConfig creates a minimal config for testing
func testConfig(dir string) *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{
			Dir:        dir,
			Embeddings: "embeddings.gob",
			Classifier: "classifier.gob",
		},
		Recognition: config.RecognitionConfig{Threshold: 0.3, MaxDistance: 0.6},
		Images:      config.ImagesConfig{Dir: filepath.Join(dir, "images"), MaxUploadMB: 4},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, func(fx *testutil.FakeExtractor) embedding.Extractor { return fx })
}

// newTestEnvWith lets a test wrap the fake extractor the coordinator uses.
func newTestEnvWith(t *testing.T, wrap func(*testutil.FakeExtractor) embedding.Extractor) *testEnv {
	t.Helper()
	cfg := testConfig(t.TempDir())

	images, err := imagestore.New(cfg.Images.Dir)
	if err != nil {
		t.Fatalf("failed to create image store: %v", err)
	}

	persons := mock.NewMockPersonStore()
	fx := testutil.NewFakeExtractor()
	coord := enrollment.New(enrollment.Config{
		StorePath:      cfg.Storage.EmbeddingsPath(),
		ClassifierPath: cfg.Storage.ClassifierPath(),
		Training:       classifier.DefaultOptions(),
		Policy:         recognition.Policy{Threshold: cfg.Recognition.Threshold, MaxDistance: cfg.Recognition.MaxDistance},
	}, wrap(fx), nil, enrollment.WithLabelFloor(persons.MaxLabel))

	return &testEnv{
		config:      cfg,
		extractor:   fx,
		coordinator: coord,
		persons:     persons,
		images:      images,
		jobs:        NewJobManager(),
	}
}

func (e *testEnv) personsHandler() *PersonsHandler {
	return NewPersonsHandler(e.config, e.coordinator, e.persons, e.images)
}

func (e *testEnv) trainHandler() *TrainHandler {
	return NewTrainHandler(e.coordinator, e.persons, e.images, e.jobs)
}

func (e *testEnv) recognizeHandler() *RecognizeHandler {
	return NewRecognizeHandler(e.config, e.coordinator, e.persons)
}

// addPerson registers a person record and an empty photo folder under a fresh label.
func (e *testEnv) addPerson(t *testing.T, name string) int {
	t.Helper()
	label, err := e.coordinator.BeginEnrollment(context.Background())
	if err != nil {
		t.Fatalf("BeginEnrollment failed: %v", err)
	}
	if err := e.images.Create(label); err != nil {
		t.Fatalf("failed to create folder: %v", err)
	}
	e.persons.AddPerson(database.Person{
		Label:       label,
		Name:        name,
		Surname:     "Test",
		PhoneNumber: "0600000000",
		CIN:         fmt.Sprintf("CIN%d", label),
	})
	return label
}

// enrollCluster stores n photos of synthetic cluster c for label and enrolls them directly.
func (e *testEnv) enrollCluster(t *testing.T, label, c, n int, seed uint64) {
	t.Helper()
	rng := testutil.NewRand(seed)
	images := make([][]byte, n)
	for i := range images {
		images[i] = e.extractor.Add(fmt.Sprintf("label-%d-%d", label, i), testutil.Near(c, rng))
	}
	if _, err := e.coordinator.CompleteEnrollment(context.Background(), label, images, nil); err != nil {
		t.Fatalf("CompleteEnrollment(%d) failed: %v", label, err)
	}
}

// facePhoto returns a decodable photo that the fake extractor maps to a face of cluster c.
func (e *testEnv) facePhoto(seed uint64, c int) []byte {
	data := testutil.NoisePNG(seed)
	e.extractor.Add(string(data), testutil.Near(c, testutil.NewRand(seed)))
	return data
}

// multipartImages builds a multipart body with the given files under the "images" field.
func multipartImages(t *testing.T, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, data := range files {
		fw, err := mw.CreateFormFile("images", name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return &body, mw.FormDataContentType()
}

// gatedExtractor blocks every extraction until open is closed or the context ends.
type gatedExtractor struct {
	inner embedding.Extractor
	open  chan struct{}
}

func newGatedExtractor(inner embedding.Extractor) *gatedExtractor {
	return &gatedExtractor{inner: inner, open: make(chan struct{})}
}

func (g *gatedExtractor) Extract(ctx context.Context, image []byte) (embedding.Embedding, error) {
	select {
	case <-g.open:
		return g.inner.Extract(ctx, image)
	case <-ctx.Done():
		return embedding.Embedding{}, ctx.Err()
	}
}

// waitForJob polls until the job reaches a terminal state
func waitForJob(t *testing.T, jm *JobManager, id string) TrainJobView {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if job := jm.GetJob(id); job != nil && isJobTerminal(job.GetStatus()) {
			return job.View()
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish in time", id)
	return TrainJobView{}
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
