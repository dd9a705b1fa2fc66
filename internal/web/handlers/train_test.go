package handlers

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/facegate/internal/embedding"
	"github.com/kozaktomas/facegate/internal/enrollment"
	"github.com/kozaktomas/facegate/internal/testutil"
)

func trainRequest(label int) *http.Request {
	id := strconv.Itoa(label)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/persons/"+id+"/train", nil)
	return requestWithChiParams(req, map[string]string{"id": id})
}

// startTraining uploads photos of cluster c for label and starts a train job.
func startTraining(t *testing.T, env *testEnv, label, c int, seeds ...uint64) string {
	t.Helper()
	for _, seed := range seeds {
		if _, err := env.images.Save(label, env.facePhoto(seed, c)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	recorder := httptest.NewRecorder()
	env.trainHandler().Start(recorder, trainRequest(label))
	assertStatusCode(t, recorder, http.StatusAccepted)

	var resp map[string]any
	parseJSONResponse(t, recorder, &resp)
	jobID, _ := resp["job_id"].(string)
	if jobID == "" {
		t.Fatalf("expected job_id in response, got %v", resp)
	}
	return jobID
}

func TestTrainHandler_FirstPersonIsStoredUntrained(t *testing.T) {
	env := newTestEnv(t)
	label := env.addPerson(t, "First")

	view := waitForJob(t, env.jobs, startTraining(t, env, label, 0, 1, 2, 3))

	if view.Status != JobStatusCompleted {
		t.Fatalf("expected completed job, got %s (%s)", view.Status, view.Error)
	}
	if view.Result == nil || view.Result.Status != enrollment.StatusStoredUntrained {
		t.Errorf("expected stored_untrained result, got %+v", view.Result)
	}
	if view.Processed != 3 || view.Total != 3 {
		t.Errorf("expected 3/3 processed, got %d/%d", view.Processed, view.Total)
	}
	if env.coordinator.ModelIsReady() {
		t.Error("model must not be ready with a single identity")
	}
}

func TestTrainHandler_SecondPersonTrainsModel(t *testing.T) {
	env := newTestEnv(t)
	first := env.addPerson(t, "First")
	env.enrollCluster(t, first, 0, 4, 10)
	second := env.addPerson(t, "Second")

	view := waitForJob(t, env.jobs, startTraining(t, env, second, 1, 21, 22, 23, 24))

	if view.Status != JobStatusCompleted {
		t.Fatalf("expected completed job, got %s (%s)", view.Status, view.Error)
	}
	if view.Result.Status != enrollment.StatusTrained || view.Result.Accepted != 4 {
		t.Errorf("unexpected result: %+v", view.Result)
	}
	if !env.coordinator.ModelIsReady() {
		t.Error("expected model to be ready")
	}

	// Enrolled photos are not enrolled twice.
	recorder := httptest.NewRecorder()
	env.trainHandler().Start(recorder, trainRequest(second))
	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "no new images to enroll")
}

func TestTrainHandler_NoUsableImagesFails(t *testing.T) {
	env := newTestEnv(t)
	label := env.addPerson(t, "Blurry")
	// A decodable image the extractor finds no face in.
	if _, err := env.images.Save(label, testutil.NoisePNG(999)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	recorder := httptest.NewRecorder()
	env.trainHandler().Start(recorder, trainRequest(label))
	assertStatusCode(t, recorder, http.StatusAccepted)
	var resp map[string]any
	parseJSONResponse(t, recorder, &resp)

	view := waitForJob(t, env.jobs, resp["job_id"].(string))
	if view.Status != JobStatusFailed {
		t.Fatalf("expected failed job, got %s", view.Status)
	}
	if !strings.Contains(view.Error, enrollment.ErrNoUsableImages.Error()) {
		t.Errorf("expected no usable images error, got %q", view.Error)
	}
	if view.Result == nil || view.Result.NoFace != 1 {
		t.Errorf("expected one image without a face, got %+v", view.Result)
	}
}

func TestTrainHandler_Start_Errors(t *testing.T) {
	env := newTestEnv(t)
	handler := env.trainHandler()

	t.Run("unknown person", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		handler.Start(recorder, trainRequest(77))
		assertStatusCode(t, recorder, http.StatusNotFound)
	})

	t.Run("no photos", func(t *testing.T) {
		label := env.addPerson(t, "Nobody")
		recorder := httptest.NewRecorder()
		handler.Start(recorder, trainRequest(label))
		assertStatusCode(t, recorder, http.StatusBadRequest)
		assertJSONError(t, recorder, "no new images to enroll")
	})

	t.Run("missing folder", func(t *testing.T) {
		label := env.addPerson(t, "Gone")
		if err := os.RemoveAll(env.images.Dir(label)); err != nil {
			t.Fatal(err)
		}
		recorder := httptest.NewRecorder()
		handler.Start(recorder, trainRequest(label))
		assertStatusCode(t, recorder, http.StatusBadRequest)
		assertJSONError(t, recorder, "person folder does not exist")
	})
}

func TestTrainHandler_StatusAndCancel(t *testing.T) {
	env := newTestEnv(t)
	handler := env.trainHandler()

	job, _ := env.jobs.CreateIfIdle("job-1", 3)
	ctx, cancel := context.WithCancel(context.Background())
	job.setCancel(cancel)

	req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1", nil), map[string]string{"jobId": "job-1"})
	recorder := httptest.NewRecorder()
	handler.Status(recorder, req)
	assertStatusCode(t, recorder, http.StatusOK)
	var view TrainJobView
	parseJSONResponse(t, recorder, &view)
	if view.Status != JobStatusPending || view.Label != 3 || view.CancelRequested {
		t.Errorf("unexpected job view: %+v", view)
	}

	recorder = httptest.NewRecorder()
	handler.Cancel(recorder, req)
	assertStatusCode(t, recorder, http.StatusOK)
	if ctx.Err() == nil {
		t.Error("expected the job context to be cancelled")
	}
	// The status only changes once the job itself returns.
	view = job.View()
	if view.Status != JobStatusPending || !view.CancelRequested {
		t.Errorf("expected pending job with cancel requested, got %+v", view)
	}

	missing := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nope", nil), map[string]string{"jobId": "nope"})
	recorder = httptest.NewRecorder()
	handler.Status(recorder, missing)
	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestTrainHandler_ConcurrentStartsEnrollOnce(t *testing.T) {
	var gate *gatedExtractor
	env := newTestEnvWith(t, func(fx *testutil.FakeExtractor) embedding.Extractor {
		gate = newGatedExtractor(fx)
		return gate
	})
	label := env.addPerson(t, "Twice")
	for _, seed := range []uint64{1, 2, 3} {
		if _, err := env.images.Save(label, env.facePhoto(seed, 0)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	const requests = 8
	recorders := make([]*httptest.ResponseRecorder, requests)
	var wg sync.WaitGroup
	for i := range recorders {
		recorders[i] = httptest.NewRecorder()
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.trainHandler().Start(recorders[i], trainRequest(label))
		}()
	}
	wg.Wait()

	var jobID string
	accepted, conflicts := 0, 0
	for _, rec := range recorders {
		var resp map[string]any
		parseJSONResponse(t, rec, &resp)
		switch rec.Code {
		case http.StatusAccepted:
			accepted++
			jobID, _ = resp["job_id"].(string)
		case http.StatusConflict:
			conflicts++
		default:
			t.Errorf("unexpected status %d: %v", rec.Code, resp)
		}
	}
	if accepted != 1 || conflicts != requests-1 {
		t.Fatalf("expected 1 accepted and %d conflicts, got %d and %d", requests-1, accepted, conflicts)
	}
	for _, rec := range recorders {
		if rec.Code != http.StatusConflict {
			continue
		}
		var resp map[string]any
		parseJSONResponse(t, rec, &resp)
		if resp["job_id"] != jobID {
			t.Errorf("conflict must point at the running job %s, got %v", jobID, resp["job_id"])
		}
	}

	close(gate.open)
	view := waitForJob(t, env.jobs, jobID)
	if view.Status != JobStatusCompleted {
		t.Fatalf("expected completed job, got %s (%s)", view.Status, view.Error)
	}
	if got := env.coordinator.Stats().Embeddings; got != 3 {
		t.Errorf("expected 3 embeddings for 3 photos, got %d", got)
	}
}

func TestTrainHandler_CancelBeforeCommitKeepsPhotosPending(t *testing.T) {
	var gate *gatedExtractor
	env := newTestEnvWith(t, func(fx *testutil.FakeExtractor) embedding.Extractor {
		gate = newGatedExtractor(fx)
		return gate
	})
	handler := env.trainHandler()
	label := env.addPerson(t, "Stopped")
	jobID := startTraining(t, env, label, 0, 1, 2, 3)

	req := requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+jobID, nil), map[string]string{"jobId": jobID})
	recorder := httptest.NewRecorder()
	handler.Cancel(recorder, req)
	assertStatusCode(t, recorder, http.StatusOK)

	view := waitForJob(t, env.jobs, jobID)
	if view.Status != JobStatusCancelled || !view.CancelRequested {
		t.Fatalf("expected cancelled job, got %+v", view)
	}
	if got := env.coordinator.Stats().Embeddings; got != 0 {
		t.Errorf("cancelled enrollment must not store embeddings, got %d", got)
	}

	// The photos were not marked, so a new job picks them up.
	close(gate.open)
	recorder = httptest.NewRecorder()
	handler.Start(recorder, trainRequest(label))
	assertStatusCode(t, recorder, http.StatusAccepted)
	var resp map[string]any
	parseJSONResponse(t, recorder, &resp)
	if resp["images"] != float64(3) {
		t.Errorf("expected 3 pending images, got %v", resp["images"])
	}
	view = waitForJob(t, env.jobs, resp["job_id"].(string))
	if view.Status != JobStatusCompleted || env.coordinator.Stats().Embeddings != 3 {
		t.Errorf("expected the retry to enroll 3 photos, got %+v", view)
	}
}

func TestTrainJob_CancelAfterCommitReportsCompletion(t *testing.T) {
	job := newTrainJob("job-3", 5)
	job.Cancel()
	job.finish(JobStatusCompleted, &enrollment.Result{Label: 5, Status: enrollment.StatusTrained}, "")

	view := job.View()
	if view.Status != JobStatusCompleted || !view.CancelRequested {
		t.Errorf("expected completed job with cancel requested, got %+v", view)
	}

	// Cancelling a finished job changes nothing.
	job.Cancel()
	if got := job.GetStatus(); got != JobStatusCompleted {
		t.Errorf("expected completed, got %s", got)
	}
}

func TestTrainHandler_EventsForFinishedJob(t *testing.T) {
	env := newTestEnv(t)
	job, _ := env.jobs.CreateIfIdle("job-2", 4)
	job.release()
	job.finish(JobStatusCompleted, &enrollment.Result{Label: 4, Status: enrollment.StatusTrained}, "")

	req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-2/events", nil), map[string]string{"jobId": "job-2"})
	recorder := httptest.NewRecorder()

	env.trainHandler().Events(recorder, req)

	assertContentType(t, recorder, "text/event-stream")
	scanner := bufio.NewScanner(strings.NewReader(recorder.Body.String()))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) < 2 || lines[0] != "event: status" || !strings.Contains(lines[1], `"status":"completed"`) {
		t.Errorf("unexpected event stream: %q", recorder.Body.String())
	}
}

func TestJobManager_ActiveJob(t *testing.T) {
	jm := NewJobManager()
	running, _ := jm.CreateIfIdle("a", 1)
	done, _ := jm.CreateIfIdle("b", 2)
	done.release()
	done.finish(JobStatusCompleted, nil, "")

	if got := jm.ActiveJob(1); got != running {
		t.Errorf("expected job a for label 1, got %v", got)
	}
	if got := jm.ActiveJob(2); got != nil {
		t.Errorf("expected no active job for label 2, got %v", got.ID)
	}

	jm.CancelAll()
	if !running.View().CancelRequested {
		t.Error("expected CancelAll to cancel job a")
	}
	if done.GetStatus() != JobStatusCompleted || done.View().CancelRequested {
		t.Errorf("finished job must be left alone, got %+v", done.View())
	}

	running.release()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := jm.Wait(ctx); err != nil {
		t.Errorf("Wait failed: %v", err)
	}
}

func TestJobManager_CreateIfIdle(t *testing.T) {
	jm := NewJobManager()

	const callers = 16
	created := make([]*TrainJob, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created[i], _ = jm.CreateIfIdle(fmt.Sprintf("job-%d", i), 7)
		}()
	}
	wg.Wait()

	var winner *TrainJob
	for _, job := range created {
		if job == nil {
			continue
		}
		if winner != nil {
			t.Fatalf("two jobs created for the same person: %s and %s", winner.ID, job.ID)
		}
		winner = job
	}
	if winner == nil {
		t.Fatal("expected one job to be created")
	}

	// Another person is not blocked.
	if job, active := jm.CreateIfIdle("other", 8); job == nil || active != nil {
		t.Error("expected a job for another person")
	}

	// A finished status alone does not free the person; the job must have returned.
	winner.finish(JobStatusCompleted, nil, "")
	if _, active := jm.CreateIfIdle("next", 7); active != winner {
		t.Errorf("expected job %s to stay active until released", winner.ID)
	}
	winner.release()
	if job, active := jm.CreateIfIdle("next", 7); job == nil || active != nil {
		t.Error("expected a new job once the previous one returned")
	}
}

func TestJobManager_PrunesFinishedJobs(t *testing.T) {
	jm := NewJobManager()
	jm.ttl = time.Minute

	old, _ := jm.CreateIfIdle("old", 1)
	old.release()
	old.finish(JobStatusCompleted, nil, "")
	past := time.Now().Add(-2 * time.Minute)
	old.stateMu.Lock()
	old.CompletedAt = &past
	old.stateMu.Unlock()

	recent, _ := jm.CreateIfIdle("recent", 2)
	recent.release()
	recent.finish(JobStatusFailed, nil, "boom")

	running, _ := jm.CreateIfIdle("running", 3)

	if _, active := jm.CreateIfIdle("new", 4); active != nil {
		t.Fatalf("unexpected active job %s", active.ID)
	}
	if jm.GetJob("old") != nil {
		t.Error("expected the expired job to be dropped")
	}
	if jm.GetJob("recent") == nil || jm.GetJob("running") != running {
		t.Error("recent and running jobs must be kept")
	}
}
