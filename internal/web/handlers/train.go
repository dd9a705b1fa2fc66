package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/enrollment"
	"github.com/kozaktomas/facegate/internal/imagestore"
)

// TrainHandler runs enrollments of uploaded photos as async jobs.
type TrainHandler struct {
	coordinator *enrollment.Coordinator
	persons     database.PersonReader
	images      *imagestore.Store
	jobManager  *JobManager
}

// NewTrainHandler creates a new train handler.
func NewTrainHandler(coord *enrollment.Coordinator, persons database.PersonReader, images *imagestore.Store, jm *JobManager) *TrainHandler {
	return &TrainHandler{
		coordinator: coord,
		persons:     persons,
		images:      images,
		jobManager:  jm,
	}
}

// Start enrolls the photos of a person that were not enrolled before. The work runs in
// the background; the response carries the job ID.
func (h *TrainHandler) Start(w http.ResponseWriter, r *http.Request) {
	label, err := personID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ok, err := h.persons.Exists(r.Context(), label)
	if err != nil {
		log.Printf("Failed to look up person %d: %v", label, err)
		respondError(w, http.StatusInternalServerError, "failed to look up person")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "person not found")
		return
	}

	// The job is reserved before the pending photos are read, so a second request cannot
	// read the same photos while this one is enrolling them.
	job, active := h.jobManager.CreateIfIdle(uuid.New().String(), label)
	if active != nil {
		respondJSON(w, http.StatusConflict, map[string]string{
			"error":  "training already running for this person",
			"job_id": active.ID,
		})
		return
	}

	names, images, err := h.images.Pending(label)
	if err != nil || len(names) == 0 {
		h.jobManager.DeleteJob(job.ID)
		switch {
		case errors.Is(err, imagestore.ErrFolderNotFound):
			respondError(w, http.StatusBadRequest, "person folder does not exist")
		case err != nil:
			log.Printf("Failed to read photos of %d: %v", label, err)
			respondError(w, http.StatusInternalServerError, "failed to read person photos")
		default:
			respondError(w, http.StatusBadRequest, "no new images to enroll")
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	job.setCancel(cancel)

	go h.runTrainJob(ctx, cancel, job, names, images)

	respondJSON(w, http.StatusAccepted, map[string]any{
		"job_id":    job.ID,
		"person_id": label,
		"images":    len(names),
		"status":    string(JobStatusPending),
	})
}

// Status returns the state of a train job.
func (h *TrainHandler) Status(w http.ResponseWriter, r *http.Request) {
	job := h.jobManager.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job.View())
}

// Events streams job events via SSE.
func (h *TrainHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			job := h.jobManager.GetJob(id)
			if job == nil {
				return nil
			}
			return job
		},
		func(job SSEJob) any {
			return job.(*TrainJob).View()
		},
	)
}

// Cancel asks a train job to stop. A job cancelled before its enrollment is committed ends as
// cancelled and its photos stay pending. Once committed, the job ends as completed with
// cancel_requested set.
func (h *TrainHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job := h.jobManager.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	job.Cancel()
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// runTrainJob runs the enrollment in the background
func (h *TrainHandler) runTrainJob(ctx context.Context, cancel context.CancelFunc, job *TrainJob, names []string, images [][]byte) {
	defer cancel()

	job.setRunning()
	job.SendEvent(JobEvent{Type: "started", Message: "Enrollment started"})

	res, err := h.coordinator.CompleteEnrollment(ctx, job.Label, images, func(done, total int) {
		job.setProgress(done, total)
		job.SendEvent(JobEvent{Type: "progress", Data: map[string]int{"processed": done, "total": total}})
	})

	// Photos without a usable face are marked too so the next run does not retry them.
	if err == nil || errors.Is(err, enrollment.ErrNoUsableImages) {
		if markErr := h.images.MarkEnrolled(job.Label, names); markErr != nil {
			log.Printf("Failed to mark photos of %d as enrolled: %v", job.Label, markErr)
		}
	}
	// Nothing below touches the store or the folder, so another job may start.
	job.release()

	if errors.Is(err, context.Canceled) {
		log.Printf("Enrollment of %d cancelled", job.Label)
		job.finish(JobStatusCancelled, res, "")
		job.SendEvent(JobEvent{Type: "cancelled", Message: "Enrollment cancelled, photos stay pending"})
		return
	}
	if err != nil {
		log.Printf("Enrollment of %d failed: %v", job.Label, err)
		job.finish(JobStatusFailed, res, err.Error())
		job.SendEvent(JobEvent{Type: "failed", Message: err.Error(), Data: res})
		return
	}

	job.finish(JobStatusCompleted, res, "")
	job.SendEvent(JobEvent{Type: "completed", Data: res})
}
