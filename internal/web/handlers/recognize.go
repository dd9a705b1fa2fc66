package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/kozaktomas/facegate/internal/config"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/embedding"
	"github.com/kozaktomas/facegate/internal/enrollment"
	"github.com/kozaktomas/facegate/internal/recognition"
)

// RecognizeHandler identifies faces and reports the model state.
type RecognizeHandler struct {
	config      *config.Config
	coordinator *enrollment.Coordinator
	persons     database.PersonReader
}

// NewRecognizeHandler creates a new recognize handler.
func NewRecognizeHandler(cfg *config.Config, coord *enrollment.Coordinator, persons database.PersonReader) *RecognizeHandler {
	return &RecognizeHandler{
		config:      cfg,
		coordinator: coord,
		persons:     persons,
	}
}

// RecognizeResponse is returned for a recognized face.
type RecognizeResponse struct {
	ID          int     `json:"id"`
	Confidence  float64 `json:"confidence"`
	Distance    float64 `json:"distance,omitempty"`
	Name        string  `json:"name"`
	Surname     string  `json:"surname"`
	CIN         string  `json:"cin"`
	PhoneNumber string  `json:"phone_number"`
}

// Recognize identifies the face in the raw image request body.
func (h *RecognizeHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(h.config.Images.MaxUploadMB)<<20)
	data, err := io.ReadAll(r.Body)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, "empty request body")
		return
	}

	res, err := h.coordinator.Recognize(r.Context(), data)
	switch {
	case errors.Is(err, recognition.ErrModelNotReady):
		respondError(w, http.StatusServiceUnavailable, "recognition model is not trained yet")
		return
	case errors.Is(err, embedding.ErrUnreadableImage):
		respondError(w, http.StatusBadRequest, "unreadable image")
		return
	case err != nil:
		log.Printf("Recognition failed: %v", err)
		respondError(w, http.StatusInternalServerError, "recognition failed")
		return
	}

	switch res.Outcome {
	case recognition.OutcomeNoFace:
		respondError(w, http.StatusBadRequest, "no face detected")
		return
	case recognition.OutcomeRejected:
		respondError(w, http.StatusNotFound, "person not found")
		return
	}

	p, err := h.persons.Get(r.Context(), res.Label)
	if err != nil {
		log.Printf("Failed to get person %d: %v", res.Label, err)
		respondError(w, http.StatusInternalServerError, "failed to get person")
		return
	}
	if p == nil {
		log.Printf("Recognized label %d has no person record", res.Label)
		respondError(w, http.StatusNotFound, "person not found in database")
		return
	}

	respondJSON(w, http.StatusOK, RecognizeResponse{
		ID:          p.Label,
		Confidence:  res.Confidence,
		Distance:    res.Distance,
		Name:        p.Name,
		Surname:     p.Surname,
		CIN:         p.CIN,
		PhoneNumber: p.PhoneNumber,
	})
}

// ModelStatusResponse describes the recognition model and the enrolled population.
type ModelStatusResponse struct {
	Ready        bool       `json:"ready"`
	Status       string     `json:"status"`
	ModelVersion uint64     `json:"model_version,omitempty"`
	ModelID      string     `json:"model_id,omitempty"`
	TrainedAt    *time.Time `json:"trained_at,omitempty"`
	Classes      int        `json:"classes"`
	Identities   int        `json:"identities"`
	Embeddings   int        `json:"embeddings"`
	Persons      int        `json:"persons"`
}

// Status reports whether recognition is available.
func (h *RecognizeHandler) Status(w http.ResponseWriter, r *http.Request) {
	stats := h.coordinator.Stats()

	persons, err := h.persons.Count(r.Context())
	if err != nil {
		log.Printf("Failed to count persons: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to count persons")
		return
	}

	resp := ModelStatusResponse{
		Ready:        stats.Ready,
		Status:       "model is up-to-date",
		ModelVersion: stats.ModelVersion,
		ModelID:      stats.ModelID,
		TrainedAt:    stats.TrainedAt,
		Classes:      stats.Classes,
		Identities:   stats.Identities,
		Embeddings:   stats.Embeddings,
		Persons:      persons,
	}
	if !stats.Ready {
		resp.Status = "model not trained"
	}
	respondJSON(w, http.StatusOK, resp)
}
