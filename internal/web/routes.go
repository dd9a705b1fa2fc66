package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/facegate/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	personsHandler := handlers.NewPersonsHandler(s.config, s.coordinator, s.persons, s.images)
	trainHandler := handlers.NewTrainHandler(s.coordinator, s.persons, s.images, s.jobManager)
	recognizeHandler := handlers.NewRecognizeHandler(s.config, s.coordinator, s.persons)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)

		// Persons and enrollment photos
		r.Post("/persons", personsHandler.Create)
		r.Get("/persons", personsHandler.List)
		r.Get("/persons/{id}", personsHandler.Get)
		r.Post("/persons/{id}/images", personsHandler.UploadImages)

		// Enrollment (long-running)
		r.Post("/persons/{id}/train", trainHandler.Start)
		r.Get("/jobs/{jobId}", trainHandler.Status)
		r.Get("/jobs/{jobId}/events", trainHandler.Events)
		r.Delete("/jobs/{jobId}", trainHandler.Cancel)

		// Recognition
		r.Post("/recognize", recognizeHandler.Recognize)
		r.Get("/model/status", recognizeHandler.Status)
	})
}
