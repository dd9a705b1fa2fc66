package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/kozaktomas/facegate/internal/config"
	"github.com/kozaktomas/facegate/internal/constants"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/enrollment"
	"github.com/kozaktomas/facegate/internal/imagestore"
	"github.com/kozaktomas/facegate/internal/imaging"
)

// PersonsHandler handles person records and their enrollment photos.
type PersonsHandler struct {
	config      *config.Config
	coordinator *enrollment.Coordinator
	persons     database.PersonStore
	images      *imagestore.Store
}

// NewPersonsHandler creates a new persons handler.
func NewPersonsHandler(cfg *config.Config, coord *enrollment.Coordinator, persons database.PersonStore, images *imagestore.Store) *PersonsHandler {
	return &PersonsHandler{
		config:      cfg,
		coordinator: coord,
		persons:     persons,
		images:      images,
	}
}

// CreatePersonRequest is the body of POST /persons.
type CreatePersonRequest struct {
	Name        string `json:"name"`
	Surname     string `json:"surname"`
	PhoneNumber string `json:"phone_number"`
	CIN         string `json:"cin"`
}

// CreatePersonResponse is returned after a person was registered.
type CreatePersonResponse struct {
	ID         int    `json:"id"`
	PathFolder string `json:"path_folder"`
	Message    string `json:"message"`
}

// Create registers a person: allocates an identity label, creates the photo folder and
// stores the record.
func (h *PersonsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreatePersonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	p := database.Person{
		Name:        req.Name,
		Surname:     req.Surname,
		PhoneNumber: req.PhoneNumber,
		CIN:         req.CIN,
	}
	if err := p.ValidateFields(); err != nil {
		respondError(w, http.StatusBadRequest, "all fields are required")
		return
	}

	ctx := r.Context()
	label, err := h.coordinator.BeginEnrollment(ctx)
	if err != nil {
		log.Printf("Failed to allocate label: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to allocate person id")
		return
	}

	if err := h.images.Create(label); err != nil {
		log.Printf("Failed to create folder for %d: %v", label, err)
		respondError(w, http.StatusInternalServerError, "failed to create person folder")
		return
	}

	p.Label = label
	p.Folder = h.images.Dir(label)
	if err := h.persons.Create(ctx, &p); err != nil {
		if errors.Is(err, database.ErrDuplicateLabel) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		log.Printf("Failed to store person %d: %v", label, err)
		respondError(w, http.StatusInternalServerError, "failed to store person")
		return
	}

	log.Printf("Registered person %d (%s %s)", label, sanitizeForLog(p.Name), sanitizeForLog(p.Surname))
	respondJSON(w, http.StatusCreated, CreatePersonResponse{
		ID:         label,
		PathFolder: p.Folder,
		Message:    "person added and folder created",
	})
}

// List searches persons by name. Without q every person is returned, up to limit.
func (h *PersonsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := constants.DefaultSearchLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, constants.MaxSearchLimit)
	}

	found, err := h.persons.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		log.Printf("Person search failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to search persons")
		return
	}
	if found == nil {
		found = []database.Person{}
	}
	respondJSON(w, http.StatusOK, found)
}

// Get returns one person.
func (h *PersonsHandler) Get(w http.ResponseWriter, r *http.Request) {
	label, err := personID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.persons.Get(r.Context(), label)
	if err != nil {
		log.Printf("Failed to get person %d: %v", label, err)
		respondError(w, http.StatusInternalServerError, "failed to get person")
		return
	}
	if p == nil {
		respondError(w, http.StatusNotFound, "person not found")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// RejectedUpload names an uploaded file that was not stored.
type RejectedUpload struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// UploadImagesResponse summarizes an image upload.
type UploadImagesResponse struct {
	Saved      []string         `json:"saved"`
	Duplicates []string         `json:"duplicates"`
	Rejected   []RejectedUpload `json:"rejected"`
}

// UploadImages stores the multipart "images" files in the person's folder.
func (h *PersonsHandler) UploadImages(w http.ResponseWriter, r *http.Request) {
	label, err := personID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(h.config.Images.MaxUploadMB)<<20)
	if err := r.ParseMultipartForm(constants.MultipartMemory); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "no images uploaded")
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
	if !h.images.Exists(label) {
		if err := h.images.Create(label); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to create person folder")
			return
		}
	}

	resp := UploadImagesResponse{Saved: []string{}, Duplicates: []string{}, Rejected: []RejectedUpload{}}
	for _, fh := range files {
		res, err := h.saveUpload(label, fh)
		switch {
		case errors.Is(err, imaging.ErrUnsupportedImage):
			resp.Rejected = append(resp.Rejected, RejectedUpload{File: fh.Filename, Error: "not an image"})
		case err != nil:
			log.Printf("Failed to save %s for %d: %v", sanitizeForLog(fh.Filename), label, err)
			respondError(w, http.StatusInternalServerError, "failed to save image")
			return
		case res.Duplicate:
			resp.Duplicates = append(resp.Duplicates, fh.Filename)
		default:
			resp.Saved = append(resp.Saved, res.Name)
		}
	}

	log.Printf("Uploaded %d images for person %d (%d duplicates, %d rejected)",
		len(resp.Saved), label, len(resp.Duplicates), len(resp.Rejected))
	respondJSON(w, http.StatusOK, resp)
}

func (h *PersonsHandler) saveUpload(label int, fh *multipart.FileHeader) (imagestore.SaveResult, error) {
	file, err := fh.Open()
	if err != nil {
		return imagestore.SaveResult{}, fmt.Errorf("opening %s: %w", fh.Filename, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return imagestore.SaveResult{}, fmt.Errorf("reading %s: %w", fh.Filename, err)
	}
	return h.images.Save(label, data)
}
