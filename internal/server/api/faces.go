package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/watchpost/internal/capture"
	"github.com/ayusman/watchpost/internal/detector"
	"github.com/ayusman/watchpost/internal/face"
	"github.com/ayusman/watchpost/internal/store"
)

// requestTimeout bounds how long a request waits on the persistence queue.
const requestTimeout = 10 * time.Second

// Enroller stores named faces found in an image.
type Enroller interface {
	Enroll(ctx context.Context, src gocv.Mat, faces []detector.FaceBox, reqs []face.EnrollRequest) ([]string, error)
}

// FacesHandler handles enrollment and listing of known faces.
type FacesHandler struct {
	detector detector.Detector
	enroller Enroller
	queue    *store.Queue
}

// NewFacesHandler creates a new FacesHandler.
func NewFacesHandler(d detector.Detector, e Enroller, q *store.Queue) *FacesHandler {
	return &FacesHandler{detector: d, enroller: e, queue: q}
}

type listFacesResponse struct {
	Faces []string `json:"faces"`
}

type registerResponse struct {
	Registered []string `json:"registered"`
}

// registerErrorResponse reports a failed enrollment together with the names stored before it failed.
type registerErrorResponse struct {
	Error      string   `json:"error"`
	Registered []string `json:"registered"`
}

// ServeHTTP implements the http.Handler interface and routes requests to appropriate methods.
func (h *FacesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.register(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// list handles GET /api/faces and returns all known names.
func (h *FacesHandler) list(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	cmd := store.NewQueryNames(store.Medium)
	if err := h.queue.Push(cmd); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Store unavailable")
		return
	}
	names, err := cmd.Wait(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list faces")
		return
	}

	writeJSON(w, http.StatusOK, listFacesResponse{Faces: names})
}

// register handles POST /api/faces: multipart imageFile plus facesJSON naming detected faces by index.
func (h *FacesHandler) register(w http.ResponseWriter, r *http.Request) {
	img, err := readImage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	frame := capture.NewFrame(img, time.Now())
	defer frame.Close()

	var reqs []face.EnrollRequest
	if err := json.Unmarshal([]byte(r.FormValue("facesJSON")), &reqs); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid facesJSON")
		return
	}
	if len(reqs) == 0 {
		writeError(w, http.StatusBadRequest, "No faces to register")
		return
	}

	faces, err := h.detector.Detect(frame)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to detect faces")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	registered, err := h.enroller.Enroll(ctx, *frame.Mat, faces, reqs)
	switch {
	case errors.Is(err, face.ErrFaceIndex), errors.Is(err, face.ErrEmptyName), errors.Is(err, face.ErrDimension):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, registerErrorResponse{
			Error:      "Failed to register faces",
			Registered: registered,
		})
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{Registered: registered})
}
