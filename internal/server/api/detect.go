package api

import (
	"net/http"
	"time"

	"github.com/ayusman/watchpost/internal/capture"
	"github.com/ayusman/watchpost/internal/detector"
)

// DetectHandler runs face detection on an uploaded image.
type DetectHandler struct {
	detector detector.Detector
}

// NewDetectHandler creates a new DetectHandler.
func NewDetectHandler(d detector.Detector) *DetectHandler {
	return &DetectHandler{detector: d}
}

type boxResponse struct {
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Score  float32 `json:"score"`
}

type detectResponse struct {
	Boxes []boxResponse `json:"boxes"`
}

// ServeHTTP handles POST /api/detect.
func (h *DetectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	img, err := readImage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	frame := capture.NewFrame(img, time.Now())
	defer frame.Close()

	faces, err := h.detector.Detect(frame)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to detect faces")
		return
	}

	response := detectResponse{Boxes: make([]boxResponse, 0, len(faces))}
	for _, f := range faces {
		response.Boxes = append(response.Boxes, boxResponse{
			X:      f.Rect.Min.X,
			Y:      f.Rect.Min.Y,
			Width:  f.Rect.Dx(),
			Height: f.Rect.Dy(),
			Score:  f.Score,
		})
	}

	writeJSON(w, http.StatusOK, response)
}
