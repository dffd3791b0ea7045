// Package api provides HTTP API handlers for the watchpost face recognition node.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"gocv.io/x/gocv"
)

// maxUploadBytes bounds multipart image uploads.
const maxUploadBytes = 16 << 20

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// readImage decodes the imageFile part of a multipart form. The caller owns the Mat.
func readImage(r *http.Request) (gocv.Mat, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return gocv.Mat{}, fmt.Errorf("parse form: %w", err)
	}

	file, _, err := r.FormFile("imageFile")
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("imageFile: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("read imageFile: %w", err)
	}

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("decode imageFile: %w", err)
	}
	if img.Empty() {
		img.Close()
		return gocv.Mat{}, fmt.Errorf("decode imageFile: not an image")
	}
	return img, nil
}
