package server

import (
	"fmt"
	"net/http"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/watchpost/internal/capture"
)

// DefaultStreamFPS caps the MJPEG frame rate sent to each client.
const DefaultStreamFPS = 15

// StreamHandler serves MJPEG frames from a frame hub.
type StreamHandler struct {
	hub     *capture.Hub
	enabled func() bool
	fps     int
}

// NewStreamHandler creates a new StreamHandler. enabled gates the stream; nil means always on.
func NewStreamHandler(hub *capture.Hub, enabled func() bool, fps int) *StreamHandler {
	if fps <= 0 {
		fps = DefaultStreamFPS
	}
	return &StreamHandler{hub: hub, enabled: enabled, fps: fps}
}

func (h *StreamHandler) isEnabled() bool {
	return h.enabled == nil || h.enabled()
}

// ServeHTTP streams MJPEG frames to connected clients until the client leaves,
// the hub closes or streaming is switched off.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.isEnabled() {
		http.Error(w, "Streaming disabled", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	interval := time.Second / time.Duration(h.fps)
	var seq uint64

	for h.isEnabled() {
		frame, err := h.hub.Wait(r.Context(), seq)
		if err != nil {
			return
		}
		seq = frame.Seq

		// Encode as JPEG
		buf, err := gocv.IMEncode(".jpg", *frame.Mat)
		frame.Close()
		if err != nil {
			continue
		}

		// Write MJPEG frame
		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", buf.Len())
		_, werr := w.Write(buf.GetBytes())
		fmt.Fprintf(w, "\r\n")
		buf.Close()
		if werr != nil {
			return
		}

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		select {
		case <-r.Context().Done():
			return
		case <-time.After(interval):
		}
	}
}
