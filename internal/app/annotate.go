package app

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/watchpost/internal/capture"
	"github.com/ayusman/watchpost/internal/detector"
	"github.com/ayusman/watchpost/internal/face"
)

// labelIoU is the overlap a recent recognition needs with a detected box to label it.
const labelIoU = 0.3

var (
	knownColor    = color.RGBA{0, 255, 0, 0}
	unknownColor  = color.RGBA{0, 165, 255, 0}
	landmarkColor = color.RGBA{255, 0, 0, 0}
)

// publishAnnotated draws faces on a copy of frame and publishes it to the annotated hub.
func (a *App) publishAnnotated(frame capture.Frame, faces []detector.FaceBox) {
	out := frame.Clone()
	if out.Empty() {
		out.Close()
		return
	}
	annotate(out.Mat, faces, a.config.Recognizer.Recent(time.Now()))
	a.annotated.Publish(out)
}

// annotate draws boxes and landmarks, labelling each box with the recognition that overlaps it most.
func annotate(m *gocv.Mat, faces []detector.FaceBox, recent []face.Recognition) {
	for _, f := range faces {
		label, known := labelFor(f.Rect, recent)

		c := unknownColor
		if known {
			c = knownColor
		}
		gocv.Rectangle(m, f.Rect, c, 2)
		for _, p := range f.Landmarks {
			gocv.Circle(m, image.Pt(int(p.X), int(p.Y)), 2, landmarkColor, -1)
		}

		org := image.Pt(f.Rect.Min.X, f.Rect.Min.Y-6)
		if org.Y < 12 {
			org.Y = f.Rect.Max.Y + 14
		}
		gocv.PutText(m, label, org, gocv.FontHersheySimplex, 0.5, c, 1)
	}
}

// labelFor returns the name and similarity of the best overlapping recognition, or the
// detection score when none overlaps.
func labelFor(rect image.Rectangle, recent []face.Recognition) (string, bool) {
	best := -1
	bestIoU := labelIoU
	for i, r := range recent {
		if iou := detector.IoU(rect, r.Box); iou >= bestIoU {
			best, bestIoU = i, iou
		}
	}
	if best < 0 {
		return "unknown", false
	}
	return fmt.Sprintf("%s %.2f", recent[best].Name, recent[best].Similarity), true
}
