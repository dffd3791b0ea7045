package detector

import (
	"image"
	"math"
)

// Landmark indices within FaceBox.Landmarks.
const (
	LeftEye = iota
	RightEye
	Nose
	LeftMouth
	RightMouth
	NumLandmarks
)

// Point is a sub-pixel image coordinate.
type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// FaceBox is one detected face in source-frame pixel coordinates.
type FaceBox struct {
	Score     float32             `json:"score"`
	Rect      image.Rectangle     `json:"rect"`
	Landmarks [NumLandmarks]Point `json:"landmarks"`
}

// box is a floating point rectangle stored as origin and size, matching the decoder's arithmetic.
type box struct {
	X, Y, W, H float32
}

func (b box) area() float32 {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

func (b box) intersect(o box) float32 {
	x0 := max(b.X, o.X)
	y0 := max(b.Y, o.Y)
	x1 := min(b.X+b.W, o.X+o.W)
	y1 := min(b.Y+b.H, o.Y+o.H)
	if x1 <= x0 || y1 <= y0 {
		return 0
	}
	return (x1 - x0) * (y1 - y0)
}

// iou returns intersection over union, 0 for disjoint or degenerate boxes.
func (b box) iou(o box) float32 {
	inter := b.intersect(o)
	if inter == 0 {
		return 0
	}
	union := b.area() + o.area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func (b box) rectangle() image.Rectangle {
	return image.Rect(
		int(math.Round(float64(b.X))),
		int(math.Round(float64(b.Y))),
		int(math.Round(float64(b.X+b.W))),
		int(math.Round(float64(b.Y+b.H))),
	)
}

func rectBox(r image.Rectangle) box {
	return box{X: float32(r.Min.X), Y: float32(r.Min.Y), W: float32(r.Dx()), H: float32(r.Dy())}
}

// IoU returns the intersection over union of two integer rectangles.
func IoU(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := float64(inter.Dx() * inter.Dy())
	union := float64(a.Dx()*a.Dy()+b.Dx()*b.Dy()) - ia
	if union <= 0 {
		return 0
	}
	return ia / union
}
