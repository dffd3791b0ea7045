package detector

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Letterbox records how a frame was scaled and padded into a square network input.
type Letterbox struct {
	Size          int
	Scale         float32
	Width, Height int // resized content
	PadX, PadY    int // left and top padding
}

// NewLetterbox fits a srcW x srcH frame into size x size, keeping aspect ratio and centering it.
func NewLetterbox(srcW, srcH, size int) Letterbox {
	scale := min(float32(size)/float32(srcW), float32(size)/float32(srcH))
	w := int(float32(srcW) * scale)
	h := int(float32(srcH) * scale)
	return Letterbox{
		Size:   size,
		Scale:  scale,
		Width:  w,
		Height: h,
		PadX:   (size - w) / 2,
		PadY:   (size - h) / 2,
	}
}

// Apply resizes and pads src. The caller owns the returned Mat.
func (l Letterbox) Apply(src gocv.Mat) gocv.Mat {
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(src, &resized, image.Pt(l.Width, l.Height), 0, 0, gocv.InterpolationLinear)

	dst := gocv.NewMat()
	gocv.CopyMakeBorder(resized, &dst,
		l.PadY, l.Size-l.Height-l.PadY,
		l.PadX, l.Size-l.Width-l.PadX,
		gocv.BorderConstant, color.RGBA{0, 0, 0, 0})
	return dst
}

// ToSource maps a point from network input space back to the source frame.
func (l Letterbox) ToSource(p Point) Point {
	return Point{
		X: (p.X - float32(l.PadX)) / l.Scale,
		Y: (p.Y - float32(l.PadY)) / l.Scale,
	}
}

func (l Letterbox) boxToSource(b box) box {
	o := l.ToSource(Point{X: b.X, Y: b.Y})
	return box{X: o.X, Y: o.Y, W: b.W / l.Scale, H: b.H / l.Scale}
}
