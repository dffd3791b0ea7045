package detector

import "math"

// anchorBaseSize is the side of the unscaled anchor.
const anchorBaseSize = 16

// Anchor is a reference box centered at the origin, stored as corners.
type Anchor struct {
	X0, Y0, X1, Y1 float32
}

// Width of the anchor.
func (a Anchor) Width() float32 { return a.X1 - a.X0 }

// Height of the anchor.
func (a Anchor) Height() float32 { return a.Y1 - a.Y0 }

// level is one feature-map stride with its anchor scales.
type level struct {
	stride int
	scales []float32
}

// levels lists strides coarse to fine. Proposal order, and so the tie-break among
// equal scores, follows this order.
var levels = []level{
	{stride: 32, scales: []float32{32, 16}},
	{stride: 16, scales: []float32{8, 4}},
	{stride: 8, scales: []float32{2, 1}},
}

var anchorRatios = []float32{1.0}

// GenerateAnchors builds one anchor per (ratio, scale) pair, ratio-major.
func GenerateAnchors(baseSize int, ratios, scales []float32) []Anchor {
	anchors := make([]Anchor, 0, len(ratios)*len(scales))
	for _, ar := range ratios {
		rw := float32(math.Round(float64(baseSize) / math.Sqrt(float64(ar))))
		rh := float32(math.Round(float64(rw * ar)))

		for _, s := range scales {
			w := rw * s
			h := rh * s
			anchors = append(anchors, Anchor{
				X0: -w * 0.5,
				Y0: -h * 0.5,
				X1: w * 0.5,
				Y1: h * 0.5,
			})
		}
	}
	return anchors
}
