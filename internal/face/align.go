package face

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"

	"github.com/ayusman/watchpost/internal/detector"
)

// CropSize is the side of an aligned face crop.
const CropSize = 112

// template holds the canonical landmark positions in a CropSize crop.
var template = [detector.NumLandmarks]detector.Point{
	{X: 38.2946, Y: 51.6963},
	{X: 73.5318, Y: 51.5014},
	{X: 56.0252, Y: 71.7366},
	{X: 41.5493, Y: 92.3655},
	{X: 70.7299, Y: 92.2041},
}

// Transform is a 2x3 affine matrix in row-major order.
type Transform [2][3]float64

// Apply maps p through t.
func (t Transform) Apply(p detector.Point) detector.Point {
	x, y := float64(p.X), float64(p.Y)
	return detector.Point{
		X: float32(t[0][0]*x + t[0][1]*y + t[0][2]),
		Y: float32(t[1][0]*x + t[1][1]*y + t[1][2]),
	}
}

// SimilarityTransform solves, in the least-squares sense, the rotation, uniform scale and
// translation taking src onto dst.
//
//	u = a*x - b*y + tx
//	v = b*x + a*y + ty
func SimilarityTransform(src, dst [detector.NumLandmarks]detector.Point) (Transform, error) {
	n := len(src)
	A := mat.NewDense(2*n, 4, nil)
	B := mat.NewVecDense(2*n, nil)

	for i := range src {
		x, y := float64(src[i].X), float64(src[i].Y)
		A.SetRow(2*i, []float64{x, -y, 1, 0})
		A.SetRow(2*i+1, []float64{y, x, 0, 1})
		B.SetVec(2*i, float64(dst[i].X))
		B.SetVec(2*i+1, float64(dst[i].Y))
	}

	var p mat.VecDense
	if err := p.SolveVec(A, B); err != nil {
		return Transform{}, fmt.Errorf("solve similarity: %w", err)
	}

	a, b, tx, ty := p.AtVec(0), p.AtVec(1), p.AtVec(2), p.AtVec(3)
	return Transform{
		{a, -b, tx},
		{b, a, ty},
	}, nil
}

// Align warps the face with the given landmarks in src onto a CropSize x CropSize crop.
// The caller owns the returned Mat.
func Align(src gocv.Mat, landmarks [detector.NumLandmarks]detector.Point) (gocv.Mat, error) {
	if src.Empty() {
		return gocv.NewMat(), errors.New("align: empty image")
	}

	t, err := SimilarityTransform(landmarks, template)
	if err != nil {
		return gocv.NewMat(), err
	}

	m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	defer m.Close()
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			m.SetDoubleAt(r, c, t[r][c])
		}
	}

	crop := gocv.NewMat()
	gocv.WarpAffine(src, &crop, m, image.Pt(CropSize, CropSize))
	return crop, nil
}
