// Package face aligns detected faces, embeds them and matches them against the gallery.
package face

import (
	"errors"
	"strings"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrFaceIndex is returned when an enrollment names a face the detector did not find.
	ErrFaceIndex = errors.New("face index out of range")
	// ErrEmptyName is returned when an enrollment name is blank after normalization.
	ErrEmptyName = errors.New("empty name")
	// ErrDimension is returned when vectors of different lengths are compared.
	ErrDimension = errors.New("embedding dimension mismatch")
	// ErrZeroVector is returned when a vector cannot be normalized.
	ErrZeroVector = errors.New("zero embedding")
)

// Embedding is a unit-length face feature vector.
type Embedding []float32

// Normalize returns v scaled to unit L2 norm.
func Normalize(v []float32) (Embedding, error) {
	f := toFloat64(v)
	n := floats.Norm(f, 2)
	if n == 0 {
		return nil, ErrZeroVector
	}
	floats.Scale(1/n, f)
	return toFloat32(f), nil
}

// Similarity is the cosine similarity of two unit embeddings.
func Similarity(a, b Embedding) (float32, error) {
	if len(a) != len(b) {
		return 0, ErrDimension
	}
	return float32(floats.Dot(toFloat64(a), toFloat64(b))), nil
}

// NormalizeName trims, lowercases and collapses inner whitespace.
func NormalizeName(name string) (string, error) {
	n := strings.Join(strings.Fields(strings.ToLower(name)), " ")
	if n == "" {
		return "", ErrEmptyName
	}
	return n, nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
