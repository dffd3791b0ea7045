package face

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/ayusman/watchpost/internal/inference"
)

// DefaultOutput is the MobileFaceNet feature layer.
const DefaultOutput = "fc1"

// Embedder computes unit feature vectors from aligned crops.
type Embedder struct {
	engine inference.Engine
	output string
}

// NewEmbedder wraps engine, taking ownership of it. An empty output selects DefaultOutput.
func NewEmbedder(engine inference.Engine, output string) *Embedder {
	if output == "" {
		output = DefaultOutput
	}
	return &Embedder{engine: engine, output: output}
}

// Embed runs the network on crop (BGR, resized to CropSize if needed) and L2-normalizes the result.
func (e *Embedder) Embed(crop gocv.Mat) (Embedding, error) {
	if crop.Empty() {
		return nil, fmt.Errorf("embed: empty crop")
	}

	blob := gocv.BlobFromImage(crop, 1.0/128, image.Pt(CropSize, CropSize),
		gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	out, err := e.engine.Run(blob)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	t, ok := out[e.output]
	if !ok {
		return nil, fmt.Errorf("embed: %w: no output %q", inference.ErrShape, e.output)
	}

	v, err := Normalize(t.Flat())
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return v, nil
}

// Close releases the engine.
func (e *Embedder) Close() error {
	return e.engine.Close()
}
