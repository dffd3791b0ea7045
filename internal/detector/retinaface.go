package detector

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/watchpost/internal/capture"
	"github.com/ayusman/watchpost/internal/inference"
)

// ErrEmptyFrame is returned when Detect is handed a frame without pixels.
var ErrEmptyFrame = errors.New("empty frame")

// Output layer name patterns of the RetinaFace mnet25 export, formatted with the stride.
const (
	scoreOutput    = "face_rpn_cls_prob_reshape_stride%d"
	bboxOutput     = "face_rpn_bbox_pred_stride%d"
	landmarkOutput = "face_rpn_landmark_pred_stride%d"
)

// OutputLayers lists every layer RetinaFace reads, coarse stride first.
func OutputLayers() []string {
	names := make([]string, 0, 3*len(levels))
	for _, l := range levels {
		names = append(names,
			fmt.Sprintf(scoreOutput, l.stride),
			fmt.Sprintf(bboxOutput, l.stride),
			fmt.Sprintf(landmarkOutput, l.stride),
		)
	}
	return names
}

type stage struct {
	stride   int
	anchors  []Anchor
	score    string
	bbox     string
	landmark string
}

// RetinaFace implements Detector on top of an inference engine.
type RetinaFace struct {
	engine inference.Engine
	config Config
	stages []stage

	mu     sync.Mutex
	closed bool
}

// NewRetinaFace wraps engine, which must produce the layers named by OutputLayers.
// The detector takes ownership of engine.
func NewRetinaFace(engine inference.Engine, config Config) *RetinaFace {
	def := DefaultConfig()
	if config.InputSize <= 0 {
		config.InputSize = def.InputSize
	}
	if config.ScoreThreshold <= 0 {
		config.ScoreThreshold = def.ScoreThreshold
	}
	if config.NMSThreshold <= 0 {
		config.NMSThreshold = def.NMSThreshold
	}

	stages := make([]stage, 0, len(levels))
	for _, l := range levels {
		stages = append(stages, stage{
			stride:   l.stride,
			anchors:  GenerateAnchors(anchorBaseSize, anchorRatios, l.scales),
			score:    fmt.Sprintf(scoreOutput, l.stride),
			bbox:     fmt.Sprintf(bboxOutput, l.stride),
			landmark: fmt.Sprintf(landmarkOutput, l.stride),
		})
	}

	return &RetinaFace{engine: engine, config: config, stages: stages}
}

// Detect letterboxes frame to the network input, runs the model and decodes faces.
func (r *RetinaFace) Detect(frame capture.Frame) ([]FaceBox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.New("detector closed")
	}
	if frame.Empty() {
		return nil, ErrEmptyFrame
	}

	size := frame.Size()
	lb := NewLetterbox(size.X, size.Y, r.config.InputSize)

	padded := lb.Apply(*frame.Mat)
	defer padded.Close()

	blob := gocv.BlobFromImage(padded, 1.0, image.Pt(lb.Size, lb.Size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	out, err := r.engine.Run(blob)
	if err != nil {
		return nil, fmt.Errorf("run retinaface: %w", err)
	}

	return r.postprocess(out, lb, size.X, size.Y)
}

// postprocess turns raw network outputs into faces in source coordinates.
func (r *RetinaFace) postprocess(out inference.Outputs, lb Letterbox, srcW, srcH int) ([]FaceBox, error) {
	var props []proposal

	for _, s := range r.stages {
		score, ok1 := out[s.score]
		bbox, ok2 := out[s.bbox]
		landmark, ok3 := out[s.landmark]
		if !ok1 || !ok2 || !ok3 {
			return nil, fmt.Errorf("%w: missing outputs for stride %d", inference.ErrShape, s.stride)
		}

		ps, err := generateProposals(s.anchors, s.stride, score, bbox, landmark, r.config.ScoreThreshold)
		if err != nil {
			return nil, fmt.Errorf("stride %d: %w", s.stride, err)
		}
		props = append(props, ps...)
	}

	return selectFaces(props, lb, srcW, srcH, r.config.NMSThreshold), nil
}

// selectFaces maps proposals to the source frame, clips and rounds them, then suppresses
// overlaps. Suppression runs on the final rectangles so no two reported faces overlap by
// more than nmsThreshold.
func selectFaces(props []proposal, lb Letterbox, srcW, srcH int, nmsThreshold float32) []FaceBox {
	cands := make([]proposal, 0, len(props))
	for _, p := range props {
		b, ok := clip(lb.boxToSource(p.box), srcW, srcH)
		if !ok {
			continue
		}
		rect := b.rectangle()
		if rect.Empty() {
			continue
		}
		c := proposal{score: p.score, box: rectBox(rect)}
		for k, pt := range p.landmarks {
			c.landmarks[k] = lb.ToSource(pt)
		}
		cands = append(cands, c)
	}

	sortProposals(cands)
	picked := nms(cands, nmsThreshold)

	faces := make([]FaceBox, 0, len(picked))
	for _, i := range picked {
		c := cands[i]
		faces = append(faces, FaceBox{Score: c.score, Rect: c.box.rectangle(), Landmarks: c.landmarks})
	}
	return faces
}

// Close releases the underlying engine.
func (r *RetinaFace) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.engine.Close()
}
