package detector

import (
	"fmt"
	"math"
	"sort"

	"github.com/ayusman/watchpost/internal/inference"
)

// proposal is a decoded candidate face in network input coordinates.
type proposal struct {
	score     float32
	box       box
	landmarks [NumLandmarks]Point
}

// generateProposals decodes every anchor position of one stride whose face score
// reaches threshold. The score tensor holds 2 channels per anchor (background first),
// bbox 4 per anchor (dx, dy, dw, dh) and landmark 10 per anchor (x, y pairs).
func generateProposals(anchors []Anchor, stride int, score, bbox, landmark inference.Tensor, threshold float32) ([]proposal, error) {
	n := len(anchors)

	sc, h, w, err := score.CHW()
	if err != nil {
		return nil, fmt.Errorf("score blob: %w", err)
	}
	if sc != 2*n {
		return nil, fmt.Errorf("score blob: %w: %d channels for %d anchors", inference.ErrShape, sc, n)
	}
	if err := expectPlanes(bbox, 4*n, h, w); err != nil {
		return nil, fmt.Errorf("bbox blob: %w", err)
	}
	if err := expectPlanes(landmark, 10*n, h, w); err != nil {
		return nil, fmt.Errorf("landmark blob: %w", err)
	}

	step := float32(stride)
	var out []proposal

	for q, a := range anchors {
		scores := score.Channel(q + n)
		dx, dy := bbox.Channel(q*4), bbox.Channel(q*4+1)
		dw, dh := bbox.Channel(q*4+2), bbox.Channel(q*4+3)

		var lm [2 * NumLandmarks][]float32
		for k := range lm {
			lm[k] = landmark.Channel(q*10 + k)
		}

		aw, ah := a.Width(), a.Height()
		ay := a.Y0

		for i := 0; i < h; i++ {
			ax := a.X0

			for j := 0; j < w; j++ {
				idx := i*w + j

				if prob := scores[idx]; prob >= threshold {
					cx := ax + aw*0.5
					cy := ay + ah*0.5

					pcx := cx + aw*dx[idx]
					pcy := cy + ah*dy[idx]
					pw := aw * float32(math.Exp(float64(dw[idx])))
					ph := ah * float32(math.Exp(float64(dh[idx])))

					x0 := pcx - pw*0.5
					y0 := pcy - ph*0.5
					x1 := pcx + pw*0.5
					y1 := pcy + ph*0.5

					p := proposal{
						score: prob,
						box:   box{X: x0, Y: y0, W: x1 - x0 + 1, H: y1 - y0 + 1},
					}
					for k := 0; k < NumLandmarks; k++ {
						p.landmarks[k] = Point{
							X: cx + (aw+1)*lm[2*k][idx],
							Y: cy + (ah+1)*lm[2*k+1][idx],
						}
					}
					out = append(out, p)
				}

				ax += step
			}

			ay += step
		}
	}

	return out, nil
}

func expectPlanes(t inference.Tensor, c, h, w int) error {
	tc, th, tw, err := t.CHW()
	if err != nil {
		return err
	}
	if tc != c || th != h || tw != w {
		return fmt.Errorf("%w: got %dx%dx%d, want %dx%dx%d", inference.ErrShape, tc, th, tw, c, h, w)
	}
	return nil
}

// sortProposals orders by descending score. Equal scores keep generation order.
func sortProposals(ps []proposal) {
	sort.SliceStable(ps, func(i, j int) bool {
		return ps[i].score > ps[j].score
	})
}

// nms greedily keeps proposals, dropping any whose IoU with an already kept one exceeds threshold.
// ps must be sorted. Returns indices into ps.
func nms(ps []proposal, threshold float32) []int {
	picked := make([]int, 0, len(ps))
	for i := range ps {
		keep := true
		for _, k := range picked {
			if ps[i].box.iou(ps[k].box) > threshold {
				keep = false
				break
			}
		}
		if keep {
			picked = append(picked, i)
		}
	}
	return picked
}

// clip bounds b to [0, w-1] x [0, h-1]. The second result is false when nothing remains.
func clip(b box, w, h int) (box, bool) {
	maxX, maxY := float32(w-1), float32(h-1)
	x0 := clamp(b.X, 0, maxX)
	y0 := clamp(b.Y, 0, maxY)
	x1 := clamp(b.X+b.W, 0, maxX)
	y1 := clamp(b.Y+b.H, 0, maxY)

	c := box{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
	return c, c.W > 0 && c.H > 0
}

func clamp(v, lo, hi float32) float32 {
	return max(lo, min(v, hi))
}
