// Package yolo decodes YOLOv8-style detection heads.
//
// The head emits a [1, 4+classes, anchors] tensor: for every anchor a center
// box (cx, cy, w, h) in input pixels followed by one score per class.
package yolo

import (
	"image"
	"slices"
	"sort"

	"github.com/pkg/errors"
)

// InputSize is the default square network input.
const InputSize = 640

// Candidate is a decoded box in source image pixels.
type Candidate struct {
	ClassID int
	Score   float32
	X1, Y1  float32
	X2, Y2  float32
}

// Area returns the box area, zero for degenerate boxes.
func (c Candidate) Area() float32 {
	w, h := c.X2-c.X1, c.Y2-c.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Rect rounds the box to integer pixels.
func (c Candidate) Rect() image.Rectangle {
	return image.Rect(int(c.X1+0.5), int(c.Y1+0.5), int(c.X2+0.5), int(c.Y2+0.5))
}

// Letterbox describes how a source image was fitted into the network input:
// padded at the bottom/right to a square and scaled to InputSize.
type Letterbox struct {
	Width, Height int
	// Scale converts input pixels back to source pixels.
	Scale float32
}

// NewLetterbox returns the letterbox of a width x height source for a square input of size.
func NewLetterbox(width, height, size int) Letterbox {
	return Letterbox{Width: width, Height: height, Scale: float32(max(width, height)) / float32(size)}
}

// Shape returns the class count and anchor count of an output tensor shape.
func Shape(dims []int) (classes, anchors int, err error) {
	if len(dims) != 3 || dims[0] != 1 || dims[1] <= 4 || dims[2] <= 0 {
		return 0, 0, errors.Errorf("unexpected detection output shape %v", dims)
	}
	return dims[1] - 4, dims[2], nil
}

// Decode extracts the candidates scoring at least confidence. allowed, when
// non-nil, restricts the classes considered.
func Decode(output []float32, classes, anchors int, lb Letterbox, confidence float32, allowed []int) ([]Candidate, error) {
	if len(output) != (4+classes)*anchors {
		return nil, errors.Errorf("detection output holds %d values, want %d", len(output), (4+classes)*anchors)
	}

	var candidates []Candidate
	for a := 0; a < anchors; a++ {
		best, bestScore := -1, float32(0)
		for c := 0; c < classes; c++ {
			if allowed != nil && !slices.Contains(allowed, c) {
				continue
			}
			if s := output[(4+c)*anchors+a]; best < 0 || s > bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 || bestScore < confidence {
			continue
		}

		cx, cy := output[a], output[anchors+a]
		w, h := output[2*anchors+a], output[3*anchors+a]
		candidates = append(candidates, clip(Candidate{
			ClassID: best,
			Score:   bestScore,
			X1:      (cx - w/2) * lb.Scale,
			Y1:      (cy - h/2) * lb.Scale,
			X2:      (cx + w/2) * lb.Scale,
			Y2:      (cy + h/2) * lb.Scale,
		}, lb))
	}
	return candidates, nil
}

func clip(c Candidate, lb Letterbox) Candidate {
	w, h := float32(lb.Width), float32(lb.Height)
	c.X1 = min(max(c.X1, 0), w)
	c.Y1 = min(max(c.Y1, 0), h)
	c.X2 = min(max(c.X2, 0), w)
	c.Y2 = min(max(c.Y2, 0), h)
	return c
}

// IoU returns the intersection over union of two boxes.
func IoU(a, b Candidate) float32 {
	inter := Candidate{
		X1: max(a.X1, b.X1),
		Y1: max(a.Y1, b.Y1),
		X2: min(a.X2, b.X2),
		Y2: min(a.Y2, b.Y2),
	}.Area()
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// NMS applies per-class greedy non-maximum suppression and keeps at most
// maxDetections boxes, highest score first.
func NMS(candidates []Candidate, iouThreshold float32, maxDetections int) []Candidate {
	sorted := slices.Clone(candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	kept := make([]Candidate, 0, len(sorted))
	suppressed := make([]bool, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		if maxDetections > 0 && len(kept) == maxDetections {
			break
		}
		for j := i + 1; j < len(sorted); j++ {
			if !suppressed[j] && sorted[j].ClassID == sorted[i].ClassID && IoU(sorted[i], sorted[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
