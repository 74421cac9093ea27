package yolo

import (
	"garia/internal/models"
	"garia/internal/services/detection"
)

// Predictions converts kept candidates into pipeline predictions for a
// width x height source, adding the normalized center box.
func Predictions(candidates []Candidate, labels []string, width, height int) []detection.RawPrediction {
	preds := make([]detection.RawPrediction, 0, len(candidates))
	for _, c := range candidates {
		p := detection.RawPrediction{
			ClassID:    c.ClassID,
			ClassName:  Label(labels, c.ClassID),
			Confidence: float64(c.Score),
			X1:         float64(c.X1),
			Y1:         float64(c.Y1),
			X2:         float64(c.X2),
			Y2:         float64(c.Y2),
		}
		if width > 0 && height > 0 {
			w, h := float64(width), float64(height)
			p.Normalized = &models.NormalizedBox{
				X:      (p.X1 + p.X2) / 2 / w,
				Y:      (p.Y1 + p.Y2) / 2 / h,
				Width:  (p.X2 - p.X1) / w,
				Height: (p.Y2 - p.Y1) / h,
			}
		}
		preds = append(preds, p)
	}
	return preds
}
