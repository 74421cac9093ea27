package ai

import (
	"fmt"
	"image"
	"image/color"

	"garia/internal/models"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Annotator draws detections onto their source image.
type Annotator struct {
	Color     color.RGBA
	Thickness int
}

func NewAnnotator() *Annotator {
	return &Annotator{Color: color.RGBA{R: 255, G: 0, B: 0, A: 0}, Thickness: 2}
}

// Annotate renders boxes and "class (confidence)" labels over src and
// returns the image encoded as JPEG.
func (a *Annotator) Annotate(src models.ImageSource, detections []models.Detection) ([]byte, error) {
	mat, err := readMat(src)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	for _, d := range detections {
		rect := image.Rect(int(d.BBox.X1), int(d.BBox.Y1), int(d.BBox.X2), int(d.BBox.Y2))
		if err := gocv.Rectangle(&mat, rect, a.Color, a.Thickness); err != nil {
			return nil, errors.Wrap(err, "draw rectangle")
		}

		label := fmt.Sprintf("%s (%.2f)", d.ClassName, d.Confidence)
		pt := image.Pt(rect.Min.X, max(rect.Min.Y-5, 10))
		if err := gocv.PutText(&mat, label, pt, gocv.FontHersheySimplex, 0.5, a.Color, 1); err != nil {
			return nil, errors.Wrap(err, "draw text")
		}
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, errors.Wrap(err, "encode image")
	}
	defer buf.Close()

	encoded := make([]byte, len(buf.GetBytes()))
	copy(encoded, buf.GetBytes())
	return encoded, nil
}
