package models

// BoundingBox is an axis-aligned box in source image pixels.
//
// X1 <= X2 and Y1 <= Y2 is expected but not enforced; consumers such as
// Detection.IsValid check it.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns X2 - X1.
func (b BoundingBox) Width() float64 {
	return b.X2 - b.X1
}

// Height returns Y2 - Y1.
func (b BoundingBox) Height() float64 {
	return b.Y2 - b.Y1
}

// Area returns Width * Height. Degenerate boxes may yield zero or a negative value.
func (b BoundingBox) Area() float64 {
	return b.Width() * b.Height()
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// NormalizedBox is a box relative to the image size, every field in [0,1].
// X and Y locate the box center.
type NormalizedBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}
