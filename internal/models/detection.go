package models

// Detection is one normalized model prediction.
type Detection struct {
	ClassID    int            `json:"class_id"`
	ClassName  string         `json:"class_name"`
	Confidence float64        `json:"confidence"`
	BBox       BoundingBox    `json:"bbox"`
	Normalized *NormalizedBox `json:"bbox_normalized,omitempty"`
}

// IsValid reports whether the detection meets minConfidence, has a
// confidence within [0,1] and a box with positive width and height.
func (d Detection) IsValid(minConfidence float64) bool {
	return d.Confidence >= minConfidence &&
		d.Confidence >= 0 && d.Confidence <= 1 &&
		d.BBox.Width() > 0 &&
		d.BBox.Height() > 0
}
