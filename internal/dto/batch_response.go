package dto

// BatchResponse is the payload of a batch detection request. Results keep
// the order of the uploaded files; failed items carry their error inline.
type BatchResponse struct {
	Success         bool        `json:"success"`
	TotalImages     int         `json:"total_images"`
	FailedImages    int         `json:"failed_images"`
	TotalDetections int         `json:"total_detections"`
	Results         []BatchItem `json:"results"`
}

// BatchItem pairs an uploaded file name with its result.
type BatchItem struct {
	Filename string `json:"filename"`
	DetectionResponse
}
