package dto

import "garia/internal/models"

// URLDetectionRequest is the body of POST /detect/url.
type URLDetectionRequest struct {
	ImageURL string                `json:"image_url"`
	Config   models.ConfigOverride `json:"config"`
}
