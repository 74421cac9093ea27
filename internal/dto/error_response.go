package dto

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error   string  `json:"error"`
	Code    string  `json:"code"`
	Details *string `json:"details"`
}
