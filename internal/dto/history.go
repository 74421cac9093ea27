package dto

import "garia/internal/models"

// HistoryPage is a paginated list of stored results.
type HistoryPage struct {
	Results     []models.ResultRecord `json:"results"`
	Length      int                   `json:"length"`
	TotalPages  int                   `json:"totalPages"`
	CurrentPage int                   `json:"currentPage"`
	Limit       int                   `json:"pageSize"`
}
