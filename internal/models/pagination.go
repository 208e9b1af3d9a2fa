package models

// PageMeta is the pagination metadata attached to every list response.
type PageMeta struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPageMeta computes pagination metadata. TotalPages is zero when the
// result set is empty.
func NewPageMeta(page, pageSize, total int) PageMeta {
	totalPages := 0
	if total > 0 && pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	return PageMeta{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
	}
}
