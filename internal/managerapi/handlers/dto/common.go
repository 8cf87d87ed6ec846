package dto

// PaginationResponse provides standard pagination details.
type PaginationResponse struct {
	Total  int64 `json:"total"`  // Total number of records matching the filter
	Limit  int32 `json:"limit"`  // Number of records per page
	Offset int32 `json:"offset"` // Starting record index
}

// PaginatedListResponse is a generic wrapper for list API responses.
type PaginatedListResponse struct {
	Data       any                `json:"data"`
	Pagination PaginationResponse `json:"pagination"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
