package httputil

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/booking-engine/pkg/errors"
)

// Response wraps all API responses
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error is the client-facing form of an AppError.
type Error struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Details interface{}      `json:"details,omitempty"`
}

// Pagination represents pagination metadata
type Pagination struct {
	Page      int `json:"page"`
	PageSize  int `json:"page_size"`
	Total     int `json:"total"`
	TotalPage int `json:"total_pages"`
}

// PaginatedResponse wraps paginated data
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

var statusByCode = map[errors.ErrorCode]int{
	errors.ErrInvalidRange:    http.StatusBadRequest,
	errors.ErrInvalidTimezone: http.StatusBadRequest,
	errors.ErrValidation:      http.StatusBadRequest,
	errors.ErrUnauthorized:    http.StatusUnauthorized,
	errors.ErrForbidden:       http.StatusForbidden,
	errors.ErrNotFound:        http.StatusNotFound,
	errors.ErrSlotUnavailable: http.StatusConflict,
	errors.ErrConflict:        http.StatusConflict,
	errors.ErrInvalidState:    http.StatusConflict,
	errors.ErrLockTimeout:     http.StatusServiceUnavailable,
	errors.ErrCancelled:       http.StatusServiceUnavailable,
	errors.ErrRateLimited:     http.StatusTooManyRequests,
}

// StatusFor maps an error code to its HTTP status. Unknown codes, including
// stale_state, are internal errors.
func StatusFor(code errors.ErrorCode) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// RespondWithError sends an error response. Internal errors never expose their cause.
func RespondWithError(c *gin.Context, err error) {
	body := &Error{Code: errors.ErrInternal, Message: "internal server error"}
	if appErr, ok := errors.AsAppError(err); ok && StatusFor(appErr.Code) != http.StatusInternalServerError {
		body = &Error{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details}
	}

	c.AbortWithStatusJSON(StatusFor(body.Code), Response{
		Success: false,
		Error:   body,
	})
}

// RespondWithPagination sends a paginated response
func RespondWithPagination(c *gin.Context, data interface{}, page, pageSize, total int) {
	totalPages := 0
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: PaginatedResponse{
			Data: data,
			Pagination: Pagination{
				Page:      page,
				PageSize:  pageSize,
				Total:     total,
				TotalPage: totalPages,
			},
		},
	})
}
