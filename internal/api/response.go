package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	ragerrors "github.com/bg073/jarvis-rag/internal/errors"
)

// writeJSON sends v with the given status.
func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

// writeError sends err as {"error": {...}} with a status derived from
// its code.
func writeError(c *gin.Context, err error) {
	body, encErr := ragerrors.FormatJSON(err)
	if encErr != nil {
		body = []byte(`{"error":{"code":"` + ragerrors.ErrCodeInternal + `"}}`)
	}
	c.Data(statusFor(err), "application/json; charset=utf-8", body)
}

// statusFor maps an error code onto an HTTP status.
func statusFor(err error) int {
	var re *ragerrors.RAGError
	if !errors.As(err, &re) {
		return http.StatusInternalServerError
	}
	switch re.Code {
	case ragerrors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ragerrors.ErrCodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case ragerrors.ErrCodeUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case ragerrors.ErrCodeFileNotFound:
		return http.StatusNotFound
	case ragerrors.ErrCodeSourceUnavailable, ragerrors.ErrCodeProvisioningFailed, ragerrors.ErrCodeNetworkUnavailable:
		return http.StatusServiceUnavailable
	}
	if re.Category == ragerrors.CategoryValidation {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
