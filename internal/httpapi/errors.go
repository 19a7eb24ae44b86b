package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/optim-dev/aina/pkg/terminology/internalerr"
)

// errorBody is the body of every failed request.
type errorBody struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

// classify maps an error to a status code and a stable error code.
func classify(err error) (int, string) {
	switch {
	case isTooLarge(err):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, internalerr.ErrSchema):
		return http.StatusBadRequest, "schema"
	case errors.Is(err, internalerr.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, internalerr.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, internalerr.ErrIndexNotLoaded):
		return http.StatusServiceUnavailable, "index_not_loaded"
	case errors.Is(err, internalerr.ErrEncoderUnavailable):
		return http.StatusServiceUnavailable, "encoder_unavailable"
	case errors.Is(err, internalerr.ErrInvalidConfig):
		return http.StatusServiceUnavailable, "not_configured"
	case errors.Is(err, internalerr.ErrBuild):
		return http.StatusUnprocessableEntity, "build_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status, code := classify(err)
	_ = c.Error(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		// Mask internal errors
		msg = "internal server error"
	}
	c.AbortWithStatusJSON(status, errorBody{Success: false, Code: code, Error: msg})
}

// bind decodes the JSON body into v; malformed bodies are invalid input.
func bind(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil {
		if isTooLarge(err) {
			return err
		}
		return fmt.Errorf("%w: %v", internalerr.ErrInvalidInput, err)
	}
	return nil
}
