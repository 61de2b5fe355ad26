package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smukkama/leak-server/internal/feature"
	"github.com/smukkama/leak-server/internal/protocol"
)

// Error kinds used in the "error" field of error bodies.
const (
	kindValidation  = "validation_error"
	kindUnavailable = "model_unavailable"
	kindInference   = "inference_error"
	kindNotFound    = "not_found"
	kindDependency  = "service_unavailable"
	kindInternal    = "internal_error"
)

func respondError(c *gin.Context, status int, kind, detail string) {
	c.AbortWithStatusJSON(status, protocol.ErrorResponse{Error: kind, Detail: detail})
}

// statusFor maps an error to its HTTP status and error kind.
func statusFor(err error) (int, string) {
	var validation *feature.ValidationError
	var unavailable *feature.ModelUnavailableError
	var inference *feature.InferenceError

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, kindValidation
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable, kindUnavailable
	case errors.As(err, &inference):
		return http.StatusInternalServerError, kindInference
	default:
		return http.StatusInternalServerError, kindInternal
	}
}

func (h *Handler) respondServiceError(c *gin.Context, err error) {
	status, kind := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("prediction failed", "kind", kind, "error", err)
	}
	respondError(c, status, kind, err.Error())
}
