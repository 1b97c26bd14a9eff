package web

import (
	"errors"
	"net/http"

	"garment-stock/internal/core"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
	Details   any    `json:"details,omitempty"`
}

func writeError(c *gin.Context, message, code string, status int) {
	writeErrorDetails(c, message, code, status, nil)
}

func writeErrorDetails(c *gin.Context, message, code string, status int, details any) {
	c.JSON(status, errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestID(c),
		Details:   details,
	})
}

// writeCoreError maps engine errors to the HTTP taxonomy. Soft confirmation
// outcomes never arrive here — they are ordinary results, not errors.
func writeCoreError(c *gin.Context, err error) {
	var vErr *core.ValidationError
	if errors.As(err, &vErr) {
		writeError(c, vErr.Error(), "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	var insErr *core.InsufficientStockError
	if errors.As(err, &insErr) {
		// Terminal: not fulfillable from any pool, no escalation offered.
		writeErrorDetails(c, insErr.Error(), "INSUFFICIENT_STOCK",
			http.StatusUnprocessableEntity, insErr.Deficits)
		return
	}

	switch {
	case errors.Is(err, core.ErrStaleStock):
		writeError(c, err.Error(), "STALE_STOCK", http.StatusConflict)
	case errors.Is(err, core.ErrVariantInUse):
		writeError(c, err.Error(), "VARIANT_IN_USE", http.StatusConflict)
	case errors.Is(err, core.ErrOrderNotFound),
		errors.Is(err, core.ErrVariantNotFound),
		errors.Is(err, core.ErrOrgNotFound):
		writeError(c, err.Error(), "NOT_FOUND", http.StatusNotFound)
	default:
		writeError(c, err.Error(), "INTERNAL_ERROR", http.StatusInternalServerError)
	}
}
