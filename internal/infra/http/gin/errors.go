package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	gin "github.com/gin-gonic/gin"

	"rentalcore/internal/app/commands"
	"rentalcore/internal/app/queries"
	"rentalcore/internal/domain/shared/fault"
)

// retryAfterSeconds is advertised on contention so clients back off briefly.
const retryAfterSeconds = 1

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func statusFor(err error) int {
	switch fault.KindOf(err) {
	case fault.KindValidation:
		return http.StatusBadRequest
	case fault.KindAuthorization:
		return http.StatusForbidden
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindInvalidState, fault.KindCapacityExceeded, fault.KindConflict:
		return http.StatusConflict
	}
	if errors.Is(err, commands.ErrHandlerNotFound) || errors.Is(err, queries.ErrHandlerNotFound) {
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

// writeError translates application errors into responses in one place.
// Unclassified errors are logged and hidden behind a generic message.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status := statusFor(err)
	kind := fault.KindOf(err)
	if kind == fault.KindConflict {
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	if status >= http.StatusInternalServerError {
		if logger != nil {
			logger.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		}
		c.JSON(status, errorResponse{Error: "internal error"})
		return
	}
	c.JSON(status, errorResponse{Error: err.Error(), Kind: string(kind)})
}
