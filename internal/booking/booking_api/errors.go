package booking_api

import (
	"errors"
	"fmt"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/utils"
	"net/http"
)

// statusFor maps a domain error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrConcurrentModification):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and writes the error envelope. Internal failures are
// not echoed to the client.
func writeError(w http.ResponseWriter, log *logger.Logger, op string, err error) {
	status := statusFor(err)
	message := http.StatusText(status)
	reason := models.ReasonOf(err)

	if status == http.StatusInternalServerError {
		log.Error("API", fmt.Sprintf("%s: %v", op, err))
		reason = "internal error"
	} else {
		log.Debug("API", fmt.Sprintf("%s: %v", op, err))
	}

	resp := utils.ErrorResponse(message, reason)
	resp.Retryable = models.IsRetryable(err)
	utils.WriteJSON(w, status, resp)
}

func badRequest(w http.ResponseWriter, log *logger.Logger, op, reason string) {
	log.Debug("API", fmt.Sprintf("%s: %s", op, reason))
	utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse(http.StatusText(http.StatusBadRequest), reason))
}
