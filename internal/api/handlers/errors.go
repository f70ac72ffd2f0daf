package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/shipment/internal/ledger"
	"example.com/backstage/services/shipment/internal/services"
	"example.com/backstage/services/shipment/internal/validation"
)

const internalErrorMessage = "Internal server error"

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// SuccessResponse is the body of every successful request
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data"`
}

// StatusFor maps a service error to its HTTP status and the message shown to
// the caller. Unrecognised errors are internal and their text is not exposed.
func StatusFor(err error) (int, string) {
	var vErr *validation.ValidationError
	if errors.As(err, &vErr) {
		return http.StatusBadRequest, vErr.Error()
	}

	var lErr *ledger.Error
	if errors.As(err, &lErr) {
		return lErr.StatusCode, lErr.Message
	}

	switch {
	case errors.Is(err, services.ErrShipmentExists):
		return http.StatusConflict, services.ErrShipmentExists.Error()
	case errors.Is(err, services.ErrShipmentNotFound):
		return http.StatusNotFound, services.ErrShipmentNotFound.Error()
	case errors.Is(err, services.ErrMirrorUnavailable):
		return http.StatusServiceUnavailable, services.ErrMirrorUnavailable.Error()
	case errors.Is(err, services.ErrSearchUnavailable):
		return http.StatusServiceUnavailable, services.ErrSearchUnavailable.Error()
	}

	return http.StatusInternalServerError, internalErrorMessage
}

func respondError(c *gin.Context, err error) {
	status, message := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Unhandled error")
	}

	c.JSON(status, ErrorResponse{Success: false, Error: message})
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Error: message})
}
