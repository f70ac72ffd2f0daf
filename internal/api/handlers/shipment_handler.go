package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/shipment/internal/services"
	"example.com/backstage/services/shipment/internal/tracing"
)

const (
	invalidBodyMessage   = "Invalid request body"
	updateSuccessMessage = "Shipment status updated successfully on blockchain"
	createSuccessMessage = "Shipment created"
)

// ShipmentHandler handles shipment-related HTTP requests
type ShipmentHandler struct {
	service *services.ShipmentService
	tracer  tracing.Tracer
}

// NewShipmentHandler creates a new shipment handler
func NewShipmentHandler(service *services.ShipmentService, tracer tracing.Tracer) *ShipmentHandler {
	return &ShipmentHandler{
		service: service,
		tracer:  tracer,
	}
}

// requestContext carries the request's New Relic transaction, if any, into
// the service layer.
func requestContext(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	if txn := nrgin.Transaction(c); txn != nil {
		ctx = newrelic.NewContext(ctx, txn)
	}
	return ctx
}

// HandleUpdateStatus submits a status note to the ledger
func (h *ShipmentHandler) HandleUpdateStatus(c *gin.Context) {
	ctx := requestContext(c)

	var req services.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("Invalid update status body")
		h.tracer.RecordError(ctx, err)
		respondBadRequest(c, invalidBodyMessage)
		return
	}

	result, err := h.service.UpdateStatus(ctx, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: updateSuccessMessage,
		Data:    result,
	})
}

// HandleGetDetails returns the ledger record merged with the mirror record
func (h *ShipmentHandler) HandleGetDetails(c *gin.Context) {
	ctx := requestContext(c)

	details, err := h.service.GetDetails(ctx, c.Param("trackingId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: details})
}

// HandleCreateShipment creates a mirror record
func (h *ShipmentHandler) HandleCreateShipment(c *gin.Context) {
	ctx := requestContext(c)

	var req services.CreateShipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("Invalid create shipment body")
		respondBadRequest(c, invalidBodyMessage)
		return
	}

	record, err := h.service.CreateShipment(ctx, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, SuccessResponse{
		Success: true,
		Message: createSuccessMessage,
		Data:    record,
	})
}

// HandleListShipments lists mirror records
func (h *ShipmentHandler) HandleListShipments(c *gin.Context) {
	records, err := h.service.ListShipments(requestContext(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: records})
}

// HandleGetShipment returns one mirror record
func (h *ShipmentHandler) HandleGetShipment(c *gin.Context) {
	record, err := h.service.GetShipment(requestContext(c), c.Param("trackingId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: record})
}

// HandleSearchNotes runs a full-text search over status notes
func (h *ShipmentHandler) HandleSearchNotes(c *gin.Context) {
	size := 0
	if raw := c.Query("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondBadRequest(c, "size must be a non-negative integer")
			return
		}
		size = n
	}

	hits, err := h.service.SearchNotes(requestContext(c), c.Query("q"), size)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: hits})
}

// RegisterRoutes registers the handler's routes
func (h *ShipmentHandler) RegisterRoutes(router gin.IRouter) {
	shipments := router.Group("/api/shipments")
	{
		shipments.POST("/update-status", h.HandleUpdateStatus)
		shipments.POST("/add", h.HandleCreateShipment)
		shipments.GET("", h.HandleListShipments)
		shipments.GET("/search", h.HandleSearchNotes)
		shipments.GET("/:trackingId", h.HandleGetShipment)
		shipments.GET("/:trackingId/details", h.HandleGetDetails)
	}
}
