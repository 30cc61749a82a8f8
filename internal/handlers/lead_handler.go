package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mobiledetail/backend/internal/models"
	"github.com/mobiledetail/backend/internal/services"
)

const msgNotifyFailed = "Your request was saved but we could not notify the team. Please call us to confirm."

type LeadHandler struct {
	leadService *services.LeadService
	pdfService  *services.QuotePDFService
	log         zerolog.Logger
}

func NewLeadHandler(leadService *services.LeadService, pdfService *services.QuotePDFService, log zerolog.Logger) *LeadHandler {
	return &LeadHandler{
		leadService: leadService,
		pdfService:  pdfService,
		log:         log.With().Str("handler", "lead").Logger(),
	}
}

// Catalog lists vehicle types, packages and add-ons
// GET /api/v1/quotes/catalog
func (h *LeadHandler) Catalog(c *gin.Context) {
	c.JSON(http.StatusOK, h.leadService.Catalog())
}

// Calculate prices a selection without recording anything
// POST /api/v1/quotes/calculate
func (h *LeadHandler) Calculate(c *gin.Context) {
	var sel services.Selection
	if err := c.ShouldBindJSON(&sel); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	c.JSON(http.StatusOK, h.leadService.Calculate(sel))
}

// QuotePDF renders a printable quote sheet
// GET /api/v1/quotes/pdf?vehicle_type=&service_package=&addons=a,b
func (h *LeadHandler) QuotePDF(c *gin.Context) {
	sel := services.Selection{
		VehicleType:    c.Query("vehicle_type"),
		ServicePackage: c.Query("service_package"),
	}
	for _, raw := range c.QueryArray("addons") {
		sel.Addons = append(sel.Addons, strings.Split(raw, ",")...)
	}

	pdf, err := h.pdfService.GenerateQuotePDF(sel)
	if err != nil {
		respondError(c, h.log, err, "Failed to generate quote")
		return
	}
	filename := fmt.Sprintf("quote-%s-%s.pdf", sel.VehicleType, sel.ServicePackage)
	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, filename))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// SubmitQuote records a quote request
// POST /api/v1/quotes
func (h *LeadHandler) SubmitQuote(c *gin.Context) {
	var req services.QuoteRequest
	if err := decodeJSON(c, &req); err != nil {
		respondError(c, h.log, err, "Failed to submit quote")
		return
	}

	lead, err := h.leadService.SubmitQuote(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.log, err, failureMessage(lead, "Failed to submit quote"))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Quote request sent. We will contact you shortly.",
		"id":      lead.ID,
		"quote": gin.H{
			"total":     lead.TotalPrice,
			"breakdown": strings.Split(lead.PriceBreakdown, "\n"),
		},
	})
}

// SubmitBooking records a booking request
// POST /api/v1/bookings
func (h *LeadHandler) SubmitBooking(c *gin.Context) {
	var req services.BookingRequest
	if err := decodeJSON(c, &req); err != nil {
		respondError(c, h.log, err, "Failed to submit booking")
		return
	}

	lead, err := h.leadService.SubmitBooking(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.log, err, failureMessage(lead, "Failed to submit booking"))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Booking request sent. We will confirm your appointment shortly.",
		"id":      lead.ID,
	})
}

// failureMessage tells the visitor their request was kept when only the
// notification failed.
func failureMessage(lead *models.Lead, fallback string) string {
	if lead != nil {
		return msgNotifyFailed
	}
	return fallback
}
