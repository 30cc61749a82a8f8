package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/mobiledetail/backend/internal/apperr"
	"github.com/mobiledetail/backend/internal/config"
	"github.com/mobiledetail/backend/internal/metrics"
	"github.com/mobiledetail/backend/internal/models"
	"github.com/mobiledetail/backend/pkg/validation"
)

// MsgIncompleteSelection is returned when a quote lacks a vehicle or package.
const MsgIncompleteSelection = "Please select your vehicle type and service package."

type VehicleType struct {
	Value      string  `json:"value"`
	Label      string  `json:"label"`
	Multiplier float64 `json:"multiplier"`
}

type ServicePackage struct {
	Value       string `json:"value"`
	Label       string `json:"label"`
	BasePrice   int    `json:"base_price"`
	Description string `json:"description"`
}

type Addon struct {
	Value string `json:"value"`
	Label string `json:"label"`
	Price int    `json:"price"`
}

// Catalog is everything the quote calculator offers.
type Catalog struct {
	VehicleTypes    []VehicleType    `json:"vehicle_types"`
	ServicePackages []ServicePackage `json:"service_packages"`
	Addons          []Addon          `json:"addons"`
}

var defaultCatalog = Catalog{
	VehicleTypes: []VehicleType{
		{Value: "sedan", Label: "Sedan/Coupe", Multiplier: 1},
		{Value: "suv", Label: "SUV/Crossover", Multiplier: 1.2},
		{Value: "truck", Label: "Truck/Van", Multiplier: 1.3},
	},
	ServicePackages: []ServicePackage{
		{Value: "basic", Label: "Express Wash", BasePrice: 99, Description: "Quick exterior wash and dry"},
		{Value: "full", Label: "Full Interior & Exterior", BasePrice: 249, Description: "Complete interior and exterior detailing"},
		{Value: "ceramic", Label: "Ceramic Coating", BasePrice: 899, Description: "Premium ceramic coating protection"},
	},
	Addons: []Addon{
		{Value: "wax", Label: "Premium Wax", Price: 50},
		{Value: "headlight", Label: "Headlight Restoration", Price: 75},
		{Value: "engine", Label: "Engine Bay Cleaning", Price: 100},
	},
}

// Selection is what the visitor picked in the calculator.
type Selection struct {
	VehicleType    string   `json:"vehicle_type" form:"vehicle_type"`
	ServicePackage string   `json:"service_package" form:"service_package"`
	Addons         []string `json:"addons" form:"addons"`
}

// Quote is the priced selection. Total is in whole dollars.
type Quote struct {
	Total     int      `json:"total"`
	Breakdown []string `json:"breakdown"`
	IsValid   bool     `json:"is_valid"`
	Addons    []string `json:"-"` // add-on ids that were priced
}

// Contact is the visitor's contact details.
type Contact struct {
	Name  string `json:"name" binding:"required,person_name"`
	Phone string `json:"phone" binding:"required,phone"`
	Email string `json:"email" binding:"required,email"`
}

type QuoteRequest struct {
	Contact
	Selection
	Notes string `json:"notes" binding:"max=2000"`
}

type BookingRequest struct {
	Contact
	Service string `json:"service" binding:"required,max=64"`
	Date    string `json:"date" binding:"max=32"`
	Notes   string `json:"notes" binding:"max=2000"`
}

// LeadService prices quotes and records quote and booking requests.
type LeadService struct {
	db       *gorm.DB
	notifier Notifier
	cfg      *config.Config
	catalog  Catalog
	log      zerolog.Logger
}

func NewLeadService(db *gorm.DB, notifier Notifier, cfg *config.Config, log zerolog.Logger) *LeadService {
	return &LeadService{
		db:       db,
		notifier: notifier,
		cfg:      cfg,
		catalog:  defaultCatalog,
		log:      log.With().Str("service", "lead").Logger(),
	}
}

func (s *LeadService) Catalog() Catalog {
	return s.catalog
}

// Calculate prices a selection. The package price is scaled by the vehicle
// multiplier and rounded; add-ons are added at face value. Unknown add-ons
// are skipped and repeated ones count once.
func (s *LeadService) Calculate(sel Selection) Quote {
	vehicle, ok := s.vehicle(sel.VehicleType)
	if !ok {
		return Quote{Breakdown: []string{}}
	}
	pkg, ok := s.servicePackage(sel.ServicePackage)
	if !ok {
		return Quote{Breakdown: []string{}}
	}

	base := int(math.Round(float64(pkg.BasePrice) * vehicle.Multiplier))
	q := Quote{
		Total:     base,
		Breakdown: []string{fmt.Sprintf("%s: $%d", pkg.Label, base)},
		IsValid:   true,
		Addons:    []string{},
	}
	seen := make(map[string]bool, len(sel.Addons))
	for _, id := range sel.Addons {
		id = strings.TrimSpace(id)
		if seen[id] {
			continue
		}
		addon, ok := s.addon(id)
		if !ok {
			continue
		}
		seen[id] = true
		q.Total += addon.Price
		q.Breakdown = append(q.Breakdown, fmt.Sprintf("%s: $%d", addon.Label, addon.Price))
		q.Addons = append(q.Addons, addon.Value)
	}
	return q
}

// SubmitQuote records a quote request and notifies the business. The lead is
// kept even when the notification fails; the failure is returned wrapped in
// apperr.ErrUpstream.
func (s *LeadService) SubmitQuote(ctx context.Context, req QuoteRequest) (*models.Lead, error) {
	q := s.Calculate(req.Selection)
	if !q.IsValid {
		return nil, apperr.Invalid("selection", MsgIncompleteSelection)
	}
	contact, err := s.checkContact(req.Contact)
	if err != nil {
		return nil, err
	}
	req.Contact = contact
	if err := validation.Struct(req); err != nil {
		return nil, apperr.Invalid("", validation.FirstMessage(err, "Invalid quote request"))
	}

	vehicle, _ := s.vehicle(req.VehicleType)
	pkg, _ := s.servicePackage(req.ServicePackage)
	lead := &models.Lead{
		Kind:           models.LeadKindQuote,
		Name:           contact.Name,
		Email:          contact.Email,
		Phone:          contact.Phone,
		VehicleType:    vehicle.Value,
		ServicePackage: pkg.Value,
		Addons:         strings.Join(q.Addons, ","),
		TotalPrice:     q.Total,
		PriceBreakdown: strings.Join(q.Breakdown, "\n"),
		Notes:          validation.SanitizeString(req.Notes),
	}

	addonLabels := make([]string, 0, len(q.Addons))
	for _, id := range q.Addons {
		a, _ := s.addon(id)
		addonLabels = append(addonLabels, a.Label)
	}
	data := map[string]interface{}{
		"Name":           lead.Name,
		"Email":          lead.Email,
		"Phone":          lead.Phone,
		"VehicleType":    vehicle.Label,
		"ServicePackage": pkg.Label,
		"Addons":         addonLabels,
		"Breakdown":      q.Breakdown,
		"Total":          q.Total,
		"Notes":          lead.Notes,
	}
	return s.record(ctx, lead, Message{
		Subject:  fmt.Sprintf("Quote request from %s ($%d)", lead.Name, lead.TotalPrice),
		Template: TemplateQuoteRequest,
		Data:     data,
	})
}

// SubmitBooking records a booking request and notifies the business.
func (s *LeadService) SubmitBooking(ctx context.Context, req BookingRequest) (*models.Lead, error) {
	contact, err := s.checkContact(req.Contact)
	if err != nil {
		return nil, err
	}
	req.Contact = contact
	if err := validation.Struct(req); err != nil {
		return nil, apperr.Invalid("", validation.FirstMessage(err, "Invalid booking request"))
	}

	lead := &models.Lead{
		Kind:           models.LeadKindBooking,
		Name:           contact.Name,
		Email:          contact.Email,
		Phone:          contact.Phone,
		ServicePackage: validation.SanitizeString(req.Service),
		PreferredDate:  validation.SanitizeString(req.Date),
		Notes:          validation.SanitizeString(req.Notes),
	}
	data := map[string]interface{}{
		"Name":           lead.Name,
		"Email":          lead.Email,
		"Phone":          lead.Phone,
		"ServicePackage": lead.ServicePackage,
		"PreferredDate":  lead.PreferredDate,
		"Notes":          lead.Notes,
	}
	return s.record(ctx, lead, Message{
		Subject:  fmt.Sprintf("Booking request from %s", lead.Name),
		Template: TemplateBookingRequest,
		Data:     data,
	})
}

// ListLeads returns leads newest first, optionally filtered by kind.
func (s *LeadService) ListLeads(kind string, offset, limit int) ([]models.Lead, int64, error) {
	var leads []models.Lead
	var total int64

	query := s.db.Model(&models.Lead{})
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&leads).Error; err != nil {
		return nil, 0, err
	}
	return leads, total, nil
}

func (s *LeadService) record(ctx context.Context, lead *models.Lead, msg Message) (*models.Lead, error) {
	if err := s.db.WithContext(ctx).Create(lead).Error; err != nil {
		metrics.LeadSubmissions.WithLabelValues(string(lead.Kind), "error").Inc()
		return nil, fmt.Errorf("failed to save lead: %w", err)
	}

	msg.To = s.cfg.LeadNotifyEmail
	msg.ReplyTo = lead.Email
	sendErr := s.notifier.Send(ctx, msg)

	updates := map[string]interface{}{}
	if sendErr != nil {
		lead.NotifyError = sendErr.Error()
		updates["notify_error"] = lead.NotifyError
	} else {
		now := time.Now().UTC()
		lead.NotifiedAt = &now
		updates["notified_at"] = now
	}
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Model(lead).Updates(updates).Error; err != nil {
		s.log.Error().Err(err).Str("lead_id", lead.ID.String()).Msg("failed to record notification result")
	}

	if sendErr != nil {
		metrics.LeadSubmissions.WithLabelValues(string(lead.Kind), "notify_failed").Inc()
		s.log.Error().Err(sendErr).Str("lead_id", lead.ID.String()).Str("kind", string(lead.Kind)).Msg("lead notification failed")
		return lead, fmt.Errorf("notify lead %s: %v: %w", lead.ID, sendErr, apperr.ErrUpstream)
	}
	metrics.LeadSubmissions.WithLabelValues(string(lead.Kind), "ok").Inc()
	s.log.Info().Str("lead_id", lead.ID.String()).Str("kind", string(lead.Kind)).Msg("lead recorded")
	return lead, nil
}

func (s *LeadService) checkContact(c Contact) (Contact, error) {
	c.Name = validation.SanitizeString(c.Name)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Email = strings.TrimSpace(strings.ToLower(c.Email))
	if msg := validation.ValidateName(c.Name); msg != "" {
		return c, apperr.Invalid("name", msg)
	}
	if !validation.ValidatePhone(c.Phone) {
		return c, apperr.Invalid("phone", validation.MsgPhone)
	}
	if !validation.ValidateEmail(c.Email) {
		return c, apperr.Invalid("email", validation.MsgEmail)
	}
	return c, nil
}

func (s *LeadService) vehicle(v string) (VehicleType, bool) {
	for _, vt := range s.catalog.VehicleTypes {
		if vt.Value == v {
			return vt, true
		}
	}
	return VehicleType{}, false
}

func (s *LeadService) servicePackage(v string) (ServicePackage, bool) {
	for _, p := range s.catalog.ServicePackages {
		if p.Value == v {
			return p, true
		}
	}
	return ServicePackage{}, false
}

func (s *LeadService) addon(v string) (Addon, bool) {
	for _, a := range s.catalog.Addons {
		if a.Value == v {
			return a, true
		}
	}
	return Addon{}, false
}
