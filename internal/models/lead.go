package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type LeadKind string

const (
	LeadKindQuote   LeadKind = "quote"
	LeadKindBooking LeadKind = "booking"
)

// Lead is a quote request or a booking request submitted from the public site.
type Lead struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Kind           LeadKind   `gorm:"type:varchar(16);not null;index" json:"kind"`
	Name           string     `gorm:"size:100;not null" json:"name"`
	Email          string     `gorm:"size:255;not null" json:"email"`
	Phone          string     `gorm:"size:32;not null" json:"phone"`
	VehicleType    string     `gorm:"size:32" json:"vehicle_type,omitempty"`
	ServicePackage string     `gorm:"size:64" json:"service_package,omitempty"`
	Addons         string     `gorm:"size:255" json:"addons,omitempty"` // comma separated add-on ids
	TotalPrice     int        `json:"total_price,omitempty"`
	PriceBreakdown string     `gorm:"type:text" json:"price_breakdown,omitempty"` // one line per item
	PreferredDate  string     `gorm:"size:32" json:"preferred_date,omitempty"`
	Notes          string     `gorm:"type:text" json:"notes,omitempty"`
	NotifiedAt     *time.Time `json:"notified_at,omitempty"`
	NotifyError    string     `gorm:"type:text" json:"notify_error,omitempty"`
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (l *Lead) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// AddonList returns the stored add-on ids.
func (l *Lead) AddonList() []string {
	return ParseTags(l.Addons)
}

// BreakdownLines returns the stored price breakdown.
func (l *Lead) BreakdownLines() []string {
	if l.PriceBreakdown == "" {
		return nil
	}
	return strings.Split(l.PriceBreakdown, "\n")
}
