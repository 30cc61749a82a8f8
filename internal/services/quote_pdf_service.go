package services

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/mobiledetail/backend/internal/apperr"
	"github.com/mobiledetail/backend/internal/config"
)

type QuotePDFService struct {
	cfg   *config.Config
	leads *LeadService
	now   func() time.Time
}

func NewQuotePDFService(cfg *config.Config, leads *LeadService) *QuotePDFService {
	return &QuotePDFService{cfg: cfg, leads: leads, now: time.Now}
}

// ContactURL is where the QR code on a quote sheet points.
func (s *QuotePDFService) ContactURL() string {
	return s.cfg.PublicBaseURL + "/#contact"
}

// GenerateQuotePDF prices sel and renders a one page A4 quote sheet with a QR
// code back to the contact form.
func (s *QuotePDFService) GenerateQuotePDF(sel Selection) ([]byte, error) {
	q := s.leads.Calculate(sel)
	if !q.IsValid {
		return nil, apperr.Invalid("selection", MsgIncompleteSelection)
	}
	vehicle, _ := s.leads.vehicle(sel.VehicleType)
	pkg, _ := s.leads.servicePackage(sel.ServicePackage)

	png, err := qrcode.Encode(s.ContactURL(), qrcode.Medium, 512)
	if err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Detailing Quote", false)
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 18)
	pdf.Cell(0, 10, "Your Detailing Quote")
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 11)
	pdf.Cell(0, 6, "Date: "+s.now().Format("January 2, 2006"))
	pdf.Ln(6)
	pdf.Cell(0, 6, "Vehicle: "+vehicle.Label)
	pdf.Ln(6)
	pdf.Cell(0, 6, "Package: "+pkg.Label)
	pdf.Ln(6)
	pdf.MultiCell(0, 6, pkg.Description, "", "L", false)
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(0, 8, "Price breakdown")
	pdf.Ln(8)
	pdf.SetFont("Arial", "", 11)
	for _, line := range q.Breakdown {
		pdf.Cell(0, 6, line)
		pdf.Ln(6)
	}
	pdf.Ln(2)
	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(0, 8, fmt.Sprintf("Total: $%d", q.Total))
	pdf.Ln(10)

	pdf.SetFont("Arial", "", 10)
	pdf.MultiCell(0, 5, "Scan the code to lock in this price:\n"+s.ContactURL(), "", "L", false)

	opt := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: true}
	pdf.RegisterImageOptionsReader("qr", opt, bytes.NewReader(png))
	x := (210.0 - 60.0) / 2.0
	y := pdf.GetY() + 6
	pdf.ImageOptions("qr", x, y, 60, 60, false, opt, 0, "")

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
