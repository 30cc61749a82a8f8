package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"fmt"
	"html/template"
	"net/smtp"

	"github.com/rs/zerolog"

	"github.com/mobiledetail/backend/internal/config"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	TemplateQuoteRequest   = "quote_request.html"
	TemplateBookingRequest = "booking_request.html"
)

// Message is one outgoing email rendered from a template.
type Message struct {
	To       string
	ReplyTo  string
	Subject  string
	Template string
	Data     interface{}
}

// Notifier delivers messages. Send returns an error when the message was not accepted.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

type EmailService struct {
	cfg       *config.Config
	templates *template.Template
	log       zerolog.Logger
}

func NewEmailService(cfg *config.Config, log zerolog.Logger) (*EmailService, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}
	return &EmailService{
		cfg:       cfg,
		templates: tmpl,
		log:       log.With().Str("service", "email").Logger(),
	}, nil
}

// Render executes the message template and returns the full MIME message.
func (s *EmailService) Render(msg Message) ([]byte, error) {
	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, msg.Template, msg.Data); err != nil {
		return nil, fmt.Errorf("failed to execute template %s: %w", msg.Template, err)
	}

	from := fmt.Sprintf("%s <%s>", s.cfg.SMTPFromName, s.cfg.SMTPFrom)

	var out bytes.Buffer
	fmt.Fprintf(&out, "From: %s\r\n", from)
	fmt.Fprintf(&out, "To: %s\r\n", msg.To)
	if msg.ReplyTo != "" {
		fmt.Fprintf(&out, "Reply-To: %s\r\n", msg.ReplyTo)
	}
	fmt.Fprintf(&out, "Subject: %s\r\n", msg.Subject)
	out.WriteString("MIME-Version: 1.0\r\n")
	out.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	out.WriteString("\r\n")
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// Send renders msg and delivers it over SMTP. Without an SMTP host the
// message is only logged.
func (s *EmailService) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.To == "" {
		return fmt.Errorf("email %q has no recipient", msg.Subject)
	}
	raw, err := s.Render(msg)
	if err != nil {
		return err
	}
	if !s.cfg.SMTPEnabled() {
		s.log.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("SMTP not configured, email not sent")
		return nil
	}
	if err := s.sendSMTP(msg.To, raw); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", msg.To, err)
	}
	s.log.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("email sent")
	return nil
}

// sendSMTP uses implicit TLS on port 465 and STARTTLS via smtp.SendMail otherwise.
func (s *EmailService) sendSMTP(to string, message []byte) error {
	var auth smtp.Auth
	if s.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)

	if s.cfg.SMTPPort != 465 {
		return smtp.SendMail(addr, auth, s.cfg.SMTPFrom, []string{to}, message)
	}

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.cfg.SMTPHost})
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}
	if err := client.Mail(s.cfg.SMTPFrom); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(message); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
