// Package mailer delivers release notifications over SMTP.
package mailer

import (
	"bytes"
	"context"
	"html/template"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/JakeFAU/bios-notifier/internal/tracker"
)

// Delivery failure kinds.
const (
	KindConfig    = "config"
	KindRecipient = "invalid_recipient"
	KindTransport = "smtp"
	KindCanceled  = "canceled"
	KindRender    = "render"
)

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// SiteURL is the public front end; the unsubscribe link is built from it.
	SiteURL string
}

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTP implements tracker.Mailer with gomail.
type SMTP struct {
	cfg    Config
	dialer sender
	logger *zap.Logger
}

var bodyTemplate = template.Must(template.New("release").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <p><strong>A new BIOS is available for your ASRock {{.Model}} motherboard.</strong></p>
  <p>Version {{.Version}}{{if .Date}} released {{.Date}}{{end}} can be downloaded from
    <a href="{{.Page}}">the official ASRock page</a>.</p>
  <p>You are receiving this because you signed up on the
    <a href="{{.Site}}">ASRock BIOS Notifier</a>.</p>
  <p>You can unsubscribe at any time <a href="{{.Unsubscribe}}">by clicking here</a>.</p>
</body>
</html>`))

// NewSMTP builds an SMTP mailer.
func NewSMTP(cfg Config, logger *zap.Logger) *SMTP {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTP{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		logger: logger,
	}
}

// Send emails user about model's held release. Every failure is a *tracker.DeliveryError.
func (s *SMTP) Send(ctx context.Context, user tracker.User, model tracker.Model) error {
	if s.cfg.Host == "" || s.cfg.From == "" {
		return &tracker.DeliveryError{Kind: KindConfig, Message: "smtp host or sender missing"}
	}
	to := strings.TrimSpace(user.Email)
	if to == "" || !strings.Contains(to, "@") {
		return &tracker.DeliveryError{Kind: KindRecipient, Message: "recipient address invalid: " + to}
	}
	if err := ctx.Err(); err != nil {
		return &tracker.DeliveryError{Kind: KindCanceled, Message: err.Error()}
	}

	body, err := s.render(user, model)
	if err != nil {
		return &tracker.DeliveryError{Kind: KindRender, Message: err.Error()}
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", "New BIOS Update Available for "+model.Name)
	m.SetHeader("List-Unsubscribe", "<"+s.unsubscribeLink(to)+">")
	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return &tracker.DeliveryError{Kind: KindTransport, Message: err.Error()}
	}
	s.logger.Info("notification email sent", zap.String("to", to), zap.String("model", model.Name))
	return nil
}

func (s *SMTP) render(user tracker.User, model tracker.Model) (string, error) {
	var buf bytes.Buffer
	err := bodyTemplate.Execute(&buf, map[string]string{
		"Model":       model.Name,
		"Version":     model.HeldVersion,
		"Date":        model.HeldDate.String(),
		"Page":        model.BiosPage,
		"Site":        s.siteURL(),
		"Unsubscribe": s.unsubscribeLink(user.Email),
	})
	return buf.String(), err
}

func (s *SMTP) siteURL() string {
	if s.cfg.SiteURL == "" {
		return "/"
	}
	return s.cfg.SiteURL
}

func (s *SMTP) unsubscribeLink(email string) string {
	return strings.TrimRight(s.siteURL(), "/") + "/unsubscribe?email=" + url.QueryEscape(email)
}

// LogMailer records notifications in the log instead of sending them.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer builds a dry-run mailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// Send logs the notification and always succeeds.
func (l *LogMailer) Send(_ context.Context, user tracker.User, model tracker.Model) error {
	l.logger.Info("dry-run notification",
		zap.String("to", user.Email),
		zap.String("model", model.Name),
		zap.String("version", model.HeldVersion))
	return nil
}
