package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/gomail.v2"
	"relayr/internal/platform/config"
	"relayr/internal/platform/models"
)

var ErrDisabled = errors.New("notify: email delivery disabled")

// EmailSender sends escalation and reminder notifications over SMTP.
type EmailSender struct {
	cfg    config.EmailConfig
	links  config.LinksConfig
	dialer *gomail.Dialer
}

func NewEmailSender(cfg config.EmailConfig, links config.LinksConfig) *EmailSender {
	return &EmailSender{
		cfg:    cfg,
		links:  links,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (s *EmailSender) SendEscalation(to string, approval *models.PostApproval, level string) error {
	if !s.cfg.Enabled {
		return ErrDisabled
	}

	subject := fmt.Sprintf("Reminder: approval pending for %q", approval.Title)
	if !strings.HasPrefix(level, "reminder") {
		subject = fmt.Sprintf("Escalation: approval overdue for %q", approval.Title)
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.cfg.FromAddress, s.cfg.FromName)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", s.renderBody(approval, level))

	return s.dialer.DialAndSend(m)
}

func (s *EmailSender) renderBody(approval *models.PostApproval, level string) string {
	base := strings.TrimRight(s.links.BaseURL, "/")
	approvalLink := fmt.Sprintf("%s/approvals/%s", base, approval.ID)
	unsubscribeLink := fmt.Sprintf("%s/notifications/unsubscribe?brand=%s", base, approval.BrandID)
	pendingSince := time.Unix(approval.CreatedAt, 0).UTC().Format("Jan 2, 2006 15:04 MST")

	var b strings.Builder
	fmt.Fprintf(&b, "<p>The post %q has been awaiting approval since %s.</p>", approval.Title, pendingSince)
	fmt.Fprintf(&b, "<p>Escalation level: <strong>%s</strong></p>", level)
	fmt.Fprintf(&b, `<p><a href="%s">Review this approval</a></p>`, approvalLink)
	fmt.Fprintf(&b, `<p style="color:#888;font-size:12px"><a href="%s">Unsubscribe from these notifications</a></p>`, unsubscribeLink)
	return b.String()
}
