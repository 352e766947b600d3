package notify

import (
	"Go_Drop/model"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html"
	"net/smtp"
	"time"

	"github.com/jordan-wright/email"
)

// SMTPConfig addresses the mail relay used for operator alerts.
type SMTPConfig struct {
	Host     string
	Port     string
	User     string
	Pass     string
	From     string
	To       []string
	TLS      bool
	StartTLS bool
}

// Mailer sends an alert mail for each lifecycle event.
type Mailer struct {
	cfg SMTPConfig
}

func NewMailer(cfg SMTPConfig) (*Mailer, error) {
	if cfg.Host == "" || cfg.Port == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil, errors.New("smtp config missing")
	}
	return &Mailer{cfg: cfg}, nil
}

// PublishEvent mails the event. The SMTP client has no context support, so
// ctx is only checked before sending.
func (m *Mailer) PublishEvent(ctx context.Context, ev model.LifecycleEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := buildMessage(m.cfg.From, m.cfg.To, ev)

	addr := m.cfg.Host + ":" + m.cfg.Port
	var auth smtp.Auth
	if m.cfg.User != "" {
		auth = smtp.PlainAuth("", m.cfg.User, m.cfg.Pass, m.cfg.Host)
	}
	tlsConfig := &tls.Config{ServerName: m.cfg.Host}

	if m.cfg.TLS {
		return e.SendWithTLS(addr, auth, tlsConfig)
	}
	if m.cfg.StartTLS {
		return e.SendWithStartTLS(addr, auth, tlsConfig)
	}
	return e.Send(addr, auth)
}

func subjectFor(kind model.LifecycleEventKind) string {
	switch kind {
	case model.EventOrphanedBlob:
		return "Orphaned blob needs reconciliation"
	case model.EventDeletionExhausted:
		return "Object deletion retries exhausted"
	default:
		return "Lifecycle event: " + string(kind)
	}
}

func buildMessage(from string, to []string, ev model.LifecycleEvent) *email.Email {
	e := email.NewEmail()
	e.From = from
	e.To = to
	e.Subject = subjectFor(ev.Kind)
	e.HTML = []byte(fmt.Sprintf(`
		<h2>%s</h2>
		<p>Storage key: <code>%s</code></p>
		<p>Record: %s (owner %s)</p>
		<p>Attempts: %d</p>
		<p>Error: %s</p>
		<p>At: %s</p>
	`,
		html.EscapeString(e.Subject),
		html.EscapeString(ev.StorageKey),
		html.EscapeString(ev.RecordID),
		html.EscapeString(ev.OwnerID),
		ev.Attempts,
		html.EscapeString(ev.Error),
		ev.At.UTC().Format(time.RFC3339),
	))
	return e
}
