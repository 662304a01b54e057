package delivery

import (
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jordan-wright/email"

	"github.com/aluiziolira/go-grab-ebooks/config"
)

const (
	defaultSubject = "New free packt ebook"
	defaultBody    = "Enjoy!"
	infoSubject    = "Info message from the ebook grabber"
)

// ErrNoRecipients is returned when a message has nobody to go to.
var ErrNoRecipients = errors.New("mail: no recipients")

type sendFunc func(e *email.Email, addr string, auth smtp.Auth) error

func smtpSend(e *email.Email, addr string, auth smtp.Auth) error {
	return e.Send(addr, auth)
}

// Mailer sends ebooks as attachments over SMTP with PLAIN auth. The
// connection is upgraded with STARTTLS when the server offers it.
type Mailer struct {
	cfg    config.MailConfig
	send   sendFunc
	logger *slog.Logger
}

// NewMailer builds a mailer for the [MAIL] settings.
func NewMailer(cfg config.MailConfig, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{cfg: cfg, send: smtpSend, logger: logger}
}

// SendBook mails path as a single attachment. A nil to uses the configured
// recipients.
func (m *Mailer) SendBook(path string, to []string) error {
	if to == nil {
		to = m.cfg.To
	}
	if len(to) == 0 {
		return ErrNoRecipients
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("attach %s: %w", path, err)
	}
	defer f.Close()

	name := filepath.Base(path)
	e := m.message(to, fmt.Sprintf("%s: %s", defaultSubject, name), defaultBody)
	contentType := MimeType(name)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := e.Attach(f, name, contentType); err != nil {
		return fmt.Errorf("attach %s: %w", path, err)
	}
	return m.deliver(e)
}

// SendKindle mails path to the kindle addresses, if any are configured.
func (m *Mailer) SendKindle(path string) error {
	if len(m.cfg.KindleEmails) == 0 {
		return nil
	}
	return m.SendBook(path, m.cfg.KindleEmails)
}

// SendInfo mails a plain status message to the configured recipients.
func (m *Mailer) SendInfo(subject, body string) error {
	if len(m.cfg.To) == 0 {
		return ErrNoRecipients
	}
	if subject == "" {
		subject = infoSubject
	}
	return m.deliver(m.message(m.cfg.To, subject, body))
}

func (m *Mailer) message(to []string, subject, body string) *email.Email {
	e := email.NewEmail()
	e.From = m.cfg.From
	e.To = to
	e.Subject = subject
	e.Text = []byte(body)
	return e
}

func (m *Mailer) deliver(e *email.Email) error {
	addr := m.cfg.Host + ":" + strconv.Itoa(m.cfg.Port)
	auth := smtp.PlainAuth("", m.cfg.From, m.cfg.Password, m.cfg.Host)

	m.logger.Info("sending email", slog.String("from", e.From), slog.Any("to", e.To), slog.String("subject", e.Subject))
	if err := m.send(e, addr, auth); err != nil {
		m.logger.Error("sending failed", slog.Any("to", e.To), slog.Any("error", err))
		return fmt.Errorf("send mail to %v: %w", e.To, err)
	}
	m.logger.Info("email has been sent", slog.Any("to", e.To))
	return nil
}
