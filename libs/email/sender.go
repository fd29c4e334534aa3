// Package email renders appointment notifications and delivers them over SMTP.
package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"regexp"
	"strings"
	"time"
)

// ErrNotConfigured is returned by DisabledSender.
var ErrNotConfigured = errors.New("email delivery is not configured")

var addressPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidAddress reports whether addr looks deliverable.
func ValidAddress(addr string) bool {
	return addressPattern.MatchString(strings.TrimSpace(addr))
}

type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string // bare address, e.g. no-reply@medibook.local
	FromName string
}

// SMTPSender sends multipart text+HTML mail. Authentication is PLAIN when a
// username is configured and none otherwise (Mailpit-compatible).
type SMTPSender struct {
	addr string
	host string
	auth smtp.Auth
	from mail.Address
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now  func() time.Time
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	host := strings.TrimSpace(cfg.Host)
	port := strings.TrimSpace(cfg.Port)
	if port == "" {
		port = "25"
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = "no-reply@medibook.local"
	}
	name := strings.TrimSpace(cfg.FromName)
	if name == "" {
		name = "Doctor Appointments"
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}
	return &SMTPSender{
		addr: net.JoinHostPort(host, port),
		host: host,
		auth: auth,
		from: mail.Address{Name: name, Address: from},
		send: smtp.SendMail,
		now:  time.Now,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if !ValidAddress(msg.To) {
		return fmt.Errorf("invalid recipient address %q", msg.To)
	}
	raw, err := buildMessage(s.from, msg, s.now())
	if err != nil {
		return err
	}

	// net/smtp has no context support; run it aside and stop waiting on cancel.
	done := make(chan error, 1)
	go func() {
		done <- s.send(s.addr, s.auth, s.from.Address, []string{msg.To}, raw)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DisabledSender fails every send. It stands in when no SMTP host is set.
type DisabledSender struct{}

func (DisabledSender) Send(context.Context, Message) error {
	return ErrNotConfigured
}

func buildMessage(from mail.Address, msg Message, now time.Time) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=utf-8", msg.Text},
		{"text/html; charset=utf-8", msg.HTML},
	}
	for _, p := range parts {
		if p.content == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(p.content)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "From: %s\r\n", from.String())
	fmt.Fprintf(&out, "To: %s\r\n", msg.To)
	fmt.Fprintf(&out, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&out, "Date: %s\r\n", now.Format(time.RFC1123Z))
	out.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&out, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())
	out.Write(body.Bytes())
	return out.Bytes(), nil
}
