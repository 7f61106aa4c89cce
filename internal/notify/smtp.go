package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"helpdesk.org/internal/ids"
)

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host          string  `yaml:"host"`
	Port          int     `yaml:"port"`
	Username      string  `yaml:"username"`
	Password      string  `yaml:"password"`
	From          string  `yaml:"from"`
	RatePerSecond float64 `yaml:"rate_per_second"`
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends multipart mail through an SMTP relay, paced by a token bucket.
type SMTPMailer struct {
	cfg     SMTPConfig
	addr    string
	auth    smtp.Auth
	limiter *rate.Limiter
	send    sendFunc
	now     func() time.Time
}

// NewSMTPMailer validates cfg and returns a mailer.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp: host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("smtp: from address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	m := &SMTPMailer{
		cfg:     cfg,
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		send:    smtp.SendMail,
		now:     time.Now,
	}
	if cfg.Username != "" {
		m.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return m, nil
}

// Send waits for a send slot, then delivers msg.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) (string, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("smtp: rate wait: %w", err)
	}
	messageID := fmt.Sprintf("<%s@%s>", ids.New(), m.cfg.Host)
	body, err := m.compose(messageID, msg)
	if err != nil {
		return "", err
	}
	if err := m.send(m.addr, m.auth, m.cfg.From, []string{msg.To}, body); err != nil {
		return "", fmt.Errorf("smtp: send to %s: %w", msg.To, err)
	}
	return messageID, nil
}

func (m *SMTPMailer) compose(messageID string, msg Message) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", m.now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())

	parts := []struct{ contentType, body string }{
		{"text/plain; charset=utf-8", msg.Text},
		{"text/html; charset=utf-8", msg.HTML},
	}
	for _, p := range parts {
		pw, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, fmt.Errorf("smtp: compose: %w", err)
		}
		if _, err := pw.Write([]byte(p.body)); err != nil {
			return nil, fmt.Errorf("smtp: compose: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("smtp: compose: %w", err)
	}
	return buf.Bytes(), nil
}
