package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/creatorsync/internal/transport"
)

type SMTPSender struct {
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	Timeout   time.Duration
	TLSConfig *tls.Config
}

func (m *SMTPSender) tlsConfig() *tls.Config {
	if m.TLSConfig != nil {
		return m.TLSConfig
	}
	return &tls.Config{ServerName: m.Host}
}

// Send delivers over SMTP. The generated Message-ID header is reported as the
// provider message id so relay callbacks can be matched back.
func (m *SMTPSender) Send(ctx context.Context, msg transport.Message) (transport.Result, error) {
	from := msg.From
	if from == "" {
		from = m.From
	}
	domain := "creatorsync.local"
	if at := strings.LastIndex(from, "@"); at >= 0 {
		domain = from[at+1:]
	}
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
	raw := buildMIME(from, msg, messageID)

	addr := net.JoinHostPort(m.Host, fmt.Sprint(m.Port))
	dialer := &net.Dialer{Timeout: m.Timeout}

	var (
		conn net.Conn
		err  error
	)
	if m.Port == 465 {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: m.tlsConfig()}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return transport.Result{}, fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if m.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(m.Timeout))
	}

	c, err := smtp.NewClient(conn, m.Host)
	if err != nil {
		conn.Close()
		return transport.Result{}, fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if m.Port != 465 {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(m.tlsConfig()); err != nil {
				return transport.Result{}, fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}
	if m.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", m.Username, m.Password, m.Host)); err != nil {
			return transport.Result{}, smtpError(err)
		}
	}
	if err := c.Mail(from); err != nil {
		return transport.Result{}, smtpError(err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return transport.Result{}, smtpError(err)
	}
	w, err := c.Data()
	if err != nil {
		return transport.Result{}, smtpError(err)
	}
	if _, err := w.Write([]byte(raw)); err != nil {
		return transport.Result{}, smtpError(err)
	}
	if err := w.Close(); err != nil {
		return transport.Result{}, smtpError(err)
	}
	_ = c.Quit()

	return transport.Result{Provider: "smtp", ProviderMessageID: messageID}, nil
}

func buildMIME(from string, msg transport.Message, messageID string) string {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("Message-ID: " + messageID + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	if msg.HTML != "" {
		b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
		b.WriteString(msg.HTML)
	} else {
		b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
		b.WriteString(msg.Text)
	}
	return b.String()
}

// smtpError marks 5xx replies (mailbox unavailable, bad recipient, auth
// rejected) as permanent. 4xx replies are temporary by definition.
func smtpError(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return &transport.PermanentError{Provider: "smtp", Status: tpErr.Code, Err: err}
	}
	return fmt.Errorf("smtp: %w", err)
}
