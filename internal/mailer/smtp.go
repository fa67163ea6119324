package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"

	"backoffice/internal/datatable"
)

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTP delivers through a single relay.
type SMTP struct {
	addr string
	auth smtp.Auth
	from string
	send SendFunc
	now  func() time.Time
}

type SMTPOption func(*SMTP)

// WithSendFunc replaces smtp.SendMail.
func WithSendFunc(fn SendFunc) SMTPOption {
	return func(s *SMTP) { s.send = fn }
}

func NewSMTP(addr, username, password, from string, opts ...SMTPOption) *SMTP {
	s := &SMTP{addr: addr, from: from, send: smtp.SendMail, now: time.Now}
	if username != "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		s.auth = smtp.PlainAuth("", username, password, host)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send delivers msg to every recipient in one SMTP transaction. The relay
// call does not take a context, so a cancelled ctx only stops delivery that
// has not started.
func (s *SMTP) Send(ctx context.Context, msg datatable.Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("send mail: no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := s.render(msg)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- s.send(s.addr, s.auth, s.from, msg.To, body) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send mail via %s: %w", s.addr, err)
		}
		return nil
	}
}

// render builds a multipart/mixed message: a text part followed by one
// base64 part per attachment.
func (s *SMTP) render(msg datatable.Message) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := []string{
		"From: " + (&mail.Address{Address: s.from}).String(),
		"To: " + strings.Join(msg.To, ", "),
		"Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject),
		"Date: " + s.now().Format(time.RFC1123Z),
		"Message-ID: <" + uuid.NewString() + "@backoffice>",
		"MIME-Version: 1.0",
		"Content-Type: multipart/mixed; boundary=" + mw.Boundary(),
	}
	head := strings.Join(header, "\r\n") + "\r\n\r\n"

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=utf-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return nil, fmt.Errorf("render mail: %w", err)
	}
	qp := quotedprintable.NewWriter(text)
	if _, err := qp.Write([]byte(msg.Body)); err != nil {
		return nil, fmt.Errorf("render mail: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("render mail: %w", err)
	}

	for _, a := range msg.Attachments {
		mediaType, params, err := mime.ParseMediaType(a.ContentType)
		if err != nil {
			mediaType, params = "application/octet-stream", map[string]string{}
		}
		params["name"] = a.FileName
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {mime.FormatMediaType(mediaType, params)},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": a.FileName})},
			"Content-Transfer-Encoding": {"base64"},
		})
		if err != nil {
			return nil, fmt.Errorf("render mail: %w", err)
		}
		if err := writeBase64Lines(part, a.Data); err != nil {
			return nil, fmt.Errorf("render mail: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("render mail: %w", err)
	}
	return append([]byte(head), buf.Bytes()...), nil
}

// writeBase64Lines wraps encoded data at 76 columns.
func writeBase64Lines(w io.Writer, data []byte) error {
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 76 {
		if _, err := w.Write([]byte(enc[:76] + "\r\n")); err != nil {
			return err
		}
		enc = enc[76:]
	}
	_, err := w.Write([]byte(enc + "\r\n"))
	return err
}
