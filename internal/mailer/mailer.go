// Package mailer delivers email exports. SMTP talks to a relay, Log only
// records what would have been sent, and Guarded fails fast while a relay is
// known to be down.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"backoffice/internal/datatable"
	"backoffice/internal/platform/config"
	"backoffice/pkg/platform/circuit"
	"backoffice/pkg/platform/sentinel"
)

// New builds the mailer selected by MAIL_DRIVER. SMTP delivery is wrapped in
// a circuit breaker.
func New(cfg config.MailConfig, logger *slog.Logger) (datatable.Mailer, error) {
	switch cfg.Driver {
	case "", "log":
		return NewLog(logger), nil
	case "smtp":
		if cfg.SMTPAddr == "" {
			return nil, fmt.Errorf("smtp mailer requires an address")
		}
		relay := NewSMTP(cfg.SMTPAddr, cfg.SMTPUsername, cfg.SMTPPassword, cfg.From)
		return NewGuarded(relay, circuit.New("smtp", circuit.WithFailureThreshold(3), circuit.WithCooldown(time.Minute)), logger), nil
	default:
		return nil, fmt.Errorf("unknown mail driver %q", cfg.Driver)
	}
}

// Log writes a summary of each message to the logger.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Send(ctx context.Context, msg datatable.Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("send mail: no recipients")
	}
	l.logger.InfoContext(ctx, "mail delivered to log",
		"to", msg.To,
		"subject", msg.Subject,
		"attachments", lo.Map(msg.Attachments, func(a datatable.Attachment, _ int) string { return a.FileName }),
		"bytes", lo.SumBy(msg.Attachments, func(a datatable.Attachment) int { return len(a.Data) }),
	)
	return nil
}

// Guarded refuses sends with sentinel.ErrUnavailable while its breaker is open.
type Guarded struct {
	next    datatable.Mailer
	breaker *circuit.Breaker
	logger  *slog.Logger
	now     func() time.Time
}

func NewGuarded(next datatable.Mailer, breaker *circuit.Breaker, logger *slog.Logger) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guarded{next: next, breaker: breaker, logger: logger, now: time.Now}
}

func (g *Guarded) Send(ctx context.Context, msg datatable.Message) error {
	if !g.breaker.Allow(g.now()) {
		return fmt.Errorf("mailer %s: %w", g.breaker.Name(), sentinel.ErrUnavailable)
	}
	if err := g.next.Send(ctx, msg); err != nil {
		if _, change := g.breaker.RecordFailure(); change.Opened {
			g.logger.WarnContext(ctx, "mail circuit opened", "breaker", g.breaker.Name(), "error", err)
		}
		return err
	}
	if _, change := g.breaker.RecordSuccess(); change.Closed {
		g.logger.InfoContext(ctx, "mail circuit closed", "breaker", g.breaker.Name())
	}
	return nil
}
