package datatable

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"backoffice/internal/audit"
	"backoffice/internal/datatable/metrics"
	dErrors "backoffice/pkg/domain-errors"
	"backoffice/pkg/email"
	pstrings "backoffice/pkg/platform/strings"
)

const csvContentType = "text/csv; charset=utf-8"

// Attachment is a file carried by a Message.
type Attachment struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Message is what the mail collaborator delivers.
type Message struct {
	To          []string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Mailer is the mail collaborator. Send either delivers to every recipient or fails.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// EmailExporter renders an export synchronously and mails it as a CSV attachment.
type EmailExporter struct {
	registry *Registry
	mailer   Mailer
	logger   *slog.Logger
	metrics  *metrics.Metrics
	auditor  Auditor
}

type EmailOption func(*EmailExporter)

func WithEmailLogger(logger *slog.Logger) EmailOption {
	return func(x *EmailExporter) {
		x.logger = logger
	}
}

func WithEmailMetrics(m *metrics.Metrics) EmailOption {
	return func(x *EmailExporter) {
		x.metrics = m
	}
}

func WithEmailAuditor(a Auditor) EmailOption {
	return func(x *EmailExporter) {
		x.auditor = a
	}
}

func NewEmailExporter(registry *Registry, mailer Mailer, opts ...EmailOption) *EmailExporter {
	x := &EmailExporter{registry: registry, mailer: mailer, logger: slog.Default()}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// EmailRequest is a contract-resolved email export.
type EmailRequest struct {
	Input      Input
	Recipients []string
	Subject    string
	FileName   string
}

// Run authorizes, renders and delivers. Nothing is sent unless every step before
// delivery succeeds.
func (x *EmailExporter) Run(ctx context.Context, scopeKey string, req EmailRequest, dctx Context) error {
	err := x.run(ctx, scopeKey, req, dctx)
	outcome := audit.OutcomeSuccess
	action := audit.ActionEmailExportSent
	reason := ""
	if err != nil {
		outcome, action, reason = audit.OutcomeFailure, audit.ActionEmailExportFailure, failureReason(err)
		x.metrics.IncEmailExport(scopeKey, "failed")
	} else {
		x.metrics.IncEmailExport(scopeKey, "delivered")
	}
	if x.auditor != nil && dctx.Actor != nil {
		x.auditor.Emit(ctx, audit.Event{
			ActorID:   dctx.Actor.ID,
			SessionID: dctx.Actor.SessionID,
			Action:    action,
			Subject:   scopeKey,
			Outcome:   outcome,
			Reason:    reason,
		})
	}
	return err
}

func (x *EmailExporter) run(ctx context.Context, scopeKey string, req EmailRequest, dctx Context) error {
	entry, err := x.registry.Lookup(scopeKey)
	if err != nil {
		return err
	}
	if err := entry.Check(ctx, req.Input, dctx); err != nil {
		return err
	}

	recipients := pstrings.DedupeAndTrimLower(req.Recipients)
	if len(recipients) == 0 {
		return dErrors.New(dErrors.CodeBadRequest, "at least one recipient is required")
	}
	for _, r := range recipients {
		if !email.Valid(r) {
			return dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("invalid recipient %q", r))
		}
	}

	var buf bytes.Buffer
	rows, err := entry.Export(ctx, req.Input, dctx, &buf)
	if err != nil {
		return err
	}

	fileName := ExportFileName(req.FileName, req.Input.ExportFileName, defaultFileStem(scopeKey))
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		subject = "Export " + fileName
	}
	msg := Message{
		To:      recipients,
		Subject: subject,
		Body:    fmt.Sprintf("Attached is the export %s with %d rows.", fileName, rows),
		Attachments: []Attachment{{
			FileName:    fileName,
			ContentType: csvContentType,
			Data:        buf.Bytes(),
		}},
	}
	if err := x.mailer.Send(ctx, msg); err != nil {
		x.logger.ErrorContext(ctx, "email export delivery failed", "scope_key", scopeKey, "error", err)
		return dErrors.Upstream(err, "failed to deliver export email")
	}
	x.logger.InfoContext(ctx, "email export delivered",
		"scope_key", scopeKey,
		"recipients", len(recipients),
		"rows", rows,
	)
	return nil
}

// RunEmailExport resolves recipients, subject and file name through the contract and runs the export.
func RunEmailExport[Q, E any](ctx context.Context, x *EmailExporter, c ScopedContract[Q, E], req E, dctx Context) (bool, error) {
	err := x.Run(ctx, c.ScopeKey(), EmailRequest{
		Input:      c.EmailToInput(req),
		Recipients: c.EmailRecipients(req),
		Subject:    c.EmailSubject(req),
		FileName:   c.ExportFileName(req),
	}, dctx)
	if err != nil {
		return false, err
	}
	return true, nil
}
