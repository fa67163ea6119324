package datatable

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"backoffice/internal/actor"
	"backoffice/internal/audit"
	"backoffice/internal/datatable/metrics"
	dErrors "backoffice/pkg/domain-errors"
	"backoffice/pkg/platform/sentinel"
)

const (
	defaultLinkTTL    = 24 * time.Hour
	defaultWorkers    = 2
	defaultQueueSize  = 64
	defaultJobTimeout = 5 * time.Minute

	terminalWriteTimeout = 5 * time.Second
	shutdownReason       = "export cancelled by shutdown"
)

// JobStatus is the lifecycle state of an export job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// CanTransition enforces queued -> running -> succeeded|failed. A queued job
// may also fail directly (for example when the queue rejects it).
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobQueued:
		return to == JobRunning || to == JobFailed
	case JobRunning:
		return to == JobSucceeded || to == JobFailed
	}
	return false
}

// Job is an async export and the snapshot of the request that produced it.
type Job struct {
	ID        string     `json:"id"`
	ScopeKey  string     `json:"scope_key"`
	Status    JobStatus  `json:"status"`
	Request   JobRequest `json:"request"`
	FileName  string     `json:"file_name"`
	ResultRef string     `json:"result_ref,omitempty"`
	RowCount  int        `json:"row_count"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// JobRequest carries what a worker needs to rebuild the submitter's Context.
type JobRequest struct {
	Input             Input             `json:"input"`
	ActorID           string            `json:"actor_id"`
	Guard             string            `json:"guard"`
	SessionID         string            `json:"session_id,omitempty"`
	Permissions       []string          `json:"permissions"`
	Attributes        map[string]any    `json:"attributes,omitempty"`
	UserTimezone      string            `json:"user_timezone,omitempty"`
	UnknownFilterMode UnknownFilterMode `json:"unknown_filter_mode"`
}

func snapshot(input Input, dctx Context) JobRequest {
	req := JobRequest{Input: input, UnknownFilterMode: dctx.UnknownFilterMode}
	if a := dctx.Actor; a != nil {
		req.ActorID = a.ID
		req.Guard = a.Guard
		req.SessionID = a.SessionID
		req.Permissions = a.PermissionList()
		req.Attributes = a.Attributes
	}
	if dctx.UserTimezone != nil {
		req.UserTimezone = dctx.UserTimezone.String()
	}
	return req
}

// JobStore persists export jobs. Stores drop jobs once ExpiresAt passes.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	// Get returns sentinel.ErrNotFound for missing or expired jobs.
	Get(ctx context.Context, id string) (*Job, error)
	// Update applies mutate atomically and returns the stored result. An error
	// from mutate aborts the update and is returned unchanged.
	Update(ctx context.Context, id string, mutate func(*Job) error) (*Job, error)
}

// ArtifactStore is the storage collaborator for rendered exports.
type ArtifactStore interface {
	Put(ctx context.Context, key string, r io.Reader, ttl time.Duration) (string, error)
	// Open returns sentinel.ErrNotFound or sentinel.ErrExpired when the artifact is gone.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// Auditor receives security-relevant events.
type Auditor interface {
	Emit(ctx context.Context, e audit.Event)
}

// AsyncExporter accepts export jobs and renders them on a bounded worker pool.
type AsyncExporter struct {
	registry   *Registry
	jobs       JobStore
	artifacts  ArtifactStore
	queue      chan string
	workers    int
	queueSize  int
	linkTTL    time.Duration
	jobTimeout time.Duration
	settings   Settings
	logger     *slog.Logger
	metrics    *metrics.Metrics
	auditor    Auditor
	tracer     trace.Tracer
	now        func() time.Time
}

type AsyncOption func(*AsyncExporter)

func WithWorkers(n int) AsyncOption {
	return func(x *AsyncExporter) {
		if n > 0 {
			x.workers = n
		}
	}
}

func WithQueueSize(n int) AsyncOption {
	return func(x *AsyncExporter) {
		if n > 0 {
			x.queueSize = n
		}
	}
}

// WithLinkTTL bounds how long a job and its artifact stay retrievable.
func WithLinkTTL(d time.Duration) AsyncOption {
	return func(x *AsyncExporter) {
		if d > 0 {
			x.linkTTL = d
		}
	}
}

func WithJobTimeout(d time.Duration) AsyncOption {
	return func(x *AsyncExporter) {
		if d > 0 {
			x.jobTimeout = d
		}
	}
}

// WithSettings supplies the paging defaults and app timezone workers use when
// rebuilding a Context.
func WithSettings(s Settings) AsyncOption {
	return func(x *AsyncExporter) {
		x.settings = s
	}
}

func WithAsyncLogger(logger *slog.Logger) AsyncOption {
	return func(x *AsyncExporter) {
		x.logger = logger
	}
}

func WithAsyncMetrics(m *metrics.Metrics) AsyncOption {
	return func(x *AsyncExporter) {
		x.metrics = m
	}
}

func WithAuditor(a Auditor) AsyncOption {
	return func(x *AsyncExporter) {
		x.auditor = a
	}
}

func WithClock(now func() time.Time) AsyncOption {
	return func(x *AsyncExporter) {
		x.now = now
	}
}

func NewAsyncExporter(registry *Registry, jobs JobStore, artifacts ArtifactStore, opts ...AsyncOption) *AsyncExporter {
	x := &AsyncExporter{
		registry:   registry,
		jobs:       jobs,
		artifacts:  artifacts,
		workers:    defaultWorkers,
		queueSize:  defaultQueueSize,
		linkTTL:    defaultLinkTTL,
		jobTimeout: defaultJobTimeout,
		logger:     slog.Default(),
		tracer:     otel.Tracer("backoffice/internal/datatable"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(x)
	}
	x.queue = make(chan string, x.queueSize)
	return x
}

// Submit validates and authorizes the request, records a queued job and hands
// it to the worker pool. It never waits for the export itself.
func (x *AsyncExporter) Submit(ctx context.Context, scopeKey string, input Input, dctx Context) (*Job, error) {
	entry, err := x.registry.Lookup(scopeKey)
	if err != nil {
		return nil, err
	}
	if err := entry.Check(ctx, input, dctx); err != nil {
		return nil, err
	}

	now := x.now()
	job := &Job{
		ID:        ulid.Make().String(),
		ScopeKey:  scopeKey,
		Status:    JobQueued,
		Request:   snapshot(input, dctx),
		FileName:  ExportFileName(input.ExportFileName, defaultFileStem(scopeKey)),
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(x.linkTTL),
	}
	if err := x.jobs.Create(ctx, job); err != nil {
		return nil, dErrors.Upstream(err, "failed to record export job")
	}

	select {
	case x.queue <- job.ID:
	default:
		x.fail(ctx, job.ID, "export queue is full")
		return nil, dErrors.New(dErrors.CodeUpstream, "export queue is full")
	}
	x.metrics.SetQueueSize(len(x.queue))
	x.metrics.IncExportJob(scopeKey, string(JobQueued))
	x.emit(ctx, job, audit.ActionExportSubmitted, audit.OutcomeSuccess, "")
	x.logger.InfoContext(ctx, "export job submitted", "job_id", job.ID, "scope_key", scopeKey, "actor_id", job.Request.ActorID)
	return job, nil
}

// SubmitExport converts a typed listing request through its contract and submits it.
func SubmitExport[Q, E any](ctx context.Context, x *AsyncExporter, c ScopedContract[Q, E], req Q, dctx Context) (*Job, error) {
	return x.Submit(ctx, c.ScopeKey(), c.QueryToInput(req), dctx)
}

// Poll returns the job if it exists, has not expired and belongs to actorID.
// Polling is read-only and may be repeated.
func (x *AsyncExporter) Poll(ctx context.Context, id, actorID string) (*Job, error) {
	job, err := x.jobs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "export job not found")
		}
		return nil, dErrors.Upstream(err, "failed to load export job")
	}
	if job.Request.ActorID != actorID || !x.now().Before(job.ExpiresAt) {
		return nil, dErrors.New(dErrors.CodeNotFound, "export job not found")
	}
	return job, nil
}

// Open returns the artifact of a succeeded job.
func (x *AsyncExporter) Open(ctx context.Context, id, actorID string) (io.ReadCloser, *Job, error) {
	job, err := x.Poll(ctx, id, actorID)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != JobSucceeded {
		return nil, nil, dErrors.New(dErrors.CodeConflict, "export is not ready")
	}
	rc, err := x.artifacts.Open(ctx, job.ResultRef)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrExpired) {
			return nil, nil, dErrors.New(dErrors.CodeNotFound, "export has expired")
		}
		return nil, nil, dErrors.Upstream(err, "failed to open export")
	}
	return rc, job, nil
}

// Run processes queued jobs until ctx is cancelled. Jobs still queued at that
// point are marked failed.
func (x *AsyncExporter) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for range x.workers {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case id := <-x.queue:
					x.metrics.SetQueueSize(len(x.queue))
					if gctx.Err() != nil {
						x.fail(gctx, id, shutdownReason)
						return nil
					}
					x.process(gctx, id)
				}
			}
		})
	}
	err := g.Wait()
	x.drain(ctx)
	return err
}

func (x *AsyncExporter) drain(ctx context.Context) {
	for {
		select {
		case id := <-x.queue:
			x.fail(ctx, id, shutdownReason)
		default:
			x.metrics.SetQueueSize(0)
			return
		}
	}
}

// detached outlives ctx so terminal job states are recorded during shutdown.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
}

func (x *AsyncExporter) process(ctx context.Context, id string) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, x.jobTimeout)
	defer cancel()
	ctx, span := x.tracer.Start(ctx, "datatable.export_job", trace.WithAttributes(attribute.String("datatable.job_id", id)))
	defer span.End()

	job, err := x.jobs.Update(ctx, id, func(j *Job) error {
		if !j.Status.CanTransition(JobRunning) {
			return sentinel.ErrInvalidState
		}
		j.Status = JobRunning
		j.UpdatedAt = x.now()
		return nil
	})
	if err != nil {
		x.logger.WarnContext(ctx, "export job not runnable", "job_id", id, "error", err)
		return
	}
	span.SetAttributes(attribute.String("datatable.scope_key", job.ScopeKey))

	ref, rows, err := x.render(ctx, job)
	if err != nil {
		span.RecordError(err)
		x.logger.ErrorContext(ctx, "export job failed", "job_id", id, "scope_key", job.ScopeKey, "error", err)
		x.fail(ctx, id, failureReason(err))
		x.metrics.IncExportJob(job.ScopeKey, string(JobFailed))
		x.emit(ctx, job, audit.ActionExportFailed, audit.OutcomeFailure, failureReason(err))
		return
	}

	doneCtx, cancelDone := detached(ctx)
	defer cancelDone()
	_, err = x.jobs.Update(doneCtx, id, func(j *Job) error {
		if !j.Status.CanTransition(JobSucceeded) {
			return sentinel.ErrInvalidState
		}
		j.Status = JobSucceeded
		j.ResultRef = ref
		j.RowCount = rows
		j.UpdatedAt = x.now()
		return nil
	})
	if err != nil {
		x.logger.ErrorContext(ctx, "failed to record export completion", "job_id", id, "error", err)
		return
	}
	x.metrics.IncExportJob(job.ScopeKey, string(JobSucceeded))
	x.emit(ctx, job, audit.ActionExportCompleted, audit.OutcomeSuccess, "")
	x.logger.InfoContext(ctx, "export job succeeded",
		"job_id", id,
		"scope_key", job.ScopeKey,
		"rows", rows,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (x *AsyncExporter) render(ctx context.Context, job *Job) (string, int, error) {
	entry, err := x.registry.Lookup(job.ScopeKey)
	if err != nil {
		return "", 0, err
	}
	var buf bytes.Buffer
	rows, err := entry.Export(ctx, job.Request.Input, x.contextFor(job.Request), &buf)
	if err != nil {
		return "", 0, err
	}
	ttl := job.ExpiresAt.Sub(x.now())
	if ttl <= 0 {
		return "", 0, dErrors.New(dErrors.CodeTimeout, "export expired before completion")
	}
	key := fmt.Sprintf("exports/%s/%s/%s", job.ScopeKey, job.ID, job.FileName)
	ref, err := x.artifacts.Put(ctx, key, &buf, ttl)
	if err != nil {
		return "", 0, dErrors.Upstream(err, "failed to store export")
	}
	return ref, rows, nil
}

// contextFor rebuilds the submitter's Context. The actor is the permission
// snapshot taken at submission.
func (x *AsyncExporter) contextFor(req JobRequest) Context {
	dctx := Context{
		DefaultPerPage:    x.settings.DefaultPerPage,
		MaxPerPage:        x.settings.MaxPerPage,
		AppTimezone:       x.settings.AppTimezone,
		UnknownFilterMode: req.UnknownFilterMode,
	}
	if req.UserTimezone != "" {
		if loc, err := time.LoadLocation(req.UserTimezone); err == nil {
			dctx.UserTimezone = loc
		}
	}
	if req.ActorID != "" {
		a := actor.New(req.ActorID, req.Guard, req.Permissions, req.Attributes)
		a.SessionID = req.SessionID
		dctx.Actor = a
	}
	return dctx
}

func (x *AsyncExporter) fail(ctx context.Context, id, reason string) {
	ctx, cancel := detached(ctx)
	defer cancel()
	_, err := x.jobs.Update(ctx, id, func(j *Job) error {
		if !j.Status.CanTransition(JobFailed) {
			return sentinel.ErrInvalidState
		}
		j.Status = JobFailed
		j.Error = reason
		j.UpdatedAt = x.now()
		return nil
	})
	if err != nil {
		x.logger.ErrorContext(ctx, "failed to record export failure", "job_id", id, "error", err)
	}
}

func (x *AsyncExporter) emit(ctx context.Context, job *Job, action audit.Action, outcome audit.Outcome, reason string) {
	if x.auditor == nil {
		return
	}
	x.auditor.Emit(ctx, audit.Event{
		ActorID:   job.Request.ActorID,
		SessionID: job.Request.SessionID,
		Action:    action,
		Subject:   job.ScopeKey + "/" + job.ID,
		Outcome:   outcome,
		Reason:    reason,
	})
}

// failureReason is the client-safe text recorded on a failed job.
func failureReason(err error) string {
	var de *dErrors.Error
	if errors.As(err, &de) && de.Code != dErrors.CodeInternal {
		return de.Message
	}
	return "export failed"
}

func defaultFileStem(scopeKey string) string {
	return strings.ReplaceAll(scopeKey, ".", "_")
}
