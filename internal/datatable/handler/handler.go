// Package handler exposes a scoped contract over HTTP: listing, meta, async
// export with polling and download, and email export.
package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"backoffice/internal/actor"
	"backoffice/internal/datatable"
	dErrors "backoffice/pkg/domain-errors"
	"backoffice/pkg/platform/httputil"
	"backoffice/pkg/requestcontext"
)

// Deps are shared by every contract mounted in a process.
type Deps struct {
	Engine   *datatable.Engine
	Registry *datatable.Registry
	Async    *datatable.AsyncExporter
	Email    *datatable.EmailExporter
	Settings datatable.Settings
	Logger   *slog.Logger
}

// Handler serves one scoped contract. R is the row type, Q the listing request
// and E the email export request.
type Handler[R, Q, E any] struct {
	contract datatable.ScopedContract[Q, E]
	deps     Deps
}

func New[R, Q, E any](contract datatable.ScopedContract[Q, E], deps Deps) *Handler[R, Q, E] {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handler[R, Q, E]{contract: contract, deps: deps}
}

// Register mounts the contract routes relative to the router's base path.
func (h *Handler[R, Q, E]) Register(r chi.Router) {
	r.Post("/query", h.HandleQuery)
	r.Get("/meta", h.HandleMeta)
	r.Post("/export", h.HandleExport)
	r.Get("/export/{jobID}", h.HandleExportStatus)
	r.Get("/export/{jobID}/download", h.HandleExportDownload)
	r.Post("/export/email", h.HandleEmailExport)
}

// HandleQuery handles POST <base>/query.
func (h *Handler[R, Q, E]) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[Q](w, r, h.deps.Logger)
	if !ok {
		return
	}
	page, err := datatable.List[R](ctx, h.deps.Engine, h.deps.Registry, h.contract, *req, h.deps.Settings.ContextFor(r))
	if err != nil {
		h.logFailure(r, "datatable query failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

// HandleMeta handles GET <base>/meta.
func (h *Handler[R, Q, E]) HandleMeta(w http.ResponseWriter, r *http.Request) {
	entry, err := h.deps.Registry.Lookup(h.contract.ScopeKey())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry.Meta(h.deps.Settings.ContextFor(r)))
}

// HandleExport handles POST <base>/export. The job runs in the background;
// the response carries its id and status URL.
func (h *Handler[R, Q, E]) HandleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[Q](w, r, h.deps.Logger)
	if !ok {
		return
	}
	job, err := datatable.SubmitExport(ctx, h.deps.Async, h.contract, *req, h.deps.Settings.ContextFor(r))
	if err != nil {
		h.logFailure(r, "export submission failed", err)
		httputil.WriteError(w, err)
		return
	}
	base := strings.TrimSuffix(r.URL.Path, "/")
	httputil.WriteJSON(w, http.StatusAccepted, toJobResponse(job, base+"/"+job.ID))
}

// HandleExportStatus handles GET <base>/export/{jobID}.
func (h *Handler[R, Q, E]) HandleExportStatus(w http.ResponseWriter, r *http.Request) {
	a := actor.FromContext(r.Context())
	if a == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	job, err := h.deps.Async.Poll(r.Context(), chi.URLParam(r, "jobID"), a.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toJobResponse(job, strings.TrimSuffix(r.URL.Path, "/")))
}

// HandleExportDownload handles GET <base>/export/{jobID}/download.
func (h *Handler[R, Q, E]) HandleExportDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a := actor.FromContext(ctx)
	if a == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	rc, job, err := h.deps.Async.Open(ctx, chi.URLParam(r, "jobID"), a.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", job.FileName))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.deps.Logger.ErrorContext(ctx, "export download interrupted",
			"request_id", requestcontext.RequestID(ctx),
			"job_id", job.ID,
			"error", err,
		)
	}
}

// HandleEmailExport handles POST <base>/export/email.
func (h *Handler[R, Q, E]) HandleEmailExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[E](w, r, h.deps.Logger)
	if !ok {
		return
	}
	delivered, err := datatable.RunEmailExport(ctx, h.deps.Email, h.contract, *req, h.deps.Settings.ContextFor(r))
	if err != nil {
		h.logFailure(r, "email export failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"delivered": delivered})
}

func (h *Handler[R, Q, E]) logFailure(r *http.Request, msg string, err error) {
	ctx := r.Context()
	level := slog.LevelWarn
	if dErrors.CodeOf(err) == dErrors.CodeInternal || dErrors.IsRetryable(err) {
		level = slog.LevelError
	}
	h.deps.Logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"scope_key", h.contract.ScopeKey(),
		"error", err,
	)
}

type jobResponse struct {
	ID          string    `json:"id"`
	ScopeKey    string    `json:"scope_key"`
	Status      string    `json:"status"`
	RowCount    int       `json:"row_count"`
	FileName    string    `json:"file_name"`
	StatusURL   string    `json:"status_url"`
	DownloadURL string    `json:"download_url,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func toJobResponse(job *datatable.Job, statusURL string) jobResponse {
	resp := jobResponse{
		ID:        job.ID,
		ScopeKey:  job.ScopeKey,
		Status:    string(job.Status),
		RowCount:  job.RowCount,
		FileName:  job.FileName,
		StatusURL: statusURL,
		Error:     job.Error,
		CreatedAt: job.CreatedAt,
		ExpiresAt: job.ExpiresAt,
	}
	if job.Status == datatable.JobSucceeded {
		resp.DownloadURL = statusURL + "/download"
	}
	return resp
}
