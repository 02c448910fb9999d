package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Lllllllleong/engineeringdocs/internal/models"
	"github.com/Lllllllleong/engineeringdocs/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// maxChatBody bounds a chat request body.
const maxChatBody = 64 << 10

type ProjectReader interface {
	GetProject(ctx context.Context, projectID string) (*models.Project, error)
	GetDocument(ctx context.Context, projectID, documentID string) (*models.Document, error)
}

type Activator interface {
	ListDocumentStatuses(ctx context.Context, projectID string) (*models.ProjectStatusResponse, error)
	AdvancePending(ctx context.Context, projectID string, dispatcher services.Dispatcher) ([]string, error)
}

type ReportStarter interface {
	Generate(ctx context.Context, project *models.Project, kind models.ReportKind) *services.ProgressReporter
}

type ChatResponder interface {
	Respond(ctx context.Context, project *models.Project, message string, recentHistory []models.Turn) <-chan string
}

type Handlers struct {
	projects   ProjectReader
	activation Activator
	dispatcher services.Dispatcher
	reports    ReportStarter
	chat       ChatResponder
	guard      ReportGuard
	log        *slog.Logger
	heartbeat  time.Duration
}

// project loads the path's project and checks the caller may use it. It
// writes the error response itself and returns nil on failure.
func (h *Handlers) project(w http.ResponseWriter, r *http.Request) *models.Project {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "A signed-in account or guest session is required.")
		return nil
	}
	projectID := chi.URLParam(r, "projectID")
	p, err := h.projects.GetProject(r.Context(), projectID)
	if err != nil {
		h.log.Warn("Failed to load project.", "projectId", projectID, "error", err)
		respondErr(w, err, "Could not load the project.")
		return nil
	}
	if !id.CanAccess(p) {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "You do not have access to this project.")
		return nil
	}
	return p
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// IssueGuestSession hands out a new anonymous session id.
func (h *Handlers) IssueGuestSession(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     GuestCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	respondJSON(w, http.StatusCreated, map[string]string{"guestId": id})
}

func (h *Handlers) DocumentStatuses(w http.ResponseWriter, r *http.Request) {
	p := h.project(w, r)
	if p == nil {
		return
	}
	resp, err := h.activation.ListDocumentStatuses(r.Context(), p.ID)
	if err != nil {
		h.log.Error("Failed to list document statuses.", "projectId", p.ID, "error", err)
		respondErr(w, err, "Could not load document statuses.")
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) ActivateDocument(w http.ResponseWriter, r *http.Request) {
	p := h.project(w, r)
	if p == nil {
		return
	}
	documentID := chi.URLParam(r, "documentID")
	doc, err := h.projects.GetDocument(r.Context(), p.ID, documentID)
	if err != nil {
		respondErr(w, err, "Could not load the document.")
		return
	}
	if doc.ProcessingState != models.StatePending {
		respondJSON(w, http.StatusOK, models.AdvanceResponse{
			Status:             "skipped",
			ProcessingState:    doc.ProcessingState,
			ActivationProgress: doc.ActivationProgress,
		})
		return
	}
	if err := h.dispatcher.Dispatch(r.Context(), p.ID, doc.ID); err != nil {
		h.log.Error("Failed to dispatch activation.", "projectId", p.ID, "documentId", doc.ID, "error", err)
		respondErr(w, err, "Could not start document activation.")
		return
	}
	respondJSON(w, http.StatusAccepted, models.DispatchResponse{Dispatched: []string{doc.ID}})
}

func (h *Handlers) ActivateProject(w http.ResponseWriter, r *http.Request) {
	p := h.project(w, r)
	if p == nil {
		return
	}
	dispatched, err := h.activation.AdvancePending(r.Context(), p.ID, h.dispatcher)
	if err != nil && len(dispatched) == 0 {
		respondErr(w, err, "Could not start document activation.")
		return
	}
	if err != nil {
		h.log.Warn("Some documents were not dispatched.", "projectId", p.ID, "error", err)
	}
	respondJSON(w, http.StatusAccepted, models.DispatchResponse{Dispatched: dispatched})
}

// StreamReport starts a report run and relays its progress as server-sent
// events. A second stream for the same project and kind gets 409.
func (h *Handlers) StreamReport(w http.ResponseWriter, r *http.Request) {
	p := h.project(w, r)
	if p == nil {
		return
	}
	kind, err := models.ParseReportKind(chi.URLParam(r, "kind"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REPORT_KIND", err.Error())
		return
	}
	logCtx := h.log.With("projectId", p.ID, "kind", kind)

	release, acquired, err := h.guard.Acquire(r.Context(), p.ID+":"+string(kind))
	switch {
	case err != nil:
		logCtx.Warn("Report guard unavailable, continuing without it.", "error", err)
		release = func() {}
	case !acquired:
		respondError(w, http.StatusConflict, "REPORT_IN_PROGRESS", "A report of this kind is already being generated for this project.")
		return
	}

	// The run outlives a disconnected client; the guard is held until its
	// terminal event.
	reporter := h.reports.Generate(context.WithoutCancel(r.Context()), p, kind)
	go func() {
		<-reporter.Done()
		release()
	}()
	streamProgress(r.Context(), w, reporter, h.heartbeat, logCtx)
}

// Chat streams the model reply as plain text chunks.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	p := h.project(w, r)
	if p == nil {
		return
	}
	var req models.ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxChatBody)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "Request body must be JSON with a message.")
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "Message must not be empty.")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "Streaming unsupported.")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	for chunk := range h.chat.Respond(r.Context(), p, req.Message, req.History) {
		if _, err := io.WriteString(w, chunk); err != nil {
			if !errors.Is(r.Context().Err(), context.Canceled) {
				h.log.Warn("Failed to write chat chunk.", "projectId", p.ID, "error", err)
			}
			continue
		}
		flusher.Flush()
	}
}
