package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/engineeringdocs/internal/apperr"
	"github.com/Lllllllleong/engineeringdocs/internal/models"
)

// Progress checkpoints persisted during activation.
const (
	progressRegistered = 10
	progressPollCeil   = 95
	progressActive     = 100
)

// StateMachine drives a document from PENDING through PROCESSING to ACTIVE or
// FAILED. Only a caller that wins the PENDING claim ingests the document.
type StateMachine struct {
	store    DocumentStore
	ingestor *DocumentIngestor
	poller   *ActivationPoller
	log      *slog.Logger
}

func NewStateMachine(store DocumentStore, ingestor *DocumentIngestor, poller *ActivationPoller, log *slog.Logger) *StateMachine {
	if log == nil {
		log = slog.Default()
	}
	return &StateMachine{store: store, ingestor: ingestor, poller: poller, log: log}
}

// Advance activates doc if it is PENDING and returns the state it ended in.
// It never returns an error or panics: every failure after the claim becomes
// a FAILED transition.
func (m *StateMachine) Advance(ctx context.Context, doc *models.Document) (final models.ProcessingState) {
	if doc == nil {
		return ""
	}
	if doc.ProcessingState != models.StatePending {
		return doc.ProcessingState
	}
	logCtx := m.log.With("projectId", doc.ProjectID, "documentId", doc.ID)

	claimed, ok, err := m.store.ClaimDocument(ctx, doc.ProjectID, doc.ID)
	if err != nil {
		logCtx.Error("Failed to claim document.", "error", err)
		return doc.ProcessingState
	}
	if !ok {
		logCtx.Info("Document already claimed by another worker. Skipping.")
		if claimed != nil {
			return claimed.ProcessingState
		}
		return models.StateProcessing
	}
	logCtx.Info("Claimed document for activation.")

	var handle *models.FileHandle
	defer func() {
		if p := recover(); p != nil {
			logCtx.Error("Activation panicked.", "panic", p)
			final = m.fail(ctx, logCtx, claimed, handle, "activation panicked", fmt.Errorf("%v", p))
		}
	}()
	return m.activate(ctx, logCtx, claimed, &handle)
}

// AdvanceByID loads a document and advances it. The error is only for lookup failures.
func (m *StateMachine) AdvanceByID(ctx context.Context, projectID, documentID string) (*models.AdvanceResponse, error) {
	doc, err := m.store.GetDocument(ctx, projectID, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", documentID, err)
	}
	state := m.Advance(ctx, doc)

	resp := &models.AdvanceResponse{Status: "success", ProcessingState: state}
	if latest, err := m.store.GetDocument(ctx, projectID, documentID); err == nil {
		resp.ProcessingState = latest.ProcessingState
		resp.ActivationProgress = latest.ActivationProgress
	}
	if resp.ProcessingState == models.StateFailed {
		resp.Status = "failed"
	}
	return resp, nil
}

func (m *StateMachine) activate(ctx context.Context, logCtx *slog.Logger, doc *models.Document, handle **models.FileHandle) models.ProcessingState {
	if m.ingestor == nil || m.ingestor.registry == nil {
		return m.fail(ctx, logCtx, doc, nil, "no AI backend configured", apperr.ErrNotConfigured)
	}

	local, err := m.ingestor.EnsureLocalCopy(ctx, doc)
	if err != nil {
		return m.fail(ctx, logCtx, doc, nil, "failed to prepare local copy", err)
	}

	registered, err := m.ingestor.RegisterWithBackend(ctx, doc, local)
	if err != nil {
		return m.fail(ctx, logCtx, doc, nil, "failed to register file with backend", err)
	}
	*handle = &registered
	logCtx = logCtx.With("fileName", registered.Name)

	if err := m.store.RecordRemoteHandle(ctx, doc.ProjectID, doc.ID, registered, local.Info); err != nil {
		return m.fail(ctx, logCtx, doc, &registered, "failed to persist remote handle", err)
	}
	m.reportProgress(ctx, logCtx, doc, progressRegistered)
	logCtx.Info("Registered file with backend. Waiting for activation.", "state", registered.State)

	result := m.poller.PollUntilTerminal(ctx, registered, func(attempt, maxAttempts int) {
		m.reportProgress(ctx, logCtx, doc, pollProgress(attempt, maxAttempts))
	})
	final := result.Handle
	*handle = &final

	if !result.Active() {
		reason := fmt.Errorf("backend reported state %s", final.State)
		if result.TimedOut {
			reason = fmt.Errorf("activation did not finish after %d polls: %v", result.Attempts, result.LastErr)
		}
		return m.fail(ctx, logCtx, doc, &final, "file activation failed", reason)
	}

	if err := m.store.CompleteDocument(context.WithoutCancel(ctx), doc.ProjectID, doc.ID, models.StateActive, &final, ""); err != nil {
		logCtx.Error("Failed to persist ACTIVE state.", "error", err)
		return m.fail(ctx, logCtx, doc, &final, "failed to persist ACTIVE state", err)
	}
	logCtx.Info("Document is ACTIVE.")
	return models.StateActive
}

// fail logs the error and moves the document to FAILED with diagnostic details.
func (m *StateMachine) fail(ctx context.Context, logCtx *slog.Logger, doc *models.Document, handle *models.FileHandle, message string, originalErr error) models.ProcessingState {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	err := m.store.CompleteDocument(context.WithoutCancel(ctx), doc.ProjectID, doc.ID, models.StateFailed, handle, fullError)
	switch {
	case err == nil:
		return models.StateFailed
	case errors.Is(err, models.ErrInvalidTransition):
		logCtx.Warn("Document already left PROCESSING; keeping its terminal state.")
		if latest, gerr := m.store.GetDocument(context.WithoutCancel(ctx), doc.ProjectID, doc.ID); gerr == nil {
			return latest.ProcessingState
		}
		return models.StateFailed
	default:
		logCtx.Error("CRITICAL: Failed to update document status to FAILED after a processing error.", "updateError", err)
		return models.StateFailed
	}
}

// reportProgress persists progress opportunistically; failures are only logged.
func (m *StateMachine) reportProgress(ctx context.Context, logCtx *slog.Logger, doc *models.Document, progress int) {
	if err := m.store.UpdateActivationProgress(ctx, doc.ProjectID, doc.ID, progress); err != nil {
		logCtx.Warn("Failed to persist activation progress.", "progress", progress, "error", err)
	}
}

func pollProgress(attempt, maxAttempts int) int {
	if maxAttempts <= 0 {
		return progressRegistered
	}
	p := progressRegistered + attempt*(progressPollCeil-progressRegistered)/maxAttempts
	if p > progressPollCeil {
		p = progressPollCeil
	}
	return p
}

// Readiness derives a project's aggregate status from its documents.
func Readiness(docs []*models.Document) models.Readiness {
	if len(docs) == 0 {
		return models.ReadinessNoFiles
	}
	active := false
	for _, d := range docs {
		switch d.ProcessingState {
		case models.StatePending, models.StateProcessing:
			return models.ReadinessProcessing
		case models.StateActive:
			active = true
		}
	}
	if active {
		return models.ReadinessReady
	}
	return models.ReadinessFailed
}

func (m *StateMachine) ProjectReadiness(ctx context.Context, projectID string) (models.Readiness, error) {
	docs, err := m.store.ListDocuments(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("failed to list documents: %w", err)
	}
	return Readiness(docs), nil
}

// ListDocumentStatuses is the status polling surface. It only reads.
func (m *StateMachine) ListDocumentStatuses(ctx context.Context, projectID string) (*models.ProjectStatusResponse, error) {
	docs, err := m.store.ListDocuments(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	resp := &models.ProjectStatusResponse{
		Readiness: Readiness(docs),
		Documents: make([]models.DocumentStatus, 0, len(docs)),
	}
	for _, d := range docs {
		resp.Documents = append(resp.Documents, d.Status())
	}
	return resp, nil
}

// AdvancePending hands every PENDING document of a project to the dispatcher
// and returns the ids that were dispatched.
func (m *StateMachine) AdvancePending(ctx context.Context, projectID string, dispatcher Dispatcher) ([]string, error) {
	docs, err := m.store.ListDocuments(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	dispatched := []string{}
	var errs []error
	for _, d := range docs {
		if d.ProcessingState != models.StatePending {
			continue
		}
		if err := dispatcher.Dispatch(ctx, projectID, d.ID); err != nil {
			m.log.Error("Failed to dispatch activation.", "projectId", projectID, "documentId", d.ID, "error", err)
			errs = append(errs, fmt.Errorf("document %s: %w", d.ID, err))
			continue
		}
		dispatched = append(dispatched, d.ID)
	}
	return dispatched, errors.Join(errs...)
}
