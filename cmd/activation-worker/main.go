package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/engineeringdocs/internal/app"
	"github.com/Lllllllleong/engineeringdocs/internal/apperr"
	"github.com/Lllllllleong/engineeringdocs/internal/config"
	"github.com/Lllllllleong/engineeringdocs/internal/models"
)

// advancer is the part of the state machine this function drives.
type advancer interface {
	AdvanceByID(ctx context.Context, projectID, documentID string) (*models.AdvanceResponse, error)
}

var (
	machine advancer
	once    sync.Once
	initErr error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Called by the activation workflow once per document.
	functions.HTTP("AdvanceDocument", handleAdvanceDocument)
}

// main is required by the Go Functions Framework.
func main() {}

func handleAdvanceDocument(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		var cfg *config.Config
		if cfg, initErr = config.Load(); initErr != nil {
			return
		}
		var a *app.App
		if a, initErr = app.BuildActivation(context.Background(), cfg, slog.Default()); initErr == nil {
			machine = a.Machine
		}
	})
	if initErr != nil {
		slog.Error("CRITICAL: activation worker initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	serveAdvance(w, r, machine)
}

func serveAdvance(w http.ResponseWriter, r *http.Request, m advancer) {
	var req models.AdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	if req.ProjectID == "" || req.DocumentID == "" {
		http.Error(w, "Bad Request: projectId and documentId are required", http.StatusBadRequest)
		return
	}
	logCtx := slog.With("projectId", req.ProjectID, "documentId", req.DocumentID, "executionId", req.ExecutionID)

	res, err := m.AdvanceByID(r.Context(), req.ProjectID, req.DocumentID)
	if err != nil {
		logCtx.Error("Advance failed", "error", err)
		if apperr.CategoryOf(err) == apperr.CategoryNotFound {
			http.Error(w, "Not Found: document does not exist", http.StatusNotFound)
			return
		}
		// The workflow retries on 5xx.
		http.Error(w, "Internal Server Error: processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		logCtx.Error("Failed to write response", "error", err)
	}
}
