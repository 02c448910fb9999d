package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/engineeringdocs/internal/app"
	"github.com/Lllllllleong/engineeringdocs/internal/config"
	"github.com/Lllllllleong/engineeringdocs/internal/models"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	instance *app.App
	once     sync.Once
	initErr  error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("ActivateUploadedDocument", activateUploadedDocument)
}

// main is required by the Go Functions Framework.
func main() {}

// activateUploadedDocument advances the document an uploaded object belongs to.
// Objects are expected at <projectId>/<documentId>/<filename>.
func activateUploadedDocument(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		var cfg *config.Config
		if cfg, initErr = config.Load(); initErr != nil {
			return
		}
		instance, initErr = app.BuildActivation(context.Background(), cfg, slog.Default())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	projectID, documentID, ok := documentFromObject(gcsEvent.Name)
	if !ok {
		slog.Info("Ignoring object outside the document layout.", "bucket", gcsEvent.Bucket, "object", gcsEvent.Name)
		return nil
	}

	res, err := instance.Machine.AdvanceByID(ctx, projectID, documentID)
	if err != nil {
		slog.Error("Activation could not start.", "projectId", projectID, "documentId", documentID, "error", err)
		return err
	}
	slog.Info("Activation finished.", "projectId", projectID, "documentId", documentID, "state", res.ProcessingState)
	return nil
}

func documentFromObject(name string) (projectID, documentID string, ok bool) {
	parts := strings.SplitN(name, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" || strings.HasSuffix(parts[2], "/") {
		return "", "", false
	}
	return parts[0], parts[1], true
}
