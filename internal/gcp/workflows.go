package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/engineeringdocs/internal/models"
)

// WorkflowDispatcher hands each document to a Cloud Workflows execution, which
// calls the activation-worker until the document reaches a terminal state.
type WorkflowDispatcher struct {
	client *executions.Client
	parent string
	log    *slog.Logger
}

func NewWorkflowDispatcher(ctx context.Context, projectID, location, workflowID string, log *slog.Logger) (*WorkflowDispatcher, error) {
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create executions client: %w", err)
	}
	return &WorkflowDispatcher{
		client: client,
		parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
		log:    log,
	}, nil
}

func (d *WorkflowDispatcher) Dispatch(ctx context.Context, projectID, documentID string) error {
	payloadBytes, err := json.Marshal(models.AdvanceRequest{ProjectID: projectID, DocumentID: documentID})
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	exec, err := d.client.CreateExecution(ctx, &executionspb.CreateExecutionRequest{
		Parent: d.parent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	d.log.Info("Triggered activation workflow.", "projectId", projectID, "documentId", documentID, "execution", exec.GetName())
	return nil
}

func (d *WorkflowDispatcher) Close() error {
	return d.client.Close()
}
