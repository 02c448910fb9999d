package models

// These structs define the JSON payloads exchanged with clients, the Cloud
// Workflow that drives activation, and the object-finalize trigger.

// GCSEvent is the payload of a storage object-finalize CloudEvent.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        string `json:"size"`
}

// AdvanceRequest is the input for the activation-worker function.
type AdvanceRequest struct {
	ProjectID   string `json:"projectId"`
	DocumentID  string `json:"documentId"`
	ExecutionID string `json:"executionId,omitempty"`
}

// AdvanceResponse reports the state a document reached after an advance call.
type AdvanceResponse struct {
	Status             string          `json:"status"`
	ProcessingState    ProcessingState `json:"processingState"`
	ActivationProgress int             `json:"activationProgress"`
}

// ProjectStatusResponse is the status polling surface for one project.
type ProjectStatusResponse struct {
	Readiness Readiness        `json:"readiness"`
	Documents []DocumentStatus `json:"documents"`
}

// ChatRequest is the input for one chat turn.
type ChatRequest struct {
	Message string `json:"message"`
	History []Turn `json:"history,omitempty"`
}

// DispatchResponse lists documents handed to the activation dispatcher.
type DispatchResponse struct {
	Dispatched []string `json:"dispatched"`
}
