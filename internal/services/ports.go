package services

import (
	"context"
	"io"
	"time"

	"github.com/Lllllllleong/engineeringdocs/internal/models"
)

// DocumentStore is the entity store for projects, documents and transcripts.
// Implementations must make ClaimDocument, RecordRemoteHandle and
// CompleteDocument atomic with respect to the document's processing state.
type DocumentStore interface {
	GetProject(ctx context.Context, projectID string) (*models.Project, error)
	ListDocuments(ctx context.Context, projectID string) ([]*models.Document, error)
	GetDocument(ctx context.Context, projectID, documentID string) (*models.Document, error)

	// ClaimDocument moves a PENDING document to PROCESSING. claimed is false
	// when the document was not PENDING at commit time.
	ClaimDocument(ctx context.Context, projectID, documentID string) (doc *models.Document, claimed bool, err error)
	// RecordRemoteHandle stores the backend handle of a PROCESSING document.
	RecordRemoteHandle(ctx context.Context, projectID, documentID string, handle models.FileHandle, info models.SourceInfo) error
	// CompleteDocument moves a PROCESSING document to ACTIVE or FAILED and
	// returns models.ErrInvalidTransition for any other edge.
	CompleteDocument(ctx context.Context, projectID, documentID string, state models.ProcessingState, handle *models.FileHandle, details string) error
	UpdateActivationProgress(ctx context.Context, projectID, documentID string, progress int) error

	AppendTurns(ctx context.Context, projectID string, turns ...models.Turn) error
}

// ObjectStore reads and writes scheme://bucket/key addressed objects.
type ObjectStore interface {
	Download(ctx context.Context, locator string) ([]byte, error)
	Upload(ctx context.Context, data []byte, locator, contentType string) error
	SignedURL(ctx context.Context, locator string, ttl time.Duration) (string, error)
}

// Generator runs single-shot and streaming generation against the AI backend.
type Generator interface {
	Generate(ctx context.Context, req models.GenerationRequest) (string, error)
	GenerateStream(ctx context.Context, req models.GenerationRequest) (models.TextStream, error)
}

// FileRegistry is the AI backend's file store.
type FileRegistry interface {
	RegisterFile(ctx context.Context, r io.Reader, mimeType, displayName string) (models.FileHandle, error)
	GetFile(ctx context.Context, name string) (models.FileHandle, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SimilaritySearcher returns the topK passages closest to vector. filter keys
// are metadata fields that must match exactly.
type SimilaritySearcher interface {
	Query(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]models.Match, error)
}

type Renderer interface {
	RenderToDocument(ctx context.Context, markup string, opts models.RenderOptions) ([]byte, error)
}
