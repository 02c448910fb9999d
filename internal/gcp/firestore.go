package gcp

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/engineeringdocs/internal/apperr"
	"github.com/Lllllllleong/engineeringdocs/internal/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const documentsCollection = "documents"

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// FirestoreStore keeps projects at {collection}/{projectId} and their documents
// at {collection}/{projectId}/documents/{documentId}. State transitions run in
// transactions so concurrent workers observe a single PENDING claim.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	if collection == "" {
		collection = "projects"
	}
	return &FirestoreStore{client: client, collection: collection}
}

func (s *FirestoreStore) projectRef(projectID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(projectID)
}

func (s *FirestoreStore) documentRef(projectID, documentID string) *firestore.DocumentRef {
	return s.projectRef(projectID).Collection(documentsCollection).Doc(documentID)
}

func (s *FirestoreStore) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	snap, err := s.projectRef(projectID).Get(ctx)
	if err != nil {
		return nil, notFound("get project", err)
	}
	var p models.Project
	if err := snap.DataTo(&p); err != nil {
		return nil, fmt.Errorf("failed to decode project %s: %w", projectID, err)
	}
	p.ID = snap.Ref.ID
	return &p, nil
}

func (s *FirestoreStore) ListDocuments(ctx context.Context, projectID string) ([]*models.Document, error) {
	snaps, err := s.projectRef(projectID).Collection(documentsCollection).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	docs := make([]*models.Document, 0, len(snaps))
	for _, snap := range snaps {
		d, err := decodeDocument(snap, projectID)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	// Documents without createdAt sort first.
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].CreatedAt.Before(docs[j].CreatedAt) })
	return docs, nil
}

func (s *FirestoreStore) GetDocument(ctx context.Context, projectID, documentID string) (*models.Document, error) {
	snap, err := s.documentRef(projectID, documentID).Get(ctx)
	if err != nil {
		return nil, notFound("get document", err)
	}
	return decodeDocument(snap, projectID)
}

func (s *FirestoreStore) ClaimDocument(ctx context.Context, projectID, documentID string) (*models.Document, bool, error) {
	ref := s.documentRef(projectID, documentID)
	var doc *models.Document
	var claimed bool
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, claimed = nil, false
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		if doc, err = decodeDocument(snap, projectID); err != nil {
			return err
		}
		if doc.ProcessingState != models.StatePending {
			return nil
		}
		claimed = true
		doc.ProcessingState = models.StateProcessing
		doc.ActivationProgress = 0
		return tx.Update(ref, []firestore.Update{
			{Path: "processingState", Value: models.StateProcessing},
			{Path: "activationProgress", Value: 0},
			{Path: "updatedAt", Value: firestore.ServerTimestamp},
		})
	})
	if err != nil {
		return nil, false, notFound("claim document", err)
	}
	return doc, claimed, nil
}

func (s *FirestoreStore) RecordRemoteHandle(ctx context.Context, projectID, documentID string, handle models.FileHandle, info models.SourceInfo) error {
	return s.transition(ctx, projectID, documentID, func(current models.ProcessingState) ([]firestore.Update, error) {
		if current != models.StateProcessing {
			return nil, models.ErrInvalidTransition
		}
		updates := []firestore.Update{
			{Path: "remoteHandle", Value: handle},
			{Path: "fileHash", Value: info.FileHash},
		}
		if info.PageCount > 0 {
			updates = append(updates, firestore.Update{Path: "pageCount", Value: info.PageCount})
		}
		return updates, nil
	})
}

func (s *FirestoreStore) CompleteDocument(ctx context.Context, projectID, documentID string, state models.ProcessingState, handle *models.FileHandle, details string) error {
	return s.transition(ctx, projectID, documentID, func(current models.ProcessingState) ([]firestore.Update, error) {
		if !state.IsTerminal() || !models.CanTransition(current, state) {
			return nil, fmt.Errorf("%s -> %s: %w", current, state, models.ErrInvalidTransition)
		}
		updates := []firestore.Update{{Path: "processingState", Value: state}}
		if handle != nil {
			updates = append(updates, firestore.Update{Path: "remoteHandle", Value: *handle})
		}
		if state == models.StateActive {
			updates = append(updates, firestore.Update{Path: "activationProgress", Value: 100})
		}
		if details != "" {
			updates = append(updates, firestore.Update{Path: "errorDetails", Value: details})
		}
		return updates, nil
	})
}

// UpdateActivationProgress is a plain write; progress is advisory.
func (s *FirestoreStore) UpdateActivationProgress(ctx context.Context, projectID, documentID string, progress int) error {
	_, err := s.documentRef(projectID, documentID).Update(ctx, []firestore.Update{
		{Path: "activationProgress", Value: progress},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
	return err
}

func (s *FirestoreStore) AppendTurns(ctx context.Context, projectID string, turns ...models.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	values := make([]interface{}, len(turns))
	for i, t := range turns {
		values[i] = t
	}
	_, err := s.projectRef(projectID).Update(ctx, []firestore.Update{
		{Path: "transcript", Value: firestore.ArrayUnion(values...)},
	})
	if err != nil {
		return fmt.Errorf("failed to append transcript turns: %w", err)
	}
	return nil
}

// transition reads the current state and applies the updates decide returns,
// inside one transaction.
func (s *FirestoreStore) transition(ctx context.Context, projectID, documentID string, decide func(models.ProcessingState) ([]firestore.Update, error)) error {
	ref := s.documentRef(projectID, documentID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		current, err := snap.DataAt("processingState")
		if err != nil {
			return fmt.Errorf("document has no processingState: %w", err)
		}
		stateStr, _ := current.(string)
		updates, err := decide(models.ProcessingState(stateStr))
		if err != nil {
			return err
		}
		updates = append(updates, firestore.Update{Path: "updatedAt", Value: firestore.ServerTimestamp})
		return tx.Update(ref, updates)
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			return err
		}
		return notFound("update document state", err)
	}
	return nil
}

func decodeDocument(snap *firestore.DocumentSnapshot, projectID string) (*models.Document, error) {
	var d models.Document
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", snap.Ref.ID, err)
	}
	d.ID = snap.Ref.ID
	if d.ProjectID == "" {
		d.ProjectID = projectID
	}
	return &d, nil
}

// notFound maps a gRPC NotFound to apperr.ErrNotFound and wraps anything else.
func notFound(op string, err error) error {
	if status.Code(err) == codes.NotFound {
		return apperr.New(apperr.CategoryNotFound, op, fmt.Errorf("%w: %v", apperr.ErrNotFound, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}
