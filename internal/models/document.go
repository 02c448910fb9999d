package models

import (
	"errors"
	"time"
)

// ProcessingState is the lifecycle position of a single Document.
type ProcessingState string

const (
	StatePending    ProcessingState = "PENDING"
	StateProcessing ProcessingState = "PROCESSING"
	StateActive     ProcessingState = "ACTIVE"
	StateFailed     ProcessingState = "FAILED"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s ProcessingState) IsTerminal() bool {
	return s == StateActive || s == StateFailed
}

// Document represents one uploaded engineering file and its processing metadata in Firestore.
// It lives under projects/{projectId}/documents/{id}.
type Document struct {
	ID                 string          `firestore:"-" json:"id"`
	ProjectID          string          `firestore:"projectId" json:"projectId"`
	OriginalFilename   string          `firestore:"originalFilename,omitempty" json:"originalFilename,omitempty"`
	StorageLocator     string          `firestore:"storageLocator,omitempty" json:"storageLocator,omitempty"`
	SizeBytes          int64           `firestore:"sizeBytes,omitempty" json:"sizeBytes,omitempty"`
	MediaType          string          `firestore:"mediaType,omitempty" json:"mediaType,omitempty"`
	ProcessingState    ProcessingState `firestore:"processingState" json:"processingState"`
	RemoteHandle       *FileHandle     `firestore:"remoteHandle,omitempty" json:"remoteHandle,omitempty"`
	ActivationProgress int             `firestore:"activationProgress" json:"activationProgress"`
	FileHash           string          `firestore:"fileHash,omitempty" json:"-"`
	PageCount          int             `firestore:"pageCount,omitempty" json:"pageCount,omitempty"`
	ErrorDetails       string          `firestore:"errorDetails,omitempty" json:"-"` // diagnostic only
	CreatedAt          time.Time       `firestore:"createdAt,omitempty" json:"createdAt"`
	UpdatedAt          time.Time       `firestore:"updatedAt,omitempty" json:"updatedAt"`
}

// HasSource reports whether the document can be fetched from object storage.
func (d *Document) HasSource() bool {
	return d != nil && d.StorageLocator != ""
}

// DocumentStatus is one entry of the status polling surface.
type DocumentStatus struct {
	ID                 string          `json:"id"`
	ProcessingState    ProcessingState `json:"processingState"`
	ActivationProgress int             `json:"activationProgress"`
}

// Status projects the document onto its polling view.
func (d *Document) Status() DocumentStatus {
	return DocumentStatus{
		ID:                 d.ID,
		ProcessingState:    d.ProcessingState,
		ActivationProgress: d.ActivationProgress,
	}
}

// ErrInvalidTransition is returned by a store asked to move a document along
// an edge the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid processing state transition")

// CanTransition reports whether from -> to is a legal lifecycle edge.
// ACTIVE and FAILED have no outgoing edges.
func CanTransition(from, to ProcessingState) bool {
	switch from {
	case StatePending:
		return to == StateProcessing
	case StateProcessing:
		return to == StateActive || to == StateFailed
	default:
		return false
	}
}

// SourceInfo describes the local copy an ingestion produced.
type SourceInfo struct {
	FileHash  string
	PageCount int
}
