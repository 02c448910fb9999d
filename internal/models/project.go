package models

import "time"

// TurnRole identifies the speaker of a transcript turn.
type TurnRole string

const (
	RoleUser  TurnRole = "user"
	RoleModel TurnRole = "model"
)

// Turn is one entry in a project's conversation transcript.
type Turn struct {
	Role      TurnRole  `firestore:"role" json:"role"`
	Text      string    `firestore:"text" json:"text"`
	CreatedAt time.Time `firestore:"createdAt,omitempty" json:"createdAt,omitempty"`
}

// Project aggregates Documents and a conversation transcript.
// Exactly one of OwnerID or GuestID is expected to be set.
type Project struct {
	ID         string    `firestore:"-" json:"id"`
	Name       string    `firestore:"name" json:"name"`
	OwnerID    string    `firestore:"ownerId,omitempty" json:"ownerId,omitempty"`
	GuestID    string    `firestore:"guestId,omitempty" json:"-"`
	Transcript []Turn    `firestore:"transcript,omitempty" json:"transcript,omitempty"`
	CreatedAt  time.Time `firestore:"createdAt,omitempty" json:"createdAt"`
}

// Readiness is the aggregate status of a project derived from its documents.
type Readiness string

const (
	ReadinessNoFiles    Readiness = "no_files"
	ReadinessProcessing Readiness = "processing"
	ReadinessReady      Readiness = "ready"
	ReadinessFailed     Readiness = "failed"
)
