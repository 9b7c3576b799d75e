// Package model holds the persisted entities of the paddock game:
// per-domain request rows tracking asynchronous operations, and the
// horses, sessions and runs those operations produce.
package model

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus is the lifecycle state of an asynchronous request row.
type RequestStatus int

const (
	StatusPending RequestStatus = iota
	StatusInProgress
	StatusCompleted
	StatusFailed
)

func (s RequestStatus) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusInProgress:
		return "InProgress"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the status admits no further processing.
// Failed rows are revivable via replay and are not terminal.
func (s RequestStatus) Terminal() bool { return s == StatusCompleted }

// ServiceType tags a domain for operator tooling (replay dispatch).
type ServiceType string

const (
	ServiceBreeding ServiceType = "Breeding"
	ServiceFeeding  ServiceType = "Feeding"
	ServiceTraining ServiceType = "Training"
	ServiceRacing   ServiceType = "Racing"
)

// BreedingRequest tracks one breed-a-foal operation.
// RequestId is client-supplied and doubles as the idempotency token.
type BreedingRequest struct {
	RequestID     uuid.UUID
	Status        RequestStatus
	SireID        uuid.UUID
	DamID         uuid.UUID
	OwnerID       uuid.UUID
	FoalID        *uuid.UUID
	FailureReason string
	CreatedDate   time.Time
	UpdatedDate   time.Time
	ProcessedDate *time.Time
}

// FeedingRequest tracks one feed-a-horse operation. SessionId is the
// idempotency token carried by the message; RequestId keys the row.
type FeedingRequest struct {
	RequestID        uuid.UUID
	Status           RequestStatus
	HorseID          uuid.UUID
	FeedingID        uint8
	SessionID        uuid.UUID
	UserID           uuid.UUID
	FeedingSessionID *uuid.UUID
	FailureReason    string
	CreatedDate      time.Time
	UpdatedDate      time.Time
	ProcessedDate    *time.Time
}

// TrainingRequest tracks one train-a-horse operation.
type TrainingRequest struct {
	RequestID         uuid.UUID
	Status            RequestStatus
	HorseID           uuid.UUID
	TrainingID        uint8
	SessionID         uuid.UUID
	UserID            uuid.UUID
	TrainingSessionID *uuid.UUID
	FailureReason     string
	CreatedDate       time.Time
	UpdatedDate       time.Time
	ProcessedDate     *time.Time
}

// RaceRequest tracks one run-a-race operation. Its RequestId is
// generated server-side rather than client-supplied.
type RaceRequest struct {
	RequestID     uuid.UUID
	Status        RequestStatus
	RaceID        uint8
	HorseID       uuid.UUID
	OwnerID       uuid.UUID
	RaceRunID     *uuid.UUID
	FailureReason string
	CreatedDate   time.Time
	UpdatedDate   time.Time
	ProcessedDate *time.Time
}
