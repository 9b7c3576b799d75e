// Package messages defines the wire-level bus messages of the paddock
// workers: one Requested and one Completed message per domain.
//
// Messages are immutable value records serialized as JSON. Decoding is
// tolerant of PascalCase bodies because encoding/json matches field
// names case-insensitively.
package messages

import (
	"time"

	"github.com/google/uuid"
)

// Correlated is implemented by messages carrying a correlation id.
// The bus copies it into the envelope's CorrelationId header.
type Correlated interface {
	Correlation() uuid.UUID
}

// BreedingRequested asks a worker to breed a foal.
type BreedingRequested struct {
	RequestID uuid.UUID `json:"requestId"`
	SireID    uuid.UUID `json:"sireId"`
	DamID     uuid.UUID `json:"damId"`
	OwnerID   uuid.UUID `json:"ownerId"`
}

func (m BreedingRequested) Correlation() uuid.UUID { return m.RequestID }

// BreedingCompleted announces a bred foal.
type BreedingCompleted struct {
	RequestID   uuid.UUID `json:"requestId"`
	SireID      uuid.UUID `json:"sireId"`
	DamID       uuid.UUID `json:"damId"`
	FoalID      uuid.UUID `json:"foalId"`
	OwnerID     uuid.UUID `json:"ownerId"`
	CompletedAt time.Time `json:"completedAt"`
}

func (m BreedingCompleted) Correlation() uuid.UUID { return m.RequestID }

// FeedingRequested asks a worker to feed a horse.
type FeedingRequested struct {
	RequestID uuid.UUID `json:"requestId"`
	HorseID   uuid.UUID `json:"horseId"`
	FeedingID uint8     `json:"feedingId"`
	SessionID uuid.UUID `json:"sessionId"`
	UserID    uuid.UUID `json:"userId"`
}

func (m FeedingRequested) Correlation() uuid.UUID { return m.RequestID }

// FeedingCompleted announces a completed feeding session.
type FeedingCompleted struct {
	RequestID        uuid.UUID `json:"requestId"`
	HorseID          uuid.UUID `json:"horseId"`
	FeedingID        uint8     `json:"feedingId"`
	SessionID        uuid.UUID `json:"sessionId"`
	FeedingSessionID uuid.UUID `json:"feedingSessionId"`
	UserID           uuid.UUID `json:"userId"`
	CompletedAt      time.Time `json:"completedAt"`
}

func (m FeedingCompleted) Correlation() uuid.UUID { return m.RequestID }

// TrainingRequested asks a worker to train a horse.
type TrainingRequested struct {
	RequestID  uuid.UUID `json:"requestId"`
	HorseID    uuid.UUID `json:"horseId"`
	TrainingID uint8     `json:"trainingId"`
	SessionID  uuid.UUID `json:"sessionId"`
	UserID     uuid.UUID `json:"userId"`
}

func (m TrainingRequested) Correlation() uuid.UUID { return m.RequestID }

// TrainingCompleted announces a completed training session.
type TrainingCompleted struct {
	RequestID         uuid.UUID `json:"requestId"`
	HorseID           uuid.UUID `json:"horseId"`
	TrainingID        uint8     `json:"trainingId"`
	SessionID         uuid.UUID `json:"sessionId"`
	TrainingSessionID uuid.UUID `json:"trainingSessionId"`
	UserID            uuid.UUID `json:"userId"`
	CompletedAt       time.Time `json:"completedAt"`
}

func (m TrainingCompleted) Correlation() uuid.UUID { return m.RequestID }

// RaceRequested asks a worker to run a race.
type RaceRequested struct {
	RequestID uuid.UUID `json:"requestId"`
	RaceID    uint8     `json:"raceId"`
	HorseID   uuid.UUID `json:"horseId"`
	OwnerID   uuid.UUID `json:"ownerId"`
}

func (m RaceRequested) Correlation() uuid.UUID { return m.RequestID }

// RaceCompleted announces a simulated race run.
type RaceCompleted struct {
	RequestID   uuid.UUID `json:"requestId"`
	RaceID      uint8     `json:"raceId"`
	HorseID     uuid.UUID `json:"horseId"`
	RaceRunID   uuid.UUID `json:"raceRunId"`
	OwnerID     uuid.UUID `json:"ownerId"`
	CompletedAt time.Time `json:"completedAt"`
}

func (m RaceCompleted) Correlation() uuid.UUID { return m.RequestID }
