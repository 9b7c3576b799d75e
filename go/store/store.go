// Package store defines the transactional repository contracts of the
// paddock workers. Implementations live in store/postgres (pgx) and
// store/memstore (tests, local development).
//
// Queries are expressed as small typed structs rather than a generic
// specification builder; each repository method maps to one query.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hoofworks/paddock/go/model"
)

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("entity not found")

// RequestQuery selects request rows for bulk replay.
type RequestQuery struct {
	// Statuses to include.
	Statuses []model.RequestStatus
	// UpdatedBefore, when set, further restricts to rows whose
	// UpdatedDate is older (the stuck-InProgress threshold).
	UpdatedBefore *time.Time
}

// Matches reports whether |status| and |updated| satisfy the query.
func (q RequestQuery) Matches(status model.RequestStatus, updated time.Time) bool {
	if q.UpdatedBefore != nil && !updated.Before(*q.UpdatedBefore) {
		return false
	}
	for _, s := range q.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// BreedingRequests is the breeding request-row repository.
type BreedingRequests interface {
	Get(ctx context.Context, id uuid.UUID) (*model.BreedingRequest, error)
	Insert(ctx context.Context, req *model.BreedingRequest) error
	Update(ctx context.Context, req *model.BreedingRequest) error
	List(ctx context.Context, q RequestQuery) ([]model.BreedingRequest, error)
}

// FeedingRequests is the feeding request-row repository.
type FeedingRequests interface {
	Get(ctx context.Context, id uuid.UUID) (*model.FeedingRequest, error)
	Insert(ctx context.Context, req *model.FeedingRequest) error
	Update(ctx context.Context, req *model.FeedingRequest) error
	List(ctx context.Context, q RequestQuery) ([]model.FeedingRequest, error)
}

// TrainingRequests is the training request-row repository.
type TrainingRequests interface {
	Get(ctx context.Context, id uuid.UUID) (*model.TrainingRequest, error)
	Insert(ctx context.Context, req *model.TrainingRequest) error
	Update(ctx context.Context, req *model.TrainingRequest) error
	List(ctx context.Context, q RequestQuery) ([]model.TrainingRequest, error)
}

// RaceRequests is the race request-row repository.
type RaceRequests interface {
	Get(ctx context.Context, id uuid.UUID) (*model.RaceRequest, error)
	Insert(ctx context.Context, req *model.RaceRequest) error
	Update(ctx context.Context, req *model.RaceRequest) error
	List(ctx context.Context, q RequestQuery) ([]model.RaceRequest, error)
}

// Horses reads and writes horses with their statistics.
type Horses interface {
	// Get loads a horse and its statistics.
	Get(ctx context.Context, id uuid.UUID) (*model.Horse, error)
	Insert(ctx context.Context, horse *model.Horse) error
	// Update persists the horse row and its statistics.
	Update(ctx context.Context, horse *model.Horse) error
	// Sample returns up to |n| horses excluding |exclude|, used to
	// field rivals for a race run.
	Sample(ctx context.Context, n int, exclude uuid.UUID) ([]model.Horse, error)
}

// Colors reads the coat-color catalog.
type Colors interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Color, error)
	List(ctx context.Context) ([]model.Color, error)
}

// Feedings reads the feed catalog.
type Feedings interface {
	Get(ctx context.Context, id uint8) (*model.Feeding, error)
}

// Trainings reads the training-program catalog.
type Trainings interface {
	Get(ctx context.Context, id uint8) (*model.Training, error)
}

// Races reads the race catalog.
type Races interface {
	Get(ctx context.Context, id uint8) (*model.Race, error)
}

// FeedingSessions writes completed feeding sessions.
type FeedingSessions interface {
	Insert(ctx context.Context, session *model.FeedingSession) error
}

// FeedingPreferences reads and writes per-horse feed preferences.
type FeedingPreferences interface {
	Get(ctx context.Context, horseID uuid.UUID, feedingID uint8) (*model.HorseFeedingPreference, error)
	Insert(ctx context.Context, pref *model.HorseFeedingPreference) error
}

// TrainingSessions writes completed training sessions.
type TrainingSessions interface {
	Insert(ctx context.Context, session *model.TrainingSession) error
}

// RaceRuns writes simulated race runs with their participants and ticks.
type RaceRuns interface {
	Insert(ctx context.Context, run *model.RaceRun) error
}

// Store aggregates the repositories behind one transactional boundary.
type Store interface {
	BreedingRequests() BreedingRequests
	FeedingRequests() FeedingRequests
	TrainingRequests() TrainingRequests
	RaceRequests() RaceRequests

	Horses() Horses
	Colors() Colors
	Feedings() Feedings
	Trainings() Trainings
	Races() Races

	FeedingSessions() FeedingSessions
	FeedingPreferences() FeedingPreferences
	TrainingSessions() TrainingSessions
	RaceRuns() RaceRuns

	// Transact runs |fn| inside one transaction: every repository
	// access through the Store handed to |fn| commits or rolls back
	// atomically. Nested Transact calls join the outer transaction.
	Transact(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
